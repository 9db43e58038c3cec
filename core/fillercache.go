package orchestration

import (
	"context"
	"fmt"
	"sync"

	"github.com/voicewire/voicewire-core/core/audio"
	"github.com/voicewire/voicewire-core/core/synthesize"
)

// FillerCache holds pre-rendered filler phrase audio so a filler can start
// playing without waiting on synthesis.
type FillerCache struct {
	mu      sync.RWMutex
	phrases map[string][]byte
}

// NewFillerCache returns an empty cache.
func NewFillerCache() *FillerCache {
	return &FillerCache{phrases: make(map[string][]byte)}
}

// Put stores the rendered audio for a phrase, replacing any previous take.
func (c *FillerCache) Put(phrase string, audioData []byte) {
	c.mu.Lock()
	c.phrases[phrase] = audioData
	c.mu.Unlock()
}

// Get returns the rendered audio for a phrase.
func (c *FillerCache) Get(phrase string) ([]byte, bool) {
	c.mu.RLock()
	audioData, ok := c.phrases[phrase]
	c.mu.RUnlock()
	return audioData, ok
}

// Warm renders each phrase through the synthesizer and stores the result.
// Phrases are rendered one at a time; the first failure aborts the warmup.
func (c *FillerCache) Warm(
	ctx context.Context,
	synthesizer synthesize.Synthesizer,
	encodingInfo audio.EncodingInfo,
	phrases ...string,
) error {
	for _, phrase := range phrases {
		audioData, err := renderPhrase(ctx, synthesizer, encodingInfo, phrase)
		if err != nil {
			return fmt.Errorf("failed to pre-render filler phrase %q: %w", phrase, err)
		}
		c.Put(phrase, audioData)
	}
	return nil
}

func renderPhrase(
	ctx context.Context,
	synthesizer synthesize.Synthesizer,
	encodingInfo audio.EncodingInfo,
	phrase string,
) ([]byte, error) {
	var (
		mu       sync.Mutex
		rendered []byte
	)
	done := make(chan struct{})
	failed := make(chan error, 1)

	stream, err := synthesizer.OpenStream(ctx,
		synthesize.WithEncodingInfo(encodingInfo),
		synthesize.WithAudioCallback(func(audioData []byte) {
			mu.Lock()
			rendered = append(rendered, audioData...)
			mu.Unlock()
		}),
		synthesize.WithSpeechEndedCallback(func() { close(done) }),
		synthesize.WithErrorCallback(func(err error) {
			select {
			case failed <- err:
			default:
			}
		}),
	)
	if err != nil {
		return nil, err
	}

	if err := stream.SendText(phrase); err != nil {
		stream.Cancel()
		return nil, err
	}
	if err := stream.EndOfText(); err != nil {
		stream.Cancel()
		return nil, err
	}

	select {
	case <-ctx.Done():
		stream.Cancel()
		return nil, ctx.Err()
	case err := <-failed:
		stream.Cancel()
		return nil, err
	case <-done:
	}

	mu.Lock()
	defer mu.Unlock()
	return rendered, nil
}
