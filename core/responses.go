package orchestration

import (
	"context"
	"fmt"

	"github.com/voicewire/voicewire-core/core/agents"
	"github.com/voicewire/voicewire-core/core/audio"
	"github.com/voicewire/voicewire-core/core/pipeline"
	"github.com/voicewire/voicewire-core/core/synthesize"
)

// processResponse is the response worker: it turns the agent's ordered output
// into synthesis and playback.
func (c *Conversation) processResponse(ctx context.Context, event *pipeline.Event[agents.Response]) error {
	switch response := event.Payload.(type) {
	case agents.Message:
		return c.speak(ctx, response.Text)
	case agents.FillerAudio:
		return c.playFiller(response.Phrase)
	case agents.GenerationComplete:
		return c.finishSpeech()
	case agents.Stop:
		logger.InfoContext(ctx, "Agent requested end of conversation")
		go c.Terminate()
		return nil
	default:
		return fmt.Errorf("unknown agent response type %T", response)
	}
}

// speak forwards one piece of response text to the synthesis stream, opening
// the stream lazily on the turn's first message.
func (c *Conversation) speak(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}

	stream, err := c.currentSynthStream(ctx)
	if err != nil {
		return err
	}

	c.setState(StateBotSpeaking)

	if err := stream.SendText(text); err != nil {
		return fmt.Errorf("failed to send text to synthesizer: %w", err)
	}
	if endsSentence(text) {
		if err := stream.Flush(); err != nil {
			return fmt.Errorf("failed to flush synthesizer segment: %w", err)
		}
	}
	return nil
}

// currentSynthStream returns the turn's synthesis stream, opening one if none
// is live.
func (c *Conversation) currentSynthStream(ctx context.Context) (synthesize.Stream, error) {
	c.synthMu.Lock()
	defer c.synthMu.Unlock()

	if c.synthStream != nil {
		return c.synthStream, nil
	}

	stream, err := c.synthesizer.OpenStream(ctx,
		synthesize.WithEncodingInfo(c.device.EncodingInfo()),
		synthesize.WithAudioCallback(c.enqueueSpeech),
		synthesize.WithSegmentEndedCallback(func(segment string) {
			logger.DebugContext(ctx, "Synthesis segment rendered", "segment", segment)
			c.noteSegmentEnd(segment)
		}),
		synthesize.WithSpeechEndedCallback(c.onSpeechEnded),
		synthesize.WithErrorCallback(func(err error) {
			c.onError(fmt.Errorf("synthesis stream failed: %w", err))
			go c.Terminate()
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open synthesis stream: %w", err)
	}
	c.synthStream = stream
	c.synthesisEnded = false
	return stream, nil
}

// enqueueSpeech wraps one piece of rendered audio and hands it to the
// playback worker.
func (c *Conversation) enqueueSpeech(audioData []byte) {
	if len(audioData) == 0 {
		return
	}
	var chunk *audio.Chunk
	chunk = audio.NewChunk(audioData,
		audio.WithOnPlay(func() { c.confirmSpoken(chunk.ID) }),
		audio.WithOnInterrupt(func() { c.dropSpokenBoundary(chunk.ID) }),
	)

	c.spokenMu.Lock()
	c.lastChunk = chunk
	c.spokenMu.Unlock()

	event := pipeline.NewEvent(chunk)
	c.registry.Track(event)
	c.player.Enqueue(event)
}

// noteSegmentEnd pins a rendered segment's text to the last audio chunk it
// produced. The text is confirmed spoken once that chunk plays; a chunk that
// already played (or was interrupted) resolves immediately.
func (c *Conversation) noteSegmentEnd(segment string) {
	if segment == "" {
		return
	}
	c.spokenMu.Lock()
	chunk := c.lastChunk
	if chunk == nil {
		c.spokenMu.Unlock()
		return
	}
	switch chunk.State() {
	case audio.ChunkPlayed:
		c.spoken = append(c.spoken, segment)
	case audio.ChunkUnplayed:
		c.segmentBoundaries[chunk.ID] = append(c.segmentBoundaries[chunk.ID], segment)
	case audio.ChunkInterrupted:
		// Cut off before delivery; the caller never heard it.
	}
	c.spokenMu.Unlock()
}

func (c *Conversation) confirmSpoken(chunkID string) {
	c.spokenMu.Lock()
	if segments, ok := c.segmentBoundaries[chunkID]; ok {
		delete(c.segmentBoundaries, chunkID)
		c.spoken = append(c.spoken, segments...)
	}
	c.spokenMu.Unlock()
}

func (c *Conversation) dropSpokenBoundary(chunkID string) {
	c.spokenMu.Lock()
	delete(c.segmentBoundaries, chunkID)
	c.spokenMu.Unlock()
}

// onSpeechEnded runs when the synthesis stream has rendered the whole
// message. Playback may still be draining; the transition back to listening
// waits for the player to go idle.
func (c *Conversation) onSpeechEnded() {
	c.synthMu.Lock()
	c.synthStream = nil
	c.synthesisEnded = true
	c.synthMu.Unlock()

	if c.player.Pending() == 0 && c.State() == StateBotSpeaking {
		c.setState(StateListening)
	}
}

// finishSpeech declares the turn's text complete. With no stream open (the
// agent produced no speakable text) the turn goes straight back to listening.
func (c *Conversation) finishSpeech() error {
	c.synthMu.Lock()
	stream := c.synthStream
	c.synthMu.Unlock()

	if stream == nil {
		if c.State() == StateAgentThinking {
			c.setState(StateListening)
		}
		return nil
	}
	// EndOfText may fire SpeechEndedCallback synchronously, so it must run
	// outside synthMu.
	if err := stream.EndOfText(); err != nil {
		return fmt.Errorf("failed to end synthesis stream: %w", err)
	}
	return nil
}

// abortSynthesis drops the live synthesis stream without rendering what is
// left of it.
func (c *Conversation) abortSynthesis() {
	c.synthMu.Lock()
	stream := c.synthStream
	c.synthStream = nil
	c.synthesisEnded = false
	c.synthMu.Unlock()

	if stream == nil {
		return
	}
	if err := stream.Cancel(); err != nil {
		c.onError(fmt.Errorf("failed to cancel synthesis stream: %w", err))
	}
}

// playFiller plays a pre-rendered filler phrase while the agent is thinking.
// Phrases missing from the cache are skipped silently; filler audio is best
// effort.
func (c *Conversation) playFiller(phrase string) error {
	if c.fillers == nil {
		return nil
	}
	audioData, ok := c.fillers.Get(phrase)
	if !ok {
		logger.Warn("Filler phrase not pre-rendered, skipping", "phrase", phrase)
		return nil
	}
	chunk := audio.NewChunk(audioData)
	event := pipeline.NewEvent(chunk)
	c.registry.Track(event)
	c.player.Enqueue(event)
	return nil
}
