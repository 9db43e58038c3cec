// Package transcribe defines the boundary to a streaming speech recognizer.
package transcribe

import (
	"context"
	"time"

	"github.com/voicewire/voicewire-core/core/audio"
)

// Transcription is one recognizer result.
//
// Interim and final results for the same utterance arrive as separate values;
// each final result supersedes the interim ones before it. A vendor-native
// utterance-end signal arrives as a result with no message and UtteranceEnd
// set.
type Transcription struct {
	Message      string
	Confidence   float64
	IsFinal      bool
	SpeechFinal  bool
	UtteranceEnd bool
	Duration     time.Duration
}

// Transcriber is a streaming recognizer. Implementations deliver results
// through the callbacks registered on Transcribe and may additionally expose
// Close(context.Context) error and Mute(bool), which callers probe for.
type Transcriber interface {
	Transcribe(ctx context.Context, opts ...Option) error
	SendAudio(audio []byte) error
}

// Options collects the per-stream callbacks.
type Options struct {
	// ResultCallback receives every recognizer result, including interim
	// results and empty fragments; the empty ones matter for silence
	// accounting downstream.
	ResultCallback func(result Transcription)

	SpeechStartedCallback func()

	// FatalCallback fires when the recognizer leg dies for good, after the
	// implementation's reconnect budget is spent.
	FatalCallback func(err error)

	EncodingInfo audio.EncodingInfo
}

// Option configures a transcription stream.
type Option func(*Options)

func WithResultCallback(callback func(result Transcription)) Option {
	return func(o *Options) {
		o.ResultCallback = callback
	}
}

func WithSpeechStartedCallback(callback func()) Option {
	return func(o *Options) {
		o.SpeechStartedCallback = callback
	}
}

func WithFatalCallback(callback func(err error)) Option {
	return func(o *Options) {
		o.FatalCallback = callback
	}
}

func WithEncodingInfo(encodingInfo audio.EncodingInfo) Option {
	return func(o *Options) {
		o.EncodingInfo = encodingInfo
	}
}
