// Package synthesize defines the boundary to a streaming speech synthesizer.
package synthesize

import (
	"context"

	"github.com/voicewire/voicewire-core/core/audio"
)

// Synthesizer opens one rendering stream per agent message.
type Synthesizer interface {
	OpenStream(ctx context.Context, opts ...Option) (Stream, error)
}

// Stream renders incrementally delivered text into audio.
//
// Text is fed with SendText as it arrives from the agent; Flush closes the
// current segment so its audio is rendered; EndOfText declares the message
// finished. Cancel abandons everything not yet rendered.
type Stream interface {
	SendText(text string) error
	Flush() error
	EndOfText() error
	Cancel() error
	Close() error
}

// Options collects the per-stream callbacks.
type Options struct {
	// AudioCallback receives rendered audio as it arrives, in order.
	AudioCallback func(audioData []byte)
	// SegmentEndedCallback fires when one flushed segment's audio has been
	// fully delivered, with the segment's text.
	SegmentEndedCallback func(segment string)
	// SpeechEndedCallback fires once the whole message has been rendered.
	SpeechEndedCallback func()
	ErrorCallback       func(err error)

	EncodingInfo audio.EncodingInfo
}

// Option configures a rendering stream.
type Option func(*Options)

func WithAudioCallback(callback func(audioData []byte)) Option {
	return func(o *Options) {
		o.AudioCallback = callback
	}
}

func WithSegmentEndedCallback(callback func(segment string)) Option {
	return func(o *Options) {
		o.SegmentEndedCallback = callback
	}
}

func WithSpeechEndedCallback(callback func()) Option {
	return func(o *Options) {
		o.SpeechEndedCallback = callback
	}
}

func WithErrorCallback(callback func(err error)) Option {
	return func(o *Options) {
		o.ErrorCallback = callback
	}
}

func WithEncodingInfo(encodingInfo audio.EncodingInfo) Option {
	return func(o *Options) {
		o.EncodingInfo = encodingInfo
	}
}
