package endpointing

import (
	"sync"
	"time"
)

const DefaultPostPunctuationGrace = 700 * time.Millisecond

// Hybrid leans on the recognizer's own utterance-end and speech-final
// signals, tightening the silence window when the buffer already reads like a
// finished sentence.
type Hybrid struct {
	cutoff time.Duration
	grace  time.Duration
	speed  *SpeedCoefficient

	// oneShotGreeting ends the conversation's very first utterance on any
	// final punctuation-terminated fragment, to keep greeting latency low.
	oneShotGreeting bool

	mu            sync.Mutex
	firstEndpoint bool
}

// HybridOption configures a Hybrid engine.
type HybridOption func(*Hybrid)

// WithHybridCutoff overrides the full silence window.
func WithHybridCutoff(cutoff time.Duration) HybridOption {
	return func(e *Hybrid) {
		if cutoff > 0 {
			e.cutoff = cutoff
		}
	}
}

// WithPostPunctuationGrace overrides the shortened window used when the
// buffer already ends a sentence.
func WithPostPunctuationGrace(grace time.Duration) HybridOption {
	return func(e *Hybrid) {
		if grace > 0 {
			e.grace = grace
		}
	}
}

// WithHybridSpeedCoefficient attaches a live speed coefficient.
func WithHybridSpeedCoefficient(speed *SpeedCoefficient) HybridOption {
	return func(e *Hybrid) { e.speed = speed }
}

// WithOneShotGreeting ends the very first utterance as soon as any final,
// punctuation-terminated fragment arrives.
func WithOneShotGreeting() HybridOption {
	return func(e *Hybrid) { e.oneShotGreeting = true }
}

// NewHybrid builds the vendor-assisted engine.
func NewHybrid(opts ...HybridOption) *Hybrid {
	e := &Hybrid{
		cutoff: DefaultCutoff,
		grace:  DefaultPostPunctuationGrace,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Hybrid) Evaluate(frame Frame) Decision {
	if frame.UtteranceEnd {
		return e.endpoint(Decision{IsEndpoint: true, Source: SourceUtteranceEnd})
	}

	if frame.Transcript != "" && frame.SpeechFinal {
		return e.endpoint(Decision{IsEndpoint: true, Source: SourceSpeechFinal})
	}

	if e.awaitingFirstEndpoint() && frame.IsFinal && frame.Transcript != "" && endsWithTerminator(frame.Buffer) {
		return e.endpoint(Decision{IsEndpoint: true, Source: SourcePunctuation})
	}

	if frame.Transcript != "" || frame.Buffer == "" {
		return Decision{Source: SourceTimeCutoff}
	}

	window := e.cutoff
	if endsWithTerminator(frame.Buffer) {
		window = e.grace
	}
	if frame.Silence+frame.Duration > e.speed.scale(window) {
		return e.endpoint(Decision{IsEndpoint: true, Source: SourceTimeCutoff})
	}
	return Decision{Source: SourceTimeCutoff}
}

func (e *Hybrid) awaitingFirstEndpoint() bool {
	if !e.oneShotGreeting {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.firstEndpoint
}

func (e *Hybrid) endpoint(decision Decision) Decision {
	if e.oneShotGreeting {
		e.mu.Lock()
		e.firstEndpoint = true
		e.mu.Unlock()
	}
	return decision
}
