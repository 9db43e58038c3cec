// Package endpointing decides when a caller has finished speaking.
//
// The engines are pure decision logic: they consume the running transcript
// buffer plus the most recent recognizer signals and report whether the
// utterance is complete, tagged with the rule that fired. Which engine a
// conversation uses is chosen once at construction.
package endpointing

import (
	"math"
	"strings"
	"sync/atomic"
	"time"
)

// Source tags which rule declared the endpoint, for diagnostics.
type Source string

const (
	SourceTimeCutoff   Source = "time_cutoff"
	SourcePunctuation  Source = "punctuation"
	SourceSpeechFinal  Source = "speech_final"
	SourceUtteranceEnd Source = "utterance_end"
)

// Decision is the outcome of evaluating one recognizer step.
type Decision struct {
	IsEndpoint bool
	Source     Source
}

// Frame is the input for one decision step.
type Frame struct {
	// Buffer is the transcript accumulated for the current utterance.
	Buffer string
	// Transcript is the latest fragment's text; empty for silence-only
	// fragments and vendor signals that carry no transcript.
	Transcript string
	// IsFinal marks a finalized (non-interim) fragment.
	IsFinal bool
	// SpeechFinal is the recognizer's own endpoint hint on the fragment.
	SpeechFinal bool
	// UtteranceEnd marks a vendor-native utterance-end signal.
	UtteranceEnd bool
	// Duration is the audio length the fragment covers.
	Duration time.Duration
	// Silence is the accumulated quiet time since the last non-empty
	// fragment, not counting Duration.
	Silence time.Duration
}

// Engine evaluates recognizer steps against one endpointing policy.
type Engine interface {
	Evaluate(frame Frame) Decision
}

// SpeedCoefficient scales every cutoff window so playback-speed experiments
// shift endpointing sensitivity consistently. It can be updated live while a
// conversation is running; readers always observe a complete value.
type SpeedCoefficient struct {
	bits atomic.Uint64
}

// NewSpeedCoefficient returns a coefficient fixed at the nominal 1.0 until
// Set is called.
func NewSpeedCoefficient() *SpeedCoefficient {
	c := &SpeedCoefficient{}
	c.Set(1.0)
	return c
}

// Set replaces the coefficient. Non-positive values are ignored.
func (c *SpeedCoefficient) Set(value float64) {
	if c == nil || value <= 0 {
		return
	}
	c.bits.Store(math.Float64bits(value))
}

// Load returns the current coefficient, 1.0 when unset.
func (c *SpeedCoefficient) Load() float64 {
	if c == nil {
		return 1.0
	}
	value := math.Float64frombits(c.bits.Load())
	if value <= 0 {
		return 1.0
	}
	return value
}

// scale divides a cutoff window by the live speed coefficient.
func (c *SpeedCoefficient) scale(cutoff time.Duration) time.Duration {
	return time.Duration(float64(cutoff) / c.Load())
}

// endsWithTerminator reports whether the buffer's last non-whitespace
// character closes a sentence.
func endsWithTerminator(buffer string) bool {
	trimmed := strings.TrimRight(buffer, " \t\r\n")
	if trimmed == "" {
		return false
	}
	switch trimmed[len(trimmed)-1] {
	case '.', '!', '?':
		return true
	}
	return false
}
