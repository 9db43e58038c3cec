package endpointing

import "time"

const DefaultCutoff = 2 * time.Second

// TimeCutoff declares an endpoint once enough silence has accumulated behind
// a non-empty buffer.
type TimeCutoff struct {
	cutoff time.Duration
	speed  *SpeedCoefficient
}

// TimeCutoffOption configures a TimeCutoff engine.
type TimeCutoffOption func(*TimeCutoff)

// WithCutoff overrides the silence window.
func WithCutoff(cutoff time.Duration) TimeCutoffOption {
	return func(e *TimeCutoff) {
		if cutoff > 0 {
			e.cutoff = cutoff
		}
	}
}

// WithSpeedCoefficient attaches a live speed coefficient shared with the
// playback side.
func WithSpeedCoefficient(speed *SpeedCoefficient) TimeCutoffOption {
	return func(e *TimeCutoff) { e.speed = speed }
}

// NewTimeCutoff builds the time-cutoff engine.
func NewTimeCutoff(opts ...TimeCutoffOption) *TimeCutoff {
	e := &TimeCutoff{cutoff: DefaultCutoff}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate declares an endpoint iff the fragment carries no text, the buffer
// is non-empty, and accumulated silence plus the fragment's own duration
// exceeds the (speed-scaled) cutoff.
func (e *TimeCutoff) Evaluate(frame Frame) Decision {
	if frame.Transcript != "" || frame.Buffer == "" {
		return Decision{Source: SourceTimeCutoff}
	}

	if frame.Silence+frame.Duration > e.speed.scale(e.cutoff) {
		return Decision{IsEndpoint: true, Source: SourceTimeCutoff}
	}
	return Decision{Source: SourceTimeCutoff}
}
