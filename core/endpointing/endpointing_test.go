package endpointing

import (
	"testing"
	"time"
)

func TestTimeCutoffEndpointsAfterEnoughSilence(t *testing.T) {
	engine := NewTimeCutoff(WithCutoff(2 * time.Second))

	decision := engine.Evaluate(Frame{
		Buffer:   "hello",
		Silence:  1500 * time.Millisecond,
		Duration: 600 * time.Millisecond,
	})
	if !decision.IsEndpoint {
		t.Fatalf("expected endpoint at 2.1s of quiet")
	}
	if decision.Source != SourceTimeCutoff {
		t.Fatalf("expected source %q, got %q", SourceTimeCutoff, decision.Source)
	}
}

func TestTimeCutoffHoldsAtOrBelowCutoff(t *testing.T) {
	engine := NewTimeCutoff(WithCutoff(2 * time.Second))

	decision := engine.Evaluate(Frame{
		Buffer:   "hello",
		Silence:  1500 * time.Millisecond,
		Duration: 500 * time.Millisecond,
	})
	if decision.IsEndpoint {
		t.Fatalf("expected no endpoint at exactly the cutoff")
	}
}

func TestTimeCutoffIgnoresFragmentsWithText(t *testing.T) {
	engine := NewTimeCutoff(WithCutoff(time.Second))

	decision := engine.Evaluate(Frame{
		Buffer:     "hello",
		Transcript: "there",
		Silence:    time.Minute,
	})
	if decision.IsEndpoint {
		t.Fatalf("expected a fragment with text to never endpoint")
	}
}

func TestTimeCutoffNeedsNonEmptyBuffer(t *testing.T) {
	engine := NewTimeCutoff(WithCutoff(time.Second))

	decision := engine.Evaluate(Frame{Silence: time.Minute})
	if decision.IsEndpoint {
		t.Fatalf("expected no endpoint while nothing was said")
	}
}

func TestTimeCutoffScalesWithSpeedCoefficient(t *testing.T) {
	speed := NewSpeedCoefficient()
	engine := NewTimeCutoff(WithCutoff(2*time.Second), WithSpeedCoefficient(speed))

	frame := Frame{Buffer: "hello", Silence: 1100 * time.Millisecond}
	if engine.Evaluate(frame).IsEndpoint {
		t.Fatalf("expected no endpoint at nominal speed")
	}

	speed.Set(2.0)
	if !engine.Evaluate(frame).IsEndpoint {
		t.Fatalf("expected the halved window to endpoint at 1.1s")
	}
}

func TestPunctuationEndpointsOnTerminatedSpeechFinal(t *testing.T) {
	engine := NewPunctuation(WithCutoff(2 * time.Second))

	decision := engine.Evaluate(Frame{
		Buffer:      "how can I help you today?",
		Transcript:  "today?",
		IsFinal:     true,
		SpeechFinal: true,
	})
	if !decision.IsEndpoint {
		t.Fatalf("expected punctuation endpoint")
	}
	if decision.Source != SourcePunctuation {
		t.Fatalf("expected source %q, got %q", SourcePunctuation, decision.Source)
	}
}

func TestPunctuationFallsBackToTimeCutoff(t *testing.T) {
	engine := NewPunctuation(WithCutoff(time.Second))

	decision := engine.Evaluate(Frame{
		Buffer:  "give me a second",
		Silence: 1200 * time.Millisecond,
	})
	if !decision.IsEndpoint {
		t.Fatalf("expected time-cutoff fallback to endpoint")
	}
	if decision.Source != SourceTimeCutoff {
		t.Fatalf("expected source %q, got %q", SourceTimeCutoff, decision.Source)
	}
}

func TestPunctuationIgnoresUnterminatedBuffer(t *testing.T) {
	engine := NewPunctuation(WithCutoff(time.Hour))

	decision := engine.Evaluate(Frame{
		Buffer:      "well I was thinking",
		Transcript:  "thinking",
		SpeechFinal: true,
	})
	if decision.IsEndpoint {
		t.Fatalf("expected no endpoint without a sentence terminator")
	}
}

func TestHybridUtteranceEndAlwaysEndpoints(t *testing.T) {
	engine := NewHybrid()

	for _, buffer := range []string{"", "half a sent", "done."} {
		decision := engine.Evaluate(Frame{Buffer: buffer, UtteranceEnd: true})
		if !decision.IsEndpoint {
			t.Fatalf("expected utterance-end endpoint with buffer %q", buffer)
		}
		if decision.Source != SourceUtteranceEnd {
			t.Fatalf("expected source %q, got %q", SourceUtteranceEnd, decision.Source)
		}
	}
}

func TestHybridSpeechFinalWithTextEndpoints(t *testing.T) {
	engine := NewHybrid()

	decision := engine.Evaluate(Frame{
		Buffer:      "I would like to book a table",
		Transcript:  "book a table",
		IsFinal:     true,
		SpeechFinal: true,
	})
	if !decision.IsEndpoint {
		t.Fatalf("expected speech-final endpoint")
	}
	if decision.Source != SourceSpeechFinal {
		t.Fatalf("expected source %q, got %q", SourceSpeechFinal, decision.Source)
	}
}

func TestHybridUsesGraceWindowAfterPunctuation(t *testing.T) {
	engine := NewHybrid(
		WithHybridCutoff(2*time.Second),
		WithPostPunctuationGrace(500*time.Millisecond),
	)

	terminated := Frame{Buffer: "that is all.", Silence: 600 * time.Millisecond}
	if decision := engine.Evaluate(terminated); !decision.IsEndpoint {
		t.Fatalf("expected grace-window endpoint after punctuation")
	}

	unterminated := Frame{Buffer: "that is all", Silence: 600 * time.Millisecond}
	if decision := engine.Evaluate(unterminated); decision.IsEndpoint {
		t.Fatalf("expected full window to still be open without punctuation")
	}
}

func TestHybridOneShotGreetingEndsFirstUtteranceEarly(t *testing.T) {
	engine := NewHybrid(WithOneShotGreeting())

	first := Frame{Buffer: "Hello.", Transcript: "Hello.", IsFinal: true}
	decision := engine.Evaluate(first)
	if !decision.IsEndpoint {
		t.Fatalf("expected the greeting to endpoint immediately")
	}
	if decision.Source != SourcePunctuation {
		t.Fatalf("expected source %q, got %q", SourcePunctuation, decision.Source)
	}

	// Later utterances follow the normal hybrid rules again.
	second := Frame{Buffer: "I need help.", Transcript: "I need help.", IsFinal: true}
	if engine.Evaluate(second).IsEndpoint {
		t.Fatalf("expected the one-shot rule to apply only once")
	}
}

func TestHybridOneShotGreetingConsumedByAnyEndpoint(t *testing.T) {
	engine := NewHybrid(WithOneShotGreeting())

	// The first endpoint comes from the recognizer's own signal, not the
	// punctuation shortcut; it must still use up the one-shot rule.
	first := Frame{Buffer: "Hello there", Transcript: "there", IsFinal: true, SpeechFinal: true}
	if decision := engine.Evaluate(first); !decision.IsEndpoint || decision.Source != SourceSpeechFinal {
		t.Fatalf("expected speech-final endpoint, got %+v", decision)
	}

	second := Frame{Buffer: "I need help.", Transcript: "I need help.", IsFinal: true}
	if engine.Evaluate(second).IsEndpoint {
		t.Fatalf("expected the punctuation shortcut to be spent after the first endpoint")
	}
}

func TestSpeedCoefficientDefaultsToNominal(t *testing.T) {
	var speed *SpeedCoefficient
	if got := speed.Load(); got != 1.0 {
		t.Fatalf("expected nil coefficient to read 1.0, got %v", got)
	}

	speed = NewSpeedCoefficient()
	if got := speed.Load(); got != 1.0 {
		t.Fatalf("expected fresh coefficient to read 1.0, got %v", got)
	}

	speed.Set(-3)
	if got := speed.Load(); got != 1.0 {
		t.Fatalf("expected non-positive Set to be ignored, got %v", got)
	}
}
