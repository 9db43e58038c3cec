package orchestration

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/voicewire/voicewire-core/core/agents"
	"github.com/voicewire/voicewire-core/core/endpointing"
	"github.com/voicewire/voicewire-core/core/pipeline"
	"github.com/voicewire/voicewire-core/core/transcribe"
)

// processTranscription is the turn-detection worker: it accumulates the
// caller's utterance, interrupts the bot when the caller talks over it, and
// hands the utterance to the agent once the endpointing engine judges it
// complete.
func (c *Conversation) processTranscription(ctx context.Context, result transcribe.Transcription) error {
	if c.State() == StateTerminated {
		return nil
	}

	if result.Message != "" && c.State() == StateBotSpeaking {
		logger.InfoContext(ctx, "Caller spoke over the bot, interrupting",
			"transcript", result.Message)
		c.BroadcastInterrupt()
		c.setState(StateListening)
	}

	frame := endpointing.Frame{
		Buffer:       c.buffer,
		Transcript:   result.Message,
		IsFinal:      result.IsFinal,
		SpeechFinal:  result.SpeechFinal,
		UtteranceEnd: result.UtteranceEnd,
		Duration:     result.Duration,
		Silence:      c.silence,
	}

	if result.Message != "" && result.IsFinal {
		if c.buffer == "" {
			c.buffer = result.Message
		} else {
			c.buffer += " " + result.Message
		}
		frame.Buffer = c.buffer
		c.silence = 0
	}

	decision := c.engine.Evaluate(frame)

	if result.Message == "" && result.IsFinal && !result.UtteranceEnd {
		c.silence += result.Duration
	}

	if !decision.IsEndpoint {
		return nil
	}
	if c.buffer == "" {
		// An endpoint with nothing said does not make a turn.
		c.silence = 0
		return nil
	}

	utterance := c.buffer
	c.buffer = ""
	c.silence = 0

	span := trace.SpanFromContext(ctx)
	span.AddEvent("utterance complete", trace.WithAttributes(
		attribute.String("endpoint.source", string(decision.Source)),
	))
	logger.InfoContext(ctx, "Utterance complete",
		"transcript", utterance, "endpoint_source", string(decision.Source))

	handle := agents.NewResponseHandle()
	c.setCurrentHandle(handle)

	event := pipeline.NewEvent(agents.Input{Message: utterance, Handle: handle})
	c.registry.Track(event)
	c.agentWorker.Queue().Push(event)
	c.setState(StateAgentThinking)
	return nil
}

// processAgentInput runs one turn's generation. Interrupting the turn cancels
// the generation context and suppresses everything not yet published.
func (c *Conversation) processAgentInput(ctx context.Context, event *pipeline.Event[agents.Input]) error {
	generationCtx, cancel := context.WithCancel(ctx)
	c.setGenerationCancel(cancel)
	defer func() {
		c.setGenerationCancel(nil)
		cancel()
	}()

	publish := func(response agents.Response) {
		if event.Interrupted() {
			return
		}
		responseEvent := pipeline.NewEvent(response)
		c.registry.Track(responseEvent)
		c.responseWorker.Queue().Push(responseEvent)
	}

	return c.agent.RespondTo(generationCtx, event.Payload, publish)
}

// endsSentence reports whether text closes a sentence, used to cut synthesis
// segments on sentence boundaries.
func endsSentence(text string) bool {
	trimmed := strings.TrimRight(text, " \t\r\n")
	if trimmed == "" {
		return false
	}
	switch trimmed[len(trimmed)-1] {
	case '.', '!', '?':
		return true
	}
	return false
}
