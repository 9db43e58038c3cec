// Package openai generates conversation responses by streaming chat
// completions from the OpenAI API, including tool calling.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	env "github.com/caarlos0/env/v11"
	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/codes"

	"github.com/voicewire/voicewire-core/core/agents"
)

// maxToolRounds bounds how many consecutive tool-call rounds one turn may
// take before the generation is cut off.
const maxToolRounds = 4

type config struct {
	APIKey  string `env:"OPENAI_API_KEY,notEmpty"`
	Model   string `env:"OPENAI_MODEL" envDefault:"gpt-4o-mini"`
	BaseURL string `env:"OPENAI_BASE_URL"`
}

// Agent holds the conversation history and generates one response per
// completed user utterance.
type Agent struct {
	client openai.Client
	model  string

	systemPrompt  string
	fillerPhrases []string
	tools         []Tool
	toolParams    []openai.ChatCompletionToolUnionParam
	toolsByName   map[string]Tool

	mu          sync.Mutex
	history     []openai.ChatCompletionMessageParamUnion
	fillerIndex int
}

// Option configures an Agent.
type Option func(*Agent)

// WithSystemPrompt sets the instructions prepended to every generation.
func WithSystemPrompt(prompt string) Option {
	return func(a *Agent) { a.systemPrompt = prompt }
}

// WithFillerPhrases registers phrases announced while the agent is thinking,
// used round-robin, one per turn.
func WithFillerPhrases(phrases ...string) Option {
	return func(a *Agent) { a.fillerPhrases = phrases }
}

// WithTools registers the functions the agent may call.
func WithTools(tools ...Tool) Option {
	return func(a *Agent) { a.tools = tools }
}

// WithModel overrides the model from the environment configuration.
func WithModel(model string) Option {
	return func(a *Agent) { a.model = model }
}

// NewAgent reads the OpenAI configuration from the environment.
func NewAgent(opts ...Option) (*Agent, error) {
	cfg, err := env.ParseAs[config]()
	if err != nil {
		return nil, fmt.Errorf("failed to load openai configuration: %w", err)
	}

	a := &Agent{model: cfg.Model}
	for _, opt := range opts {
		opt(a)
	}

	a.toolsByName = make(map[string]Tool, len(a.tools))
	for _, tool := range a.tools {
		a.toolsByName[tool.Name] = tool
	}
	if a.toolParams, err = toToolParams(a.tools); err != nil {
		return nil, err
	}

	clientOpts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(&http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}),
	}
	if cfg.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(cfg.BaseURL))
	}
	a.client = openai.NewClient(clientOpts...)

	return a, nil
}

// RespondTo generates one response for input, streaming text through publish
// as it is produced. The turn's handle is always completed and a
// GenerationComplete always published, even when the generation fails or is
// cancelled mid-stream.
func (a *Agent) RespondTo(ctx context.Context, input agents.Input, publish func(agents.Response)) (err error) {
	ctx, span := tracer.Start(ctx, "agent respond")
	defer span.End()
	defer func() {
		if input.Handle != nil {
			input.Handle.Complete()
		}
		publish(agents.GenerationComplete{})
		if err != nil && !errors.Is(err, context.Canceled) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "generation failed")
		}
	}()

	if phrase, ok := a.nextFillerPhrase(); ok {
		publish(agents.FillerAudio{Phrase: phrase})
	}

	a.appendHistory(openai.UserMessage(input.Message))

	for round := 0; round < maxToolRounds; round++ {
		params := openai.ChatCompletionNewParams{
			Model:    openai.ChatModel(a.model),
			Messages: a.messagesSnapshot(),
		}
		if len(a.toolParams) > 0 {
			params.Tools = a.toolParams
		}

		stream := a.client.Chat.Completions.NewStreaming(ctx, params)
		acc := openai.ChatCompletionAccumulator{}
		var generated strings.Builder
		for stream.Next() {
			chunk := stream.Current()
			acc.AddChunk(chunk)
			if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
				generated.WriteString(chunk.Choices[0].Delta.Content)
				publish(agents.Message{Text: chunk.Choices[0].Delta.Content})
			}
		}
		if streamErr := stream.Err(); streamErr != nil {
			// Whatever was generated before the failure may have been spoken;
			// keep it so the history matches what the caller heard.
			if generated.Len() > 0 {
				a.appendHistory(openai.AssistantMessage(generated.String()))
			}
			return fmt.Errorf("generation stream failed: %w", streamErr)
		}

		if len(acc.Choices) == 0 {
			return fmt.Errorf("generation produced no choices")
		}
		message := acc.Choices[0].Message
		if len(message.ToolCalls) == 0 {
			if generated.Len() > 0 {
				a.appendHistory(openai.AssistantMessage(generated.String()))
			}
			return nil
		}

		a.appendHistory(message.ToParam())
		stop, toolErr := a.runToolCalls(ctx, message.ToolCalls)
		if toolErr != nil {
			return toolErr
		}
		if stop {
			publish(agents.Stop{})
			return nil
		}
	}

	return fmt.Errorf("generation exceeded %d tool rounds", maxToolRounds)
}

func (a *Agent) runToolCalls(ctx context.Context, calls []openai.ChatCompletionMessageToolCallUnion) (stop bool, err error) {
	for _, call := range calls {
		result, callErr := a.callTool(ctx, call.Function.Name, json.RawMessage(call.Function.Arguments))
		switch {
		case errors.Is(callErr, ErrEndConversation):
			stop = true
			a.appendHistory(openai.ToolMessage("The conversation has ended.", call.ID))
		case callErr != nil:
			if errors.Is(callErr, context.Canceled) {
				return false, callErr
			}
			logger.WarnContext(ctx, "Tool call failed", "tool", call.Function.Name, "error", callErr)
			a.appendHistory(openai.ToolMessage(fmt.Sprintf("Tool failed: %v", callErr), call.ID))
		default:
			a.appendHistory(openai.ToolMessage(result, call.ID))
		}
	}
	return stop, nil
}

func (a *Agent) callTool(ctx context.Context, name string, arguments json.RawMessage) (string, error) {
	tool, ok := a.toolsByName[name]
	if !ok {
		return "", fmt.Errorf("unknown tool %q", name)
	}
	return tool.Call(ctx, arguments)
}

func (a *Agent) nextFillerPhrase() (string, bool) {
	if len(a.fillerPhrases) == 0 {
		return "", false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	phrase := a.fillerPhrases[a.fillerIndex%len(a.fillerPhrases)]
	a.fillerIndex++
	return phrase, true
}

func (a *Agent) appendHistory(message openai.ChatCompletionMessageParamUnion) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.history = append(a.history, message)
}

func (a *Agent) messagesSnapshot() []openai.ChatCompletionMessageParamUnion {
	a.mu.Lock()
	defer a.mu.Unlock()

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(a.history)+1)
	if a.systemPrompt != "" {
		messages = append(messages, openai.SystemMessage(a.systemPrompt))
	}
	return append(messages, a.history...)
}
