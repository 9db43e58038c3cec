// Package orchestration composes a transcriber, an agent, a synthesizer, and
// an output device into one full-duplex voice conversation.
//
// Caller audio flows in through ReceiveAudio; completed utterances go to the
// agent; the agent's response text is rendered and played back at real-time
// pace. A new utterance while the bot is speaking interrupts the unfinished
// turn everywhere at once.
package orchestration

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/voicewire/voicewire-core/core/agents"
	"github.com/voicewire/voicewire-core/core/audio"
	"github.com/voicewire/voicewire-core/core/endpointing"
	"github.com/voicewire/voicewire-core/core/output"
	"github.com/voicewire/voicewire-core/core/pipeline"
	"github.com/voicewire/voicewire-core/core/synthesize"
	"github.com/voicewire/voicewire-core/core/transcribe"
)

// Conversation is one live conversation. It is single-use: a terminated
// conversation cannot be restarted.
type Conversation struct {
	transcriber transcribe.Transcriber
	agent       agents.Agent
	synthesizer synthesize.Synthesizer
	device      output.Device

	engine     endpointing.Engine
	fillers    *FillerCache
	onError    func(error)
	playerOpts []output.PlayerOption

	registry *pipeline.Registry
	player   *output.Player

	turnWorker     *pipeline.Worker[transcribe.Transcription]
	agentWorker    *pipeline.InterruptibleWorker[agents.Input]
	responseWorker *pipeline.InterruptibleWorker[agents.Response]

	state atomic.Int32

	// buffer and silence accumulate the current utterance; they are owned by
	// the turn worker goroutine.
	buffer  string
	silence time.Duration

	turnMu        sync.Mutex
	currentHandle *agents.ResponseHandle

	genMu            sync.Mutex
	generationCancel context.CancelFunc

	synthMu        sync.Mutex
	synthStream    synthesize.Stream
	synthesisEnded bool

	// spoken bookkeeping confirms response text only once its audio actually
	// played, so an interrupted turn reports what the caller heard.
	spokenMu          sync.Mutex
	spoken            []string
	lastChunk         *audio.Chunk
	segmentBoundaries map[string][]string

	started atomic.Bool
	endOnce sync.Once
	done    chan struct{}
	cancel  context.CancelFunc
}

// Option configures a Conversation.
type Option func(*Conversation)

// WithEndpointingEngine overrides the default hybrid endpointing engine.
func WithEndpointingEngine(engine endpointing.Engine) Option {
	return func(c *Conversation) {
		if engine != nil {
			c.engine = engine
		}
	}
}

// WithFillerCache attaches pre-rendered filler audio for the agent's filler
// phrases.
func WithFillerCache(cache *FillerCache) Option {
	return func(c *Conversation) { c.fillers = cache }
}

// WithErrorHandler registers a callback for non-fatal processing errors.
func WithErrorHandler(onError func(error)) Option {
	return func(c *Conversation) {
		if onError != nil {
			c.onError = onError
		}
	}
}

// WithPlayerOptions forwards options to the playback worker.
func WithPlayerOptions(opts ...output.PlayerOption) Option {
	return func(c *Conversation) { c.playerOpts = opts }
}

// NewConversation wires the four collaborators together. Call Start to begin.
func NewConversation(
	transcriber transcribe.Transcriber,
	agent agents.Agent,
	synthesizer synthesize.Synthesizer,
	device output.Device,
	opts ...Option,
) *Conversation {
	c := &Conversation{
		transcriber:       transcriber,
		agent:             agent,
		synthesizer:       synthesizer,
		device:            device,
		engine:            endpointing.NewHybrid(),
		registry:          pipeline.NewRegistry(),
		segmentBoundaries: make(map[string][]string),
		done:              make(chan struct{}),
	}
	c.onError = func(err error) { logger.Error("Conversation error", "error", err) }
	for _, opt := range opts {
		opt(c)
	}

	playerOpts := append([]output.PlayerOption{
		output.WithOnIdle(c.onPlayerIdle),
		output.WithErrorHandler(func(err error) { c.onError(err) }),
	}, c.playerOpts...)
	c.player = output.NewPlayer(device, playerOpts...)

	c.turnWorker = pipeline.NewWorker(
		pipeline.NewQueue[transcribe.Transcription](),
		c.processTranscription,
		pipeline.WithName[transcribe.Transcription]("turn detection"),
		pipeline.WithErrorHandler[transcribe.Transcription](c.onError),
	)
	c.agentWorker = pipeline.NewInterruptibleWorker(
		pipeline.NewQueue[*pipeline.Event[agents.Input]](),
		c.processAgentInput,
		nil,
		pipeline.WithName[*pipeline.Event[agents.Input]]("agent"),
		pipeline.WithErrorHandler[*pipeline.Event[agents.Input]](c.onError),
	)
	c.responseWorker = pipeline.NewInterruptibleWorker(
		pipeline.NewQueue[*pipeline.Event[agents.Response]](),
		c.processResponse,
		nil,
		pipeline.WithName[*pipeline.Event[agents.Response]]("response"),
		pipeline.WithErrorHandler[*pipeline.Event[agents.Response]](c.onError),
	)

	return c
}

// Start opens the transcription stream and launches every worker. A
// conversation starts at most once; later calls fail.
func (c *Conversation) Start(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "conversation start")
	defer span.End()

	if !c.started.CompareAndSwap(false, true) {
		return fmt.Errorf("conversation already started")
	}

	ctx, c.cancel = context.WithCancel(ctx)
	c.player.Start(ctx)
	c.responseWorker.Start(ctx)
	c.agentWorker.Start(ctx)
	c.turnWorker.Start(ctx)

	err := c.transcriber.Transcribe(ctx,
		transcribe.WithEncodingInfo(c.device.EncodingInfo()),
		transcribe.WithResultCallback(func(result transcribe.Transcription) {
			c.turnWorker.Queue().Push(result)
		}),
		transcribe.WithFatalCallback(func(err error) {
			c.onError(err)
			go c.Terminate()
		}),
	)
	if err != nil {
		c.Terminate()
		return fmt.Errorf("failed to start transcription: %w", err)
	}

	c.setState(StateListening)
	return nil
}

// ReceiveAudio forwards one frame of caller audio to the transcriber. After
// termination it is a no-op.
func (c *Conversation) ReceiveAudio(audioData []byte) error {
	if !c.started.Load() || !c.IsActive() {
		return nil
	}
	return c.transcriber.SendAudio(audioData)
}

// BroadcastInterrupt interrupts every outstanding event created since the
// last interrupt, drops everything queued downstream of the interruption
// point, and flushes the output side. It reports whether at least one event
// was actually interrupted.
func (c *Conversation) BroadcastInterrupt() bool {
	interrupted := c.registry.BroadcastInterrupt()

	// Queued events were tracked at creation, so the registry drain already
	// interrupted them; clearing keeps stale responses from being delivered.
	c.agentWorker.Queue().Clear()
	c.responseWorker.Queue().Clear()

	c.cancelGeneration()
	c.abortSynthesis()
	c.player.Interrupt()

	return interrupted
}

// Terminate ends the conversation: it sets the terminal state, interrupts
// everything outstanding, and shuts the workers down in dependency order.
// Terminate is idempotent and safe to call from worker callbacks.
func (c *Conversation) Terminate() {
	c.endOnce.Do(func() {
		c.setState(StateTerminated)
		c.BroadcastInterrupt()

		if closer, ok := c.transcriber.(interface{ Close(context.Context) error }); ok {
			if err := closer.Close(context.Background()); err != nil {
				c.onError(fmt.Errorf("failed to close transcriber: %w", err))
			}
		}

		c.turnWorker.Terminate()
		c.agentWorker.Terminate()
		c.responseWorker.Terminate()
		c.player.Terminate()

		if c.cancel != nil {
			c.cancel()
		}
		close(c.done)
	})
	<-c.done
}

// IsActive reports whether the conversation has not terminated.
func (c *Conversation) IsActive() bool {
	return c.State() != StateTerminated
}

// State returns the current turn state.
func (c *Conversation) State() State {
	return State(c.state.Load())
}

// AwaitTurn blocks until the most recent turn's generation completes. With no
// turn in flight it returns immediately.
func (c *Conversation) AwaitTurn(ctx context.Context) error {
	c.turnMu.Lock()
	handle := c.currentHandle
	c.turnMu.Unlock()

	if handle == nil {
		return nil
	}
	return handle.Await(ctx)
}

// SpokenText returns the response text whose audio was confirmed played, in
// order. Text cut off by an interruption is not included.
func (c *Conversation) SpokenText() string {
	c.spokenMu.Lock()
	defer c.spokenMu.Unlock()
	return strings.Join(c.spoken, " ")
}

// Mute toggles silence substitution on transcribers that support it.
func (c *Conversation) Mute(muted bool) {
	if muter, ok := c.transcriber.(interface{ Mute(bool) }); ok {
		muter.Mute(muted)
	}
}

func (c *Conversation) setState(state State) {
	c.state.Store(int32(state))
}

func (c *Conversation) setCurrentHandle(handle *agents.ResponseHandle) {
	c.turnMu.Lock()
	c.currentHandle = handle
	c.turnMu.Unlock()
}

func (c *Conversation) setGenerationCancel(cancel context.CancelFunc) {
	c.genMu.Lock()
	c.generationCancel = cancel
	c.genMu.Unlock()
}

func (c *Conversation) cancelGeneration() {
	c.genMu.Lock()
	cancel := c.generationCancel
	c.generationCancel = nil
	c.genMu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (c *Conversation) onPlayerIdle() {
	c.synthMu.Lock()
	ended := c.synthesisEnded
	c.synthMu.Unlock()

	if ended && c.State() == StateBotSpeaking {
		c.setState(StateListening)
	}
}
