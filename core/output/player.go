package output

import (
	"context"
	"errors"
	"time"

	"github.com/voicewire/voicewire-core/core/audio"
	"github.com/voicewire/voicewire-core/core/pipeline"
)

// DefaultPacingAllowance is how far ahead of real time the player may run so
// the sink never starves between chunks.
const DefaultPacingAllowance = 50 * time.Millisecond

// Player feeds chunks to one Device at roughly real-time pace.
//
// After delivering a chunk it sleeps for the chunk's speech length, minus the
// time delivery itself took, minus a small allowance. Interrupted chunks are
// dropped without delivery and without delay.
type Player struct {
	device    Device
	allowance time.Duration
	onIdle    func()

	worker     *pipeline.InterruptibleWorker[*audio.Chunk]
	workerOpts []pipeline.WorkerOption[*pipeline.Event[*audio.Chunk]]

	// now and sleep are swappable for tests.
	now   func() time.Time
	sleep func(time.Duration)
}

// PlayerOption configures a Player.
type PlayerOption func(*Player)

// WithPacingAllowance overrides how far ahead of real time the player runs.
func WithPacingAllowance(allowance time.Duration) PlayerOption {
	return func(p *Player) {
		if allowance >= 0 {
			p.allowance = allowance
		}
	}
}

// WithOnIdle registers a callback fired whenever the player finishes a chunk
// (played or discarded) and finds its queue empty.
func WithOnIdle(onIdle func()) PlayerOption {
	return func(p *Player) { p.onIdle = onIdle }
}

// WithErrorHandler registers a callback for delivery failures.
func WithErrorHandler(onError func(error)) PlayerOption {
	return func(p *Player) {
		p.workerOpts = append(p.workerOpts, pipeline.WithErrorHandler[*pipeline.Event[*audio.Chunk]](onError))
	}
}

// NewPlayer builds a player over its device. Call Start to begin playback.
func NewPlayer(device Device, opts ...PlayerOption) *Player {
	p := &Player{
		device:    device,
		allowance: DefaultPacingAllowance,
		now:       time.Now,
		sleep:     time.Sleep,
	}
	for _, opt := range opts {
		opt(p)
	}

	workerOpts := append(
		[]pipeline.WorkerOption[*pipeline.Event[*audio.Chunk]]{
			pipeline.WithName[*pipeline.Event[*audio.Chunk]]("playback"),
		},
		p.workerOpts...,
	)
	p.worker = pipeline.NewInterruptibleWorker(
		pipeline.NewQueue[*pipeline.Event[*audio.Chunk]](),
		p.play,
		p.discard,
		workerOpts...,
	)
	return p
}

// Start launches the playback loop.
func (p *Player) Start(ctx context.Context) { p.worker.Start(ctx) }

// Terminate stops the playback loop and waits for it to exit.
func (p *Player) Terminate() { p.worker.Terminate() }

// Enqueue hands one chunk event to the player. It reports whether the event
// was accepted.
func (p *Player) Enqueue(event *pipeline.Event[*audio.Chunk]) bool {
	return p.worker.Queue().Push(event)
}

// Pending reports how many chunks are queued but not yet picked up.
func (p *Player) Pending() int { return p.worker.Queue().Len() }

// Interrupt drops every queued chunk, flushes the device's own buffer when it
// has one, and forwards the interrupt signal to the device. The chunk the
// player is currently pacing is handled by its own event, not here.
func (p *Player) Interrupt() {
	for _, event := range p.worker.Queue().Clear() {
		event.Interrupt()
		event.Payload.MarkInterrupted()
	}
	if clearer, ok := p.device.(BufferClearer); ok {
		_ = clearer.Clear()
	}
	p.device.Interrupt()
}

func (p *Player) play(ctx context.Context, event *pipeline.Event[*audio.Chunk]) error {
	chunk := event.Payload
	defer p.signalIfIdle()

	start := p.now()
	if err := p.device.Play(ctx, chunk); err != nil {
		chunk.MarkInterrupted()
		if errors.Is(err, ErrInterrupted) {
			return nil
		}
		return err
	}
	chunk.MarkPlayed()

	speechLength := chunk.Duration(p.device.EncodingInfo())
	delay := speechLength - p.now().Sub(start) - p.allowance
	if delay > 0 {
		p.sleep(delay)
	}
	return nil
}

func (p *Player) discard(event *pipeline.Event[*audio.Chunk]) {
	event.Payload.MarkInterrupted()
	p.signalIfIdle()
}

func (p *Player) signalIfIdle() {
	if p.onIdle != nil && p.worker.Queue().Len() == 0 {
		p.onIdle()
	}
}
