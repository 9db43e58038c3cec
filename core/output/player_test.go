package output

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/voicewire/voicewire-core/core/audio"
	"github.com/voicewire/voicewire-core/core/pipeline"
)

type fakeClock struct {
	mu      sync.Mutex
	current time.Time
	slept   []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{current: time.Unix(1700000000, 0)}
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.current = c.current.Add(d)
	c.mu.Unlock()
}

func (c *fakeClock) sleep(d time.Duration) {
	c.mu.Lock()
	c.slept = append(c.slept, d)
	c.mu.Unlock()
}

func (c *fakeClock) totalSlept() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	var total time.Duration
	for _, d := range c.slept {
		total += d
	}
	return total
}

type fakeDevice struct {
	encoding  audio.EncodingInfo
	clock     *fakeClock
	playDelay time.Duration
	playErr   error

	mu         sync.Mutex
	played     [][]byte
	cleared    int
	interrupts int
}

func (d *fakeDevice) EncodingInfo() audio.EncodingInfo { return d.encoding }

func (d *fakeDevice) Play(_ context.Context, chunk *audio.Chunk) error {
	if d.clock != nil {
		d.clock.advance(d.playDelay)
	}
	if d.playErr != nil {
		return d.playErr
	}
	d.mu.Lock()
	d.played = append(d.played, chunk.Data)
	d.mu.Unlock()
	return nil
}

func (d *fakeDevice) Clear() error {
	d.mu.Lock()
	d.cleared++
	d.mu.Unlock()
	return nil
}

func (d *fakeDevice) Interrupt() {
	d.mu.Lock()
	d.interrupts++
	d.mu.Unlock()
}

func mulawEncoding() audio.EncodingInfo {
	return audio.EncodingInfo{SampleRate: 8000, Format: audio.EncodingMulaw}
}

func TestPlayerPacesToRealTime(t *testing.T) {
	clock := newFakeClock()
	device := &fakeDevice{encoding: mulawEncoding(), clock: clock, playDelay: 100 * time.Millisecond}
	player := NewPlayer(device, WithPacingAllowance(50*time.Millisecond))
	player.now = clock.now
	player.sleep = clock.sleep

	// One second of mulaw audio at 8kHz.
	chunk := audio.NewChunk(make([]byte, 8000))
	event := pipeline.NewEvent(chunk)
	if err := player.play(context.Background(), event); err != nil {
		t.Fatalf("expected no playback error, got %v", err)
	}

	if got, want := clock.totalSlept(), 850*time.Millisecond; got != want {
		t.Fatalf("expected a pacing sleep of %v, got %v", want, got)
	}
	if chunk.State() != audio.ChunkPlayed {
		t.Fatalf("expected chunk state %v, got %v", audio.ChunkPlayed, chunk.State())
	}
}

func TestPlayerSkipsPacingWhenDeliveryLags(t *testing.T) {
	clock := newFakeClock()
	device := &fakeDevice{encoding: mulawEncoding(), clock: clock, playDelay: 2 * time.Second}
	player := NewPlayer(device)
	player.now = clock.now
	player.sleep = clock.sleep

	event := pipeline.NewEvent(audio.NewChunk(make([]byte, 8000)))
	if err := player.play(context.Background(), event); err != nil {
		t.Fatalf("expected no playback error, got %v", err)
	}
	if got := clock.totalSlept(); got != 0 {
		t.Fatalf("expected no pacing sleep behind real time, got %v", got)
	}
}

func TestPlayerCommitsPlayedChunks(t *testing.T) {
	clock := newFakeClock()
	device := &fakeDevice{encoding: mulawEncoding(), clock: clock}
	played := make(chan struct{}, 1)
	chunk := audio.NewChunk(make([]byte, 800), audio.WithOnPlay(func() { played <- struct{}{} }))
	event := pipeline.NewEvent(chunk)

	player := NewPlayer(device)
	player.now = clock.now
	player.sleep = clock.sleep
	player.Start(t.Context())
	defer player.Terminate()

	player.Enqueue(event)
	select {
	case <-played:
	case <-time.After(time.Second):
		t.Fatalf("expected the chunk to play")
	}
	player.Terminate()

	if event.Interrupt() {
		t.Fatalf("expected a played chunk's event to be past its point of no return")
	}
}

func TestPlayerDiscardsInterruptedChunksWithoutDelivery(t *testing.T) {
	clock := newFakeClock()
	device := &fakeDevice{encoding: mulawEncoding(), clock: clock}
	interrupted := make(chan struct{}, 1)
	chunk := audio.NewChunk(make([]byte, 8000), audio.WithOnInterrupt(func() { interrupted <- struct{}{} }))
	event := pipeline.NewEvent(chunk)
	event.Interrupt()

	player := NewPlayer(device)
	player.now = clock.now
	player.sleep = clock.sleep
	player.Start(t.Context())

	player.Enqueue(event)
	select {
	case <-interrupted:
	case <-time.After(time.Second):
		t.Fatalf("expected the chunk to be discarded")
	}
	player.Terminate()

	if len(device.played) != 0 {
		t.Fatalf("expected no delivery for a discarded chunk, got %d", len(device.played))
	}
	if got := clock.totalSlept(); got != 0 {
		t.Fatalf("expected no pacing sleep for a discarded chunk, got %v", got)
	}
}

func TestPlayerTreatsDeviceInterruptAsDiscard(t *testing.T) {
	clock := newFakeClock()
	device := &fakeDevice{encoding: mulawEncoding(), clock: clock, playErr: ErrInterrupted}
	player := NewPlayer(device)
	player.now = clock.now
	player.sleep = clock.sleep

	chunk := audio.NewChunk(make([]byte, 8000))
	if err := player.play(context.Background(), pipeline.NewEvent(chunk)); err != nil {
		t.Fatalf("expected an interrupted delivery to not be an error, got %v", err)
	}
	if chunk.State() != audio.ChunkInterrupted {
		t.Fatalf("expected chunk state %v, got %v", audio.ChunkInterrupted, chunk.State())
	}
}

func TestPlayerReportsDeliveryFailures(t *testing.T) {
	clock := newFakeClock()
	deviceErr := errors.New("sink gone")
	device := &fakeDevice{encoding: mulawEncoding(), clock: clock, playErr: deviceErr}
	player := NewPlayer(device)
	player.now = clock.now
	player.sleep = clock.sleep

	chunk := audio.NewChunk(make([]byte, 8000))
	err := player.play(context.Background(), pipeline.NewEvent(chunk))
	if !errors.Is(err, deviceErr) {
		t.Fatalf("expected the device error back, got %v", err)
	}
	if chunk.State() != audio.ChunkInterrupted {
		t.Fatalf("expected an abandoned chunk to read interrupted, got %v", chunk.State())
	}
}

func TestPlayerInterruptDrainsQueueAndClearsDevice(t *testing.T) {
	device := &fakeDevice{encoding: mulawEncoding()}
	player := NewPlayer(device)

	first := audio.NewChunk(make([]byte, 100))
	second := audio.NewChunk(make([]byte, 100))
	player.Enqueue(pipeline.NewEvent(first))
	player.Enqueue(pipeline.NewEvent(second))

	player.Interrupt()

	if got := player.Pending(); got != 0 {
		t.Fatalf("expected an empty queue after interrupt, got %d pending", got)
	}
	for i, chunk := range []*audio.Chunk{first, second} {
		if chunk.State() != audio.ChunkInterrupted {
			t.Fatalf("expected chunk %d to be interrupted, got %v", i, chunk.State())
		}
	}
	if device.cleared != 1 {
		t.Fatalf("expected one device clear, got %d", device.cleared)
	}
	if device.interrupts != 1 {
		t.Fatalf("expected one device interrupt signal, got %d", device.interrupts)
	}
}

func TestPlayerSignalsIdleAfterLastChunk(t *testing.T) {
	clock := newFakeClock()
	device := &fakeDevice{encoding: mulawEncoding(), clock: clock}
	idle := make(chan struct{}, 1)
	player := NewPlayer(device, WithOnIdle(func() {
		select {
		case idle <- struct{}{}:
		default:
		}
	}))
	player.now = clock.now
	player.sleep = clock.sleep
	player.Start(t.Context())
	defer player.Terminate()

	player.Enqueue(pipeline.NewEvent(audio.NewChunk(make([]byte, 800))))
	select {
	case <-idle:
	case <-time.After(time.Second):
		t.Fatalf("expected an idle signal after the queue drained")
	}
}
