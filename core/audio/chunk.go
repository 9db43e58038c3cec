package audio

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// ChunkState is the lifecycle state of one synthesized audio chunk.
type ChunkState int

const (
	// ChunkUnplayed is the initial state of every chunk.
	ChunkUnplayed ChunkState = iota
	// ChunkPlayed means the chunk was delivered to the output sink.
	ChunkPlayed
	// ChunkInterrupted means the chunk was discarded before delivery.
	ChunkInterrupted
)

func (s ChunkState) String() string {
	switch s {
	case ChunkUnplayed:
		return "unplayed"
	case ChunkPlayed:
		return "played"
	case ChunkInterrupted:
		return "interrupted"
	default:
		return "unknown"
	}
}

// Chunk is one piece of rendered speech for one agent message.
//
// The state transitions exactly once from unplayed to one of the two terminal
// states, and the matching callback fires exactly once. Once enqueued on an
// output device the device owns the chunk exclusively.
type Chunk struct {
	// ID doubles as the mark name on wire outputs that acknowledge playback.
	ID   string
	Data []byte

	mu          sync.Mutex
	state       ChunkState
	onPlay      func()
	onInterrupt func()
}

// ChunkOption configures a chunk at creation.
type ChunkOption func(*Chunk)

// WithOnPlay registers a callback fired when the chunk reaches ChunkPlayed.
func WithOnPlay(callback func()) ChunkOption {
	return func(c *Chunk) { c.onPlay = callback }
}

// WithOnInterrupt registers a callback fired when the chunk reaches
// ChunkInterrupted.
func WithOnInterrupt(callback func()) ChunkOption {
	return func(c *Chunk) { c.onInterrupt = callback }
}

// NewChunk wraps one piece of rendered audio.
func NewChunk(data []byte, opts ...ChunkOption) *Chunk {
	c := &Chunk{
		ID:   uuid.NewString(),
		Data: data,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current lifecycle state.
func (c *Chunk) State() ChunkState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// MarkPlayed moves the chunk to its played terminal state and fires onPlay.
// It reports whether this call performed the transition.
func (c *Chunk) MarkPlayed() bool {
	return c.transition(ChunkPlayed)
}

// MarkInterrupted moves the chunk to its interrupted terminal state and fires
// onInterrupt. It reports whether this call performed the transition.
func (c *Chunk) MarkInterrupted() bool {
	return c.transition(ChunkInterrupted)
}

// Duration returns the real-time playback length of the chunk's audio.
func (c *Chunk) Duration(encodingInfo EncodingInfo) time.Duration {
	return encodingInfo.Duration(len(c.Data))
}

func (c *Chunk) transition(target ChunkState) bool {
	c.mu.Lock()
	if c.state != ChunkUnplayed {
		c.mu.Unlock()
		return false
	}
	c.state = target
	var callback func()
	switch target {
	case ChunkPlayed:
		callback = c.onPlay
	case ChunkInterrupted:
		callback = c.onInterrupt
	}
	c.mu.Unlock()

	if callback != nil {
		callback()
	}
	return true
}
