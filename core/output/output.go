// Package output delivers synthesized audio chunks to a playback sink at
// real-time pace.
//
// The pacing sleep is what makes a chunk actually interruptible: a producer
// cannot push the next chunk, and cannot be told "done", faster than
// real-world playback would allow. Without it a whole response could be
// dumped into an unskippable downstream buffer before the caller had any
// chance to interrupt.
package output

import (
	"context"
	"errors"

	"github.com/voicewire/voicewire-core/core/audio"
)

// ErrInterrupted is returned by devices whose in-flight delivery was cut off
// by a buffer clear before the sink confirmed playback.
var ErrInterrupted = errors.New("playback interrupted")

// Device is one playback sink.
//
// Play hands one chunk to the sink and returns once the sink has accepted it
// (or, for acknowledging sinks, once playback is confirmed). The sink may use
// the chunk's ID as its wire-level mark name but never touches its state.
// Interrupt is a pure signal: for the wire-device family nothing already sent
// can be recalled, so stopping chunk production upstream is sufficient, and
// implementations typically make it a no-op.
type Device interface {
	EncodingInfo() audio.EncodingInfo
	Play(ctx context.Context, chunk *audio.Chunk) error
	Interrupt()
}

// BufferClearer is an optional Device capability: sinks that buffer audio
// they have not yet played expose Clear so an interrupt can flush them.
type BufferClearer interface {
	Clear() error
}
