// Package agents defines the boundary to the conversational agent that turns
// completed user utterances into responses.
package agents

import (
	"context"
	"sync"
)

// Input is one completed user utterance handed to the agent, tagged with the
// handle that tracks the turn's generation.
type Input struct {
	Message string
	Handle  *ResponseHandle
}

// ResponseHandle releases anyone awaiting the completion of one turn's
// generation. Completing is idempotent.
type ResponseHandle struct {
	once sync.Once
	done chan struct{}
}

// NewResponseHandle returns an uncompleted handle.
func NewResponseHandle() *ResponseHandle {
	return &ResponseHandle{done: make(chan struct{})}
}

// Complete releases every waiter. Only the first call has any effect.
func (h *ResponseHandle) Complete() {
	h.once.Do(func() { close(h.done) })
}

// Done returns a channel closed once the turn's generation completed.
func (h *ResponseHandle) Done() <-chan struct{} {
	return h.done
}

// Await blocks until the turn's generation completed or ctx is cancelled.
func (h *ResponseHandle) Await(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-h.done:
		return nil
	}
}

// Response is one item on the agent's output queue. The set of responses is
// closed: Message, FillerAudio, GenerationComplete, and Stop.
type Response interface {
	isResponse()
}

// Message carries one piece of response text, as small as a single token.
type Message struct {
	Text string
}

// FillerAudio asks the output side to play a pre-rendered filler phrase while
// the agent is still thinking.
type FillerAudio struct {
	Phrase string
}

// GenerationComplete signals that the turn's generation finished and the
// response handle was completed.
type GenerationComplete struct{}

// Stop signals that the agent decided the conversation is over.
type Stop struct{}

func (Message) isResponse()            {}
func (FillerAudio) isResponse()        {}
func (GenerationComplete) isResponse() {}
func (Stop) isResponse()               {}

// Agent generates responses for completed utterances. Implementations publish
// responses in order and finish every turn with GenerationComplete (possibly
// preceded by Stop), even when the generation was cancelled.
type Agent interface {
	RespondTo(ctx context.Context, input Input, publish func(Response)) error
}
