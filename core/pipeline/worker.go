package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
)

// ProcessFunc handles one dequeued item. Returning an error abandons the item
// and keeps the loop running; returning [context.Canceled] (or any error
// wrapping it) is treated as clean shutdown, not a failure.
type ProcessFunc[T any] func(ctx context.Context, item T) error

// Worker pulls items from exactly one input queue in FIFO order and invokes
// its process function on each. Results, if any, are pushed by the process
// function to whatever downstream queue it owns.
//
// The canonical configuration processes one item at a time; concurrency above
// one is a deliberate configuration choice made by running several workers on
// the same queue.
type Worker[T any] struct {
	name    string
	in      *Queue[T]
	process ProcessFunc[T]
	onError func(error)

	// dedicatedThread pins the loop goroutine to an OS thread for process
	// functions that make genuinely blocking native calls.
	dedicatedThread bool

	startOnce sync.Once
	stopOnce  sync.Once
	started   atomic.Bool
	cancel    context.CancelFunc
	done      chan struct{}
}

// WorkerOption configures a Worker.
type WorkerOption[T any] func(*Worker[T])

// WithName labels the worker for error reporting.
func WithName[T any](name string) WorkerOption[T] {
	return func(w *Worker[T]) { w.name = name }
}

// WithErrorHandler registers a callback for per-item processing failures.
// Cancellation is never reported through it.
func WithErrorHandler[T any](onError func(error)) WorkerOption[T] {
	return func(w *Worker[T]) {
		if onError != nil {
			w.onError = onError
		}
	}
}

// WithDedicatedOSThread pins the processing loop to its own OS thread.
//
// Use this for process functions that call into blocking native code; the
// queue pair stays the only hand-off point between the pinned loop and the
// rest of the pipeline.
func WithDedicatedOSThread[T any]() WorkerOption[T] {
	return func(w *Worker[T]) { w.dedicatedThread = true }
}

// NewWorker builds a worker over its input queue. Call Start to begin
// processing.
func NewWorker[T any](in *Queue[T], process ProcessFunc[T], opts ...WorkerOption[T]) *Worker[T] {
	w := &Worker[T]{
		name:    "worker",
		in:      in,
		process: process,
		onError: func(error) {},
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start launches the processing loop. Only the first call has any effect.
func (w *Worker[T]) Start(ctx context.Context) {
	w.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(ctx)
		w.cancel = cancel
		w.started.Store(true)

		go func() {
			defer close(w.done)
			if w.dedicatedThread {
				runtime.LockOSThread()
				defer runtime.UnlockOSThread()
			}

			for {
				item, ok := w.in.Receive(ctx)
				if !ok {
					return
				}
				if ctx.Err() != nil {
					// Terminated while an item was pending; the item is
					// abandoned, not retried.
					return
				}
				w.runProtected(ctx, item)
			}
		}()
	})
}

// Terminate cancels the loop and waits for it to exit. A pending queue
// receive is interrupted; an in-flight item runs to its next cancellation
// checkpoint and is then abandoned.
func (w *Worker[T]) Terminate() {
	w.stopOnce.Do(func() {
		if w.cancel != nil {
			w.cancel()
		}
	})
	if w.started.Load() {
		<-w.done
	}
}

// Queue returns the worker's input queue.
func (w *Worker[T]) Queue() *Queue[T] { return w.in }

func (w *Worker[T]) runProtected(ctx context.Context, item T) {
	defer func() {
		if recovered := recover(); recovered != nil {
			w.onError(fmt.Errorf("%s worker panicked: %v", w.name, recovered))
		}
	}()

	if err := w.process(ctx, item); err != nil && !errors.Is(err, context.Canceled) {
		w.onError(fmt.Errorf("%s worker failed to process item: %w", w.name, err))
	}
}

// InterruptibleWorker processes a queue of interruptible events one at a time
// to completion or cancellation.
//
// Events that were interrupted while still queued are discarded without side
// effects. An event whose process function completes is pushed past its point
// of no return so a late interrupt cannot retroactively cancel committed
// output.
type InterruptibleWorker[T any] struct {
	worker    *Worker[*Event[T]]
	onDiscard func(*Event[T])
}

// NewInterruptibleWorker builds the interruptible specialization. onDiscard,
// when non-nil, observes events dropped because they were interrupted before
// processing started.
func NewInterruptibleWorker[T any](
	in *Queue[*Event[T]],
	process ProcessFunc[*Event[T]],
	onDiscard func(*Event[T]),
	opts ...WorkerOption[*Event[T]],
) *InterruptibleWorker[T] {
	iw := &InterruptibleWorker[T]{onDiscard: onDiscard}
	wrapped := func(ctx context.Context, event *Event[T]) error {
		if event.Interrupted() {
			if iw.onDiscard != nil {
				iw.onDiscard(event)
			}
			return nil
		}

		if err := process(ctx, event); err != nil {
			return err
		}
		if !event.Interrupted() {
			event.PassPointOfNoReturn()
		}
		return nil
	}
	iw.worker = NewWorker(in, wrapped, opts...)
	return iw
}

// Start launches the processing loop. Only the first call has any effect.
func (w *InterruptibleWorker[T]) Start(ctx context.Context) { w.worker.Start(ctx) }

// Terminate cancels the loop and waits for it to exit.
func (w *InterruptibleWorker[T]) Terminate() { w.worker.Terminate() }

// Queue returns the worker's input queue.
func (w *InterruptibleWorker[T]) Queue() *Queue[*Event[T]] { return w.worker.Queue() }
