// Package batch turns a request-at-a-time service into a batching one.
//
// A Batch front-end accepts individual requests, queues them behind a
// capacity-1 admission slot, and a single worker goroutine forwards them to
// the wrapped service as item controls, inserting flush markers whenever the
// batch reaches maxItems or the first item of a batch has waited maxLatency.
// Each caller gets a future that resolves with the wrapped service's result
// for exactly its own request.
//
// Failure is terminal: if the wrapped service errors on an item or a flush,
// the session records the error, fails every request already accepted but not
// yet answered, and every later Ready or Call reports the same error. The
// package never retries; callers own their retry policy.
package batch

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// ErrClosed is returned when a front-end is used after its Close.
var ErrClosed = errors.New("batch: front-end closed")

// Service is the wrapped collaborator. It is owned exclusively by the worker
// goroutine, so implementations need not be safe for concurrent use.
//
// For item controls Process returns a promise for that item's result. The
// service may settle it before returning (per-item processing) or hold it and
// settle it during a later flush (buffered processing); either way each item
// control yields exactly one result, no later than the flush that closes its
// batch. For flush controls Process returns (nil, nil) once all work buffered
// since the previous flush is committed.
//
// A non-nil error from Process is fatal to the batching session.
type Service[Request, Result any] interface {
	Process(ctx context.Context, ctrl Control[Request]) (*Promise[Result], error)
}

// shared is the state common to every clone of a front-end.
type shared[Request, Result any] struct {
	queue   chan message[Request, Result]
	permits chan struct{}
	handle  *handle
	refs    atomic.Int32
}

// Batch is the front-end handle to a batching session. It may be cloned;
// clones share one queue and one worker, and race for the single admission
// slot. Backpressure is per queue, not per clone.
type Batch[Request, Result any] struct {
	s      *shared[Request, Result]
	closed atomic.Bool
}

// New wraps service in a batching session and spawns its worker goroutine.
// maxItems bounds the number of items per batch; maxLatency bounds how long
// the first item of a batch may wait before the batch is flushed regardless
// of size. Both must be positive.
func New[Request, Result any](service Service[Request, Result], maxItems int, maxLatency time.Duration, logger zerolog.Logger) *Batch[Request, Result] {
	if maxItems <= 0 {
		panic("batch: maxItems must be positive")
	}
	if maxLatency <= 0 {
		panic("batch: maxLatency must be positive")
	}

	s := &shared[Request, Result]{
		// Capacity 1: just enough to reserve a slot before the message
		// carrying the request exists.
		queue:   make(chan message[Request, Result], 1),
		permits: make(chan struct{}, 1),
		handle:  newHandle(),
	}
	s.permits <- struct{}{}
	s.refs.Store(1)

	w := &worker[Request, Result]{
		queue:      s.queue,
		permits:    s.permits,
		handle:     s.handle,
		service:    service,
		maxItems:   maxItems,
		maxLatency: maxLatency,
		logger:     logger.With().Str("component", "batch").Logger(),
	}
	go w.run()

	return &Batch[Request, Result]{s: s}
}

// Ready reserves the admission slot for a subsequent Call. It blocks while
// the slot is taken and returns nil once the reservation is held; the
// reservation must then be consumed by exactly one Call. When the worker has
// stopped, Ready returns the session's terminal error instead.
func (b *Batch[Request, Result]) Ready(ctx context.Context) error {
	if b.closed.Load() {
		return ErrClosed
	}
	// Don't let a leftover permit win a race against a dead worker.
	select {
	case <-b.s.handle.done:
		return b.s.handle.errorOnClosed()
	default:
	}
	select {
	case <-b.s.permits:
		return nil
	case <-b.s.handle.done:
		return b.s.handle.errorOnClosed()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Call sends a request into the batch. It must only be called while holding
// a reservation from Ready; the returned future resolves with the wrapped
// service's result for exactly this request.
//
// ctx rides along with the request so worker-side logging and the wrapped
// service's processing attribute back to the caller. Cancelling it does not
// recall a request the worker already owns; it only abandons the result.
func (b *Batch[Request, Result]) Call(ctx context.Context, req Request) *Future[Result] {
	if b.closed.Load() {
		return failedFuture[Result](ErrClosed)
	}
	select {
	case <-b.s.handle.done:
		// The worker is gone; the request never enters the queue.
		return failedFuture[Result](b.s.handle.errorOnClosed())
	default:
	}

	msg := message[Request, Result]{
		ctx:  ctx,
		req:  req,
		slot: make(chan slotValue[Result], 1),
	}
	select {
	case b.s.queue <- msg:
		return newFuture(msg.slot, b.s.handle)
	default:
		// A reservation from Ready guarantees the slot is free until this
		// handle uses it. The only way here is skipping Ready.
		panic("batch: Call without Ready; queue full")
	}
}

// Clone returns a new front-end sharing this one's queue and worker. Each
// clone must be closed independently.
func (b *Batch[Request, Result]) Clone() *Batch[Request, Result] {
	b.s.refs.Add(1)
	return &Batch[Request, Result]{s: b.s}
}

// Close releases this front-end. Closing the last clone closes the queue;
// the worker then flushes any partial batch and exits cleanly. Close is
// idempotent per clone and must not race Ready or Call on the same clone.
func (b *Batch[Request, Result]) Close() {
	if !b.closed.CompareAndSwap(false, true) {
		return
	}
	if b.s.refs.Add(-1) == 0 {
		close(b.s.queue)
	}
}

// Done is closed when the worker has exited, cleanly or not.
func (b *Batch[Request, Result]) Done() <-chan struct{} {
	return b.s.handle.done
}

// Err returns the error the worker stopped with. It is nil while the worker
// is running and after a clean shutdown.
func (b *Batch[Request, Result]) Err() error {
	select {
	case <-b.s.handle.done:
		return b.s.handle.err
	default:
		return nil
	}
}
