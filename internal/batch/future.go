package batch

import "context"

// Future resolves to the wrapped service's result for a single request. It is
// returned by Call and must be waited on at most once.
type Future[Result any] struct {
	slot   <-chan slotValue[Result]
	handle *handle
	err    error
}

// newFuture wraps a message's response slot.
func newFuture[Result any](slot <-chan slotValue[Result], h *handle) *Future[Result] {
	return &Future[Result]{slot: slot, handle: h}
}

// failedFuture resolves immediately with err. Used when the request never
// made it into the queue.
func failedFuture[Result any](err error) *Future[Result] {
	return &Future[Result]{err: err}
}

// Wait blocks until the result is available or ctx is done. It never blocks
// past the worker's death: once the worker has exited, a future whose slot
// was never written resolves with the session's terminal error.
func (f *Future[Result]) Wait(ctx context.Context) (Result, error) {
	if f.err != nil {
		var zero Result
		return zero, f.err
	}
	select {
	case sv := <-f.slot:
		return f.settle(ctx, sv)
	case <-ctx.Done():
		var zero Result
		return zero, ctx.Err()
	case <-f.handle.done:
		// The worker exited, but it may have written the slot just before
		// that. Prefer a late result over the terminal error.
		select {
		case sv := <-f.slot:
			return f.settle(ctx, sv)
		default:
			var zero Result
			return zero, f.handle.errorOnClosed()
		}
	}
}

func (f *Future[Result]) settle(ctx context.Context, sv slotValue[Result]) (Result, error) {
	if sv.err != nil {
		var zero Result
		return zero, sv.err
	}
	return sv.promise.Wait(ctx)
}
