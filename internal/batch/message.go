package batch

import "context"

// slotValue is what the worker writes into a message's response slot: either
// the promise obtained from the wrapped service, or the terminal error that
// kept the request from being forwarded.
type slotValue[Result any] struct {
	promise *Promise[Result]
	err     error
}

// message is one unit of work traveling from a front-end to the worker.
// Once sent into the queue it is owned by the worker until the slot is
// written. The caller's context rides along so worker-side processing
// attributes back to the originating call.
type message[Request, Result any] struct {
	ctx  context.Context
	req  Request
	slot chan slotValue[Result] // written exactly once by the worker
}
