package batch

import (
	"context"
	"sync/atomic"
)

// outcome is a settled promise value.
type outcome[Result any] struct {
	value Result
	err   error
}

// Promise is the write side of a single-use result slot. The wrapped service
// settles it exactly once per item control, either immediately while handling
// the item or later when the batch is flushed. Settling twice is a
// programming error.
type Promise[Result any] struct {
	settled atomic.Bool
	ch      chan outcome[Result]
}

// NewPromise creates an unsettled promise.
func NewPromise[Result any]() *Promise[Result] {
	return &Promise[Result]{ch: make(chan outcome[Result], 1)}
}

// Resolve completes the promise with a result.
func (p *Promise[Result]) Resolve(value Result) {
	if !p.settled.CompareAndSwap(false, true) {
		panic("batch: promise settled twice")
	}
	p.ch <- outcome[Result]{value: value}
}

// Reject completes the promise with an error.
func (p *Promise[Result]) Reject(err error) {
	if !p.settled.CompareAndSwap(false, true) {
		panic("batch: promise settled twice")
	}
	p.ch <- outcome[Result]{err: err}
}

// rejectIfUnsettled fails the promise unless it already holds a result. The
// worker uses it to fan a fatal error out to promises the wrapped service
// never got to settle.
func (p *Promise[Result]) rejectIfUnsettled(err error) {
	if p.settled.CompareAndSwap(false, true) {
		p.ch <- outcome[Result]{err: err}
	}
}

// Wait blocks until the promise settles or ctx is done. The result may be
// read at most once.
func (p *Promise[Result]) Wait(ctx context.Context) (Result, error) {
	select {
	case out := <-p.ch:
		return out.value, out.err
	case <-ctx.Done():
		var zero Result
		return zero, ctx.Err()
	}
}
