package batch

import (
	"errors"
	"sync"
)

// ErrWorkerClosed is reported when the worker has stopped without recording a
// reason: either every front-end was closed, or the worker goroutine died
// before it could store one.
var ErrWorkerClosed = errors.New("batch: worker closed")

// handle is the terminal-state cell shared by every front-end clone. It is
// written at most once, when the worker exits, and read any number of times.
type handle struct {
	done chan struct{}
	once sync.Once
	err  error
}

func newHandle() *handle {
	return &handle{done: make(chan struct{})}
}

// close records the worker's terminal error (nil for a clean shutdown) and
// unblocks everyone watching done. Later calls are no-ops.
func (h *handle) close(err error) {
	h.once.Do(func() {
		h.err = err
		close(h.done)
	})
}

// errorOnClosed returns the stored terminal error, falling back to
// ErrWorkerClosed when the worker exited without reporting one.
func (h *handle) errorOnClosed() error {
	select {
	case <-h.done:
		if h.err != nil {
			return h.err
		}
		return ErrWorkerClosed
	default:
		return ErrWorkerClosed
	}
}
