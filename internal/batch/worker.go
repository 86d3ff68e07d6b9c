package batch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// ErrDropped is reported for a request whose batch was flushed without the
// wrapped service settling its promise. It indicates a broken Service
// implementation, not a caller mistake.
var ErrDropped = errors.New("batch: request dropped without a response")

// worker owns the wrapped service and drains the queue. It is the only
// goroutine that ever touches the service, so the service needs no internal
// locking.
type worker[Request, Result any] struct {
	queue      chan message[Request, Result]
	permits    chan struct{}
	handle     *handle
	service    Service[Request, Result]
	maxItems   int
	maxLatency time.Duration
	logger     zerolog.Logger

	// inflight holds the promises handed out since the last completed
	// flush, in enqueue order.
	inflight []*Promise[Result]
}

// run drives the collect/flush loop until the queue closes or the wrapped
// service fails. The deferred cleanup runs even if the loop dies abnormally,
// so front-ends and pending futures always observe a terminal state.
func (w *worker[Request, Result]) run() {
	var err error
	defer func() {
		fail := err
		if fail == nil {
			fail = ErrWorkerClosed
		}
		w.failInflight(fail)
		w.handle.close(err)
		w.drainQueue(fail)
	}()
	err = w.loop()
	if err != nil {
		w.logger.Error().Err(err).Msg("batch worker stopped")
	} else {
		w.logger.Debug().Msg("batch worker stopped")
	}
}

func (w *worker[Request, Result]) loop() error {
	timer := time.NewTimer(w.maxLatency)
	stopTimer(timer)
	defer timer.Stop()

	for {
		if len(w.inflight) == 0 {
			// Empty batch: nothing to time out yet, just wait for work.
			msg, ok := <-w.queue
			if !ok {
				return nil
			}
			// The latency bound is measured from the first accepted item.
			timer.Reset(w.maxLatency)
			if err := w.accept(msg); err != nil {
				return err
			}
			if len(w.inflight) >= w.maxItems {
				if err := w.flush("count"); err != nil {
					return err
				}
				stopTimer(timer)
			}
			continue
		}

		select {
		case msg, ok := <-w.queue:
			if !ok {
				// Producers are gone; flush the partial batch and stop.
				return w.flush("shutdown")
			}
			if err := w.accept(msg); err != nil {
				return err
			}
			if len(w.inflight) >= w.maxItems {
				if err := w.flush("count"); err != nil {
					return err
				}
				stopTimer(timer)
			}
		case <-timer.C:
			if err := w.flush("latency"); err != nil {
				return err
			}
		}
	}
}

// accept forwards one message's request to the wrapped service and hands the
// resulting promise back through the message's response slot.
func (w *worker[Request, Result]) accept(msg message[Request, Result]) error {
	// The queue slot is free again as soon as the message is out.
	w.permits <- struct{}{}

	w.logger.Trace().Msg("forwarding request to wrapped service")
	promise, err := w.service.Process(msg.ctx, Item(msg.req))
	if err != nil {
		err = fmt.Errorf("batch: wrapped service failed: %w", err)
		msg.slot <- slotValue[Result]{err: err}
		return err
	}
	msg.slot <- slotValue[Result]{promise: promise}
	w.inflight = append(w.inflight, promise)
	return nil
}

// flush sends the batch boundary marker and waits for the wrapped service to
// acknowledge the commit.
func (w *worker[Request, Result]) flush(trigger string) error {
	if len(w.inflight) == 0 {
		return nil
	}
	w.logger.Debug().
		Int("items", len(w.inflight)).
		Str("trigger", trigger).
		Msg("flushing batch")

	if _, err := w.service.Process(context.Background(), Flush[Request]()); err != nil {
		return fmt.Errorf("batch: wrapped service failed to flush: %w", err)
	}

	// A completed flush means every item since the previous one has its
	// result. A promise the service left unsettled would strand its caller.
	for _, p := range w.inflight {
		p.rejectIfUnsettled(ErrDropped)
	}
	w.inflight = w.inflight[:0]
	return nil
}

// failInflight fans err out to every promise the wrapped service has not
// settled yet.
func (w *worker[Request, Result]) failInflight(err error) {
	for _, p := range w.inflight {
		p.rejectIfUnsettled(err)
	}
	w.inflight = nil
}

// drainQueue fails every message still sitting in the queue at exit time so
// no response slot is left unwritten. Messages enqueued after this pass are
// caught by their future watching the handle.
func (w *worker[Request, Result]) drainQueue(err error) {
	for {
		select {
		case msg, ok := <-w.queue:
			if !ok {
				return
			}
			msg.slot <- slotValue[Result]{err: err}
		default:
			return
		}
	}
}

// stopTimer stops t and drains a pending tick so Reset starts clean.
func stopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}
