package upstream

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"batchrelay/internal/batch"
	"batchrelay/internal/jsonrpc"
	"batchrelay/internal/metrics"
)

// pendingCall is one buffered request together with the wire ID it was
// assigned and the promise its caller is waiting on.
type pendingCall struct {
	req     *jsonrpc.Request
	id      int64
	promise *batch.Promise[*jsonrpc.Response]
}

// Forwarder is the wrapped service behind the batching middleware. Item
// controls are buffered; the flush marker turns the buffer into a single
// JSON-RPC batch call against the upstream, and each buffered promise is
// settled from the matching response.
//
// The batch worker owns the Forwarder exclusively, so it keeps no locks.
type Forwarder struct {
	transport Transport
	collector *metrics.Collector
	logger    zerolog.Logger

	buf    []*pendingCall
	nextID int64
}

// NewForwarder creates a Forwarder sending batches through transport.
func NewForwarder(transport Transport, collector *metrics.Collector, logger zerolog.Logger) *Forwarder {
	return &Forwarder{
		transport: transport,
		collector: collector,
		logger:    logger.With().Str("component", "forwarder").Logger(),
	}
}

// Process implements batch.Service.
func (f *Forwarder) Process(ctx context.Context, ctrl batch.Control[*jsonrpc.Request]) (*batch.Promise[*jsonrpc.Response], error) {
	if ctrl.IsFlush() {
		return nil, f.flush(ctx)
	}

	f.nextID++
	p := batch.NewPromise[*jsonrpc.Response]()
	f.buf = append(f.buf, &pendingCall{
		req:     ctrl.Request(),
		id:      f.nextID,
		promise: p,
	})
	return p, nil
}

// flush sends every buffered request upstream as one batch and settles the
// buffered promises from the responses. A transport failure is fatal to the
// batching session; a missing or error response for an individual request is
// not, and settles just that request.
func (f *Forwarder) flush(ctx context.Context) error {
	if len(f.buf) == 0 {
		return nil
	}
	calls := f.buf
	f.buf = nil

	wire := make([]*jsonrpc.Request, len(calls))
	byID := make(map[int64]*pendingCall, len(calls))
	for i, c := range calls {
		// The client's ID is restored on the way back; on the wire each
		// request gets a unique numeric ID for correlation.
		req := c.req.Clone()
		req.ID = jsonrpc.NewIDInt(c.id)
		wire[i] = req
		byID[c.id] = c
	}

	f.logger.Debug().Int("items", len(calls)).Msg("sending batch upstream")

	responses, err := f.transport.SendBatch(ctx, wire)
	if err != nil {
		f.collector.ObserveBatch(len(calls), "error")
		return fmt.Errorf("upstream batch failed: %w", err)
	}
	f.collector.ObserveBatch(len(calls), "ok")

	for _, resp := range responses {
		id, ok := wireID(resp.ID)
		if !ok {
			f.logger.Warn().Msg("upstream response with non-numeric ID")
			continue
		}
		call, ok := byID[id]
		if !ok {
			f.logger.Warn().Int64("id", id).Msg("upstream response for unknown request")
			continue
		}
		delete(byID, id)

		out := resp.Clone()
		out.ID = call.req.ID
		call.promise.Resolve(out)
	}

	// Requests the upstream never answered fail individually.
	for _, call := range byID {
		f.logger.Warn().Str("method", call.req.Method).Msg("upstream returned no response for request")
		call.promise.Resolve(jsonrpc.NewErrorResponse(call.req.ID,
			jsonrpc.NewError(jsonrpc.CodeInternalError, "upstream returned no response")))
	}
	return nil
}
