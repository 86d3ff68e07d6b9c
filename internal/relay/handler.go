// Package relay serves JSON-RPC over HTTP and feeds every request through
// the batching front-end, so concurrent clients share upstream batch calls.
package relay

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"batchrelay/internal/batch"
	"batchrelay/internal/cache"
	"batchrelay/internal/config"
	"batchrelay/internal/jsonrpc"
	"batchrelay/internal/metrics"
)

// Batcher is the slice of the batching front-end the handler uses.
type Batcher interface {
	Ready(ctx context.Context) error
	Call(ctx context.Context, req *jsonrpc.Request) *batch.Future[*jsonrpc.Response]
}

// Handler handles HTTP JSON-RPC requests
type Handler struct {
	batcher      Batcher
	cache        cache.Cache
	collector    *metrics.Collector
	cacheMethods map[string]bool
	maxBodySize  int64
	timeout      time.Duration
	logger       zerolog.Logger
}

// NewHandler creates a new Handler
func NewHandler(batcher Batcher, rpcCache cache.Cache, collector *metrics.Collector, cfg *config.Config, logger zerolog.Logger) *Handler {
	methods := make(map[string]bool)
	if cfg.IsCacheEnabled() {
		for _, m := range cfg.Cache.Methods {
			methods[m] = true
		}
	}
	return &Handler{
		batcher:      batcher,
		cache:        rpcCache,
		collector:    collector,
		cacheMethods: methods,
		maxBodySize:  cfg.MaxBodySize,
		timeout:      cfg.GetRequestTimeoutDuration(),
		logger:       logger.With().Str("component", "relay").Logger(),
	}
}

// ServeHTTP handles HTTP requests
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Only accept POST requests
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, rpcErr := h.readBody(r)
	if rpcErr != nil {
		h.writeJSONRPCError(w, jsonrpc.NewIDNull(), rpcErr)
		return
	}

	requests, isBatch, err := jsonrpc.ParseRequests(body)
	if err != nil {
		h.writeJSONRPCError(w, jsonrpc.NewIDNull(), jsonrpc.ErrParse)
		return
	}

	for _, req := range requests {
		if err := req.Validate(); err != nil {
			h.writeJSONRPCError(w, req.ID, jsonrpc.NewError(jsonrpc.CodeInvalidRequest, err.Error()))
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	responses := h.relay(ctx, requests)
	if isBatch {
		h.writeBatchResponse(w, responses)
	} else {
		h.writeResponse(w, responses[0])
	}
}

// relay answers each request from the cache when it can, and pushes the rest
// through the batching front-end. All misses are submitted before any result
// is awaited, so one client batch lands in as few upstream batches as the
// flush policy allows.
func (h *Handler) relay(ctx context.Context, requests []*jsonrpc.Request) []*jsonrpc.Response {
	responses := make([]*jsonrpc.Response, len(requests))
	futures := make([]*batch.Future[*jsonrpc.Response], len(requests))

	for i, req := range requests {
		if resp, ok := h.cacheLookup(req); ok {
			responses[i] = resp
			h.collector.RecordRPC(req.Method, "cached")
			continue
		}

		if err := h.batcher.Ready(ctx); err != nil {
			responses[i] = h.errorResponse(req, err)
			continue
		}
		futures[i] = h.batcher.Call(ctx, req)
	}

	for i, fut := range futures {
		if fut == nil {
			continue
		}
		req := requests[i]
		resp, err := fut.Wait(ctx)
		if err != nil {
			responses[i] = h.errorResponse(req, err)
			continue
		}
		responses[i] = resp
		if resp.HasError() {
			h.collector.RecordRPC(req.Method, "error")
			continue
		}
		h.collector.RecordRPC(req.Method, "ok")
		h.cacheStore(req, resp)
	}

	return responses
}

// cacheLookup returns a cached response with the request's own ID, when one
// exists.
func (h *Handler) cacheLookup(req *jsonrpc.Request) (*jsonrpc.Response, bool) {
	if !cache.Cacheable(req.Method, req.Params, h.cacheMethods) {
		return nil, false
	}
	key := cache.Key(req.Method, req.Params)
	data, found := h.cache.Get(key)
	if !found {
		h.collector.RecordCacheMiss()
		return nil, false
	}
	resp, err := jsonrpc.ParseResponse(data)
	if err != nil {
		h.collector.RecordCacheMiss()
		return nil, false
	}
	h.collector.RecordCacheHit()
	resp.ID = req.ID
	h.logger.Debug().Str("method", req.Method).Msg("cache hit")
	return resp, true
}

func (h *Handler) cacheStore(req *jsonrpc.Request, resp *jsonrpc.Response) {
	if !cache.Cacheable(req.Method, req.Params, h.cacheMethods) {
		return
	}
	data, err := resp.Bytes()
	if err != nil {
		return
	}
	h.cache.Set(cache.Key(req.Method, req.Params), data)
}

// errorResponse maps a relay-side failure onto a JSON-RPC error response.
func (h *Handler) errorResponse(req *jsonrpc.Request, err error) *jsonrpc.Response {
	h.collector.RecordRPC(req.Method, "error")

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		h.logger.Warn().Str("method", req.Method).Msg("request timed out")
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.NewError(jsonrpc.CodeInternalError, "request timed out"))
	case errors.Is(err, context.Canceled):
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.NewError(jsonrpc.CodeInternalError, "request cancelled"))
	case errors.Is(err, batch.ErrClosed), errors.Is(err, batch.ErrWorkerClosed):
		h.logger.Warn().Str("method", req.Method).Msg("batching session closed")
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.NewError(jsonrpc.CodeInternalError, "service shutting down"))
	default:
		h.logger.Error().Err(err).Str("method", req.Method).Msg("request failed")
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.NewError(jsonrpc.CodeInternalError, "upstream request failed"))
	}
}

func (h *Handler) readBody(r *http.Request) ([]byte, *jsonrpc.Error) {
	if h.maxBodySize > 0 {
		body, err := io.ReadAll(io.LimitReader(r.Body, h.maxBodySize+1))
		if err != nil {
			return nil, jsonrpc.NewError(jsonrpc.CodeParseError, "failed to read request body")
		}
		if int64(len(body)) > h.maxBodySize {
			return nil, jsonrpc.NewError(jsonrpc.CodeInvalidRequest, "request body too large")
		}
		return body, nil
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, jsonrpc.NewError(jsonrpc.CodeParseError, "failed to read request body")
	}
	return body, nil
}

// writeResponse writes a JSON-RPC response
func (h *Handler) writeResponse(w http.ResponseWriter, resp *jsonrpc.Response) {
	w.Header().Set("Content-Type", "application/json")
	data, err := resp.Bytes()
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to marshal response")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Write(data)
}

// writeBatchResponse writes a batch of JSON-RPC responses
func (h *Handler) writeBatchResponse(w http.ResponseWriter, responses []*jsonrpc.Response) {
	w.Header().Set("Content-Type", "application/json")
	data, err := jsonrpc.MarshalResponses(responses)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to marshal batch response")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Write(data)
}

// writeJSONRPCError writes a JSON-RPC error response
func (h *Handler) writeJSONRPCError(w http.ResponseWriter, id jsonrpc.ID, rpcErr *jsonrpc.Error) {
	h.writeResponse(w, jsonrpc.NewErrorResponse(id, rpcErr))
}
