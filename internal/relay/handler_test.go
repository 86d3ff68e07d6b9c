package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"batchrelay/internal/batch"
	"batchrelay/internal/cache"
	"batchrelay/internal/config"
	"batchrelay/internal/jsonrpc"
	"batchrelay/internal/metrics"
)

// echoService answers every item immediately with its method as the result.
type echoService struct {
	mu    sync.Mutex
	calls int
}

func (s *echoService) Process(_ context.Context, ctrl batch.Control[*jsonrpc.Request]) (*batch.Promise[*jsonrpc.Response], error) {
	if ctrl.IsFlush() {
		return nil, nil
	}
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()

	req := ctrl.Request()
	result, _ := json.Marshal(req.Method)
	p := batch.NewPromise[*jsonrpc.Response]()
	p.Resolve(jsonrpc.NewResponseRaw(req.ID, result))
	return p, nil
}

func (s *echoService) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type testRelay struct {
	handler *Handler
	batcher *batch.Batch[*jsonrpc.Request, *jsonrpc.Response]
	service *echoService
}

func newTestRelay(t *testing.T, cfg *config.Config) *testRelay {
	t.Helper()

	svc := &echoService{}
	b := batch.New[*jsonrpc.Request, *jsonrpc.Response](svc, 8, 5*time.Millisecond, zerolog.Nop())
	t.Cleanup(b.Close)

	var rpcCache cache.Cache = cache.NewNoopCache()
	if cfg.IsCacheEnabled() {
		mc, err := cache.NewMemoryCache(cfg.Cache.Size, cfg.Cache.GetTTLDuration())
		if err != nil {
			t.Fatalf("NewMemoryCache: %v", err)
		}
		t.Cleanup(mc.Close)
		rpcCache = mc
	}

	collector := metrics.NewCollector("test", prometheus.NewRegistry())
	return &testRelay{
		handler: NewHandler(b, rpcCache, collector, cfg, zerolog.Nop()),
		batcher: b,
		service: svc,
	}
}

func baseConfig() *config.Config {
	return &config.Config{
		RequestTimeout: 2000,
	}
}

func post(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandler_SingleRequest(t *testing.T) {
	tr := newTestRelay(t, baseConfig())

	rec := post(t, tr.handler, `{"jsonrpc":"2.0","method":"eth_chainId","id":1}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	resp, err := jsonrpc.ParseResponse(rec.Body.Bytes())
	if err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if string(resp.Result) != `"eth_chainId"` {
		t.Fatalf("result = %s", resp.Result)
	}
	if resp.ID.Value() != float64(1) {
		t.Fatalf("id = %v", resp.ID.Value())
	}
}

func TestHandler_BatchKeepsOrder(t *testing.T) {
	tr := newTestRelay(t, baseConfig())

	rec := post(t, tr.handler, `[
		{"jsonrpc":"2.0","method":"eth_blockNumber","id":1},
		{"jsonrpc":"2.0","method":"eth_chainId","id":2},
		{"jsonrpc":"2.0","method":"net_version","id":3}
	]`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	responses, isBatch, err := jsonrpc.ParseResponses(rec.Body.Bytes())
	if err != nil || !isBatch {
		t.Fatalf("parse responses: %v, batch=%v", err, isBatch)
	}
	want := []string{`"eth_blockNumber"`, `"eth_chainId"`, `"net_version"`}
	if len(responses) != len(want) {
		t.Fatalf("got %d responses, want %d", len(responses), len(want))
	}
	for i, resp := range responses {
		if string(resp.Result) != want[i] {
			t.Fatalf("responses[%d].Result = %s, want %s", i, resp.Result, want[i])
		}
	}
}

func TestHandler_RejectsNonPOST(t *testing.T) {
	tr := newTestRelay(t, baseConfig())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	tr.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}

func TestHandler_ParseError(t *testing.T) {
	tr := newTestRelay(t, baseConfig())

	rec := post(t, tr.handler, `{not json`)
	resp, err := jsonrpc.ParseResponse(rec.Body.Bytes())
	if err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if !resp.HasError() || resp.Error.Code != jsonrpc.CodeParseError {
		t.Fatalf("response = %+v, want parse error", resp)
	}
}

func TestHandler_InvalidRequest(t *testing.T) {
	tr := newTestRelay(t, baseConfig())

	rec := post(t, tr.handler, `{"jsonrpc":"2.0","id":1}`)
	resp, err := jsonrpc.ParseResponse(rec.Body.Bytes())
	if err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if !resp.HasError() || resp.Error.Code != jsonrpc.CodeInvalidRequest {
		t.Fatalf("response = %+v, want invalid request", resp)
	}
}

func TestHandler_BodyTooLarge(t *testing.T) {
	cfg := baseConfig()
	cfg.MaxBodySize = 16
	tr := newTestRelay(t, cfg)

	rec := post(t, tr.handler, `{"jsonrpc":"2.0","method":"eth_getLogs","id":1}`)
	resp, err := jsonrpc.ParseResponse(rec.Body.Bytes())
	if err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if !resp.HasError() || resp.Error.Code != jsonrpc.CodeInvalidRequest {
		t.Fatalf("response = %+v, want invalid request", resp)
	}
}

func TestHandler_CacheHit(t *testing.T) {
	cfg := baseConfig()
	cfg.Cache = &config.CacheConfig{
		Enabled: true,
		TTL:     30,
		Size:    16,
		Methods: []string{"eth_chainId"},
	}
	tr := newTestRelay(t, cfg)

	body := `{"jsonrpc":"2.0","method":"eth_chainId","id":1}`
	post(t, tr.handler, body)
	rec := post(t, tr.handler, body)

	resp, err := jsonrpc.ParseResponse(rec.Body.Bytes())
	if err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if string(resp.Result) != `"eth_chainId"` {
		t.Fatalf("result = %s", resp.Result)
	}
	if got := tr.service.callCount(); got != 1 {
		t.Fatalf("service saw %d calls, want 1 (second answered from cache)", got)
	}
}

func TestHandler_ClosedSessionMapsToError(t *testing.T) {
	tr := newTestRelay(t, baseConfig())
	tr.batcher.Close()
	<-tr.batcher.Done()

	rec := post(t, tr.handler, `{"jsonrpc":"2.0","method":"eth_chainId","id":1}`)
	resp, err := jsonrpc.ParseResponse(rec.Body.Bytes())
	if err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if !resp.HasError() || resp.Error.Code != jsonrpc.CodeInternalError {
		t.Fatalf("response = %+v, want internal error", resp)
	}
}
