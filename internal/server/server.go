// Package server wires the relay together: cache, upstream transport,
// batching session, HTTP endpoints.
package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"batchrelay/internal/batch"
	"batchrelay/internal/cache"
	"batchrelay/internal/config"
	"batchrelay/internal/jsonrpc"
	"batchrelay/internal/metrics"
	"batchrelay/internal/relay"
	"batchrelay/internal/upstream"
)

// Server represents the main server
type Server struct {
	cfg              *config.Config
	cache            cache.Cache
	transport        upstream.Transport
	monitorTransport upstream.Transport
	batcher          *batch.Batch[*jsonrpc.Request, *jsonrpc.Response]
	status           *upstream.Status
	monitor          *upstream.Monitor
	collector        *metrics.Collector
	registry         *prometheus.Registry
	httpSrv          *http.Server
	logger           zerolog.Logger
}

// New creates a new Server
func New(cfg *config.Config, logger zerolog.Logger) (*Server, error) {
	// Create cache based on config
	var rpcCache cache.Cache
	if cfg.IsCacheEnabled() {
		var err error
		rpcCache, err = cache.NewMemoryCache(cfg.Cache.Size, cfg.Cache.GetTTLDuration())
		if err != nil {
			return nil, fmt.Errorf("failed to create cache: %w", err)
		}
		logger.Info().
			Int("size", cfg.Cache.Size).
			Int("ttl", cfg.Cache.TTL).
			Strs("methods", cfg.Cache.Methods).
			Msg("cache enabled")
	} else {
		rpcCache = cache.NewNoopCache()
		logger.Info().Msg("cache disabled")
	}

	transport, err := newTransport(cfg, logger)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector("batchrelay", registry)

	forwarder := upstream.NewForwarder(transport, collector, logger)
	batcher := batch.New[*jsonrpc.Request, *jsonrpc.Response](
		forwarder,
		cfg.Batch.MaxItems,
		cfg.Batch.GetMaxLatencyDuration(),
		logger,
	)
	logger.Info().
		Int("maxItems", cfg.Batch.MaxItems).
		Int("maxLatency", cfg.Batch.MaxLatency).
		Msg("batching enabled")

	status := upstream.NewStatus()
	var monitor *upstream.Monitor
	var monitorTransport upstream.Transport
	if interval := cfg.Upstream.GetHealthCheckIntervalDuration(); interval > 0 {
		// The monitor gets its own transport: probe wire IDs and batch wire
		// IDs live in separate spaces only if their connections do.
		monitorTransport, err = newTransport(cfg, logger)
		if err != nil {
			transport.Close()
			return nil, err
		}
		monitor = upstream.NewMonitor(status, monitorTransport, interval, logger)
	}

	return &Server{
		cfg:              cfg,
		cache:            rpcCache,
		transport:        transport,
		monitorTransport: monitorTransport,
		batcher:          batcher,
		status:           status,
		monitor:          monitor,
		collector:        collector,
		registry:         registry,
		logger:           logger,
	}, nil
}

// newTransport builds the upstream transport the config asks for.
func newTransport(cfg *config.Config, logger zerolog.Logger) (upstream.Transport, error) {
	timeout := cfg.GetRequestTimeoutDuration()
	switch cfg.Upstream.Transport {
	case config.TransportHTTP:
		return upstream.NewHTTPTransport(cfg.Upstream.RPCURL, timeout, logger), nil
	case config.TransportWS:
		return upstream.NewWSTransport(cfg.Upstream.WSURL, timeout, 30*time.Second, logger), nil
	default:
		return nil, fmt.Errorf("unknown upstream transport: %s", cfg.Upstream.Transport)
	}
}

// Start starts the server
func (s *Server) Start() error {
	if s.monitor != nil {
		s.monitor.Start()
	}

	rpcHandler := relay.NewHandler(s.batcher, s.cache, s.collector, s.cfg, s.logger)

	mux := http.NewServeMux()
	mux.Handle("/", s.instrument(s.rateLimit(rpcHandler)))
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", s.handleHealthz)

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		s.logger.Info().
			Str("addr", addr).
			Str("upstream", s.cfg.Upstream.Name).
			Msg("starting RPC server")
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("RPC server error")
		}
	}()

	return nil
}

// Stop gracefully stops the server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("shutting down server...")

	var httpErr error
	if s.httpSrv != nil {
		httpErr = s.httpSrv.Shutdown(ctx)
	}

	if s.monitor != nil {
		s.monitor.Stop()
	}

	// Closing the front-end lets the worker flush any partial batch.
	s.batcher.Close()
	select {
	case <-s.batcher.Done():
	case <-ctx.Done():
		s.logger.Warn().Msg("batch worker did not stop in time")
	}
	if err := s.batcher.Err(); err != nil {
		s.logger.Warn().Err(err).Msg("batch worker stopped with error")
	}

	s.transport.Close()
	if s.monitorTransport != nil {
		s.monitorTransport.Close()
	}
	s.cache.Close()

	if httpErr != nil {
		return fmt.Errorf("RPC server shutdown error: %w", httpErr)
	}

	s.logger.Info().Msg("server stopped")
	return nil
}

// handleHealthz reports upstream probe status.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if !s.status.Healthy() {
		http.Error(w, "upstream unhealthy", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// rateLimit rejects requests beyond the configured rate with 429.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	if !s.cfg.IsRateLimitEnabled() {
		return next
	}
	limiter := rate.NewLimiter(rate.Limit(s.cfg.RateLimit.RPS), s.cfg.RateLimit.Burst)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			http.Error(w, "too many requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

// instrument records request counts and latency per status code.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.collector.ObserveHTTPRequest(strconv.Itoa(rec.status), time.Since(start))
	})
}
