package upstream

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"batchrelay/internal/jsonrpc"
)

// Status tracks whether the upstream node is answering probes.
type Status struct {
	healthy atomic.Bool
}

// NewStatus returns a Status that starts healthy.
func NewStatus() *Status {
	s := &Status{}
	s.healthy.Store(true)
	return s
}

// Healthy reports the last probe outcome.
func (s *Status) Healthy() bool {
	return s.healthy.Load()
}

func (s *Status) set(healthy bool) bool {
	return s.healthy.Swap(healthy) != healthy
}

// Monitor probes the upstream on a fixed interval and flips Status on
// transitions. The transport must be dedicated to the monitor: probe wire IDs
// would collide with the forwarder's on a shared connection.
type Monitor struct {
	status    *Status
	transport Transport
	interval  time.Duration
	logger    zerolog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMonitor creates a Monitor updating status through transport.
func NewMonitor(status *Status, transport Transport, interval time.Duration, logger zerolog.Logger) *Monitor {
	return &Monitor{
		status:    status,
		transport: transport,
		interval:  interval,
		logger:    logger.With().Str("component", "monitor").Logger(),
	}
}

// Start launches the probe loop.
func (m *Monitor) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.wg.Add(1)
	go m.loop(ctx)
}

// Stop halts the probe loop and waits for it to exit.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

func (m *Monitor) loop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.probe(ctx)
		}
	}
}

func (m *Monitor) probe(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, m.interval)
	defer cancel()

	req, err := jsonrpc.NewRequest("web3_clientVersion", nil, jsonrpc.NewIDInt(1))
	if err != nil {
		m.logger.Error().Err(err).Msg("building probe request")
		return
	}

	_, err = m.transport.SendBatch(probeCtx, []*jsonrpc.Request{req})
	healthy := err == nil
	if m.status.set(healthy) {
		if healthy {
			m.logger.Info().Msg("upstream recovered")
		} else {
			m.logger.Warn().Err(err).Msg("upstream unhealthy")
		}
	}
}
