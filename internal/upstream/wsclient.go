package upstream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"batchrelay/internal/jsonrpc"
)

// wsCall tracks one in-flight batch on the WebSocket connection: the wire IDs
// it is waiting for and the responses gathered so far.
type wsCall struct {
	want map[int64]bool
	got  []*jsonrpc.Response
	err  error
	done chan struct{}
}

// WSTransport delivers batches over a single WebSocket connection. Responses
// are matched back to their batch by wire ID, so batches may be in flight
// concurrently with health probes.
type WSTransport struct {
	url            string
	messageTimeout time.Duration
	pingInterval   time.Duration
	logger         zerolog.Logger

	connMu sync.Mutex
	conn   *websocket.Conn

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[int64]*wsCall

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWSTransport creates a WebSocket transport for the given endpoint. The
// connection is established lazily on first use and re-dialed after errors.
func NewWSTransport(url string, messageTimeout, pingInterval time.Duration, logger zerolog.Logger) *WSTransport {
	ctx, cancel := context.WithCancel(context.Background())
	if messageTimeout == 0 {
		messageTimeout = 60 * time.Second
	}
	return &WSTransport{
		url:            url,
		messageTimeout: messageTimeout,
		pingInterval:   pingInterval,
		logger:         logger.With().Str("component", "ws-transport").Logger(),
		pending:        make(map[int64]*wsCall),
		ctx:            ctx,
		cancel:         cancel,
	}
}

// SendBatch writes the requests as one frame and waits until a response has
// arrived for every wire ID in the batch.
func (t *WSTransport) SendBatch(ctx context.Context, reqs []*jsonrpc.Request) ([]*jsonrpc.Response, error) {
	conn, err := t.ensureConnected(ctx)
	if err != nil {
		return nil, err
	}

	call := &wsCall{
		want: make(map[int64]bool, len(reqs)),
		done: make(chan struct{}),
	}
	ids := make([]int64, 0, len(reqs))
	for _, req := range reqs {
		id, ok := wireID(req.ID)
		if !ok {
			return nil, fmt.Errorf("request has non-numeric wire ID: %v", req.ID.Value())
		}
		if call.want[id] {
			return nil, fmt.Errorf("duplicate wire ID %d in batch", id)
		}
		call.want[id] = true
		ids = append(ids, id)
	}

	body, err := jsonrpc.MarshalRequests(reqs)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal batch: %w", err)
	}

	// A wire ID may belong to at most one in-flight call; accepting a second
	// registration would route one caller's response to the other.
	t.pendingMu.Lock()
	for _, id := range ids {
		if _, taken := t.pending[id]; taken {
			t.pendingMu.Unlock()
			return nil, fmt.Errorf("wire ID %d already in flight", id)
		}
	}
	for _, id := range ids {
		t.pending[id] = call
	}
	t.pendingMu.Unlock()
	defer t.unregister(ids)

	t.writeMu.Lock()
	conn.SetWriteDeadline(time.Now().Add(t.messageTimeout))
	err = conn.WriteMessage(websocket.TextMessage, body)
	t.writeMu.Unlock()
	if err != nil {
		t.dropConn(conn, err)
		return nil, fmt.Errorf("failed to write batch: %w", err)
	}

	select {
	case <-call.done:
		if call.err != nil {
			return nil, call.err
		}
		return call.got, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.ctx.Done():
		return nil, fmt.Errorf("transport closed")
	}
}

// Close tears down the connection and stops the background loops.
func (t *WSTransport) Close() {
	t.cancel()
	t.connMu.Lock()
	if t.conn != nil {
		t.conn.Close()
		t.conn = nil
	}
	t.connMu.Unlock()
	t.wg.Wait()
}

// ensureConnected returns the live connection, dialing a new one if needed.
func (t *WSTransport) ensureConnected(ctx context.Context) (*websocket.Conn, error) {
	t.connMu.Lock()
	defer t.connMu.Unlock()

	if t.conn != nil {
		return t.conn, nil
	}
	if t.ctx.Err() != nil {
		return nil, fmt.Errorf("transport closed")
	}

	t.logger.Info().Str("url", t.url).Msg("WebSocket connecting")
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, t.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect WebSocket: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(t.messageTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(t.messageTimeout))
		return nil
	})

	t.conn = conn
	t.logger.Info().Msg("WebSocket connected")

	t.wg.Add(1)
	go t.readLoop(conn)
	if t.pingInterval > 0 {
		t.wg.Add(1)
		go t.pingLoop(conn)
	}
	return conn, nil
}

// readLoop parses frames off the connection and routes each response to the
// batch waiting for its ID. A read error fails every in-flight batch and
// drops the connection; the next SendBatch re-dials.
func (t *WSTransport) readLoop(conn *websocket.Conn) {
	defer t.wg.Done()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if t.ctx.Err() == nil {
				t.logger.Warn().Err(err).Msg("WebSocket read failed")
			}
			t.dropConn(conn, err)
			return
		}
		conn.SetReadDeadline(time.Now().Add(t.messageTimeout))

		responses, _, err := jsonrpc.ParseResponses(data)
		if err != nil {
			t.logger.Warn().Err(err).Msg("unparseable frame from upstream")
			continue
		}
		for _, resp := range responses {
			t.deliver(resp)
		}
	}
}

// deliver hands one response to its batch and completes the batch once all
// its IDs are accounted for.
func (t *WSTransport) deliver(resp *jsonrpc.Response) {
	id, ok := wireID(resp.ID)
	if !ok {
		t.logger.Warn().Msg("response with non-numeric ID from upstream")
		return
	}

	t.pendingMu.Lock()
	call, ok := t.pending[id]
	if !ok {
		t.pendingMu.Unlock()
		t.logger.Warn().Int64("id", id).Msg("response for unknown request")
		return
	}
	delete(t.pending, id)
	delete(call.want, id)
	call.got = append(call.got, resp)
	complete := len(call.want) == 0
	t.pendingMu.Unlock()

	if complete {
		close(call.done)
	}
}

// dropConn closes the connection and fails every batch still waiting on it.
func (t *WSTransport) dropConn(conn *websocket.Conn, err error) {
	t.connMu.Lock()
	if t.conn == conn {
		t.conn = nil
	}
	t.connMu.Unlock()
	conn.Close()

	t.pendingMu.Lock()
	calls := make(map[*wsCall]bool)
	for id, call := range t.pending {
		delete(t.pending, id)
		calls[call] = true
	}
	t.pendingMu.Unlock()

	for call := range calls {
		call.err = fmt.Errorf("connection lost: %w", err)
		close(call.done)
	}
}

// unregister forgets a batch's IDs, e.g. after its context expired.
func (t *WSTransport) unregister(ids []int64) {
	t.pendingMu.Lock()
	for _, id := range ids {
		delete(t.pending, id)
	}
	t.pendingMu.Unlock()
}

func (t *WSTransport) pingLoop(conn *websocket.Conn) {
	defer t.wg.Done()

	ticker := time.NewTicker(t.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			deadline := time.Now().Add(t.messageTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		case <-t.ctx.Done():
			return
		}
	}
}

// wireID extracts a numeric wire ID from a JSON-RPC ID. Parsed JSON numbers
// arrive as float64.
func wireID(id jsonrpc.ID) (int64, bool) {
	switch v := id.Value().(type) {
	case int64:
		return v, true
	case float64:
		return int64(v), true
	default:
		return 0, false
	}
}
