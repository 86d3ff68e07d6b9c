// Package upstream implements the wrapped service side of the relay: a
// forwarder that turns buffered requests into JSON-RPC batch calls against a
// single upstream node, over HTTP or WebSocket.
package upstream

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"batchrelay/internal/jsonrpc"
)

// Transport delivers one JSON-RPC batch to the upstream and returns its
// responses. Responses may arrive in any order; callers correlate by ID.
type Transport interface {
	SendBatch(ctx context.Context, reqs []*jsonrpc.Request) ([]*jsonrpc.Response, error)
	Close()
}

// HTTPTransport sends batches as JSON-RPC batch arrays over HTTP POST.
type HTTPTransport struct {
	url    string
	client *http.Client
	logger zerolog.Logger
}

// NewHTTPTransport creates an HTTP transport for the given endpoint.
func NewHTTPTransport(url string, timeout time.Duration, logger zerolog.Logger) *HTTPTransport {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 100,
		IdleConnTimeout:     90 * time.Second,
		DisableCompression:  true,
	}

	return &HTTPTransport{
		url: url,
		client: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
		logger: logger.With().Str("component", "http-transport").Logger(),
	}
}

// SendBatch posts the requests as one JSON array and parses the array of
// responses.
func (t *HTTPTransport) SendBatch(ctx context.Context, reqs []*jsonrpc.Request) ([]*jsonrpc.Response, error) {
	body, err := jsonrpc.MarshalRequests(reqs)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal batch: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("upstream request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("upstream returned status %d", resp.StatusCode)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read upstream response: %w", err)
	}

	responses, _, err := jsonrpc.ParseResponses(respBody)
	if err != nil {
		return nil, fmt.Errorf("failed to parse upstream response: %w", err)
	}
	return responses, nil
}

// Close releases idle connections.
func (t *HTTPTransport) Close() {
	t.client.CloseIdleConnections()
}
