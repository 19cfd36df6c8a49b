package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/frauddetection/fraudwatch-go/internal/domain"
	"github.com/frauddetection/fraudwatch-go/internal/port"

	"go.uber.org/zap"
)

// StreamClient opens long-lived server-push connections to the dashboard
// event stream. Each Open yields an independent handle bound to one
// connection: Disconnected is terminal for the handle and it never
// reconnects on its own, so connection lifetime matches the view scope
// that opened it.
type StreamClient struct {
	httpClient *http.Client
	baseURL    string
	tokens     port.TokenSource
	logger     *zap.Logger
}

// NewStreamClient creates a new StreamClient. The HTTP client must not
// carry a request timeout; the connection is expected to outlive any
// sensible one.
func NewStreamClient(httpClient *http.Client, baseURL string, tokens port.TokenSource, logger *zap.Logger) *StreamClient {
	return &StreamClient{
		httpClient: httpClient,
		baseURL:    baseURL,
		tokens:     tokens,
		logger:     logger,
	}
}

// Open resolves a credential, dials the stream, and starts delivering
// decision events to onEvent and state transitions to onState. The state
// sequence is Connecting → Connected → Disconnected, or Connecting →
// Disconnected on setup failure.
func (c *StreamClient) Open(ctx context.Context, onEvent func(domain.Decision), onState func(domain.StreamState)) (port.StreamHandle, error) {
	ctx, cancel := context.WithCancel(ctx)
	h := &streamHandle{cancel: cancel}

	h.emitState(onState, domain.StreamConnecting)

	token, err := c.tokens.Token(ctx)
	if err != nil {
		h.emitState(onState, domain.StreamDisconnected)
		cancel()
		return nil, err
	}

	// The browser-compatible stream endpoint cannot read request headers,
	// so the credential rides in the URL.
	streamURL := fmt.Sprintf("%s/api/v1/dashboard/stream?access_token=%s", c.baseURL, url.QueryEscape(token))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, nil)
	if err != nil {
		h.emitState(onState, domain.StreamDisconnected)
		cancel()
		return nil, &domain.ErrStreamFailed{Reason: "build request", Err: err}
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		h.emitState(onState, domain.StreamDisconnected)
		cancel()
		return nil, &domain.ErrStreamFailed{Reason: "connect", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		h.emitState(onState, domain.StreamDisconnected)
		cancel()
		return nil, &domain.ErrStreamFailed{Reason: fmt.Sprintf("stream endpoint returned status %d", resp.StatusCode)}
	}

	go c.consume(resp.Body, h, onEvent, onState)
	return h, nil
}

// consume reads named server-sent events until the body ends or a
// malformed payload arrives. Events are delivered in receipt order.
func (c *StreamClient) consume(body io.ReadCloser, h *streamHandle, onEvent func(domain.Decision), onState func(domain.StreamState)) {
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var event, data string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data != "" {
				data += "\n"
			}
			data += strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		case line == "":
			if !c.dispatch(event, data, h, onEvent, onState) {
				return
			}
			event, data = "", ""
		}
	}

	// Transport error or server-side close; either way this handle is done.
	h.emitState(onState, domain.StreamDisconnected)
}

func (c *StreamClient) dispatch(event, data string, h *streamHandle, onEvent func(domain.Decision), onState func(domain.StreamState)) bool {
	switch event {
	case "connected":
		h.emitState(onState, domain.StreamConnected)
	case "decision":
		var d domain.Decision
		if err := json.Unmarshal([]byte(data), &d); err != nil {
			c.logger.Warn("malformed decision event", zap.Error(err))
			h.emitState(onState, domain.StreamDisconnected)
			return false
		}
		h.emitEvent(onEvent, d)
	}
	return true
}

// streamHandle serializes callbacks against Close: once Close returns, no
// further callback can fire, even if the reader goroutine is mid-event.
// Callbacks therefore must not call Close on their own handle.
type streamHandle struct {
	cancel context.CancelFunc
	mu     sync.Mutex
	closed bool
}

// Close releases the connection. Idempotent and safe in any state,
// including before Connected was ever reached.
func (h *streamHandle) Close() {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
	h.cancel()
}

func (h *streamHandle) emitState(onState func(domain.StreamState), s domain.StreamState) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed || onState == nil {
		return
	}
	onState(s)
}

func (h *streamHandle) emitEvent(onEvent func(domain.Decision), d domain.Decision) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed || onEvent == nil {
		return
	}
	onEvent(d)
}
