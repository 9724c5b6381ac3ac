// Package httpfetch is the net/http transport behind an oryx.Session. It posts
// a chat request to an SSE endpoint and feeds each event to the session
// handlers as it arrives.
package httpfetch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"strings"
	"time"

	"github.com/papercomputeco/oryx/pkg/logger"
	"github.com/papercomputeco/oryx/pkg/oryx"
	"github.com/papercomputeco/oryx/pkg/sse"
)

// DefaultTimeout bounds the time to receive response headers. Streams
// themselves are unbounded and end through cancellation.
const DefaultTimeout = 5 * time.Minute

// maxErrorBody caps how much of a non-2xx body is kept in a StatusError.
const maxErrorBody = 4096

// StatusError is returned when the endpoint answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("chat endpoint returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("chat endpoint returned status %d: %s", e.StatusCode, e.Body)
}

// Fetcher implements oryx.Fetcher over HTTP.
type Fetcher struct {
	url     string
	client  *http.Client
	headers http.Header
	logger  *slog.Logger
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) {
		f.client = c
	}
}

// WithHeader adds a header to every request.
func WithHeader(key, value string) Option {
	return func(f *Fetcher) {
		f.headers.Add(key, value)
	}
}

// WithLogger sets the fetcher logger.
func WithLogger(l *slog.Logger) Option {
	return func(f *Fetcher) {
		f.logger = l
	}
}

// New returns a Fetcher posting to url, for example
// "http://localhost:8080/api/chat".
func New(url string, opts ...Option) *Fetcher {
	f := &Fetcher{
		url: url,
		client: &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				ResponseHeaderTimeout: DefaultTimeout,
			},
		},
		headers: http.Header{},
		logger:  logger.Nop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// requestBody is the JSON document posted to the chat endpoint. Extras are
// merged in at the top level.
func requestBody(req oryx.ChatRequest) ([]byte, error) {
	body := make(map[string]any, len(req.Extras)+3)
	maps.Copy(body, req.Extras)
	body["messages"] = req.Messages
	body["stream"] = true
	if req.ConversationID != "" {
		body["conversation_id"] = req.ConversationID
	}
	return json.Marshal(body)
}

// Fetch streams one chat request. It calls OnOpen with the response, OnMessage
// per event and OnClose at end of stream. Failures are reported through
// OnError and returned.
func (f *Fetcher) Fetch(ctx context.Context, req oryx.ChatRequest, h oryx.Handlers) error {
	err := f.fetch(ctx, req, h)
	if err != nil && h.OnError != nil {
		h.OnError(err)
	}
	return err
}

func (f *Fetcher) fetch(ctx context.Context, req oryx.ChatRequest, h oryx.Handlers) error {
	body, err := requestBody(req)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	for k, vs := range f.headers {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	f.logger.Debug("sending chat request",
		"url", f.url,
		"conversation_id", req.ConversationID,
		"message_count", len(req.Messages),
	)

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("sending chat request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	if h.OnOpen != nil {
		h.OnOpen(resp)
	}

	r := sse.NewReader(resp.Body)
	for {
		ev, err := r.Next()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return fmt.Errorf("reading stream: %w", err)
		}
		if ev == nil {
			break
		}
		if h.OnMessage != nil {
			h.OnMessage(oryx.SSEMessage{Data: ev.Data, ID: ev.ID, Event: ev.Type})
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if h.OnClose != nil {
		h.OnClose()
	}
	return nil
}
