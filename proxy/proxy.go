// Package proxy provides the server-side half of an oryx chat: it holds the
// agent API credentials, forwards chat requests upstream and streams the SSE
// response back to the browser or CLI client verbatim.
package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/google/uuid"

	"github.com/papercomputeco/oryx/pkg/sse"
	"github.com/papercomputeco/oryx/proxy/header"
)

const (
	// ChatPath streams one chat turn.
	ChatPath = "/api/chat"

	// RetrievalInfoPath returns preview metadata for one retrieval.
	RetrievalInfoPath = "/api/retrieval-info"

	maxErrorBody = 64 * 1024
)

const (
	missingAPIKey  = "API key is not configured on the server."
	missingAgentID = "Agent id is not configured on the server."
)

// Proxy is the agent API proxy. Chat responses stream through untouched;
// failures are converted into SSE error events so the client state machine
// sees them on the same channel as every other event.
type Proxy struct {
	config        Config
	logger        *slog.Logger
	httpClient    *http.Client
	server        *fiber.App
	headerHandler *header.Handler
	mapErrorBody  ErrorMapper
}

// New creates a new Proxy.
func New(config Config, logger *slog.Logger) (*Proxy, error) {
	if config.UpstreamURL == "" {
		return nil, errors.New("upstream URL is required")
	}
	if _, err := url.Parse(config.UpstreamURL); err != nil {
		return nil, fmt.Errorf("invalid upstream URL: %w", err)
	}
	config.UpstreamURL = strings.TrimRight(config.UpstreamURL, "/")

	timeout := config.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	mapper := config.MapErrorBody
	if mapper == nil {
		mapper = DefaultMapErrorBody
	}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		StreamRequestBody:     true,
	})
	app.Use(compress.New())

	p := &Proxy{
		config:        config,
		logger:        logger,
		server:        app,
		headerHandler: header.NewHandler(),
		mapErrorBody:  mapper,
		httpClient: &http.Client{
			// Only the wait for response headers is bounded.
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				ResponseHeaderTimeout: timeout,
			},
		},
	}

	app.Post(ChatPath, p.handleChat)
	app.Get(RetrievalInfoPath, p.handleRetrievalInfo)

	return p, nil
}

// Run starts the proxy server on the configured listening address.
func (p *Proxy) Run() error {
	p.logger.Info("starting proxy server",
		"listen", p.config.ListenAddr,
		"upstream", p.config.UpstreamURL,
		"agent_id", p.config.AgentID,
	)

	return p.server.Listen(p.config.ListenAddr)
}

// RunWithListener starts the proxy server using the provided listener.
func (p *Proxy) RunWithListener(listener net.Listener) error {
	p.logger.Info("starting proxy server",
		"listen", listener.Addr().String(),
		"upstream", p.config.UpstreamURL,
		"agent_id", p.config.AgentID,
	)

	return p.server.Listener(listener)
}

// Handler exposes the proxy routes as a net/http handler so they can be
// mounted inside an existing mux.
func (p *Proxy) Handler() http.Handler {
	return adaptor.FiberApp(p.server)
}

// Close gracefully shuts down the proxy.
func (p *Proxy) Close() error {
	return p.server.Shutdown()
}

// missingConfig names the first credential the proxy lacks, if any.
func (p *Proxy) missingConfig() string {
	if p.config.APIKey == "" {
		return missingAPIKey
	}
	if p.config.AgentID == "" {
		return missingAgentID
	}
	return ""
}

func (p *Proxy) queryURL() string {
	return p.config.UpstreamURL + "/v1/agents/" + url.PathEscape(p.config.AgentID) + "/query"
}

// handleChat forwards one chat turn upstream and streams the answer back.
func (p *Proxy) handleChat(c *fiber.Ctx) error {
	if msg := p.missingConfig(); msg != "" {
		p.logger.Error("proxy is not configured", "error", msg)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": msg})
	}

	body := bytes.TrimSpace(c.Body())
	if len(body) > 0 && !json.Valid(body) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid JSON in request body"})
	}

	requestID := c.Get(header.RequestIDHeader)
	if requestID == "" {
		requestID = uuid.NewString()
	}

	var reqBody io.Reader
	if len(body) > 0 {
		reqBody = bytes.NewReader(body)
	}

	// The body is streamed after the handler returns and fasthttp recycles
	// its RequestCtx, so the upstream request cannot use c.Context().
	httpReq, err := http.NewRequestWithContext(context.Background(), http.MethodPost, p.queryURL(), reqBody)
	if err != nil {
		p.logger.Error("failed to create upstream request", "error", err)
		return p.sendErrorEvents(c, p.mapErrorBody(err.Error(), fiber.StatusInternalServerError), "")
	}

	p.headerHandler.SetUpstreamRequestHeaders(c, httpReq)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Authorization", "Bearer "+p.config.APIKey)
	httpReq.Header.Set(header.RequestIDHeader, requestID)

	p.logger.Debug("forwarding chat request to upstream",
		"url", httpReq.URL.String(),
		"request_id", requestID,
	)

	startTime := time.Now()
	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		p.logger.Error("upstream request failed", "error", err, "request_id", requestID)
		return p.sendErrorEvents(c, p.mapErrorBody(err.Error(), fiber.StatusInternalServerError), "")
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		defer httpResp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(httpResp.Body, maxErrorBody))
		p.logger.Error("upstream returned error",
			"status", httpResp.StatusCode,
			"body", string(respBody),
			"request_id", requestID,
		)
		return p.sendErrorEvents(c, p.mapErrorBody(string(respBody), httpResp.StatusCode), header.RequestID(httpResp))
	}

	p.headerHandler.SetClientResponseHeaders(c, httpResp)
	p.headerHandler.SetEventStreamHeaders(c)
	c.Status(fiber.StatusOK)

	// io.Pipe gives per-chunk backpressure: pw.Write blocks until fasthttp
	// has consumed the chunk and flushed it to the socket.
	pr, pw := io.Pipe()
	go p.pipeEvents(httpResp, pw, requestID, startTime)

	// Unknown size (-1) makes fasthttp use chunked transfer encoding.
	c.Context().Response.SetBodyStream(pr, -1)

	return nil
}

// pipeEvents copies the upstream SSE body to pw verbatim, logging each event
// as it passes through.
func (p *Proxy) pipeEvents(httpResp *http.Response, pw *io.PipeWriter, requestID string, startTime time.Time) {
	defer httpResp.Body.Close()

	tr := sse.NewTeeReader(httpResp.Body, pw)
	count := 0
	for {
		ev, err := tr.Next()
		if err != nil {
			p.logger.Error("error relaying event stream", "error", err, "request_id", requestID)
			pw.CloseWithError(err)
			return
		}
		if ev == nil {
			break
		}
		count++
		p.logger.Debug("relayed event", "request_id", requestID, "bytes", len(ev.Data))
	}

	p.logger.Debug("streaming complete",
		"request_id", requestID,
		"event_count", count,
		"duration", time.Since(startTime),
	)
	pw.Close()
}

// envelope is the legacy stream envelope understood by every oryx client.
type envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type metadataEvent struct {
	ConversationID string `json:"conversation_id"`
	RequestID      string `json:"request_id"`
	MessageID      string `json:"message_id"`
}

// sendErrorEvents answers with HTTP 200 and an SSE body holding an optional
// metadata event for the upstream request id followed by the error event.
func (p *Proxy) sendErrorEvents(c *fiber.Ctx, ev ErrorEvent, upstreamRequestID string) error {
	var buf bytes.Buffer

	if upstreamRequestID != "" {
		if err := writeEnvelope(&buf, "metadata", metadataEvent{RequestID: upstreamRequestID}); err != nil {
			return err
		}
	}
	if err := writeEnvelope(&buf, "error", ev); err != nil {
		return err
	}

	p.headerHandler.SetEventStreamHeaders(c)
	return c.Status(fiber.StatusOK).Send(buf.Bytes())
}

func writeEnvelope(w io.Writer, event string, data any) error {
	b, err := json.Marshal(envelope{Event: event, Data: data})
	if err != nil {
		return fmt.Errorf("could not encode %s event: %w", event, err)
	}
	return sse.Write(w, sse.Event{Data: string(b)})
}

// handleRetrievalInfo forwards a retrieval preview lookup upstream.
func (p *Proxy) handleRetrievalInfo(c *fiber.Ctx) error {
	if msg := p.missingConfig(); msg != "" {
		p.logger.Error("proxy is not configured", "error", msg)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": msg})
	}

	messageID := c.Query("messageId")
	contentID := c.Query("contentId")
	if messageID == "" || contentID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Missing required query parameters: messageId, contentId",
		})
	}

	target := p.queryURL() + "/" + url.PathEscape(messageID) + "/retrieval/info?" +
		url.Values{"content_ids": {contentID}}.Encode()

	httpReq, err := http.NewRequestWithContext(c.Context(), http.MethodGet, target, nil)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.config.APIKey)
	httpReq.Header.Set("Accept", "application/json")

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		p.logger.Error("retrieval info request failed", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		p.logger.Warn("retrieval info proxy failed",
			"status", httpResp.StatusCode,
			"body", string(respBody),
		)
		return c.Status(httpResp.StatusCode).JSON(fiber.Map{
			"error": fmt.Sprintf("API responded with %d: %s", httpResp.StatusCode, respBody),
		})
	}

	if !json.Valid(respBody) {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "upstream returned invalid JSON"})
	}

	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return c.Status(fiber.StatusOK).Send(respBody)
}
