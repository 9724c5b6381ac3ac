// Package header provides header filtering for the oryx proxy.
//
// The proxy sits between a chat client and the upstream agent API:
//
//	Client <--> Proxy <--> Agent API
//
// and each leg negotiates compression, hops and credentials independently.
package header

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// RequestIDHeader carries the request id between client, proxy and upstream.
const RequestIDHeader = "X-Request-Id"

// Handler manages headers between proxy connections.
type Handler struct{}

// NewHandler creates a new header Handler.
func NewHandler() *Handler {
	return &Handler{}
}

// skipRequest is the set of request headers (client --> proxy --> upstream)
// that are not forwarded to the agent API.
var skipRequest = map[string]struct{}{
	// Hop-by-hop headers: only meaningful for a single transport-level connection.
	"Connection": {},

	// Rewritten by http.Transport to match the upstream URL.
	"Host": {},

	// Stripped so http.Transport negotiates gzip itself and transparently
	// decompresses the upstream stream.
	"Accept-Encoding": {},

	// The body is re-encoded before it is forwarded.
	"Content-Length": {},

	// Credentials belong to the proxy, never to the browser session.
	"Authorization": {},
	"Cookie":        {},
}

// skipResponse is the set of upstream response headers (client <-- proxy <-- upstream)
// that are not copied back to the client.
var skipResponse = map[string]struct{}{
	"Connection":        {},
	"Transfer-Encoding": {},

	// The proxy always reads a decompressed body; the compress middleware
	// sets its own Content-Encoding and Content-Length.
	"Content-Encoding": {},
	"Content-Length":   {},

	"Set-Cookie": {},
}

// SetUpstreamRequestHeaders copies request headers from the Fiber context to
// the outgoing http.Request, filtering headers that the proxy should not forward
// to the agent API.
func (h *Handler) SetUpstreamRequestHeaders(c *fiber.Ctx, req *http.Request) {
	c.Request().Header.VisitAll(func(key, value []byte) {
		k := http.CanonicalHeaderKey(string(key))
		if _, skip := skipRequest[k]; !skip {
			req.Header.Set(k, string(value))
		}
	})
}

// SetClientResponseHeaders copies response headers from the upstream
// http.Response to the Fiber context, filtering headers that the proxy should
// not forward back down to the client.
func (h *Handler) SetClientResponseHeaders(c *fiber.Ctx, resp *http.Response) {
	for k, v := range resp.Header {
		if _, skip := skipResponse[k]; !skip {
			c.Set(k, strings.Join(v, ", "))
		}
	}
}

// SetEventStreamHeaders marks the client response as an SSE stream.
func (h *Handler) SetEventStreamHeaders(c *fiber.Ctx) {
	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
}

// RequestID returns the first value of the upstream X-Request-Id header.
func RequestID(resp *http.Response) string {
	if resp == nil {
		return ""
	}
	return resp.Header.Get(RequestIDHeader)
}
