package proxy

import "time"

// Config is the proxy server configuration.
type Config struct {
	// ListenAddr is the address to listen on (e.g., ":8080")
	ListenAddr string

	// UpstreamURL is the agent API base URL (e.g., "https://api.contextual.ai")
	UpstreamURL string

	// AgentID selects the agent every chat and retrieval request is routed to.
	AgentID string

	// APIKey is sent upstream as a bearer token. It never leaves the proxy.
	APIKey string

	// Timeout bounds how long the proxy waits for upstream response headers.
	// Zero uses DefaultTimeout.
	Timeout time.Duration

	// MapErrorBody translates a failed upstream response into the SSE error
	// event sent to the client. Nil uses DefaultMapErrorBody.
	MapErrorBody ErrorMapper
}

// DefaultTimeout is used when Config.Timeout is zero.
const DefaultTimeout = 5 * time.Minute
