package config

const (
	defaultProxyListen = ":8080"
	defaultUpstream    = "https://api.contextual.ai"

	defaultClientProxyTarget = "http://localhost:8080"
	defaultClientTimeout     = "5m"

	defaultLogLevel  = "info"
	defaultLogFormat = LogFormatPretty
)

// NewDefaultConfig returns a Config with sane defaults for all fields.
// This is the single source of truth for default values.
func NewDefaultConfig() *Config {
	return &Config{
		Version: CurrentV,
		Proxy: ProxyConfig{
			Listen:   defaultProxyListen,
			Upstream: defaultUpstream,
		},
		Client: ClientConfig{
			ProxyTarget: defaultClientProxyTarget,
			Timeout:     defaultClientTimeout,
		},
		Log: LogConfig{
			Level:  defaultLogLevel,
			Format: defaultLogFormat,
		},
	}
}
