// Package servecmder provides the serve command that runs the agent API proxy.
package servecmder

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/oryx/pkg/config"
	"github.com/papercomputeco/oryx/pkg/logger"
	"github.com/papercomputeco/oryx/proxy"
)

type ServeCommander struct {
	listen    string
	upstream  string
	agentID   string
	apiKey    string
	logLevel  string
	logFormat string
	debug     bool

	cfg    *config.Config
	logOut io.Writer
	logger *slog.Logger
}

const serveLongDesc string = `Run the oryx proxy server.

The proxy holds the agent API credentials and exposes two routes:
  POST /api/chat             Streams one chat turn from the agent as SSE
  GET  /api/retrieval-info   Returns preview metadata for a cited source

Upstream failures are delivered to the client as SSE error events so the
chat stream always ends with a well-formed event.

Credentials are read from flags, ORYX_PROXY_* or CONTEXTUAL_* environment
variables, or config.toml, in that order.

Examples:
  oryx serve --agent-id 3c90c3cc-0d44-4b50-8888-8dd25736052a
  CONTEXTUAL_API_KEY=key-... oryx serve --listen :9000`

const serveShortDesc string = "Run the oryx proxy server"

var serveFlags = config.FlagSet{
	config.FlagProxyListen: {Name: "listen", Shorthand: "l", ViperKey: "proxy.listen", Description: "Address for the proxy to listen on"},
	config.FlagUpstream:    {Name: "upstream", Shorthand: "u", ViperKey: "proxy.upstream", Description: "Agent API base URL"},
	config.FlagAgentID:     {Name: "agent-id", ViperKey: "proxy.agent_id", Description: "Agent that answers chat requests"},
	config.FlagAPIKey:      {Name: "api-key", ViperKey: "proxy.api_key", Description: "Agent API key (prefer ORYX_PROXY_API_KEY)"},
	config.FlagLogLevel:    {Name: "log-level", ViperKey: "log.level", Description: "Log level (debug, info, warn, error)"},
	config.FlagLogFormat:   {Name: "log-format", ViperKey: "log.format", Description: "Log format (pretty, text, json)"},
}

var serveFlagKeys = []string{
	config.FlagProxyListen,
	config.FlagUpstream,
	config.FlagAgentID,
	config.FlagAPIKey,
	config.FlagLogLevel,
	config.FlagLogFormat,
}

func NewServeCmd() *cobra.Command {
	return newServeCmd(&ServeCommander{})
}

func newServeCmd(cmder *ServeCommander) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: serveShortDesc,
		Long:  serveLongDesc,
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			configDir, _ := cmd.Flags().GetString("config-dir")
			v, err := config.InitViper(configDir)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			config.BindRegisteredFlags(v, cmd, serveFlags, serveFlagKeys)
			cmder.cfg = config.FromViper(v)
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.debug, err = cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %w", err)
			}
			cmder.logOut = cmd.ErrOrStderr()
			return cmder.run()
		},
	}

	config.AddStringFlag(cmd, serveFlags, config.FlagProxyListen, &cmder.listen)
	config.AddStringFlag(cmd, serveFlags, config.FlagUpstream, &cmder.upstream)
	config.AddStringFlag(cmd, serveFlags, config.FlagAgentID, &cmder.agentID)
	config.AddStringFlag(cmd, serveFlags, config.FlagAPIKey, &cmder.apiKey)
	config.AddStringFlag(cmd, serveFlags, config.FlagLogLevel, &cmder.logLevel)
	config.AddStringFlag(cmd, serveFlags, config.FlagLogFormat, &cmder.logFormat)

	return cmd
}

// proxyConfig turns the resolved configuration into a proxy.Config.
func (c *ServeCommander) proxyConfig() proxy.Config {
	return proxy.Config{
		ListenAddr:  c.cfg.Proxy.Listen,
		UpstreamURL: c.cfg.Proxy.Upstream,
		AgentID:     c.cfg.Proxy.AgentID,
		APIKey:      c.cfg.Proxy.APIKey,
		Timeout:     proxy.DefaultTimeout,
	}
}

func (c *ServeCommander) newLogger() (*slog.Logger, error) {
	opts, err := c.cfg.Log.LoggerOptions(c.debug)
	if err != nil {
		return nil, err
	}
	out := c.logOut
	if out == nil {
		out = os.Stderr
	}
	return logger.New(append(opts, logger.WithWriter(out), logger.WithPrefix("proxy"))...), nil
}

func (c *ServeCommander) run() error {
	var err error
	c.logger, err = c.newLogger()
	if err != nil {
		return err
	}

	pc := c.proxyConfig()
	if pc.APIKey == "" || pc.AgentID == "" {
		c.logger.Warn("agent credentials are incomplete, chat requests will fail",
			"agent_id_set", pc.AgentID != "",
			"api_key_set", pc.APIKey != "",
		)
	}

	p, err := proxy.New(pc, c.logger)
	if err != nil {
		return fmt.Errorf("creating proxy: %w", err)
	}
	defer p.Close()

	errChan := make(chan error, 1)
	go func() {
		if err := p.Run(); err != nil {
			errChan <- fmt.Errorf("proxy error: %w", err)
		}
	}()

	// Wait for interrupt signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errChan:
		return err
	case sig := <-sigChan:
		c.logger.Info("received signal, shutting down", "signal", sig.String())
		return nil
	}
}
