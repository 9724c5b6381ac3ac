// Package initcmder provides the init command for initializing a local .oryx
// directory in the current working directory.
package initcmder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/oryx/pkg/config"
	"github.com/papercomputeco/oryx/pkg/dotdir"
)

const (
	presetFetchTimeout = 30 * time.Second
	maxPresetSize      = 1 << 20
)

const initLongDesc string = `Initialize a new .oryx/ directory in the current working directory.

Creates a local .oryx/ directory that takes precedence over the default
~/.oryx/ directory for configuration and the saved chat conversation,
and writes a config.toml with default values.

Use --preset to start from a named upstream preset or from a config.toml
served over HTTP. A preset overwrites any existing config.toml.

Presets: contextual, local

Examples:
  oryx init
  oryx init --preset local
  oryx init --preset https://example.com/oryx/config.toml`

const initShortDesc string = "Initialize a local .oryx/ directory"

type initCommander struct {
	preset    string
	configDir string
	out       io.Writer
}

func NewInitCmd() *cobra.Command {
	cmder := &initCommander{}

	cmd := &cobra.Command{
		Use:   "init",
		Short: initShortDesc,
		Long:  initLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmder.configDir, _ = cmd.Flags().GetString("config-dir")
			cmder.out = cmd.OutOrStdout()
			return cmder.run(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&cmder.preset, "preset", "",
		fmt.Sprintf("Preset name (%s) or URL of a config.toml", strings.Join(config.ValidPresetNames(), ", ")))

	return cmd
}

func (c *initCommander) run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	dir := c.configDir
	if dir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("getting current directory: %w", err)
		}
		dir = filepath.Join(cwd, dotdir.DirName)
	}

	cfg, err := c.resolveConfig(ctx)
	if err != nil {
		return err
	}

	info, err := os.Stat(dir)
	existed := err == nil && info.IsDir()
	if !existed {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating .oryx directory: %w", err)
		}
	}

	cfgPath := filepath.Join(dir, "config.toml")
	_, statErr := os.Stat(cfgPath)
	hasConfig := statErr == nil

	// Without a preset an existing config is left untouched.
	if c.preset != "" || !hasConfig {
		cfger, err := config.NewConfiger(dir)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		if err := cfger.SaveConfig(cfg); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}
	}

	if existed {
		fmt.Fprintf(c.out, "Already initialized: %s\n", dir)
		if c.preset != "" {
			fmt.Fprintf(c.out, "Applied preset %q to %s\n", c.preset, cfgPath)
		}
		return nil
	}

	fmt.Fprintf(c.out, "Initialized .oryx directory: %s\n", dir)
	return nil
}

func (c *initCommander) resolveConfig(ctx context.Context) (*config.Config, error) {
	switch {
	case c.preset == "":
		return config.NewDefaultConfig(), nil
	case strings.HasPrefix(c.preset, "http://"), strings.HasPrefix(c.preset, "https://"):
		return fetchRemoteConfig(ctx, c.preset)
	default:
		return config.PresetConfig(c.preset)
	}
}

func fetchRemoteConfig(ctx context.Context, url string) (*config.Config, error) {
	ctx, cancel := context.WithTimeout(ctx, presetFetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("fetching remote config: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching remote config: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching remote config: HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPresetSize))
	if err != nil {
		return nil, fmt.Errorf("reading remote config: %w", err)
	}
	if len(data) == 0 {
		return nil, errors.New("remote config is empty")
	}

	return config.ParseConfigTOML(data)
}
