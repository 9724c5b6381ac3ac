// Package configcmder provides the config command for managing persistent
// oryx configuration stored in the .oryx/ directory.
package configcmder

import (
	"github.com/spf13/cobra"
)

const configLongDesc string = `Manage persistent oryx configuration.

Configuration is stored as config.toml in the .oryx/ directory and provides
default values for command flags. CLI flags and ORYX_* environment variables
always take precedence over config file values.

Keys use dotted notation matching the TOML section structure:
  proxy.listen, proxy.upstream, proxy.agent_id, proxy.api_key,
  client.proxy_target, client.timeout,
  log.level, log.format

Use subcommands to get, set, or list configuration values:
  oryx config set <key> <value>    Set a configuration value
  oryx config get <key>            Get a configuration value
  oryx config list                 List all configuration values

Examples:
  oryx config set proxy.agent_id 3c90c3cc-0d44-4b50-8888-8dd25736052a
  oryx config set client.timeout 2m
  oryx config get proxy.upstream
  oryx config list`

const configShortDesc string = "Manage persistent oryx configuration"

func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: configShortDesc,
		Long:  configLongDesc,
	}

	cmd.AddCommand(newSetCmd())
	cmd.AddCommand(newGetCmd())
	cmd.AddCommand(newListCmd())

	return cmd
}
