// Package oryxcmder
package oryxcmder

import (
	"github.com/spf13/cobra"

	chatcmder "github.com/papercomputeco/oryx/cmd/oryx/chat"
	configcmder "github.com/papercomputeco/oryx/cmd/oryx/config"
	initcmder "github.com/papercomputeco/oryx/cmd/oryx/init"
	servecmder "github.com/papercomputeco/oryx/cmd/oryx/serve"
	versioncmder "github.com/papercomputeco/oryx/cmd/version"
)

const oryxLongDesc string = `Oryx streams agent answers over server-sent events.

Run the proxy in front of the agent API, then chat through it:
  oryx init                Create a local .oryx/ directory
  oryx serve               Run the proxy server
  oryx chat                Start an interactive chat through the proxy
  oryx config              Manage persistent configuration`

const oryxShortDesc string = "Oryx - streaming agent chat"

func NewOryxCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "oryx",
		Short:        oryxShortDesc,
		Long:         oryxLongDesc,
		SilenceUsage: true,
	}

	// Global flags
	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().String("config-dir", "", "Override the .oryx/ directory location")

	cmd.AddCommand(servecmder.NewServeCmd())
	cmd.AddCommand(chatcmder.NewChatCmd())
	cmd.AddCommand(configcmder.NewConfigCmd())
	cmd.AddCommand(initcmder.NewInitCmd())
	cmd.AddCommand(versioncmder.NewVersionCmd())

	return cmd
}
