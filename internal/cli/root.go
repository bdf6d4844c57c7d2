package cli

import (
	"github.com/spf13/cobra"

	"microgrid/internal/config"
)

// Version is overridden at build time with -ldflags "-X microgrid/internal/cli.Version=...".
var Version = "dev"

func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "microgrid",
		Short: "Single-asset RSI micro-grid trading bot",
		Long: `microgrid polls an exchange for candles, computes a short RSI and keeps a
small grid of independent lots: it buys a fixed notional when momentum is
oversold and sells each lot once it clears its take-profit or momentum turns
overbought.

Configuration comes from defaults, an optional YAML file (--config), MICROGRID_*
environment variables and flags, in increasing order of precedence. Alpaca
credentials are read from APCA_API_KEY_ID and APCA_API_SECRET_KEY.`,
		SilenceUsage: true,
	}
	loader := config.NewLoader(root.PersistentFlags())

	root.AddCommand(newRunCommand(loader))
	root.AddCommand(newLiquidateCommand(loader))
	root.AddCommand(newVersionCommand())
	return root
}

// Execute runs the root command with os.Args.
func Execute() error {
	return NewRootCommand().Execute()
}
