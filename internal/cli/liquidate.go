package cli

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"microgrid/internal/config"
	"microgrid/internal/engine"
)

func newLiquidateCommand(loader *config.Loader) *cobra.Command {
	return &cobra.Command{
		Use:   "liquidate",
		Short: "Sell the entire base balance at market",
		Long: `Liquidate reads the base asset balance and sells all of it with one market
order when it is above the dust threshold. The positions file is not touched.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loader.Load()
			if err != nil {
				return fmt.Errorf("config error: %w", err)
			}
			logCloser, err := setupLogging(cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer logCloser.Close()

			exchange, err := newExchange(cfg)
			if err != nil {
				return err
			}
			pair := cfg.Pair()
			result, err := engine.Liquidate(cmd.Context(), exchange, pair, decimal.NewFromFloat(cfg.DustThreshold))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if result.Skipped {
				fmt.Fprintf(out, "nothing to liquidate: %s balance %s\n", pair.Base, result.Quantity)
				return nil
			}
			fmt.Fprintf(out, "sold %s %s order=%s\n", result.Quantity, pair.Base, result.Order.ID)
			return nil
		},
	}
}
