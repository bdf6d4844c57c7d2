package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"microgrid/internal/broker"
	"microgrid/internal/config"
	"microgrid/internal/engine"
	"microgrid/internal/id"
	"microgrid/internal/journal"
	"microgrid/internal/lock"
	"microgrid/internal/state"
)

func newRunCommand(loader *config.Loader) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the trading loop until interrupted",
		Long: `Run acquires the single-instance lock, loads the positions file and then
samples, decides, trades and persists once per interval until SIGINT or
SIGTERM. A failed iteration is logged and retried on the next interval.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loader.Load()
			if err != nil {
				return fmt.Errorf("config error: %w", err)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cmd, cfg)
		},
	}
}

func run(ctx context.Context, cmd *cobra.Command, cfg config.Config) error {
	logCloser, err := setupLogging(cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer logCloser.Close()

	guard, err := lock.Acquire(cfg.LockPath)
	if err != nil {
		if errors.Is(err, lock.ErrLocked) {
			slog.Error("refusing to start", "lock", cfg.LockPath, "error", err)
		}
		return err
	}
	defer func() {
		if err := guard.Release(); err != nil {
			slog.Error("release lock failed", "lock", guard.Path(), "error", err)
		}
	}()

	exchange, err := newExchange(cfg)
	if err != nil {
		return err
	}

	trades, err := newJournal(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := trades.Close(); err != nil {
			slog.Error("close trade journal failed", "error", err)
		}
	}()

	var decisions *engine.DecisionLogger
	if cfg.DecisionsPath != "" {
		decisions, err = engine.NewDecisionLogger(cfg.DecisionsPath, id.New())
		if err != nil {
			return fmt.Errorf("decision logger error: %w", err)
		}
		defer func() {
			if err := decisions.Close(); err != nil {
				slog.Error("close decision log failed", "error", err)
			}
		}()
	}

	pair := cfg.Pair()
	eng, err := engine.New(engine.Options{
		Pair:      pair,
		Timeframe: cfg.Timeframe,
		Period:    cfg.RSIPeriod,
		Method:    indicatorMethod(cfg),
		Interval:  cfg.Interval,
		Params:    strategyParams(cfg),
		Risk:      riskContext(cfg),
	}, exchange, state.NewStore(cfg.PositionsPath, cfg.MaxPositions), trades, newDashboard(cfg, cmd.OutOrStdout()), decisions)
	if err != nil {
		return err
	}

	// The simulator starts holding whatever the ledger says it bought.
	if sim, ok := exchange.(*broker.Sim); ok {
		sim.SetBalance(pair.Base, eng.Ledger().TotalQuantity())
	}

	if cfg.ReplayPnL {
		total, events, err := journal.SumRealized(cfg.TradeLogPath)
		if err != nil {
			return fmt.Errorf("replay pnl: %w", err)
		}
		eng.Executor().SeedPnL(total)
		slog.Info("replayed realized pnl", "path", cfg.TradeLogPath, "events", events, "total", total)
	}

	if _, err := engine.Reconcile(ctx, exchange, pair, eng.Ledger()); err != nil {
		slog.Warn("startup reconcile failed", "error", err)
	}

	slog.Info("starting bot", "mode", cfg.Mode, "symbol", pair.String(), "timeframe", cfg.Timeframe, "rsi_period", cfg.RSIPeriod)
	if err := eng.Run(ctx); err != nil {
		return err
	}
	slog.Info("bot shutdown complete")
	return nil
}
