package cli

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/shopspring/decimal"
	"go.uber.org/multierr"

	"microgrid/internal/broker"
	"microgrid/internal/config"
	"microgrid/internal/dashboard"
	"microgrid/internal/journal"
	"microgrid/internal/logging"
	"microgrid/internal/md"
	"microgrid/internal/risk"
	"microgrid/internal/strategy"
)

func setupLogging(cfg config.Config, stderr io.Writer) (io.Closer, error) {
	_, closer, err := logging.Setup(logging.Options{
		Level:      cfg.LogLevel,
		File:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAgeDays: cfg.LogMaxAgeDays,
		Compress:   cfg.LogCompress,
		Stderr:     stderr,
	})
	return closer, err
}

func newExchange(cfg config.Config) (broker.Exchange, error) {
	pair := cfg.Pair()
	switch cfg.Mode {
	case config.ModeSim:
		step, err := broker.ParseTimeframe(cfg.Timeframe)
		if err != nil {
			return nil, err
		}
		return broker.NewSim(broker.SimOptions{
			Pair:       pair,
			StartPrice: cfg.SimStartPrice,
			Volatility: cfg.SimVolatility,
			Seed:       cfg.SimSeed,
			Balances: map[string]decimal.Decimal{
				pair.Quote: decimal.NewFromFloat(cfg.SimQuoteBalance),
			},
			Step:     step,
			Autoplay: true,
			Warmup:   cfg.RSIPeriod * 10,
		}), nil
	case config.ModePaper, config.ModeLive:
		return broker.NewAlpaca(broker.AlpacaOptions{
			APIKey:     cfg.APIKey,
			APISecret:  cfg.APISecret,
			BaseURL:    cfg.BaseURL(),
			QuoteAsset: pair.Quote,
			RetryLimit: cfg.RetryLimit,
			RetryDelay: cfg.RetryDelay,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported mode: %s", cfg.Mode)
	}
}

func newJournal(cfg config.Config) (journal.Journal, error) {
	var sinks journal.Multi
	if cfg.Journal == "csv" || cfg.Journal == "both" {
		csvJournal, err := journal.NewCSV(cfg.TradeLogPath)
		if err != nil {
			return nil, fmt.Errorf("open trade log: %w", err)
		}
		sinks = append(sinks, csvJournal)
	}
	if cfg.Journal == "sqlite" || cfg.Journal == "both" {
		db, err := journal.NewSQLite(cfg.JournalDBPath)
		if err != nil {
			return nil, multierr.Append(fmt.Errorf("open trade db: %w", err), sinks.Close())
		}
		sinks = append(sinks, db)
	}
	if len(sinks) == 1 {
		return sinks[0], nil
	}
	return sinks, nil
}

func newDashboard(cfg config.Config, out io.Writer) dashboard.Sink {
	switch cfg.Dashboard {
	case "console":
		return dashboard.Console{Out: out, Clear: cfg.DashboardClear}
	case "log":
		return dashboard.Log{Logger: slog.Default()}
	default:
		return dashboard.Nop{}
	}
}

func strategyParams(cfg config.Config) strategy.Params {
	return strategy.Params{
		TakeProfitRatio: decimal.NewFromFloat(cfg.TakeProfitRatio),
		MinProfit:       decimal.NewFromFloat(cfg.MinProfit),
		Oversold:        cfg.Oversold,
		Overbought:      cfg.Overbought,
		TradeNotional:   decimal.NewFromFloat(cfg.TradeNotional),
	}
}

func riskContext(cfg config.Config) risk.RiskContext {
	return risk.RiskContext{
		KillSwitch:  cfg.KillSwitch,
		MaxNotional: decimal.NewFromFloat(cfg.MaxOrderNotional),
	}
}

func indicatorMethod(cfg config.Config) md.Method {
	method, _ := md.ParseMethod(cfg.IndicatorMethod)
	return method
}
