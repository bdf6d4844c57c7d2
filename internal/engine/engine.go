package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"microgrid/internal/broker"
	"microgrid/internal/dashboard"
	"microgrid/internal/id"
	"microgrid/internal/journal"
	"microgrid/internal/md"
	"microgrid/internal/risk"
	"microgrid/internal/state"
	"microgrid/internal/strategy"
)

type Outcome string

const (
	OutcomeSkipped Outcome = "skipped_no_indicator"
	OutcomeIdle    Outcome = "idle"
	OutcomeTraded  Outcome = "traded"
	OutcomeFailed  Outcome = "failed"
)

// IterationResult describes one pass of the loop. Err is set only when
// Outcome is OutcomeFailed.
type IterationResult struct {
	Outcome        Outcome
	Price          decimal.Decimal
	Indicator      float64
	IndicatorReady bool
	BarTime        time.Time
	ExitsPlanned   int
	EntryPlanned   bool
	Fills          []Fill
	Persisted      bool
	Err            error
}

func (r IterationResult) ExitsFilled() int {
	n := 0
	for _, fill := range r.Fills {
		if fill.Action == strategy.Sell {
			n++
		}
	}
	return n
}

func (r IterationResult) EntryFilled() bool {
	for _, fill := range r.Fills {
		if fill.Action == strategy.Buy {
			return true
		}
	}
	return false
}

type Options struct {
	Pair      broker.Pair
	Timeframe string
	Period    int
	Method    md.Method
	Interval  time.Duration
	Params    strategy.Params
	Risk      risk.RiskContext
}

type Engine struct {
	opts      Options
	exchange  broker.Exchange
	sampler   *md.Sampler
	strategy  strategy.RSIGrid
	ledger    *state.Ledger
	store     *state.Store
	executor  *Executor
	dashboard dashboard.Sink
	decisions *DecisionLogger
	runID     string
}

// New loads the ledger from store. A corrupt positions file is logged and
// the engine starts with an empty ledger.
func New(opts Options, exchange broker.Exchange, store *state.Store, j journal.Journal, sink dashboard.Sink, decisions *DecisionLogger) (*Engine, error) {
	positions, err := store.Load()
	if err != nil {
		if !errors.Is(err, state.ErrCorrupt) {
			return nil, fmt.Errorf("load positions: %w", err)
		}
		slog.Warn("positions file unreadable, starting with an empty ledger", "path", store.Path(), "error", err)
	}
	if sink == nil {
		sink = dashboard.Nop{}
	}

	ledger := state.NewLedger(positions)
	runID := id.New()
	if decisions != nil {
		runID = decisions.RunID()
	}
	return &Engine{
		opts:      opts,
		exchange:  exchange,
		sampler:   md.NewSampler(exchange, opts.Method),
		strategy:  strategy.NewRSIGrid(opts.Params),
		ledger:    ledger,
		store:     store,
		executor:  NewExecutor(exchange, opts.Pair, opts.Risk, j, ledger),
		dashboard: sink,
		decisions: decisions,
		runID:     runID,
	}, nil
}

func (e *Engine) Ledger() *state.Ledger {
	return e.ledger
}

func (e *Engine) Executor() *Executor {
	return e.executor
}

func (e *Engine) RunID() string {
	return e.runID
}

// Run iterates until ctx is cancelled, sleeping opts.Interval between
// passes. Iteration failures never stop the loop.
func (e *Engine) Run(ctx context.Context) error {
	slog.Info("engine started", "run_id", e.runID, "symbol", e.opts.Pair.String(), "timeframe", e.opts.Timeframe, "interval", e.opts.Interval, "positions", e.ledger.Len())
	for {
		if ctx.Err() != nil {
			break
		}
		e.Iterate(ctx)
		if err := broker.WaitForContext(ctx, e.opts.Interval); err != nil {
			break
		}
	}
	totals := e.executor.Totals()
	slog.Info("engine stopped", "run_id", e.runID, "realized_pnl", totals.RealizedPnL, "buys", totals.Buys, "sells", totals.Sells)
	return nil
}

// Iterate runs one sample, decide, execute, persist pass. The ledger file is
// written only when every step before it succeeded.
func (e *Engine) Iterate(ctx context.Context) IterationResult {
	started := time.Now().UTC()
	result := e.iterate(ctx)
	e.report(started, result)
	return result
}

func (e *Engine) iterate(ctx context.Context) (result IterationResult) {
	defer func() {
		if r := recover(); r != nil {
			result.Outcome = OutcomeFailed
			result.Err = fmt.Errorf("iteration panic: %v", r)
		}
	}()
	fail := func(err error) IterationResult {
		result.Outcome = OutcomeFailed
		result.Err = err
		return result
	}

	sample, err := e.sampler.Sample(ctx, e.opts.Pair.String(), e.opts.Timeframe, e.opts.Period)
	if err != nil {
		return fail(err)
	}
	price := decimal.NewFromFloat(sample.LastPrice)
	result.Price = price
	result.Indicator = sample.Indicator
	result.IndicatorReady = sample.Ready
	result.BarTime = sample.BarTime

	quote, err := e.exchange.Balance(ctx, e.opts.Pair.Quote)
	if err != nil {
		return fail(fmt.Errorf("quote balance: %w", err))
	}
	base, err := e.exchange.Balance(ctx, e.opts.Pair.Base)
	if err != nil {
		return fail(fmt.Errorf("base balance: %w", err))
	}
	e.publish(sample, price, base, quote)

	if !sample.Ready {
		result.Outcome = OutcomeSkipped
		return result
	}

	plan := e.strategy.Evaluate(strategy.Market{
		Price:        price,
		Indicator:    sample.Indicator,
		QuoteBalance: quote,
	}, e.ledger.Positions())
	result.ExitsPlanned = len(plan.Exits)
	result.EntryPlanned = plan.Entry != nil

	for _, exit := range plan.Exits {
		fill, err := e.executor.Sell(ctx, exit, price)
		if err != nil {
			return fail(err)
		}
		result.Fills = append(result.Fills, fill)
	}
	if plan.Entry != nil {
		fill, err := e.executor.Buy(ctx, *plan.Entry)
		if err != nil {
			return fail(err)
		}
		result.Fills = append(result.Fills, fill)
	}

	if err := e.store.Save(e.ledger.Positions()); err != nil {
		return fail(fmt.Errorf("persist positions: %w", err))
	}
	result.Persisted = true

	result.Outcome = OutcomeIdle
	if len(result.Fills) > 0 {
		result.Outcome = OutcomeTraded
	}
	return result
}

// publish shows the pre-trade view, so the pnl total excludes this
// iteration's exits.
func (e *Engine) publish(sample md.Sample, price, base, quote decimal.Decimal) {
	e.dashboard.Publish(dashboard.Snapshot{
		Time:         time.Now(),
		Symbol:       e.opts.Pair.String(),
		Price:        price.InexactFloat64(),
		Indicator:    sample.Indicator,
		IndicatorSet: sample.Ready,
		BaseBalance:  base.InexactFloat64(),
		QuoteBalance: quote.InexactFloat64(),
		WalletTotal:  quote.Add(base.Mul(price)).InexactFloat64(),
		PnLTotal:     e.executor.Totals().RealizedPnL.InexactFloat64(),
	})
}

func (e *Engine) report(started time.Time, result IterationResult) {
	switch result.Outcome {
	case OutcomeFailed:
		slog.Error("iteration failed", "error", result.Err, "fills", len(result.Fills))
	case OutcomeSkipped:
		slog.Warn("indicator unavailable, skipping decisions", "price", result.Price)
	default:
		slog.Debug("iteration complete", "outcome", result.Outcome, "price", result.Price, "rsi", result.Indicator, "fills", len(result.Fills), "positions", e.ledger.Len())
	}
	if e.decisions != nil {
		e.decisions.Append(NewDecision(e.runID, started, e.opts.Pair.String(), result))
	}
}
