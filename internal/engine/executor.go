package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"microgrid/internal/broker"
	"microgrid/internal/id"
	"microgrid/internal/journal"
	"microgrid/internal/risk"
	"microgrid/internal/state"
	"microgrid/internal/strategy"
)

// Totals are the running figures for this process only.
type Totals struct {
	RealizedPnL decimal.Decimal
	Sells       int
	Buys        int
}

// Fill is a market order the exchange accepted.
type Fill struct {
	Action     strategy.Action
	Quantity   decimal.Decimal
	Price      decimal.Decimal
	PnL        decimal.Decimal
	PositionID string
	Order      broker.OrderRef
	Reason     string
}

// Executor places orders and applies their effects to the ledger, the
// running totals and the trade journal. A failed order changes nothing.
type Executor struct {
	exchange broker.Exchange
	pair     broker.Pair
	gate     risk.Gate
	riskCtx  risk.RiskContext
	journal  journal.Journal
	ledger   *state.Ledger
	totals   Totals
	now      func() time.Time
}

func NewExecutor(exchange broker.Exchange, pair broker.Pair, riskCtx risk.RiskContext, j journal.Journal, ledger *state.Ledger) *Executor {
	return &Executor{
		exchange: exchange,
		pair:     pair,
		riskCtx:  riskCtx,
		journal:  j,
		ledger:   ledger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (x *Executor) Totals() Totals {
	return x.totals
}

// SeedPnL sets the starting realized total, e.g. from a replayed trade log.
func (x *Executor) SeedPnL(total decimal.Decimal) {
	x.totals.RealizedPnL = total
}

func (x *Executor) Sell(ctx context.Context, exit strategy.Exit, price decimal.Decimal) (Fill, error) {
	approved, err := x.gate.Evaluate(exit.Intent(price), x.riskCtx)
	if err != nil {
		return Fill{}, fmt.Errorf("sell %s: %w", exit.Position.ID, err)
	}
	intent := approved.Intent

	ref, err := x.exchange.MarketSell(ctx, x.pair.String(), intent.Qty)
	if err != nil {
		return Fill{}, fmt.Errorf("sell %s %s: %w", intent.Qty, x.pair, err)
	}

	x.ledger.Close(exit.Position.ID)
	x.totals.RealizedPnL = x.totals.RealizedPnL.Add(exit.Profit)
	x.totals.Sells++

	fill := Fill{
		Action:     strategy.Sell,
		Quantity:   intent.Qty,
		Price:      price,
		PnL:        exit.Profit,
		PositionID: exit.Position.ID,
		Order:      ref,
		Reason:     exit.Reason,
	}
	slog.Info("sell filled", "position_id", fill.PositionID, "qty", fill.Quantity, "price", fill.Price, "pnl", fill.PnL, "reason", fill.Reason, "order_id", ref.ID)
	x.record(fill)
	return fill, nil
}

func (x *Executor) Buy(ctx context.Context, entry strategy.Entry) (Fill, error) {
	approved, err := x.gate.Evaluate(entry.Intent(), x.riskCtx)
	if err != nil {
		return Fill{}, fmt.Errorf("buy: %w", err)
	}
	intent := approved.Intent

	position, err := state.NewPosition(x.now(), intent.Qty, intent.Price)
	if err != nil {
		return Fill{}, fmt.Errorf("buy: %w", err)
	}

	ref, err := x.exchange.MarketBuy(ctx, x.pair.String(), intent.Qty)
	if err != nil {
		return Fill{}, fmt.Errorf("buy %s %s: %w", intent.Qty, x.pair, err)
	}

	if err := x.ledger.Open(position); err != nil {
		return Fill{}, err
	}
	x.totals.Buys++

	fill := Fill{
		Action:     strategy.Buy,
		Quantity:   intent.Qty,
		Price:      intent.Price,
		PnL:        decimal.Zero,
		PositionID: position.ID,
		Order:      ref,
		Reason:     entry.Reason,
	}
	slog.Info("buy filled", "position_id", fill.PositionID, "qty", fill.Quantity, "price", fill.Price, "reason", fill.Reason, "order_id", ref.ID)
	x.record(fill)
	return fill, nil
}

// record appends the fill to the journal. The order already went through, so
// a journal failure is logged and not returned.
func (x *Executor) record(fill Fill) {
	if x.journal == nil {
		return
	}
	action := journal.Buy
	if fill.Action == strategy.Sell {
		action = journal.Sell
	}
	event := journal.Event{
		ID:         id.New(),
		Timestamp:  x.now(),
		Symbol:     x.pair.String(),
		Action:     action,
		Quantity:   fill.Quantity,
		Price:      fill.Price,
		PnL:        fill.PnL,
		PositionID: fill.PositionID,
		OrderID:    fill.Order.ID,
		Reason:     fill.Reason,
	}
	if err := x.journal.Record(event); err != nil {
		slog.Error("trade journal write failed", "action", event.Action, "position_id", event.PositionID, "error", err)
	}
}
