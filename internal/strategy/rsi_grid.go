package strategy

import (
	"github.com/shopspring/decimal"

	"microgrid/internal/state"
)

const (
	profitPlaces   = 4
	quantityPlaces = 6
)

type Params struct {
	TakeProfitRatio decimal.Decimal
	MinProfit       decimal.Decimal
	Oversold        float64
	Overbought      float64
	TradeNotional   decimal.Decimal
}

func DefaultParams() Params {
	return Params{
		TakeProfitRatio: decimal.RequireFromString("0.007"),
		MinProfit:       decimal.RequireFromString("0.01"),
		Oversold:        25,
		Overbought:      75,
		TradeNotional:   decimal.NewFromInt(1),
	}
}

type Exit struct {
	Position  state.Position
	GainRatio decimal.Decimal
	Profit    decimal.Decimal
	Reason    string
}

func (e Exit) Intent(price decimal.Decimal) TradeIntent {
	return TradeIntent{Action: Sell, Qty: e.Position.Quantity, Price: price, Reason: e.Reason}
}

type Entry struct {
	Quantity decimal.Decimal
	Price    decimal.Decimal
	Reason   string
}

func (e Entry) Intent() TradeIntent {
	return TradeIntent{Action: Buy, Qty: e.Quantity, Price: e.Price, Reason: e.Reason}
}

// Plan lists the exits to run, in ledger order, followed by at most one entry.
type Plan struct {
	Exits []Exit
	Entry *Entry
}

func (p Plan) Empty() bool {
	return len(p.Exits) == 0 && p.Entry == nil
}

// RSIGrid buys a fixed notional when momentum is oversold and closes each lot
// independently once it hits the take-profit ratio or momentum turns
// overbought, as long as the lot clears the minimum absolute profit.
type RSIGrid struct {
	Params Params
}

func NewRSIGrid(params Params) RSIGrid {
	return RSIGrid{Params: params}
}

// Evaluate has no side effects. The entry check uses market.QuoteBalance as
// sampled, so proceeds from exits in the same plan do not fund its entry.
func (g RSIGrid) Evaluate(market Market, positions []state.Position) Plan {
	var plan Plan
	for _, position := range positions {
		if exit, ok := g.exit(market, position); ok {
			plan.Exits = append(plan.Exits, exit)
		}
	}
	if entry, ok := g.entry(market); ok {
		plan.Entry = &entry
	}
	return plan
}

func (g RSIGrid) exit(market Market, position state.Position) (Exit, bool) {
	if !position.EntryPrice.IsPositive() {
		return Exit{}, false
	}
	move := market.Price.Sub(position.EntryPrice)
	gainRatio := move.Div(position.EntryPrice)
	profit := move.Mul(position.Quantity).Round(profitPlaces)

	takeProfit := gainRatio.GreaterThanOrEqual(g.Params.TakeProfitRatio)
	overbought := market.Indicator > g.Params.Overbought
	if !(takeProfit || overbought) || profit.LessThan(g.Params.MinProfit) {
		return Exit{}, false
	}

	reason := "take_profit"
	if !takeProfit {
		reason = "overbought"
	}
	return Exit{
		Position:  position,
		GainRatio: gainRatio,
		Profit:    profit,
		Reason:    reason,
	}, true
}

func (g RSIGrid) entry(market Market) (Entry, bool) {
	if !(market.Indicator < g.Params.Oversold) {
		return Entry{}, false
	}
	if market.QuoteBalance.LessThan(g.Params.TradeNotional) || !market.Price.IsPositive() {
		return Entry{}, false
	}
	qty := g.Params.TradeNotional.Div(market.Price).Round(quantityPlaces)
	if !qty.IsPositive() {
		return Entry{}, false
	}
	return Entry{Quantity: qty, Price: market.Price, Reason: "oversold"}, true
}
