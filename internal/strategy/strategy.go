package strategy

import (
	"github.com/shopspring/decimal"
)

type Action string

const (
	Buy  Action = "buy"
	Sell Action = "sell"
)

// Market is the per-iteration view the decision engine evaluates. The quote
// balance is read once per iteration, before any exit executes.
type Market struct {
	Price        decimal.Decimal
	Indicator    float64
	QuoteBalance decimal.Decimal
}

// TradeIntent is an order the engine wants to place.
type TradeIntent struct {
	Action Action
	Qty    decimal.Decimal
	Price  decimal.Decimal
	Reason string
}

func (t TradeIntent) Notional() decimal.Decimal {
	return t.Qty.Mul(t.Price)
}
