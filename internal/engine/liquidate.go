package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"microgrid/internal/broker"
	"microgrid/internal/risk"
)

type Liquidation struct {
	Quantity decimal.Decimal
	Order    broker.OrderRef
	Skipped  bool
}

// Liquidate sells the whole base balance at market unless it is at or below
// dust. The ledger is left alone.
func Liquidate(ctx context.Context, exchange broker.Exchange, pair broker.Pair, dust decimal.Decimal) (Liquidation, error) {
	balance, err := exchange.Balance(ctx, pair.Base)
	if err != nil {
		return Liquidation{}, fmt.Errorf("liquidate %s balance: %w", pair.Base, err)
	}
	if err := risk.AboveDust(balance, dust); err != nil {
		if errors.Is(err, risk.ErrBelowDustThreshold) {
			slog.Info("nothing to liquidate", "asset", pair.Base, "balance", balance, "dust_threshold", dust)
			return Liquidation{Quantity: balance, Skipped: true}, nil
		}
		return Liquidation{}, err
	}

	ref, err := exchange.MarketSell(ctx, pair.String(), balance)
	if err != nil {
		return Liquidation{}, fmt.Errorf("liquidate %s %s: %w", balance, pair.Base, err)
	}
	slog.Info("liquidated", "asset", pair.Base, "qty", balance, "order_id", ref.ID)
	return Liquidation{Quantity: balance, Order: ref}, nil
}
