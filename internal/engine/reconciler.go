package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"microgrid/internal/broker"
	"microgrid/internal/state"
)

// Reconciliation compares what the ledger believes is held with what the
// exchange reports.
type Reconciliation struct {
	LedgerQty   decimal.Decimal
	ExchangeQty decimal.Decimal
	// Shortfall is how much more the ledger claims than the exchange holds.
	Shortfall decimal.Decimal
}

func (r Reconciliation) Mismatch() bool {
	return r.Shortfall.IsPositive()
}

// Reconcile detects a ledger that outlived its fills, e.g. after a crash
// between a sell and the next persist. It never repairs anything.
func Reconcile(ctx context.Context, exchange broker.Exchange, pair broker.Pair, ledger *state.Ledger) (Reconciliation, error) {
	held, err := exchange.Balance(ctx, pair.Base)
	if err != nil {
		return Reconciliation{}, fmt.Errorf("reconcile %s balance: %w", pair.Base, err)
	}
	result := Reconciliation{
		LedgerQty:   ledger.TotalQuantity(),
		ExchangeQty: held,
		Shortfall:   decimal.Zero,
	}
	if result.LedgerQty.GreaterThan(held) {
		result.Shortfall = result.LedgerQty.Sub(held)
		slog.Warn("ledger holds more than the exchange balance",
			"asset", pair.Base,
			"ledger_qty", result.LedgerQty,
			"exchange_qty", held,
			"shortfall", result.Shortfall,
			"positions", ledger.Len(),
		)
		return result, nil
	}
	slog.Info("reconcile ok", "asset", pair.Base, "ledger_qty", result.LedgerQty, "exchange_qty", held)
	return result, nil
}
