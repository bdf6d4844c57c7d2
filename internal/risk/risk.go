package risk

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"microgrid/internal/strategy"
)

var (
	ErrKillSwitch         = errors.New("kill_switch_enabled")
	ErrInvalidQuantity    = errors.New("invalid_quantity")
	ErrMaxNotional        = errors.New("max_notional_exceeded")
	ErrBelowDustThreshold = errors.New("below_dust_threshold")
)

type RiskContext struct {
	KillSwitch bool
	// MaxNotional caps the quote value of a single order; zero disables it.
	MaxNotional decimal.Decimal
}

type ApprovedIntent struct {
	Intent strategy.TradeIntent
	Reason string
}

type Gate struct{}

func (g Gate) Evaluate(intent strategy.TradeIntent, ctx RiskContext) (ApprovedIntent, error) {
	notional := intent.Notional()
	slog.Debug("risk evaluation", "intent", intent.Action, "qty", intent.Qty, "price", intent.Price, "notional", notional, "reason", intent.Reason)

	if ctx.KillSwitch {
		slog.Info("risk rejected", "reason", ErrKillSwitch.Error(), "intent", intent.Action)
		return ApprovedIntent{}, ErrKillSwitch
	}
	if !intent.Qty.IsPositive() {
		slog.Info("risk rejected", "reason", ErrInvalidQuantity.Error(), "qty", intent.Qty)
		return ApprovedIntent{}, fmt.Errorf("%w: %s", ErrInvalidQuantity, intent.Qty)
	}
	if ctx.MaxNotional.IsPositive() && notional.GreaterThan(ctx.MaxNotional) {
		slog.Info("risk rejected", "reason", ErrMaxNotional.Error(), "notional", notional, "max", ctx.MaxNotional)
		return ApprovedIntent{}, fmt.Errorf("%w: %s > %s", ErrMaxNotional, notional, ctx.MaxNotional)
	}

	return ApprovedIntent{Intent: intent, Reason: "approved"}, nil
}

// AboveDust reports whether a balance is worth a liquidation order.
func AboveDust(balance, threshold decimal.Decimal) error {
	if balance.GreaterThan(threshold) {
		return nil
	}
	return fmt.Errorf("%w: %s <= %s", ErrBelowDustThreshold, balance, threshold)
}
