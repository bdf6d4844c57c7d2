package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"microgrid/internal/id"
)

var ErrInvalidPosition = errors.New("invalid position")

// Position is one open lot of the base asset.
type Position struct {
	ID         string          `json:"id"`
	OpenedAt   time.Time       `json:"opened_at"`
	Quantity   decimal.Decimal `json:"quantity"`
	EntryPrice decimal.Decimal `json:"entry_price"`
}

func NewPosition(openedAt time.Time, quantity, entryPrice decimal.Decimal) (Position, error) {
	p := Position{
		ID:         id.At(openedAt),
		OpenedAt:   openedAt.UTC(),
		Quantity:   quantity,
		EntryPrice: entryPrice,
	}
	if err := p.Validate(); err != nil {
		return Position{}, err
	}
	return p, nil
}

func (p Position) Validate() error {
	if !p.Quantity.IsPositive() {
		return fmt.Errorf("%w: quantity must be > 0, got %s", ErrInvalidPosition, p.Quantity)
	}
	if !p.EntryPrice.IsPositive() {
		return fmt.Errorf("%w: entry price must be > 0, got %s", ErrInvalidPosition, p.EntryPrice)
	}
	return nil
}

// Notional is the quote amount paid to open the position.
func (p Position) Notional() decimal.Decimal {
	return p.Quantity.Mul(p.EntryPrice)
}

// legacyPosition mirrors the positions file written by the earlier script
// version of the bot: {"timestamp", "btc_amount", "buy_price"}.
type legacyPosition struct {
	Timestamp string          `json:"timestamp"`
	BTCAmount decimal.Decimal `json:"btc_amount"`
	BuyPrice  decimal.Decimal `json:"buy_price"`
}

var legacyTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
}

func (p *Position) UnmarshalJSON(data []byte) error {
	type plain Position
	var current plain
	if err := json.Unmarshal(data, &current); err != nil {
		return err
	}
	if !current.Quantity.IsZero() || !current.EntryPrice.IsZero() {
		*p = Position(current)
		return nil
	}

	var legacy legacyPosition
	if err := json.Unmarshal(data, &legacy); err != nil {
		return err
	}
	p.ID = current.ID
	p.Quantity = legacy.BTCAmount
	p.EntryPrice = legacy.BuyPrice
	for _, layout := range legacyTimeLayouts {
		if ts, err := time.ParseInLocation(layout, legacy.Timestamp, time.Local); err == nil {
			p.OpenedAt = ts.UTC()
			break
		}
	}
	return nil
}
