package journal

import (
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
)

type Action string

const (
	Buy  Action = "buy"
	Sell Action = "sell"
)

// Event is one realized trade. PnL is zero for buys.
type Event struct {
	ID         string
	Timestamp  time.Time
	Symbol     string
	Action     Action
	Quantity   decimal.Decimal
	Price      decimal.Decimal
	PnL        decimal.Decimal
	PositionID string
	OrderID    string
	Reason     string
}

// Journal is an append-only sink for trade events. The running bot never
// reads it back.
type Journal interface {
	Record(Event) error
	Close() error
}

// Multi fans each event out to every journal and reports all failures.
type Multi []Journal

func (m Multi) Record(e Event) error {
	var errs error
	for _, j := range m {
		errs = multierr.Append(errs, j.Record(e))
	}
	return errs
}

func (m Multi) Close() error {
	var errs error
	for _, j := range m {
		errs = multierr.Append(errs, j.Close())
	}
	return errs
}
