package state

import (
	"github.com/shopspring/decimal"
)

// Ledger is the ordered list of open positions, oldest first. It is owned by
// the engine loop and is not safe for concurrent use.
type Ledger struct {
	positions []Position
}

func NewLedger(positions []Position) *Ledger {
	l := &Ledger{positions: make([]Position, 0, len(positions))}
	l.positions = append(l.positions, positions...)
	return l
}

// Positions returns a copy of the open positions in open order.
func (l *Ledger) Positions() []Position {
	out := make([]Position, len(l.positions))
	copy(out, l.positions)
	return out
}

func (l *Ledger) Len() int {
	return len(l.positions)
}

func (l *Ledger) Open(p Position) error {
	if err := p.Validate(); err != nil {
		return err
	}
	l.positions = append(l.positions, p)
	return nil
}

// Close removes the position with the given id and reports whether it was
// present.
func (l *Ledger) Close(positionID string) (Position, bool) {
	for i, p := range l.positions {
		if p.ID == positionID {
			l.positions = append(l.positions[:i], l.positions[i+1:]...)
			return p, true
		}
	}
	return Position{}, false
}

// TotalQuantity is the base amount the ledger believes is held.
func (l *Ledger) TotalQuantity() decimal.Decimal {
	total := decimal.Zero
	for _, p := range l.positions {
		total = total.Add(p.Quantity)
	}
	return total
}
