package journal

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"microgrid/internal/id"
)

// SQLite records trade events in a local database. Amounts are stored as
// decimal strings so nothing is lost to float rounding.
type SQLite struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(Schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply journal schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (j *SQLite) Record(e Event) error {
	if e.ID == "" {
		e.ID = id.At(e.Timestamp)
	}
	_, err := j.db.Exec(`
		INSERT INTO trades
		(id, timestamp, symbol, action, quantity, price, pnl, position_id, order_id, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Timestamp.UTC(), e.Symbol, string(e.Action),
		e.Quantity.String(), e.Price.String(), e.PnL.String(),
		e.PositionID, e.OrderID, e.Reason,
	)
	return err
}

func (j *SQLite) Close() error {
	return j.db.Close()
}
