package engine

import (
	"bufio"
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Decision is one line of the per-iteration audit log.
type Decision struct {
	RunID        string    `json:"run_id"`
	Timestamp    time.Time `json:"timestamp"`
	BarTime      time.Time `json:"bar_time,omitempty"`
	Symbol       string    `json:"symbol"`
	Price        string    `json:"price"`
	Indicator    *float64  `json:"indicator"`
	ExitsPlanned int       `json:"exits_planned"`
	ExitsFilled  int       `json:"exits_filled"`
	EntryPlanned bool      `json:"entry_planned"`
	EntryFilled  bool      `json:"entry_filled"`
	OrderIDs     []string  `json:"order_ids,omitempty"`
	Result       Outcome   `json:"result"`
	Error        string    `json:"error,omitempty"`
}

func NewDecision(runID string, at time.Time, symbol string, result IterationResult) Decision {
	decision := Decision{
		RunID:        runID,
		Timestamp:    at,
		BarTime:      result.BarTime,
		Symbol:       symbol,
		Price:        result.Price.String(),
		ExitsPlanned: result.ExitsPlanned,
		ExitsFilled:  result.ExitsFilled(),
		EntryPlanned: result.EntryPlanned,
		EntryFilled:  result.EntryFilled(),
		Result:       result.Outcome,
	}
	if result.IndicatorReady {
		indicator := result.Indicator
		decision.Indicator = &indicator
	}
	for _, fill := range result.Fills {
		decision.OrderIDs = append(decision.OrderIDs, fill.Order.ID)
	}
	if result.Err != nil {
		decision.Error = result.Err.Error()
	}
	return decision
}

type DecisionLogger struct {
	runID  string
	file   *os.File
	writer *bufio.Writer
	mu     sync.Mutex
}

func NewDecisionLogger(path string, runID string) (*DecisionLogger, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &DecisionLogger{
		runID:  runID,
		file:   file,
		writer: bufio.NewWriter(file),
	}, nil
}

func (d *DecisionLogger) RunID() string {
	return d.runID
}

// Append never fails the caller; write errors are logged.
func (d *DecisionLogger) Append(decision Decision) {
	d.mu.Lock()
	defer d.mu.Unlock()
	payload, err := json.Marshal(decision)
	if err != nil {
		slog.Error("marshal decision", "error", err)
		return
	}
	if _, err := d.writer.Write(append(payload, '\n')); err != nil {
		slog.Error("write decision", "error", err)
		return
	}
	if err := d.writer.Flush(); err != nil {
		slog.Error("flush decision log", "error", err)
	}
}

func (d *DecisionLogger) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.writer.Flush(); err != nil {
		_ = d.file.Close()
		return err
	}
	return d.file.Close()
}
