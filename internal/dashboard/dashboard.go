package dashboard

import (
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"
	"time"
)

// Snapshot is what the loop shows once per iteration. It never feeds back
// into trading decisions.
type Snapshot struct {
	Time         time.Time
	Symbol       string
	Price        float64
	Indicator    float64
	IndicatorSet bool
	BaseBalance  float64
	QuoteBalance float64
	WalletTotal  float64
	PnLTotal     float64
}

type Sink interface {
	Publish(Snapshot)
}

type Nop struct{}

func (Nop) Publish(Snapshot) {}

// Console renders a one-row table. With Clear set the terminal is wiped
// first so the table stays in place.
type Console struct {
	Out   io.Writer
	Title string
	Clear bool
}

func (c Console) Publish(s Snapshot) {
	if c.Clear {
		fmt.Fprint(c.Out, "\033[H\033[2J")
	}
	title := c.Title
	if title == "" {
		title = "MicroGrid RSI Bot " + s.Symbol
	}
	fmt.Fprintf(c.Out, "%s  %s\n", title, s.Time.Local().Format("2006-01-02 15:04:05"))

	tw := tabwriter.NewWriter(c.Out, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "Price\tRSI\tBase\tQuote\tWallet\tP&L Total\t")
	fmt.Fprintf(tw, "%.2f\t%s\t%.6f\t%.2f\t%.2f\t%.2f\t\n",
		s.Price, formatIndicator(s), s.BaseBalance, s.QuoteBalance, s.WalletTotal, s.PnLTotal)
	_ = tw.Flush()
}

// Log writes the snapshot as a structured log line.
type Log struct {
	Logger *slog.Logger
}

func (l Log) Publish(s Snapshot) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("dashboard",
		"symbol", s.Symbol,
		"price", s.Price,
		"rsi", formatIndicator(s),
		"base", s.BaseBalance,
		"quote", s.QuoteBalance,
		"wallet", s.WalletTotal,
		"pnl_total", s.PnLTotal,
	)
}

func formatIndicator(s Snapshot) string {
	if !s.IndicatorSet {
		return "n/a"
	}
	return fmt.Sprintf("%.2f", s.Indicator)
}
