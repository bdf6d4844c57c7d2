package broker

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"microgrid/internal/md"
)

type OrderRef struct {
	ID            string
	ClientOrderID string
	Status        string
}

// Exchange is everything the bot needs from a venue. Rate limiting and
// backoff are the implementation's business.
type Exchange interface {
	md.CandleSource
	Balance(ctx context.Context, asset string) (decimal.Decimal, error)
	MarketBuy(ctx context.Context, symbol string, qty decimal.Decimal) (OrderRef, error)
	MarketSell(ctx context.Context, symbol string, qty decimal.Decimal) (OrderRef, error)
}

type Pair struct {
	Base  string
	Quote string
}

func (p Pair) String() string {
	return p.Base + "/" + p.Quote
}

// ParsePair splits "BTC/USD" into its base and quote assets.
func ParsePair(symbol string) (Pair, error) {
	base, quote, ok := strings.Cut(strings.ToUpper(strings.TrimSpace(symbol)), "/")
	if !ok || base == "" || quote == "" {
		return Pair{}, fmt.Errorf("symbol must look like BASE/QUOTE, got %q", symbol)
	}
	return Pair{Base: base, Quote: quote}, nil
}

// ParseTimeframe accepts 1m, 5m, 15m, 1h, 4h, 1d style values.
func ParseTimeframe(value string) (time.Duration, error) {
	if len(value) < 2 {
		return 0, fmt.Errorf("invalid timeframe %q", value)
	}
	n, err := strconv.Atoi(value[:len(value)-1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid timeframe %q", value)
	}
	switch value[len(value)-1] {
	case 'm':
		return time.Duration(n) * time.Minute, nil
	case 'h':
		return time.Duration(n) * time.Hour, nil
	case 'd':
		return time.Duration(n) * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("invalid timeframe unit in %q", value)
	}
}

func WaitForContext(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
