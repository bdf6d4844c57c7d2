package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/shopspring/decimal"

	"microgrid/internal/id"
	"microgrid/internal/md"
)

type AlpacaOptions struct {
	APIKey     string
	APISecret  string
	BaseURL    string
	QuoteAsset string
	RetryLimit int
	RetryDelay time.Duration
}

// Alpaca trades crypto pairs through the Alpaca trading API and reads bars
// from the Alpaca crypto market data API. The SDK retries rate-limited
// requests on its own according to RetryLimit and RetryDelay.
type Alpaca struct {
	trading *alpaca.Client
	data    *marketdata.Client
	quote   string
	now     func() time.Time
}

func NewAlpaca(opts AlpacaOptions) *Alpaca {
	return &Alpaca{
		trading: alpaca.NewClient(alpaca.ClientOpts{
			APIKey:     opts.APIKey,
			APISecret:  opts.APISecret,
			BaseURL:    opts.BaseURL,
			RetryLimit: opts.RetryLimit,
			RetryDelay: opts.RetryDelay,
		}),
		data: marketdata.NewClient(marketdata.ClientOpts{
			APIKey:     opts.APIKey,
			APISecret:  opts.APISecret,
			RetryLimit: opts.RetryLimit,
			RetryDelay: opts.RetryDelay,
		}),
		quote: strings.ToUpper(opts.QuoteAsset),
		now:   time.Now,
	}
}

func (c *Alpaca) Candles(ctx context.Context, symbol, timeframe string, limit int) ([]md.Candle, error) {
	tf, step, err := alpacaTimeFrame(timeframe)
	if err != nil {
		return nil, err
	}
	// Quiet minutes produce no bar, so look back further than limit bars and
	// keep the tail.
	start := c.now().Add(-3 * time.Duration(limit) * step)
	bars, err := c.data.GetCryptoBars(symbol, marketdata.GetCryptoBarsRequest{
		TimeFrame: tf,
		Start:     start,
	})
	if err != nil {
		slog.Error("fetch bars failed", "symbol", symbol, "timeframe", timeframe, "error", err)
		return nil, err
	}
	if len(bars) > limit {
		bars = bars[len(bars)-limit:]
	}
	candles := make([]md.Candle, 0, len(bars))
	for _, bar := range bars {
		candles = append(candles, md.Candle{
			Time:   bar.Timestamp,
			Open:   bar.Open,
			High:   bar.High,
			Low:    bar.Low,
			Close:  bar.Close,
			Volume: bar.Volume,
		})
	}
	slog.Debug("bars fetched", "symbol", symbol, "timeframe", timeframe, "count", len(candles))
	return candles, nil
}

// Balance returns the account cash for the quote asset and the position
// quantity for anything else. No position means a zero balance.
func (c *Alpaca) Balance(ctx context.Context, asset string) (decimal.Decimal, error) {
	asset = strings.ToUpper(asset)
	if asset == c.quote {
		acct, err := c.trading.GetAccount()
		if err != nil {
			slog.Error("fetch account failed", "error", err)
			return decimal.Zero, err
		}
		return acct.Cash, nil
	}

	pos, err := c.trading.GetPosition(asset + c.quote)
	if err != nil {
		var apiErr *alpaca.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return decimal.Zero, nil
		}
		slog.Error("fetch position failed", "asset", asset, "error", err)
		return decimal.Zero, err
	}
	return pos.Qty, nil
}

func (c *Alpaca) MarketBuy(ctx context.Context, symbol string, qty decimal.Decimal) (OrderRef, error) {
	return c.placeMarket(symbol, alpaca.Buy, qty)
}

func (c *Alpaca) MarketSell(ctx context.Context, symbol string, qty decimal.Decimal) (OrderRef, error) {
	return c.placeMarket(symbol, alpaca.Sell, qty)
}

func (c *Alpaca) placeMarket(symbol string, side alpaca.Side, qty decimal.Decimal) (OrderRef, error) {
	orderReq := alpaca.PlaceOrderRequest{
		Symbol:        symbol,
		Qty:           &qty,
		Side:          side,
		Type:          alpaca.Market,
		TimeInForce:   alpaca.GTC,
		ClientOrderID: id.New(),
	}
	order, err := c.trading.PlaceOrder(orderReq)
	if err != nil {
		slog.Error("place order failed", "side", side, "symbol", symbol, "qty", qty, "error", err)
		return OrderRef{}, err
	}

	slog.Info("place order success", "order_id", order.ID, "side", side, "symbol", symbol, "qty", qty, "status", order.Status)
	return OrderRef{
		ID:            order.ID,
		ClientOrderID: order.ClientOrderID,
		Status:        string(order.Status),
	}, nil
}

func alpacaTimeFrame(value string) (marketdata.TimeFrame, time.Duration, error) {
	step, err := ParseTimeframe(value)
	if err != nil {
		return marketdata.TimeFrame{}, 0, err
	}
	switch {
	case step%(24*time.Hour) == 0:
		return marketdata.NewTimeFrame(int(step/(24*time.Hour)), marketdata.Day), step, nil
	case step%time.Hour == 0:
		return marketdata.NewTimeFrame(int(step/time.Hour), marketdata.Hour), step, nil
	case step%time.Minute == 0:
		return marketdata.NewTimeFrame(int(step/time.Minute), marketdata.Min), step, nil
	default:
		return marketdata.TimeFrame{}, 0, fmt.Errorf("unsupported timeframe %q", value)
	}
}
