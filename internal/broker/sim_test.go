package broker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var btcUSD = Pair{Base: "BTC", Quote: "USD"}

func newTestSim(quote string) *Sim {
	return NewSim(SimOptions{
		Pair:     btcUSD,
		Balances: map[string]decimal.Decimal{"usd": decimal.RequireFromString(quote)},
		Start:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	})
}

func TestSimCandlesReturnTail(t *testing.T) {
	sim := newTestSim("10")
	sim.PushClose(100, 101, 99, 98)

	candles, err := sim.Candles(context.Background(), "BTC/USD", "1m", 3)
	require.NoError(t, err)
	require.Len(t, candles, 3)
	assert.Equal(t, 101.0, candles[0].Close)
	assert.Equal(t, 98.0, candles[2].Close)
	assert.True(t, candles[1].Time.Before(candles[2].Time))
}

func TestSimAutoplayAdvances(t *testing.T) {
	sim := NewSim(SimOptions{Pair: btcUSD, StartPrice: 50000, Volatility: 0.001, Seed: 7, Autoplay: true})
	first, err := sim.Candles(context.Background(), "BTC/USD", "1m", 10)
	require.NoError(t, err)
	second, err := sim.Candles(context.Background(), "BTC/USD", "1m", 10)
	require.NoError(t, err)
	assert.Len(t, first, 2)
	assert.Len(t, second, 3)
}

func TestSimBuyAndSellMoveBalances(t *testing.T) {
	sim := newTestSim("10")
	sim.PushClose(50000)
	ctx := context.Background()

	_, err := sim.MarketBuy(ctx, "BTC/USD", decimal.RequireFromString("0.00002"))
	require.NoError(t, err)

	usd, err := sim.Balance(ctx, "USD")
	require.NoError(t, err)
	assert.True(t, usd.Equal(decimal.NewFromInt(9)), "got %s", usd)
	btc, err := sim.Balance(ctx, "btc")
	require.NoError(t, err)
	assert.True(t, btc.Equal(decimal.RequireFromString("0.00002")))

	sim.PushClose(51000)
	_, err = sim.MarketSell(ctx, "BTC/USD", decimal.RequireFromString("0.00002"))
	require.NoError(t, err)
	usd, _ = sim.Balance(ctx, "USD")
	assert.True(t, usd.Equal(decimal.RequireFromString("10.02")), "got %s", usd)

	orders := sim.Orders()
	require.Len(t, orders, 2)
	assert.Equal(t, "buy", orders[0].Side)
	assert.Equal(t, "sell", orders[1].Side)
}

func TestSimRejectsInsufficientBalance(t *testing.T) {
	sim := newTestSim("0.5")
	sim.PushClose(50000)
	ctx := context.Background()

	_, err := sim.MarketBuy(ctx, "BTC/USD", decimal.RequireFromString("0.00002"))
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	_, err = sim.MarketSell(ctx, "BTC/USD", decimal.RequireFromString("0.1"))
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Empty(t, sim.Orders())
}

func TestSimFailNextIsOneShot(t *testing.T) {
	sim := newTestSim("10")
	sim.PushClose(100)
	boom := errors.New("429 too many requests")
	sim.FailNext(boom)

	_, err := sim.Balance(context.Background(), "USD")
	assert.ErrorIs(t, err, boom)
	_, err = sim.Balance(context.Background(), "USD")
	assert.NoError(t, err)
}

func TestSimNoPrice(t *testing.T) {
	sim := newTestSim("10")
	_, err := sim.MarketBuy(context.Background(), "BTC/USD", decimal.NewFromInt(1))
	assert.ErrorIs(t, err, ErrNoPrice)
}

func TestSimWarmupFillsHistory(t *testing.T) {
	sim := NewSim(SimOptions{Pair: btcUSD, StartPrice: 50000, Volatility: 0.001, Seed: 3, Warmup: 9})

	candles, err := sim.Candles(context.Background(), "BTC/USD", "1m", 20)
	require.NoError(t, err)
	assert.Len(t, candles, 10)
	assert.Equal(t, 50000.0, candles[0].Close)
}
