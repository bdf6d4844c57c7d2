package engine

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"microgrid/internal/broker"
	"microgrid/internal/dashboard"
	"microgrid/internal/journal"
	"microgrid/internal/md"
	"microgrid/internal/risk"
	"microgrid/internal/state"
	"microgrid/internal/strategy"
)

var (
	testPair = broker.Pair{Base: "BTC", Quote: "USD"}
	errBoom  = errors.New("exchange unavailable")
)

type recordingJournal struct {
	events []journal.Event
	err    error
}

func (j *recordingJournal) Record(e journal.Event) error {
	if j.err != nil {
		return j.err
	}
	j.events = append(j.events, e)
	return nil
}

func (j *recordingJournal) Close() error { return nil }

type recordingSink struct {
	snapshots []dashboard.Snapshot
}

func (s *recordingSink) Publish(snapshot dashboard.Snapshot) {
	s.snapshots = append(s.snapshots, snapshot)
}

// flakyExchange lets okSells sells through and then fails every sell.
type flakyExchange struct {
	broker.Exchange
	sellErr error
	okSells int
	sells   int
}

func (f *flakyExchange) MarketSell(ctx context.Context, symbol string, qty decimal.Decimal) (broker.OrderRef, error) {
	f.sells++
	if f.sellErr != nil && f.sells > f.okSells {
		return broker.OrderRef{}, f.sellErr
	}
	return f.Exchange.MarketSell(ctx, symbol, qty)
}

type panickyExchange struct {
	broker.Exchange
}

func (panickyExchange) Candles(context.Context, string, string, int) ([]md.Candle, error) {
	panic("feed exploded")
}

type fixture struct {
	sim     *broker.Sim
	store   *state.Store
	journal *recordingJournal
	sink    *recordingSink
}

func newFixture(t *testing.T, balances map[string]decimal.Decimal, positions ...state.Position) *fixture {
	t.Helper()
	store := state.NewStore(filepath.Join(t.TempDir(), "positions.json"), 50)
	if len(positions) > 0 {
		require.NoError(t, store.Save(positions))
	}
	return &fixture{
		sim:     broker.NewSim(broker.SimOptions{Pair: testPair, Balances: balances}),
		store:   store,
		journal: &recordingJournal{},
		sink:    &recordingSink{},
	}
}

func (f *fixture) engine(t *testing.T, exchange broker.Exchange, mutate ...func(*Options)) *Engine {
	t.Helper()
	opts := Options{
		Pair:      testPair,
		Timeframe: "1m",
		Period:    3,
		Method:    md.MethodSimple,
		Interval:  time.Millisecond,
		Params:    strategy.DefaultParams(),
	}
	for _, m := range mutate {
		m(&opts)
	}
	if exchange == nil {
		exchange = f.sim
	}
	e, err := New(opts, exchange, f.store, f.journal, f.sink, nil)
	require.NoError(t, err)
	return e
}

func position(t *testing.T, qty, price string) state.Position {
	t.Helper()
	p, err := state.NewPosition(time.Now(), decimal.RequireFromString(qty), decimal.RequireFromString(price))
	require.NoError(t, err)
	return p
}

func usd(amount string) map[string]decimal.Decimal {
	return map[string]decimal.Decimal{"USD": decimal.RequireFromString(amount)}
}

func TestIterateOpensPositionWhenOversold(t *testing.T) {
	f := newFixture(t, usd("100"))
	f.sim.PushClose(50400, 50300, 50200, 50100, 50000)
	e := f.engine(t, nil)

	result := e.Iterate(context.Background())

	require.NoError(t, result.Err)
	assert.Equal(t, OutcomeTraded, result.Outcome)
	assert.True(t, result.EntryFilled())
	assert.True(t, result.Persisted)

	positions := e.Ledger().Positions()
	require.Len(t, positions, 1)
	assert.Equal(t, "0.00002", positions[0].Quantity.String())
	assert.Equal(t, "50000", positions[0].EntryPrice.String())

	persisted, err := f.store.Load()
	require.NoError(t, err)
	require.Len(t, persisted, 1)
	assert.Equal(t, positions[0].ID, persisted[0].ID)

	require.Len(t, f.journal.events, 1)
	assert.Equal(t, journal.Buy, f.journal.events[0].Action)
	assert.True(t, f.journal.events[0].PnL.IsZero())

	require.Len(t, f.sink.snapshots, 1)
	assert.True(t, f.sink.snapshots[0].IndicatorSet)
	assert.InDelta(t, 0, f.sink.snapshots[0].Indicator, 1e-9)
	assert.InDelta(t, 100, f.sink.snapshots[0].QuoteBalance, 1e-9)

	quote, err := f.sim.Balance(context.Background(), "USD")
	require.NoError(t, err)
	assert.Equal(t, "99", quote.String())
}

func TestIterateClosesOnlyPositionsAboveProfitFloor(t *testing.T) {
	big := position(t, "0.002", "50000")
	small := position(t, "0.00002", "50000")
	f := newFixture(t, map[string]decimal.Decimal{"BTC": decimal.RequireFromString("0.00202")}, big, small)
	f.sim.PushClose(50000, 50100, 50200, 50300, 50400)
	e := f.engine(t, nil)

	result := e.Iterate(context.Background())

	require.NoError(t, result.Err)
	assert.Equal(t, OutcomeTraded, result.Outcome)
	assert.Equal(t, 1, result.ExitsPlanned)
	assert.Equal(t, 1, result.ExitsFilled())
	assert.False(t, result.EntryPlanned)
	assert.InDelta(t, 100-100.0/101, result.Indicator, 1e-9)

	remaining := e.Ledger().Positions()
	require.Len(t, remaining, 1)
	assert.Equal(t, small.ID, remaining[0].ID)

	assert.Equal(t, "0.8", e.Executor().Totals().RealizedPnL.String())
	require.Len(t, f.journal.events, 1)
	assert.Equal(t, journal.Sell, f.journal.events[0].Action)
	assert.Equal(t, "0.8", f.journal.events[0].PnL.String())
	assert.Equal(t, big.ID, f.journal.events[0].PositionID)

	persisted, err := f.store.Load()
	require.NoError(t, err)
	require.Len(t, persisted, 1)
	assert.Equal(t, small.ID, persisted[0].ID)
}

func TestIterateFailedSellLeavesStateUnchanged(t *testing.T) {
	lot := position(t, "0.002", "50000")
	f := newFixture(t, map[string]decimal.Decimal{"BTC": decimal.RequireFromString("0.002")}, lot)
	f.sim.PushClose(50000, 50100, 50200, 50300, 50400)
	before, err := os.ReadFile(f.store.Path())
	require.NoError(t, err)

	e := f.engine(t, &flakyExchange{Exchange: f.sim, sellErr: errBoom})
	result := e.Iterate(context.Background())

	assert.Equal(t, OutcomeFailed, result.Outcome)
	assert.ErrorIs(t, result.Err, errBoom)
	assert.False(t, result.Persisted)
	assert.Equal(t, 1, e.Ledger().Len())
	assert.True(t, e.Executor().Totals().RealizedPnL.IsZero())
	assert.Empty(t, f.journal.events)

	after, err := os.ReadFile(f.store.Path())
	require.NoError(t, err)
	assert.Equal(t, before, after)

	// The lot is still there, so the next pass retries the exit.
	f.sim.PushClose(50400)
	e2 := f.engine(t, nil)
	retry := e2.Iterate(context.Background())
	require.NoError(t, retry.Err)
	assert.Equal(t, 1, retry.ExitsFilled())
}

func TestIterateStopsAtFirstFailedExit(t *testing.T) {
	first := position(t, "0.002", "50000")
	second := position(t, "0.003", "50000")
	f := newFixture(t, map[string]decimal.Decimal{"BTC": decimal.RequireFromString("0.005")}, first, second)
	f.sim.PushClose(50000, 50100, 50200, 50300, 50400)

	e := f.engine(t, &flakyExchange{Exchange: f.sim, sellErr: errBoom, okSells: 1})
	result := e.Iterate(context.Background())

	assert.Equal(t, OutcomeFailed, result.Outcome)
	assert.Equal(t, 2, result.ExitsPlanned)
	assert.Equal(t, 1, result.ExitsFilled())

	remaining := e.Ledger().Positions()
	require.Len(t, remaining, 1)
	assert.Equal(t, second.ID, remaining[0].ID)
	assert.Equal(t, "0.8", e.Executor().Totals().RealizedPnL.String())

	persisted, err := f.store.Load()
	require.NoError(t, err)
	assert.Len(t, persisted, 2, "a failed iteration must not persist")
}

func TestIterateSkipsWhenIndicatorUnavailable(t *testing.T) {
	f := newFixture(t, usd("100"))
	f.sim.PushClose(50400, 50300, 50000)
	e := f.engine(t, nil)

	result := e.Iterate(context.Background())

	assert.Equal(t, OutcomeSkipped, result.Outcome)
	assert.NoError(t, result.Err)
	assert.False(t, result.IndicatorReady)
	assert.Equal(t, "50000", result.Price.String())
	assert.Empty(t, f.sim.Orders())

	require.Len(t, f.sink.snapshots, 1)
	assert.False(t, f.sink.snapshots[0].IndicatorSet)

	_, err := os.Stat(f.store.Path())
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestIterateIdleWhenQuoteBelowNotional(t *testing.T) {
	f := newFixture(t, usd("0.5"))
	f.sim.PushClose(50400, 50300, 50200, 50100, 50000)
	e := f.engine(t, nil)

	result := e.Iterate(context.Background())

	require.NoError(t, result.Err)
	assert.Equal(t, OutcomeIdle, result.Outcome)
	assert.False(t, result.EntryPlanned)
	assert.True(t, result.Persisted)
	assert.Empty(t, f.sim.Orders())
}

func TestIterateKillSwitchRejectsOrders(t *testing.T) {
	f := newFixture(t, usd("100"))
	f.sim.PushClose(50400, 50300, 50200, 50100, 50000)
	e := f.engine(t, nil, func(o *Options) { o.Risk = risk.RiskContext{KillSwitch: true} })

	result := e.Iterate(context.Background())

	assert.Equal(t, OutcomeFailed, result.Outcome)
	assert.ErrorIs(t, result.Err, risk.ErrKillSwitch)
	assert.Empty(t, f.sim.Orders())
	assert.Zero(t, e.Ledger().Len())
}

func TestIterateJournalFailureDoesNotFailIteration(t *testing.T) {
	f := newFixture(t, usd("100"))
	f.journal.err = errors.New("disk full")
	f.sim.PushClose(50400, 50300, 50200, 50100, 50000)
	e := f.engine(t, nil)

	result := e.Iterate(context.Background())

	require.NoError(t, result.Err)
	assert.Equal(t, OutcomeTraded, result.Outcome)
	assert.Equal(t, 1, e.Ledger().Len())
}

func TestIterateRecoversFromPanic(t *testing.T) {
	f := newFixture(t, usd("100"))
	e := f.engine(t, panickyExchange{Exchange: f.sim})

	result := e.Iterate(context.Background())

	assert.Equal(t, OutcomeFailed, result.Outcome)
	require.Error(t, result.Err)
	assert.Contains(t, result.Err.Error(), "feed exploded")
}

func TestIterateFetchErrorSkipsPersistence(t *testing.T) {
	f := newFixture(t, usd("100"))
	f.sim.PushClose(50400, 50300, 50200, 50100, 50000)
	f.sim.FailNext(errBoom)
	e := f.engine(t, nil)

	result := e.Iterate(context.Background())

	assert.Equal(t, OutcomeFailed, result.Outcome)
	assert.ErrorIs(t, result.Err, errBoom)
	assert.Empty(t, f.sink.snapshots)
	_, err := os.Stat(f.store.Path())
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestNewStartsEmptyOnCorruptPositionsFile(t *testing.T) {
	f := newFixture(t, usd("100"))
	require.NoError(t, os.WriteFile(f.store.Path(), []byte("{not json"), 0o644))

	e := f.engine(t, nil)
	assert.Zero(t, e.Ledger().Len())
}

func TestDecisionLogRecordsEachIteration(t *testing.T) {
	f := newFixture(t, usd("100"))
	f.sim.PushClose(50400, 50300, 50000)
	path := filepath.Join(t.TempDir(), "decisions.ndjson")
	decisions, err := NewDecisionLogger(path, "run-1")
	require.NoError(t, err)

	e, err := New(Options{
		Pair:      testPair,
		Timeframe: "1m",
		Period:    3,
		Interval:  time.Millisecond,
		Params:    strategy.DefaultParams(),
	}, f.sim, f.store, f.journal, f.sink, decisions)
	require.NoError(t, err)
	assert.Equal(t, "run-1", e.RunID())

	e.Iterate(context.Background())
	f.sim.PushClose(50100, 50000)
	e.Iterate(context.Background())
	require.NoError(t, decisions.Close())

	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	var got []Decision
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var d Decision
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &d))
		got = append(got, d)
	}
	require.NoError(t, scanner.Err())
	require.Len(t, got, 2)

	assert.Equal(t, OutcomeSkipped, got[0].Result)
	assert.Nil(t, got[0].Indicator)
	assert.Equal(t, "run-1", got[0].RunID)

	assert.Equal(t, OutcomeTraded, got[1].Result)
	require.NotNil(t, got[1].Indicator)
	assert.True(t, got[1].EntryFilled)
	assert.Len(t, got[1].OrderIDs, 1)
}

func TestRunStopsOnCancel(t *testing.T) {
	f := newFixture(t, usd("100"))
	f.sim.PushClose(50000, 50000, 50000, 50000, 50000)
	e := f.engine(t, nil, func(o *Options) { o.Interval = 5 * time.Millisecond })

	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop after cancellation")
	}
	assert.NotEmpty(t, f.sink.snapshots)
}
