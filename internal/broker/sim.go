package broker

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"microgrid/internal/id"
	"microgrid/internal/md"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrNoPrice             = errors.New("no price available")
)

type SimOptions struct {
	Pair       Pair
	StartPrice float64
	// Volatility is the standard deviation of each random-walk step as a
	// fraction of price. Zero keeps the price flat.
	Volatility float64
	Seed       int64
	Balances   map[string]decimal.Decimal
	History    int
	Step       time.Duration
	// Autoplay appends one random-walk candle on every Candles call.
	Autoplay bool
	// Warmup is the number of random-walk candles generated up front so the
	// indicator is available on the first read.
	Warmup int
	Start  time.Time
}

// Sim is an in-memory exchange that fills market orders at the last close.
type Sim struct {
	mu       sync.Mutex
	pair     Pair
	history  *md.RingBuffer[md.Candle]
	balances map[string]decimal.Decimal
	rng      *rand.Rand
	vol      float64
	step     time.Duration
	autoplay bool
	clock    time.Time
	failNext error
	orders   []SimOrder
}

type SimOrder struct {
	Ref    OrderRef
	Side   string
	Qty    decimal.Decimal
	Price  decimal.Decimal
	Symbol string
}

func NewSim(opts SimOptions) *Sim {
	if opts.History <= 0 {
		opts.History = 500
	}
	if opts.Step <= 0 {
		opts.Step = time.Minute
	}
	if opts.Start.IsZero() {
		opts.Start = time.Now().UTC().Truncate(opts.Step)
	}
	s := &Sim{
		pair:     opts.Pair,
		history:  md.NewRingBuffer[md.Candle](opts.History),
		balances: make(map[string]decimal.Decimal, len(opts.Balances)),
		rng:      rand.New(rand.NewSource(opts.Seed)),
		vol:      opts.Volatility,
		step:     opts.Step,
		autoplay: opts.Autoplay,
		clock:    opts.Start,
	}
	for asset, amount := range opts.Balances {
		s.balances[strings.ToUpper(asset)] = amount
	}
	if opts.StartPrice > 0 {
		s.pushLocked(opts.StartPrice)
		for i := 0; i < opts.Warmup; i++ {
			s.walkLocked()
		}
	}
	return s
}

// PushClose appends a flat candle closing at price.
func (s *Sim) PushClose(prices ...float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, price := range prices {
		s.pushLocked(price)
	}
}

// FailNext makes the next exchange call return err.
func (s *Sim) FailNext(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = err
}

func (s *Sim) Orders() []SimOrder {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SimOrder, len(s.orders))
	copy(out, s.orders)
	return out
}

func (s *Sim) SetBalance(asset string, amount decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[strings.ToUpper(asset)] = amount
}

func (s *Sim) Candles(ctx context.Context, symbol, timeframe string, limit int) ([]md.Candle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return nil, err
	}
	if s.autoplay {
		s.walkLocked()
	}
	return s.history.Tail(limit), nil
}

func (s *Sim) Balance(ctx context.Context, asset string) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return decimal.Zero, err
	}
	return s.balances[strings.ToUpper(asset)], nil
}

func (s *Sim) MarketBuy(ctx context.Context, symbol string, qty decimal.Decimal) (OrderRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return OrderRef{}, err
	}
	price, err := s.lastPriceLocked()
	if err != nil {
		return OrderRef{}, err
	}
	cost := qty.Mul(price)
	if s.balances[s.pair.Quote].LessThan(cost) {
		return OrderRef{}, fmt.Errorf("%w: need %s %s, have %s", ErrInsufficientBalance, cost, s.pair.Quote, s.balances[s.pair.Quote])
	}
	s.balances[s.pair.Quote] = s.balances[s.pair.Quote].Sub(cost)
	s.balances[s.pair.Base] = s.balances[s.pair.Base].Add(qty)
	return s.recordLocked(symbol, "buy", qty, price), nil
}

func (s *Sim) MarketSell(ctx context.Context, symbol string, qty decimal.Decimal) (OrderRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return OrderRef{}, err
	}
	price, err := s.lastPriceLocked()
	if err != nil {
		return OrderRef{}, err
	}
	if s.balances[s.pair.Base].LessThan(qty) {
		return OrderRef{}, fmt.Errorf("%w: need %s %s, have %s", ErrInsufficientBalance, qty, s.pair.Base, s.balances[s.pair.Base])
	}
	s.balances[s.pair.Base] = s.balances[s.pair.Base].Sub(qty)
	s.balances[s.pair.Quote] = s.balances[s.pair.Quote].Add(qty.Mul(price))
	return s.recordLocked(symbol, "sell", qty, price), nil
}

func (s *Sim) takeFailure() error {
	err := s.failNext
	s.failNext = nil
	return err
}

func (s *Sim) lastPriceLocked() (decimal.Decimal, error) {
	last, ok := s.history.Last()
	if !ok {
		return decimal.Zero, ErrNoPrice
	}
	return decimal.NewFromFloat(last.Close), nil
}

func (s *Sim) pushLocked(price float64) {
	open := price
	if last, ok := s.history.Last(); ok {
		open = last.Close
	}
	s.clock = s.clock.Add(s.step)
	s.history.Add(md.Candle{
		Time:  s.clock,
		Open:  open,
		High:  max(open, price),
		Low:   min(open, price),
		Close: price,
	})
}

func (s *Sim) walkLocked() {
	last, ok := s.history.Last()
	if !ok {
		return
	}
	next := last.Close * (1 + s.rng.NormFloat64()*s.vol)
	if next <= 0 {
		next = last.Close
	}
	s.pushLocked(decimal.NewFromFloat(next).Round(2).InexactFloat64())
}

func (s *Sim) recordLocked(symbol, side string, qty, price decimal.Decimal) OrderRef {
	ref := OrderRef{ID: id.New(), ClientOrderID: id.New(), Status: "filled"}
	s.orders = append(s.orders, SimOrder{Ref: ref, Side: side, Qty: qty, Price: price, Symbol: symbol})
	return ref
}
