package md

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var ErrNoCandles = errors.New("no candles returned")

type Candle struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// CandleSource returns up to limit of the most recent candles, oldest first.
type CandleSource interface {
	Candles(ctx context.Context, symbol, timeframe string, limit int) ([]Candle, error)
}

// Sample is one read of the market. Ready is false when the feed returned
// too few closes to compute the indicator; LastPrice is still valid then.
type Sample struct {
	Indicator float64
	Ready     bool
	LastPrice float64
	BarTime   time.Time
	Closes    int
}

type Sampler struct {
	source    CandleSource
	indicator IndicatorFunc
}

func NewSampler(source CandleSource, method Method) *Sampler {
	return &Sampler{source: source, indicator: method.Func()}
}

// Sample fetches period+2 candles and computes the indicator from their
// closes. Fetch errors are returned as is; there is no retry here.
func (s *Sampler) Sample(ctx context.Context, symbol, timeframe string, period int) (Sample, error) {
	candles, err := s.source.Candles(ctx, symbol, timeframe, period+2)
	if err != nil {
		return Sample{}, fmt.Errorf("fetch candles %s %s: %w", symbol, timeframe, err)
	}
	if len(candles) == 0 {
		return Sample{}, ErrNoCandles
	}

	closes := make([]float64, len(candles))
	for i, candle := range candles {
		closes[i] = candle.Close
	}
	last := candles[len(candles)-1]
	sample := Sample{
		LastPrice: last.Close,
		BarTime:   last.Time,
		Closes:    len(closes),
	}
	sample.Indicator, sample.Ready = s.indicator(closes, period)
	return sample, nil
}
