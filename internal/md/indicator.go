package md

import (
	"fmt"

	"github.com/markcheno/go-talib"
)

// Method selects how the momentum indicator is computed from closes.
type Method string

const (
	// MethodSimple averages the last period close-to-close deltas.
	MethodSimple Method = "simple"
	// MethodWilder uses Wilder smoothing over the whole fetched window.
	MethodWilder Method = "wilder"
)

// noLossStrength is the relative strength used when the window has no losses.
const noLossStrength = 100.0

// IndicatorFunc returns the indicator value and whether enough closes were
// available to compute it.
type IndicatorFunc func(closes []float64, period int) (float64, bool)

func ParseMethod(value string) (Method, error) {
	switch Method(value) {
	case MethodSimple, "":
		return MethodSimple, nil
	case MethodWilder:
		return MethodWilder, nil
	default:
		return "", fmt.Errorf("unsupported indicator method: %s", value)
	}
}

func (m Method) Func() IndicatorFunc {
	if m == MethodWilder {
		return WilderRSI
	}
	return SimpleRSI
}

// SimpleRSI computes 100 - 100/(1+gain/loss) over the most recent period
// deltas, where gain and loss are the mean positive and mean negative delta
// magnitudes. Needs at least period+1 closes.
func SimpleRSI(closes []float64, period int) (float64, bool) {
	if period <= 0 || len(closes) < period+1 {
		return 0, false
	}
	window := closes[len(closes)-period-1:]
	var gains, losses float64
	for i := 0; i < period; i++ {
		delta := window[i+1] - window[i]
		if delta > 0 {
			gains += delta
		} else {
			losses -= delta
		}
	}
	gain := gains / float64(period)
	loss := losses / float64(period)

	rs := noLossStrength
	if loss != 0 {
		rs = gain / loss
	}
	return 100 - 100/(1+rs), true
}

// WilderRSI is the classic smoothed RSI over the full close history.
func WilderRSI(closes []float64, period int) (float64, bool) {
	if period <= 1 || len(closes) < period+1 {
		return 0, false
	}
	values := talib.Rsi(closes, period)
	if len(values) == 0 {
		return 0, false
	}
	return values[len(values)-1], true
}
