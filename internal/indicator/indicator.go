// Package indicator holds pure functions over a bar series: moving
// averages, KDJ, MACD, and BBI. These are the analytics layer's actual
// concern (out of scope per spec §1); this package exists only to give the
// Analysis Cache something real to cache, matching the contract
// original_source/analyzers/indicators.py and core/base_analyzer.py define
// (a pure function over a price series, no shared state).
package indicator

import "jupitor/internal/domain"

// MA returns the simple moving average over the last `window` closes,
// one value per bar once enough history exists; bars before that are 0.
func MA(bars []domain.Bar, window int) []float64 {
	out := make([]float64, len(bars))
	for i := range out {
		if i+1 < window {
			out[i] = 0
			continue
		}
		var sum float64
		for j := i - window + 1; j <= i; j++ {
			sum += bars[j].Close
		}
		out[i] = sum / float64(window)
	}
	return out
}

// BBI is the Bull and Bear Index: the average of the 3, 6, 12, and 24 day
// moving averages.
func BBI(bars []domain.Bar) []float64 {
	ma3 := MA(bars, 3)
	ma6 := MA(bars, 6)
	ma12 := MA(bars, 12)
	ma24 := MA(bars, 24)
	out := make([]float64, len(bars))
	for i := range out {
		if i+1 < 24 {
			continue
		}
		out[i] = (ma3[i] + ma6[i] + ma12[i] + ma24[i]) / 4
	}
	return out
}

// MACDPoint is one day's MACD triple.
type MACDPoint struct {
	DIF  float64
	DEA  float64
	Hist float64
}

// MACD computes the standard 12/26/9 moving-average-convergence-divergence
// series over closes.
func MACD(bars []domain.Bar) []MACDPoint {
	ema12 := ema(bars, 12)
	ema26 := ema(bars, 26)
	dif := make([]float64, len(bars))
	for i := range bars {
		dif[i] = ema12[i] - ema26[i]
	}
	dea := emaOf(dif, 9)

	out := make([]MACDPoint, len(bars))
	for i := range bars {
		out[i] = MACDPoint{DIF: dif[i], DEA: dea[i], Hist: 2 * (dif[i] - dea[i])}
	}
	return out
}

func ema(bars []domain.Bar, period int) []float64 {
	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}
	return emaOf(closes, period)
}

func emaOf(series []float64, period int) []float64 {
	out := make([]float64, len(series))
	if len(series) == 0 {
		return out
	}
	k := 2.0 / float64(period+1)
	out[0] = series[0]
	for i := 1; i < len(series); i++ {
		out[i] = series[i]*k + out[i-1]*(1-k)
	}
	return out
}

// KDJPoint is one day's stochastic-oscillator triple.
type KDJPoint struct {
	K, D, J float64
}

// KDJ computes the standard 9-day stochastic oscillator.
func KDJ(bars []domain.Bar) []KDJPoint {
	out := make([]KDJPoint, len(bars))
	k, d := 50.0, 50.0
	for i := range bars {
		lo := i - 8
		if lo < 0 {
			lo = 0
		}
		low, high := bars[i].Low, bars[i].High
		for j := lo; j <= i; j++ {
			if bars[j].Low < low {
				low = bars[j].Low
			}
			if bars[j].High > high {
				high = bars[j].High
			}
		}
		var rsv float64
		if high != low {
			rsv = (bars[i].Close - low) / (high - low) * 100
		}
		k = (2.0/3.0)*k + (1.0/3.0)*rsv
		d = (2.0/3.0)*d + (1.0/3.0)*k
		j := 3*k - 2*d
		out[i] = KDJPoint{K: k, D: d, J: j}
	}
	return out
}
