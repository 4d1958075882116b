package features

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// PctChange computes x[t]/x[t-1]-1. The first value and any non-finite
// result are NaN.
func PctChange(x []float64) []float64 {
	out := make([]float64, len(x))
	for i := range x {
		if i == 0 {
			out[i] = math.NaN()
			continue
		}
		out[i] = finiteOrNaN(x[i]/x[i-1] - 1)
	}
	return out
}

// RollingMean is a trailing mean over window values. Positions without a full
// window of non-missing values are NaN.
func RollingMean(x []float64, window int) []float64 {
	return rolling(x, window, func(w []float64) float64 { return stat.Mean(w, nil) })
}

// RollingStd is a trailing sample standard deviation (n-1 denominator).
func RollingStd(x []float64, window int) []float64 {
	if window < 2 {
		return nanSlice(len(x))
	}
	return rolling(x, window, func(w []float64) float64 { return stat.StdDev(w, nil) })
}

// EMA is the recursive exponential mean with alpha = 2/(span+1), seeded with
// the first value. Missing inputs carry the previous average forward.
func EMA(x []float64, span int) []float64 {
	out := make([]float64, len(x))
	alpha := 2.0 / (float64(span) + 1.0)
	prev := math.NaN()
	for i, v := range x {
		switch {
		case math.IsNaN(v):
			out[i] = prev
			continue
		case math.IsNaN(prev):
			prev = v
		default:
			prev = alpha*v + (1-alpha)*prev
		}
		out[i] = prev
	}
	return out
}

func rolling(x []float64, window int, fn func([]float64) float64) []float64 {
	out := nanSlice(len(x))
	if window < 1 {
		return out
	}
	for i := window - 1; i < len(x); i++ {
		w := x[i-window+1 : i+1]
		if hasNaN(w) {
			continue
		}
		out[i] = finiteOrNaN(fn(w))
	}
	return out
}

func hasNaN(x []float64) bool {
	for _, v := range x {
		if math.IsNaN(v) {
			return true
		}
	}
	return false
}

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

func finiteOrNaN(v float64) float64 {
	if math.IsInf(v, 0) {
		return math.NaN()
	}
	return v
}
