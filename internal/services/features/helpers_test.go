package features

import (
	"math"
	"time"

	"PriceCast/internal/domain/models"
)

// dailySeries builds n daily OHLCV rows with a gently trending, wiggling close.
func dailySeries(n int) *models.RawSeries {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := &models.RawSeries{Name: "synthetic", TimeColumn: "date"}
	open := make([]float64, n)
	high := make([]float64, n)
	low := make([]float64, n)
	closes := make([]float64, n)
	volume := make([]float64, n)
	for i := 0; i < n; i++ {
		s.Times = append(s.Times, start.AddDate(0, 0, i))
		c := 100 + float64(i)*0.5 + 3*math.Sin(float64(i)/3)
		closes[i] = c
		open[i] = c - 0.4
		high[i] = c + 1.1
		low[i] = c - 1.3
		volume[i] = 1000 + float64(i%7)*25
	}
	s.Columns = []models.RawColumn{
		{Name: "open", Numeric: true, Values: open},
		{Name: "high", Numeric: true, Values: high},
		{Name: "low", Numeric: true, Values: low},
		{Name: "close", Numeric: true, Values: closes},
		{Name: "volume", Numeric: true, Values: volume},
	}
	return s
}

func nanColumn(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

func seq(n int, f func(i int) float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = f(i)
	}
	return out
}
