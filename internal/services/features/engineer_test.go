package features

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PriceCast/internal/domain/errs"
	"PriceCast/internal/domain/models"
)

func TestEngineerFortyRows(t *testing.T) {
	raw := dailySeries(40)
	f, err := Engineer(raw, 5)
	require.NoError(t, err)

	assert.Equal(t, 40-(LargestWindow-1), f.Rows())
	assert.Equal(t, []string{"open", "high", "low", "close", "volume",
		ColDailyReturn, ColVolatility, ColSMA7, ColSMA30, ColEMA7}, f.Columns)
	assert.Equal(t, raw.Times[LargestWindow-1], f.Times[0])
	for _, col := range f.Values {
		for _, v := range col {
			assert.False(t, math.IsNaN(v))
		}
	}

	// sma_30 on the first surviving row averages the first 30 closes.
	closes := raw.Columns[3].Values
	var sum float64
	for _, c := range closes[:30] {
		sum += c
	}
	assert.InDelta(t, sum/30, f.Column(ColSMA30)[0], 1e-9)
}

func TestEngineerCleansColumns(t *testing.T) {
	raw := dailySeries(35)
	n := raw.Len()
	raw.Columns = append(raw.Columns,
		models.RawColumn{Name: "Unnamed: 0", Numeric: true, Values: seq(n, func(i int) float64 { return float64(i) })},
		models.RawColumn{Name: "成交金額", Numeric: true, Values: seq(n, func(i int) float64 { return 1 })},
		models.RawColumn{Name: "empty", Numeric: true, Values: nanColumn(n)},
		models.RawColumn{Name: "Date", Numeric: true, Values: seq(n, func(i int) float64 { return float64(i) })},
		models.RawColumn{Name: "ticker", Numeric: false, Text: make([]string, n)},
		models.RawColumn{Name: "rsi", Numeric: true, Values: seq(n, func(i int) float64 { return 50 + float64(i%5) })},
	)

	f, err := Engineer(raw, 1)
	require.NoError(t, err)
	assert.Equal(t, -1, f.Index("Unnamed: 0"))
	assert.Equal(t, -1, f.Index("成交金額"))
	assert.Equal(t, -1, f.Index("empty"))
	assert.Equal(t, -1, f.Index("Date"))
	assert.Equal(t, -1, f.Index("ticker"))
	assert.GreaterOrEqual(t, f.Index("rsi"), 0)
}

func TestEngineerResolvesCloseCaseInsensitively(t *testing.T) {
	raw := dailySeries(40)
	raw.Columns[3].Name = "Close"
	f, err := Engineer(raw, 1)
	require.NoError(t, err)
	assert.Equal(t, 11, f.Rows())
	assert.GreaterOrEqual(t, f.Index("Close"), 0)
}

func TestEngineerMissingClose(t *testing.T) {
	raw := dailySeries(40)
	raw.Columns = raw.Columns[:3]
	_, err := Engineer(raw, 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.KindData))
	assert.True(t, errors.Is(err, errs.UnknownTarget))
}

func TestEngineerInsufficientRows(t *testing.T) {
	_, err := Engineer(dailySeries(32), 5)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.InsufficientRows))
	assert.Contains(t, err.Error(), "synthetic")

	f, err := Engineer(dailySeries(33), 4)
	require.NoError(t, err)
	assert.Equal(t, 4, f.Rows())

	_, err = Engineer(&models.RawSeries{Name: "empty"}, 1)
	assert.True(t, errors.Is(err, errs.InsufficientRows))
}

func TestEngineerDropsNonFiniteReturns(t *testing.T) {
	raw := dailySeries(45)
	raw.Columns[3].Values[35] = 0 // next return divides by zero
	f, err := Engineer(raw, 1)
	require.NoError(t, err)
	for _, v := range f.Column(ColDailyReturn) {
		assert.False(t, math.IsInf(v, 0))
	}
	assert.Less(t, f.Rows(), 45-(LargestWindow-1))
}

func TestEngineerIsPure(t *testing.T) {
	raw := dailySeries(40)
	before := append([]float64(nil), raw.Columns[3].Values...)
	_, err := Engineer(raw, 1)
	require.NoError(t, err)
	assert.Equal(t, before, raw.Columns[3].Values)
	assert.Len(t, raw.Columns, 5)
}

func TestRollingHelpers(t *testing.T) {
	x := []float64{1, 2, 3, 4}

	mean := RollingMean(x, 2)
	assert.True(t, math.IsNaN(mean[0]))
	assert.Equal(t, []float64{1.5, 2.5, 3.5}, mean[1:])

	std := RollingStd(x, 3)
	assert.True(t, math.IsNaN(std[1]))
	assert.InDelta(t, 1.0, std[2], 1e-12)

	assert.Equal(t, []float64{1, 1.5, 2.25}, EMA([]float64{1, 2, 3}, 3))

	pct := PctChange([]float64{2, 3, 0, 1})
	assert.True(t, math.IsNaN(pct[0]))
	assert.InDelta(t, 0.5, pct[1], 1e-12)
	assert.InDelta(t, -1, pct[2], 1e-12)
	assert.True(t, math.IsNaN(pct[3]))

	withGap := RollingMean([]float64{1, math.NaN(), 3, 4}, 2)
	assert.True(t, math.IsNaN(withGap[1]))
	assert.True(t, math.IsNaN(withGap[2]))
	assert.Equal(t, 3.5, withGap[3])
}
