package features

import (
	"math"
	"regexp"
	"strings"
	"time"
	"unicode"

	"PriceCast/internal/domain/errs"
	"PriceCast/internal/domain/models"
)

// Engineered column names, appended in this order.
const (
	ColDailyReturn = "daily_return"
	ColVolatility  = "volatility"
	ColSMA7        = "sma_7"
	ColSMA30       = "sma_30"
	ColEMA7        = "ema_7"
)

// Window sizes of the engineered indicators. LargestWindow bounds how many
// leading rows engineering can drop.
const (
	VolatilityWindow = 7
	ShortWindow      = 7
	LongWindow       = 30
	EMASpan          = 7
	LargestWindow    = LongWindow
)

const closeColumn = "close"

var placeholderColumn = regexp.MustCompile(`^(Unnamed|\s*$)`)

// Engineer cleans raw and appends the technical indicators, then drops every
// row that still holds a missing value. It fails with
// DataError(InsufficientRows) when fewer than max(minRows,1) rows survive.
func Engineer(raw *models.RawSeries, minRows int) (*Frame, error) {
	if raw == nil || raw.Len() == 0 {
		return nil, errs.Data(errs.InsufficientRows, "dataset is empty")
	}
	name := raw.Name

	var (
		cols []string
		vals [][]float64
	)
	for _, c := range raw.Columns {
		if !keepColumn(raw, c) {
			continue
		}
		cols = append(cols, c.Name)
		vals = append(vals, append([]float64(nil), c.Values...))
	}

	_, ci, ok := resolveFold(cols, closeColumn)
	if !ok {
		return nil, errs.Data(errs.UnknownTarget, "no %q column in dataset %q (columns: %s)",
			closeColumn, name, strings.Join(cols, ", "))
	}
	closes := vals[ci]

	returns := PctChange(closes)
	derived := []struct {
		name string
		v    []float64
	}{
		{ColDailyReturn, returns},
		{ColVolatility, RollingStd(returns, VolatilityWindow)},
		{ColSMA7, RollingMean(closes, ShortWindow)},
		{ColSMA30, RollingMean(closes, LongWindow)},
		{ColEMA7, EMA(closes, EMASpan)},
	}
	for _, d := range derived {
		if i := indexOf(cols, d.name); i >= 0 {
			vals[i] = d.v
			continue
		}
		cols = append(cols, d.name)
		vals = append(vals, d.v)
	}

	frame := dropIncompleteRows(cols, vals, raw.Times)
	need := minRows
	if need < 1 {
		need = 1
	}
	if frame.Rows() < need {
		return nil, errs.Data(errs.InsufficientRows,
			"dataset %q has %d usable rows after feature engineering, need at least %d",
			name, frame.Rows(), need)
	}
	return frame, nil
}

func keepColumn(raw *models.RawSeries, c models.RawColumn) bool {
	switch {
	case !c.Numeric, allMissing(c.Values):
		return false
	case placeholderColumn.MatchString(c.Name), !isASCII(c.Name):
		return false
	case c.Name == "date", c.Name == "Date", c.Name == raw.TimeColumn:
		return false
	}
	return true
}

func dropIncompleteRows(cols []string, vals [][]float64, times []time.Time) *Frame {
	rows := len(times)
	keep := make([]int, 0, rows)
	for r := 0; r < rows; r++ {
		complete := true
		for _, col := range vals {
			if r >= len(col) || math.IsNaN(col[r]) || math.IsInf(col[r], 0) {
				complete = false
				break
			}
		}
		if complete {
			keep = append(keep, r)
		}
	}

	out := &Frame{Columns: cols, Values: make([][]float64, len(vals)), Times: make([]time.Time, len(keep))}
	for c, col := range vals {
		out.Values[c] = make([]float64, len(keep))
		for i, r := range keep {
			out.Values[c][i] = col[r]
		}
	}
	for i, r := range keep {
		out.Times[i] = times[r]
	}
	return out
}

func allMissing(v []float64) bool {
	for _, x := range v {
		if !math.IsNaN(x) {
			return false
		}
	}
	return true
}

func isASCII(s string) bool {
	for _, r := range s {
		if r > unicode.MaxASCII {
			return false
		}
	}
	return true
}

func indexOf(cols []string, name string) int {
	for i, c := range cols {
		if c == name {
			return i
		}
	}
	return -1
}
