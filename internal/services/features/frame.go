package features

import (
	"strings"
	"time"

	"PriceCast/internal/domain/models"
)

// ScalerState is the fitted min-max state returned by FitTransform.
type ScalerState = models.ScalerState

// Frame is a column-major numeric table. Values[c][r] is column c at row r and
// every column has the same length as Times.
type Frame struct {
	Columns []string
	Values  [][]float64
	Times   []time.Time
}

func (f *Frame) Rows() int {
	switch {
	case f == nil:
		return 0
	case len(f.Values) > 0:
		return len(f.Values[0])
	}
	return len(f.Times)
}

// Index returns the position of an exactly named column, or -1.
func (f *Frame) Index(name string) int {
	for i, c := range f.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Resolve finds a column case-insensitively, preferring an exact match.
func (f *Frame) Resolve(name string) (string, int, bool) {
	return resolveFold(f.Columns, name)
}

// Column returns the values of the named column, or nil.
func (f *Frame) Column(name string) []float64 {
	if i := f.Index(name); i >= 0 {
		return f.Values[i]
	}
	return nil
}

// Tail returns a frame holding the last n rows, sharing no memory with f.
func (f *Frame) Tail(n int) *Frame {
	rows := f.Rows()
	if n > rows {
		n = rows
	}
	start := rows - n
	out := &Frame{Columns: append([]string(nil), f.Columns...), Values: make([][]float64, len(f.Values))}
	for i, col := range f.Values {
		out.Values[i] = append([]float64(nil), col[start:]...)
	}
	if len(f.Times) == rows {
		out.Times = append([]time.Time(nil), f.Times[start:]...)
	}
	return out
}

func resolveFold(columns []string, name string) (string, int, bool) {
	for i, c := range columns {
		if c == name {
			return c, i, true
		}
	}
	for i, c := range columns {
		if strings.EqualFold(c, name) {
			return c, i, true
		}
	}
	return "", -1, false
}
