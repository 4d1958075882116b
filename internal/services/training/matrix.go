package training

import (
	"context"
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"

	"PriceCast/internal/domain/errs"
	"PriceCast/internal/domain/service"
)

// flatten lays each window out as one row of LookBack*Features values.
func flatten(x [][][]float64, shape service.Shape) (*mat.Dense, error) {
	if len(x) == 0 {
		return nil, errs.Data(errs.NoTrainableData, "no input windows")
	}
	width := shape.LookBack * shape.Features
	data := make([]float64, 0, len(x)*width)
	for i, w := range x {
		if len(w) != shape.LookBack {
			return nil, errs.Config(errs.OutOfRange, "window %d has %d steps, model expects %d", i, len(w), shape.LookBack)
		}
		for _, step := range w {
			if len(step) != shape.Features {
				return nil, errs.Config(errs.OutOfRange, "window %d has %d features, model expects %d", i, len(step), shape.Features)
			}
			data = append(data, step...)
		}
	}
	return mat.NewDense(len(x), width, data), nil
}

func targets(y [][]float64, units int) (*mat.Dense, error) {
	if len(y) == 0 {
		return nil, errs.Data(errs.NoTrainableData, "no targets")
	}
	data := make([]float64, 0, len(y)*units)
	for i, row := range y {
		if len(row) != units {
			return nil, errs.Config(errs.OutOfRange, "target %d has %d steps, model expects %d", i, len(row), units)
		}
		data = append(data, row...)
	}
	return mat.NewDense(len(y), units, data), nil
}

func rowsOf(m *mat.Dense) [][]float64 {
	r, c := m.Dims()
	out := make([][]float64, r)
	for i := 0; i < r; i++ {
		out[i] = make([]float64, c)
		copy(out[i], m.RawRowView(i))
	}
	return out
}

// lossAndMAE returns the mean squared and mean absolute error of pred against y.
func lossAndMAE(pred, y *mat.Dense) (float64, float64) {
	r, c := y.Dims()
	var se, ae float64
	for i := 0; i < r; i++ {
		p, t := pred.RawRowView(i), y.RawRowView(i)
		for j := 0; j < c; j++ {
			d := p[j] - t[j]
			se += d * d
			ae += math.Abs(d)
		}
	}
	n := float64(r * c)
	return se / n, ae / n
}

func addRowVector(m *mat.Dense, v []float64) {
	r, _ := m.Dims()
	for i := 0; i < r; i++ {
		row := m.RawRowView(i)
		for j := range row {
			row[j] += v[j]
		}
	}
}

func colSums(m *mat.Dense) []float64 {
	r, c := m.Dims()
	out := make([]float64, c)
	for i := 0; i < r; i++ {
		for j, v := range m.RawRowView(i) {
			out[j] += v
		}
	}
	return out
}

func gatherRows(m *mat.Dense, idx []int) *mat.Dense {
	_, c := m.Dims()
	out := mat.NewDense(len(idx), c, nil)
	for i, k := range idx {
		out.SetRow(i, m.RawRowView(k))
	}
	return out
}

// interrupted converts a context error into a TrainingError.
func interrupted(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return errs.Wrap(errs.KindTraining, errs.Timeout, err, "training exceeded its time limit")
	}
	return errs.Wrap(errs.KindTraining, errs.Cancelled, err, "training cancelled")
}

func finite(v ...float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}
