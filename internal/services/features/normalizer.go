package features

import (
	"PriceCast/internal/domain/errs"

	"gonum.org/v1/gonum/floats"
)

// FitTransform scales every column of f to [0,1] using that column's own
// min and max. Constant columns map to 0.
func FitTransform(f *Frame) (*Frame, *ScalerState, error) {
	if f == nil || f.Rows() == 0 {
		return nil, nil, errs.Data(errs.InsufficientRows, "cannot fit scaler on an empty frame")
	}
	st := &ScalerState{
		Columns: append([]string(nil), f.Columns...),
		Min:     make([]float64, len(f.Columns)),
		Max:     make([]float64, len(f.Columns)),
	}
	for i, col := range f.Values {
		st.Min[i] = floats.Min(col)
		st.Max[i] = floats.Max(col)
	}
	out, err := Transform(f, st)
	if err != nil {
		return nil, nil, err
	}
	return out, st, nil
}

// Transform applies a stored fit. The result has the state's columns in fit
// order; every fitted column must be present in f.
func Transform(f *Frame, st *ScalerState) (*Frame, error) {
	if err := checkFitted(st); err != nil {
		return nil, err
	}
	out := &Frame{
		Columns: append([]string(nil), st.Columns...),
		Values:  make([][]float64, len(st.Columns)),
		Times:   f.Times,
	}
	for i, name := range st.Columns {
		src := f.Column(name)
		if src == nil {
			return nil, errs.New(errs.KindUnknownColumn, "", "fitted column %q missing from frame", name)
		}
		dst := make([]float64, len(src))
		for r, v := range src {
			dst[r] = scale(v, st.Min[i], st.Max[i])
		}
		out.Values[i] = dst
	}
	return out, nil
}

// TransformTarget scales raw values of one fitted column.
func TransformTarget(values []float64, column string, st *ScalerState) ([]float64, error) {
	i, err := fittedIndex(column, st)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(values))
	for j, v := range values {
		out[j] = scale(v, st.Min[i], st.Max[i])
	}
	return out, nil
}

// InverseTransformTarget maps scaled values of one fitted column back to the
// original units. Constant columns invert to the constant.
func InverseTransformTarget(scaled []float64, column string, st *ScalerState) ([]float64, error) {
	i, err := fittedIndex(column, st)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(scaled))
	for j, v := range scaled {
		out[j] = unscale(v, st.Min[i], st.Max[i])
	}
	return out, nil
}

func fittedIndex(column string, st *ScalerState) (int, error) {
	if err := checkFitted(st); err != nil {
		return -1, err
	}
	_, i, ok := resolveFold(st.Columns, column)
	if !ok {
		return -1, errs.New(errs.KindUnknownColumn, "", "column %q was not part of the scaler fit", column)
	}
	return i, nil
}

func checkFitted(st *ScalerState) error {
	if st == nil || len(st.Columns) == 0 {
		return errs.New(errs.KindScalerNotFitted, "", "scaler has not been fitted")
	}
	if len(st.Min) != len(st.Columns) || len(st.Max) != len(st.Columns) {
		return errs.New(errs.KindScalerNotFitted, "", "scaler state is inconsistent: %d columns, %d min, %d max",
			len(st.Columns), len(st.Min), len(st.Max))
	}
	return nil
}

func scale(v, lo, hi float64) float64 {
	if hi == lo {
		return 0
	}
	return (v - lo) / (hi - lo)
}

func unscale(v, lo, hi float64) float64 {
	if hi == lo {
		return lo
	}
	return v*(hi-lo) + lo
}
