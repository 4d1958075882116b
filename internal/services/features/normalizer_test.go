package features

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PriceCast/internal/domain/errs"
)

func testFrame() *Frame {
	return &Frame{
		Columns: []string{"open", "close", "flat"},
		Values: [][]float64{
			{10, 20, 15, 30},
			{-5, 5, 0, 2.5},
			{7, 7, 7, 7},
		},
	}
}

func TestFitTransformRange(t *testing.T) {
	scaled, st, err := FitTransform(testFrame())
	require.NoError(t, err)
	assert.Equal(t, []string{"open", "close", "flat"}, st.Columns)
	assert.Equal(t, []float64{10, -5, 7}, st.Min)
	assert.Equal(t, []float64{30, 5, 7}, st.Max)

	for _, col := range scaled.Values {
		for _, v := range col {
			assert.GreaterOrEqual(t, v, 0.0)
			assert.LessOrEqual(t, v, 1.0)
		}
	}
	assert.Equal(t, []float64{0, 0.5, 0.25, 1}, scaled.Values[0])
	assert.Equal(t, []float64{0, 0, 0, 0}, scaled.Values[2])
}

func TestInverseRoundTrip(t *testing.T) {
	_, st, err := FitTransform(testFrame())
	require.NoError(t, err)

	values := []float64{-5, -1.25, 0, 3.3333, 5}
	scaled, err := TransformTarget(values, "close", st)
	require.NoError(t, err)
	back, err := InverseTransformTarget(scaled, "Close", st)
	require.NoError(t, err)
	assert.InDeltaSlice(t, values, back, 1e-6)
}

func TestDegenerateColumnInverse(t *testing.T) {
	_, st, err := FitTransform(testFrame())
	require.NoError(t, err)
	back, err := InverseTransformTarget([]float64{0, 0.5, 1}, "flat", st)
	require.NoError(t, err)
	assert.Equal(t, []float64{7, 7, 7}, back)
}

func TestInverseErrors(t *testing.T) {
	_, err := InverseTransformTarget([]float64{0.5}, "close", nil)
	assert.True(t, errors.Is(err, errs.KindScalerNotFitted))

	_, err = InverseTransformTarget([]float64{0.5}, "close", &ScalerState{})
	assert.True(t, errors.Is(err, errs.KindScalerNotFitted))

	_, st, err := FitTransform(testFrame())
	require.NoError(t, err)
	_, err = InverseTransformTarget([]float64{0.5}, "volume", st)
	assert.True(t, errors.Is(err, errs.KindUnknownColumn))
}

func TestTransformWithStoredState(t *testing.T) {
	_, st, err := FitTransform(testFrame())
	require.NoError(t, err)

	later := &Frame{
		Columns: []string{"flat", "close", "open", "extra"},
		Values:  [][]float64{{7}, {10}, {40}, {1}},
	}
	out, err := Transform(later, st)
	require.NoError(t, err)
	assert.Equal(t, st.Columns, out.Columns)
	assert.Equal(t, 1.5, out.Values[0][0])
	assert.Equal(t, 1.5, out.Values[1][0])

	_, err = Transform(&Frame{Columns: []string{"open"}, Values: [][]float64{{1}}}, st)
	assert.True(t, errors.Is(err, errs.KindUnknownColumn))
}

func TestFitTransformEmpty(t *testing.T) {
	_, _, err := FitTransform(&Frame{})
	assert.True(t, errors.Is(err, errs.KindData))
}
