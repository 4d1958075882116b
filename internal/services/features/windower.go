package features

import (
	"PriceCast/internal/domain/errs"
)

// WindowSet holds supervised samples: X[i] is LookBack rows of every feature,
// Y[i] the next Horizon values of Target.
type WindowSet struct {
	X        [][][]float64
	Y        [][]float64
	LookBack int
	Horizon  int
	Features []string
	Target   string
}

func (w WindowSet) N() int { return len(w.X) }

// Width is the feature count per time step.
func (w WindowSet) Width() int { return len(w.Features) }

// CreateSequences slides a window of lookBack rows one step at a time over f.
// When f is too short it returns an empty set together with
// DataError(NoTrainableData).
func CreateSequences(f *Frame, lookBack, horizon int, target string) (WindowSet, error) {
	if lookBack < 1 || horizon < 1 {
		return WindowSet{}, errs.Config(errs.OutOfRange, "look_back and horizon must be >= 1, got %d and %d", lookBack, horizon)
	}
	name, ti, ok := f.Resolve(target)
	if !ok {
		return WindowSet{}, errs.Config(errs.UnknownTarget, "target column %q not found", target)
	}

	ws := WindowSet{
		LookBack: lookBack,
		Horizon:  horizon,
		Features: append([]string(nil), f.Columns...),
		Target:   name,
	}
	rows := f.Rows()
	n := rows - lookBack - horizon + 1
	if n <= 0 {
		ws.X = [][][]float64{}
		ws.Y = [][]float64{}
		return ws, errs.Data(errs.NoTrainableData,
			"%d rows cannot fill a window of look_back %d plus horizon %d", rows, lookBack, horizon)
	}

	ws.X = make([][][]float64, n)
	ws.Y = make([][]float64, n)
	for i := 0; i < n; i++ {
		ws.X[i] = rowsAt(f, i, lookBack)
		y := make([]float64, horizon)
		copy(y, f.Values[ti][i+lookBack:i+lookBack+horizon])
		ws.Y[i] = y
	}
	return ws, nil
}

// rowsAt copies rows [start, start+count) across all columns.
func rowsAt(f *Frame, start, count int) [][]float64 {
	out := make([][]float64, count)
	for t := 0; t < count; t++ {
		row := make([]float64, len(f.Values))
		for c, col := range f.Values {
			row[c] = col[start+t]
		}
		out[t] = row
	}
	return out
}
