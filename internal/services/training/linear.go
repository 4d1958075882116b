package training

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sajari/regression"
	"gonum.org/v1/gonum/mat"

	"PriceCast/internal/domain/errs"
	"PriceCast/internal/domain/models"
	"PriceCast/internal/domain/service"
)

const BackendLinear = "linear"

// LinearTrainer fits one ordinary least squares regression per horizon step
// over the flattened input window. Training is a single pass; the network
// hyperparameters are accepted and ignored.
type LinearTrainer struct{}

var _ service.Trainer = (*LinearTrainer)(nil)

func NewLinearTrainer() *LinearTrainer { return &LinearTrainer{} }

func (t *LinearTrainer) Name() string { return BackendLinear }

type linearModel struct {
	shape   service.Shape
	out     int
	bias    []float64
	weights [][]float64 // out x inputs
}

func (m *linearModel) Shape() service.Shape { return m.shape }
func (m *linearModel) OutputUnits() int     { return m.out }

func asLinear(m service.Model) (*linearModel, error) {
	lm, ok := m.(*linearModel)
	if !ok || lm == nil {
		return nil, errs.New(errs.KindTraining, "", "model of type %T is not a linear model", m)
	}
	return lm, nil
}

func (t *LinearTrainer) Build(shape service.Shape, outputUnits int, _ models.Hyperparameters) (service.Model, error) {
	if shape.LookBack < 1 || shape.Features < 1 || outputUnits < 1 {
		return nil, errs.Config(errs.OutOfRange, "malformed model shape %v -> %d", shape.Slice(), outputUnits)
	}
	in := shape.LookBack * shape.Features
	m := &linearModel{shape: shape, out: outputUnits, bias: make([]float64, outputUnits), weights: make([][]float64, outputUnits)}
	for k := range m.weights {
		m.weights[k] = make([]float64, in)
	}
	return m, nil
}

func (t *LinearTrainer) Train(ctx context.Context, model service.Model, set service.TrainSet, _ models.Hyperparameters, onEpoch service.EpochFunc) (service.History, error) {
	var hist service.History
	m, err := asLinear(model)
	if err != nil {
		return hist, err
	}
	x, err := flatten(set.XTrain, m.shape)
	if err != nil {
		return hist, err
	}
	y, err := targets(set.YTrain, m.out)
	if err != nil {
		return hist, err
	}
	rows, in := x.Dims()
	if rows != y.RawMatrix().Rows {
		return hist, errs.Config(errs.OutOfRange, "%d input windows but %d targets", rows, y.RawMatrix().Rows)
	}
	if rows <= in+1 {
		return hist, errs.New(errs.KindTraining, errs.NoTrainableData,
			"linear regression over %d inputs needs more than %d windows, got %d", in, in+1, rows)
	}

	for k := 0; k < m.out; k++ {
		if err := ctx.Err(); err != nil {
			return hist, interrupted(err)
		}
		var r regression.Regression
		r.SetObserved(fmt.Sprintf("t+%d", k+1))
		for j := 0; j < in; j++ {
			r.SetVar(j, fmt.Sprintf("x%d", j))
		}
		for i := 0; i < rows; i++ {
			r.Train(regression.DataPoint(y.At(i, k), x.RawRowView(i)))
		}
		if err := r.Run(); err != nil {
			return hist, errs.Wrap(errs.KindTraining, "", err, "fit horizon step %d", k+1)
		}
		coeffs := r.GetCoeffs()
		if len(coeffs) != in+1 || !finite(coeffs...) {
			return hist, errs.New(errs.KindTraining, "", "degenerate regression for horizon step %d", k+1)
		}
		m.bias[k] = coeffs[0]
		copy(m.weights[k], coeffs[1:])
	}

	xv, yv := x, y
	if len(set.XVal) > 0 {
		if xv, err = flatten(set.XVal, m.shape); err != nil {
			return hist, err
		}
		if yv, err = targets(set.YVal, m.out); err != nil {
			return hist, err
		}
	}
	ev, val := m.evaluate(x, y), m.evaluate(xv, yv)
	em := models.EpochMetrics{Epoch: 1, Loss: ev.Loss, MAE: ev.MAE, ValLoss: val.Loss, ValMAE: val.MAE}
	hist.Epochs = append(hist.Epochs, em)
	if onEpoch != nil {
		if err := onEpoch(em); err != nil {
			return hist, errs.Wrap(errs.KindTraining, errs.Cancelled, err, "training stopped")
		}
	}
	return hist, nil
}

func (m *linearModel) predict(x *mat.Dense) *mat.Dense {
	rows, _ := x.Dims()
	out := mat.NewDense(rows, m.out, nil)
	for i := 0; i < rows; i++ {
		row := x.RawRowView(i)
		for k := 0; k < m.out; k++ {
			v := m.bias[k]
			for j, w := range m.weights[k] {
				v += w * row[j]
			}
			out.Set(i, k, v)
		}
	}
	return out
}

func (m *linearModel) evaluate(x, y *mat.Dense) service.Evaluation {
	loss, mae := lossAndMAE(m.predict(x), y)
	return service.Evaluation{Loss: loss, MAE: mae}
}

func (t *LinearTrainer) Evaluate(model service.Model, x [][][]float64, y [][]float64) (service.Evaluation, error) {
	m, err := asLinear(model)
	if err != nil {
		return service.Evaluation{}, err
	}
	xm, err := flatten(x, m.shape)
	if err != nil {
		return service.Evaluation{}, err
	}
	ym, err := targets(y, m.out)
	if err != nil {
		return service.Evaluation{}, err
	}
	if xm.RawMatrix().Rows != ym.RawMatrix().Rows {
		return service.Evaluation{}, errs.Config(errs.OutOfRange, "%d input windows but %d targets", xm.RawMatrix().Rows, ym.RawMatrix().Rows)
	}
	return m.evaluate(xm, ym), nil
}

func (t *LinearTrainer) Predict(model service.Model, x [][][]float64) ([][]float64, error) {
	m, err := asLinear(model)
	if err != nil {
		return nil, err
	}
	xm, err := flatten(x, m.shape)
	if err != nil {
		return nil, err
	}
	return rowsOf(m.predict(xm)), nil
}

type linearBlob struct {
	Backend  string      `json:"backend"`
	LookBack int         `json:"look_back"`
	Features int         `json:"features"`
	Bias     []float64   `json:"bias"`
	Weights  [][]float64 `json:"weights"`
}

func (t *LinearTrainer) Encode(model service.Model) ([]byte, error) {
	m, err := asLinear(model)
	if err != nil {
		return nil, err
	}
	return json.Marshal(linearBlob{Backend: BackendLinear, LookBack: m.shape.LookBack, Features: m.shape.Features, Bias: m.bias, Weights: m.weights})
}

func (t *LinearTrainer) Decode(blob []byte) (service.Model, error) {
	var b linearBlob
	if err := json.Unmarshal(blob, &b); err != nil {
		return nil, fmt.Errorf("decode linear artifact: %w", err)
	}
	if b.Backend != BackendLinear {
		return nil, fmt.Errorf("decode linear artifact: backend is %q", b.Backend)
	}
	in := b.LookBack * b.Features
	if in < 1 || len(b.Bias) == 0 || len(b.Weights) != len(b.Bias) {
		return nil, fmt.Errorf("decode linear artifact: inconsistent dimensions")
	}
	for _, w := range b.Weights {
		if len(w) != in {
			return nil, fmt.Errorf("decode linear artifact: inconsistent dimensions")
		}
	}
	return &linearModel{
		shape:   service.Shape{LookBack: b.LookBack, Features: b.Features},
		out:     len(b.Bias),
		bias:    b.Bias,
		weights: b.Weights,
	}, nil
}
