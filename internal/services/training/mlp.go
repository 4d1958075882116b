package training

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"PriceCast/internal/domain/errs"
	"PriceCast/internal/domain/models"
	"PriceCast/internal/domain/service"
)

const (
	BackendMLP = "mlp"

	adamBeta1   = 0.9
	adamBeta2   = 0.999
	adamEpsilon = 1e-7
)

// MLPTrainer trains a one hidden layer ReLU network with inverted dropout,
// Adam and a mean squared error loss. Runs are reproducible for a seed.
type MLPTrainer struct{}

var _ service.Trainer = (*MLPTrainer)(nil)

func NewMLPTrainer() *MLPTrainer { return &MLPTrainer{} }

func (t *MLPTrainer) Name() string { return BackendMLP }

type mlpModel struct {
	shape   service.Shape
	out     int
	hidden  int
	dropout float64
	w1      *mat.Dense // hidden x inputs
	b1      []float64
	w2      *mat.Dense // out x hidden
	b2      []float64
}

func (m *mlpModel) Shape() service.Shape { return m.shape }
func (m *mlpModel) OutputUnits() int     { return m.out }

func (t *MLPTrainer) Build(shape service.Shape, outputUnits int, hp models.Hyperparameters) (service.Model, error) {
	if shape.LookBack < 1 || shape.Features < 1 || outputUnits < 1 {
		return nil, errs.Config(errs.OutOfRange, "malformed model shape %v -> %d", shape.Slice(), outputUnits)
	}
	if err := hp.Validate(); err != nil {
		return nil, err
	}
	in := shape.LookBack * shape.Features
	rng := rand.New(rand.NewSource(hp.Seed))
	m := &mlpModel{
		shape:   shape,
		out:     outputUnits,
		hidden:  hp.HiddenUnits,
		dropout: hp.DropoutRate,
		w1:      glorot(rng, hp.HiddenUnits, in),
		b1:      make([]float64, hp.HiddenUnits),
		w2:      glorot(rng, outputUnits, hp.HiddenUnits),
		b2:      make([]float64, outputUnits),
	}
	return m, nil
}

func glorot(rng *rand.Rand, rows, cols int) *mat.Dense {
	limit := math.Sqrt(6.0 / float64(rows+cols))
	data := make([]float64, rows*cols)
	for i := range data {
		data[i] = (rng.Float64()*2 - 1) * limit
	}
	return mat.NewDense(rows, cols, data)
}

func asMLP(m service.Model) (*mlpModel, error) {
	mm, ok := m.(*mlpModel)
	if !ok || mm == nil {
		return nil, errs.New(errs.KindTraining, "", "model of type %T is not an mlp model", m)
	}
	return mm, nil
}

// forward runs the network. mask, when non-nil, is the scaled dropout mask
// applied to the hidden activations.
func (m *mlpModel) forward(x, mask *mat.Dense) (z1, a1, yhat *mat.Dense) {
	z1 = new(mat.Dense)
	z1.Mul(x, m.w1.T())
	addRowVector(z1, m.b1)

	a1 = mat.DenseCopyOf(z1)
	a1.Apply(func(_, _ int, v float64) float64 { return math.Max(0, v) }, a1)
	if mask != nil {
		a1.MulElem(a1, mask)
	}

	yhat = new(mat.Dense)
	yhat.Mul(a1, m.w2.T())
	addRowVector(yhat, m.b2)
	return z1, a1, yhat
}

type adamState struct {
	step int
	m, v [][]float64
}

func newAdam(params ...[]float64) *adamState {
	s := &adamState{m: make([][]float64, len(params)), v: make([][]float64, len(params))}
	for i, p := range params {
		s.m[i] = make([]float64, len(p))
		s.v[i] = make([]float64, len(p))
	}
	return s
}

func (s *adamState) update(lr float64, params, grads [][]float64) {
	s.step++
	c1 := 1 - math.Pow(adamBeta1, float64(s.step))
	c2 := 1 - math.Pow(adamBeta2, float64(s.step))
	for k, p := range params {
		g, m, v := grads[k], s.m[k], s.v[k]
		for i := range p {
			m[i] = adamBeta1*m[i] + (1-adamBeta1)*g[i]
			v[i] = adamBeta2*v[i] + (1-adamBeta2)*g[i]*g[i]
			p[i] -= lr * (m[i] / c1) / (math.Sqrt(v[i]/c2) + adamEpsilon)
		}
	}
}

func (t *MLPTrainer) Train(ctx context.Context, model service.Model, set service.TrainSet, hp models.Hyperparameters, onEpoch service.EpochFunc) (service.History, error) {
	var hist service.History
	m, err := asMLP(model)
	if err != nil {
		return hist, err
	}
	if err := hp.Validate(); err != nil {
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
	if x.RawMatrix().Rows != y.RawMatrix().Rows {
		return hist, errs.Config(errs.OutOfRange, "%d input windows but %d targets", x.RawMatrix().Rows, y.RawMatrix().Rows)
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

	rng := rand.New(rand.NewSource(hp.Seed + 1))
	w1, w2 := m.w1.RawMatrix().Data, m.w2.RawMatrix().Data
	opt := newAdam(w1, m.b1, w2, m.b2)
	n := x.RawMatrix().Rows

	for epoch := 1; epoch <= hp.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return hist, interrupted(err)
		}
		perm := rng.Perm(n)
		for start := 0; start < n; start += hp.BatchSize {
			end := start + hp.BatchSize
			if end > n {
				end = n
			}
			idx := perm[start:end]
			xb, yb := gatherRows(x, idx), gatherRows(y, idx)
			mask := m.dropoutMask(rng, len(idx))

			g := m.gradients(xb, yb, mask)
			opt.update(hp.LearningRate, [][]float64{w1, m.b1, w2, m.b2}, g)
		}

		ev := m.evaluate(x, y)
		val := m.evaluate(xv, yv)
		if !finite(ev.Loss, val.Loss) {
			return hist, errs.New(errs.KindTraining, "", "loss diverged at epoch %d", epoch)
		}
		em := models.EpochMetrics{Epoch: epoch, Loss: ev.Loss, MAE: ev.MAE, ValLoss: val.Loss, ValMAE: val.MAE}
		hist.Epochs = append(hist.Epochs, em)
		if onEpoch != nil {
			if err := onEpoch(em); err != nil {
				return hist, errs.Wrap(errs.KindTraining, errs.Cancelled, err, "training stopped after epoch %d", epoch)
			}
		}
	}
	return hist, nil
}

func (m *mlpModel) dropoutMask(rng *rand.Rand, rows int) *mat.Dense {
	if m.dropout <= 0 {
		return nil
	}
	keep := 1 - m.dropout
	data := make([]float64, rows*m.hidden)
	for i := range data {
		if rng.Float64() < keep {
			data[i] = 1 / keep
		}
	}
	return mat.NewDense(rows, m.hidden, data)
}

// gradients returns dL/d{w1,b1,w2,b2} of the mean squared error over the batch.
func (m *mlpModel) gradients(x, y, mask *mat.Dense) [][]float64 {
	z1, a1, yhat := m.forward(x, mask)
	rows, cols := y.Dims()

	dy := new(mat.Dense)
	dy.Sub(yhat, y)
	dy.Scale(2/float64(rows*cols), dy)

	dw2 := new(mat.Dense)
	dw2.Mul(dy.T(), a1)
	db2 := colSums(dy)

	dz1 := new(mat.Dense)
	dz1.Mul(dy, m.w2)
	if mask != nil {
		dz1.MulElem(dz1, mask)
	}
	dz1.Apply(func(i, j int, v float64) float64 {
		if z1.At(i, j) <= 0 {
			return 0
		}
		return v
	}, dz1)

	dw1 := new(mat.Dense)
	dw1.Mul(dz1.T(), x)
	db1 := colSums(dz1)

	return [][]float64{dw1.RawMatrix().Data, db1, dw2.RawMatrix().Data, db2}
}

func (m *mlpModel) evaluate(x, y *mat.Dense) service.Evaluation {
	_, _, yhat := m.forward(x, nil)
	loss, mae := lossAndMAE(yhat, y)
	return service.Evaluation{Loss: loss, MAE: mae}
}

func (t *MLPTrainer) Evaluate(model service.Model, x [][][]float64, y [][]float64) (service.Evaluation, error) {
	m, err := asMLP(model)
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

func (t *MLPTrainer) Predict(model service.Model, x [][][]float64) ([][]float64, error) {
	m, err := asMLP(model)
	if err != nil {
		return nil, err
	}
	xm, err := flatten(x, m.shape)
	if err != nil {
		return nil, err
	}
	_, _, yhat := m.forward(xm, nil)
	return rowsOf(yhat), nil
}

type mlpBlob struct {
	Backend  string    `json:"backend"`
	LookBack int       `json:"look_back"`
	Features int       `json:"features"`
	Out      int       `json:"output_units"`
	Hidden   int       `json:"hidden_units"`
	Dropout  float64   `json:"dropout_rate"`
	W1       []float64 `json:"w1"`
	B1       []float64 `json:"b1"`
	W2       []float64 `json:"w2"`
	B2       []float64 `json:"b2"`
}

func (t *MLPTrainer) Encode(model service.Model) ([]byte, error) {
	m, err := asMLP(model)
	if err != nil {
		return nil, err
	}
	return json.Marshal(mlpBlob{
		Backend:  BackendMLP,
		LookBack: m.shape.LookBack,
		Features: m.shape.Features,
		Out:      m.out,
		Hidden:   m.hidden,
		Dropout:  m.dropout,
		W1:       m.w1.RawMatrix().Data,
		B1:       m.b1,
		W2:       m.w2.RawMatrix().Data,
		B2:       m.b2,
	})
}

func (t *MLPTrainer) Decode(blob []byte) (service.Model, error) {
	var b mlpBlob
	if err := json.Unmarshal(blob, &b); err != nil {
		return nil, fmt.Errorf("decode mlp artifact: %w", err)
	}
	if b.Backend != BackendMLP {
		return nil, fmt.Errorf("decode mlp artifact: backend is %q", b.Backend)
	}
	in := b.LookBack * b.Features
	if in < 1 || b.Out < 1 || b.Hidden < 1 ||
		len(b.W1) != b.Hidden*in || len(b.B1) != b.Hidden ||
		len(b.W2) != b.Out*b.Hidden || len(b.B2) != b.Out {
		return nil, fmt.Errorf("decode mlp artifact: inconsistent dimensions")
	}
	return &mlpModel{
		shape:   service.Shape{LookBack: b.LookBack, Features: b.Features},
		out:     b.Out,
		hidden:  b.Hidden,
		dropout: b.Dropout,
		w1:      mat.NewDense(b.Hidden, in, b.W1),
		b1:      b.B1,
		w2:      mat.NewDense(b.Out, b.Hidden, b.W2),
		b2:      b.B2,
	}, nil
}
