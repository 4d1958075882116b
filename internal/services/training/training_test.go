package training

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PriceCast/internal/domain/errs"
	"PriceCast/internal/domain/models"
	"PriceCast/internal/domain/service"
)

// sineSet windows a two-feature sine series: feature 0 is the target.
func sineSet(n, lookBack, horizon int) ([][][]float64, [][]float64) {
	series := make([][2]float64, n+lookBack+horizon)
	for i := range series {
		v := 0.5 + 0.4*math.Sin(float64(i)/4)
		series[i] = [2]float64{v, 0.5 + 0.3*math.Cos(float64(i)/5)}
	}
	var xs [][][]float64
	var ys [][]float64
	for i := 0; i < n; i++ {
		var w [][]float64
		for t := 0; t < lookBack; t++ {
			w = append(w, []float64{series[i+t][0], series[i+t][1]})
		}
		var y []float64
		for h := 0; h < horizon; h++ {
			y = append(y, series[i+lookBack+h][0])
		}
		xs = append(xs, w)
		ys = append(ys, y)
	}
	return xs, ys
}

func testHP() models.Hyperparameters {
	return models.Hyperparameters{LearningRate: 0.01, HiddenUnits: 16, DropoutRate: 0, Epochs: 60, BatchSize: 8, Seed: 7}
}

func TestMLPBuildValidates(t *testing.T) {
	tr := NewMLPTrainer()
	_, err := tr.Build(service.Shape{LookBack: 0, Features: 2}, 1, testHP())
	assert.True(t, errors.Is(err, errs.KindConfig))

	bad := testHP()
	bad.DropoutRate = 1.5
	_, err = tr.Build(service.Shape{LookBack: 3, Features: 2}, 1, bad)
	assert.True(t, errors.Is(err, errs.BadHyperparameter))
}

func TestMLPTrainReducesLoss(t *testing.T) {
	tr := NewMLPTrainer()
	x, y := sineSet(64, 3, 2)
	shape := service.Shape{LookBack: 3, Features: 2}
	m, err := tr.Build(shape, 2, testHP())
	require.NoError(t, err)

	var seen []int
	hist, err := tr.Train(context.Background(), m, service.TrainSet{XTrain: x, YTrain: y}, testHP(), func(em models.EpochMetrics) error {
		seen = append(seen, em.Epoch)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, hist.Epochs, 60)
	assert.Len(t, seen, 60)
	assert.Less(t, hist.Final().Loss, hist.Epochs[0].Loss)
	// without a validation split the validation metrics mirror training
	assert.Equal(t, hist.Final().Loss, hist.Final().ValLoss)

	pred, err := tr.Predict(m, x[:5])
	require.NoError(t, err)
	require.Len(t, pred, 5)
	for _, row := range pred {
		assert.Len(t, row, 2)
	}

	ev, err := tr.Evaluate(m, x, y)
	require.NoError(t, err)
	assert.InDelta(t, hist.Final().Loss, ev.Loss, 1e-12)
}

func TestMLPDeterministicForSeed(t *testing.T) {
	tr := NewMLPTrainer()
	x, y := sineSet(40, 4, 1)
	hp := testHP()
	hp.DropoutRate = 0.2
	hp.Epochs = 10
	shape := service.Shape{LookBack: 4, Features: 2}

	run := func() (service.History, [][]float64) {
		m, err := tr.Build(shape, 1, hp)
		require.NoError(t, err)
		h, err := tr.Train(context.Background(), m, service.TrainSet{XTrain: x[:30], YTrain: y[:30], XVal: x[30:], YVal: y[30:]}, hp, nil)
		require.NoError(t, err)
		p, err := tr.Predict(m, x[30:])
		require.NoError(t, err)
		return h, p
	}
	h1, p1 := run()
	h2, p2 := run()
	assert.Equal(t, h1, h2)
	assert.Equal(t, p1, p2)
}

func TestMLPEncodeDecode(t *testing.T) {
	tr := NewMLPTrainer()
	x, y := sineSet(20, 3, 2)
	hp := testHP()
	hp.Epochs = 3
	m, err := tr.Build(service.Shape{LookBack: 3, Features: 2}, 2, hp)
	require.NoError(t, err)
	_, err = tr.Train(context.Background(), m, service.TrainSet{XTrain: x, YTrain: y}, hp, nil)
	require.NoError(t, err)

	blob, err := tr.Encode(m)
	require.NoError(t, err)
	back, err := tr.Decode(blob)
	require.NoError(t, err)
	assert.Equal(t, m.Shape(), back.Shape())
	assert.Equal(t, 2, back.OutputUnits())

	want, err := tr.Predict(m, x)
	require.NoError(t, err)
	got, err := tr.Predict(back, x)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = tr.Decode([]byte(`{"backend":"linear"}`))
	assert.Error(t, err)
	_, err = NewLinearTrainer().Decode(blob)
	assert.Error(t, err)
}

func TestMLPStopsAtEpochBoundary(t *testing.T) {
	tr := NewMLPTrainer()
	x, y := sineSet(20, 3, 1)
	shape := service.Shape{LookBack: 3, Features: 2}

	m, err := tr.Build(shape, 1, testHP())
	require.NoError(t, err)
	stop := errors.New("stop requested")
	hist, err := tr.Train(context.Background(), m, service.TrainSet{XTrain: x, YTrain: y}, testHP(), func(em models.EpochMetrics) error {
		if em.Epoch == 2 {
			return stop
		}
		return nil
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.KindTraining))
	assert.True(t, errors.Is(err, stop))
	assert.Len(t, hist.Epochs, 2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = tr.Train(ctx, m, service.TrainSet{XTrain: x, YTrain: y}, testHP(), nil)
	assert.True(t, errors.Is(err, errs.Cancelled))

	ctx, cancel = context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()
	_, err = tr.Train(ctx, m, service.TrainSet{XTrain: x, YTrain: y}, testHP(), nil)
	assert.True(t, errors.Is(err, errs.Timeout))
}

func TestMLPRejectsWrongShapes(t *testing.T) {
	tr := NewMLPTrainer()
	m, err := tr.Build(service.Shape{LookBack: 3, Features: 2}, 1, testHP())
	require.NoError(t, err)
	x, _ := sineSet(4, 2, 1)
	_, err = tr.Predict(m, x)
	assert.True(t, errors.Is(err, errs.KindConfig))

	_, err = tr.Train(context.Background(), m, service.TrainSet{}, testHP(), nil)
	assert.True(t, errors.Is(err, errs.NoTrainableData))

	_, err = tr.Predict(&linearModel{}, x)
	assert.True(t, errors.Is(err, errs.KindTraining))
}

func TestLinearRecoversExactRelation(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	shape := service.Shape{LookBack: 2, Features: 2}
	var x [][][]float64
	var y [][]float64
	for i := 0; i < 40; i++ {
		w := [][]float64{{rng.Float64(), rng.Float64()}, {rng.Float64(), rng.Float64()}}
		x = append(x, w)
		y = append(y, []float64{
			0.2 + 0.5*w[1][0] - 0.3*w[0][1],
			-0.1 + 0.8*w[1][1] + 0.1*w[0][0],
		})
	}

	tr := NewLinearTrainer()
	m, err := tr.Build(shape, 2, models.DefaultHyperparameters())
	require.NoError(t, err)
	hist, err := tr.Train(context.Background(), m, service.TrainSet{XTrain: x[:30], YTrain: y[:30], XVal: x[30:], YVal: y[30:]}, models.DefaultHyperparameters(), nil)
	require.NoError(t, err)
	require.Len(t, hist.Epochs, 1)
	assert.InDelta(t, 0, hist.Final().ValLoss, 1e-9)

	pred, err := tr.Predict(m, x[30:])
	require.NoError(t, err)
	for i := range pred {
		assert.InDeltaSlice(t, y[30+i], pred[i], 1e-6)
	}

	blob, err := tr.Encode(m)
	require.NoError(t, err)
	back, err := tr.Decode(blob)
	require.NoError(t, err)
	again, err := tr.Predict(back, x[30:])
	require.NoError(t, err)
	assert.Equal(t, pred, again)
}

func TestLinearNeedsMoreWindowsThanInputs(t *testing.T) {
	tr := NewLinearTrainer()
	x, y := sineSet(5, 3, 1)
	m, err := tr.Build(service.Shape{LookBack: 3, Features: 2}, 1, models.DefaultHyperparameters())
	require.NoError(t, err)
	_, err = tr.Train(context.Background(), m, service.TrainSet{XTrain: x, YTrain: y}, models.DefaultHyperparameters(), nil)
	assert.True(t, errors.Is(err, errs.KindTraining))
}

func TestTuners(t *testing.T) {
	defaults := models.DefaultHyperparameters()
	got, err := NewFixedTuner(defaults).Search(context.Background(), service.TrainSet{}, service.Shape{}, 1)
	require.NoError(t, err)
	assert.Equal(t, defaults, got)

	x, y := sineSet(30, 3, 1)
	set := service.TrainSet{XTrain: x[:24], YTrain: y[:24], XVal: x[24:], YVal: y[24:]}
	shape := service.Shape{LookBack: 3, Features: 2}
	search := func() models.Hyperparameters {
		tuner, err := NewTuner("random", NewMLPTrainer(), defaults, 3, 2, 11)
		require.NoError(t, err)
		hp, err := tuner.Search(context.Background(), set, shape, 1)
		require.NoError(t, err)
		return hp
	}
	a, b := search(), search()
	assert.Equal(t, a, b)
	assert.Equal(t, defaults.Epochs, a.Epochs)
	assert.NoError(t, a.Validate())

	_, err = NewTuner("bayes", nil, defaults, 1, 1, 1)
	assert.Error(t, err)
	_, err = NewTrainer("lstm")
	assert.Error(t, err)
}
