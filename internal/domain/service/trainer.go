package service

import (
	"context"

	"PriceCast/internal/domain/models"
)

// Shape is the per-sample input shape: LookBack steps of Features values.
type Shape struct {
	LookBack int `json:"look_back"`
	Features int `json:"features"`
}

func (s Shape) Slice() []int { return []int{s.LookBack, s.Features} }

// TrainSet groups the training and validation windows.
type TrainSet struct {
	XTrain [][][]float64
	YTrain [][]float64
	XVal   [][][]float64
	YVal   [][]float64
}

// History holds per-epoch metrics in epoch order.
type History struct {
	Epochs []models.EpochMetrics
}

// Final returns the last recorded epoch, or the zero value.
func (h History) Final() models.EpochMetrics {
	if len(h.Epochs) == 0 {
		return models.EpochMetrics{}
	}
	return h.Epochs[len(h.Epochs)-1]
}

type Evaluation struct {
	Loss float64 `json:"loss"`
	MAE  float64 `json:"mae"`
}

// Model is an opaque trained handle produced by a Trainer.
type Model interface {
	Shape() Shape
	OutputUnits() int
}

// EpochFunc observes training progress. Returning an error stops training.
type EpochFunc func(models.EpochMetrics) error

// Trainer builds, trains and runs a regression model over windowed inputs.
// Predict returns len(X) rows of OutputUnits values.
type Trainer interface {
	Name() string
	Build(shape Shape, outputUnits int, hp models.Hyperparameters) (Model, error)
	Train(ctx context.Context, m Model, set TrainSet, hp models.Hyperparameters, onEpoch EpochFunc) (History, error)
	Evaluate(m Model, x [][][]float64, y [][]float64) (Evaluation, error)
	Predict(m Model, x [][][]float64) ([][]float64, error)
	Encode(m Model) ([]byte, error)
	Decode(blob []byte) (Model, error)
}

// Tuner picks hyperparameters for a training set.
type Tuner interface {
	Search(ctx context.Context, set TrainSet, shape Shape, outputUnits int) (models.Hyperparameters, error)
}
