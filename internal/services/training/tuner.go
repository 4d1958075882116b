package training

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"PriceCast/internal/domain/models"
	"PriceCast/internal/domain/service"
)

// FixedTuner always returns the configured hyperparameters.
type FixedTuner struct {
	Defaults models.Hyperparameters
}

var _ service.Tuner = (*FixedTuner)(nil)

func NewFixedTuner(defaults models.Hyperparameters) *FixedTuner {
	return &FixedTuner{Defaults: defaults}
}

func (t *FixedTuner) Search(ctx context.Context, _ service.TrainSet, _ service.Shape, _ int) (models.Hyperparameters, error) {
	if err := ctx.Err(); err != nil {
		return models.Hyperparameters{}, err
	}
	return t.Defaults, nil
}

// RandomSearchTuner samples Trials candidate settings with a seeded source,
// trains each for TrialEpochs and keeps the one with the lowest validation
// loss. The winner keeps the base epoch count and seed.
type RandomSearchTuner struct {
	Trainer     service.Trainer
	Base        models.Hyperparameters
	Trials      int
	TrialEpochs int
	Seed        int64
}

var _ service.Tuner = (*RandomSearchTuner)(nil)

var (
	hiddenChoices  = []int{16, 32, 64, 128}
	dropoutChoices = []float64{0, 0.1, 0.2, 0.3, 0.4}
	batchChoices   = []int{8, 16, 32, 64}
)

func (t *RandomSearchTuner) Search(ctx context.Context, set service.TrainSet, shape service.Shape, outputUnits int) (models.Hyperparameters, error) {
	trials := t.Trials
	if trials < 1 {
		trials = 1
	}
	epochs := t.TrialEpochs
	if epochs < 1 {
		epochs = 1
	}
	xv, yv := set.XVal, set.YVal
	if len(xv) == 0 {
		xv, yv = set.XTrain, set.YTrain
	}

	rng := rand.New(rand.NewSource(t.Seed))
	best := t.Base
	bestLoss := math.Inf(1)
	for i := 0; i < trials; i++ {
		cand := t.Base
		cand.LearningRate = math.Pow(10, -4+2*rng.Float64())
		cand.HiddenUnits = hiddenChoices[rng.Intn(len(hiddenChoices))]
		cand.DropoutRate = dropoutChoices[rng.Intn(len(dropoutChoices))]
		cand.BatchSize = batchChoices[rng.Intn(len(batchChoices))]

		trial := cand
		trial.Epochs = epochs
		m, err := t.Trainer.Build(shape, outputUnits, trial)
		if err != nil {
			return models.Hyperparameters{}, fmt.Errorf("tuner trial %d: %w", i, err)
		}
		if _, err := t.Trainer.Train(ctx, m, set, trial, nil); err != nil {
			return models.Hyperparameters{}, fmt.Errorf("tuner trial %d: %w", i, err)
		}
		ev, err := t.Trainer.Evaluate(m, xv, yv)
		if err != nil {
			return models.Hyperparameters{}, fmt.Errorf("tuner trial %d: %w", i, err)
		}
		if ev.Loss < bestLoss {
			best, bestLoss = cand, ev.Loss
		}
	}
	return best, nil
}
