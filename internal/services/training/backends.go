package training

import (
	"fmt"

	"PriceCast/internal/domain/models"
	"PriceCast/internal/domain/service"
)

// NewTrainer returns the backend registered under name.
func NewTrainer(name string) (service.Trainer, error) {
	switch name {
	case BackendMLP, "":
		return NewMLPTrainer(), nil
	case BackendLinear:
		return NewLinearTrainer(), nil
	}
	return nil, fmt.Errorf("unknown training backend %q", name)
}

// NewTuner returns the tuning strategy registered under name.
func NewTuner(name string, trainer service.Trainer, base models.Hyperparameters, trials, trialEpochs int, seed int64) (service.Tuner, error) {
	switch name {
	case "fixed", "":
		return NewFixedTuner(base), nil
	case "random":
		return &RandomSearchTuner{Trainer: trainer, Base: base, Trials: trials, TrialEpochs: trialEpochs, Seed: seed}, nil
	}
	return nil, fmt.Errorf("unknown tuner %q", name)
}
