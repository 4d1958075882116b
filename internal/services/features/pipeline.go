package features

import (
	"errors"
	"fmt"

	"PriceCast/internal/domain/errs"
	"PriceCast/internal/domain/models"
)

// Pipeline turns raw series into normalized windows. It keeps no state
// between calls and is safe for concurrent use.
type Pipeline struct{}

func NewPipeline() *Pipeline { return &Pipeline{} }

// Preprocess engineers, normalizes and windows raw. The returned ScalerState
// belongs to the caller. An unresolvable target yields
// DataError(UnknownTarget) and no windows.
func (p *Pipeline) Preprocess(raw *models.RawSeries, lookBack, horizon int, target string) (WindowSet, *ScalerState, error) {
	if lookBack < 1 || horizon < 1 {
		return WindowSet{}, nil, errs.Config(errs.OutOfRange, "look_back and horizon must be >= 1, got %d and %d", lookBack, horizon)
	}
	frame, err := Engineer(raw, lookBack)
	if err != nil {
		return WindowSet{}, nil, fmt.Errorf("engineer features: %w", err)
	}
	scaled, state, err := FitTransform(frame)
	if err != nil {
		return WindowSet{}, nil, fmt.Errorf("normalize: %w", err)
	}
	resolved, _, ok := scaled.Resolve(target)
	if !ok {
		return WindowSet{}, nil, errs.Data(errs.UnknownTarget, "target column %q not found in dataset %q", target, datasetName(raw))
	}
	ws, err := CreateSequences(scaled, lookBack, horizon, resolved)
	if err != nil {
		if errors.Is(err, errs.NoTrainableData) {
			return ws, state, fmt.Errorf("dataset %q: %w", datasetName(raw), err)
		}
		return WindowSet{}, nil, err
	}
	return ws, state, nil
}

// LatestWindow returns the most recent lookBack rows of raw, normalized with
// state so the features line up with the ones a model was trained on. A nil
// state fits a fresh scaler on raw.
func (p *Pipeline) LatestWindow(raw *models.RawSeries, lookBack int, target string, state *ScalerState) ([][]float64, *ScalerState, error) {
	if lookBack < 1 {
		return nil, nil, errs.Config(errs.OutOfRange, "look_back must be >= 1, got %d", lookBack)
	}
	frame, err := Engineer(raw, lookBack)
	if err != nil {
		return nil, nil, fmt.Errorf("engineer features: %w", err)
	}

	var scaled *Frame
	if state == nil {
		scaled, state, err = FitTransform(frame)
	} else {
		scaled, err = Transform(frame, state)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("normalize: %w", err)
	}
	if _, _, ok := scaled.Resolve(target); !ok {
		return nil, nil, errs.Data(errs.UnknownTarget, "target column %q not found in dataset %q", target, datasetName(raw))
	}
	return rowsAt(scaled, scaled.Rows()-lookBack, lookBack), state, nil
}

func datasetName(raw *models.RawSeries) string {
	if raw == nil {
		return ""
	}
	return raw.Name
}
