package models

import (
	"fmt"
	"math"
	"time"

	"PriceCast/internal/domain/errs"
)

// Hyperparameters recognised by every trainer backend. HiddenUnits keeps the
// historical "lstm_units" key on the wire.
type Hyperparameters struct {
	LearningRate float64 `json:"learning_rate"`
	HiddenUnits  int     `json:"lstm_units"`
	DropoutRate  float64 `json:"dropout_rate"`
	Epochs       int     `json:"epochs"`
	BatchSize    int     `json:"batch_size"`
	Seed         int64   `json:"seed,omitempty"`
}

func DefaultHyperparameters() Hyperparameters {
	return Hyperparameters{
		LearningRate: 0.001,
		HiddenUnits:  64,
		DropoutRate:  0.3,
		Epochs:       30,
		BatchSize:    32,
	}
}

func (h Hyperparameters) Validate() error {
	switch {
	case !(h.LearningRate > 0) || math.IsInf(h.LearningRate, 0):
		return errs.Config(errs.BadHyperparameter, "learning_rate must be > 0, got %v", h.LearningRate)
	case h.HiddenUnits < 1:
		return errs.Config(errs.BadHyperparameter, "hidden_units must be >= 1, got %d", h.HiddenUnits)
	case h.DropoutRate < 0 || h.DropoutRate >= 1:
		return errs.Config(errs.BadHyperparameter, "dropout_rate must be in [0,1), got %v", h.DropoutRate)
	case h.Epochs < 1:
		return errs.Config(errs.BadHyperparameter, "epochs must be >= 1, got %d", h.Epochs)
	case h.BatchSize < 1:
		return errs.Config(errs.BadHyperparameter, "batch_size must be >= 1, got %d", h.BatchSize)
	}
	return nil
}

// Map renders the hyperparameters the way they are stored in metadata records.
func (h Hyperparameters) Map() map[string]interface{} {
	m := map[string]interface{}{
		"learning_rate": h.LearningRate,
		"lstm_units":    h.HiddenUnits,
		"dropout_rate":  h.DropoutRate,
		"epochs":        h.Epochs,
		"batch_size":    h.BatchSize,
	}
	if h.Seed != 0 {
		m["seed"] = h.Seed
	}
	return m
}

// MergeHyperparameters overlays caller supplied values on base. Keys absent
// from m keep the base value; unknown keys or value types fail with
// ConfigError(BadHyperparameter).
func MergeHyperparameters(base Hyperparameters, m map[string]interface{}) (Hyperparameters, error) {
	out := base
	for k, v := range m {
		var err error
		switch k {
		case "learning_rate":
			out.LearningRate, err = toFloat(k, v)
		case "lstm_units", "hidden_units":
			out.HiddenUnits, err = toInt(k, v)
		case "dropout_rate":
			out.DropoutRate, err = toFloat(k, v)
		case "epochs":
			out.Epochs, err = toInt(k, v)
		case "batch_size":
			out.BatchSize, err = toInt(k, v)
		case "seed":
			var s int
			s, err = toInt(k, v)
			out.Seed = int64(s)
		default:
			err = errs.Config(errs.BadHyperparameter, "unknown hyperparameter %q", k)
		}
		if err != nil {
			return base, err
		}
	}
	return out, out.Validate()
}

func toFloat(key string, v interface{}) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	}
	return 0, errs.Config(errs.BadHyperparameter, "%s: unsupported value type %T", key, v)
}

func toInt(key string, v interface{}) (int, error) {
	switch x := v.(type) {
	case int:
		return x, nil
	case int64:
		return int(x), nil
	case float64:
		if x != math.Trunc(x) {
			return 0, errs.Config(errs.BadHyperparameter, "%s: expected an integer, got %v", key, x)
		}
		return int(x), nil
	}
	return 0, errs.Config(errs.BadHyperparameter, "%s: unsupported value type %T", key, v)
}

// ScalerState is a fitted min-max scaling. Column order is the fit order.
type ScalerState struct {
	Columns []string  `json:"columns"`
	Min     []float64 `json:"min"`
	Max     []float64 `json:"max"`
}

// ModelConfig captures everything prediction needs to rebuild the training
// features.
type ModelConfig struct {
	LookBack       int          `json:"look_back"`
	NDays          int          `json:"n_days"`
	TargetColumn   string       `json:"target_column"`
	InputShape     []int        `json:"input_shape"`
	OutputUnits    int          `json:"output_units"`
	FeatureColumns []string     `json:"feature_columns,omitempty"`
	Backend        string       `json:"backend,omitempty"`
	Scaler         *ScalerState `json:"scaler,omitempty"`
}

type TrainingHistory struct {
	FinalLoss    float64 `json:"final_loss"`
	FinalValLoss float64 `json:"final_val_loss"`
	FinalMAE     float64 `json:"final_mae"`
	FinalValMAE  float64 `json:"final_val_mae"`
	Epochs       int     `json:"epochs"`
}

// ModelMetadataRecord describes one trained model. A record exists iff its
// artifact exists.
type ModelMetadataRecord struct {
	ModelID            string                 `json:"model_id"`
	ModelName          string                 `json:"model_name"`
	FilePath           string                 `json:"file_path"`
	TrainingDate       time.Time              `json:"training_date"`
	DatasetName        string                 `json:"dataset_name"`
	NDays              int                    `json:"n_days"`
	Hyperparameters    map[string]interface{} `json:"hyperparameters"`
	PerformanceMetrics map[string]float64     `json:"performance_metrics"`
	ModelConfig        ModelConfig            `json:"model_config"`
	TrainingHistory    TrainingHistory        `json:"training_history"`
}

// RecordPatch holds the fields an update may merge into a record.
type RecordPatch struct {
	ModelName          *string
	PerformanceMetrics map[string]float64
	Hyperparameters    map[string]interface{}
}

// Apply merges the patch into r. Metric and hyperparameter maps merge key by key.
func (p RecordPatch) Apply(r *ModelMetadataRecord) {
	if p.ModelName != nil {
		r.ModelName = *p.ModelName
	}
	if len(p.PerformanceMetrics) > 0 {
		if r.PerformanceMetrics == nil {
			r.PerformanceMetrics = make(map[string]float64, len(p.PerformanceMetrics))
		}
		for k, v := range p.PerformanceMetrics {
			r.PerformanceMetrics[k] = v
		}
	}
	if len(p.Hyperparameters) > 0 {
		if r.Hyperparameters == nil {
			r.Hyperparameters = make(map[string]interface{}, len(p.Hyperparameters))
		}
		for k, v := range p.Hyperparameters {
			r.Hyperparameters[k] = v
		}
	}
}

// ModelNameFor builds the display name used for new models.
func ModelNameFor(t time.Time) string {
	return fmt.Sprintf("Model_%s", t.Format("20060102_150405"))
}

// ListOptions controls catalog listing.
type ListOptions struct {
	SortByTrainingDateDesc bool
}

// Prediction is one forecast step.
type Prediction struct {
	TargetOffsetDay int       `json:"target_offset_day"`
	TargetDate      time.Time `json:"target_date"`
	PredictedValue  float64   `json:"predicted_value"`
}
