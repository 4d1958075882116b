package models

import "time"

type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// Terminal reports whether no further transitions can happen.
func (s JobStatus) Terminal() bool {
	return s == JobSucceeded || s == JobFailed || s == JobCancelled
}

// TrainingJob tracks one background training run.
type TrainingJob struct {
	ID              string          `json:"job_id"`
	DatasetName     string          `json:"dataset_name"`
	Horizon         int             `json:"n_days"`
	LookBack        int             `json:"look_back"`
	TargetColumn    string          `json:"target_column"`
	Hyperparameters Hyperparameters `json:"hyperparameters"`
	Status          JobStatus       `json:"status"`
	ModelID         string          `json:"model_id,omitempty"`
	Error           string          `json:"error,omitempty"`
	ErrorKind       string          `json:"error_kind,omitempty"`
	Epoch           int             `json:"epoch"`
	Epochs          int             `json:"epochs"`
	Progress        float64         `json:"progress"`
	Loss            float64         `json:"loss,omitempty"`
	ValLoss         float64         `json:"val_loss,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	StartedAt       *time.Time      `json:"started_at,omitempty"`
	FinishedAt      *time.Time      `json:"finished_at,omitempty"`
}

// EpochMetrics is reported after each completed epoch.
type EpochMetrics struct {
	Epoch   int     `json:"epoch"`
	Loss    float64 `json:"loss"`
	MAE     float64 `json:"mae"`
	ValLoss float64 `json:"val_loss"`
	ValMAE  float64 `json:"val_mae"`
}

type EventType string

const (
	EventModelTrained EventType = "model.trained"
	EventModelFailed  EventType = "model.failed"
	EventModelDeleted EventType = "model.deleted"
)

// LifecycleEvent is published on model lifecycle transitions.
type LifecycleEvent struct {
	Type        EventType `json:"type"`
	ModelID     string    `json:"model_id,omitempty"`
	JobID       string    `json:"job_id,omitempty"`
	DatasetName string    `json:"dataset_name,omitempty"`
	Error       string    `json:"error,omitempty"`
	At          time.Time `json:"at"`
}
