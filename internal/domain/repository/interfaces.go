package repository

import (
	"context"
	"time"

	"PriceCast/internal/domain/models"
)

// ArtifactStore persists opaque model blobs keyed by model id. Save publishes
// atomically; readers never observe a partial artifact.
type ArtifactStore interface {
	Save(ctx context.Context, modelID string, blob []byte) (string, error)
	Load(ctx context.Context, modelID string) ([]byte, error)
	PathFor(modelID string) string
	Delete(ctx context.Context, modelID string) error
	List(ctx context.Context) ([]string, error)
	// SavedAt reports when the artifact was last written.
	SavedAt(ctx context.Context, modelID string) (time.Time, error)
	Close() error
}

// MetadataCatalog stores one record per trained model.
type MetadataCatalog interface {
	Add(ctx context.Context, rec *models.ModelMetadataRecord) error
	GetByID(ctx context.Context, modelID string) (*models.ModelMetadataRecord, error)
	GetAll(ctx context.Context, opts models.ListOptions) ([]*models.ModelMetadataRecord, error)
	// Update reports false when no record matches; that is not an error.
	Update(ctx context.Context, modelID string, patch models.RecordPatch) (bool, error)
	Delete(ctx context.Context, modelID string) (bool, error)
	Close() error
}

// DatasetStore loads and registers raw price datasets.
type DatasetStore interface {
	Load(ctx context.Context, name string) (*models.RawSeries, error)
	Save(ctx context.Context, series *models.RawSeries) error
	// Create registers a new dataset and fails with DatasetExists when the
	// name is taken. The check and the write are one step.
	Create(ctx context.Context, series *models.RawSeries) error
	Exists(ctx context.Context, name string) (bool, error)
	List(ctx context.Context) ([]models.DatasetInfo, error)
	Close() error
}

// JobStore keeps training job status snapshots.
type JobStore interface {
	Put(ctx context.Context, job *models.TrainingJob, ttl time.Duration) error
	Get(ctx context.Context, jobID string) (*models.TrainingJob, error)
}

// EventPublisher emits lifecycle events to interested parties.
type EventPublisher interface {
	Publish(ctx context.Context, ev models.LifecycleEvent) error
	Close() error
}

type Metrics interface {
	RecordJob(status string)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
	RecordPrediction(modelID string, steps int)
}
