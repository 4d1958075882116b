package api

import (
	"context"

	"PriceCast/internal/domain/models"
	"PriceCast/internal/usecase"
	xhttp "PriceCast/pkg/http"
)

// ModelLifecycle is the part of usecase.LifecycleService the HTTP layer uses.
type ModelLifecycle interface {
	Predict(ctx context.Context, modelID string, raw *models.RawSeries, horizon int) ([]models.Prediction, error)
	GetMetadata(ctx context.Context, modelID string) (*models.ModelMetadataRecord, error)
	ListMetadata(ctx context.Context, newestFirst bool) ([]*models.ModelMetadataRecord, error)
	DeleteModel(ctx context.Context, modelID string) error
	UpdatePerformance(ctx context.Context, modelID string, perf map[string]float64) error
}

// TrainingJobs is the part of usecase.JobManager the HTTP layer uses.
type TrainingJobs interface {
	Submit(ctx context.Context, cmd usecase.TrainCommand) (*models.TrainingJob, error)
	Get(ctx context.Context, jobID string) (*models.TrainingJob, error)
	Cancel(ctx context.Context, jobID string) (*models.TrainingJob, error)
	Subscribe(jobID string) (<-chan models.TrainingJob, func())
}

// Datasets is the part of usecase.DatasetService the HTTP layer uses.
type Datasets interface {
	Ingest(ctx context.Context, name string, csvBytes []byte) (models.DatasetInfo, error)
	History(ctx context.Context, name string) ([]map[string]interface{}, error)
	Load(ctx context.Context, name string) (*models.RawSeries, error)
	List(ctx context.Context) ([]models.DatasetInfo, error)
}

var (
	_ ModelLifecycle = (*usecase.LifecycleService)(nil)
	_ TrainingJobs   = (*usecase.JobManager)(nil)
	_ Datasets       = (*usecase.DatasetService)(nil)
)

// NewRouter groups the API resources for xhttp.NewServer.
func NewRouter(handlers ...xhttp.Handler) xhttp.Handlers {
	return xhttp.Handlers(handlers)
}
