package models

// Requests for the HTTP surface. Defined in domain for consistency and reuse.

type TrainRequest struct {
	DatasetName     string                 `json:"dataset_name" validate:"required,resource_name"`
	NDays           int                    `json:"n_days" validate:"required,gte=1,lte=30"`
	LookBack        int                    `json:"look_back" validate:"gte=0,lte=365"`
	TargetColumn    string                 `json:"target_column"`
	Hyperparameters map[string]interface{} `json:"hyperparameters"`
}

type PredictRequest struct {
	ModelID string `query:"model_id" json:"model_id" validate:"required,resource_name"`
	NDays   int    `query:"n_days" json:"n_days" validate:"required,gte=1,lte=30"`
}

type ListModelsRequest struct {
	Sort string `query:"sort" json:"sort" default:"date_desc" validate:"oneof=date_desc none"`
}

type HistoryRequest struct {
	DatasetName string `query:"dataset_name" json:"dataset_name" validate:"required,resource_name"`
}

type PerformanceRequest struct {
	Metrics map[string]float64 `json:"performance_metrics" validate:"required,min=1"`
}
