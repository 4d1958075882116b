package api

import (
	"math"
	"time"

	"github.com/labstack/echo/v4"

	"PriceCast/internal/domain/models"
	xhttp "PriceCast/pkg/http"
	xlogger "PriceCast/pkg/logger"
)

// PredictionView is one forecast step as served to clients. ChangeMagnitude is
// the relative change against the last observed close.
type PredictionView struct {
	TargetDate      string  `json:"target_date"`
	TargetOffsetDay int     `json:"target_offset_day"`
	PredictedValue  float64 `json:"predicted_value"`
	ChangeMagnitude float64 `json:"change_magnitude"`
}

// ModelEchoHandler serves the model registry and predictions.
type ModelEchoHandler struct {
	logger    *xlogger.Logger
	lifecycle ModelLifecycle
	datasets  Datasets
}

func NewModelEchoHandler(logger *xlogger.Logger, lifecycle ModelLifecycle, datasets Datasets) *ModelEchoHandler {
	return &ModelEchoHandler{logger: logger.Named("api.models"), lifecycle: lifecycle, datasets: datasets}
}

func (h *ModelEchoHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api/model")
	g.GET("/list", h.List)
	g.GET("/predict", h.Predict)
	g.GET("/:model_id", h.Get)
	g.DELETE("/:model_id", h.Delete)
	g.PATCH("/:model_id/performance", h.UpdatePerformance)
}

func (h *ModelEchoHandler) List(c echo.Context) error {
	req := &models.ListModelsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	recs, err := h.lifecycle.ListMetadata(c.Request().Context(), req.Sort == "date_desc")
	if err != nil {
		h.logger.Error("list models failed", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	if recs == nil {
		recs = []*models.ModelMetadataRecord{}
	}
	return xhttp.ListResponse(c, recs, int64(len(recs)))
}

func (h *ModelEchoHandler) Get(c echo.Context) error {
	rec, err := h.lifecycle.GetMetadata(c.Request().Context(), c.Param("model_id"))
	if err != nil {
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.SuccessResponse(c, rec)
}

func (h *ModelEchoHandler) Delete(c echo.Context) error {
	id := c.Param("model_id")
	if err := h.lifecycle.DeleteModel(c.Request().Context(), id); err != nil {
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.SuccessResponse(c, map[string]string{"model_id": id, "message": "Model deleted"})
}

func (h *ModelEchoHandler) UpdatePerformance(c echo.Context) error {
	req := &models.PerformanceRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	ctx := c.Request().Context()
	id := c.Param("model_id")
	if err := h.lifecycle.UpdatePerformance(ctx, id, req.Metrics); err != nil {
		return xhttp.AppErrorResponse(c, err)
	}
	rec, err := h.lifecycle.GetMetadata(ctx, id)
	if err != nil {
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.SuccessResponse(c, rec)
}

// Predict forecasts n_days after the last row of the model's own dataset.
func (h *ModelEchoHandler) Predict(c echo.Context) error {
	start := time.Now()
	req := &models.PredictRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	ctx := c.Request().Context()

	rec, err := h.lifecycle.GetMetadata(ctx, req.ModelID)
	if err != nil {
		return xhttp.AppErrorResponse(c, err)
	}
	raw, err := h.datasets.Load(ctx, rec.DatasetName)
	if err != nil {
		h.logger.Warn("prediction dataset unavailable", xlogger.ModelID(req.ModelID), xlogger.Dataset(rec.DatasetName), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	preds, err := h.lifecycle.Predict(ctx, req.ModelID, raw, req.NDays)
	if err != nil {
		h.logger.Error("prediction failed", xlogger.ModelID(req.ModelID), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}

	base := lastValue(raw, rec.ModelConfig.TargetColumn)
	out := make([]PredictionView, len(preds))
	for i, p := range preds {
		out[i] = PredictionView{
			TargetDate:      p.TargetDate.Format("2006-01-02"),
			TargetOffsetDay: p.TargetOffsetDay,
			PredictedValue:  p.PredictedValue,
		}
		if base != 0 && !math.IsNaN(base) {
			out[i].ChangeMagnitude = (p.PredictedValue - base) / base
		}
	}
	h.logger.Info("prediction served",
		xlogger.ModelID(req.ModelID),
		xlogger.Int("n_days", req.NDays),
		xlogger.Duration("duration_ms", time.Since(start)),
	)
	return xhttp.SuccessResponse(c, out)
}

// lastValue returns the last observed value of column, or NaN.
func lastValue(raw *models.RawSeries, column string) float64 {
	col, ok := raw.ColumnFold(column)
	if !ok || !col.Numeric {
		return math.NaN()
	}
	for i := len(col.Values) - 1; i >= 0; i-- {
		if !math.IsNaN(col.Values[i]) {
			return col.Values[i]
		}
	}
	return math.NaN()
}
