package api

import (
	"io"
	"path/filepath"
	"strings"

	"github.com/labstack/echo/v4"

	"PriceCast/internal/domain/models"
	xhttp "PriceCast/pkg/http"
	xlogger "PriceCast/pkg/logger"
)

// MaxUploadBytes caps the size of an uploaded CSV file.
const MaxUploadBytes = 32 << 20

// DataEchoHandler manages uploaded price datasets.
type DataEchoHandler struct {
	logger   *xlogger.Logger
	datasets Datasets
}

func NewDataEchoHandler(logger *xlogger.Logger, datasets Datasets) *DataEchoHandler {
	return &DataEchoHandler{logger: logger.Named("api.data"), datasets: datasets}
}

func (h *DataEchoHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api/data")
	g.POST("/upload", h.Upload)
	g.GET("/history", h.History)
	g.GET("/list", h.List)
}

// Upload registers a multipart "file" under "dataset_name", or under the file
// name when dataset_name is empty.
func (h *DataEchoHandler) Upload(c echo.Context) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return xhttp.BadRequestResponse(c, []xhttp.ValidationError{{
			Code: "ERR_REQUIRED", Field: "file", Message: "file is required",
		}})
	}
	if !strings.EqualFold(filepath.Ext(fh.Filename), ".csv") {
		return xhttp.BadRequestResponse(c, []xhttp.ValidationError{{
			Code: "ERR_FILE_TYPE", Field: "file", Message: "only CSV files are allowed",
		}})
	}
	if fh.Size > MaxUploadBytes {
		return xhttp.BadRequestResponse(c, []xhttp.ValidationError{{
			Code: "ERR_MAX", Field: "file", Message: "file is too large",
			Params: map[string]interface{}{"max": MaxUploadBytes},
		}})
	}

	name := strings.TrimSpace(c.FormValue("dataset_name"))
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(fh.Filename), filepath.Ext(fh.Filename))
	}

	f, err := fh.Open()
	if err != nil {
		return xhttp.AppErrorResponse(c, err)
	}
	defer f.Close()
	body, err := io.ReadAll(io.LimitReader(f, MaxUploadBytes))
	if err != nil {
		return xhttp.AppErrorResponse(c, err)
	}

	info, err := h.datasets.Ingest(c.Request().Context(), name, body)
	if err != nil {
		h.logger.Warn("upload rejected", xlogger.Dataset(name), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.CreatedResponse(c, info)
}

func (h *DataEchoHandler) History(c echo.Context) error {
	req := &models.HistoryRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	rows, err := h.datasets.History(c.Request().Context(), req.DatasetName)
	if err != nil {
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.SuccessResponse(c, rows)
}

func (h *DataEchoHandler) List(c echo.Context) error {
	infos, err := h.datasets.List(c.Request().Context())
	if err != nil {
		h.logger.Error("list datasets failed", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	if infos == nil {
		infos = []models.DatasetInfo{}
	}
	return xhttp.ListResponse(c, infos, int64(len(infos)))
}
