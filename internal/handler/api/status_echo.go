package api

import (
	"time"

	"github.com/labstack/echo/v4"

	xhttp "PriceCast/pkg/http"
)

// StatusEchoHandler reports liveness.
type StatusEchoHandler struct {
	version string
	started time.Time
}

func NewStatusEchoHandler(version string) *StatusEchoHandler {
	return &StatusEchoHandler{version: version, started: time.Now()}
}

func (h *StatusEchoHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/api/status", h.Status)
}

func (h *StatusEchoHandler) Status(c echo.Context) error {
	return xhttp.SuccessResponse(c, map[string]interface{}{
		"status":         "running",
		"version":        h.version,
		"uptime_seconds": int64(time.Since(h.started).Seconds()),
	})
}
