package http

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
)

type routeHandler struct{ path string }

func (h routeHandler) RegisterRoutes(e *echo.Echo) {
	e.GET(h.path, func(c echo.Context) error { return c.String(http.StatusOK, h.path) })
}

func TestHandlersRegisterEveryMember(t *testing.T) {
	e := echo.New()
	Handlers{routeHandler{"/api/v1/status"}, nil, routeHandler{"/api/v1/models"}}.RegisterRoutes(e)

	for _, path := range []string{"/api/v1/status", "/api/v1/models"} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.Equal(t, path, rec.Body.String())
	}
}
