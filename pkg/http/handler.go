package http

import "github.com/labstack/echo/v4"

// Handler registers one resource's routes.
type Handler interface {
	RegisterRoutes(e *echo.Echo)
}

// Handlers registers every member in order, so one Server can host the
// status, model, training and data resources together.
type Handlers []Handler

var _ Handler = Handlers(nil)

func (hs Handlers) RegisterRoutes(e *echo.Echo) {
	for _, h := range hs {
		if h != nil {
			h.RegisterRoutes(e)
		}
	}
}
