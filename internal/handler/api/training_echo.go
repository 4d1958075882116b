package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"PriceCast/internal/domain/models"
	"PriceCast/internal/usecase"
	xhttp "PriceCast/pkg/http"
	xlogger "PriceCast/pkg/logger"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
)

// TrainingEchoHandler submits training jobs and reports their progress.
type TrainingEchoHandler struct {
	logger   *xlogger.Logger
	jobs     TrainingJobs
	upgrader websocket.Upgrader
	submit   []echo.MiddlewareFunc
}

// NewTrainingEchoHandler builds the handler. submit middlewares wrap only the
// job submission route.
func NewTrainingEchoHandler(logger *xlogger.Logger, jobs TrainingJobs, submit ...echo.MiddlewareFunc) *TrainingEchoHandler {
	return &TrainingEchoHandler{
		logger:   logger.Named("api.training"),
		jobs:     jobs,
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		submit:   submit,
	}
}

func (h *TrainingEchoHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api/model/train")
	g.POST("", h.Train, h.submit...)
	g.GET("/status/:job_id", h.Status)
	g.DELETE("/:job_id", h.Cancel)
	g.GET("/ws/:job_id", h.Stream)
}

// Train queues a job and answers 202 with its first snapshot.
func (h *TrainingEchoHandler) Train(c echo.Context) error {
	req := &models.TrainRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	job, err := h.jobs.Submit(c.Request().Context(), usecase.TrainCommand{
		DatasetName:     req.DatasetName,
		Horizon:         req.NDays,
		LookBack:        req.LookBack,
		TargetColumn:    req.TargetColumn,
		Hyperparameters: req.Hyperparameters,
	})
	if err != nil {
		h.logger.Warn("train request rejected", xlogger.Dataset(req.DatasetName), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.AcceptedResponse(c, job)
}

func (h *TrainingEchoHandler) Status(c echo.Context) error {
	job, err := h.jobs.Get(c.Request().Context(), c.Param("job_id"))
	if err != nil {
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.SuccessResponse(c, job)
}

func (h *TrainingEchoHandler) Cancel(c echo.Context) error {
	job, err := h.jobs.Cancel(c.Request().Context(), c.Param("job_id"))
	if err != nil {
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.SuccessResponse(c, job)
}

// Stream upgrades to a websocket and pushes job snapshots until the job
// reaches a terminal status or the client goes away.
func (h *TrainingEchoHandler) Stream(c echo.Context) error {
	jobID := c.Param("job_id")
	job, err := h.jobs.Get(c.Request().Context(), jobID)
	if err != nil {
		return xhttp.AppErrorResponse(c, err)
	}

	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", xlogger.JobID(jobID), xlogger.Error(err))
		return nil
	}
	defer conn.Close()

	updates, unsubscribe := h.jobs.Subscribe(jobID)
	defer unsubscribe()

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(j *models.TrainingJob) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteJSON(j); err != nil {
			h.logger.Debug("websocket write failed", xlogger.JobID(jobID), xlogger.Error(err))
			return false
		}
		return true
	}

	if !send(job) {
		return nil
	}
	last := job.Status
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

stream:
	for !last.Terminal() {
		select {
		case snap, ok := <-updates:
			if !ok {
				// closed without a snapshot when the job ended before Subscribe
				final, err := h.jobs.Get(c.Request().Context(), jobID)
				if err == nil && final.Status != last {
					send(final)
				}
				break stream
			}
			if !send(&snap) {
				return nil
			}
			last = snap.Status
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return nil
			}
		case <-gone:
			return nil
		}
	}

	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "job finished"))
	return nil
}
