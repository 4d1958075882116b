package server

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"PriceCast/internal/usecase"
	"PriceCast/pkg/config"
	xhttp "PriceCast/pkg/http"
	applogger "PriceCast/pkg/logger"
)

// Closer is a named resource released on shutdown.
type Closer struct {
	Name  string
	Close func() error
}

// App encapsulates the entire application lifecycle.
type App struct {
	cfg        *config.Config
	l          *applogger.Logger
	lifecycle  *usecase.LifecycleService
	jobs       *usecase.JobManager
	httpServer *xhttp.Server
	closers    []Closer
}

// New creates a new App instance with all dependencies. Closers run in
// reverse order on shutdown.
func New(
	cfg *config.Config,
	l *applogger.Logger,
	lifecycle *usecase.LifecycleService,
	jobs *usecase.JobManager,
	httpServer *xhttp.Server,
	closers ...Closer,
) *App {
	return &App{
		cfg:        cfg,
		l:          l.Named("app"),
		lifecycle:  lifecycle,
		jobs:       jobs,
		httpServer: httpServer,
		closers:    closers,
	}
}

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.RunContext(ctx)
}

// RunContext starts the application and blocks until ctx ends.
func (a *App) RunContext(ctx context.Context) error {
	rctx, cancel := context.WithTimeout(ctx, time.Minute)
	removed, err := a.lifecycle.Reconcile(rctx)
	cancel()
	if err != nil {
		a.l.Error("artifact reconciliation failed", applogger.Error(err))
		a.closeAll()
		return fmt.Errorf("reconcile: %w", err)
	}
	a.l.Info("artifacts reconciled", applogger.Int("orphans_removed", removed))

	a.jobs.Start()

	if err := a.httpServer.Start(); err != nil {
		a.l.Error("http server start error", applogger.Error(err))
		_ = a.jobs.Stop(context.Background())
		a.closeAll()
		return err
	}
	a.l.Info("application started",
		applogger.String("env", a.cfg.Environment),
		applogger.Int("port", a.cfg.Server.Port),
		applogger.Int("workers", a.cfg.Training.Workers),
	)

	<-ctx.Done()
	a.l.Info("shutdown signal received")
	return a.shutdown()
}

// shutdown stops HTTP first so no new jobs arrive, drains the job queue and
// then releases stores and clients.
func (a *App) shutdown() error {
	a.l.Info("shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := a.httpServer.Stop(ctx); err != nil {
		a.l.Error("http shutdown error", applogger.Error(err))
	}

	jctx, jcancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer jcancel()
	if err := a.jobs.Stop(jctx); err != nil {
		a.l.Warn("training jobs did not drain in time", applogger.Error(err))
	}

	a.closeAll()
	a.l.Info("shutdown complete")
	return nil
}

func (a *App) closeAll() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.Close(); err != nil {
			a.l.Warn("close error", applogger.String("resource", c.Name), applogger.Error(err))
		}
	}
	a.closers = nil
}
