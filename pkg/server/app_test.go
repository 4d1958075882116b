package server

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PriceCast/internal/domain/models"
	"PriceCast/internal/repository"
	"PriceCast/internal/services/features"
	"PriceCast/internal/services/training"
	"PriceCast/internal/usecase"
	"PriceCast/pkg/cache"
	"PriceCast/pkg/config"
	xhttp "PriceCast/pkg/http"
	applogger "PriceCast/pkg/logger"
)

func TestRunReconcilesAndShutsDown(t *testing.T) {
	l := applogger.Nop()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Server.ShutdownTimeout = 2 * time.Second

	artifacts, err := repository.NewFSArtifactStore(filepath.Join(dir, "models"), l)
	require.NoError(t, err)
	catalog, err := repository.NewJSONCatalog(filepath.Join(dir, "metadata.json"), l)
	require.NoError(t, err)
	datasets, err := repository.NewCSVDatasetStore(filepath.Join(dir, "data"), l)
	require.NoError(t, err)
	_, err = artifacts.Save(context.Background(), "orphan", []byte("x"))
	require.NoError(t, err)
	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(artifacts.PathFor("orphan"), old, old))
	_, err = artifacts.Save(context.Background(), "pending", []byte("y"))
	require.NoError(t, err)

	pipeline := features.NewPipeline()
	trainer := training.NewLinearTrainer()
	lifecycle := usecase.NewLifecycleService(pipeline, trainer, training.NewFixedTuner(models.DefaultHyperparameters()),
		artifacts, catalog, l)
	jobs := usecase.NewJobManager(datasets, pipeline, lifecycle, repository.NewCacheJobStore(cache.NewMemoryCache()), usecase.JobConfig{}, l)
	srv := xhttp.NewServer(nil, l, xhttp.WithHost("127.0.0.1"), xhttp.WithPort(0), xhttp.WithMetrics(false, 0))

	var closed []string
	closer := func(name string) Closer {
		return Closer{Name: name, Close: func() error {
			closed = append(closed, name)
			return nil
		}}
	}
	app := New(cfg, l, lifecycle, jobs, srv, closer("first"), closer("second"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.RunContext(ctx) }()

	require.Eventually(t, func() bool {
		ids, err := artifacts.List(context.Background())
		return err == nil && len(ids) == 1 && ids[0] == "pending"
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("app did not stop")
	}
	assert.Equal(t, []string{"second", "first"}, closed)
}
