package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PriceCast/internal/domain/errs"
	"PriceCast/internal/domain/models"
	"PriceCast/internal/repository"
	"PriceCast/internal/services/features"
	"PriceCast/pkg/cache"
	applogger "PriceCast/pkg/logger"
)

type trainerFunc func(ctx context.Context, req TrainRequest) (string, error)

func (f trainerFunc) Train(ctx context.Context, req TrainRequest) (string, error) { return f(ctx, req) }

func newJobManager(t *testing.T, trainer ModelTrainer, cfg JobConfig) *JobManager {
	t.Helper()
	c := cache.NewMemoryCache()
	t.Cleanup(func() { _ = c.Close() })
	m := NewJobManager(datasetStore(t, dailySeries("btc", 40)), features.NewPipeline(), trainer,
		repository.NewCacheJobStore(c), cfg, applogger.Nop())
	m.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.Stop(ctx)
	})
	return m
}

func waitTerminal(t *testing.T, m *JobManager, id string) *models.TrainingJob {
	t.Helper()
	var job *models.TrainingJob
	require.Eventually(t, func() bool {
		j, err := m.Get(context.Background(), id)
		if err != nil {
			return false
		}
		job = j
		return j.Status.Terminal()
	}, 5*time.Second, 10*time.Millisecond)
	return job
}

func TestJobSucceeds(t *testing.T) {
	var (
		mu  sync.Mutex
		got TrainRequest
	)
	trainer := trainerFunc(func(ctx context.Context, req TrainRequest) (string, error) {
		mu.Lock()
		got = req
		mu.Unlock()
		for e := 1; e <= 3; e++ {
			if err := req.OnEpoch(models.EpochMetrics{Epoch: e, Loss: 1 / float64(e)}); err != nil {
				return "", err
			}
		}
		return "model-42", nil
	})
	m := newJobManager(t, trainer, JobConfig{ValRatio: 0.2})

	job, err := m.Submit(context.Background(), TrainCommand{DatasetName: "btc", Horizon: 3})
	require.NoError(t, err)
	assert.Equal(t, models.JobQueued, job.Status)
	assert.Equal(t, 5, job.LookBack)
	assert.Equal(t, "close", job.TargetColumn)

	done := waitTerminal(t, m, job.ID)
	assert.Equal(t, models.JobSucceeded, done.Status)
	assert.Equal(t, "model-42", done.ModelID)
	assert.Equal(t, 1.0, done.Progress)
	assert.Equal(t, 3, done.Epoch)
	assert.NotNil(t, done.StartedAt)
	assert.NotNil(t, done.FinishedAt)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "btc", got.DatasetName)
	assert.Equal(t, job.ID, got.JobID)
	assert.Nil(t, got.Hyperparameters)
	assert.Equal(t, 3, len(got.Data.XTrain))
	assert.Equal(t, 1, len(got.Data.XVal))
	assert.NotNil(t, got.Data.Scaler)
	assert.Equal(t, ModelSpec{LookBack: 5, TargetColumn: "close"}, got.Config)
}

func TestJobHyperparametersMerged(t *testing.T) {
	hpCh := make(chan *models.Hyperparameters, 1)
	trainer := trainerFunc(func(ctx context.Context, req TrainRequest) (string, error) {
		hpCh <- req.Hyperparameters
		return "m", nil
	})
	m := newJobManager(t, trainer, JobConfig{})

	_, err := m.Submit(context.Background(), TrainCommand{
		DatasetName: "btc", Horizon: 2,
		Hyperparameters: map[string]interface{}{"epochs": float64(4), "learning_rate": 0.05},
	})
	require.NoError(t, err)
	hp := <-hpCh
	require.NotNil(t, hp)
	assert.Equal(t, 4, hp.Epochs)
	assert.Equal(t, 0.05, hp.LearningRate)
	assert.Equal(t, models.DefaultHyperparameters().BatchSize, hp.BatchSize)

	_, err = m.Submit(context.Background(), TrainCommand{
		DatasetName: "btc", Horizon: 2,
		Hyperparameters: map[string]interface{}{"momentum": 0.9},
	})
	assert.ErrorIs(t, err, errs.BadHyperparameter)
}

func TestJobSubmitValidation(t *testing.T) {
	m := newJobManager(t, trainerFunc(func(context.Context, TrainRequest) (string, error) { return "m", nil }), JobConfig{})
	ctx := context.Background()

	_, err := m.Submit(ctx, TrainCommand{DatasetName: "eth", Horizon: 3})
	assert.ErrorIs(t, err, errs.KindDatasetNotFound)

	_, err = m.Submit(ctx, TrainCommand{DatasetName: "btc", Horizon: 0})
	assert.ErrorIs(t, err, errs.OutOfRange)

	_, err = m.Submit(ctx, TrainCommand{DatasetName: "btc", Horizon: MaxHorizon + 1})
	assert.ErrorIs(t, err, errs.OutOfRange)

	_, err = m.Submit(ctx, TrainCommand{Horizon: 1})
	assert.ErrorIs(t, err, errs.KindConfig)

	_, err = m.Get(ctx, "unknown")
	assert.ErrorIs(t, err, errs.KindJobNotFound)
}

func TestJobFailureIsRecorded(t *testing.T) {
	trainer := trainerFunc(func(context.Context, TrainRequest) (string, error) {
		return "", errs.New(errs.KindTraining, "", "loss diverged")
	})
	m := newJobManager(t, trainer, JobConfig{})

	job, err := m.Submit(context.Background(), TrainCommand{DatasetName: "btc", Horizon: 3})
	require.NoError(t, err)
	done := waitTerminal(t, m, job.ID)
	assert.Equal(t, models.JobFailed, done.Status)
	assert.Equal(t, string(errs.KindTraining), done.ErrorKind)
	assert.Contains(t, done.Error, "loss diverged")
}

func TestJobPipelineErrorFailsJob(t *testing.T) {
	m := newJobManager(t, trainerFunc(func(context.Context, TrainRequest) (string, error) { return "m", nil }), JobConfig{})

	job, err := m.Submit(context.Background(), TrainCommand{DatasetName: "btc", Horizon: 3, TargetColumn: "adj_close"})
	require.NoError(t, err)
	done := waitTerminal(t, m, job.ID)
	assert.Equal(t, models.JobFailed, done.Status)
	assert.Equal(t, string(errs.KindData), done.ErrorKind)
}

func blockingTrainer(started chan<- struct{}) trainerFunc {
	return func(ctx context.Context, req TrainRequest) (string, error) {
		close(started)
		<-ctx.Done()
		return "", ctx.Err()
	}
}

func TestJobCancelRunning(t *testing.T) {
	started := make(chan struct{})
	m := newJobManager(t, blockingTrainer(started), JobConfig{})

	job, err := m.Submit(context.Background(), TrainCommand{DatasetName: "btc", Horizon: 3})
	require.NoError(t, err)
	<-started

	snap, err := m.Cancel(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobRunning, snap.Status)

	done := waitTerminal(t, m, job.ID)
	assert.Equal(t, models.JobCancelled, done.Status)
	assert.Empty(t, done.ModelID)

	again, err := m.Cancel(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobCancelled, again.Status)
}

func TestJobCancelQueued(t *testing.T) {
	started := make(chan struct{})
	m := newJobManager(t, blockingTrainer(started), JobConfig{Workers: 1})

	first, err := m.Submit(context.Background(), TrainCommand{DatasetName: "btc", Horizon: 3})
	require.NoError(t, err)
	<-started
	second, err := m.Submit(context.Background(), TrainCommand{DatasetName: "btc", Horizon: 3})
	require.NoError(t, err)

	snap, err := m.Cancel(context.Background(), second.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobCancelled, snap.Status)
	assert.Nil(t, snap.StartedAt)

	_, err = m.Cancel(context.Background(), first.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobCancelled, waitTerminal(t, m, first.ID).Status)
}

func TestJobTimeout(t *testing.T) {
	started := make(chan struct{})
	m := newJobManager(t, blockingTrainer(started), JobConfig{Timeout: 50 * time.Millisecond})

	job, err := m.Submit(context.Background(), TrainCommand{DatasetName: "btc", Horizon: 3})
	require.NoError(t, err)
	done := waitTerminal(t, m, job.ID)
	assert.Equal(t, models.JobFailed, done.Status)
	assert.Equal(t, string(errs.KindTraining), done.ErrorKind)
	assert.Contains(t, done.Error, "TIMEOUT")
}

func TestJobSubscribe(t *testing.T) {
	release := make(chan struct{})
	trainer := trainerFunc(func(ctx context.Context, req TrainRequest) (string, error) {
		<-release
		if err := req.OnEpoch(models.EpochMetrics{Epoch: 1, Loss: 0.5}); err != nil {
			return "", err
		}
		return "model-7", nil
	})
	m := newJobManager(t, trainer, JobConfig{})

	job, err := m.Submit(context.Background(), TrainCommand{DatasetName: "btc", Horizon: 3})
	require.NoError(t, err)
	ch, unsubscribe := m.Subscribe(job.ID)
	defer unsubscribe()
	close(release)

	var last models.TrainingJob
	for snap := range ch {
		last = snap
	}
	assert.Equal(t, models.JobSucceeded, last.Status)
	assert.Equal(t, "model-7", last.ModelID)

	closed, _ := m.Subscribe(job.ID)
	_, open := <-closed
	assert.False(t, open)
}

func TestJobStopCancelsQueued(t *testing.T) {
	c := cache.NewMemoryCache()
	defer c.Close()
	m := NewJobManager(datasetStore(t, dailySeries("btc", 40)), features.NewPipeline(),
		trainerFunc(func(context.Context, TrainRequest) (string, error) { return "m", nil }),
		repository.NewCacheJobStore(c), JobConfig{}, applogger.Nop())

	job, err := m.Submit(context.Background(), TrainCommand{DatasetName: "btc", Horizon: 3})
	require.NoError(t, err)
	require.NoError(t, m.Stop(context.Background()))

	got, err := m.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobCancelled, got.Status)

	_, err = m.Submit(context.Background(), TrainCommand{DatasetName: "btc", Horizon: 3})
	assert.True(t, errs.IsRetryable(err))
}

func TestSplitWindows(t *testing.T) {
	ws := features.WindowSet{Features: []string{"close"}}
	for i := 0; i < 10; i++ {
		ws.X = append(ws.X, [][]float64{{float64(i)}})
		ws.Y = append(ws.Y, []float64{float64(i + 1)})
	}

	d := SplitWindows(ws, 0.2)
	assert.Len(t, d.XTrain, 8)
	assert.Len(t, d.XVal, 2)
	assert.Equal(t, 8.0, d.XVal[0][0][0])
	assert.Equal(t, []string{"close"}, d.Features)

	d = SplitWindows(ws, 0.99)
	assert.Len(t, d.XTrain, 1)
	assert.Len(t, d.XVal, 9)

	d = SplitWindows(ws, 0)
	assert.Len(t, d.XTrain, 10)
	assert.Empty(t, d.XVal)

	one := features.WindowSet{X: ws.X[:1], Y: ws.Y[:1]}
	d = SplitWindows(one, 0.2)
	assert.Len(t, d.XTrain, 1)
	assert.Len(t, d.XVal, 1)
}
