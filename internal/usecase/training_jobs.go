package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"PriceCast/internal/domain/errs"
	"PriceCast/internal/domain/models"
	drepo "PriceCast/internal/domain/repository"
	"PriceCast/internal/services/features"
	applogger "PriceCast/pkg/logger"
	"PriceCast/pkg/metrics"
)

// ModelTrainer is the part of LifecycleService the job manager drives.
type ModelTrainer interface {
	Train(ctx context.Context, req TrainRequest) (string, error)
}

// TrainCommand is a request to train a model in the background. Zero
// LookBack or empty TargetColumn fall back to the configured defaults.
type TrainCommand struct {
	DatasetName     string
	Horizon         int
	LookBack        int
	TargetColumn    string
	Hyperparameters map[string]interface{}
}

// JobConfig tunes the worker pool.
type JobConfig struct {
	Workers         int
	QueueSize       int
	Timeout         time.Duration
	StatusTTL       time.Duration
	ValRatio        float64
	LookBack        int
	TargetColumn    string
	Hyperparameters models.Hyperparameters
}

type jobTask struct {
	job    *models.TrainingJob
	hp     *models.Hyperparameters
	ctx    context.Context
	cancel context.CancelFunc
}

// JobManager runs training jobs on a fixed pool of workers fed by a bounded
// queue. Job state lives in a JobStore; subscribers get every transition.
type JobManager struct {
	datasets drepo.DatasetStore
	pipeline *features.Pipeline
	trainer  ModelTrainer
	store    drepo.JobStore
	events   drepo.EventPublisher
	metrics  drepo.Metrics
	l        *applogger.Logger
	cfg      JobConfig

	queue   chan *jobTask
	baseCtx context.Context
	stopAll context.CancelFunc
	wg      sync.WaitGroup

	mu       sync.Mutex
	active   map[string]*jobTask
	subs     map[string][]chan models.TrainingJob
	started  bool
	stopping bool
}

// JobOption configures JobManager.
type JobOption func(*JobManager)

func WithJobEvents(p drepo.EventPublisher) JobOption {
	return func(m *JobManager) { m.events = p }
}

func WithJobMetrics(r drepo.Metrics) JobOption {
	return func(m *JobManager) { m.metrics = r }
}

func NewJobManager(
	datasets drepo.DatasetStore,
	pipeline *features.Pipeline,
	trainer ModelTrainer,
	store drepo.JobStore,
	cfg JobConfig,
	l *applogger.Logger,
	opts ...JobOption,
) *JobManager {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 16
	}
	if cfg.StatusTTL <= 0 {
		cfg.StatusTTL = 24 * time.Hour
	}
	if cfg.LookBack < 1 {
		cfg.LookBack = 5
	}
	if cfg.TargetColumn == "" {
		cfg.TargetColumn = "close"
	}
	if cfg.Hyperparameters == (models.Hyperparameters{}) {
		cfg.Hyperparameters = models.DefaultHyperparameters()
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &JobManager{
		datasets: datasets,
		pipeline: pipeline,
		trainer:  trainer,
		store:    store,
		events:   noopEvents{},
		metrics:  metrics.Nop{},
		l:        l.Named("jobs"),
		cfg:      cfg,
		queue:    make(chan *jobTask, cfg.QueueSize),
		baseCtx:  ctx,
		stopAll:  cancel,
		active:   make(map[string]*jobTask),
		subs:     make(map[string][]chan models.TrainingJob),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start launches the workers. Jobs submitted earlier wait in the queue.
func (m *JobManager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.started = true
	for i := 0; i < m.cfg.Workers; i++ {
		m.wg.Add(1)
		go m.worker(i)
	}
	m.l.Info("job workers started", applogger.Int("workers", m.cfg.Workers), applogger.Int("queue", m.cfg.QueueSize))
}

// Stop refuses new jobs, cancels queued ones and waits for running jobs until
// ctx ends, after which running jobs are cancelled too.
func (m *JobManager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if m.stopping {
		m.mu.Unlock()
		return nil
	}
	m.stopping = true
	close(m.queue)
	started := m.started
	m.mu.Unlock()

	if !started {
		for t := range m.queue {
			m.finish(t, models.JobCancelled, "", errs.New(errs.KindTraining, errs.Cancelled, "shutting down"))
		}
		m.stopAll()
		return nil
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		m.stopAll()
		return nil
	case <-ctx.Done():
		m.l.Warn("job drain timed out, cancelling running jobs")
		m.stopAll()
		<-done
		return ctx.Err()
	}
}

// Submit validates cmd, records a queued job and enqueues it.
func (m *JobManager) Submit(ctx context.Context, cmd TrainCommand) (*models.TrainingJob, error) {
	if cmd.DatasetName == "" {
		return nil, errs.Config(errs.OutOfRange, "dataset_name is required")
	}
	if cmd.Horizon < 1 || cmd.Horizon > MaxHorizon {
		return nil, errs.Config(errs.OutOfRange, "n_days must be within [1,%d], got %d", MaxHorizon, cmd.Horizon)
	}
	if cmd.LookBack == 0 {
		cmd.LookBack = m.cfg.LookBack
	}
	if cmd.LookBack < 1 {
		return nil, errs.Config(errs.OutOfRange, "look_back must be >= 1, got %d", cmd.LookBack)
	}
	if cmd.TargetColumn == "" {
		cmd.TargetColumn = m.cfg.TargetColumn
	}

	var hp *models.Hyperparameters
	epochs := m.cfg.Hyperparameters.Epochs
	if len(cmd.Hyperparameters) > 0 {
		merged, err := models.MergeHyperparameters(m.cfg.Hyperparameters, cmd.Hyperparameters)
		if err != nil {
			return nil, err
		}
		hp = &merged
		epochs = merged.Epochs
	}

	ok, err := m.datasets.Exists(ctx, cmd.DatasetName)
	if err != nil {
		return nil, fmt.Errorf("check dataset %s: %w", cmd.DatasetName, err)
	}
	if !ok {
		return nil, errs.New(errs.KindDatasetNotFound, "", "dataset %s not found", cmd.DatasetName)
	}

	job := &models.TrainingJob{
		ID:           uuid.NewString(),
		DatasetName:  cmd.DatasetName,
		Horizon:      cmd.Horizon,
		LookBack:     cmd.LookBack,
		TargetColumn: cmd.TargetColumn,
		Status:       models.JobQueued,
		Epochs:       epochs,
		CreatedAt:    time.Now().UTC(),
	}
	if hp != nil {
		job.Hyperparameters = *hp
	} else {
		job.Hyperparameters = m.cfg.Hyperparameters
	}

	snap := *job
	m.save(&snap)

	jctx, cancel := context.WithCancel(m.baseCtx)
	task := &jobTask{job: job, hp: hp, ctx: jctx, cancel: cancel}

	m.mu.Lock()
	var rejected error
	if m.stopping {
		rejected = errs.New(errs.KindInternal, "", "job manager is shutting down").AsRetryable()
	} else {
		m.active[job.ID] = task
		select {
		case m.queue <- task:
		default:
			delete(m.active, job.ID)
			rejected = errs.New(errs.KindInternal, "", "training queue is full").AsRetryable()
		}
	}
	m.mu.Unlock()
	if rejected != nil {
		m.finish(task, models.JobFailed, "", rejected)
		return nil, rejected
	}

	m.l.Info("job submitted",
		applogger.JobID(job.ID),
		applogger.Dataset(job.DatasetName),
		applogger.Int("horizon", job.Horizon),
		applogger.Int("look_back", job.LookBack),
	)
	return &snap, nil
}

// Get returns the latest snapshot of a job.
func (m *JobManager) Get(ctx context.Context, jobID string) (*models.TrainingJob, error) {
	m.mu.Lock()
	if t, ok := m.active[jobID]; ok {
		snap := *t.job
		m.mu.Unlock()
		return &snap, nil
	}
	m.mu.Unlock()
	return m.store.Get(ctx, jobID)
}

// Cancel stops a queued or running job. Running jobs stop at the next epoch
// boundary. Cancelling a finished job returns it unchanged.
func (m *JobManager) Cancel(ctx context.Context, jobID string) (*models.TrainingJob, error) {
	m.mu.Lock()
	t, ok := m.active[jobID]
	if ok {
		t.cancel()
		if t.job.Status == models.JobQueued {
			m.mu.Unlock()
			m.finish(t, models.JobCancelled, "", errs.New(errs.KindTraining, errs.Cancelled, "cancelled before start"))
			return m.Get(ctx, jobID)
		}
		snap := *t.job
		m.mu.Unlock()
		m.l.Info("job cancel requested", applogger.JobID(jobID))
		return &snap, nil
	}
	m.mu.Unlock()

	job, err := m.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !job.Status.Terminal() {
		return nil, errs.Config(errs.OutOfRange, "job %s is not owned by this instance", jobID)
	}
	return job, nil
}

// Subscribe streams snapshots of jobID until it reaches a terminal status,
// after which the channel is closed. The returned func unsubscribes.
func (m *JobManager) Subscribe(jobID string) (<-chan models.TrainingJob, func()) {
	ch := make(chan models.TrainingJob, 16)
	m.mu.Lock()
	if _, ok := m.active[jobID]; !ok {
		m.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	m.subs[jobID] = append(m.subs[jobID], ch)
	m.mu.Unlock()

	return ch, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		list := m.subs[jobID]
		for i, c := range list {
			if c == ch {
				m.subs[jobID] = append(list[:i], list[i+1:]...)
				close(ch)
				return
			}
		}
	}
}

func (m *JobManager) worker(n int) {
	defer m.wg.Done()
	for t := range m.queue {
		m.mu.Lock()
		skip := t.job.Status.Terminal()
		stopping := m.stopping
		m.mu.Unlock()
		if skip {
			continue
		}
		if stopping || t.ctx.Err() != nil {
			m.finish(t, models.JobCancelled, "", errs.New(errs.KindTraining, errs.Cancelled, "job cancelled before start"))
			continue
		}
		m.run(t)
	}
	m.l.Debug("job worker exited", applogger.Int("worker", n))
}

func (m *JobManager) run(t *jobTask) {
	start := time.Now()
	now := start.UTC()
	m.update(t, func(j *models.TrainingJob) {
		j.Status = models.JobRunning
		j.StartedAt = &now
	})
	m.l.Info("job started", applogger.JobID(t.job.ID), applogger.Dataset(t.job.DatasetName))

	ctx := t.ctx
	if m.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.Timeout)
		defer cancel()
	}

	modelID, err := m.execute(ctx, t)
	switch {
	case err == nil:
		m.finish(t, models.JobSucceeded, modelID, nil)
		m.l.Info("job finished", applogger.JobID(t.job.ID), applogger.ModelID(modelID), applogger.Duration("duration_ms", time.Since(start)))
	case errors.Is(t.ctx.Err(), context.Canceled):
		m.finish(t, models.JobCancelled, "", errs.Wrap(errs.KindTraining, errs.Cancelled, err, "job cancelled"))
		m.l.Info("job cancelled", applogger.JobID(t.job.ID))
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		err = errs.Wrap(errs.KindTraining, errs.Timeout, err, "job exceeded %s", m.cfg.Timeout)
		m.finish(t, models.JobFailed, "", err)
		m.l.Warn("job timed out", applogger.JobID(t.job.ID), applogger.Error(err))
	default:
		m.finish(t, models.JobFailed, "", err)
		m.l.Warn("job failed", applogger.JobID(t.job.ID), applogger.Error(err))
	}
}

func (m *JobManager) execute(ctx context.Context, t *jobTask) (string, error) {
	job := t.job
	raw, err := m.datasets.Load(ctx, job.DatasetName)
	if err != nil {
		return "", fmt.Errorf("load dataset %s: %w", job.DatasetName, err)
	}
	ws, state, err := m.pipeline.Preprocess(raw, job.LookBack, job.Horizon, job.TargetColumn)
	if err != nil {
		return "", err
	}

	data := SplitWindows(ws, m.cfg.ValRatio)
	data.Scaler = state

	return m.trainer.Train(ctx, TrainRequest{
		DatasetName:     job.DatasetName,
		Horizon:         job.Horizon,
		Config:          ModelSpec{LookBack: job.LookBack, TargetColumn: ws.Target},
		Data:            data,
		Hyperparameters: t.hp,
		JobID:           job.ID,
		OnEpoch: func(em models.EpochMetrics) error {
			m.update(t, func(j *models.TrainingJob) {
				j.Epoch = em.Epoch
				if j.Epochs < em.Epoch {
					j.Epochs = em.Epoch
				}
				j.Progress = math.Min(1, float64(em.Epoch)/float64(j.Epochs))
				j.Loss = em.Loss
				j.ValLoss = em.ValLoss
			})
			m.l.Debug("job progress",
				applogger.JobID(job.ID),
				applogger.Int("epoch", em.Epoch),
				applogger.Float64("loss", em.Loss),
				applogger.Float64("val_loss", em.ValLoss),
			)
			return t.ctx.Err()
		},
	})
}

// SplitWindows splits ws chronologically: the last valRatio share of windows
// validates. With fewer than two windows every window is used for both.
func SplitWindows(ws features.WindowSet, valRatio float64) TrainingData {
	n := ws.N()
	d := TrainingData{Features: ws.Features}
	if n < 2 || valRatio <= 0 {
		d.XTrain, d.YTrain = ws.X, ws.Y
		if n < 2 {
			d.XVal, d.YVal = ws.X, ws.Y
		}
		return d
	}
	nVal := int(math.Round(float64(n) * valRatio))
	if nVal < 1 {
		nVal = 1
	}
	if nVal > n-1 {
		nVal = n - 1
	}
	cut := n - nVal
	d.XTrain, d.YTrain = ws.X[:cut], ws.Y[:cut]
	d.XVal, d.YVal = ws.X[cut:], ws.Y[cut:]
	return d
}

// update mutates the job under the lock, then persists and broadcasts it.
func (m *JobManager) update(t *jobTask, fn func(*models.TrainingJob)) {
	m.mu.Lock()
	if t.job.Status.Terminal() {
		m.mu.Unlock()
		return
	}
	fn(t.job)
	snap := *t.job
	m.broadcastLocked(snap)
	m.mu.Unlock()
	m.save(&snap)
}

func (m *JobManager) finish(t *jobTask, status models.JobStatus, modelID string, cause error) {
	m.mu.Lock()
	if t.job.Status.Terminal() {
		m.mu.Unlock()
		return
	}
	now := time.Now().UTC()
	t.job.Status = status
	t.job.FinishedAt = &now
	t.job.ModelID = modelID
	if status == models.JobSucceeded {
		t.job.Progress = 1
	}
	if cause != nil {
		t.job.Error = cause.Error()
		t.job.ErrorKind = string(errs.KindOf(cause))
	}
	snap := *t.job
	m.broadcastLocked(snap)
	delete(m.active, t.job.ID)
	m.mu.Unlock()

	t.cancel()
	m.save(&snap)
	m.metrics.RecordJob(string(status))
	if status == models.JobFailed {
		m.metrics.RecordError(snap.ErrorKind)
		if err := m.events.Publish(context.Background(), models.LifecycleEvent{
			Type:        models.EventModelFailed,
			JobID:       snap.ID,
			DatasetName: snap.DatasetName,
			Error:       snap.Error,
			At:          now,
		}); err != nil {
			m.l.Warn("lifecycle event not delivered", applogger.JobID(snap.ID), applogger.Error(err))
		}
	}
}

// broadcastLocked fans snap out to subscribers and closes them once the job
// is terminal. Slow subscribers miss intermediate snapshots.
func (m *JobManager) broadcastLocked(snap models.TrainingJob) {
	list := m.subs[snap.ID]
	for _, ch := range list {
		select {
		case ch <- snap:
		default:
			if snap.Status.Terminal() {
				// make room so the terminal snapshot is never lost
				select {
				case <-ch:
				default:
				}
				ch <- snap
			}
		}
		if snap.Status.Terminal() {
			close(ch)
		}
	}
	if snap.Status.Terminal() {
		delete(m.subs, snap.ID)
	}
}

func (m *JobManager) save(job *models.TrainingJob) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.store.Put(ctx, job, m.cfg.StatusTTL); err != nil {
		m.l.Warn("job status not persisted", applogger.JobID(job.ID), applogger.Error(err))
	}
}
