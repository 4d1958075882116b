package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"PriceCast/internal/domain/errs"
	"PriceCast/internal/domain/models"
	drepo "PriceCast/internal/domain/repository"
	"PriceCast/internal/domain/service"
	"PriceCast/internal/services/features"
	applogger "PriceCast/pkg/logger"
	"PriceCast/pkg/metrics"
	"PriceCast/pkg/util"
)

// MaxHorizon bounds n_days for training and prediction.
const MaxHorizon = 30

// TrainingData is the windowed, normalized input of one training run.
type TrainingData struct {
	XTrain   [][][]float64
	YTrain   [][]float64
	XVal     [][][]float64
	YVal     [][]float64
	Scaler   *models.ScalerState
	Features []string
}

// ModelSpec is the feature configuration a model is trained with. Target is
// the resolved column name as it appears in the scaler state.
type ModelSpec struct {
	LookBack     int
	TargetColumn string
}

// TrainRequest describes one training run. A nil Hyperparameters asks the
// tuner to pick them.
type TrainRequest struct {
	DatasetName     string
	Horizon         int
	Config          ModelSpec
	Data            TrainingData
	Hyperparameters *models.Hyperparameters
	OnEpoch         service.EpochFunc
	JobID           string
}

// LifecycleService trains, registers, serves and retires models. The catalog
// add is the commit point of training: an artifact without a record is an
// orphan that Reconcile removes.
type LifecycleService struct {
	pipeline  *features.Pipeline
	trainer   service.Trainer
	trainers  map[string]service.Trainer
	tuner     service.Tuner
	artifacts drepo.ArtifactStore
	catalog   drepo.MetadataCatalog
	events    drepo.EventPublisher
	metrics   drepo.Metrics
	cache     ModelCache
	l         *applogger.Logger

	retryAttempts int
	retryStep     time.Duration
	ioTimeout     time.Duration
	orphanGrace   time.Duration

	now   func() time.Time
	newID func() string
}

// ModelCache holds decoded models between predictions.
type ModelCache interface {
	Get(modelID string) (service.Model, bool)
	Put(modelID string, m service.Model)
	Invalidate(modelID string)
}

// LifecycleOption configures LifecycleService.
type LifecycleOption func(*LifecycleService)

// WithRetry bounds retries of transient artifact and catalog failures.
func WithRetry(attempts int, step time.Duration) LifecycleOption {
	return func(s *LifecycleService) {
		s.retryAttempts = attempts
		s.retryStep = step
	}
}

// WithOrphanGrace sets how long an artifact without a record is left alone by
// Reconcile. Another process may have saved it and not registered it yet. Zero
// removes every unregistered artifact.
func WithOrphanGrace(d time.Duration) LifecycleOption {
	return func(s *LifecycleService) { s.orphanGrace = d }
}

// WithIOTimeout bounds every single artifact or catalog call.
func WithIOTimeout(d time.Duration) LifecycleOption {
	return func(s *LifecycleService) { s.ioTimeout = d }
}

func WithEvents(p drepo.EventPublisher) LifecycleOption {
	return func(s *LifecycleService) { s.events = p }
}

func WithMetrics(m drepo.Metrics) LifecycleOption {
	return func(s *LifecycleService) { s.metrics = m }
}

func WithModelCache(c ModelCache) LifecycleOption {
	return func(s *LifecycleService) { s.cache = c }
}

// WithTrainers registers extra backends able to decode stored artifacts.
func WithTrainers(ts ...service.Trainer) LifecycleOption {
	return func(s *LifecycleService) {
		for _, t := range ts {
			s.trainers[t.Name()] = t
		}
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) LifecycleOption {
	return func(s *LifecycleService) { s.now = now }
}

// WithIDGenerator overrides model id generation, for tests.
func WithIDGenerator(fn func() string) LifecycleOption {
	return func(s *LifecycleService) { s.newID = fn }
}

func NewLifecycleService(
	pipeline *features.Pipeline,
	trainer service.Trainer,
	tuner service.Tuner,
	artifacts drepo.ArtifactStore,
	catalog drepo.MetadataCatalog,
	l *applogger.Logger,
	opts ...LifecycleOption,
) *LifecycleService {
	s := &LifecycleService{
		pipeline:      pipeline,
		trainer:       trainer,
		trainers:      map[string]service.Trainer{trainer.Name(): trainer},
		tuner:         tuner,
		artifacts:     artifacts,
		catalog:       catalog,
		events:        noopEvents{},
		metrics:       metrics.Nop{},
		l:             l.Named("lifecycle"),
		retryAttempts: 3,
		retryStep:     100 * time.Millisecond,
		ioTimeout:     10 * time.Second,
		orphanGrace:   time.Hour,
		now:           func() time.Time { return time.Now().UTC() },
		newID:         uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Train fits a model on req.Data and registers it. It returns the new model id
// only after both the artifact and its catalog record are durable.
func (s *LifecycleService) Train(ctx context.Context, req TrainRequest) (string, error) {
	start := time.Now()
	shape, err := s.checkTrainRequest(req)
	if err != nil {
		s.metrics.RecordError(string(errs.KindOf(err)))
		return "", err
	}

	modelID := s.newID()
	s.l.Info("training started",
		applogger.ModelID(modelID),
		applogger.Dataset(req.DatasetName),
		applogger.Int("horizon", req.Horizon),
		applogger.Int("look_back", shape.LookBack),
		applogger.Int("features", shape.Features),
		applogger.Int("train_windows", len(req.Data.XTrain)),
		applogger.Int("val_windows", len(req.Data.XVal)),
		applogger.String("backend", s.trainer.Name()),
	)

	set := service.TrainSet{XTrain: req.Data.XTrain, YTrain: req.Data.YTrain, XVal: req.Data.XVal, YVal: req.Data.YVal}

	var hp models.Hyperparameters
	if req.Hyperparameters != nil {
		hp = *req.Hyperparameters
		if err := hp.Validate(); err != nil {
			return "", err
		}
	} else {
		hp, err = s.tuner.Search(ctx, set, shape, req.Horizon)
		if err != nil {
			return "", s.trainingFailed(modelID, fmt.Errorf("tune hyperparameters: %w", err))
		}
	}
	s.l.Debug("hyperparameters selected", applogger.ModelID(modelID), applogger.Any("hyperparameters", hp))

	m, err := s.trainer.Build(shape, req.Horizon, hp)
	if err != nil {
		return "", s.trainingFailed(modelID, fmt.Errorf("build model: %w", err))
	}
	hist, err := s.trainer.Train(ctx, m, set, hp, req.OnEpoch)
	if err != nil {
		return "", s.trainingFailed(modelID, fmt.Errorf("train model: %w", err))
	}

	trainEval, err := s.trainer.Evaluate(m, set.XTrain, set.YTrain)
	if err != nil {
		return "", s.trainingFailed(modelID, fmt.Errorf("evaluate model: %w", err))
	}
	valEval := trainEval
	if len(set.XVal) > 0 {
		if valEval, err = s.trainer.Evaluate(m, set.XVal, set.YVal); err != nil {
			return "", s.trainingFailed(modelID, fmt.Errorf("evaluate model: %w", err))
		}
	}

	blob, err := s.trainer.Encode(m)
	if err != nil {
		return "", s.trainingFailed(modelID, fmt.Errorf("encode model: %w", err))
	}

	var location string
	err = s.withRetry(ctx, func(ctx context.Context) error {
		var serr error
		location, serr = s.artifacts.Save(ctx, modelID, blob)
		return serr
	})
	if err != nil {
		s.metrics.RecordError(string(errs.KindOf(err)))
		return "", fmt.Errorf("save artifact %s: %w", modelID, err)
	}

	final := hist.Final()
	if len(set.XVal) == 0 {
		final.ValLoss, final.ValMAE = final.Loss, final.MAE
	}
	trainedAt := s.now()
	rec := &models.ModelMetadataRecord{
		ModelID:         modelID,
		ModelName:       models.ModelNameFor(trainedAt),
		FilePath:        location,
		TrainingDate:    trainedAt,
		DatasetName:     req.DatasetName,
		NDays:           req.Horizon,
		Hyperparameters: hp.Map(),
		PerformanceMetrics: map[string]float64{
			"loss":     trainEval.Loss,
			"mae":      trainEval.MAE,
			"val_loss": valEval.Loss,
			"val_mae":  valEval.MAE,
		},
		ModelConfig: models.ModelConfig{
			LookBack:       shape.LookBack,
			NDays:          req.Horizon,
			TargetColumn:   req.Config.TargetColumn,
			InputShape:     shape.Slice(),
			OutputUnits:    req.Horizon,
			FeatureColumns: req.Data.Features,
			Backend:        s.trainer.Name(),
			Scaler:         req.Data.Scaler,
		},
		TrainingHistory: models.TrainingHistory{
			FinalLoss:    final.Loss,
			FinalValLoss: final.ValLoss,
			FinalMAE:     final.MAE,
			FinalValMAE:  final.ValMAE,
			Epochs:       len(hist.Epochs),
		},
	}

	if err := s.register(ctx, rec); err != nil {
		s.metrics.RecordError(string(errs.KindOf(err)))
		return "", fmt.Errorf("register model %s: %w", modelID, err)
	}

	s.metrics.RecordLatency("train", time.Since(start).Seconds())
	s.publish(ctx, models.LifecycleEvent{
		Type:        models.EventModelTrained,
		ModelID:     modelID,
		JobID:       req.JobID,
		DatasetName: req.DatasetName,
		At:          trainedAt,
	})
	s.l.Info("training finished",
		applogger.ModelID(modelID),
		applogger.Dataset(req.DatasetName),
		applogger.Int("epochs", len(hist.Epochs)),
		applogger.Float64("val_loss", valEval.Loss),
		applogger.Duration("duration_ms", time.Since(start)),
	)
	return modelID, nil
}

// register adds rec to the catalog. An Add may commit and still report an
// error, so a failure is followed by a lookup: a present record means the
// model is registered, and only a confirmed absence removes the artifact.
func (s *LifecycleService) register(ctx context.Context, rec *models.ModelMetadataRecord) error {
	addErr := s.withRetry(ctx, func(ctx context.Context) error {
		return s.catalog.Add(ctx, rec)
	})
	if addErr == nil {
		return nil
	}

	_, lookupErr := s.GetMetadata(context.Background(), rec.ModelID)
	switch {
	case lookupErr == nil:
		s.l.Warn("catalog add reported an error but the record is present",
			applogger.ModelID(rec.ModelID), applogger.Error(addErr))
		return nil
	case errs.KindOf(lookupErr) == errs.KindModelNotFound:
		if derr := s.artifacts.Delete(context.Background(), rec.ModelID); derr != nil {
			s.l.Error("compensating artifact delete failed, left for reconcile",
				applogger.ModelID(rec.ModelID), applogger.Error(derr))
		}
	default:
		s.l.Error("registration outcome unknown, artifact kept",
			applogger.ModelID(rec.ModelID), applogger.Error(lookupErr))
	}
	return addErr
}

func (s *LifecycleService) checkTrainRequest(req TrainRequest) (service.Shape, error) {
	if req.Horizon < 1 || req.Horizon > MaxHorizon {
		return service.Shape{}, errs.Config(errs.OutOfRange, "n_days must be within [1,%d], got %d", MaxHorizon, req.Horizon)
	}
	d := req.Data
	if len(d.XTrain) == 0 || len(d.XTrain) != len(d.YTrain) {
		return service.Shape{}, errs.Data(errs.NoTrainableData, "dataset %q has no training windows", req.DatasetName)
	}
	if len(d.XVal) != len(d.YVal) {
		return service.Shape{}, errs.Config(errs.OutOfRange, "validation inputs and targets differ in length: %d vs %d", len(d.XVal), len(d.YVal))
	}
	if len(d.XTrain[0]) == 0 || len(d.XTrain[0][0]) == 0 {
		return service.Shape{}, errs.Config(errs.OutOfRange, "training windows are empty")
	}
	shape := service.Shape{LookBack: len(d.XTrain[0]), Features: len(d.XTrain[0][0])}
	if req.Config.LookBack != 0 && req.Config.LookBack != shape.LookBack {
		return service.Shape{}, errs.Config(errs.OutOfRange, "look_back %d does not match window length %d", req.Config.LookBack, shape.LookBack)
	}
	if len(d.YTrain[0]) != req.Horizon {
		return service.Shape{}, errs.Config(errs.OutOfRange, "targets carry %d steps, n_days is %d", len(d.YTrain[0]), req.Horizon)
	}
	if req.Config.TargetColumn == "" {
		return service.Shape{}, errs.Config(errs.UnknownTarget, "target column is required")
	}
	return shape, nil
}

// trainingFailed keeps errors that already carry a kind and wraps the rest as
// TrainingError.
func (s *LifecycleService) trainingFailed(modelID string, err error) error {
	var de *errs.Error
	if !errors.As(err, &de) {
		err = errs.Wrap(errs.KindTraining, "", err, "training model %s failed", modelID)
	}
	s.metrics.RecordError(string(errs.KindOf(err)))
	s.l.Warn("training failed", applogger.ModelID(modelID), applogger.Error(err))
	return err
}

// Predict forecasts horizon steps after the last row of raw with the stored
// model. Features are rebuilt with the look_back, target and scaler persisted
// at training time.
func (s *LifecycleService) Predict(ctx context.Context, modelID string, raw *models.RawSeries, horizon int) ([]models.Prediction, error) {
	start := time.Now()
	rec, err := s.GetMetadata(ctx, modelID)
	if err != nil {
		return nil, err
	}
	cfg := rec.ModelConfig
	if horizon < 1 || horizon > cfg.OutputUnits {
		return nil, errs.Config(errs.OutOfRange, "n_days must be within [1,%d] for model %s, got %d", cfg.OutputUnits, modelID, horizon)
	}

	window, state, err := s.pipeline.LatestWindow(raw, cfg.LookBack, cfg.TargetColumn, cfg.Scaler)
	if err != nil {
		return nil, fmt.Errorf("prepare input for model %s: %w", modelID, err)
	}

	trainer := s.trainerFor(cfg.Backend)
	if trainer == nil {
		return nil, errs.New(errs.KindInternal, "", "model %s uses unknown backend %q", modelID, cfg.Backend)
	}
	m, err := s.loadModel(ctx, modelID, trainer)
	if err != nil {
		return nil, err
	}
	if got := m.Shape(); got.LookBack != len(window) || got.Features != len(window[0]) {
		return nil, errs.New(errs.KindInternal, "", "model %s expects input %dx%d, features give %dx%d",
			modelID, got.LookBack, got.Features, len(window), len(window[0]))
	}

	out, err := trainer.Predict(m, [][][]float64{window})
	if err != nil {
		return nil, errs.Wrap(errs.KindTraining, "", err, "predict with model %s", modelID)
	}
	values, err := features.InverseTransformTarget(out[0][:horizon], cfg.TargetColumn, state)
	if err != nil {
		return nil, fmt.Errorf("rescale prediction of model %s: %w", modelID, err)
	}

	last, _ := raw.LastTime()
	preds := make([]models.Prediction, horizon)
	for i, v := range values {
		preds[i] = models.Prediction{
			TargetOffsetDay: i + 1,
			TargetDate:      last.AddDate(0, 0, i+1),
			PredictedValue:  v,
		}
	}
	s.metrics.RecordPrediction(modelID, horizon)
	s.metrics.RecordLatency("predict", time.Since(start).Seconds())
	return preds, nil
}

func (s *LifecycleService) loadModel(ctx context.Context, modelID string, trainer service.Trainer) (service.Model, error) {
	if s.cache != nil {
		if m, ok := s.cache.Get(modelID); ok {
			return m, nil
		}
	}
	var blob []byte
	err := s.withRetry(ctx, func(ctx context.Context) error {
		var lerr error
		blob, lerr = s.artifacts.Load(ctx, modelID)
		return lerr
	})
	if err != nil {
		return nil, fmt.Errorf("load artifact %s: %w", modelID, err)
	}
	m, err := trainer.Decode(blob)
	if err != nil {
		return nil, fmt.Errorf("decode artifact %s: %w", modelID, err)
	}
	if s.cache != nil {
		s.cache.Put(modelID, m)
	}
	return m, nil
}

func (s *LifecycleService) trainerFor(backend string) service.Trainer {
	if backend == "" {
		return s.trainer
	}
	return s.trainers[backend]
}

// GetMetadata returns the record of modelID or a ModelNotFound error.
func (s *LifecycleService) GetMetadata(ctx context.Context, modelID string) (*models.ModelMetadataRecord, error) {
	var rec *models.ModelMetadataRecord
	err := s.withRetry(ctx, func(ctx context.Context) error {
		var gerr error
		rec, gerr = s.catalog.GetByID(ctx, modelID)
		return gerr
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *LifecycleService) ListMetadata(ctx context.Context, newestFirst bool) ([]*models.ModelMetadataRecord, error) {
	var recs []*models.ModelMetadataRecord
	err := s.withRetry(ctx, func(ctx context.Context) error {
		var lerr error
		recs, lerr = s.catalog.GetAll(ctx, models.ListOptions{SortByTrainingDateDesc: newestFirst})
		return lerr
	})
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	return recs, nil
}

// DeleteModel removes the record first, so the model stops being visible
// before its artifact goes away. A failed artifact delete leaves an orphan
// for Reconcile and is not reported.
func (s *LifecycleService) DeleteModel(ctx context.Context, modelID string) error {
	var found bool
	err := s.withRetry(ctx, func(ctx context.Context) error {
		var derr error
		found, derr = s.catalog.Delete(ctx, modelID)
		return derr
	})
	if err != nil {
		return fmt.Errorf("delete model %s: %w", modelID, err)
	}
	if !found {
		return errs.New(errs.KindModelNotFound, "", "model %s not found", modelID)
	}
	if s.cache != nil {
		s.cache.Invalidate(modelID)
	}
	if err := s.withRetry(ctx, func(ctx context.Context) error { return s.artifacts.Delete(ctx, modelID) }); err != nil {
		s.l.Warn("artifact delete failed, left for reconcile", applogger.ModelID(modelID), applogger.Error(err))
	}
	s.publish(ctx, models.LifecycleEvent{Type: models.EventModelDeleted, ModelID: modelID, At: s.now()})
	return nil
}

// UpdatePerformance merges metrics into the record's performance_metrics.
func (s *LifecycleService) UpdatePerformance(ctx context.Context, modelID string, perf map[string]float64) error {
	var found bool
	err := s.withRetry(ctx, func(ctx context.Context) error {
		var uerr error
		found, uerr = s.catalog.Update(ctx, modelID, models.RecordPatch{PerformanceMetrics: perf})
		return uerr
	})
	if err != nil {
		return fmt.Errorf("update model %s: %w", modelID, err)
	}
	if !found {
		return errs.New(errs.KindModelNotFound, "", "model %s not found", modelID)
	}
	return nil
}

// Reconcile deletes artifacts that have no catalog record and are older than
// the orphan grace, and reports how many were removed. Each candidate is
// looked up again right before its delete.
func (s *LifecycleService) Reconcile(ctx context.Context) (int, error) {
	ids, err := s.artifacts.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("reconcile: %w", err)
	}
	recs, err := s.ListMetadata(ctx, false)
	if err != nil {
		return 0, fmt.Errorf("reconcile: %w", err)
	}
	known := make(map[string]struct{}, len(recs))
	for _, r := range recs {
		known[r.ModelID] = struct{}{}
	}
	now := s.now()
	removed := 0
	for _, id := range ids {
		if _, ok := known[id]; ok {
			continue
		}
		if s.orphanGrace > 0 {
			at, err := s.artifacts.SavedAt(ctx, id)
			if err != nil {
				if errs.KindOf(err) != errs.KindArtifactNotFound {
					s.l.Warn("orphan artifact age unknown, kept", applogger.ModelID(id), applogger.Error(err))
				}
				continue
			}
			if age := now.Sub(at); age < s.orphanGrace {
				s.l.Debug("recent unregistered artifact kept",
					applogger.ModelID(id), applogger.Duration("age", age))
				continue
			}
		}
		if _, err := s.catalog.GetByID(ctx, id); errs.KindOf(err) != errs.KindModelNotFound {
			if err != nil {
				s.l.Warn("orphan check failed, artifact kept", applogger.ModelID(id), applogger.Error(err))
			}
			continue
		}
		if err := s.artifacts.Delete(ctx, id); err != nil {
			s.l.Warn("orphan artifact delete failed", applogger.ModelID(id), applogger.Error(err))
			continue
		}
		removed++
		s.l.Info("orphan artifact removed", applogger.ModelID(id))
	}
	return removed, nil
}

func (s *LifecycleService) withRetry(ctx context.Context, fn func(context.Context) error) error {
	return util.Retry(ctx, s.retryAttempts, s.retryStep, errs.IsRetryable, func(ctx context.Context) error {
		if s.ioTimeout <= 0 {
			return fn(ctx)
		}
		ctx, cancel := context.WithTimeout(ctx, s.ioTimeout)
		defer cancel()
		err := fn(ctx)
		if errors.Is(err, context.DeadlineExceeded) {
			return errs.Wrap(errs.KindInternal, errs.Timeout, err, "storage call timed out").AsRetryable()
		}
		return err
	})
}

func (s *LifecycleService) publish(ctx context.Context, ev models.LifecycleEvent) {
	if err := s.events.Publish(ctx, ev); err != nil {
		s.l.Warn("lifecycle event not delivered", applogger.String("type", string(ev.Type)), applogger.Error(err))
	}
}

type noopEvents struct{}

func (noopEvents) Publish(context.Context, models.LifecycleEvent) error { return nil }
func (noopEvents) Close() error                                         { return nil }
