package di

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/labstack/echo/v4"

	"PriceCast/internal/domain/models"
	"PriceCast/internal/domain/repository"
	"PriceCast/internal/domain/service"
	"PriceCast/internal/handler/api"
	internalrepo "PriceCast/internal/repository"
	modelcache "PriceCast/internal/service/cache"
	"PriceCast/internal/service/ratelimit"
	"PriceCast/internal/services/features"
	"PriceCast/internal/services/training"
	"PriceCast/internal/usecase"
	"PriceCast/pkg/cache"
	pkgch "PriceCast/pkg/clickhouse"
	"PriceCast/pkg/config"
	xhttp "PriceCast/pkg/http"
	"PriceCast/pkg/http/middleware"
	pkgkafka "PriceCast/pkg/kafka"
	applogger "PriceCast/pkg/logger"
	"PriceCast/pkg/metrics"
	"PriceCast/pkg/server"
)

// Version is reported by /api/status.
var Version = "dev"

// ProvideLogger creates the root logger from the log section.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	l, err := applogger.New(&cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l, nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New(nil)
}

// ProvideCache returns Redis when enabled, otherwise an in-process cache.
func ProvideCache(cfg *config.Config) (cache.Service, error) {
	if !cfg.Redis.Enabled {
		return cache.NewMemoryCache(), nil
	}
	c, err := cache.NewRedisCache(
		cache.WithRedisAddr(cfg.Redis.Addr),
		cache.WithRedisPassword(cfg.Redis.Password),
		cache.WithRedisDB(cfg.Redis.DB),
		cache.WithRedisPrefix(cfg.Redis.Prefix),
	)
	if err != nil {
		return nil, fmt.Errorf("redis cache: %w", err)
	}
	return c, nil
}

// ProvideArtifactStore picks the artifact backend.
func ProvideArtifactStore(cfg *config.Config, l *applogger.Logger) (repository.ArtifactStore, error) {
	switch cfg.Storage.ArtifactBackend {
	case "badger":
		return internalrepo.NewBadgerArtifactStore(cfg.Storage.ArtifactDir, l)
	default:
		return internalrepo.NewFSArtifactStore(cfg.Storage.ArtifactDir, l)
	}
}

// ProvideCatalog picks the catalog backend. The JSON catalog takes a Redis
// lock around writes when Redis is enabled so several processes can share it.
func ProvideCatalog(cfg *config.Config, c cache.Service, l *applogger.Logger) (repository.MetadataCatalog, error) {
	switch cfg.Storage.CatalogBackend {
	case "sqlite":
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return internalrepo.NewSQLiteCatalog(ctx, cfg.Storage.CatalogPath, l)
	default:
		var opts []internalrepo.JSONCatalogOption
		if cfg.Redis.Enabled {
			opts = append(opts,
				internalrepo.WithDistributedLock(c, cfg.Storage.LockTTL),
				internalrepo.WithLockRetry(cfg.Storage.RetryAttempts, cfg.Storage.RetryBackoff),
			)
		}
		return internalrepo.NewJSONCatalog(cfg.Storage.CatalogPath, l, opts...)
	}
}

// ProvideClickHouseClient connects to ClickHouse when datasets live there and
// returns nil otherwise.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if cfg.Datasets.Backend != "clickhouse" {
		return nil, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.InitSchema(ctx, []string{
		fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", cfg.ClickHouse.Database),
	}); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return client, nil
}

// ProvideDatasetStore picks the dataset backend.
func ProvideDatasetStore(cfg *config.Config, ch *pkgch.Client, c cache.Service, l *applogger.Logger) (repository.DatasetStore, error) {
	if cfg.Datasets.Backend == "clickhouse" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		table := cfg.ClickHouse.Database + "." + cfg.ClickHouse.Table
		var opts []internalrepo.ClickHouseDatasetOption
		if cfg.Redis.Enabled {
			opts = append(opts, internalrepo.WithCreateLock(c, cfg.Storage.LockTTL))
		}
		return internalrepo.NewClickHouseDatasetStore(ctx, ch, table, l, opts...)
	}
	return internalrepo.NewCSVDatasetStore(filepath.Clean(cfg.Datasets.Dir), l)
}

// ProvideJobStore keeps job snapshots in Redis or in process memory.
func ProvideJobStore(cfg *config.Config, c cache.Service) repository.JobStore {
	if cfg.Jobs.Store == "redis" {
		return internalrepo.NewCacheJobStore(c)
	}
	return internalrepo.NewCacheJobStore(cache.NewMemoryCache())
}

// ProvideKafkaProducer creates a Kafka producer, or nil when Kafka is off.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers, cfg.Kafka.Topic),
		pkgkafka.WithDelivery(cfg.Kafka.RequiredAcks, cfg.Kafka.Producer.MaxAttempts, cfg.Kafka.Compression),
		pkgkafka.WithBatching(cfg.Kafka.Producer.BatchSize, cfg.Kafka.Producer.BatchBytes, cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithKeyOrdering(),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideEventPublisher publishes lifecycle events to Kafka when a producer
// exists.
func ProvideEventPublisher(cfg *config.Config, producer *pkgkafka.Producer, l *applogger.Logger) repository.EventPublisher {
	if producer == nil {
		return internalrepo.NoopEventPublisher{}
	}
	return internalrepo.NewKafkaEventPublisher(producer, cfg.Kafka.Topic, l)
}

func defaultHyperparameters(cfg *config.Config) models.Hyperparameters {
	hp := cfg.Training.Hyperparameters
	return models.Hyperparameters{
		LearningRate: hp.LearningRate,
		HiddenUnits:  hp.HiddenUnits,
		DropoutRate:  hp.DropoutRate,
		Epochs:       hp.Epochs,
		BatchSize:    hp.BatchSize,
		Seed:         cfg.Training.Seed,
	}
}

// ProvideTrainer returns the configured training backend.
func ProvideTrainer(cfg *config.Config) (service.Trainer, error) {
	return training.NewTrainer(cfg.Training.Backend)
}

// ProvideTuner returns the configured hyperparameter search.
func ProvideTuner(cfg *config.Config, trainer service.Trainer) (service.Tuner, error) {
	return training.NewTuner(cfg.Training.Tuner, trainer, defaultHyperparameters(cfg),
		cfg.Training.TunerTrials, cfg.Training.TunerEpochs, cfg.Training.Seed)
}

func ProvidePipeline() *features.Pipeline {
	return features.NewPipeline()
}

// ProvideLifecycleService wires the registry. Every backend is registered so
// artifacts trained under another backend setting still load.
func ProvideLifecycleService(
	cfg *config.Config,
	pipeline *features.Pipeline,
	trainer service.Trainer,
	tuner service.Tuner,
	artifacts repository.ArtifactStore,
	catalog repository.MetadataCatalog,
	events repository.EventPublisher,
	m repository.Metrics,
	l *applogger.Logger,
) *usecase.LifecycleService {
	opts := []usecase.LifecycleOption{
		usecase.WithRetry(cfg.Storage.RetryAttempts, cfg.Storage.RetryBackoff),
		usecase.WithIOTimeout(cfg.Storage.IOTimeout),
		usecase.WithOrphanGrace(cfg.Storage.OrphanGrace),
		usecase.WithEvents(events),
		usecase.WithMetrics(m),
		usecase.WithTrainers(training.NewMLPTrainer(), training.NewLinearTrainer()),
	}
	if cfg.Storage.ModelCacheSize > 0 {
		opts = append(opts, usecase.WithModelCache(modelcache.NewModelCache(cfg.Storage.ModelCacheSize, cfg.Storage.ModelCacheTTL)))
	}
	return usecase.NewLifecycleService(pipeline, trainer, tuner, artifacts, catalog, l, opts...)
}

// ProvideJobManager creates the training worker pool.
func ProvideJobManager(
	cfg *config.Config,
	datasets repository.DatasetStore,
	pipeline *features.Pipeline,
	lifecycle *usecase.LifecycleService,
	store repository.JobStore,
	events repository.EventPublisher,
	m repository.Metrics,
	l *applogger.Logger,
) *usecase.JobManager {
	return usecase.NewJobManager(datasets, pipeline, lifecycle, store, usecase.JobConfig{
		Workers:         cfg.Training.Workers,
		QueueSize:       cfg.Training.QueueSize,
		Timeout:         cfg.Training.Timeout,
		StatusTTL:       cfg.Jobs.TTL,
		ValRatio:        cfg.Training.ValRatio,
		LookBack:        cfg.Training.LookBack,
		TargetColumn:    cfg.Training.TargetColumn,
		Hyperparameters: defaultHyperparameters(cfg),
	}, l, usecase.WithJobEvents(events), usecase.WithJobMetrics(m))
}

func ProvideDatasetService(store repository.DatasetStore, l *applogger.Logger) *usecase.DatasetService {
	return usecase.NewDatasetService(store, l)
}

// ProvideHTTPServer registers every API handler on one Echo server.
func ProvideHTTPServer(
	cfg *config.Config,
	lifecycle *usecase.LifecycleService,
	jobs *usecase.JobManager,
	datasets *usecase.DatasetService,
	l *applogger.Logger,
) *xhttp.Server {
	var submit []echo.MiddlewareFunc
	if rl := cfg.Server.TrainRateLimit; rl.Burst > 0 {
		submit = append(submit, middleware.RateLimit(ratelimit.New(rl.Burst, rl.PerSecond), l.Named("ratelimit")))
	}
	router := api.NewRouter(
		api.NewStatusEchoHandler(Version),
		api.NewModelEchoHandler(l, lifecycle, datasets),
		api.NewTrainingEchoHandler(l, jobs, submit...),
		api.NewDataEchoHandler(l, datasets),
	)
	opts := []xhttp.ServerOption{
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithMetrics(cfg.Metrics.Enabled, cfg.Metrics.SlowRequest),
	}
	if len(cfg.Server.CORSOrigins) > 0 {
		opts = append(opts, xhttp.WithCORSOrigins(cfg.Server.CORSOrigins))
	}
	return xhttp.NewServer(router, l, opts...)
}

// ProvideApp creates the application server. Resources close in reverse
// order of the list below.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	lifecycle *usecase.LifecycleService,
	jobs *usecase.JobManager,
	srv *xhttp.Server,
	c cache.Service,
	ch *pkgch.Client,
	artifacts repository.ArtifactStore,
	catalog repository.MetadataCatalog,
	datasets repository.DatasetStore,
	events repository.EventPublisher,
) *server.App {
	closers := []server.Closer{
		{Name: "cache", Close: c.Close},
		{Name: "artifacts", Close: artifacts.Close},
		{Name: "catalog", Close: catalog.Close},
		{Name: "datasets", Close: datasets.Close},
		{Name: "events", Close: events.Close},
	}
	if ch != nil {
		closers = append([]server.Closer{{Name: "clickhouse", Close: ch.Close}}, closers...)
	}
	return server.New(cfg, l, lifecycle, jobs, srv, closers...)
}
