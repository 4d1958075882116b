package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"

	"PriceCast/pkg/logger"
)

type Config struct {
	Environment string `yaml:"environment" default:"development"`
	Server      struct {
		Port            int           `yaml:"port" default:"8000"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"30s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"60s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
		CORSOrigins     []string      `yaml:"cors_origins"`
		TrainRateLimit  struct {
			Burst     float64 `yaml:"burst" default:"10"` // 0 disables
			PerSecond float64 `yaml:"per_second" default:"0.2"`
		} `yaml:"train_rate_limit"`
	} `yaml:"server"`
	Metrics struct {
		Enabled     bool          `yaml:"enabled" default:"true"`
		SlowRequest time.Duration `yaml:"slow_request" default:"2s"`
	} `yaml:"metrics"`
	Log     logger.Config `yaml:"log"`
	Storage struct {
		ArtifactBackend string        `yaml:"artifact_backend" default:"fs"` // fs or badger
		ArtifactDir     string        `yaml:"artifact_dir" default:"models"`
		CatalogBackend  string        `yaml:"catalog_backend" default:"json"` // json or sqlite
		CatalogPath     string        `yaml:"catalog_path" default:"models/metadata.json"`
		IOTimeout       time.Duration `yaml:"io_timeout" default:"10s"`
		RetryAttempts   int           `yaml:"retry_attempts" default:"3"`
		RetryBackoff    time.Duration `yaml:"retry_backoff" default:"100ms"`
		LockTTL         time.Duration `yaml:"lock_ttl" default:"10s"`
		OrphanGrace     time.Duration `yaml:"orphan_grace" default:"1h"`     // unregistered artifacts younger than this survive reconcile
		ModelCacheSize  int           `yaml:"model_cache_size" default:"32"` // 0 disables
		ModelCacheTTL   time.Duration `yaml:"model_cache_ttl" default:"30m"`
	} `yaml:"storage"`
	Datasets struct {
		Backend string `yaml:"backend" default:"csv"` // csv or clickhouse
		Dir     string `yaml:"dir" default:"data"`
	} `yaml:"datasets"`
	Training struct {
		LookBack        int           `yaml:"look_back" default:"5"`
		TargetColumn    string        `yaml:"target_column" default:"close"`
		ValRatio        float64       `yaml:"val_ratio" default:"0.2"`
		Backend         string        `yaml:"backend" default:"mlp"` // mlp or linear
		Tuner           string        `yaml:"tuner" default:"fixed"` // fixed or random
		TunerTrials     int           `yaml:"tuner_trials" default:"5"`
		TunerEpochs     int           `yaml:"tuner_epochs" default:"5"`
		Seed            int64         `yaml:"seed" default:"42"`
		Workers         int           `yaml:"workers" default:"2"`
		QueueSize       int           `yaml:"queue_size" default:"16"`
		Timeout         time.Duration `yaml:"timeout" default:"30m"`
		Hyperparameters struct {
			LearningRate float64 `yaml:"learning_rate" default:"0.001"`
			HiddenUnits  int     `yaml:"lstm_units" default:"64"`
			DropoutRate  float64 `yaml:"dropout_rate" default:"0.3"`
			Epochs       int     `yaml:"epochs" default:"30"`
			BatchSize    int     `yaml:"batch_size" default:"32"`
		} `yaml:"hyperparameters"`
	} `yaml:"training"`
	Jobs struct {
		Store string        `yaml:"store" default:"memory"` // memory or redis
		TTL   time.Duration `yaml:"ttl" default:"24h"`
	} `yaml:"jobs"`
	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Addr     string `yaml:"addr" default:"localhost:6379"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Prefix   string `yaml:"prefix" default:"pricecast:"`
	} `yaml:"redis"`
	Kafka struct {
		Enabled      bool     `yaml:"enabled"`
		Brokers      []string `yaml:"brokers"`
		Topic        string   `yaml:"topic" default:"pricecast.model-events"`
		RequiredAcks int      `yaml:"required_acks" default:"1"`
		Compression  string   `yaml:"compression" default:"snappy"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"3"`
			Linger       time.Duration `yaml:"linger" default:"10ms"`
			BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
			BatchSize    int           `yaml:"batch_size" default:"100"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Host             string        `yaml:"host" default:"localhost"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"pricecast"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		Table            string        `yaml:"table" default:"dataset_bars"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"30s"`
		WriteTimeout     time.Duration `yaml:"write_timeout" default:"30s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"60s"`
	} `yaml:"clickhouse"`
}

// Default returns a configuration populated from the struct defaults only.
func Default() *Config {
	var c Config
	if err := defaults.Set(&c); err != nil {
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	return &c
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse decodes YAML bytes on top of the defaults and validates the result.
func Parse(b []byte) (*Config, error) {
	c := Default()
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
// An empty path yields the defaults.
func LoadWithEnv(path string) (*Config, error) {
	var (
		c   *Config
		err error
	)
	if path == "" {
		c = Default()
	} else if c, err = Load(path); err != nil {
		return nil, err
	}

	if err := c.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	str := map[string]*string{
		"PRICECAST_ENV":              &c.Environment,
		"PRICECAST_LOG_LEVEL":        &c.Log.Level,
		"PRICECAST_ARTIFACT_BACKEND": &c.Storage.ArtifactBackend,
		"PRICECAST_ARTIFACT_DIR":     &c.Storage.ArtifactDir,
		"PRICECAST_CATALOG_BACKEND":  &c.Storage.CatalogBackend,
		"PRICECAST_CATALOG_PATH":     &c.Storage.CatalogPath,
		"PRICECAST_DATASET_BACKEND":  &c.Datasets.Backend,
		"PRICECAST_DATASET_DIR":      &c.Datasets.Dir,
		"PRICECAST_TRAINING_BACKEND": &c.Training.Backend,
		"PRICECAST_JOB_STORE":        &c.Jobs.Store,
		"PRICECAST_REDIS_ADDR":       &c.Redis.Addr,
		"PRICECAST_KAFKA_TOPIC":      &c.Kafka.Topic,
		"PRICECAST_CLICKHOUSE_HOST":  &c.ClickHouse.Host,
	}
	for key, dst := range str {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	if v := getenv("PRICECAST_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PRICECAST_PORT: %w", err)
		}
		c.Server.Port = port
	}
	if v := getenv("PRICECAST_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PRICECAST_WORKERS: %w", err)
		}
		c.Training.Workers = n
	}
	if v := getenv("PRICECAST_KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
		c.Kafka.Enabled = true
	}
	if v := getenv("PRICECAST_REDIS_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("PRICECAST_REDIS_ENABLED: %w", err)
		}
		c.Redis.Enabled = b
	}
	return nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if err := oneOf("storage.artifact_backend", c.Storage.ArtifactBackend, "fs", "badger"); err != nil {
		return err
	}
	if err := oneOf("storage.catalog_backend", c.Storage.CatalogBackend, "json", "sqlite"); err != nil {
		return err
	}
	if err := oneOf("datasets.backend", c.Datasets.Backend, "csv", "clickhouse"); err != nil {
		return err
	}
	if err := oneOf("training.backend", c.Training.Backend, "mlp", "linear"); err != nil {
		return err
	}
	if err := oneOf("training.tuner", c.Training.Tuner, "fixed", "random"); err != nil {
		return err
	}
	if err := oneOf("jobs.store", c.Jobs.Store, "memory", "redis"); err != nil {
		return err
	}
	if c.Storage.ArtifactDir == "" {
		return fmt.Errorf("storage.artifact_dir is required")
	}
	if c.Storage.CatalogPath == "" {
		return fmt.Errorf("storage.catalog_path is required")
	}
	if c.Storage.RetryAttempts < 1 {
		return fmt.Errorf("storage.retry_attempts must be >= 1")
	}
	if c.Storage.OrphanGrace < 0 {
		return fmt.Errorf("storage.orphan_grace must be >= 0")
	}
	if c.Storage.ModelCacheSize < 0 {
		return fmt.Errorf("storage.model_cache_size must be >= 0")
	}
	if c.Server.TrainRateLimit.Burst < 0 || c.Server.TrainRateLimit.PerSecond < 0 {
		return fmt.Errorf("server.train_rate_limit values must be >= 0")
	}
	if c.Training.LookBack < 1 {
		return fmt.Errorf("training.look_back must be >= 1")
	}
	if c.Training.TargetColumn == "" {
		return fmt.Errorf("training.target_column is required")
	}
	if c.Training.ValRatio <= 0 || c.Training.ValRatio >= 1 {
		return fmt.Errorf("training.val_ratio must be in (0,1), got %v", c.Training.ValRatio)
	}
	if c.Training.Workers < 1 {
		return fmt.Errorf("training.workers must be >= 1")
	}
	if c.Training.QueueSize < 1 {
		return fmt.Errorf("training.queue_size must be >= 1")
	}
	if c.Jobs.Store == "redis" && !c.Redis.Enabled {
		return fmt.Errorf("jobs.store=redis requires redis.enabled")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled")
	}
	return nil
}

func oneOf(field, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("%s must be one of %s, got '%s'", field, strings.Join(allowed, "|"), value)
}
