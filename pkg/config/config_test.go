package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())
	assert.Equal(t, 5, c.Training.LookBack)
	assert.Equal(t, "close", c.Training.TargetColumn)
	assert.Equal(t, 0.001, c.Training.Hyperparameters.LearningRate)
	assert.Equal(t, 64, c.Training.Hyperparameters.HiddenUnits)
	assert.Equal(t, 30, c.Training.Hyperparameters.Epochs)
	assert.Equal(t, 30*time.Minute, c.Training.Timeout)
}

func TestParseOverridesDefaults(t *testing.T) {
	c, err := Parse([]byte(`
environment: test
storage:
  artifact_backend: badger
  catalog_backend: sqlite
training:
  look_back: 10
  backend: linear
`))
	require.NoError(t, err)
	assert.Equal(t, "badger", c.Storage.ArtifactBackend)
	assert.Equal(t, "sqlite", c.Storage.CatalogBackend)
	assert.Equal(t, 10, c.Training.LookBack)
	assert.Equal(t, "linear", c.Training.Backend)
	assert.Equal(t, 8000, c.Server.Port)
}

func TestParseRejectsUnknownBackend(t *testing.T) {
	_, err := Parse([]byte("storage:\n  artifact_backend: s3\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage.artifact_backend")
}

func TestRedisJobStoreRequiresRedis(t *testing.T) {
	_, err := Parse([]byte("jobs:\n  store: redis\n"))
	require.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	c := Default()
	env := map[string]string{
		"PRICECAST_PORT":          "9001",
		"PRICECAST_KAFKA_BROKERS": "a:9092,b:9092",
		"PRICECAST_ARTIFACT_DIR":  "/tmp/models",
	}
	require.NoError(t, c.applyEnv(func(k string) string { return env[k] }))
	assert.Equal(t, 9001, c.Server.Port)
	assert.True(t, c.Kafka.Enabled)
	assert.Equal(t, []string{"a:9092", "b:9092"}, c.Kafka.Brokers)
	assert.Equal(t, "/tmp/models", c.Storage.ArtifactDir)

	bad := Default()
	require.Error(t, bad.applyEnv(func(k string) string {
		if k == "PRICECAST_PORT" {
			return "abc"
		}
		return ""
	}))
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("environment: staging\n"), 0o644))
	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "staging", c.Environment)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestShippedConfigLoads(t *testing.T) {
	c, err := Load(filepath.Join("..", "..", "config", "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "development", c.Environment)
	assert.Equal(t, "data/processed_data", c.Datasets.Dir)
	assert.Equal(t, 2*time.Second, c.Metrics.SlowRequest)
	assert.False(t, c.Kafka.Enabled)
}
