package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PriceCast/internal/domain/errs"
	"PriceCast/internal/domain/models"
	domrepo "PriceCast/internal/domain/repository"
	"PriceCast/pkg/cache"
	applogger "PriceCast/pkg/logger"
)

func record(id string, at time.Time) *models.ModelMetadataRecord {
	return &models.ModelMetadataRecord{
		ModelID:            id,
		ModelName:          models.ModelNameFor(at),
		TrainingDate:       at,
		DatasetName:        "btc",
		NDays:              3,
		Hyperparameters:    models.DefaultHyperparameters().Map(),
		PerformanceMetrics: map[string]float64{"loss": 0.1},
		ModelConfig:        models.ModelConfig{LookBack: 5, NDays: 3, TargetColumn: "close", OutputUnits: 3},
	}
}

func catalogs(t *testing.T) map[string]domrepo.MetadataCatalog {
	t.Helper()
	dir := t.TempDir()
	j, err := NewJSONCatalog(filepath.Join(dir, "metadata.json"), applogger.Nop())
	require.NoError(t, err)
	s, err := NewSQLiteCatalog(context.Background(), filepath.Join(dir, "catalog.db"), applogger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return map[string]domrepo.MetadataCatalog{"json": j, "sqlite": s}
}

func TestCatalogCRUD(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for name, c := range catalogs(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, c.Add(ctx, record("a", base)))
			require.NoError(t, c.Add(ctx, record("b", base.Add(time.Hour))))
			require.NoError(t, c.Add(ctx, record("c", base.Add(-time.Hour))))

			err := c.Add(ctx, record("a", base))
			assert.ErrorIs(t, err, errs.KindCatalogWriteConflict)

			got, err := c.GetByID(ctx, "b")
			require.NoError(t, err)
			assert.Equal(t, "btc", got.DatasetName)
			assert.True(t, got.TrainingDate.Equal(base.Add(time.Hour)))

			_, err = c.GetByID(ctx, "zzz")
			assert.ErrorIs(t, err, errs.KindModelNotFound)

			all, err := c.GetAll(ctx, models.ListOptions{})
			require.NoError(t, err)
			assert.Equal(t, []string{"a", "b", "c"}, ids(all))

			sorted, err := c.GetAll(ctx, models.ListOptions{SortByTrainingDateDesc: true})
			require.NoError(t, err)
			assert.Equal(t, []string{"b", "a", "c"}, ids(sorted))

			newName := "renamed"
			ok, err := c.Update(ctx, "a", models.RecordPatch{
				ModelName:          &newName,
				PerformanceMetrics: map[string]float64{"mae": 0.2},
			})
			require.NoError(t, err)
			assert.True(t, ok)
			got, err = c.GetByID(ctx, "a")
			require.NoError(t, err)
			assert.Equal(t, "renamed", got.ModelName)
			assert.InDelta(t, 0.2, got.PerformanceMetrics["mae"], 1e-12)

			ok, err = c.Update(ctx, "missing", models.RecordPatch{ModelName: &newName})
			require.NoError(t, err)
			assert.False(t, ok)

			ok, err = c.Delete(ctx, "a")
			require.NoError(t, err)
			assert.True(t, ok)
			ok, err = c.Delete(ctx, "a")
			require.NoError(t, err)
			assert.False(t, ok)

			all, err = c.GetAll(ctx, models.ListOptions{})
			require.NoError(t, err)
			assert.Equal(t, []string{"b", "c"}, ids(all))
		})
	}
}

func TestCatalogConcurrentAdds(t *testing.T) {
	ctx := context.Background()
	for name, c := range catalogs(t) {
		t.Run(name, func(t *testing.T) {
			var wg sync.WaitGroup
			for i := 0; i < 16; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					assert.NoError(t, c.Add(ctx, record(fmt.Sprintf("m%02d", i), time.Now())))
				}(i)
			}
			wg.Wait()
			all, err := c.GetAll(ctx, models.ListOptions{})
			require.NoError(t, err)
			assert.Len(t, all, 16)
		})
	}
}

func TestJSONCatalogDocumentFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "models", "metadata.json")
	c, err := NewJSONCatalog(path, applogger.Nop())
	require.NoError(t, err)
	require.NoError(t, c.Add(context.Background(), record("a", time.Now().UTC())))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), "\n    {")
	var doc []map[string]interface{}
	require.NoError(t, json.Unmarshal(b, &doc))
	require.Len(t, doc, 1)
	assert.Equal(t, "a", doc[0]["model_id"])
}

func TestJSONCatalogSeesWritesFromAnotherInstance(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "metadata.json")
	shared := cache.NewMemoryCache()
	defer shared.Close()

	c1, err := NewJSONCatalog(path, applogger.Nop(), WithDistributedLock(shared, time.Second))
	require.NoError(t, err)
	c2, err := NewJSONCatalog(path, applogger.Nop(), WithDistributedLock(shared, time.Second))
	require.NoError(t, err)

	require.NoError(t, c1.Add(ctx, record("a", time.Now())))
	require.NoError(t, c2.Add(ctx, record("b", time.Now())))

	all, err := c1.GetAll(ctx, models.ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids(all))
}

func TestJSONCatalogLockConflict(t *testing.T) {
	ctx := context.Background()
	shared := cache.NewMemoryCache()
	defer shared.Close()

	c, err := NewJSONCatalog(filepath.Join(t.TempDir(), "metadata.json"), applogger.Nop(),
		WithDistributedLock(shared, time.Minute),
		WithLockRetry(3, time.Millisecond),
	)
	require.NoError(t, err)

	ok, err := shared.TryLock(ctx, c.lockKey, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	err = c.Add(ctx, record("a", time.Now()))
	assert.ErrorIs(t, err, errs.KindCatalogWriteConflict)
	assert.True(t, errs.IsRetryable(err))

	require.NoError(t, shared.Unlock(ctx, c.lockKey))
	require.NoError(t, c.Add(ctx, record("a", time.Now())))
}

func ids(recs []*models.ModelMetadataRecord) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.ModelID
	}
	return out
}
