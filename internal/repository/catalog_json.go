package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"PriceCast/internal/domain/errs"
	"PriceCast/internal/domain/models"
	domrepo "PriceCast/internal/domain/repository"
	"PriceCast/pkg/cache"
	applogger "PriceCast/pkg/logger"
)

// JSONCatalog stores every record in one JSON array document. Each mutation
// reloads the document, applies the change and atomically replaces the file.
// Writers in this process are serialised by a mutex; writers in other
// processes are kept out by an optional lock held in a shared cache.
type JSONCatalog struct {
	path string
	l    *applogger.Logger

	mu sync.Mutex

	lock         cache.Service
	lockKey      string
	lockTTL      time.Duration
	lockAttempts int
	lockWait     time.Duration
}

var _ domrepo.MetadataCatalog = (*JSONCatalog)(nil)

// JSONCatalogOption configures JSONCatalog.
type JSONCatalogOption func(*JSONCatalog)

// WithDistributedLock guards mutations with a lock in the given cache.
func WithDistributedLock(c cache.Service, ttl time.Duration) JSONCatalogOption {
	return func(j *JSONCatalog) {
		j.lock = c
		j.lockTTL = ttl
	}
}

// WithLockRetry sets how often and how long to wait for a busy lock.
func WithLockRetry(attempts int, wait time.Duration) JSONCatalogOption {
	return func(j *JSONCatalog) {
		j.lockAttempts = attempts
		j.lockWait = wait
	}
}

func NewJSONCatalog(path string, l *applogger.Logger, opts ...JSONCatalogOption) (*JSONCatalog, error) {
	c := &JSONCatalog{
		path:         path,
		l:            l.Named("catalog"),
		lockKey:      "lock:catalog:" + filepath.Base(path),
		lockTTL:      10 * time.Second,
		lockAttempts: 20,
		lockWait:     50 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create catalog dir: %w", err)
	}
	if _, err := c.load(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *JSONCatalog) load() ([]*models.ModelMetadataRecord, error) {
	b, err := os.ReadFile(c.path)
	if errors.Is(err, fs.ErrNotExist) {
		return []*models.ModelMetadataRecord{}, nil
	}
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, "", err, "read catalog %s", c.path).AsRetryable()
	}
	if len(b) == 0 {
		return []*models.ModelMetadataRecord{}, nil
	}
	var recs []*models.ModelMetadataRecord
	if err := json.Unmarshal(b, &recs); err != nil {
		return nil, errs.Wrap(errs.KindInternal, "", err, "parse catalog %s", c.path)
	}
	return recs, nil
}

func (c *JSONCatalog) persist(recs []*models.ModelMetadataRecord) error {
	b, err := json.MarshalIndent(recs, "", "    ")
	if err != nil {
		return fmt.Errorf("encode catalog: %w", err)
	}
	dir := filepath.Dir(c.path)
	tmp, err := os.CreateTemp(dir, ".catalog-*")
	if err != nil {
		return errs.Wrap(errs.KindInternal, "", err, "write catalog").AsRetryable()
	}
	name := tmp.Name()
	if _, err = tmp.Write(b); err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(name, c.path)
	}
	if err != nil {
		_ = os.Remove(name)
		return errs.Wrap(errs.KindInternal, "", err, "write catalog").AsRetryable()
	}
	syncDir(dir)
	return nil
}

// mutate runs fn over a freshly loaded document while holding both locks and
// persists the result when fn reports a change.
func (c *JSONCatalog) mutate(ctx context.Context, fn func([]*models.ModelMetadataRecord) ([]*models.ModelMetadataRecord, bool, error)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	release, err := c.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	recs, err := c.load()
	if err != nil {
		return err
	}
	next, changed, err := fn(recs)
	if err != nil || !changed {
		return err
	}
	return c.persist(next)
}

func (c *JSONCatalog) acquire(ctx context.Context) (func(), error) {
	if c.lock == nil {
		return func() {}, nil
	}
	for i := 0; i < c.lockAttempts; i++ {
		ok, err := c.lock.TryLock(ctx, c.lockKey, c.lockTTL)
		if err != nil {
			return nil, errs.Wrap(errs.KindCatalogWriteConflict, "", err, "acquire catalog lock").AsRetryable()
		}
		if ok {
			return func() {
				if err := c.lock.Unlock(context.Background(), c.lockKey); err != nil {
					c.l.Warn("release catalog lock", applogger.Error(err))
				}
			}, nil
		}
		select {
		case <-time.After(c.lockWait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, errs.New(errs.KindCatalogWriteConflict, "", "catalog %s is locked by another writer", c.path).AsRetryable()
}

func (c *JSONCatalog) Add(ctx context.Context, rec *models.ModelMetadataRecord) error {
	if rec == nil || rec.ModelID == "" {
		return errs.Config(errs.OutOfRange, "record without model_id")
	}
	err := c.mutate(ctx, func(recs []*models.ModelMetadataRecord) ([]*models.ModelMetadataRecord, bool, error) {
		for _, r := range recs {
			if r.ModelID == rec.ModelID {
				return nil, false, errs.New(errs.KindCatalogWriteConflict, "", "model %s already registered", rec.ModelID)
			}
		}
		return append(recs, rec), true, nil
	})
	if err != nil {
		return err
	}
	c.l.Info("catalog record added", applogger.ModelID(rec.ModelID), applogger.Dataset(rec.DatasetName))
	return nil
}

func (c *JSONCatalog) GetByID(ctx context.Context, modelID string) (*models.ModelMetadataRecord, error) {
	recs, err := c.load()
	if err != nil {
		return nil, err
	}
	for _, r := range recs {
		if r.ModelID == modelID {
			return r, nil
		}
	}
	return nil, errs.New(errs.KindModelNotFound, "", "model %s not found", modelID)
}

func (c *JSONCatalog) GetAll(ctx context.Context, opts models.ListOptions) ([]*models.ModelMetadataRecord, error) {
	recs, err := c.load()
	if err != nil {
		return nil, err
	}
	if opts.SortByTrainingDateDesc {
		sortByTrainingDateDesc(recs)
	}
	return recs, nil
}

func (c *JSONCatalog) Update(ctx context.Context, modelID string, patch models.RecordPatch) (bool, error) {
	found := false
	err := c.mutate(ctx, func(recs []*models.ModelMetadataRecord) ([]*models.ModelMetadataRecord, bool, error) {
		for _, r := range recs {
			if r.ModelID == modelID {
				patch.Apply(r)
				found = true
				return recs, true, nil
			}
		}
		return recs, false, nil
	})
	if err != nil {
		return false, err
	}
	if !found {
		c.l.Warn("catalog update for unknown model", applogger.ModelID(modelID))
	}
	return found, nil
}

func (c *JSONCatalog) Delete(ctx context.Context, modelID string) (bool, error) {
	found := false
	err := c.mutate(ctx, func(recs []*models.ModelMetadataRecord) ([]*models.ModelMetadataRecord, bool, error) {
		out := recs[:0]
		for _, r := range recs {
			if r.ModelID == modelID {
				found = true
				continue
			}
			out = append(out, r)
		}
		return out, found, nil
	})
	if err != nil {
		return false, err
	}
	if found {
		c.l.Info("catalog record deleted", applogger.ModelID(modelID))
	}
	return found, nil
}

func (c *JSONCatalog) Close() error { return nil }

func sortByTrainingDateDesc(recs []*models.ModelMetadataRecord) {
	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].TrainingDate.After(recs[j].TrainingDate)
	})
}
