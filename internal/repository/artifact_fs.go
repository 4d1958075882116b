package repository

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"PriceCast/internal/domain/errs"
	domrepo "PriceCast/internal/domain/repository"
	applogger "PriceCast/pkg/logger"
)

const (
	artifactExt    = ".model"
	artifactTmpPfx = ".tmp-"
)

// FSArtifactStore keeps one file per model in a directory. Saves go to a
// temporary file in the same directory, are synced and then renamed over
// the final name.
type FSArtifactStore struct {
	dir string
	l   *applogger.Logger
}

var _ domrepo.ArtifactStore = (*FSArtifactStore)(nil)

func NewFSArtifactStore(dir string, l *applogger.Logger) (*FSArtifactStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	s := &FSArtifactStore{dir: dir, l: l.Named("artifacts")}
	s.sweepTemp()
	return s, nil
}

func (s *FSArtifactStore) PathFor(modelID string) string {
	return filepath.Join(s.dir, modelID+artifactExt)
}

func (s *FSArtifactStore) Save(ctx context.Context, modelID string, blob []byte) (string, error) {
	if err := checkID("model", modelID); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(s.dir, artifactTmpPfx+modelID+"-*")
	if err != nil {
		return "", errs.Wrap(errs.KindInternal, "", err, "create temp artifact for %s", modelID).AsRetryable()
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(blob); err != nil {
		_ = tmp.Close()
		cleanup()
		return "", errs.Wrap(errs.KindInternal, "", err, "write artifact %s", modelID).AsRetryable()
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return "", errs.Wrap(errs.KindInternal, "", err, "sync artifact %s", modelID).AsRetryable()
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return "", errs.Wrap(errs.KindInternal, "", err, "close artifact %s", modelID).AsRetryable()
	}

	path := s.PathFor(modelID)
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return "", errs.Wrap(errs.KindInternal, "", err, "publish artifact %s", modelID).AsRetryable()
	}
	syncDir(s.dir)

	s.l.Info("artifact saved", applogger.ModelID(modelID), applogger.String("path", path), applogger.Int("bytes", len(blob)))
	return path, nil
}

func (s *FSArtifactStore) Load(ctx context.Context, modelID string) ([]byte, error) {
	if err := checkID("model", modelID); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	blob, err := os.ReadFile(s.PathFor(modelID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, errs.New(errs.KindArtifactNotFound, "", "no artifact for model %s", modelID)
		}
		return nil, errs.Wrap(errs.KindInternal, "", err, "read artifact %s", modelID).AsRetryable()
	}
	return blob, nil
}

// Delete removes the artifact. Deleting a missing artifact is not an error.
func (s *FSArtifactStore) Delete(ctx context.Context, modelID string) error {
	if err := checkID("model", modelID); err != nil {
		return err
	}
	if err := os.Remove(s.PathFor(modelID)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return errs.Wrap(errs.KindInternal, "", err, "delete artifact %s", modelID).AsRetryable()
	}
	s.l.Info("artifact deleted", applogger.ModelID(modelID))
	return nil
}

func (s *FSArtifactStore) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, artifactTmpPfx) || !strings.HasSuffix(name, artifactExt) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, artifactExt))
	}
	sort.Strings(ids)
	return ids, nil
}

// SavedAt returns the modification time of the artifact file.
func (s *FSArtifactStore) SavedAt(ctx context.Context, modelID string) (time.Time, error) {
	if err := checkID("model", modelID); err != nil {
		return time.Time{}, err
	}
	fi, err := os.Stat(s.PathFor(modelID))
	if errors.Is(err, fs.ErrNotExist) {
		return time.Time{}, errs.New(errs.KindArtifactNotFound, "", "no artifact for model %s", modelID)
	}
	if err != nil {
		return time.Time{}, errs.Wrap(errs.KindInternal, "", err, "stat artifact %s", modelID).AsRetryable()
	}
	return fi.ModTime(), nil
}

func (s *FSArtifactStore) Close() error { return nil }

// sweepTemp removes temp files left behind by an interrupted save.
func (s *FSArtifactStore) sweepTemp() {
	matches, _ := filepath.Glob(filepath.Join(s.dir, artifactTmpPfx+"*"))
	for _, m := range matches {
		if err := os.Remove(m); err == nil {
			s.l.Warn("removed stale temp artifact", applogger.String("path", m))
		}
	}
}

func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
