package repository

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"PriceCast/internal/domain/errs"
	"PriceCast/internal/domain/models"
	domrepo "PriceCast/internal/domain/repository"
	applogger "PriceCast/pkg/logger"
)

const datasetExt = ".csv"

// CSVDatasetStore keeps each dataset as <dir>/<name>.csv.
type CSVDatasetStore struct {
	dir string
	l   *applogger.Logger
}

var _ domrepo.DatasetStore = (*CSVDatasetStore)(nil)

func NewCSVDatasetStore(dir string, l *applogger.Logger) (*CSVDatasetStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create dataset dir: %w", err)
	}
	return &CSVDatasetStore{dir: dir, l: l.Named("datasets")}, nil
}

func (s *CSVDatasetStore) path(name string) string {
	return filepath.Join(s.dir, name+datasetExt)
}

func (s *CSVDatasetStore) Load(ctx context.Context, name string) (*models.RawSeries, error) {
	if err := checkID("dataset", name); err != nil {
		return nil, err
	}
	f, err := os.Open(s.path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, errs.New(errs.KindDatasetNotFound, "", "dataset %s not found", name)
	}
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, "", err, "open dataset %s", name).AsRetryable()
	}
	defer f.Close()
	return ParseCSV(name, f, nil)
}

// Save writes the dataset atomically, replacing any previous version.
func (s *CSVDatasetStore) Save(ctx context.Context, series *models.RawSeries) error {
	return s.write(series, false)
}

// Create publishes the dataset with a hard link, which fails when the name
// already exists. Concurrent creates of one name leave exactly one winner.
func (s *CSVDatasetStore) Create(ctx context.Context, series *models.RawSeries) error {
	return s.write(series, true)
}

func (s *CSVDatasetStore) write(series *models.RawSeries, exclusive bool) error {
	if err := checkID("dataset", series.Name); err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := WriteCSV(&buf, series); err != nil {
		return fmt.Errorf("encode dataset %s: %w", series.Name, err)
	}
	tmp, err := os.CreateTemp(s.dir, ".dataset-*")
	if err != nil {
		return errs.Wrap(errs.KindInternal, "", err, "save dataset %s", series.Name).AsRetryable()
	}
	name := tmp.Name()
	defer os.Remove(name)

	if _, err = tmp.Write(buf.Bytes()); err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		if exclusive {
			err = os.Link(name, s.path(series.Name))
		} else {
			err = os.Rename(name, s.path(series.Name))
		}
	}
	if exclusive && errors.Is(err, fs.ErrExist) {
		return errs.New(errs.KindDatasetExists, "", "dataset %s already exists", series.Name)
	}
	if err != nil {
		return errs.Wrap(errs.KindInternal, "", err, "save dataset %s", series.Name).AsRetryable()
	}
	syncDir(s.dir)
	s.l.Info("dataset saved", applogger.Dataset(series.Name), applogger.Int("rows", series.Len()))
	return nil
}

func (s *CSVDatasetStore) Exists(ctx context.Context, name string) (bool, error) {
	if err := checkID("dataset", name); err != nil {
		return false, err
	}
	_, err := os.Stat(s.path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat dataset %s: %w", name, err)
	}
	return true, nil
}

func (s *CSVDatasetStore) List(ctx context.Context) ([]models.DatasetInfo, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list datasets: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		n := e.Name()
		if e.IsDir() || strings.HasPrefix(n, ".") || !strings.HasSuffix(n, datasetExt) {
			continue
		}
		names = append(names, strings.TrimSuffix(n, datasetExt))
	}
	sort.Strings(names)

	out := make([]models.DatasetInfo, 0, len(names))
	for _, n := range names {
		series, err := s.Load(ctx, n)
		if err != nil {
			s.l.Warn("skipping unreadable dataset", applogger.Dataset(n), applogger.Error(err))
			continue
		}
		out = append(out, Summarize(series))
	}
	return out, nil
}

func (s *CSVDatasetStore) Close() error { return nil }
