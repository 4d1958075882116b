package usecase

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"PriceCast/internal/domain/errs"
	"PriceCast/internal/domain/models"
	drepo "PriceCast/internal/domain/repository"
	"PriceCast/internal/repository"
	applogger "PriceCast/pkg/logger"
)

// headerAliases maps accepted upload headers to canonical column names.
var headerAliases = map[string]string{
	"date": "date", "Date": "date", "DATE": "date",
	"time": "date", "TIME": "date", "時間": "date", "日期": "date",
	"open": "open", "Open": "open", "OPEN": "open", "開盤價": "open", "开盘价": "open",
	"high": "high", "High": "high", "HIGH": "high", "最高價": "high", "最高价": "high",
	"low": "low", "Low": "low", "LOW": "low", "最低價": "low", "最低价": "low",
	"close": "close", "Close": "close", "CLOSE": "close", "收盤價": "close", "收盘价": "close",
	"volume": "volume", "Volume": "volume", "VOLUME": "volume", "成交量": "volume",
}

// requiredColumns are the value columns every upload must carry besides its
// time column.
var requiredColumns = []string{"open", "high", "low", "close", "volume"}

// CanonicalHeader returns the canonical name of an upload header, or h itself.
func CanonicalHeader(h string) string {
	if c, ok := headerAliases[strings.TrimSpace(h)]; ok {
		return c
	}
	return h
}

// DatasetService registers uploaded CSV datasets and serves them back.
type DatasetService struct {
	store drepo.DatasetStore
	l     *applogger.Logger
}

func NewDatasetService(store drepo.DatasetStore, l *applogger.Logger) *DatasetService {
	return &DatasetService{store: store, l: l.Named("datasets")}
}

// Ingest validates a CSV upload, normalizes its headers and registers it
// under name. The upload must carry a time column and open, high, low, close
// and volume. Existing names are rejected.
func (s *DatasetService) Ingest(ctx context.Context, name string, csvBytes []byte) (models.DatasetInfo, error) {
	start := time.Now()
	name = strings.TrimSuffix(strings.TrimSpace(name), ".csv")
	if name == "" {
		return models.DatasetInfo{}, errs.Config(errs.OutOfRange, "dataset_name is required")
	}
	series, err := repository.ParseCSV(name, bytes.NewReader(csvBytes), CanonicalHeader)
	if err != nil {
		return models.DatasetInfo{}, err
	}
	if err := checkColumns(series); err != nil {
		return models.DatasetInfo{}, err
	}
	if err := s.store.Create(ctx, series); err != nil {
		return models.DatasetInfo{}, fmt.Errorf("register dataset %s: %w", name, err)
	}

	info := repository.Summarize(series)
	s.l.Info("dataset ingested",
		applogger.Dataset(name),
		applogger.Int("rows", info.Rows),
		applogger.Strings("columns", info.Columns),
		applogger.Duration("duration_ms", time.Since(start)),
	)
	return info, nil
}

func checkColumns(series *models.RawSeries) error {
	if series.Len() == 0 {
		return errs.Data(errs.InsufficientRows, "dataset %s has no rows", series.Name)
	}
	seen := make(map[string]bool, len(series.Columns))
	for _, c := range series.Columns {
		if seen[c.Name] {
			return errs.Data(errs.MalformedSchema, "dataset %s has column %s more than once", series.Name, c.Name)
		}
		seen[c.Name] = true
	}
	var missing []string
	for _, name := range requiredColumns {
		if _, ok := series.Column(name); !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		reason := errs.MalformedSchema
		if contains(missing, "close") {
			reason = errs.UnknownTarget
		}
		return errs.Data(reason, "dataset %s is missing required columns: %s", series.Name, strings.Join(missing, ", "))
	}
	for _, name := range requiredColumns {
		if col, _ := series.Column(name); !col.Numeric {
			return errs.Data(errs.MalformedSchema, "dataset %s: %s column is not numeric", series.Name, name)
		}
	}
	return nil
}

func contains(ss []string, v string) bool {
	for _, s := range ss {
		if s == v {
			return true
		}
	}
	return false
}

// History returns the dataset rows keyed by lower-cased column names.
func (s *DatasetService) History(ctx context.Context, name string) ([]map[string]interface{}, error) {
	series, err := s.store.Load(ctx, name)
	if err != nil {
		return nil, err
	}
	return series.Rows(), nil
}

// Load returns the raw series registered under name.
func (s *DatasetService) Load(ctx context.Context, name string) (*models.RawSeries, error) {
	return s.store.Load(ctx, name)
}

func (s *DatasetService) List(ctx context.Context) ([]models.DatasetInfo, error) {
	return s.store.List(ctx)
}
