package repository

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"PriceCast/internal/domain/errs"
	"PriceCast/internal/domain/models"
	domrepo "PriceCast/internal/domain/repository"
	"PriceCast/pkg/cache"
	pkgch "PriceCast/pkg/clickhouse"
	applogger "PriceCast/pkg/logger"
)

// ohlcvColumns are the value columns stored per bar.
var ohlcvColumns = []string{"open", "high", "low", "close", "volume"}

// ClickHouseDatasetStore keeps every dataset in one OHLCV table keyed by
// dataset name. Columns outside open/high/low/close/volume are not stored.
type ClickHouseDatasetStore struct {
	ch    *pkgch.Client
	db    *sql.DB
	table string
	l     *applogger.Logger

	mu      sync.Mutex
	lock    cache.Service
	lockTTL time.Duration
}

var _ domrepo.DatasetStore = (*ClickHouseDatasetStore)(nil)

// ClickHouseDatasetOption configures ClickHouseDatasetStore.
type ClickHouseDatasetOption func(*ClickHouseDatasetStore)

// WithCreateLock makes Create hold a per-name lock in c, so processes sharing
// the table cannot register the same name twice.
func WithCreateLock(c cache.Service, ttl time.Duration) ClickHouseDatasetOption {
	return func(s *ClickHouseDatasetStore) {
		s.lock = c
		s.lockTTL = ttl
	}
}

func NewClickHouseDatasetStore(ctx context.Context, ch *pkgch.Client, table string, l *applogger.Logger, opts ...ClickHouseDatasetOption) (*ClickHouseDatasetStore, error) {
	if !validTable(table) {
		return nil, errs.Config(errs.OutOfRange, "invalid clickhouse table %q", table)
	}
	s := &ClickHouseDatasetStore{ch: ch, db: ch.DB(), table: table, l: l.Named("datasets"), lockTTL: time.Minute}
	for _, opt := range opts {
		opt(s)
	}
	if err := ch.InitSchema(ctx, []string{s.schema()}); err != nil {
		return nil, err
	}
	return s, nil
}

func validTable(t string) bool {
	if t == "" {
		return false
	}
	for _, part := range strings.Split(t, ".") {
		if !validID.MatchString(part) {
			return false
		}
	}
	return true
}

func (s *ClickHouseDatasetStore) schema() string {
	return fmt.Sprintf(`
        CREATE TABLE IF NOT EXISTS %s (
            dataset String,
            ts      DateTime64(3, 'UTC'),
            open    Nullable(Float64),
            high    Nullable(Float64),
            low     Nullable(Float64),
            close   Nullable(Float64),
            volume  Nullable(Float64)
        ) ENGINE = ReplacingMergeTree
        ORDER BY (dataset, ts)
    `, s.table)
}

func (s *ClickHouseDatasetStore) Load(ctx context.Context, name string) (*models.RawSeries, error) {
	if err := checkID("dataset", name); err != nil {
		return nil, err
	}
	start := time.Now()
	q := fmt.Sprintf(`
        SELECT ts, open, high, low, close, volume
        FROM %s FINAL
        WHERE dataset = ?
        ORDER BY ts ASC
    `, s.table)
	rows, err := s.db.QueryContext(ctx, q, name)
	if err != nil {
		s.l.Error("clickhouse load dataset query error", applogger.Dataset(name), applogger.Error(err))
		return nil, errs.Wrap(errs.KindInternal, "", err, "load dataset %s", name).AsRetryable()
	}
	defer rows.Close()

	series := &models.RawSeries{Name: name, TimeColumn: "date"}
	cols := make([][]float64, len(ohlcvColumns))
	for rows.Next() {
		var ts time.Time
		vals := make([]sql.NullFloat64, len(ohlcvColumns))
		if err := rows.Scan(&ts, &vals[0], &vals[1], &vals[2], &vals[3], &vals[4]); err != nil {
			return nil, fmt.Errorf("scan bar: %w", err)
		}
		series.Times = append(series.Times, ts.UTC())
		for i, v := range vals {
			if v.Valid {
				cols[i] = append(cols[i], v.Float64)
			} else {
				cols[i] = append(cols[i], math.NaN())
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	if series.Len() == 0 {
		return nil, errs.New(errs.KindDatasetNotFound, "", "dataset %s not found", name)
	}
	for i, c := range ohlcvColumns {
		series.Columns = append(series.Columns, models.RawColumn{Name: c, Numeric: true, Values: cols[i]})
	}
	s.l.Info("clickhouse load dataset ok",
		applogger.Dataset(name),
		applogger.Int("rows", series.Len()),
		applogger.Duration("duration_ms", time.Since(start)),
	)
	return series, nil
}

func (s *ClickHouseDatasetStore) Save(ctx context.Context, series *models.RawSeries) error {
	if err := checkID("dataset", series.Name); err != nil {
		return err
	}
	src := make([]*models.RawColumn, len(ohlcvColumns))
	for i, c := range ohlcvColumns {
		if col, ok := series.ColumnFold(c); ok && col.Numeric {
			src[i] = col
		}
	}
	if src[3] == nil {
		return errs.Data(errs.UnknownTarget, "dataset %s has no numeric close column", series.Name)
	}

	rows := make([][]any, series.Len())
	for r := range rows {
		row := make([]any, 0, len(ohlcvColumns)+2)
		row = append(row, series.Name, series.Times[r])
		for _, col := range src {
			if col == nil || r >= len(col.Values) || math.IsNaN(col.Values[r]) {
				row = append(row, nil)
				continue
			}
			row = append(row, col.Values[r])
		}
		rows[r] = row
	}
	stmt := fmt.Sprintf("INSERT INTO %s (dataset, ts, open, high, low, close, volume)", s.table)
	if err := s.ch.InsertBatch(ctx, stmt, rows); err != nil {
		s.l.Error("clickhouse save dataset error", applogger.Dataset(series.Name), applogger.Error(err))
		return errs.Wrap(errs.KindInternal, "", err, "save dataset %s", series.Name).AsRetryable()
	}
	s.l.Info("dataset saved", applogger.Dataset(series.Name), applogger.Int("rows", series.Len()))
	return nil
}

// Create inserts a dataset whose name is not yet present. The existence check
// and the insert run under the process mutex and, when configured, the
// shared per-name lock.
func (s *ClickHouseDatasetStore) Create(ctx context.Context, series *models.RawSeries) error {
	if err := checkID("dataset", series.Name); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lock != nil {
		key := "lock:dataset:" + series.Name
		ok, err := s.lock.TryLock(ctx, key, s.lockTTL)
		if err != nil {
			return errs.Wrap(errs.KindInternal, "", err, "lock dataset %s", series.Name).AsRetryable()
		}
		if !ok {
			return errs.New(errs.KindDatasetExists, "", "dataset %s is being registered by another writer", series.Name)
		}
		defer func() {
			if err := s.lock.Unlock(context.Background(), key); err != nil {
				s.l.Warn("release dataset lock", applogger.Dataset(series.Name), applogger.Error(err))
			}
		}()
	}

	exists, err := s.Exists(ctx, series.Name)
	if err != nil {
		return err
	}
	if exists {
		return errs.New(errs.KindDatasetExists, "", "dataset %s already exists", series.Name)
	}
	return s.Save(ctx, series)
}

func (s *ClickHouseDatasetStore) Exists(ctx context.Context, name string) (bool, error) {
	if err := checkID("dataset", name); err != nil {
		return false, err
	}
	var n uint64
	q := fmt.Sprintf("SELECT count() FROM %s WHERE dataset = ?", s.table)
	if err := s.db.QueryRowContext(ctx, q, name).Scan(&n); err != nil {
		return false, fmt.Errorf("exists dataset %s: %w", name, err)
	}
	return n > 0, nil
}

func (s *ClickHouseDatasetStore) List(ctx context.Context) ([]models.DatasetInfo, error) {
	q := fmt.Sprintf(`
        SELECT dataset, count(), min(ts), max(ts)
        FROM %s FINAL
        GROUP BY dataset
        ORDER BY dataset
    `, s.table)
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list datasets: %w", err)
	}
	defer rows.Close()

	var out []models.DatasetInfo
	for rows.Next() {
		var (
			info     models.DatasetInfo
			n        uint64
			from, to time.Time
		)
		if err := rows.Scan(&info.Name, &n, &from, &to); err != nil {
			return nil, fmt.Errorf("scan dataset info: %w", err)
		}
		info.Rows = int(n)
		info.From, info.To = from.UTC(), to.UTC()
		info.Columns = append([]string(nil), ohlcvColumns...)
		out = append(out, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

// Close is a no-op; the shared client is closed by its owner.
func (s *ClickHouseDatasetStore) Close() error { return nil }
