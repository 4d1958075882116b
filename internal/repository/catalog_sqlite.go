package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"PriceCast/internal/domain/errs"
	"PriceCast/internal/domain/models"
	domrepo "PriceCast/internal/domain/repository"
	applogger "PriceCast/pkg/logger"
)

// SQLiteCatalog keeps one row per record in an embedded SQLite database.
// Every mutation runs in its own transaction.
type SQLiteCatalog struct {
	db *sql.DB
	l  *applogger.Logger
}

var _ domrepo.MetadataCatalog = (*SQLiteCatalog)(nil)

func NewSQLiteCatalog(ctx context.Context, path string, l *applogger.Logger) (*SQLiteCatalog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create catalog dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one connection keeps writers serialised and avoids SQLITE_BUSY
	db.SetMaxOpenConns(1)

	c := &SQLiteCatalog{db: db, l: l.Named("catalog")}
	if err := c.init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return c, nil
}

func (c *SQLiteCatalog) init(ctx context.Context) error {
	stmts := []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = NORMAL;",
		`CREATE TABLE IF NOT EXISTS model_metadata (
			model_id      TEXT PRIMARY KEY,
			dataset_name  TEXT NOT NULL,
			training_date INTEGER NOT NULL,
			record        TEXT NOT NULL
		);`,
		"CREATE INDEX IF NOT EXISTS idx_model_metadata_date ON model_metadata (training_date);",
	}
	for _, s := range stmts {
		if _, err := c.db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("init catalog schema: %w", err)
		}
	}
	return nil
}

func (c *SQLiteCatalog) Add(ctx context.Context, rec *models.ModelMetadataRecord) error {
	if rec == nil || rec.ModelID == "" {
		return errs.Config(errs.OutOfRange, "record without model_id")
	}
	doc, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	err = c.inTx(ctx, func(tx *sql.Tx) error {
		var one int
		err := tx.QueryRowContext(ctx, "SELECT 1 FROM model_metadata WHERE model_id = ?", rec.ModelID).Scan(&one)
		if err == nil {
			return errs.New(errs.KindCatalogWriteConflict, "", "model %s already registered", rec.ModelID)
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		_, err = tx.ExecContext(ctx,
			"INSERT INTO model_metadata (model_id, dataset_name, training_date, record) VALUES (?, ?, ?, ?)",
			rec.ModelID, rec.DatasetName, rec.TrainingDate.UnixNano(), string(doc))
		return err
	})
	if err != nil {
		return err
	}
	c.l.Info("catalog record added", applogger.ModelID(rec.ModelID), applogger.Dataset(rec.DatasetName))
	return nil
}

func (c *SQLiteCatalog) GetByID(ctx context.Context, modelID string) (*models.ModelMetadataRecord, error) {
	var doc string
	err := c.db.QueryRowContext(ctx, "SELECT record FROM model_metadata WHERE model_id = ?", modelID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.New(errs.KindModelNotFound, "", "model %s not found", modelID)
	}
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, "", err, "get model %s", modelID).AsRetryable()
	}
	return decodeRecord(doc)
}

func (c *SQLiteCatalog) GetAll(ctx context.Context, opts models.ListOptions) ([]*models.ModelMetadataRecord, error) {
	q := "SELECT record FROM model_metadata ORDER BY rowid"
	if opts.SortByTrainingDateDesc {
		q = "SELECT record FROM model_metadata ORDER BY training_date DESC, rowid"
	}
	rows, err := c.db.QueryContext(ctx, q)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, "", err, "list models").AsRetryable()
	}
	defer rows.Close()

	out := []*models.ModelMetadataRecord{}
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		rec, err := decodeRecord(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

func (c *SQLiteCatalog) Update(ctx context.Context, modelID string, patch models.RecordPatch) (bool, error) {
	found := false
	err := c.inTx(ctx, func(tx *sql.Tx) error {
		var doc string
		err := tx.QueryRowContext(ctx, "SELECT record FROM model_metadata WHERE model_id = ?", modelID).Scan(&doc)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		rec, err := decodeRecord(doc)
		if err != nil {
			return err
		}
		patch.Apply(rec)
		b, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "UPDATE model_metadata SET record = ? WHERE model_id = ?", string(b), modelID); err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if !found {
		c.l.Warn("catalog update for unknown model", applogger.ModelID(modelID))
	}
	return found, nil
}

func (c *SQLiteCatalog) Delete(ctx context.Context, modelID string) (bool, error) {
	res, err := c.db.ExecContext(ctx, "DELETE FROM model_metadata WHERE model_id = ?", modelID)
	if err != nil {
		return false, errs.Wrap(errs.KindInternal, "", err, "delete model %s", modelID).AsRetryable()
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete model %s: %w", modelID, err)
	}
	if n > 0 {
		c.l.Info("catalog record deleted", applogger.ModelID(modelID))
	}
	return n > 0, nil
}

func (c *SQLiteCatalog) Close() error {
	return c.db.Close()
}

func (c *SQLiteCatalog) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.Wrap(errs.KindInternal, "", err, "begin catalog transaction").AsRetryable()
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		var de *errs.Error
		if errors.As(err, &de) {
			return err
		}
		return errs.Wrap(errs.KindInternal, "", err, "catalog transaction").AsRetryable()
	}
	if err := tx.Commit(); err != nil {
		return errs.Wrap(errs.KindInternal, "", err, "commit catalog transaction").AsRetryable()
	}
	return nil
}

func decodeRecord(doc string) (*models.ModelMetadataRecord, error) {
	var rec models.ModelMetadataRecord
	if err := json.Unmarshal([]byte(doc), &rec); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return &rec, nil
}
