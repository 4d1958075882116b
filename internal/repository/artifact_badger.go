package repository

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"PriceCast/internal/domain/errs"
	domrepo "PriceCast/internal/domain/repository"
	applogger "PriceCast/pkg/logger"
)

const (
	badgerArtifactPrefix = "artifact/"
	badgerSavedAtPrefix  = "artifact-saved/"
)

// BadgerArtifactStore keeps artifacts in an embedded badger keyspace. Each
// save is a single transaction, so readers see either the old or the new blob.
type BadgerArtifactStore struct {
	db  *badger.DB
	l   *applogger.Logger
	now func() time.Time
}

var _ domrepo.ArtifactStore = (*BadgerArtifactStore)(nil)

// NewBadgerArtifactStore opens (or creates) a store in dir. An empty dir
// keeps everything in memory.
func NewBadgerArtifactStore(dir string, l *applogger.Logger) (*BadgerArtifactStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &BadgerArtifactStore{db: db, l: l.Named("artifacts"), now: time.Now}, nil
}

func artifactKey(modelID string) []byte {
	return []byte(badgerArtifactPrefix + modelID)
}

func savedAtKey(modelID string) []byte {
	return []byte(badgerSavedAtPrefix + modelID)
}

func (s *BadgerArtifactStore) PathFor(modelID string) string {
	return "badger://" + badgerArtifactPrefix + modelID
}

func (s *BadgerArtifactStore) Save(ctx context.Context, modelID string, blob []byte) (string, error) {
	if err := checkID("model", modelID); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	stamp := make([]byte, 8)
	binary.BigEndian.PutUint64(stamp, uint64(s.now().UnixNano()))
	err := s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(artifactKey(modelID), blob); err != nil {
			return err
		}
		return txn.Set(savedAtKey(modelID), stamp)
	})
	if err != nil {
		return "", errs.Wrap(errs.KindInternal, "", err, "save artifact %s", modelID).AsRetryable()
	}
	s.l.Info("artifact saved", applogger.ModelID(modelID), applogger.Int("bytes", len(blob)))
	return s.PathFor(modelID), nil
}

func (s *BadgerArtifactStore) Load(ctx context.Context, modelID string) ([]byte, error) {
	if err := checkID("model", modelID); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var blob []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(artifactKey(modelID))
		if err != nil {
			return err
		}
		blob, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, errs.New(errs.KindArtifactNotFound, "", "no artifact for model %s", modelID)
	}
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, "", err, "load artifact %s", modelID).AsRetryable()
	}
	return blob, nil
}

func (s *BadgerArtifactStore) Delete(ctx context.Context, modelID string) error {
	if err := checkID("model", modelID); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete(artifactKey(modelID)); err != nil {
			return err
		}
		return txn.Delete(savedAtKey(modelID))
	})
	if err != nil {
		return errs.Wrap(errs.KindInternal, "", err, "delete artifact %s", modelID).AsRetryable()
	}
	s.l.Info("artifact deleted", applogger.ModelID(modelID))
	return nil
}

func (s *BadgerArtifactStore) List(ctx context.Context) ([]string, error) {
	prefix := []byte(badgerArtifactPrefix)
	var ids []string
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			ids = append(ids, string(it.Item().Key()[len(prefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	return ids, nil
}

// SavedAt returns the time recorded with the last save. Artifacts written
// without a timestamp report the zero time.
func (s *BadgerArtifactStore) SavedAt(ctx context.Context, modelID string) (time.Time, error) {
	if err := checkID("model", modelID); err != nil {
		return time.Time{}, err
	}
	var at time.Time
	err := s.db.View(func(txn *badger.Txn) error {
		if _, err := txn.Get(artifactKey(modelID)); err != nil {
			return err
		}
		item, err := txn.Get(savedAtKey(modelID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			if len(v) == 8 {
				at = time.Unix(0, int64(binary.BigEndian.Uint64(v)))
			}
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return time.Time{}, errs.New(errs.KindArtifactNotFound, "", "no artifact for model %s", modelID)
	}
	if err != nil {
		return time.Time{}, errs.Wrap(errs.KindInternal, "", err, "read artifact time %s", modelID).AsRetryable()
	}
	return at, nil
}

func (s *BadgerArtifactStore) Close() error {
	return s.db.Close()
}
