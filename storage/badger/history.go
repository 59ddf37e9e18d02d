package badger

import (
	"bytes"
	"context"
	"errors"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/docrag/core"
	"github.com/poiesic/docrag/storage"
)

// HistoryRepository implements storage.HistoryRepository for BadgerDB.
type HistoryRepository struct {
	backend *Backend
}

var _ storage.HistoryRepository = (*HistoryRepository)(nil)

// NewHistoryRepository creates a new HistoryRepository.
func NewHistoryRepository(backend *Backend) (storage.HistoryRepository, error) {
	if backend == nil {
		return nil, errors.New("backend cannot be nil")
	}
	return &HistoryRepository{backend: backend}, nil
}

// Close is a no-op; the backend is owned by the caller.
func (r *HistoryRepository) Close() error {
	return nil
}

// AddHistory stores an entry with its time and department indices.
func (r *HistoryRepository) AddHistory(ctx context.Context, entry *core.QueryHistoryEntry) error {
	if entry == nil || entry.ID == "" {
		return core.ErrValidation
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	value, err := storage.Marshal(entry)
	if err != nil {
		return err
	}
	return r.backend.withRetry(ctx, func(tx *badger.Txn) error {
		if err := tx.Set(makeHistoryKey(entry.ID), value); err != nil {
			return err
		}
		if err := tx.Set(makeTimeKey(historyTimePrefix, "", entry.CreatedAt, entry.ID), nil); err != nil {
			return err
		}
		if err := tx.Set(makeTimeKey(historyDeptPrefix, entry.Department, entry.CreatedAt, entry.ID), nil); err != nil {
			return err
		}
		return tx.Commit()
	})
}

// GetHistory retrieves an entry by ID.
func (r *HistoryRepository) GetHistory(ctx context.Context, id string) (*core.QueryHistoryEntry, error) {
	var result *core.QueryHistoryEntry
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		result, err = r.readHistory(tx, id)
		if err != nil {
			return err
		}
		if result == nil {
			return storage.ErrNotFound
		}
		return nil
	}, false)
	return result, err
}

// ListRecent returns up to limit entries, newest first.
func (r *HistoryRepository) ListRecent(ctx context.Context, department string, limit int) ([]*core.QueryHistoryEntry, error) {
	if limit <= 0 {
		return nil, storage.ErrInvalidQuery
	}
	prefix := makeScopePrefix(historyTimePrefix, "")
	if department != "" {
		prefix = makeScopePrefix(historyDeptPrefix, department)
	}

	var results []*core.QueryHistoryEntry
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.PrefetchValues = false
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Seek(seekEnd(prefix)); iter.Valid() && len(results) < limit; iter.Next() {
			key := iter.Item().Key()
			if !bytes.HasPrefix(key, prefix) {
				break
			}
			entry, err := r.readHistory(tx, idFromTimeKey(key, len(prefix)))
			if err != nil {
				return err
			}
			if entry != nil {
				results = append(results, entry)
			}
		}
		return nil
	}, false)
	return results, err
}

func (r *HistoryRepository) readHistory(tx *badger.Txn, id string) (*core.QueryHistoryEntry, error) {
	item, err := tx.Get(makeHistoryKey(id))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var entry *core.QueryHistoryEntry
	err = item.Value(func(val []byte) error {
		var err error
		entry, err = storage.UnmarshalHistory(val)
		return err
	})
	return entry, err
}
