package badger

import (
	"bytes"
	"context"
	"errors"
	"slices"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/docrag/core"
	"github.com/poiesic/docrag/storage"
)

// DocumentRepository implements storage.DocumentRepository for BadgerDB.
//
// Besides the primary record it maintains three key-only indices ordered by
// creation time: all documents, per department and per status.
type DocumentRepository struct {
	backend *Backend
}

var _ storage.DocumentRepository = (*DocumentRepository)(nil)

// NewDocumentRepository creates a new DocumentRepository.
func NewDocumentRepository(backend *Backend) (storage.DocumentRepository, error) {
	if backend == nil {
		return nil, errors.New("backend cannot be nil")
	}
	return &DocumentRepository{backend: backend}, nil
}

// Close is a no-op; the backend is owned by the caller.
func (r *DocumentRepository) Close() error {
	return nil
}

// CreateDocument stores a new record and its indices.
func (r *DocumentRepository) CreateDocument(ctx context.Context, doc *core.DocumentRecord) error {
	if err := core.ValidateDocumentRecord(doc); err != nil {
		return err
	}
	return r.backend.withRetry(ctx, func(tx *badger.Txn) error {
		key := makeDocumentKey(doc.ID)
		if _, err := tx.Get(key); err == nil {
			return storage.ErrDuplicateKey
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		now := time.Now().UTC()
		if doc.CreatedAt.IsZero() {
			doc.CreatedAt = now
		}
		doc.UpdatedAt = now

		if err := r.writeDocument(tx, doc); err != nil {
			return err
		}
		if err := tx.Set(makeTimeKey(documentTimePrefix, "", doc.CreatedAt, doc.ID), nil); err != nil {
			return err
		}
		if err := tx.Set(makeTimeKey(documentDeptPrefix, doc.Department, doc.CreatedAt, doc.ID), nil); err != nil {
			return err
		}
		if err := tx.Set(makeTimeKey(documentStatusPrefix, string(doc.Status), doc.CreatedAt, doc.ID), nil); err != nil {
			return err
		}
		return tx.Commit()
	})
}

// GetDocument retrieves a record by ID.
func (r *DocumentRepository) GetDocument(ctx context.Context, id string) (*core.DocumentRecord, error) {
	var result *core.DocumentRecord
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		result, err = r.readDocument(tx, id)
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

// UpdateDocument replaces a stored record, moving its status index entry.
func (r *DocumentRepository) UpdateDocument(ctx context.Context, doc *core.DocumentRecord) error {
	return r.backend.withRetry(ctx, func(tx *badger.Txn) error {
		old, err := r.readDocument(tx, doc.ID)
		if err != nil {
			return err
		}
		if old == nil {
			return storage.ErrNotFound
		}
		if old.Status != doc.Status {
			if err := core.ValidateTransition(old.Status, doc.Status); err != nil {
				return err
			}
		}

		// Creation time and department are immutable; indices depend on them.
		doc.CreatedAt = old.CreatedAt
		doc.Department = old.Department
		doc.UpdatedAt = time.Now().UTC()

		if err := r.writeDocument(tx, doc); err != nil {
			return err
		}
		if old.Status != doc.Status {
			if err := tx.Delete(makeTimeKey(documentStatusPrefix, string(old.Status), old.CreatedAt, old.ID)); err != nil {
				return err
			}
			if err := tx.Set(makeTimeKey(documentStatusPrefix, string(doc.Status), doc.CreatedAt, doc.ID), nil); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

// DeleteDocument removes a record and its indices.
func (r *DocumentRepository) DeleteDocument(ctx context.Context, id string) error {
	return r.backend.withRetry(ctx, func(tx *badger.Txn) error {
		old, err := r.readDocument(tx, id)
		if err != nil {
			return err
		}
		if old == nil {
			return storage.ErrNotFound
		}
		keys := [][]byte{
			makeDocumentKey(id),
			makeTimeKey(documentTimePrefix, "", old.CreatedAt, id),
			makeTimeKey(documentDeptPrefix, old.Department, old.CreatedAt, id),
			makeTimeKey(documentStatusPrefix, string(old.Status), old.CreatedAt, id),
		}
		for _, key := range keys {
			if err := tx.Delete(key); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

// ListByDepartment pages through a department's records, newest first.
func (r *DocumentRepository) ListByDepartment(ctx context.Context, department string, skip, limit int) ([]*core.DocumentRecord, int, error) {
	if skip < 0 || limit < 0 {
		return nil, 0, storage.ErrInvalidQuery
	}

	prefix := makeScopePrefix(documentTimePrefix, "")
	if department != "" {
		prefix = makeScopePrefix(documentDeptPrefix, department)
	}

	var results []*core.DocumentRecord
	total := 0
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.PrefetchValues = false
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Seek(seekEnd(prefix)); iter.Valid(); iter.Next() {
			key := iter.Item().Key()
			if !bytes.HasPrefix(key, prefix) {
				break
			}
			total++
			if total <= skip || (limit > 0 && len(results) >= limit) {
				continue
			}
			doc, err := r.readDocument(tx, idFromTimeKey(key, len(prefix)))
			if err != nil {
				return err
			}
			if doc != nil {
				results = append(results, doc)
			}
		}
		return nil
	}, false)
	if err != nil {
		return nil, 0, err
	}
	return results, total, nil
}

// ListByStatus returns every record in one of the given states, oldest first.
func (r *DocumentRepository) ListByStatus(ctx context.Context, statuses ...core.DocumentStatus) ([]*core.DocumentRecord, error) {
	var results []*core.DocumentRecord
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		for _, status := range statuses {
			prefix := makeScopePrefix(documentStatusPrefix, string(status))
			opts := badger.DefaultIteratorOptions
			opts.Prefix = prefix
			opts.PrefetchValues = false
			iter := tx.NewIterator(opts)

			for iter.Rewind(); iter.Valid(); iter.Next() {
				doc, err := r.readDocument(tx, idFromTimeKey(iter.Item().Key(), len(prefix)))
				if err != nil {
					iter.Close()
					return err
				}
				if doc != nil {
					results = append(results, doc)
				}
			}
			iter.Close()
		}
		return nil
	}, false)
	if err != nil {
		return nil, err
	}
	sortByCreated(results)
	return results, nil
}

func (r *DocumentRepository) writeDocument(tx *badger.Txn, doc *core.DocumentRecord) error {
	value, err := storage.Marshal(doc)
	if err != nil {
		return err
	}
	return tx.Set(makeDocumentKey(doc.ID), value)
}

// readDocument returns nil, nil when the record doesn't exist.
func (r *DocumentRepository) readDocument(tx *badger.Txn, id string) (*core.DocumentRecord, error) {
	item, err := tx.Get(makeDocumentKey(id))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var doc *core.DocumentRecord
	err = item.Value(func(val []byte) error {
		var err error
		doc, err = storage.UnmarshalDocument(val)
		return err
	})
	return doc, err
}

func sortByCreated(docs []*core.DocumentRecord) {
	slices.SortStableFunc(docs, func(a, b *core.DocumentRecord) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
}
