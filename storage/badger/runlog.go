// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package badger

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/docrag/core"
	"github.com/poiesic/docrag/storage"
)

const runLockStripes = 64

// RunLog implements storage.RunLog for BadgerDB.
//
// Each event is its own key under the run's prefix with a BigEndian sequence
// suffix, so reading a run back is a single prefix scan in append order.
// Appends to one run are serialized by a striped mutex; appends to different
// runs proceed in parallel.
type RunLog struct {
	backend *Backend
	locks   [runLockStripes]sync.Mutex
}

var _ storage.RunLog = (*RunLog)(nil)

// NewRunLog creates a new RunLog.
func NewRunLog(backend *Backend) (storage.RunLog, error) {
	if backend == nil {
		return nil, errors.New("backend cannot be nil")
	}
	return &RunLog{backend: backend}, nil
}

// Close is a no-op; the backend is owned by the caller.
func (l *RunLog) Close() error {
	return nil
}

func (l *RunLog) lockFor(runID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(runID))
	return &l.locks[h.Sum32()%runLockStripes]
}

// CreateRun registers a run header. Creating an existing run is a no-op.
func (l *RunLog) CreateRun(ctx context.Context, run *core.PipelineRun) error {
	if run == nil || run.ID == "" {
		return storage.ErrInvalidQuery
	}
	mu := l.lockFor(run.ID)
	mu.Lock()
	defer mu.Unlock()

	return l.backend.withRetry(ctx, func(tx *badger.Txn) error {
		exists, err := l.hasRun(tx, run.ID)
		if err != nil || exists {
			return err
		}
		if err := l.writeHeader(tx, run, time.Now().UTC()); err != nil {
			return err
		}
		return tx.Commit()
	})
}

// AppendEvent appends an event to its run. Returns storage.ErrNotFound when
// the run was never created.
func (l *RunLog) AppendEvent(ctx context.Context, event *core.StageEvent) error {
	if event == nil || event.PipelineID == "" {
		return storage.ErrInvalidQuery
	}
	runID := event.PipelineID
	mu := l.lockFor(runID)
	mu.Lock()
	defer mu.Unlock()

	return l.backend.withRetry(ctx, func(tx *badger.Txn) error {
		if _, err := tx.Get(makeRunTerminalKey(runID)); err == nil {
			return storage.ErrRunClosed
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		exists, err := l.hasRun(tx, runID)
		if err != nil {
			return err
		}
		if !exists {
			return storage.ErrNotFound
		}

		seq, err := l.lastSeq(tx, runID)
		if err != nil {
			return err
		}
		event.Seq = seq + 1

		value, err := storage.Marshal(event)
		if err != nil {
			return err
		}
		if err := tx.Set(makeRunEventKey(runID, event.Seq), value); err != nil {
			return err
		}
		if event.IsTerminal() {
			if err := tx.Set(makeRunTerminalKey(runID), nil); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

// GetRun returns a run with its events in append order.
func (l *RunLog) GetRun(ctx context.Context, id string) (*core.PipelineRun, error) {
	var run *core.PipelineRun
	err := l.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		run, err = l.readRun(tx, id)
		if err != nil {
			return err
		}
		if run == nil {
			return storage.ErrNotFound
		}
		return nil
	}, false)
	return run, err
}

// ListRuns returns every run, most recently created first.
func (l *RunLog) ListRuns(ctx context.Context) ([]*core.PipelineRun, error) {
	var runs []*core.PipelineRun
	prefix := makeScopePrefix(runTimePrefix, "")
	err := l.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.PrefetchValues = false
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Seek(seekEnd(prefix)); iter.Valid(); iter.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			key := iter.Item().Key()
			if !bytes.HasPrefix(key, prefix) {
				break
			}
			run, err := l.readRun(tx, idFromTimeKey(key, len(prefix)))
			if err != nil {
				return err
			}
			if run != nil {
				runs = append(runs, run)
			}
		}
		return nil
	}, false)
	return runs, err
}

func (l *RunLog) hasRun(tx *badger.Txn, id string) (bool, error) {
	_, err := tx.Get(makeRunKey(id))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return false, err
}

func (l *RunLog) writeHeader(tx *badger.Txn, run *core.PipelineRun, created time.Time) error {
	header := &core.PipelineRun{
		ID:          run.ID,
		SubjectType: run.SubjectType,
		SubjectID:   run.SubjectID,
	}
	value, err := storage.Marshal(header)
	if err != nil {
		return err
	}
	if err := tx.Set(makeRunKey(run.ID), value); err != nil {
		return err
	}
	return tx.Set(makeTimeKey(runTimePrefix, "", created, run.ID), nil)
}

// lastSeq returns the highest event sequence of a run, 0 when it has none.
func (l *RunLog) lastSeq(tx *badger.Txn, runID string) (uint64, error) {
	prefix := makeRunEventPrefix(runID)
	opts := badger.DefaultIteratorOptions
	opts.Reverse = true
	opts.PrefetchValues = false
	iter := tx.NewIterator(opts)
	defer iter.Close()

	iter.Seek(seekEnd(prefix))
	if !iter.Valid() {
		return 0, nil
	}
	key := iter.Item().Key()
	if !bytes.HasPrefix(key, prefix) || len(key) != len(prefix)+8 {
		return 0, nil
	}
	return binary.BigEndian.Uint64(key[len(prefix):]), nil
}

// readRun returns nil, nil when the run doesn't exist.
func (l *RunLog) readRun(tx *badger.Txn, id string) (*core.PipelineRun, error) {
	item, err := tx.Get(makeRunKey(id))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var run *core.PipelineRun
	if err := item.Value(func(val []byte) error {
		var err error
		run, err = storage.UnmarshalRun(val)
		return err
	}); err != nil {
		return nil, err
	}

	opts := badger.DefaultIteratorOptions
	opts.Prefix = makeRunEventPrefix(id)
	iter := tx.NewIterator(opts)
	defer iter.Close()
	for iter.Rewind(); iter.Valid(); iter.Next() {
		if err := iter.Item().Value(func(val []byte) error {
			ev, err := storage.UnmarshalEvent(val)
			if err != nil {
				return err
			}
			run.Events = append(run.Events, ev)
			return nil
		}); err != nil {
			return nil, err
		}
	}
	return run, nil
}
