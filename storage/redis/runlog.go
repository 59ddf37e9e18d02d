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

// Package redis implements a pipeline run log on Redis so several docrag
// processes can share one monitor view.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/poiesic/docrag/core"
	"github.com/poiesic/docrag/storage"
)

const defaultKeyPrefix = "docrag"

// appendScript appends an event to an open run. Returns the new list
// length, -1 if the run is closed or -2 if it has no header.
var appendScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -2
end
if redis.call('HGET', KEYS[1], 'closed') == '1' then
  return -1
end
local n = redis.call('RPUSH', KEYS[2], ARGV[1])
if ARGV[2] == '1' then
  redis.call('HSET', KEYS[1], 'closed', '1')
end
return n
`)

// createScript registers a run header once.
var createScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('HSET', KEYS[1], 'id', ARGV[1], 'subject_type', ARGV[2], 'subject_id', ARGV[3])
redis.call('ZADD', KEYS[2], ARGV[4], ARGV[1])
return 1
`)

// Options configures the Redis connection.
type Options struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	Logger    *slog.Logger
}

// RunLog implements storage.RunLog on Redis: a hash per run header, a list
// per run's events and a sorted set of run ids scored by creation time.
type RunLog struct {
	rdb    goredis.UniversalClient
	prefix string
	logger *slog.Logger
}

var _ storage.RunLog = (*RunLog)(nil)

// NewRunLog dials Redis and verifies the connection.
func NewRunLog(ctx context.Context, opts Options) (*RunLog, error) {
	if opts.Addr == "" {
		return nil, errors.New("redis address cannot be empty")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        opts.Addr,
		Password:    opts.Password,
		DB:          opts.DB,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRunLogWithClient(rdb, opts.KeyPrefix, opts.Logger), nil
}

// NewRunLogWithClient wraps an existing client.
func NewRunLogWithClient(rdb goredis.UniversalClient, keyPrefix string, logger *slog.Logger) *RunLog {
	if keyPrefix == "" {
		keyPrefix = defaultKeyPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RunLog{
		rdb:    rdb,
		prefix: keyPrefix,
		logger: logger.With("component", "redis-runlog"),
	}
}

// Close closes the client.
func (l *RunLog) Close() error {
	return l.rdb.Close()
}

func (l *RunLog) headerKey(id string) string { return l.prefix + ":run:" + id }
func (l *RunLog) eventsKey(id string) string { return l.prefix + ":run:" + id + ":events" }
func (l *RunLog) indexKey() string           { return l.prefix + ":runs" }

// CreateRun registers a run header. Creating an existing run is a no-op.
func (l *RunLog) CreateRun(ctx context.Context, run *core.PipelineRun) error {
	if run == nil || run.ID == "" {
		return storage.ErrInvalidQuery
	}
	keys := []string{l.headerKey(run.ID), l.indexKey()}
	score := strconv.FormatInt(time.Now().UnixMicro(), 10)
	err := createScript.Run(ctx, l.rdb, keys, run.ID, string(run.SubjectType), run.SubjectID, score).Err()
	if err != nil {
		return fmt.Errorf("%w: %w", core.ErrStorage, err)
	}
	return nil
}

// AppendEvent appends an event to a run created by CreateRun.
func (l *RunLog) AppendEvent(ctx context.Context, event *core.StageEvent) error {
	if event == nil || event.PipelineID == "" {
		return storage.ErrInvalidQuery
	}
	value, err := storage.Marshal(event)
	if err != nil {
		return err
	}
	terminal := "0"
	if event.IsTerminal() {
		terminal = "1"
	}
	id := event.PipelineID
	keys := []string{l.headerKey(id), l.eventsKey(id)}

	n, err := appendScript.Run(ctx, l.rdb, keys, value, terminal).Int64()
	if err != nil {
		return fmt.Errorf("%w: %w", core.ErrStorage, err)
	}
	switch n {
	case -1:
		return storage.ErrRunClosed
	case -2:
		return storage.ErrNotFound
	}
	event.Seq = uint64(n)
	return nil
}

// GetRun returns a run with its events in append order.
func (l *RunLog) GetRun(ctx context.Context, id string) (*core.PipelineRun, error) {
	header, err := l.rdb.HGetAll(ctx, l.headerKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrStorage, err)
	}
	if len(header) == 0 {
		return nil, storage.ErrNotFound
	}
	items, err := l.rdb.LRange(ctx, l.eventsKey(id), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrStorage, err)
	}

	run := &core.PipelineRun{
		ID:          id,
		SubjectType: core.SubjectType(header["subject_type"]),
		SubjectID:   header["subject_id"],
	}
	for i, item := range items {
		ev, err := storage.UnmarshalEvent([]byte(item))
		if err != nil {
			l.logger.Warn("skipping unreadable event", "pipeline_id", id, "err", err)
			continue
		}
		ev.Seq = uint64(i + 1)
		run.Events = append(run.Events, ev)
	}
	return run, nil
}

// ListRuns returns every run, most recently created first.
func (l *RunLog) ListRuns(ctx context.Context) ([]*core.PipelineRun, error) {
	ids, err := l.rdb.ZRevRange(ctx, l.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrStorage, err)
	}
	runs := make([]*core.PipelineRun, 0, len(ids))
	for _, id := range ids {
		run, err := l.GetRun(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, nil
}
