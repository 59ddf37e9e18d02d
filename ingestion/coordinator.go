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

package ingestion

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"github.com/poiesic/docrag/ai"
	"github.com/poiesic/docrag/chunking"
	"github.com/poiesic/docrag/core"
	"github.com/poiesic/docrag/extraction"
	"github.com/poiesic/docrag/monitor"
	"github.com/poiesic/docrag/storage"
	"github.com/poiesic/docrag/vectorstore"
)

// DefaultStageTimeout bounds each stage of a document run.
const DefaultStageTimeout = 10 * time.Minute

// Coordinator owns the lifecycle of DocumentRecords: upload, the
// asynchronous pipeline run, deletion and reconciliation.
type Coordinator struct {
	documents storage.DocumentRepository
	files     storage.FileStore
	vectors   vectorstore.Store
	recorder  monitor.Recorder
	pool      *ants.Pool

	extractor    extraction.Extractor
	embedder     ai.Embedder
	chunkSize    int
	chunkOverlap int
	batchSize    int
	stageTimeout time.Duration
	processors   []processor

	logger *slog.Logger
	now    func() time.Time

	// root context of every run; canceled by Release
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	closed   bool
	inFlight map[string]struct{}
}

// Option configures a Coordinator.
type Option func(*Coordinator) error

// WithPoolSize sets the number of documents processed concurrently.
// Default is runtime.NumCPU() / 2, with a minimum of 1.
func WithPoolSize(size int) Option {
	return func(c *Coordinator) error {
		if size < 1 {
			size = 1
		}
		if c.pool != nil {
			c.pool.Release()
		}
		pool, err := newPool(size, c.logger)
		if err != nil {
			return err
		}
		c.pool = pool
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) error {
		if logger == nil {
			logger = slog.Default()
		}
		c.logger = logger
		return nil
	}
}

// WithRecorder sets where stage events go. Default discards them.
func WithRecorder(rec monitor.Recorder) Option {
	return func(c *Coordinator) error {
		if rec != nil {
			c.recorder = rec
		}
		return nil
	}
}

// WithChunking sets the chunk window size and overlap, in runes.
func WithChunking(size, overlap int) Option {
	return func(c *Coordinator) error {
		c.chunkSize, c.chunkOverlap = chunking.Params(size, overlap)
		return nil
	}
}

// WithEmbedBatchSize sets how many chunks go into one embedding call.
func WithEmbedBatchSize(n int) Option {
	return func(c *Coordinator) error {
		if n < 1 {
			return fmt.Errorf("embed batch size must be positive, got %d", n)
		}
		c.batchSize = n
		return nil
	}
}

// WithStageTimeout bounds each stage of a run.
func WithStageTimeout(d time.Duration) Option {
	return func(c *Coordinator) error {
		if d <= 0 {
			return fmt.Errorf("stage timeout must be positive, got %s", d)
		}
		c.stageTimeout = d
		return nil
	}
}

// WithClock overrides the time source used for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) error {
		if now != nil {
			c.now = now
		}
		return nil
	}
}

// antsLogger routes pool diagnostics to slog.
type antsLogger struct {
	logger *slog.Logger
}

func (a antsLogger) Printf(format string, args ...any) {
	a.logger.Warn(fmt.Sprintf(format, args...))
}

func newPool(size int, logger *slog.Logger) (*ants.Pool, error) {
	return ants.NewPool(size, ants.WithLogger(antsLogger{logger: logger.With("component", "ingestion-pool")}))
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(
	documents storage.DocumentRepository,
	files storage.FileStore,
	extractor extraction.Extractor,
	embedder ai.Embedder,
	vectors vectorstore.Store,
	opts ...Option,
) (*Coordinator, error) {
	switch {
	case documents == nil:
		return nil, ErrDocumentRepositoryRequired
	case files == nil:
		return nil, ErrFileStoreRequired
	case extractor == nil:
		return nil, ErrExtractorRequired
	case embedder == nil:
		return nil, ErrEmbedderRequired
	case vectors == nil:
		return nil, ErrVectorStoreRequired
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		documents:    documents,
		files:        files,
		vectors:      vectors,
		recorder:     monitor.Noop(),
		extractor:    extractor,
		embedder:     embedder,
		chunkSize:    chunking.DefaultSize,
		chunkOverlap: chunking.DefaultOverlap,
		batchSize:    DefaultEmbedBatchSize,
		stageTimeout: DefaultStageTimeout,
		logger:       slog.Default(),
		now:          func() time.Time { return time.Now().UTC() },
		ctx:          ctx,
		cancel:       cancel,
		inFlight:     make(map[string]struct{}),
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			c.Release(0)
			return nil, err
		}
	}
	c.logger = c.logger.With("component", "ingestion")

	if c.pool == nil {
		size := max(runtime.NumCPU()/2, 1)
		pool, err := newPool(size, c.logger)
		if err != nil {
			cancel()
			return nil, err
		}
		c.pool = pool
	}

	embeddingProc, err := newEmbeddingProcessor(embedder, c.batchSize, c.logger)
	if err != nil {
		c.Release(0)
		return nil, err
	}
	c.processors = []processor{
		&extractProcessor{files: files, extractor: extractor, logger: c.logger},
		&chunkProcessor{size: c.chunkSize, overlap: c.chunkOverlap},
		embeddingProc,
		&storeProcessor{vectors: vectors},
	}
	return c, nil
}

// Upload stores data, persists a pending record and schedules its run.
// The department is matched case-insensitively against the allow-list and
// falls back to core.DefaultDepartment. If the record cannot be persisted the
// stored file is removed again.
func (c *Coordinator) Upload(ctx context.Context, data []byte, filename, department string) (*core.DocumentRecord, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil, ErrCoordinatorClosed
	}

	name, err := core.SanitizeFilename(filename)
	if err != nil {
		return nil, err
	}
	dept := core.NormalizeDepartment(department)
	id := uuid.NewString()

	path, err := c.files.Save(ctx, id, name, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: save %s: %w", core.ErrStorage, name, err)
	}

	now := c.now()
	doc := &core.DocumentRecord{
		ID:          id,
		Filename:    name,
		ContentType: extraction.ContentTypeFor(name),
		Size:        int64(len(data)),
		Department:  dept,
		Status:      core.StatusPending,
		StoragePath: path,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := c.documents.CreateDocument(ctx, doc); err != nil {
		if rmErr := c.files.Remove(context.WithoutCancel(ctx), path); rmErr != nil {
			c.logger.Error("failed to remove file after metadata failure", "path", path, "err", rmErr)
		}
		return nil, fmt.Errorf("%w: create record: %w", core.ErrStorage, err)
	}

	c.logger.Info("document accepted", "document_id", id, "filename", name, "department", dept, "size", doc.Size)
	c.schedule(id)

	accepted := *doc
	return &accepted, nil
}

// schedule queues a run without blocking the caller. Documents already
// running in this process are skipped.
func (c *Coordinator) schedule(id string) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	if _, ok := c.inFlight[id]; ok {
		c.mu.Unlock()
		return false
	}
	c.inFlight[id] = struct{}{}
	c.wg.Add(1)
	c.mu.Unlock()

	done := func() {
		c.mu.Lock()
		delete(c.inFlight, id)
		c.mu.Unlock()
		c.wg.Done()
	}

	go func() {
		err := c.pool.Submit(func() {
			defer done()
			c.run(c.ctx, id)
		})
		if err != nil {
			c.logger.Warn("could not schedule document; it stays pending until reconciled", "document_id", id, "err", err)
			done()
		}
	}()
	return true
}

// run executes one document run. Every error, including panics, becomes the
// record's terminal failed state, except cancellation of the root context,
// which leaves the record in processing.
func (c *Coordinator) run(ctx context.Context, id string) {
	doc, err := c.documents.GetDocument(ctx, id)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			c.logger.Error("failed to load document for processing", "document_id", id, "err", err)
		}
		return
	}
	if doc.Status.IsTerminal() {
		c.logger.Debug("document already finished", "document_id", id, "status", doc.Status)
		return
	}

	pipelineID := c.recorder.StartRun(ctx, core.SubjectDocument, id)
	c.recorder.RecordEvent(ctx, pipelineID, core.StageOverall, core.PhaseStart, map[string]any{
		"document_id": id,
		"filename":    doc.Filename,
		"department":  doc.Department,
		"resumed":     doc.Status == core.StatusProcessing,
	})
	logger := c.logger.With("document_id", id, "pipeline_id", pipelineID)
	started := time.Now()

	doc.Status = core.StatusProcessing
	doc.PipelineID = pipelineID
	doc.UpdatedAt = c.now()
	if err := c.documents.UpdateDocument(ctx, doc); err != nil {
		if c.interrupted(ctx, err) {
			logger.Warn("document run interrupted before processing began")
			return
		}
		err = monitor.StartStage(ctx, c.recorder, pipelineID, StageStatus, nil).Fail(ctx, fmt.Errorf("%w: %w", core.ErrStorage, err), nil)
		c.recorder.RecordEvent(ctx, pipelineID, core.StageOverall, core.PhaseError, map[string]any{
			"error":       err.Error(),
			"error_type":  monitor.ErrorType(err),
			"stage":       core.StageOf(err),
			"duration_ms": time.Since(started).Milliseconds(),
		})
		logger.Error("failed to mark document processing", "err", err)
		return
	}

	j := &job{doc: doc}
	runErr := c.runStages(ctx, pipelineID, j)
	if runErr != nil && c.interrupted(ctx, runErr) {
		logger.Warn("document run interrupted; left in processing for reconciliation", "err", runErr)
		return
	}

	// the terminal update must land even if the caller is going away
	final := context.WithoutCancel(ctx)
	if runErr != nil {
		doc.Status = core.StatusFailed
		doc.ErrorMessage = runErr.Error()
	} else {
		doc.Status = core.StatusCompleted
		doc.ChunkCount = len(j.chunks)
	}
	doc.UpdatedAt = c.now()
	updateErr := c.documents.UpdateDocument(final, doc)
	if updateErr != nil {
		logger.Error("failed to record final document status", "status", doc.Status, "err", updateErr)
		if runErr == nil {
			runErr = core.NewStageError(StageStatus, fmt.Errorf("%w: %w", core.ErrStorage, updateErr))
		}
	}

	if (runErr != nil || updateErr != nil) && j.indexed {
		if err := c.vectors.DeleteDocument(final, id); err != nil {
			logger.Warn("failed to remove vectors of failed document", "err", err)
		}
	}

	if runErr != nil {
		c.recorder.RecordEvent(final, pipelineID, core.StageOverall, core.PhaseError, map[string]any{
			"error":      runErr.Error(),
			"error_type": monitor.ErrorType(runErr),
			"stage":      core.StageOf(runErr),
			"retryable":  core.Retryable(runErr),
		})
		logger.Warn("document processing failed", "stage", core.StageOf(runErr), "err", runErr)
		return
	}
	c.recorder.RecordEvent(final, pipelineID, core.StageOverall, core.PhaseEnd, map[string]any{
		"chunks": len(j.chunks),
	})
	logger.Info("document processed", "chunks", len(j.chunks), "elapsed", time.Since(started))
}

// interrupted reports whether err stems from the coordinator shutting down
// rather than from the document itself.
func (c *Coordinator) interrupted(ctx context.Context, err error) bool {
	return ctx.Err() != nil && errors.Is(err, context.Canceled)
}

// runStages executes the processors in order, each bracketed by stage events
// and bounded by the stage timeout. The first error stops the run and comes
// back tagged with its stage.
func (c *Coordinator) runStages(ctx context.Context, pipelineID string, j *job) error {
	for _, p := range c.processors {
		timer := monitor.StartStage(ctx, c.recorder, pipelineID, p.name(), nil)
		data, err := c.runStage(ctx, p, j)
		if err != nil {
			return timer.Fail(ctx, err, nil)
		}
		timer.End(ctx, data)
	}
	return nil
}

func (c *Coordinator) runStage(ctx context.Context, p processor, j *job) (data map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			data, err = nil, fmt.Errorf("panic in %s: %v", p.name(), r)
		}
	}()
	ctx, cancel := context.WithTimeout(ctx, c.stageTimeout)
	defer cancel()
	return p.process(ctx, j)
}

// Delete removes a document's vectors, file and record. The three removals
// are independent; each is retried once and its failure logged. Only the
// record removal decides the outcome. Returns storage.ErrNotFound when the
// record does not exist.
func (c *Coordinator) Delete(ctx context.Context, id string) error {
	doc, err := c.documents.GetDocument(ctx, id)
	if err != nil {
		return err
	}
	logger := c.logger.With("document_id", id)

	if err := retryOnce(ctx, func() error { return c.vectors.DeleteDocument(ctx, id) }); err != nil {
		logger.Error("failed to delete document vectors", "err", err)
	}
	if doc.StoragePath != "" {
		err := retryOnce(ctx, func() error {
			err := c.files.Remove(ctx, doc.StoragePath)
			if errors.Is(err, storage.ErrNotFound) {
				return nil
			}
			return err
		})
		if err != nil {
			logger.Error("failed to delete document file", "path", doc.StoragePath, "err", err)
		}
	}
	err = retryOnce(ctx, func() error { return c.documents.DeleteDocument(ctx, id) })
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return err
	case err != nil:
		logger.Error("failed to delete document record", "err", err)
		return fmt.Errorf("%w: delete record: %w", core.ErrStorage, err)
	}
	logger.Info("document deleted")
	return nil
}

// retryOnce runs fn, and runs it again if it failed with anything other
// than not-found or cancellation.
func retryOnce(ctx context.Context, fn func() error) error {
	err := fn()
	if err == nil || errors.Is(err, storage.ErrNotFound) || ctx.Err() != nil {
		return err
	}
	return fn()
}

// Reconcile schedules every document left pending or processing, such as
// runs interrupted by a previous shutdown. It returns how many were queued.
func (c *Coordinator) Reconcile(ctx context.Context) (int, error) {
	docs, err := c.documents.ListByStatus(ctx, core.StatusPending, core.StatusProcessing)
	if err != nil {
		return 0, fmt.Errorf("%w: list unfinished documents: %w", core.ErrStorage, err)
	}
	n := 0
	for _, doc := range docs {
		if c.schedule(doc.ID) {
			n++
		}
	}
	if n > 0 {
		c.logger.Info("rescheduled unfinished documents", "count", n)
	}
	return n, nil
}

// Wait blocks until every scheduled run has finished.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// Release stops accepting uploads, cancels in-flight runs and waits up to
// timeout for workers to exit. Interrupted documents stay in processing.
func (c *Coordinator) Release(timeout time.Duration) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	if c.pool == nil {
		return nil
	}
	if timeout <= 0 {
		c.pool.Release()
		return nil
	}
	return c.pool.ReleaseTimeout(timeout)
}
