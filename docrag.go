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

// Package docrag is a retrieval-augmented query engine. Documents are
// ingested asynchronously into a vector store and questions are answered
// from the passages of the asker's department.
//
// Engine wires the storage, AI, vector store and pipeline packages together
// from a config.Config.
package docrag

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/poiesic/docrag/ai"
	"github.com/poiesic/docrag/ai/openai"
	"github.com/poiesic/docrag/config"
	"github.com/poiesic/docrag/core"
	"github.com/poiesic/docrag/extraction"
	"github.com/poiesic/docrag/extraction/ocr/gcpvision"
	"github.com/poiesic/docrag/extraction/ocr/tesseract"
	"github.com/poiesic/docrag/ingestion"
	"github.com/poiesic/docrag/monitor"
	"github.com/poiesic/docrag/query"
	"github.com/poiesic/docrag/reindex"
	"github.com/poiesic/docrag/storage"
	"github.com/poiesic/docrag/storage/badger"
	"github.com/poiesic/docrag/storage/files"
	"github.com/poiesic/docrag/storage/gcs"
	"github.com/poiesic/docrag/storage/redis"
	"github.com/poiesic/docrag/vectorstore"
	"github.com/poiesic/docrag/vectorstore/chromem"
	"github.com/poiesic/docrag/vectorstore/qdrant"
)

// DefaultShutdownTimeout bounds how long Close waits for in-flight runs.
const DefaultShutdownTimeout = 30 * time.Second

// Engine is the entry point for document ingestion, queries and pipeline
// inspection.
type Engine struct {
	cfg       *config.Config
	backend   *badger.Backend
	documents storage.DocumentRepository
	history   storage.HistoryRepository
	runs      storage.RunLog
	files     storage.FileStore
	provider  ai.AIProvider
	vectors   vectorstore.Store
	extractor extraction.Extractor
	monitor   *monitor.Monitor
	ingest    *ingestion.Coordinator
	query     *query.Coordinator
	closers   []io.Closer
	logger    *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

// Option configures an Engine.
type Option func(*engineOptions)

type engineOptions struct {
	logger    *slog.Logger
	provider  ai.AIProvider
	vectors   vectorstore.Store
	files     storage.FileStore
	runs      storage.RunLog
	extractor extraction.Extractor
	inMemory  bool
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *engineOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithAIProvider replaces the configured OpenAI-compatible provider.
func WithAIProvider(provider ai.AIProvider) Option {
	return func(o *engineOptions) { o.provider = provider }
}

// WithVectorStore replaces the configured vector store.
func WithVectorStore(store vectorstore.Store) Option {
	return func(o *engineOptions) { o.vectors = store }
}

// WithFileStore replaces the configured file store.
func WithFileStore(fs storage.FileStore) Option {
	return func(o *engineOptions) { o.files = fs }
}

// WithRunLog replaces the configured run log.
func WithRunLog(runs storage.RunLog) Option {
	return func(o *engineOptions) { o.runs = runs }
}

// WithExtractor replaces the configured text extractor.
func WithExtractor(e extraction.Extractor) Option {
	return func(o *engineOptions) { o.extractor = e }
}

// InMemory keeps the metadata database in memory.
func InMemory() Option {
	return func(o *engineOptions) { o.inMemory = true }
}

// Open builds an Engine from cfg. Remote services (AI, vector store) are
// connected lazily on first use so the engine opens while they are down.
func Open(ctx context.Context, cfg *config.Config, opts ...Option) (_ *Engine, err error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: config is required", core.ErrValidation)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	options := &engineOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(options)
	}

	e := &Engine{cfg: cfg, logger: options.logger.With("component", "engine")}
	defer func() {
		if err != nil {
			e.Close()
		}
	}()

	if err := e.openMetadata(options); err != nil {
		return nil, err
	}
	if err := e.openRunLog(ctx, options); err != nil {
		return nil, err
	}
	if err := e.openFiles(ctx, options); err != nil {
		return nil, err
	}
	e.openAI(options)
	e.openVectors(options)
	if err := e.openExtractor(ctx, options); err != nil {
		return nil, err
	}

	e.monitor = monitor.New(e.runs, monitor.WithLogger(options.logger))

	ingestOpts := []ingestion.Option{
		ingestion.WithLogger(options.logger),
		ingestion.WithRecorder(e.monitor),
		ingestion.WithChunking(cfg.Ingestion.ChunkSize, cfg.Ingestion.ChunkOverlap),
		ingestion.WithEmbedBatchSize(cfg.Ingestion.EmbedBatchSize),
		ingestion.WithStageTimeout(cfg.Ingestion.StageTimeout),
	}
	if cfg.Ingestion.Workers > 0 {
		ingestOpts = append(ingestOpts, ingestion.WithPoolSize(cfg.Ingestion.Workers))
	}
	e.ingest, err = ingestion.NewCoordinator(e.documents, e.files, e.extractor, e.provider.Embedder(), e.vectors, ingestOpts...)
	if err != nil {
		return nil, err
	}

	e.query, err = query.NewCoordinator(e.history, e.provider, e.vectors,
		query.WithLogger(options.logger),
		query.WithRecorder(e.monitor),
		query.WithTopK(cfg.Query.TopK),
		query.WithContextBudget(cfg.Query.ContextBudget),
		query.WithSearchTimeout(cfg.Query.SearchTimeout),
		query.WithMaxTokens(cfg.AI.MaxTokens),
		query.WithGPU(cfg.AI.GPU),
	)
	if err != nil {
		return nil, err
	}

	if cfg.Ingestion.Reconcile {
		if _, err := e.ingest.Reconcile(ctx); err != nil {
			e.logger.Warn("startup reconciliation failed", "err", err)
		}
	}
	e.logger.Info("engine opened", "data_dir", cfg.Storage.DataDir, "vectors", cfg.Vectors.Provider, "files", cfg.Storage.Files, "run_log", cfg.Storage.RunLog)
	return e, nil
}

func (e *Engine) openMetadata(options *engineOptions) error {
	path := filepath.Join(e.cfg.Storage.DataDir, "metadata")
	backend, err := badger.OpenBackendWithLogger(path, options.inMemory, options.logger)
	if err != nil {
		return fmt.Errorf("%w: open metadata store: %w", core.ErrStorage, err)
	}
	e.backend = backend

	if e.documents, err = badger.NewDocumentRepository(backend); err != nil {
		return err
	}
	if e.history, err = badger.NewHistoryRepository(backend); err != nil {
		return err
	}
	return nil
}

func (e *Engine) openRunLog(ctx context.Context, options *engineOptions) error {
	if options.runs != nil {
		e.runs = options.runs
		return nil
	}
	var err error
	switch e.cfg.Storage.RunLog {
	case config.RunLogRedis:
		e.runs, err = redis.NewRunLog(ctx, redis.Options{
			Addr:      e.cfg.Storage.RedisAddr,
			Password:  e.cfg.Storage.RedisPassword,
			DB:        e.cfg.Storage.RedisDB,
			KeyPrefix: e.cfg.Storage.RedisPrefix,
			Logger:    options.logger,
		})
	default:
		e.runs, err = badger.NewRunLog(e.backend)
	}
	if err != nil {
		return fmt.Errorf("%w: open run log: %w", core.ErrStorage, err)
	}
	return nil
}

func (e *Engine) openFiles(ctx context.Context, options *engineOptions) error {
	if options.files != nil {
		e.files = options.files
		return nil
	}
	switch e.cfg.Storage.Files {
	case config.FilesGCS:
		store, err := gcs.New(ctx, gcs.Config{
			Bucket:          e.cfg.Storage.GCSBucket,
			Prefix:          e.cfg.Storage.GCSPrefix,
			CredentialsFile: e.cfg.Storage.GCSCredentials,
			EmulatorHost:    e.cfg.Storage.GCSEmulator,
		}, options.logger)
		if err != nil {
			return fmt.Errorf("%w: open object storage: %w", core.ErrStorage, err)
		}
		e.files = store
		e.closers = append(e.closers, store)
	default:
		store, err := files.New(e.cfg.Storage.FilesDir)
		if err != nil {
			return fmt.Errorf("%w: open file store: %w", core.ErrStorage, err)
		}
		e.files = store
	}
	return nil
}

func (e *Engine) openAI(options *engineOptions) {
	if options.provider != nil {
		e.provider = options.provider
		return
	}
	aiCfg := e.cfg.AIConfig()
	e.provider = ai.NewLazyProvider(openai.Factory(aiCfg), aiCfg.GenerationModel, options.logger)
}

func (e *Engine) openVectors(options *engineOptions) {
	if options.vectors != nil {
		e.vectors = options.vectors
		return
	}
	cfg := e.cfg.Vectors
	logger := options.logger
	var factory vectorstore.Factory
	switch cfg.Provider {
	case config.VectorsQdrant:
		embedder := e.provider.Embedder()
		factory = func(ctx context.Context) (vectorstore.Store, error) {
			dim, err := embedder.Dimension(ctx)
			if err != nil {
				return nil, fmt.Errorf("determine vector size: %w", err)
			}
			return qdrant.New(ctx, qdrant.Config{
				Host:       cfg.QdrantHost,
				Port:       cfg.QdrantPort,
				APIKey:     cfg.QdrantAPIKey,
				UseTLS:     cfg.QdrantTLS,
				Collection: cfg.Collection,
				VectorSize: dim,
				Timeout:    cfg.Timeout,
			}, logger)
		}
	default:
		path := cfg.ChromemPath
		if options.inMemory {
			path = ""
		}
		factory = func(context.Context) (vectorstore.Store, error) {
			return chromem.New(chromem.Config{
				Path:       path,
				Compress:   cfg.ChromemCompress,
				Collection: cfg.Collection,
			}, logger)
		}
	}
	e.vectors = vectorstore.NewLazy(factory, logger)
}

func (e *Engine) openExtractor(ctx context.Context, options *engineOptions) error {
	if options.extractor != nil {
		e.extractor = options.extractor
		return nil
	}
	cfg := e.cfg.Extraction
	extractOpts := []extraction.Option{
		extraction.WithLogger(options.logger),
		extraction.WithMinPageChars(cfg.MinPageChars),
		extraction.WithOCRTimeout(cfg.OCRTimeout),
	}

	switch cfg.OCR {
	case config.OCRTesseract:
		ocr := tesseract.New(cfg.TesseractLang)
		if cfg.TesseractPath != "" {
			ocr.Binary = cfg.TesseractPath
		}
		if !ocr.Available() {
			e.logger.Warn("tesseract not found; OCR will fail until it is installed", "binary", ocr.Binary)
		}
		extractOpts = append(extractOpts, extraction.WithOCR(ocr))
	case config.OCRGCPVision:
		ocr, err := gcpvision.New(ctx, gcpvision.Config{CredentialsFile: cfg.GCPCredentials}, options.logger)
		if err != nil {
			return fmt.Errorf("open vision client: %w", err)
		}
		e.closers = append(e.closers, ocr)
		extractOpts = append(extractOpts, extraction.WithOCR(ocr))
	}

	if cfg.OCR != config.OCRNone {
		renderer := extraction.NewPdftoppm()
		if cfg.RenderDPI > 0 {
			renderer.DPI = cfg.RenderDPI
		}
		if cfg.PdftoppmPath != "" {
			renderer.Binary = cfg.PdftoppmPath
		}
		if renderer.Available() {
			extractOpts = append(extractOpts, extraction.WithRenderer(renderer))
		} else {
			e.logger.Warn("pdftoppm not found; scanned PDF pages will not be OCR'd", "binary", renderer.Binary)
		}
	}
	e.extractor = extraction.New(extractOpts...)
	return nil
}

// SubmitDocument stores data and schedules its ingestion. The returned
// record is pending; poll GetDocument for the outcome.
func (e *Engine) SubmitDocument(ctx context.Context, data []byte, filename, department string) (*core.DocumentRecord, error) {
	return e.ingest.Upload(ctx, data, filename, department)
}

// GetDocument returns a document record.
// Returns storage.ErrNotFound if the document doesn't exist.
func (e *Engine) GetDocument(ctx context.Context, id string) (*core.DocumentRecord, error) {
	return e.documents.GetDocument(ctx, id)
}

// ListDocuments pages through documents of department, newest first. An
// empty department lists every document; an unknown one is rejected.
func (e *Engine) ListDocuments(ctx context.Context, department string, skip, limit int) ([]*core.DocumentRecord, int, error) {
	if skip < 0 || limit < 0 {
		return nil, 0, fmt.Errorf("%w: skip and limit cannot be negative", core.ErrValidation)
	}
	if department != "" {
		if !core.IsKnownDepartment(department) {
			return nil, 0, fmt.Errorf("%w: unknown department %q", core.ErrValidation, department)
		}
		department = core.NormalizeDepartment(department)
	}
	return e.documents.ListByDepartment(ctx, department, skip, limit)
}

// DeleteDocument removes a document's vectors, file and record.
// Returns storage.ErrNotFound if the document doesn't exist.
func (e *Engine) DeleteDocument(ctx context.Context, id string) error {
	return e.ingest.Delete(ctx, id)
}

// Ask answers question from documents of department.
func (e *Engine) Ask(ctx context.Context, question, department, userID string) (*query.Response, error) {
	return e.query.Ask(ctx, question, department, userID)
}

// Search returns the passages of department nearest to text without
// generating an answer. A topK below 1 uses the configured query top_k.
func (e *Engine) Search(ctx context.Context, text, department string, topK int) ([]vectorstore.Match, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: search text is empty", core.ErrValidation)
	}
	if topK < 1 {
		topK = e.cfg.Query.TopK
	}
	vector, err := e.provider.Embedder().EmbedText(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrEmbeddingUnavailable, err)
	}
	matches, err := e.vectors.Search(ctx, vector, core.NormalizeDepartment(department), topK)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrVectorStoreUnavailable, err)
	}
	return matches, nil
}

// ListHistory returns up to limit recent queries, newest first.
func (e *Engine) ListHistory(ctx context.Context, department string, limit int) ([]*core.QueryHistoryEntry, error) {
	if department != "" {
		department = core.NormalizeDepartment(department)
	}
	return e.history.ListRecent(ctx, department, limit)
}

// GetPipeline returns a pipeline run with its events.
// Returns storage.ErrNotFound if the run doesn't exist.
func (e *Engine) GetPipeline(ctx context.Context, id string) (*core.PipelineRun, error) {
	return e.monitor.GetRun(ctx, id)
}

// ListPipelines summarizes every pipeline run, most recent first.
func (e *Engine) ListPipelines(ctx context.Context) ([]core.RunSummary, error) {
	return e.monitor.ListRuns(ctx)
}

// GetStats aggregates runs started within window; zero covers all runs.
func (e *Engine) GetStats(ctx context.Context, window time.Duration) (*core.Stats, error) {
	return e.monitor.AggregateStats(ctx, window)
}

// Reconcile re-schedules documents left pending or processing.
func (e *Engine) Reconcile(ctx context.Context) (int, error) {
	return e.ingest.Reconcile(ctx)
}

// Wait blocks until every scheduled ingestion run has finished.
func (e *Engine) Wait() {
	e.ingest.Wait()
}

// Reindex rebuilds the vectors of completed documents. A nil cfg uses
// reindex.DefaultConfig; a zero ChunkSize or EmbedBatchSize takes the
// engine's ingestion settings.
func (e *Engine) Reindex(ctx context.Context, cfg *reindex.Config, progress io.Writer) (*reindex.Result, error) {
	var c reindex.Config
	if cfg == nil {
		c = *reindex.DefaultConfig()
		c.ChunkSize = 0
		c.EmbedBatchSize = 0
	} else {
		c = *cfg
	}
	if c.ChunkSize == 0 {
		c.ChunkSize = e.cfg.Ingestion.ChunkSize
		c.ChunkOverlap = e.cfg.Ingestion.ChunkOverlap
	}
	if c.EmbedBatchSize == 0 {
		c.EmbedBatchSize = e.cfg.Ingestion.EmbedBatchSize
	}
	r := reindex.NewReindexer(e.documents, e.files, e.extractor, e.provider.Embedder(), e.vectors, &c, progress, e.logger)
	return r.Run(ctx)
}

// Close cancels in-flight ingestion runs, waits up to DefaultShutdownTimeout
// for the workers to exit, then closes every store. Canceled runs stay in
// processing and are picked up by Reconcile. Close is idempotent.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		if e.ingest != nil {
			if err := e.ingest.Release(DefaultShutdownTimeout); err != nil {
				e.logger.Warn("ingestion workers did not stop in time", "err", err)
			}
		}
		e.closeErr = e.closeAll()
	})
	return e.closeErr
}

func (e *Engine) closeAll() error {
	var errs []error
	if e.provider != nil {
		if err := e.provider.Close(); err != nil {
			e.logger.Error("error closing AI provider", "err", err)
		}
	}
	if e.vectors != nil {
		if err := e.vectors.Close(); err != nil {
			e.logger.Error("error closing vector store", "err", err)
			errs = append(errs, err)
		}
	}
	for _, c := range e.closers {
		if err := c.Close(); err != nil {
			e.logger.Error("error closing client", "err", err)
		}
	}
	if e.runs != nil {
		if err := e.runs.Close(); err != nil {
			e.logger.Error("error closing run log", "err", err)
			errs = append(errs, err)
		}
	}
	if e.history != nil {
		if err := e.history.Close(); err != nil {
			e.logger.Error("error closing history repository", "err", err)
			errs = append(errs, err)
		}
	}
	if e.documents != nil {
		if err := e.documents.Close(); err != nil {
			e.logger.Error("error closing document repository", "err", err)
			errs = append(errs, err)
		}
	}
	if e.backend != nil {
		if err := e.backend.Close(); err != nil {
			e.logger.Error("error closing backend storage", "err", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
