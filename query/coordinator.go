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

package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/poiesic/docrag/ai"
	"github.com/poiesic/docrag/core"
	"github.com/poiesic/docrag/monitor"
	"github.com/poiesic/docrag/storage"
	"github.com/poiesic/docrag/vectorstore"
)

// Stage names recorded on query runs.
const (
	StageEmbedding = "Query Embedding"
	StageSearch    = "Vector Search"
	StageContext   = "Context Assembly"
	StagePrompt    = "Prompt Construction"
	StageGenerate  = "Generation"
	StageHistory   = "History Logging"
)

const (
	// DefaultTopK is the number of passages retrieved per question.
	DefaultTopK = 5
	// DefaultContextBudget is the maximum number of context runes sent to the generator.
	DefaultContextBudget = 4000
	// DefaultSearchTimeout bounds a vector search.
	DefaultSearchTimeout = 30 * time.Second
)

// Answer texts used when no generated answer is available.
const (
	embeddingFailedAnswer  = "The question could not be processed because the embedding service is unavailable. Please try again later."
	generationFailedPrefix = "An answer could not be generated: "
)

// Response is the answer to one question.
type Response struct {
	Query          string                `json:"query"`
	Answer         string                `json:"answer"`
	Model          string                `json:"model"`
	Department     string                `json:"department"`
	Sources        []core.SourceDocument `json:"sources"`
	ProcessingTime time.Duration         `json:"processing_time"`
	HistoryID      string                `json:"history_id,omitempty"`
	Status         core.QueryStatus      `json:"status"`
	PipelineID     string                `json:"pipeline_id"`
}

// Coordinator answers questions against the vector store.
type Coordinator struct {
	history   storage.HistoryRepository
	embedder  ai.Embedder
	generator ai.Generator
	vectors   vectorstore.Store
	recorder  monitor.Recorder
	logger    *slog.Logger
	now       func() time.Time

	topK          int
	contextBudget int
	maxTokens     int
	searchTimeout time.Duration
	gpu           bool
}

// Option configures a Coordinator.
type Option func(*Coordinator) error

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

// WithTopK sets how many passages are retrieved.
func WithTopK(k int) Option {
	return func(c *Coordinator) error {
		if k < 1 {
			return fmt.Errorf("top k must be positive, got %d", k)
		}
		c.topK = k
		return nil
	}
}

// WithContextBudget sets the maximum context length in runes.
func WithContextBudget(runes int) Option {
	return func(c *Coordinator) error {
		if runes < 1 {
			return fmt.Errorf("context budget must be positive, got %d", runes)
		}
		c.contextBudget = runes
		return nil
	}
}

// WithMaxTokens sets the completion budget passed to the generator.
// Zero uses the generator's own default.
func WithMaxTokens(n int) Option {
	return func(c *Coordinator) error {
		c.maxTokens = max(n, 0)
		return nil
	}
}

// WithSearchTimeout bounds each vector search.
func WithSearchTimeout(d time.Duration) Option {
	return func(c *Coordinator) error {
		if d <= 0 {
			return fmt.Errorf("search timeout must be positive, got %s", d)
		}
		c.searchTimeout = d
		return nil
	}
}

// WithGPU records the generation backend's GPU flag on history entries.
func WithGPU(gpu bool) Option {
	return func(c *Coordinator) error {
		c.gpu = gpu
		return nil
	}
}

// WithClock overrides the time source used for history timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) error {
		if now != nil {
			c.now = now
		}
		return nil
	}
}

// NewCoordinator creates a new query coordinator.
func NewCoordinator(
	history storage.HistoryRepository,
	provider ai.AIProvider,
	vectors vectorstore.Store,
	opts ...Option,
) (*Coordinator, error) {
	if history == nil {
		return nil, ErrHistoryRepositoryRequired
	}
	if provider == nil {
		return nil, ErrAIProviderRequired
	}
	if vectors == nil {
		return nil, ErrVectorStoreRequired
	}

	c := &Coordinator{
		history:       history,
		embedder:      provider.Embedder(),
		generator:     provider.Generator(),
		vectors:       vectors,
		recorder:      monitor.Noop(),
		logger:        slog.Default(),
		now:           func() time.Time { return time.Now().UTC() },
		topK:          DefaultTopK,
		contextBudget: DefaultContextBudget,
		searchTimeout: DefaultSearchTimeout,
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	c.logger = c.logger.With("component", "query")
	return c, nil
}

// Ask answers question from documents of department. The department is
// normalized against the allow-list like uploads are.
//
// The returned error is non-nil only for rejected input and for a failed
// question embedding; in the latter case the Response is still returned and
// history has been written. Every other failure is reported through
// Response.Status.
func (c *Coordinator) Ask(ctx context.Context, question, department, userID string) (*Response, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, fmt.Errorf("%w: %w", core.ErrValidation, ErrEmptyQuery)
	}
	dept := core.NormalizeDepartment(department)
	started := time.Now()

	historyID := uuid.NewString()
	pipelineID := c.recorder.StartRun(ctx, core.SubjectQuery, historyID)
	c.recorder.RecordEvent(ctx, pipelineID, core.StageOverall, core.PhaseStart, map[string]any{
		"department": dept,
		"user_id":    userID,
		"chars":      len(question),
	})
	logger := c.logger.With("pipeline_id", pipelineID, "department", dept)

	resp := &Response{
		Query:      question,
		Model:      c.generator.Model(),
		Department: dept,
		Status:     core.QueryOK,
		PipelineID: pipelineID,
	}

	// 1. embed
	timer := monitor.StartStage(ctx, c.recorder, pipelineID, StageEmbedding, nil)
	vector, err := c.embedder.EmbedText(ctx, question)
	if err == nil && len(vector) == 0 {
		err = errors.New("empty query vector")
	}
	if err != nil {
		if !errors.Is(err, core.ErrEmbeddingUnavailable) {
			err = fmt.Errorf("%w: %w", core.ErrEmbeddingUnavailable, err)
		}
		err = timer.Fail(ctx, err, nil)
		logger.Error("error generating embedding for query", "err", err)
		resp.Answer = embeddingFailedAnswer
		resp.Status = core.QueryEmbeddingFailed
		c.finish(ctx, resp, historyID, userID, started, err)
		return resp, err
	}
	timer.End(ctx, map[string]any{"dimension": len(vector)})

	// 2. search
	matches := c.search(ctx, pipelineID, vector, dept, resp, logger)

	// 3. context
	timer = monitor.StartStage(ctx, c.recorder, pipelineID, StageContext, nil)
	assembledCtx := assembleContext(matches, c.contextBudget)
	resp.Sources = assembledCtx.sources
	timer.End(ctx, map[string]any{
		"passages":  len(assembledCtx.sources),
		"chars":     assembledCtx.chars,
		"truncated": assembledCtx.truncated,
	})

	// 4. prompt
	timer = monitor.StartStage(ctx, c.recorder, pipelineID, StagePrompt, nil)
	prompt, grounded, err := buildPrompt(question, dept, assembledCtx.text)
	if err != nil {
		err = timer.Fail(ctx, err, nil)
		logger.Error("error building prompt", "err", err)
		resp.Answer = generationFailedPrefix + err.Error()
		resp.Status = core.QueryGenerationFailed
		c.finish(ctx, resp, historyID, userID, started, err)
		return resp, nil
	}
	timer.End(ctx, map[string]any{"grounded": grounded, "chars": len(prompt)})

	// 5. generate, exactly once
	timer = monitor.StartStage(ctx, c.recorder, pipelineID, StageGenerate, map[string]any{"model": resp.Model})
	answer, err := c.generator.Generate(ctx, prompt, c.maxTokens)
	if err == nil && strings.TrimSpace(answer) == "" {
		err = errors.New("generator returned an empty answer")
	}
	if err != nil {
		if !errors.Is(err, core.ErrGeneration) {
			err = fmt.Errorf("%w: %w", core.ErrGeneration, err)
		}
		err = timer.Fail(ctx, err, nil)
		logger.Error("error generating answer", "err", err)
		resp.Answer = generationFailedPrefix + errors.Unwrap(err).Error()
		resp.Status = core.QueryGenerationFailed
		c.finish(ctx, resp, historyID, userID, started, err)
		return resp, nil
	}
	resp.Answer = strings.TrimSpace(answer)
	timer.End(ctx, map[string]any{"chars": len(resp.Answer)})

	c.finish(ctx, resp, historyID, userID, started, nil)
	return resp, nil
}

// search runs the department-filtered vector search. Any failure degrades
// the response to answering without context.
func (c *Coordinator) search(ctx context.Context, pipelineID string, vector []float32, dept string, resp *Response, logger *slog.Logger) []vectorstore.Match {
	timer := monitor.StartStage(ctx, c.recorder, pipelineID, StageSearch, map[string]any{"top_k": c.topK})
	searchCtx, cancel := context.WithTimeout(ctx, c.searchTimeout)
	defer cancel()

	matches, err := c.vectors.Search(searchCtx, vector, dept, c.topK)
	if err != nil {
		if !errors.Is(err, core.ErrVectorStoreUnavailable) {
			err = fmt.Errorf("%w: %w", core.ErrVectorStoreUnavailable, err)
		}
		timer.Fail(ctx, err, map[string]any{"degraded": true})
		logger.Warn("vector search failed; answering without context", "err", err)
		resp.Status = core.QueryDegraded
		return nil
	}
	timer.End(ctx, map[string]any{"matches": len(matches)})
	return matches
}

// finish writes the history entry and the terminal event. History failures
// are logged and never reach the caller.
func (c *Coordinator) finish(ctx context.Context, resp *Response, historyID, userID string, started time.Time, runErr error) {
	resp.ProcessingTime = time.Since(started)
	pipelineID := resp.PipelineID
	// the exchange is logged even if the caller has gone away
	ctx = context.WithoutCancel(ctx)

	sources := resp.Sources
	if sources == nil {
		sources = []core.SourceDocument{}
	}
	entry := &core.QueryHistoryEntry{
		ID:               historyID,
		QueryText:        resp.Query,
		ResponseText:     resp.Answer,
		Department:       resp.Department,
		UserID:           userID,
		Sources:          sources,
		ProcessingTimeMS: resp.ProcessingTime.Milliseconds(),
		ModelUsed:        resp.Model,
		GPU:              c.gpu,
		Status:           resp.Status,
		CreatedAt:        c.now(),
	}
	timer := monitor.StartStage(ctx, c.recorder, pipelineID, StageHistory, nil)
	if err := c.history.AddHistory(ctx, entry); err != nil {
		timer.Fail(ctx, fmt.Errorf("%w: %w", core.ErrHistoryLogging, err), nil)
		c.logger.Error("failed to log query history", "pipeline_id", pipelineID, "err", err)
	} else {
		resp.HistoryID = historyID
		timer.End(ctx, map[string]any{"history_id": historyID})
	}

	data := map[string]any{
		"status":      string(resp.Status),
		"sources":     len(resp.Sources),
		"duration_ms": resp.ProcessingTime.Milliseconds(),
	}
	if runErr != nil {
		data["error"] = runErr.Error()
		data["error_type"] = monitor.ErrorType(runErr)
		data["stage"] = core.StageOf(runErr)
		c.recorder.RecordEvent(ctx, pipelineID, core.StageOverall, core.PhaseError, data)
		return
	}
	c.recorder.RecordEvent(ctx, pipelineID, core.StageOverall, core.PhaseEnd, data)
	c.logger.Debug("query answered", "pipeline_id", pipelineID, "status", resp.Status, "sources", len(resp.Sources), "elapsed", resp.ProcessingTime)
}
