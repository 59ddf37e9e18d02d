package ingestion_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"sync/atomic"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/docrag/ai/mock"
	"github.com/poiesic/docrag/chunking"
	"github.com/poiesic/docrag/core"
	"github.com/poiesic/docrag/extraction"
	"github.com/poiesic/docrag/ingestion"
	"github.com/poiesic/docrag/monitor"
	"github.com/poiesic/docrag/storage"
	"github.com/poiesic/docrag/storage/badger"
	"github.com/poiesic/docrag/storage/files"
	"github.com/poiesic/docrag/vectorstore"
	"github.com/poiesic/docrag/vectorstore/chromem"
)

type fixture struct {
	coord    *ingestion.Coordinator
	stores   *badger.MemoryStores
	files    storage.FileStore
	filesDir string
	vectors  *chromem.Store
	embedder *mock.MockEmbedder
	monitor  *monitor.Monitor
}

type fixtureOption func(*fixtureConfig)

type fixtureConfig struct {
	extractor extraction.Extractor
	opts      []ingestion.Option
	vectors   func(vectorstore.Store) vectorstore.Store
	documents func(storage.DocumentRepository) storage.DocumentRepository
}

// withVectors wraps the vector store handed to the coordinator.
func withVectors(wrap func(vectorstore.Store) vectorstore.Store) fixtureOption {
	return func(c *fixtureConfig) { c.vectors = wrap }
}

// withDocuments wraps the document repository handed to the coordinator.
func withDocuments(wrap func(storage.DocumentRepository) storage.DocumentRepository) fixtureOption {
	return func(c *fixtureConfig) { c.documents = wrap }
}

func withExtractor(e extraction.Extractor) fixtureOption {
	return func(c *fixtureConfig) { c.extractor = e }
}

func withOptions(opts ...ingestion.Option) fixtureOption {
	return func(c *fixtureConfig) { c.opts = append(c.opts, opts...) }
}

func newFixture(t *testing.T, fopts ...fixtureOption) *fixture {
	t.Helper()
	cfg := &fixtureConfig{extractor: extraction.New()}
	for _, o := range fopts {
		o(cfg)
	}

	stores, err := badger.NewMemoryStores()
	require.NoError(t, err)
	t.Cleanup(func() { stores.Close() })

	dir := t.TempDir()
	fs, err := files.New(dir)
	require.NoError(t, err)

	vectors, err := chromem.New(chromem.Config{}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { vectors.Close() })

	embedder := mock.NewMockEmbedder()
	embedder.Dim = 32
	mon := monitor.New(stores.Runs)

	opts := append([]ingestion.Option{
		ingestion.WithPoolSize(2),
		ingestion.WithRecorder(mon),
		ingestion.WithChunking(200, 20),
	}, cfg.opts...)
	var store vectorstore.Store = vectors
	if cfg.vectors != nil {
		store = cfg.vectors(vectors)
	}
	var docs storage.DocumentRepository = stores.Documents
	if cfg.documents != nil {
		docs = cfg.documents(stores.Documents)
	}
	coord, err := ingestion.NewCoordinator(docs, fs, cfg.extractor, embedder, store, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { coord.Release(time.Second) })

	return &fixture{
		coord:    coord,
		stores:   stores,
		files:    fs,
		filesDir: dir,
		vectors:  vectors,
		embedder: embedder,
		monitor:  mon,
	}
}

func (f *fixture) upload(t *testing.T, data, filename, dept string) *core.DocumentRecord {
	t.Helper()
	doc, err := f.coord.Upload(context.Background(), []byte(data), filename, dept)
	require.NoError(t, err)
	f.coord.Wait()
	stored, err := f.stores.Documents.GetDocument(context.Background(), doc.ID)
	require.NoError(t, err)
	return stored
}

func (f *fixture) search(t *testing.T, text, dept string) []vectorstore.Match {
	t.Helper()
	vec := mock.GenerateDeterministicVector(text, 32)
	matches, err := f.vectors.Search(context.Background(), vec, dept, 10)
	require.NoError(t, err)
	return matches
}

// stubExtractor returns fixed pages regardless of input.
type stubExtractor struct {
	pages []chunking.Page
	err   error
	panic bool
}

func (s *stubExtractor) Extract(ctx context.Context, filename string, data []byte) (*extraction.Result, error) {
	if s.panic {
		panic("extractor exploded")
	}
	if s.err != nil {
		return nil, s.err
	}
	return &extraction.Result{Pages: s.pages, Format: "pdf", Method: extraction.MethodNative}, nil
}

// blockingExtractor holds every extraction until released.
type blockingExtractor struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func newBlockingExtractor() *blockingExtractor {
	return &blockingExtractor{started: make(chan struct{}), release: make(chan struct{})}
}

func (b *blockingExtractor) Extract(ctx context.Context, filename string, data []byte) (*extraction.Result, error) {
	b.once.Do(func() { close(b.started) })
	select {
	case <-b.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &extraction.Result{Pages: []chunking.Page{{Text: string(data)}}, Format: "txt", Method: extraction.MethodNative}, nil
}

const handbook = "Employees accrue twenty days of paid leave per year. " +
	"Leave requests go through the HR portal at least two weeks in advance."

func TestNewCoordinator_RequiresDependencies(t *testing.T) {
	stores, err := badger.NewMemoryStores()
	require.NoError(t, err)
	defer stores.Close()
	fs, err := files.New(t.TempDir())
	require.NoError(t, err)
	vectors, err := chromem.New(chromem.Config{}, nil)
	require.NoError(t, err)
	ex := extraction.New()
	emb := mock.NewMockEmbedder()

	_, err = ingestion.NewCoordinator(nil, fs, ex, emb, vectors)
	assert.ErrorIs(t, err, ingestion.ErrDocumentRepositoryRequired)
	_, err = ingestion.NewCoordinator(stores.Documents, nil, ex, emb, vectors)
	assert.ErrorIs(t, err, ingestion.ErrFileStoreRequired)
	_, err = ingestion.NewCoordinator(stores.Documents, fs, nil, emb, vectors)
	assert.ErrorIs(t, err, ingestion.ErrExtractorRequired)
	_, err = ingestion.NewCoordinator(stores.Documents, fs, ex, nil, vectors)
	assert.ErrorIs(t, err, ingestion.ErrEmbedderRequired)
	_, err = ingestion.NewCoordinator(stores.Documents, fs, ex, emb, nil)
	assert.ErrorIs(t, err, ingestion.ErrVectorStoreRequired)

	_, err = ingestion.NewCoordinator(stores.Documents, fs, ex, emb, vectors, ingestion.WithEmbedBatchSize(0))
	assert.Error(t, err)
	_, err = ingestion.NewCoordinator(stores.Documents, fs, ex, emb, vectors, ingestion.WithStageTimeout(0))
	assert.Error(t, err)
}

func TestUpload_ReturnsPendingRecord(t *testing.T) {
	blocker := newBlockingExtractor()
	f := newFixture(t, withExtractor(blocker))
	ctx := context.Background()

	doc, err := f.coord.Upload(ctx, []byte(handbook), "leave.txt", "hr")
	require.NoError(t, err)
	assert.Equal(t, core.StatusPending, doc.Status)
	assert.Equal(t, "leave.txt", doc.Filename)
	assert.Equal(t, "HR", doc.Department)
	assert.Equal(t, int64(len(handbook)), doc.Size)
	assert.Equal(t, "text/plain", doc.ContentType)
	require.NotEmpty(t, doc.StoragePath)

	exists, err := f.files.Exists(ctx, doc.StoragePath)
	require.NoError(t, err)
	assert.True(t, exists)

	<-blocker.started
	stored, err := f.stores.Documents.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusProcessing, stored.Status)
	assert.NotEmpty(t, stored.PipelineID)

	close(blocker.release)
	f.coord.Wait()
	stored, err = f.stores.Documents.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusCompleted, stored.Status)
}

func TestUpload_CompletesAndIsSearchable(t *testing.T) {
	f := newFixture(t)
	doc := f.upload(t, handbook, "leave.txt", "HR")

	assert.Equal(t, core.StatusCompleted, doc.Status)
	assert.Empty(t, doc.ErrorMessage)
	assert.Equal(t, 1, doc.ChunkCount)
	assert.Equal(t, 1, f.vectors.Count())

	matches := f.search(t, handbook, "hr")
	require.Len(t, matches, 1)
	assert.Equal(t, doc.ID, matches[0].DocumentID)
	assert.Equal(t, "leave.txt", matches[0].DocumentName)
	assert.Equal(t, "hr", matches[0].Department)
	assert.Equal(t, handbook, matches[0].Text)
	assert.InDelta(t, 1.0, matches[0].Score, 1e-4)
}

func TestUpload_DepartmentIsolation(t *testing.T) {
	f := newFixture(t)
	f.upload(t, handbook, "leave.txt", "HR")
	f.upload(t, "Quarterly revenue grew by eight percent on strong subscription sales.", "q3.txt", "finance")

	for _, m := range f.search(t, handbook, "HR") {
		assert.Equal(t, "hr", m.Department)
	}
	for _, m := range f.search(t, handbook, "Finance") {
		assert.Equal(t, "finance", m.Department)
		assert.Equal(t, "q3.txt", m.DocumentName)
	}
	assert.Empty(t, f.search(t, handbook, "legal"))
	assert.Len(t, f.search(t, handbook, ""), 2)
}

func TestUpload_DepartmentFallsBackToGeneral(t *testing.T) {
	f := newFixture(t)
	doc := f.upload(t, handbook, "leave.txt", "Astrology")
	assert.Equal(t, core.DefaultDepartment, doc.Department)
	assert.Len(t, f.search(t, handbook, "general"), 1)
}

func TestUpload_SanitizesFilename(t *testing.T) {
	f := newFixture(t)
	doc := f.upload(t, handbook, "../../etc/leave.txt", "HR")
	assert.Equal(t, "leave.txt", doc.Filename)

	_, err := f.coord.Upload(context.Background(), []byte(handbook), "  ", "HR")
	assert.ErrorIs(t, err, core.ErrValidation)

	page, total, err := f.stores.Documents.ListByDepartment(context.Background(), "", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Len(t, page, 1)
}

func TestUpload_EmptyFileFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	doc := f.upload(t, "", "empty.txt", "IT")
	assert.Equal(t, core.StatusFailed, doc.Status)
	assert.Contains(t, doc.ErrorMessage, core.ErrNoContentExtracted.Error())
	assert.Zero(t, doc.ChunkCount)
	assert.Zero(t, f.vectors.Count())

	stats, err := f.monitor.AggregateStats(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Subjects[core.SubjectDocument].Total)
	assert.Equal(t, 1, stats.Subjects[core.SubjectDocument].Errored)
	assert.Equal(t, 1, stats.StageErrors[ingestion.StageExtraction])
}

func TestUpload_UnsupportedFormatFails(t *testing.T) {
	f := newFixture(t)
	doc := f.upload(t, "MZ\x90\x00", "setup.exe", "IT")
	assert.Equal(t, core.StatusFailed, doc.Status)
	assert.Contains(t, doc.ErrorMessage, core.ErrUnsupportedFormat.Error())
	assert.Contains(t, doc.ErrorMessage, ingestion.StageExtraction)
}

func TestUpload_EmbeddingFailureLeavesNoVectors(t *testing.T) {
	f := newFixture(t)
	f.embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		return nil, errors.New("connection refused")
	}
	ctx := context.Background()

	doc := f.upload(t, handbook, "leave.txt", "HR")
	assert.Equal(t, core.StatusFailed, doc.Status)
	assert.Contains(t, doc.ErrorMessage, core.ErrEmbeddingUnavailable.Error())
	assert.Zero(t, f.vectors.Count())

	run, err := f.monitor.GetRun(ctx, doc.PipelineID)
	require.NoError(t, err)
	term := run.Terminal()
	require.NotNil(t, term)
	assert.Equal(t, core.PhaseError, term.Phase)
	assert.Equal(t, ingestion.StageEmbedding, term.Data["stage"])
	assert.Equal(t, monitor.ErrorTypeEmbedding, term.Data["error_type"])
}

func TestUpload_ExtractorPanicFailsDocument(t *testing.T) {
	f := newFixture(t, withExtractor(&stubExtractor{panic: true}))
	doc := f.upload(t, "whatever", "report.pdf", "Legal")
	assert.Equal(t, core.StatusFailed, doc.Status)
	assert.Contains(t, doc.ErrorMessage, "extractor exploded")
}

func TestUpload_PagedDocumentRun(t *testing.T) {
	pages := []chunking.Page{
		{Number: 1, Text: strings.Repeat("Revenue recognition policy applies to all contracts. ", 6)},
		{Number: 2, Text: "Appendix A lists the approved vendors."},
	}
	f := newFixture(t, withExtractor(&stubExtractor{pages: pages}))
	ctx := context.Background()

	doc := f.upload(t, "%PDF-1.4 stub", "report.pdf", "finance")
	require.Equal(t, core.StatusCompleted, doc.Status)
	assert.Equal(t, "application/pdf", doc.ContentType)
	assert.Greater(t, doc.ChunkCount, 2)
	assert.Equal(t, doc.ChunkCount, f.vectors.Count())

	matches := f.search(t, pages[1].Text, "finance")
	require.NotEmpty(t, matches)
	assert.Equal(t, 2, matches[0].Page)
	assert.Equal(t, pages[1].Text, matches[0].Text)

	run, err := f.monitor.GetRun(ctx, doc.PipelineID)
	require.NoError(t, err)
	assert.Equal(t, core.SubjectDocument, run.SubjectType)
	assert.Equal(t, doc.ID, run.SubjectID)

	var got []string
	for _, e := range run.Events {
		got = append(got, e.Stage+"/"+string(e.Phase))
	}
	assert.Equal(t, []string{
		core.StageOverall + "/start",
		ingestion.StageExtraction + "/start",
		ingestion.StageExtraction + "/end",
		ingestion.StageChunking + "/start",
		ingestion.StageChunking + "/end",
		ingestion.StageEmbedding + "/start",
		ingestion.StageEmbedding + "/end",
		ingestion.StageStorage + "/start",
		ingestion.StageStorage + "/end",
		core.StageOverall + "/end",
	}, got)
}

func TestUpload_EmbedsInBatches(t *testing.T) {
	pages := []chunking.Page{{Text: strings.Repeat("abcdefghij", 100)}}
	f := newFixture(t, withExtractor(&stubExtractor{pages: pages}), withOptions(ingestion.WithEmbedBatchSize(2)))

	doc := f.upload(t, "x", "long.pdf", "IT")
	require.Equal(t, core.StatusCompleted, doc.Status)
	assert.Equal(t, (doc.ChunkCount+1)/2, f.embedder.CallCount())
}

func TestDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := f.upload(t, handbook, "leave.txt", "HR")
	require.Equal(t, 1, f.vectors.Count())

	require.NoError(t, f.coord.Delete(ctx, doc.ID))

	_, err := f.stores.Documents.GetDocument(ctx, doc.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	exists, err := f.files.Exists(ctx, doc.StoragePath)
	require.NoError(t, err)
	assert.False(t, exists)
	assert.Zero(t, f.vectors.Count())

	assert.ErrorIs(t, f.coord.Delete(ctx, doc.ID), storage.ErrNotFound)
}

// unavailableVectors fails upserts and deletes as an unreachable store would.
type unavailableVectors struct {
	vectorstore.Store
	failUpsert bool
	deletes    atomic.Int32
}

func (u *unavailableVectors) Upsert(ctx context.Context, points []vectorstore.Point) error {
	if u.failUpsert {
		return fmt.Errorf("%w: conn refused", core.ErrVectorStoreUnavailable)
	}
	return u.Store.Upsert(ctx, points)
}

func (u *unavailableVectors) DeleteDocument(ctx context.Context, documentID string) error {
	u.deletes.Add(1)
	return fmt.Errorf("%w: conn refused", core.ErrVectorStoreUnavailable)
}

// fullDisk fails every record insert.
type fullDisk struct {
	storage.DocumentRepository
}

func (fullDisk) CreateDocument(context.Context, *core.DocumentRecord) error {
	return errors.New("disk full")
}

func countFiles(t *testing.T, dir string) int {
	t.Helper()
	n := 0
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			n++
		}
		return nil
	})
	require.NoError(t, err)
	return n
}

func TestUpload_VectorStoreFailureFailsDocument(t *testing.T) {
	vectors := &unavailableVectors{failUpsert: true}
	f := newFixture(t, withVectors(func(s vectorstore.Store) vectorstore.Store {
		vectors.Store = s
		return vectors
	}))
	ctx := context.Background()

	doc := f.upload(t, handbook, "leave.txt", "HR")
	assert.Equal(t, core.StatusFailed, doc.Status)
	assert.Zero(t, doc.ChunkCount)
	assert.Contains(t, doc.ErrorMessage, ingestion.StageStorage)
	assert.Contains(t, doc.ErrorMessage, core.ErrVectorStoreUnavailable.Error())
	assert.Zero(t, f.vectors.Count())

	run, err := f.monitor.GetRun(ctx, doc.PipelineID)
	require.NoError(t, err)
	term := run.Terminal()
	require.NotNil(t, term)
	assert.Equal(t, core.PhaseError, term.Phase)
	assert.Equal(t, ingestion.StageStorage, term.Data["stage"])
	assert.Equal(t, monitor.ErrorTypeVectorStore, term.Data["error_type"])

	stats, err := f.monitor.AggregateStats(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.StageErrors[ingestion.StageStorage])
}

func TestUpload_RecordFailureRemovesSavedFile(t *testing.T) {
	f := newFixture(t, withDocuments(func(r storage.DocumentRepository) storage.DocumentRepository {
		return fullDisk{r}
	}))
	ctx := context.Background()

	doc, err := f.coord.Upload(ctx, []byte(handbook), "leave.txt", "HR")
	require.ErrorIs(t, err, core.ErrStorage)
	assert.Contains(t, err.Error(), "disk full")
	assert.Nil(t, doc)
	f.coord.Wait()

	assert.Zero(t, countFiles(t, f.filesDir))
	runs, err := f.monitor.ListRuns(ctx)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestDelete_VectorFailureStillRemovesRecord(t *testing.T) {
	vectors := &unavailableVectors{}
	f := newFixture(t, withVectors(func(s vectorstore.Store) vectorstore.Store {
		vectors.Store = s
		return vectors
	}))
	ctx := context.Background()
	doc := f.upload(t, handbook, "leave.txt", "HR")
	require.Equal(t, core.StatusCompleted, doc.Status)
	vectors.deletes.Store(0)

	require.NoError(t, f.coord.Delete(ctx, doc.ID))
	assert.Equal(t, int32(2), vectors.deletes.Load(), "a failed vector removal is retried once")

	_, err := f.stores.Documents.GetDocument(ctx, doc.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	exists, err := f.files.Exists(ctx, doc.StoragePath)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestDelete_MissingFileStillDeletes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := f.upload(t, handbook, "leave.txt", "HR")
	require.NoError(t, f.files.Remove(ctx, doc.StoragePath))

	require.NoError(t, f.coord.Delete(ctx, doc.ID))
	_, err := f.stores.Documents.GetDocument(ctx, doc.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestReconcile_ResumesInterruptedDocument(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	path, err := f.files.Save(ctx, "doc-1", "leave.txt", bytes.NewReader([]byte(handbook)))
	require.NoError(t, err)
	now := time.Now().UTC()
	require.NoError(t, f.stores.Documents.CreateDocument(ctx, &core.DocumentRecord{
		ID: "doc-1", Filename: "leave.txt", Department: "HR", Size: int64(len(handbook)),
		Status: core.StatusPending, StoragePath: path, CreatedAt: now, UpdatedAt: now,
	}))
	doc, err := f.stores.Documents.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	doc.Status = core.StatusProcessing
	require.NoError(t, f.stores.Documents.UpdateDocument(ctx, doc))

	// points left behind by the interrupted run
	chunk := core.Chunk{
		ID: core.ChunkID("doc-1", 0), DocumentID: "doc-1", DocumentName: "leave.txt",
		Text: handbook, Department: "hr",
	}
	require.NoError(t, f.vectors.Upsert(ctx, []vectorstore.Point{
		vectorstore.NewPoint(chunk, mock.GenerateDeterministicVector(handbook, 32)),
	}))

	n, err := f.coord.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	f.coord.Wait()

	doc, err = f.stores.Documents.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, core.StatusCompleted, doc.Status)
	assert.Equal(t, doc.ChunkCount, f.vectors.Count())

	n, err = f.coord.Reconcile(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRelease_LeavesRunInProcessing(t *testing.T) {
	blocker := newBlockingExtractor()
	f := newFixture(t, withExtractor(blocker))
	ctx := context.Background()

	doc, err := f.coord.Upload(ctx, []byte(handbook), "leave.txt", "HR")
	require.NoError(t, err)
	<-blocker.started

	require.NoError(t, f.coord.Release(5*time.Second))
	f.coord.Wait()

	stored, err := f.stores.Documents.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusProcessing, stored.Status)

	run, err := f.monitor.GetRun(ctx, stored.PipelineID)
	require.NoError(t, err)
	assert.Nil(t, run.Terminal())

	_, err = f.coord.Upload(ctx, []byte(handbook), "again.txt", "HR")
	assert.ErrorIs(t, err, ingestion.ErrCoordinatorClosed)
}

func TestUpload_StageTimeoutFailsDocument(t *testing.T) {
	blocker := newBlockingExtractor()
	f := newFixture(t, withExtractor(blocker), withOptions(ingestion.WithStageTimeout(50*time.Millisecond)))

	doc := f.upload(t, handbook, "slow.txt", "HR")
	assert.Equal(t, core.StatusFailed, doc.Status)
	assert.Contains(t, doc.ErrorMessage, context.DeadlineExceeded.Error())
}
