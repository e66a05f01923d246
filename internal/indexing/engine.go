package indexing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/amanctx/internal/chunk"
	"github.com/Aman-CERP/amanctx/internal/domain"
	amerrors "github.com/Aman-CERP/amanctx/internal/errors"
	"github.com/Aman-CERP/amanctx/internal/events"
	"github.com/Aman-CERP/amanctx/internal/filehash"
	"github.com/Aman-CERP/amanctx/internal/ids"
	"github.com/Aman-CERP/amanctx/internal/lexical"
	"github.com/Aman-CERP/amanctx/internal/ports"
	"github.com/Aman-CERP/amanctx/internal/scanner"
	"github.com/Aman-CERP/amanctx/internal/syncx"
	"github.com/Aman-CERP/amanctx/internal/telemetry"
)

// Result values of IndexCodebase.
const (
	StatusStarted        = "started"
	StatusAlreadyRunning = "already_running"
)

const (
	DefaultWorkers          = 4
	DefaultBatchSize        = 32
	DefaultProgressEvery    = 10
	DefaultProgressInterval = 500 * time.Millisecond
	DefaultFileTimeout      = 2 * time.Minute

	finishedCacheSize = 256
	cancelledMessage  = "indexing cancelled"
)

// Deps are the collaborators of an Engine. Lexical and DB may be nil.
type Deps struct {
	Vectors  ports.VectorStoreProvider
	Lexical  ports.LexicalIndex
	Embedder ports.EmbeddingProvider
	Chunker  ports.LanguageChunker
	Hashes   ports.FileHashRepository
	Tracker  ports.OperationTracker
	Bus      ports.EventBusProvider
	Scanner  *scanner.Scanner
	// DB receives one index_operations row per finished operation.
	DB ports.DatabaseExecutor
	// Invalidator is told about every write so cached searches never
	// outlive the data they were computed from.
	Invalidator ports.SearchInvalidator
}

// Options tunes the pipeline. Zero values take the defaults above.
type Options struct {
	Workers   int
	BatchSize int
	// ProgressEvery and ProgressInterval bound how often IndexingProgress
	// is published: every N processed files or every interval.
	ProgressEvery    int
	ProgressInterval time.Duration
	// FileTimeout caps the work on a single file. Expiry is a per-file error.
	FileTimeout time.Duration
	// Fallback chunks languages the chunker does not support.
	Fallback ports.LanguageChunker
	Logger   *slog.Logger
	Now      func() time.Time
}

// IndexResult is returned synchronously by IndexCodebase.
type IndexResult struct {
	OperationID string `json:"operation_id"`
	Status      string `json:"status"`
	Collection  string `json:"collection"`
	TotalFiles  int    `json:"total_files"`
}

// Report is the terminal snapshot of an operation.
type Report struct {
	domain.IndexingOperation
	Chunks   int           `json:"chunks"`
	Removed  int           `json:"removed"`
	Duration time.Duration `json:"duration"`
}

type run struct {
	opID   string
	name   string
	cancel context.CancelFunc
	done   chan struct{}
}

// Engine runs indexing operations, at most one per collection at a time.
type Engine struct {
	deps Deps
	opts Options

	locks    *syncx.KeyedMutex
	mu       sync.Mutex
	byName   map[string]*run
	byOp     map[string]*run
	finished *lru.Cache[string, Report]

	ctx    context.Context
	stop   context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger
}

// New creates an Engine.
func New(deps Deps, opts Options) (*Engine, error) {
	if deps.Vectors == nil || deps.Embedder == nil || deps.Chunker == nil ||
		deps.Hashes == nil || deps.Tracker == nil || deps.Scanner == nil {
		return nil, amerrors.Configuration("indexing engine is missing a required provider", nil)
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.ProgressEvery <= 0 {
		opts.ProgressEvery = DefaultProgressEvery
	}
	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = DefaultProgressInterval
	}
	if opts.FileTimeout <= 0 {
		opts.FileTimeout = DefaultFileTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Fallback == nil {
		lines, err := chunk.NewLines(chunk.Options{})
		if err != nil {
			return nil, err
		}
		opts.Fallback = lines
	}
	if deps.Lexical == nil {
		deps.Lexical = lexical.Disabled{}
	}
	finished, err := lru.New[string, Report](finishedCacheSize)
	if err != nil {
		return nil, amerrors.Internal("create operation cache", err)
	}
	ctx, stop := context.WithCancel(context.Background())
	return &Engine{
		deps:     deps,
		opts:     opts,
		locks:    syncx.NewKeyedMutex(),
		byName:   make(map[string]*run),
		byOp:     make(map[string]*run),
		finished: finished,
		ctx:      ctx,
		stop:     stop,
		logger:   opts.Logger,
	}, nil
}

// BackendName is the storage name of a collection in the vector store, the
// lexical index and the file-hash table.
func BackendName(collection string) string {
	return ids.CollectionFromName(collection).BackendName()
}

// IndexCodebase indexes root into collection. Collection setup and discovery
// run before it returns; the rest of the pass runs in the background. If the
// collection is already being indexed the running operation is returned with
// status "already_running".
func (e *Engine) IndexCodebase(ctx context.Context, root, collection string) (IndexResult, error) {
	if collection == "" {
		return IndexResult{}, amerrors.InvalidArgument("collection name is required")
	}
	if root == "" {
		return IndexResult{}, amerrors.InvalidArgument("path is required")
	}
	unlock := e.locks.Lock(collection)
	defer unlock()

	if r := e.running(collection); r != nil {
		op, _ := e.deps.Tracker.Get(r.opID)
		return IndexResult{
			OperationID: r.opID,
			Status:      StatusAlreadyRunning,
			Collection:  collection,
			TotalFiles:  op.TotalFiles,
		}, nil
	}
	if e.ctx.Err() != nil {
		return IndexResult{}, amerrors.Unavailable("indexing engine is closed")
	}

	backend := BackendName(collection)
	if err := e.deps.Vectors.CreateCollection(ctx, backend, e.deps.Embedder.Dimensions()); err != nil {
		return IndexResult{}, err
	}
	files, err := e.deps.Scanner.Scan(ctx, root)
	if err != nil {
		return IndexResult{}, err
	}

	opID := e.deps.Tracker.StartOperation(ids.CollectionFromName(collection), collection, len(files))
	runCtx, cancel := context.WithCancel(e.ctx)
	r := &run{opID: opID, name: collection, cancel: cancel, done: make(chan struct{})}
	e.mu.Lock()
	e.byName[collection] = r
	e.byOp[opID] = r
	e.mu.Unlock()

	// Registered first: subscribers may Cancel or Wait on the started event.
	e.publish(events.IndexingStarted{OperationID: opID, Collection: collection, TotalFiles: len(files)})
	e.logger.Info("index_started",
		slog.String("operation_id", opID),
		slog.String("collection", collection),
		slog.String("path", root),
		slog.Int("files", len(files)))

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer cancel()
		e.execute(runCtx, r, files)
	}()

	return IndexResult{OperationID: opID, Status: StatusStarted, Collection: collection, TotalFiles: len(files)}, nil
}

func (e *Engine) running(collection string) *run {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.byName[collection]
}

// Cancel signals a running operation to stop. The pipeline stops between
// files, lets in-flight writes finish and ends in the Failed state.
func (e *Engine) Cancel(opID string) error {
	e.mu.Lock()
	r, ok := e.byOp[opID]
	e.mu.Unlock()
	if !ok {
		return amerrors.NotFound("no running operation %q", opID)
	}
	r.cancel()
	return nil
}

// Wait blocks until the operation finishes and returns its terminal report.
func (e *Engine) Wait(ctx context.Context, opID string) (Report, error) {
	e.mu.Lock()
	r, ok := e.byOp[opID]
	e.mu.Unlock()
	if ok {
		select {
		case <-r.done:
		case <-ctx.Done():
			return Report{}, amerrors.Cancelled("wait for operation", ctx.Err())
		}
	}
	if rep, ok := e.finished.Get(opID); ok {
		return rep, nil
	}
	return Report{}, amerrors.NotFound("operation %q not found", opID)
}

// Operation returns the live snapshot of an operation, or its terminal
// report once finished.
func (e *Engine) Operation(opID string) (Report, bool) {
	if op, ok := e.deps.Tracker.Get(opID); ok {
		return Report{IndexingOperation: op}, true
	}
	return e.finished.Get(opID)
}

// Status derives the indexing status from the oldest active operation.
func (e *Engine) Status() domain.IndexingStatus {
	active := e.deps.Tracker.Active()
	if len(active) == 0 {
		return domain.IndexingStatus{}
	}
	op := active[0]
	return domain.IndexingStatus{
		IsIndexing:     true,
		OperationID:    op.ID,
		Collection:     op.CollectionName,
		Progress:       op.Progress(),
		CurrentFile:    op.CurrentFile,
		TotalFiles:     op.TotalFiles,
		ProcessedFiles: op.ProcessedFiles,
		ActiveCount:    len(active),
	}
}

// ClearCollection drops the vectors, lexical documents and file hashes of a
// collection. It refuses while the collection is being indexed.
func (e *Engine) ClearCollection(ctx context.Context, collection string) error {
	if collection == "" {
		return amerrors.InvalidArgument("collection name is required")
	}
	unlock := e.locks.Lock(collection)
	defer unlock()
	if r := e.running(collection); r != nil {
		return amerrors.Newf(amerrors.ErrCodeNamespaceLocked,
			"collection %q is being indexed by operation %s", collection, r.opID)
	}
	backend := BackendName(collection)
	if err := e.deps.Vectors.DeleteCollection(ctx, backend); err != nil && !amerrors.IsNotFound(err) {
		return err
	}
	if err := e.deps.Lexical.DropCollection(ctx, backend); err != nil {
		return err
	}
	if err := e.deps.Hashes.ClearCollection(ctx, backend); err != nil {
		return err
	}
	e.invalidate(ctx, collection)
	e.logger.Info("collection_cleared", slog.String("collection", collection))
	return nil
}

// invalidate drops cached searches of collection. Failures are logged: the
// write itself already succeeded.
func (e *Engine) invalidate(ctx context.Context, collection string) {
	if e.deps.Invalidator == nil {
		return
	}
	if err := e.deps.Invalidator.Invalidate(ctx, collection); err != nil {
		e.logger.Warn("search cache invalidation failed",
			slog.String("collection", collection),
			slog.String("error", err.Error()))
	}
}

// Close cancels running operations and waits for them to finish.
func (e *Engine) Close() error {
	e.stop()
	e.wg.Wait()
	return nil
}

// execute is the asynchronous part of a pass.
func (e *Engine) execute(ctx context.Context, r *run, files []scanner.File) {
	telemetry.ActiveOperations.Inc()
	defer telemetry.ActiveOperations.Dec()

	start := e.opts.Now()
	backend := BackendName(r.name)
	p := &progress{engine: e, opID: r.opID, collection: r.name, total: len(files), last: start}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Workers)
	for _, f := range files {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			fctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), e.opts.FileTimeout)
			defer cancel()
			n, changed, err := e.indexFile(fctx, backend, f)
			if err != nil {
				if fatal(err) {
					return fmt.Errorf("%s: %w", f.Path, err)
				}
				p.fail(f.Path, err)
				return nil
			}
			if changed {
				e.invalidate(fctx, r.name)
			}
			p.done(f.Path, changed, n)
			return nil
		})
	}
	fatalErr := g.Wait()

	rep := Report{}
	status := domain.StatusCompleted
	var failure string
	switch {
	case fatalErr != nil:
		status = domain.StatusFailed
		failure = fatalErr.Error()
	case ctx.Err() != nil:
		status = domain.StatusFailed
		failure = cancelledMessage
	default:
		removed, err := e.reconcile(ctx, backend, files)
		rep.Removed = removed
		if err != nil {
			p.fail("", err)
		}
	}

	var errs []string
	if fileErrs := p.collected(); fileErrs != nil {
		for _, err := range fileErrs.Errors {
			errs = append(errs, err.Error())
		}
	}
	if failure != "" {
		errs = append(errs, failure)
	}
	// Covers reconcile and files that failed after a partial write. Runs
	// before the completion is visible to Wait or subscribers.
	e.invalidate(context.WithoutCancel(ctx), r.name)
	e.deps.Tracker.SetStatus(r.opID, status, errs)

	op, _ := e.deps.Tracker.Get(r.opID)
	rep.IndexingOperation = op
	rep.Chunks = p.chunks
	rep.Duration = e.opts.Now().Sub(start)
	e.record(rep)

	completed := events.IndexingCompleted{
		OperationID: r.opID,
		Collection:  r.name,
		Status:      string(status),
		Files:       p.processed,
		Chunks:      p.chunks,
		DurationMs:  rep.Duration.Milliseconds(),
		FileErrors:  p.failed,
		Error:       failure,
	}
	e.publish(completed)

	logArgs := []any{
		slog.String("operation_id", r.opID),
		slog.String("collection", r.name),
		slog.String("status", string(status)),
		slog.Int("files", p.processed),
		slog.Int("chunks", p.chunks),
		slog.Int("removed", rep.Removed),
		slog.Int("file_errors", p.failed),
		slog.Int64("duration_ms", rep.Duration.Milliseconds()),
	}
	if status == domain.StatusFailed {
		e.logger.Warn("index_failed", append(logArgs, slog.String("error", failure))...)
	} else {
		e.logger.Info("index_complete", logArgs...)
	}

	e.finished.Add(r.opID, rep)
	e.deps.Tracker.CompleteOperation(r.opID)
	e.mu.Lock()
	delete(e.byName, r.name)
	delete(e.byOp, r.opID)
	e.mu.Unlock()
	close(r.done)
}

// indexFile replaces the chunks of one file when its content changed.
// It returns the chunk count and whether the file was (re)indexed.
func (e *Engine) indexFile(ctx context.Context, backend string, f scanner.File) (int, bool, error) {
	content, err := os.ReadFile(f.AbsPath)
	if err != nil {
		return 0, false, fmt.Errorf("read file: %w", err)
	}
	hash := filehash.HashBytes(content)
	changed, err := e.deps.Hashes.HasChanged(ctx, backend, f.Path, hash)
	if err != nil {
		return 0, false, err
	}
	if !changed {
		telemetry.IndexedFilesTotal.WithLabelValues("skipped").Inc()
		return 0, false, nil
	}

	language := f.Language
	if language == "" {
		language = chunk.DetectLanguage(f.Path)
	}
	chunker := e.deps.Chunker
	if !chunker.Supports(language) {
		chunker = e.opts.Fallback
	}
	chunks, err := chunker.Chunk(ctx, f.Path, content, language)
	if err != nil {
		return 0, false, err
	}

	vectors, err := e.embed(ctx, chunks)
	if err != nil {
		return 0, false, err
	}

	old, err := e.deps.Vectors.DeleteWhere(ctx, backend, ports.VectorFilter{"file_path": f.Path})
	if err != nil {
		return 0, false, err
	}
	if len(old) > 0 {
		if err := e.deps.Lexical.Delete(ctx, backend, old); err != nil {
			return 0, false, err
		}
	}
	if len(chunks) > 0 {
		metas := make([]map[string]any, len(chunks))
		docs := make(map[string]string, len(chunks))
		for i, c := range chunks {
			metas[i] = ChunkMetadata(c)
			docs[c.ID] = LexicalText(c)
		}
		if _, err := e.deps.Vectors.Insert(ctx, backend, vectors, metas); err != nil {
			return 0, false, err
		}
		if err := e.deps.Lexical.Index(ctx, backend, docs); err != nil {
			return 0, false, err
		}
	}
	if err := e.deps.Hashes.UpsertHash(ctx, backend, f.Path, hash); err != nil {
		return 0, false, err
	}
	telemetry.IndexedFilesTotal.WithLabelValues("indexed").Inc()
	telemetry.IndexedChunksTotal.Add(float64(len(chunks)))
	return len(chunks), true, nil
}

func (e *Engine) embed(ctx context.Context, chunks []domain.CodeChunk) ([][]float32, error) {
	vectors := make([][]float32, 0, len(chunks))
	for start := 0; start < len(chunks); start += e.opts.BatchSize {
		end := min(start+e.opts.BatchSize, len(chunks))
		texts := make([]string, 0, end-start)
		for _, c := range chunks[start:end] {
			texts = append(texts, chunk.EmbeddingText(c))
		}
		embs, err := e.deps.Embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return nil, err
		}
		if len(embs) != len(texts) {
			return nil, amerrors.Embedding(
				fmt.Sprintf("embedding batch returned %d vectors for %d texts", len(embs), len(texts)), nil)
		}
		for _, emb := range embs {
			vectors = append(vectors, emb.Vector)
		}
	}
	return vectors, nil
}

// reconcile removes the chunks of indexed files that are no longer on disk.
func (e *Engine) reconcile(ctx context.Context, backend string, files []scanner.File) (int, error) {
	indexed, err := e.deps.Hashes.GetIndexedFiles(ctx, backend)
	if err != nil {
		return 0, err
	}
	seen := make(map[string]bool, len(files))
	for _, f := range files {
		seen[f.Path] = true
	}
	var (
		removed int
		result  *multierror.Error
	)
	for _, p := range indexed {
		if seen[p] {
			continue
		}
		if err := e.removeFile(ctx, backend, p); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", p, err))
			continue
		}
		removed++
	}
	return removed, result.ErrorOrNil()
}

func (e *Engine) removeFile(ctx context.Context, backend, path string) error {
	old, err := e.deps.Vectors.DeleteWhere(ctx, backend, ports.VectorFilter{"file_path": path})
	if err != nil {
		return err
	}
	if len(old) > 0 {
		if err := e.deps.Lexical.Delete(ctx, backend, old); err != nil {
			return err
		}
	}
	if err := e.deps.Hashes.MarkDeleted(ctx, backend, path); err != nil {
		return err
	}
	telemetry.IndexedFilesTotal.WithLabelValues("deleted").Inc()
	return nil
}

// record writes the history row of a finished operation.
func (e *Engine) record(rep Report) {
	if e.deps.DB == nil {
		return
	}
	errs := rep.Errors
	if errs == nil {
		errs = []string{}
	}
	encoded, err := json.Marshal(errs)
	if err != nil {
		e.logger.Warn("encode operation errors failed", slog.String("error", err.Error()))
		return
	}
	_, err = e.deps.DB.Execute(context.Background(),
		`INSERT OR REPLACE INTO index_operations
			(id, collection, collection_name, status, total_files, processed_files, chunks, errors, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ports.String(rep.ID),
		ports.String(rep.Collection.String()),
		ports.String(rep.CollectionName),
		ports.String(string(rep.Status)),
		ports.I64(int64(rep.TotalFiles)),
		ports.I64(int64(rep.ProcessedFiles)),
		ports.I64(int64(rep.Chunks)),
		ports.String(string(encoded)),
		ports.I64(rep.StartedAt.UnixNano()),
		ports.I64(rep.StartedAt.Add(rep.Duration).UnixNano()),
	)
	if err != nil {
		e.logger.Warn("record index operation failed",
			slog.String("operation_id", rep.ID),
			slog.String("error", err.Error()))
	}
}

func (e *Engine) publish(ev events.Event) {
	if e.deps.Bus != nil {
		e.deps.Bus.Publish(ev)
	}
}

// fatal reports errors that abort the whole operation: a provider refusing
// work. Timeouts and file-local problems are not fatal.
func fatal(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	switch amerrors.KindOf(err) {
	case amerrors.KindEmbedding, amerrors.KindVectorDb, amerrors.KindUnavailable,
		amerrors.KindInfrastructure, amerrors.KindDatabase, amerrors.KindConfiguration:
		return true
	default:
		return false
	}
}

// ChunkMetadata is the vector metadata stored for a chunk. The "id" key
// makes the chunk id the record id.
func ChunkMetadata(c domain.CodeChunk) map[string]any {
	meta := map[string]any{
		"id":         c.ID,
		"chunk_id":   c.ID,
		"file_path":  c.FilePath,
		"start_line": c.StartLine,
		"end_line":   c.EndLine,
		"language":   c.Language,
		"content":    c.Content,
	}
	for _, key := range []string{chunk.MetaSymbol, chunk.MetaKind} {
		if v, ok := c.Metadata[key].(string); ok && v != "" {
			meta[key] = v
		}
	}
	return meta
}

// LexicalText is the text indexed for term search: path, symbol and content.
func LexicalText(c domain.CodeChunk) string {
	if sym, ok := c.Metadata[chunk.MetaSymbol].(string); ok && sym != "" {
		return c.FilePath + "\n" + sym + "\n" + c.Content
	}
	return c.FilePath + "\n" + c.Content
}
