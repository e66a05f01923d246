package search

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/amanctx/internal/domain"
	amerrors "github.com/Aman-CERP/amanctx/internal/errors"
	"github.com/Aman-CERP/amanctx/internal/events"
	"github.com/Aman-CERP/amanctx/internal/ids"
	"github.com/Aman-CERP/amanctx/internal/ports"
	"github.com/Aman-CERP/amanctx/internal/telemetry"
)

// scopeOversample widens both streams when scopes filter after fusion.
const scopeOversample = 4

// Engine is the hybrid search engine.
type Engine struct {
	vectors  ports.VectorStoreProvider
	lexical  ports.LexicalIndex
	embedder ports.EmbeddingProvider
	bus      ports.EventBusProvider
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
}

var _ Searcher = (*Engine)(nil)

// EngineOption configures optional engine dependencies.
type EngineOption func(*Engine)

// WithBus publishes SearchExecuted to bus when it has subscribers.
func WithBus(bus ports.EventBusProvider) EngineOption {
	return func(e *Engine) { e.bus = bus }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithClock overrides the clock used for latency measurements.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// New creates an engine. A nil lexical index means semantic-only search.
func New(vectors ports.VectorStoreProvider, lexical ports.LexicalIndex, embedder ports.EmbeddingProvider, cfg Config, opts ...EngineOption) *Engine {
	if cfg.Alpha < 0 || cfg.Alpha > 1 {
		cfg.Alpha = DefaultConfig().Alpha
	}
	if cfg.Oversample < 2 {
		cfg.Oversample = 2
	}
	e := &Engine{
		vectors:  vectors,
		lexical:  lexical,
		embedder: embedder,
		cfg:      cfg,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Search embeds query once, runs the dense and lexical streams in parallel,
// fuses them and returns at most opts.Limit results. When the lexical stream
// fails the results are purely semantic with lex_score 0.
func (e *Engine) Search(ctx context.Context, collection, query string, opts SearchOptions) ([]Result, error) {
	start := e.now()
	if strings.TrimSpace(query) == "" {
		return nil, amerrors.Newf(amerrors.ErrCodeQueryEmpty, "query is empty")
	}
	if collection == "" {
		return nil, amerrors.InvalidArgument("collection name is required")
	}
	if err := ValidateOptions(opts); err != nil {
		return nil, err
	}
	if opts.Limit == 0 {
		return []Result{}, nil
	}

	alpha := e.cfg.Alpha
	if opts.Alpha != nil {
		alpha = *opts.Alpha
	}
	fetch := opts.Limit * e.cfg.Oversample
	if len(opts.Scopes) > 0 {
		fetch *= scopeOversample
	}
	backend := ids.CollectionFromName(collection).BackendName()

	semantic, lexical, lexErr, err := e.parallelSearch(ctx, backend, query, fetch, vectorFilter(opts), opts.SemanticOnly)
	if err != nil {
		if amerrors.IsNotFound(err) {
			return []Result{}, nil
		}
		return nil, err
	}
	mode := "hybrid"
	if lexErr != nil || opts.SemanticOnly || e.lexical == nil {
		if lexErr != nil {
			e.logger.Warn("lexical search unavailable, using semantic results only",
				slog.String("collection", collection),
				slog.String("error", lexErr.Error()))
		}
		mode = "semantic"
		lexical = nil
		alpha = 1
	}

	fused := NewLinearFusion(alpha).Fuse(semantic, lexical)
	results, err := e.enrich(ctx, backend, fused, semantic)
	if err != nil {
		return nil, err
	}
	if filters := buildFilters(opts); len(filters) > 0 {
		kept := results[:0]
		for i := range results {
			if matchesAll(&results[i], filters) {
				kept = append(kept, results[i])
			}
		}
		results = kept
	}
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}

	elapsed := e.now().Sub(start)
	telemetry.SearchRequestsTotal.WithLabelValues(mode).Inc()
	telemetry.SearchDuration.Observe(elapsed.Seconds())
	if e.bus != nil && e.bus.HasSubscribers() {
		e.bus.Publish(events.SearchExecuted{
			Collection: collection,
			Query:      query,
			Mode:       mode,
			Results:    len(results),
			DurationMs: elapsed.Milliseconds(),
		})
	}
	e.logger.Debug("search_complete",
		slog.String("collection", collection),
		slog.String("mode", mode),
		slog.Int("semantic_hits", len(semantic)),
		slog.Int("lexical_hits", len(lexical)),
		slog.Int("results", len(results)),
		slog.Int64("duration_ms", elapsed.Milliseconds()))
	return results, nil
}

// parallelSearch runs both streams. A lexical failure is returned separately
// so the caller can fall back to the semantic stream.
func (e *Engine) parallelSearch(ctx context.Context, backend, query string, limit int, filter ports.VectorFilter, semanticOnly bool) (
	semantic []ports.VectorMatch,
	lexical []ports.LexicalHit,
	lexErr error,
	err error,
) {
	g, gctx := errgroup.WithContext(ctx)

	if e.lexical != nil && !semanticOnly {
		g.Go(func() error {
			lexical, lexErr = e.lexical.Search(gctx, backend, query, limit)
			return nil
		})
	}

	g.Go(func() error {
		emb, err := e.embedder.Embed(gctx, query)
		if err != nil {
			return err
		}
		semantic, err = e.vectors.Search(gctx, backend, emb.Vector, limit, filter)
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, nil, nil, err
	}
	if ctx.Err() != nil {
		return nil, nil, nil, amerrors.Cancelled("search cancelled", ctx.Err())
	}
	return semantic, lexical, lexErr, nil
}

// enrich turns fused ids into results. Metadata of lexical-only hits is
// fetched from the vector store; ids it no longer holds are dropped.
func (e *Engine) enrich(ctx context.Context, backend string, fused []*FusedResult, semantic []ports.VectorMatch) ([]Result, error) {
	meta := make(map[string]map[string]any, len(fused))
	for _, m := range semantic {
		meta[m.ID] = m.Metadata
	}
	var missing []string
	for _, f := range fused {
		if _, ok := meta[f.ID]; !ok {
			missing = append(missing, f.ID)
		}
	}
	if len(missing) > 0 {
		records, err := e.vectors.GetByIDs(ctx, backend, missing)
		if err != nil {
			return nil, err
		}
		for _, r := range records {
			meta[r.ID] = r.Metadata
		}
	}

	results := make([]Result, 0, len(fused))
	for _, f := range fused {
		m, ok := meta[f.ID]
		if !ok {
			continue
		}
		results = append(results, toResult(f, domain.Metadata(m)))
	}
	return results, nil
}

func toResult(f *FusedResult, m domain.Metadata) Result {
	breakdown := map[string]any{
		MetaSemanticScore: f.SemanticScore,
		MetaLexScore:      f.LexScore,
		MetaFinal:         f.Final,
	}
	for _, key := range []string{"symbol", "kind"} {
		if v := m.String(key); v != "" {
			breakdown[key] = v
		}
	}
	return Result{
		ID:        f.ID,
		FilePath:  m.String("file_path"),
		StartLine: m.Int("start_line"),
		EndLine:   m.Int("end_line"),
		Content:   m.String("content"),
		Score:     f.Final,
		Language:  m.String("language"),
		Metadata:  breakdown,
	}
}
