// Package server exposes the operations surface over HTTP: health probes,
// prometheus metrics, indexing status and a read-only search endpoint.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Aman-CERP/amanctx/internal/domain"
	amerrors "github.com/Aman-CERP/amanctx/internal/errors"
	"github.com/Aman-CERP/amanctx/internal/search"
	"github.com/Aman-CERP/amanctx/internal/telemetry"
)

const (
	defaultSearchLimit = 10
	maxSearchLimit     = 100
	shutdownTimeout    = 10 * time.Second
)

// HealthChecker probes the service graph. The returned map carries a
// "status" entry that is "healthy" when every check passed.
type HealthChecker interface {
	Health(ctx context.Context) map[string]string
}

// StatusSource reports the live indexing state.
type StatusSource interface {
	Status() domain.IndexingStatus
}

// Options wires the handlers. Nil collaborators disable their routes.
type Options struct {
	Health   HealthChecker
	Status   StatusSource
	Searcher search.Searcher
	Queries  *telemetry.QueryStats
	// Catalog lists provider names per kind for /v1/providers.
	Catalog  map[string][]string
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
	// DefaultLimit is used by /v1/search when the request has no limit.
	DefaultLimit int
	// Pprof mounts net/http/pprof under /debug.
	Pprof bool
}

// Server is the HTTP operations endpoint.
type Server struct {
	opts   Options
	logger *slog.Logger
	router chi.Router
}

// New builds the router.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = defaultSearchLimit
	}
	s := &Server{opts: opts, logger: opts.Logger}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(s.recoverer)
	r.Use(s.requestLog)
	r.Use(metricsMiddleware)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/providers", s.handleProviders)
		r.Get("/queries", s.handleQueries)
		r.Get("/collections/{collection}/search", s.handleSearch)
	})
	if opts.Pprof {
		r.Mount("/debug", chimw.Profiler())
	}
	s.router = r
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve accepts connections on ln until ctx ends, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.logger.Info("http_listening", slog.String("addr", ln.Addr().String()))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return amerrors.Infrastructure("http server stopped", err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return amerrors.Infrastructure("http shutdown", err)
	}
	<-errCh
	s.logger.Info("http_stopped")
	return nil
}

// ListenAndServe listens on addr and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return amerrors.Infrastructure("listen on "+addr, err)
	}
	return s.Serve(ctx, ln)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.opts.Health == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
		return
	}
	checks := s.opts.Health.Health(r.Context())
	code := http.StatusOK
	if checks["status"] != "healthy" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, checks)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	if s.opts.Status == nil {
		writeError(w, amerrors.Unavailable("indexing status is not available"))
		return
	}
	writeJSON(w, http.StatusOK, s.opts.Status.Status())
}

func (s *Server) handleProviders(w http.ResponseWriter, _ *http.Request) {
	if s.opts.Catalog == nil {
		writeError(w, amerrors.Unavailable("provider catalog is not available"))
		return
	}
	writeJSON(w, http.StatusOK, s.opts.Catalog)
}

func (s *Server) handleQueries(w http.ResponseWriter, _ *http.Request) {
	if s.opts.Queries == nil {
		writeError(w, amerrors.Unavailable("query statistics are not available"))
		return
	}
	snap := s.opts.Queries.Snapshot()
	writeJSON(w, http.StatusOK, struct {
		telemetry.QuerySnapshot
		ZeroResultRate float64 `json:"zero_result_rate"`
	}{snap, snap.ZeroResultRate()})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if s.opts.Searcher == nil {
		writeError(w, amerrors.Unavailable("search is not available"))
		return
	}
	q := r.URL.Query()
	query := strings.TrimSpace(q.Get("q"))
	if query == "" {
		writeError(w, amerrors.InvalidArgument("query parameter q is required"))
		return
	}
	opts := search.SearchOptions{
		Limit:        s.opts.DefaultLimit,
		Language:     q.Get("language"),
		Kind:         q.Get("kind"),
		Scopes:       q["scope"],
		SemanticOnly: q.Get("semantic_only") == "true",
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, amerrors.InvalidArgument("limit must be a non-negative integer"))
			return
		}
		opts.Limit = min(n, maxSearchLimit)
	}
	if raw := q.Get("alpha"); raw != "" {
		alpha, err := strconv.ParseFloat(raw, 64)
		if err != nil || alpha < 0 || alpha > 1 {
			writeError(w, amerrors.InvalidArgument("alpha must be between 0 and 1"))
			return
		}
		opts.Alpha = &alpha
	}

	results, err := s.opts.Searcher.Search(r.Context(), chi.URLParam(r, "collection"), query, opts)
	if err != nil {
		writeError(w, err)
		return
	}
	if results == nil {
		results = []search.Result{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

type errorBody struct {
	Code       string `json:"code"`
	Kind       string `json:"kind"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion,omitempty"`
}

// statusFor maps error kinds onto HTTP status codes.
func statusFor(kind amerrors.Kind) int {
	switch kind {
	case amerrors.KindNotFound:
		return http.StatusNotFound
	case amerrors.KindInvalidArgument, amerrors.KindDecode:
		return http.StatusBadRequest
	case amerrors.KindUnavailable:
		return http.StatusServiceUnavailable
	case amerrors.KindCancelled:
		return http.StatusRequestTimeout
	case amerrors.KindEmbedding, amerrors.KindInfrastructure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	body := errorBody{Code: amerrors.ErrCodeInternal, Kind: string(amerrors.KindInternal), Message: "internal error"}
	if e, ok := amerrors.As(err); ok {
		body = errorBody{Code: e.Code, Kind: string(e.Kind), Message: e.Message, Suggestion: e.Suggestion}
	}
	writeJSON(w, statusFor(amerrors.Kind(body.Kind)), body)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
