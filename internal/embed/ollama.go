package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/Aman-CERP/amanctx/internal/domain"
	amerrors "github.com/Aman-CERP/amanctx/internal/errors"
	"github.com/Aman-CERP/amanctx/internal/ports"
	"github.com/Aman-CERP/amanctx/internal/telemetry"
)

const (
	// DefaultOllamaHost is the default Ollama API endpoint.
	DefaultOllamaHost = "http://localhost:11434"

	// DefaultOllamaModel is the embedding model used when none is configured.
	DefaultOllamaModel = "qwen3-embedding:0.6b"

	ollamaPoolSize = 4
)

// OllamaConfig configures the Ollama embedder.
type OllamaConfig struct {
	Host  string
	Model string
	// Dimensions skips auto-detection when positive.
	Dimensions int
	BatchSize  int
	Timeout    time.Duration
	Retry      amerrors.RetryConfig
	Logger     *slog.Logger
}

type ollamaEmbedRequest struct {
	Model string `json:"model"`
	Input any    `json:"input"` // string or []string
}

type ollamaEmbedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float64 `json:"embeddings"`
}

// OllamaEmbedder calls the Ollama /api/embed endpoint.
type OllamaEmbedder struct {
	client    *http.Client
	transport *http.Transport
	cfg       OllamaConfig
	dims      int
	logger    *slog.Logger
}

var _ ports.EmbeddingProvider = (*OllamaEmbedder)(nil)

// NewOllamaEmbedder creates the embedder. Without configured dimensions it
// embeds a probe text to learn them, which also checks that Ollama is up.
func NewOllamaEmbedder(ctx context.Context, cfg OllamaConfig) (*OllamaEmbedder, error) {
	if cfg.Host == "" {
		cfg.Host = DefaultOllamaHost
	}
	cfg.Host = strings.TrimRight(cfg.Host, "/")
	if cfg.Model == "" {
		cfg.Model = DefaultOllamaModel
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retry.MaxRetries == 0 && cfg.Retry.InitialDelay == 0 {
		cfg.Retry = amerrors.DefaultRetryConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	// No http.Client.Timeout: each request gets its own context deadline.
	transport := &http.Transport{
		MaxIdleConns:        ollamaPoolSize,
		MaxIdleConnsPerHost: ollamaPoolSize,
		MaxConnsPerHost:     ollamaPoolSize * 2,
		IdleConnTimeout:     10 * time.Second,
	}
	e := &OllamaEmbedder{
		client:    &http.Client{Transport: transport},
		transport: transport,
		cfg:       cfg,
		dims:      cfg.Dimensions,
		logger:    cfg.Logger,
	}

	if e.dims <= 0 {
		vecs, err := e.embedWithRetry(ctx, []string{"dimension probe"})
		if err != nil {
			transport.CloseIdleConnections()
			return nil, amerrors.Configuration(fmt.Sprintf("detect dimensions of ollama model %s", cfg.Model), err)
		}
		if len(vecs) == 0 || len(vecs[0]) == 0 {
			transport.CloseIdleConnections()
			return nil, amerrors.Configuration("ollama returned an empty probe embedding", nil)
		}
		e.dims = len(vecs[0])
	}
	return e, nil
}

// Embed embeds one text.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) (domain.Embedding, error) {
	out, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return domain.Embedding{}, err
	}
	return out[0], nil
}

// EmbedBatch embeds texts in provider batches, preserving order.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([]domain.Embedding, error) {
	out := make([]domain.Embedding, 0, len(texts))
	for _, batch := range batches(texts, e.cfg.BatchSize) {
		vecs, err := e.embedWithRetry(ctx, batch)
		if err != nil {
			return nil, err
		}
		if len(vecs) != len(batch) {
			return nil, amerrors.Embedding(
				fmt.Sprintf("ollama returned %d embeddings for %d inputs", len(vecs), len(batch)), nil)
		}
		embs, err := toEmbeddings(vecs, e.cfg.Model, e.dims)
		if err != nil {
			return nil, err
		}
		out = append(out, embs...)
	}
	return out, nil
}

func (e *OllamaEmbedder) embedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	start := time.Now()
	vecs, err := amerrors.RetryWithResult(ctx, e.cfg.Retry, func() ([][]float32, error) {
		reqCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
		return e.doEmbed(reqCtx, texts)
	})
	status := "success"
	if err != nil {
		status = "error"
		e.logger.Debug("ollama embedding failed",
			slog.String("model", e.cfg.Model),
			slog.Int("texts", len(texts)),
			slog.String("error", err.Error()))
	}
	telemetry.EmbeddingRequestsTotal.WithLabelValues("ollama", e.cfg.Model, status).Inc()
	telemetry.EmbeddingRequestDuration.WithLabelValues("ollama", e.cfg.Model).Observe(time.Since(start).Seconds())
	return vecs, err
}

func (e *OllamaEmbedder) doEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	var input any = texts
	if len(texts) == 1 {
		input = texts[0]
	}
	body, err := json.Marshal(ollamaEmbedRequest{Model: e.cfg.Model, Input: input})
	if err != nil {
		return nil, amerrors.Internal("marshal ollama request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.Host+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, amerrors.Configuration("build ollama request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, statusError(resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var result ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, amerrors.Embedding("decode ollama response", err)
	}
	vecs := make([][]float32, len(result.Embeddings))
	for i, emb := range result.Embeddings {
		v := make([]float32, len(emb))
		for j, x := range emb {
			v[j] = float32(x)
		}
		vecs[i] = normalizeVector(v)
	}
	return vecs, nil
}

// statusError maps an HTTP status to an embedding error: 429 and 5xx are
// transient, other statuses are not retried.
func statusError(code int, body string) error {
	msg := fmt.Sprintf("embedding request failed with status %d", code)
	if body != "" {
		msg += ": " + body
	}
	if code == http.StatusTooManyRequests || code >= 500 {
		return amerrors.New(amerrors.ErrCodeEmbeddingTransient, msg, nil)
	}
	return amerrors.Embedding(msg, nil)
}

func classifyTransportError(err error) error {
	if errors.Is(err, context.Canceled) {
		return amerrors.Cancelled("embedding request", err)
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return amerrors.New(amerrors.ErrCodeNetworkTimeout, "embedding request timed out", err)
	}
	return amerrors.New(amerrors.ErrCodeNetworkUnavailable, "embedding provider unreachable", err)
}

func (e *OllamaEmbedder) Dimensions() int { return e.dims }
func (e *OllamaEmbedder) ModelName() string { return e.cfg.Model }

// Close releases idle connections.
func (e *OllamaEmbedder) Close() error {
	e.transport.CloseIdleConnections()
	return nil
}
