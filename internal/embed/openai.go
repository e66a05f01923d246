package embed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/Aman-CERP/amanctx/internal/domain"
	amerrors "github.com/Aman-CERP/amanctx/internal/errors"
	"github.com/Aman-CERP/amanctx/internal/ports"
	"github.com/Aman-CERP/amanctx/internal/telemetry"
)

// DefaultOpenAIModel is used when no model is configured.
const DefaultOpenAIModel = "text-embedding-3-small"

// OpenAIConfig configures an OpenAI-compatible embedding provider.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	// Dimensions is required; it is also sent to models that support
	// shortened embeddings.
	Dimensions int
	BatchSize  int
	Timeout    time.Duration
	// RequestsPerSecond throttles outgoing requests; 0 disables throttling.
	RequestsPerSecond float64
	Retry             amerrors.RetryConfig
	Logger            *slog.Logger
}

// OpenAIEmbedder calls the /embeddings endpoint through go-openai. Requests
// pass through a rate limiter and a circuit breaker that opens after
// repeated provider failures.
type OpenAIEmbedder struct {
	client  *openai.Client
	cfg     OpenAIConfig
	limiter *rate.Limiter
	breaker *amerrors.CircuitBreaker
	logger  *slog.Logger
}

var _ ports.EmbeddingProvider = (*OpenAIEmbedder)(nil)

// NewOpenAIEmbedder validates cfg and builds the client.
func NewOpenAIEmbedder(cfg OpenAIConfig) (*OpenAIEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, amerrors.Configuration("openai embedding provider requires api_key", nil)
	}
	if cfg.Dimensions <= 0 {
		return nil, amerrors.Configuration("openai embedding provider requires dimensions", nil)
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
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

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	limit := rate.Inf
	burst := 1
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
		burst = int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
	}

	return &OpenAIEmbedder{
		client:  openai.NewClientWithConfig(clientCfg),
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, burst),
		breaker: amerrors.NewCircuitBreaker("openai-embeddings"),
		logger:  cfg.Logger,
	}, nil
}

// Embed embeds one text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) (domain.Embedding, error) {
	out, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return domain.Embedding{}, err
	}
	return out[0], nil
}

// EmbedBatch embeds texts in provider batches, preserving order.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([]domain.Embedding, error) {
	out := make([]domain.Embedding, 0, len(texts))
	for _, batch := range batches(texts, e.cfg.BatchSize) {
		vecs, err := amerrors.RetryWithResult(ctx, e.cfg.Retry, func() ([][]float32, error) {
			return e.request(ctx, batch)
		})
		if err != nil {
			return nil, err
		}
		embs, err := toEmbeddings(vecs, e.cfg.Model, e.cfg.Dimensions)
		if err != nil {
			return nil, err
		}
		out = append(out, embs...)
	}
	return out, nil
}

func (e *OpenAIEmbedder) request(ctx context.Context, batch []string) ([][]float32, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, amerrors.Cancelled("wait for embedding rate limit", err)
	}

	var vecs [][]float32
	start := time.Now()
	err := e.breaker.Execute(func() error {
		reqCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()

		resp, err := e.client.CreateEmbeddings(reqCtx, openai.EmbeddingRequest{
			Input:          batch,
			Model:          openai.EmbeddingModel(e.cfg.Model),
			EncodingFormat: openai.EmbeddingEncodingFormatFloat,
			Dimensions:     e.cfg.Dimensions,
		})
		if err != nil {
			return parseAPIError(err)
		}
		if len(resp.Data) != len(batch) {
			return amerrors.Embedding(
				fmt.Sprintf("embedding API returned %d embeddings for %d inputs", len(resp.Data), len(batch)), nil)
		}
		vecs = make([][]float32, len(batch))
		for _, d := range resp.Data {
			if d.Index < 0 || d.Index >= len(batch) {
				return amerrors.Embedding(fmt.Sprintf("embedding API returned index %d out of range", d.Index), nil)
			}
			vecs[d.Index] = d.Embedding
		}
		return nil
	}, countsAgainstBreaker)

	status := "success"
	if err != nil {
		status = "error"
		e.logger.Debug("openai embedding failed", slog.String("model", e.cfg.Model), slog.String("error", err.Error()))
	}
	telemetry.EmbeddingRequestsTotal.WithLabelValues("openai", e.cfg.Model, status).Inc()
	telemetry.EmbeddingRequestDuration.WithLabelValues("openai", e.cfg.Model).Observe(time.Since(start).Seconds())
	return vecs, err
}

// countsAgainstBreaker ignores client-side failures: a bad request or a
// cancelled caller says nothing about provider health.
func countsAgainstBreaker(err error) bool {
	return amerrors.IsRetryable(err)
}

// parseAPIError maps go-openai errors onto embedding errors. 429 and 5xx
// are transient; other statuses fail immediately.
func parseAPIError(err error) error {
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return statusError(reqErr.HTTPStatusCode, string(reqErr.Body))
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return statusError(apiErr.HTTPStatusCode, apiErr.Message)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return classifyTransportError(err)
	}
	return amerrors.New(amerrors.ErrCodeNetworkUnavailable, "embedding request failed", err)
}

func (e *OpenAIEmbedder) Dimensions() int { return e.cfg.Dimensions }
func (e *OpenAIEmbedder) ModelName() string { return e.cfg.Model }
func (e *OpenAIEmbedder) Close() error { return nil }

// BreakerState reports the circuit breaker state for health checks.
func (e *OpenAIEmbedder) BreakerState() amerrors.State {
	return e.breaker.State()
}
