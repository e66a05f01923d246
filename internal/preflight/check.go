// Package preflight validates the host and the configured providers before
// long-running work starts.
//
//	checker := preflight.New(cfg.DataDir, preflight.WithHealth(app))
//	results := checker.Run(ctx)
//	if preflight.Critical(results) {
//	    // refuse to start
//	}
package preflight

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/Aman-CERP/amanctx/internal/ports"
)

// Status is the outcome of a check.
type Status string

const (
	StatusPass Status = "pass"
	StatusWarn Status = "warn"
	StatusFail Status = "fail"
)

// Result is the outcome of one check.
type Result struct {
	Name     string `json:"name"`
	Status   Status `json:"status"`
	Message  string `json:"message"`
	Hint     string `json:"hint,omitempty"`
	Required bool   `json:"required"`
}

// IsCritical reports whether a required check failed.
func (r Result) IsCritical() bool {
	return r.Required && r.Status == StatusFail
}

// HealthChecker reports per-component health; "ok" means healthy.
type HealthChecker interface {
	Health(ctx context.Context) map[string]string
}

// Checker runs the checks.
type Checker struct {
	dataDir  string
	health   HealthChecker
	embedder ports.EmbeddingProvider
	minDisk  uint64
	minFDs   uint64
	timeout  time.Duration
}

// Option configures a Checker.
type Option func(*Checker)

// WithHealth adds one check per component reported by h.
func WithHealth(h HealthChecker) Option {
	return func(c *Checker) { c.health = h }
}

// WithEmbedder adds a round trip through the embedding provider.
func WithEmbedder(e ports.EmbeddingProvider) Option {
	return func(c *Checker) { c.embedder = e }
}

// WithMinDiskSpace overrides MinDiskSpaceBytes.
func WithMinDiskSpace(n uint64) Option {
	return func(c *Checker) { c.minDisk = n }
}

// WithMinFileDescriptors overrides MinFileDescriptors.
func WithMinFileDescriptors(n uint64) Option {
	return func(c *Checker) { c.minFDs = n }
}

// New creates a Checker for dataDir.
func New(dataDir string, opts ...Option) *Checker {
	c := &Checker{
		dataDir: dataDir,
		minDisk: MinDiskSpaceBytes,
		minFDs:  MinFileDescriptors,
		timeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run executes the system checks followed by the service checks.
func (c *Checker) Run(ctx context.Context) []Result {
	return append(c.System(), c.Services(ctx)...)
}

// System checks the host: disk space, write access and file limits.
func (c *Checker) System() []Result {
	return []Result{
		c.CheckDiskSpace(),
		c.CheckWritePermissions(),
		c.CheckFileDescriptors(),
	}
}

// Services checks the configured health source and embedder, if any.
func (c *Checker) Services(ctx context.Context) []Result {
	var results []Result
	if c.health != nil {
		results = append(results, c.checkHealth(ctx)...)
	}
	if c.embedder != nil {
		results = append(results, c.CheckEmbedding(ctx))
	}
	return results
}

func (c *Checker) checkHealth(ctx context.Context) []Result {
	report := c.health.Health(ctx)
	names := make([]string, 0, len(report))
	for name := range report {
		if name != "status" {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	out := make([]Result, 0, len(names))
	for _, name := range names {
		r := Result{Name: name, Required: true, Status: StatusPass, Message: report[name]}
		if report[name] != "ok" {
			r.Status = StatusFail
		}
		out = append(out, r)
	}
	return out
}

// CheckEmbedding embeds a probe text and verifies the dimensionality. A
// failure is a warning: indexing can still run once the provider recovers.
func (c *Checker) CheckEmbedding(ctx context.Context) Result {
	r := Result{Name: "embedding_probe"}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	emb, err := c.embedder.Embed(ctx, "preflight probe")
	switch {
	case err != nil:
		r.Status = StatusWarn
		r.Message = err.Error()
		r.Hint = "check providers.embedding or switch to the static provider"
	case len(emb.Vector) != c.embedder.Dimensions():
		r.Status = StatusFail
		r.Required = true
		r.Message = fmt.Sprintf("%s returned %d dimensions, expected %d",
			c.embedder.ModelName(), len(emb.Vector), c.embedder.Dimensions())
	default:
		r.Status = StatusPass
		r.Message = fmt.Sprintf("%s, %d dims in %s", c.embedder.ModelName(), len(emb.Vector),
			time.Since(start).Round(time.Millisecond))
	}
	return r
}

// Critical reports whether any required check failed.
func Critical(results []Result) bool {
	for _, r := range results {
		if r.IsCritical() {
			return true
		}
	}
	return false
}

// Summary condenses results into ready, ready_with_warnings or failed.
func Summary(results []Result) string {
	warned := false
	for _, r := range results {
		if r.IsCritical() {
			return "failed"
		}
		if r.Status != StatusPass {
			warned = true
		}
	}
	if warned {
		return "ready_with_warnings"
	}
	return "ready"
}
