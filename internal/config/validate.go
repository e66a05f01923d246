package config

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	amerrors "github.com/Aman-CERP/amanctx/internal/errors"
)

// MinJWTSecretLen is the minimum JWT secret length when auth is enabled.
const MinJWTSecretLen = 32

// Validate checks the configuration and returns a Configuration error
// listing every problem found.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	p := c.Providers
	required := map[string]string{
		"providers.embedding.provider":        p.Embedding.Provider,
		"providers.vector_store.provider":     p.VectorStore.Provider,
		"providers.cache.provider":            p.Cache.Provider,
		"providers.lexical.provider":          p.Lexical.Provider,
		"providers.chunker.provider":          p.Chunker.Provider,
		"providers.event_bus.provider":        p.EventBus.Provider,
		"providers.vcs.provider":              p.VCS.Provider,
		"providers.operations.provider":       p.Operations.Provider,
		"providers.analyzer.provider":         p.Analyzer.Provider,
		"providers.project_detector.provider": p.ProjectDetector.Provider,
	}
	for _, key := range sortedKeys(required) {
		if strings.TrimSpace(required[key]) == "" {
			add("%s is required", key)
		}
	}

	if p.Embedding.Dimensions < 0 {
		add("providers.embedding.dimensions must be non-negative, got %d", p.Embedding.Dimensions)
	}
	if p.Embedding.BatchSize <= 0 {
		add("providers.embedding.batch_size must be positive, got %d", p.Embedding.BatchSize)
	}
	if p.Embedding.TimeoutSecs <= 0 {
		add("providers.embedding.timeout_secs must be positive, got %d", p.Embedding.TimeoutSecs)
	}
	if p.VectorStore.TimeoutSecs <= 0 {
		add("providers.vector_store.timeout_secs must be positive, got %d", p.VectorStore.TimeoutSecs)
	}
	if p.Cache.DefaultTTLSecs < 0 {
		add("providers.cache.default_ttl_secs must be non-negative, got %d", p.Cache.DefaultTTLSecs)
	}
	if p.Cache.Provider == "redis" && p.Cache.RedisURL == "" {
		add("providers.cache.redis_url is required for the redis cache")
	}
	if _, ok := c.Database(""); !ok {
		add("providers.database.configs has no entry named %q", p.Database.Default)
	}
	for name, db := range p.Database.Configs {
		if db.Provider == "" {
			add("providers.database.configs.%s.provider is required", name)
		}
	}
	if p.Chunker.MaxLines <= 0 || p.Chunker.Overlap < 0 || p.Chunker.Overlap >= p.Chunker.MaxLines {
		add("providers.chunker requires max_lines > overlap >= 0, got %d/%d", p.Chunker.MaxLines, p.Chunker.Overlap)
	}

	if c.Auth.Enabled {
		if len(c.Auth.JWT.Secret) < MinJWTSecretLen {
			add("auth.jwt.secret must be at least %d bytes", MinJWTSecretLen)
		}
		if c.Auth.JWT.ExpirationSecs <= 0 {
			add("auth.jwt.expiration_secs must be positive")
		}
		if c.Auth.JWT.RefreshExpirationSecs < c.Auth.JWT.ExpirationSecs {
			add("auth.jwt.refresh_expiration_secs must be >= expiration_secs")
		}
	}

	idx := c.MCP.Indexing
	if len(idx.SupportedExtensions) == 0 {
		add("mcp.indexing.supported_extensions must not be empty")
	}
	for _, ext := range idx.SupportedExtensions {
		if !strings.HasPrefix(ext, ".") {
			add("mcp.indexing.supported_extensions entry %q must start with '.'", ext)
		}
	}
	if idx.Workers <= 0 {
		add("mcp.indexing.workers must be positive, got %d", idx.Workers)
	}
	if idx.ProgressEvery <= 0 || idx.ProgressIntervalMs <= 0 {
		add("mcp.indexing.progress_every and progress_interval_ms must be positive")
	}

	if c.Search.Alpha < 0 || c.Search.Alpha > 1 {
		add("search.alpha must be between 0 and 1, got %g", c.Search.Alpha)
	}
	if c.Search.Oversample < 2 {
		add("search.oversample must be at least 2, got %d", c.Search.Oversample)
	}
	if c.Search.DefaultLimit <= 0 {
		add("search.default_limit must be positive, got %d", c.Search.DefaultLimit)
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		add("logging.level must be 'debug', 'info', 'warn', or 'error', got %q", c.Logging.Level)
	}

	if len(problems) == 0 {
		return nil
	}
	return amerrors.Configuration("invalid configuration: "+strings.Join(problems, "; "), nil)
}

// Sections returns the top-level section names in declaration order, using
// the yaml key of each field.
func Sections() []string {
	t := reflect.TypeOf(Config{})
	out := make([]string, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		out = append(out, yamlKey(t.Field(i)))
	}
	return out
}

// ChangedSections lists the top-level sections that differ between a and b.
func ChangedSections(a, b *Config) []string {
	va, vb := reflect.ValueOf(*a), reflect.ValueOf(*b)
	t := va.Type()
	var changed []string
	for i := 0; i < t.NumField(); i++ {
		if !reflect.DeepEqual(va.Field(i).Interface(), vb.Field(i).Interface()) {
			changed = append(changed, yamlKey(t.Field(i)))
		}
	}
	return changed
}

func yamlKey(f reflect.StructField) string {
	tag := f.Tag.Get("yaml")
	if name, _, _ := strings.Cut(tag, ","); name != "" {
		return name
	}
	return strings.ToLower(f.Name)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
