package config

import (
	"os"
	"strconv"
	"strings"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "AMANCTX_"

// applyEnvOverrides applies AMANCTX_* environment variables. Malformed
// numeric values are ignored and the previous layer's value is kept.
func (c *Config) applyEnvOverrides() {
	setString(&c.DataDir, "DATA_DIR")

	emb := &c.Providers.Embedding
	setString(&emb.Provider, "EMBEDDING_PROVIDER")
	setString(&emb.Model, "EMBEDDING_MODEL")
	setString(&emb.APIKey, "EMBEDDING_API_KEY")
	setString(&emb.BaseURL, "EMBEDDING_BASE_URL")
	setInt(&emb.Dimensions, "EMBEDDING_DIMENSIONS")

	vs := &c.Providers.VectorStore
	setString(&vs.Provider, "VECTOR_STORE_PROVIDER")
	setString(&vs.Address, "VECTOR_STORE_ADDRESS")
	setString(&vs.Token, "VECTOR_STORE_TOKEN")

	cache := &c.Providers.Cache
	setString(&cache.Provider, "CACHE_PROVIDER")
	setString(&cache.RedisURL, "REDIS_URL")
	setString(&cache.Namespace, "CACHE_NAMESPACE")

	setString(&c.Providers.Lexical.Provider, "LEXICAL_PROVIDER")
	setString(&c.Auth.JWT.Secret, "JWT_SECRET")
	setString(&c.Logging.Level, "LOG_LEVEL")
	setString(&c.Server.Listen, "LISTEN")

	if v, ok := lookup("SEARCH_ALPHA"); ok {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			c.Search.Alpha = f
		}
	}
	setInt(&c.MCP.Indexing.Workers, "INDEX_WORKERS")
	if v, ok := lookup("AUTH_ENABLED"); ok {
		c.Auth.Enabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v, ok := lookup("SUPPORTED_EXTENSIONS"); ok {
		var exts []string
		for _, e := range strings.Split(v, ",") {
			if e = strings.TrimSpace(e); e != "" {
				exts = append(exts, e)
			}
		}
		if len(exts) > 0 {
			c.MCP.Indexing.SupportedExtensions = exts
		}
	}
}

func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(EnvPrefix + key)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func setString(dst *string, key string) {
	if v, ok := lookup(key); ok {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v, ok := lookup(key); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			*dst = n
		}
	}
}
