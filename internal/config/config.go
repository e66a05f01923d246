// Package config loads layered amanctx configuration.
//
// Sources, in increasing precedence:
//  1. Hardcoded defaults (NewConfig)
//  2. User config ($XDG_CONFIG_HOME/amanctx/config.yaml or .toml)
//  3. Project config (.amanctx.yaml / .amanctx.toml in the project root)
//  4. An explicit file passed with --config
//  5. Environment variables (AMANCTX_*)
//
// Each file is decoded onto the result of the previous layer, so a file only
// overrides the keys it names.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	amerrors "github.com/Aman-CERP/amanctx/internal/errors"
)

// Config is the complete amanctx configuration.
type Config struct {
	DataDir   string          `yaml:"data_dir" toml:"data_dir" json:"data_dir"`
	Providers ProvidersConfig `yaml:"providers" toml:"providers" json:"providers"`
	Auth      AuthConfig      `yaml:"auth" toml:"auth" json:"auth"`
	MCP       MCPConfig       `yaml:"mcp" toml:"mcp" json:"mcp"`
	Search    SearchConfig    `yaml:"search" toml:"search" json:"search"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging" json:"logging"`
	Server    ServerConfig    `yaml:"server" toml:"server" json:"server"`
}

// ProvidersConfig selects one provider per kind.
type ProvidersConfig struct {
	Embedding       EmbeddingConfig   `yaml:"embedding" toml:"embedding" json:"embedding"`
	VectorStore     VectorStoreConfig `yaml:"vector_store" toml:"vector_store" json:"vector_store"`
	Database        DatabaseConfig    `yaml:"database" toml:"database" json:"database"`
	Cache           CacheConfig       `yaml:"cache" toml:"cache" json:"cache"`
	Lexical         LexicalConfig     `yaml:"lexical" toml:"lexical" json:"lexical"`
	Chunker         ChunkerConfig     `yaml:"chunker" toml:"chunker" json:"chunker"`
	EventBus        EventBusConfig    `yaml:"event_bus" toml:"event_bus" json:"event_bus"`
	VCS             ProviderRef       `yaml:"vcs" toml:"vcs" json:"vcs"`
	Operations      ProviderRef       `yaml:"operations" toml:"operations" json:"operations"`
	Analyzer        ProviderRef       `yaml:"analyzer" toml:"analyzer" json:"analyzer"`
	ProjectDetector ProviderRef       `yaml:"project_detector" toml:"project_detector" json:"project_detector"`
}

// ProviderRef selects a provider that needs no further settings.
type ProviderRef struct {
	Provider string `yaml:"provider" toml:"provider" json:"provider"`
}

// EmbeddingConfig configures the embedding provider.
type EmbeddingConfig struct {
	Provider          string  `yaml:"provider" toml:"provider" json:"provider"`
	Model             string  `yaml:"model" toml:"model" json:"model"`
	APIKey            string  `yaml:"api_key,omitempty" toml:"api_key,omitempty" json:"-"`
	BaseURL           string  `yaml:"base_url,omitempty" toml:"base_url,omitempty" json:"base_url,omitempty"`
	Dimensions        int     `yaml:"dimensions,omitempty" toml:"dimensions,omitempty" json:"dimensions,omitempty"`
	CacheDir          string  `yaml:"cache_dir,omitempty" toml:"cache_dir,omitempty" json:"cache_dir,omitempty"`
	CacheSize         int     `yaml:"cache_size" toml:"cache_size" json:"cache_size"`
	BatchSize         int     `yaml:"batch_size" toml:"batch_size" json:"batch_size"`
	TimeoutSecs       int     `yaml:"timeout_secs" toml:"timeout_secs" json:"timeout_secs"`
	RequestsPerSecond float64 `yaml:"requests_per_second,omitempty" toml:"requests_per_second,omitempty" json:"requests_per_second,omitempty"`
}

// VectorStoreConfig configures the vector store.
type VectorStoreConfig struct {
	Provider    string `yaml:"provider" toml:"provider" json:"provider"`
	Address     string `yaml:"address,omitempty" toml:"address,omitempty" json:"address,omitempty"`
	Token       string `yaml:"token,omitempty" toml:"token,omitempty" json:"-"`
	Collection  string `yaml:"collection,omitempty" toml:"collection,omitempty" json:"collection,omitempty"`
	Dimensions  int    `yaml:"dimensions,omitempty" toml:"dimensions,omitempty" json:"dimensions,omitempty"`
	TimeoutSecs int    `yaml:"timeout_secs" toml:"timeout_secs" json:"timeout_secs"`
	Path        string `yaml:"path,omitempty" toml:"path,omitempty" json:"path,omitempty"`
}

// DatabaseConfig holds named relational backends.
type DatabaseConfig struct {
	Default string                   `yaml:"default" toml:"default" json:"default"`
	Configs map[string]DatabaseEntry `yaml:"configs" toml:"configs" json:"configs"`
}

// DatabaseEntry configures one relational backend.
type DatabaseEntry struct {
	Provider string `yaml:"provider" toml:"provider" json:"provider"`
	Path     string `yaml:"path,omitempty" toml:"path,omitempty" json:"path,omitempty"`
}

// CacheConfig configures the cache backend.
type CacheConfig struct {
	Provider       string `yaml:"provider" toml:"provider" json:"provider"`
	DefaultTTLSecs int    `yaml:"default_ttl_secs" toml:"default_ttl_secs" json:"default_ttl_secs"`
	MaxSize        int    `yaml:"max_size" toml:"max_size" json:"max_size"`
	RedisURL       string `yaml:"redis_url,omitempty" toml:"redis_url,omitempty" json:"-"`
	Namespace      string `yaml:"namespace" toml:"namespace" json:"namespace"`
}

// LexicalConfig selects the term index backend: sqlite (FTS5), bleve, or none.
type LexicalConfig struct {
	Provider string `yaml:"provider" toml:"provider" json:"provider"`
	Path     string `yaml:"path,omitempty" toml:"path,omitempty" json:"path,omitempty"`
}

// ChunkerConfig configures the language chunker.
type ChunkerConfig struct {
	Provider string `yaml:"provider" toml:"provider" json:"provider"`
	MaxLines int    `yaml:"max_lines" toml:"max_lines" json:"max_lines"`
	Overlap  int    `yaml:"overlap" toml:"overlap" json:"overlap"`
}

// EventBusConfig configures the event bus.
type EventBusConfig struct {
	Provider string `yaml:"provider" toml:"provider" json:"provider"`
	Capacity int    `yaml:"capacity" toml:"capacity" json:"capacity"`
}

// AuthConfig configures admin authentication. It is validated here and
// consumed by external handlers.
type AuthConfig struct {
	Enabled bool         `yaml:"enabled" toml:"enabled" json:"enabled"`
	APIKey  APIKeyConfig `yaml:"api_key" toml:"api_key" json:"api_key"`
	JWT     JWTConfig    `yaml:"jwt" toml:"jwt" json:"jwt"`
}

// APIKeyConfig names the header that carries API keys.
type APIKeyConfig struct {
	Header string `yaml:"header" toml:"header" json:"header"`
}

// JWTConfig configures token signing.
type JWTConfig struct {
	Secret                string `yaml:"secret,omitempty" toml:"secret,omitempty" json:"-"`
	ExpirationSecs        int    `yaml:"expiration_secs" toml:"expiration_secs" json:"expiration_secs"`
	RefreshExpirationSecs int    `yaml:"refresh_expiration_secs" toml:"refresh_expiration_secs" json:"refresh_expiration_secs"`
}

// MCPConfig groups settings read by the tool-facing services.
type MCPConfig struct {
	Indexing IndexingConfig `yaml:"indexing" toml:"indexing" json:"indexing"`
}

// IndexingConfig configures file discovery and the indexing pipeline.
type IndexingConfig struct {
	SupportedExtensions []string `yaml:"supported_extensions" toml:"supported_extensions" json:"supported_extensions"`
	Exclude             []string `yaml:"exclude" toml:"exclude" json:"exclude"`
	Workers             int      `yaml:"workers" toml:"workers" json:"workers"`
	ProgressEvery       int      `yaml:"progress_every" toml:"progress_every" json:"progress_every"`
	ProgressIntervalMs  int      `yaml:"progress_interval_ms" toml:"progress_interval_ms" json:"progress_interval_ms"`
	MaxFileSizeKB       int      `yaml:"max_file_size_kb" toml:"max_file_size_kb" json:"max_file_size_kb"`
	FileTimeoutSecs     int      `yaml:"file_timeout_secs" toml:"file_timeout_secs" json:"file_timeout_secs"`
}

// SearchConfig configures hybrid retrieval.
type SearchConfig struct {
	// Alpha weights the semantic stream; 1-Alpha weights the lexical stream.
	Alpha float64 `yaml:"alpha" toml:"alpha" json:"alpha"`
	// Oversample multiplies limit for the dense query (must be >= 2).
	Oversample   int `yaml:"oversample" toml:"oversample" json:"oversample"`
	DefaultLimit int `yaml:"default_limit" toml:"default_limit" json:"default_limit"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level     string `yaml:"level" toml:"level" json:"level"`
	File      string `yaml:"file,omitempty" toml:"file,omitempty" json:"file,omitempty"`
	MaxSizeMB int    `yaml:"max_size_mb" toml:"max_size_mb" json:"max_size_mb"`
	MaxFiles  int    `yaml:"max_files" toml:"max_files" json:"max_files"`
	Stderr    bool   `yaml:"stderr" toml:"stderr" json:"stderr"`
}

// ServerConfig configures the health/metrics listener.
type ServerConfig struct {
	Listen              string `yaml:"listen" toml:"listen" json:"listen"`
	MetricsIntervalSecs int    `yaml:"metrics_interval_secs" toml:"metrics_interval_secs" json:"metrics_interval_secs"`
}

// DefaultExtensions are the file extensions indexed when none are configured.
var DefaultExtensions = []string{
	".go", ".rs", ".py", ".js", ".jsx", ".ts", ".tsx", ".java", ".c", ".h",
	".cpp", ".hpp", ".rb", ".md", ".yaml", ".yml", ".toml", ".json", ".sh", ".sql",
}

// NewConfig returns a Config populated with defaults.
func NewConfig() *Config {
	return &Config{
		DataDir: defaultDataDir(),
		Providers: ProvidersConfig{
			Embedding: EmbeddingConfig{
				Provider:    "static",
				Model:       "static-hash-256",
				Dimensions:  256,
				CacheSize:   10000,
				BatchSize:   32,
				TimeoutSecs: 60,
			},
			VectorStore: VectorStoreConfig{Provider: "hnsw", TimeoutSecs: 30},
			Database: DatabaseConfig{
				Default: "default",
				Configs: map[string]DatabaseEntry{"default": {Provider: "sqlite"}},
			},
			Cache: CacheConfig{
				Provider:       "memory",
				DefaultTTLSecs: 3600,
				MaxSize:        10000,
				Namespace:      "amanctx",
			},
			Lexical:         LexicalConfig{Provider: "sqlite"},
			Chunker:         ChunkerConfig{Provider: "treesitter", MaxLines: 128, Overlap: 16},
			EventBus:        EventBusConfig{Provider: "broadcast", Capacity: 1024},
			VCS:             ProviderRef{Provider: "git"},
			Operations:      ProviderRef{Provider: "memory"},
			Analyzer:        ProviderRef{Provider: "treesitter"},
			ProjectDetector: ProviderRef{Provider: "markers"},
		},
		Auth: AuthConfig{
			APIKey: APIKeyConfig{Header: "X-API-Key"},
			JWT:    JWTConfig{ExpirationSecs: 3600, RefreshExpirationSecs: 7 * 24 * 3600},
		},
		MCP: MCPConfig{Indexing: IndexingConfig{
			SupportedExtensions: append([]string(nil), DefaultExtensions...),
			Workers:             4,
			ProgressEvery:       10,
			ProgressIntervalMs:  500,
			MaxFileSizeKB:       1024,
			FileTimeoutSecs:     120,
		}},
		Search:  SearchConfig{Alpha: 0.7, Oversample: 2, DefaultLimit: 10},
		Logging: LoggingConfig{Level: "info", MaxSizeMB: 10, MaxFiles: 5},
		Server:  ServerConfig{Listen: "127.0.0.1:7411", MetricsIntervalSecs: 60},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".amanctx")
	}
	return filepath.Join(home, ".amanctx")
}

// UserConfigPath returns the user config path, preferring an existing .toml
// file over the default .yaml location.
func UserConfigPath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = os.TempDir()
		}
		dir = filepath.Join(home, ".config")
	}
	base := filepath.Join(dir, "amanctx")
	if fileExists(filepath.Join(base, "config.toml")) {
		return filepath.Join(base, "config.toml")
	}
	return filepath.Join(base, "config.yaml")
}

// ProjectConfigPath returns the first project config file found in dir, or "".
func ProjectConfigPath(dir string) string {
	for _, name := range []string{".amanctx.yaml", ".amanctx.yml", ".amanctx.toml"} {
		p := filepath.Join(dir, name)
		if fileExists(p) {
			return p
		}
	}
	return ""
}

// LoadOptions controls which layers Load reads.
type LoadOptions struct {
	// ProjectDir is searched for a project config file. Empty skips the layer.
	ProjectDir string
	// File is an explicit config file applied after the project layer.
	File string
	// SkipUser skips the user config layer.
	SkipUser bool
	// SkipEnv skips AMANCTX_* overrides.
	SkipEnv bool
	// DataDir overrides data_dir after every layer, before derived paths
	// are filled in.
	DataDir string
}

// Load builds the layered configuration and validates it.
func Load(opts LoadOptions) (*Config, error) {
	cfg := NewConfig()

	if !opts.SkipUser {
		if p := UserConfigPath(); fileExists(p) {
			if err := cfg.decodeFile(p); err != nil {
				return nil, err
			}
		}
	}
	if opts.ProjectDir != "" {
		if p := ProjectConfigPath(opts.ProjectDir); p != "" {
			if err := cfg.decodeFile(p); err != nil {
				return nil, err
			}
		}
	}
	if opts.File != "" {
		if !fileExists(opts.File) {
			return nil, amerrors.New(amerrors.ErrCodeConfigNotFound,
				fmt.Sprintf("config file %s not found", opts.File), nil)
		}
		if err := cfg.decodeFile(opts.File); err != nil {
			return nil, err
		}
	}
	if !opts.SkipEnv {
		cfg.applyEnvOverrides()
	}
	if opts.DataDir != "" {
		cfg.DataDir = opts.DataDir
	}
	cfg.expandPaths()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile loads defaults plus a single file, without env overrides. The hot
// reload watcher uses it to re-read the watched file.
func LoadFile(path string) (*Config, error) {
	return Load(LoadOptions{File: path, SkipUser: true, SkipEnv: true})
}

func (c *Config) decodeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return amerrors.New(amerrors.ErrCodeConfigNotFound, fmt.Sprintf("read config file %s", path), err)
	}
	if err := c.decode(path, data); err != nil {
		return amerrors.Configuration(fmt.Sprintf("parse config file %s", path), err)
	}
	return nil
}

func (c *Config) decode(path string, data []byte) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return toml.NewDecoder(bytes.NewReader(data)).DisallowUnknownFields().Decode(c)
	default:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		return nil
	}
}

// expandPaths resolves ~ and fills data-dir relative defaults.
func (c *Config) expandPaths() {
	c.DataDir = expandHome(c.DataDir)
	for name, db := range c.Providers.Database.Configs {
		if db.Path == "" {
			db.Path = filepath.Join(c.DataDir, name+".db")
		}
		db.Path = expandHome(db.Path)
		c.Providers.Database.Configs[name] = db
	}
	if c.Providers.VectorStore.Path == "" {
		c.Providers.VectorStore.Path = filepath.Join(c.DataDir, "vectors")
	}
	c.Providers.VectorStore.Path = expandHome(c.Providers.VectorStore.Path)
	if c.Providers.Lexical.Path == "" {
		c.Providers.Lexical.Path = filepath.Join(c.DataDir, "lexical")
	}
	c.Providers.Lexical.Path = expandHome(c.Providers.Lexical.Path)
	if c.Providers.Embedding.CacheDir != "" {
		c.Providers.Embedding.CacheDir = expandHome(c.Providers.Embedding.CacheDir)
	}
	if c.Logging.File == "" {
		c.Logging.File = filepath.Join(c.DataDir, "logs", "amanctx.log")
	}
	c.Logging.File = expandHome(c.Logging.File)
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}

// Database returns the named database entry, or the default one for "".
func (c *Config) Database(name string) (DatabaseEntry, bool) {
	if name == "" {
		name = c.Providers.Database.Default
	}
	db, ok := c.Providers.Database.Configs[name]
	return db, ok
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	out := *c
	out.Providers.Database.Configs = make(map[string]DatabaseEntry, len(c.Providers.Database.Configs))
	for k, v := range c.Providers.Database.Configs {
		out.Providers.Database.Configs[k] = v
	}
	out.MCP.Indexing.SupportedExtensions = append([]string(nil), c.MCP.Indexing.SupportedExtensions...)
	out.MCP.Indexing.Exclude = append([]string(nil), c.MCP.Indexing.Exclude...)
	return &out
}

// WriteYAML writes the configuration to path.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
