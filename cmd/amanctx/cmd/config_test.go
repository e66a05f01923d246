package cmd

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/amanctx/configs"
	"github.com/Aman-CERP/amanctx/internal/config"
)

func TestConfigInit(t *testing.T) {
	env := newCLIEnv(t)
	path := config.UserConfigPath()

	out, err := env.run(t, "", "config", "init")
	require.NoError(t, err)
	assert.Contains(t, out, "created "+path)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, configs.Template, string(data))

	out, err = env.run(t, "", "config", "init")
	require.NoError(t, err)
	assert.Contains(t, out, "already exists")

	require.NoError(t, os.WriteFile(path, []byte("search:\n  alpha: 0.2\n"), 0o600))
	_, err = env.run(t, "", "config", "init", "--force")
	require.NoError(t, err)
	assert.FileExists(t, path+".bak")
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, configs.Template, string(data))
}

func TestConfigInit_RejectsTOMLPath(t *testing.T) {
	env := newCLIEnv(t)
	_, err := env.run(t, "", "config", "init", "--path", filepath.Join(t.TempDir(), "c.toml"))
	require.Error(t, err)
}

func TestConfigShow_Formats(t *testing.T) {
	env := newCLIEnv(t)

	tests := []struct {
		format string
		decode func([]byte, any) error
	}{
		{"yaml", yaml.Unmarshal},
		{"json", json.Unmarshal},
		{"toml", toml.Unmarshal},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			out, err := env.run(t, "", "config", "show", "--format", tt.format)
			require.NoError(t, err)
			var cfg config.Config
			require.NoError(t, tt.decode([]byte(out), &cfg))
			assert.Equal(t, "none", cfg.Providers.VCS.Provider)
			assert.Equal(t, env.dataDir, cfg.DataDir)
		})
	}

	_, err := env.run(t, "", "config", "show", "--format", "ini")
	require.Error(t, err)
	_, err = env.run(t, "", "config", "show", "--source", "nowhere")
	require.Error(t, err)
}

func TestConfigShow_Defaults(t *testing.T) {
	env := newCLIEnv(t)
	out, err := env.run(t, "", "config", "show", "--source", "defaults", "--format", "json")
	require.NoError(t, err)
	var cfg config.Config
	require.NoError(t, json.Unmarshal([]byte(out), &cfg))
	assert.Equal(t, config.NewConfig().Providers.VCS.Provider, cfg.Providers.VCS.Provider)
}

func TestConfigValidate(t *testing.T) {
	env := newCLIEnv(t)

	out, err := env.run(t, "", "config", "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "merged configuration is valid")

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("search:\n  alpha: 3\n"), 0o600))
	_, err = env.run(t, "", "config", "validate", bad)
	require.Error(t, err)

	unknown := filepath.Join(t.TempDir(), "unknown.yaml")
	require.NoError(t, os.WriteFile(unknown, []byte("serch:\n  alpha: 0.5\n"), 0o600))
	_, err = env.run(t, "", "config", "validate", unknown)
	require.Error(t, err)
}

func TestConfigPathAndProviders(t *testing.T) {
	env := newCLIEnv(t)

	out, err := env.run(t, "", "config", "path")
	require.NoError(t, err)
	assert.Equal(t, config.UserConfigPath(), strings.TrimSpace(out))

	out, err = env.run(t, "", "config", "providers", "--json")
	require.NoError(t, err)
	var catalog map[string][]string
	require.NoError(t, json.Unmarshal([]byte(out), &catalog))
	assert.NotEmpty(t, catalog)
	for kind, names := range catalog {
		assert.NotEmpty(t, names, kind)
	}
}

func TestRedact(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Providers.Embedding.APIKey = "sk-live"
	cfg.Auth.JWT.Secret = "jwt-secret"

	out := redact(cfg)
	assert.Equal(t, "********", out.Providers.Embedding.APIKey)
	assert.Equal(t, "********", out.Auth.JWT.Secret)
	assert.Empty(t, out.Providers.VectorStore.Token)
	assert.Equal(t, "sk-live", cfg.Providers.Embedding.APIKey)
}
