package configs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amanctx/internal/config"
)

func TestTemplate_LoadsWithDefaults(t *testing.T) {
	require.NotEmpty(t, Template)

	path := filepath.Join(t.TempDir(), "amanctx.yaml")
	require.NoError(t, os.WriteFile(path, []byte(Template), 0o644))

	cfg, err := config.LoadFile(path)
	require.NoError(t, err)

	defaults := config.NewConfig()
	assert.Equal(t, defaults.Providers.Embedding.Provider, cfg.Providers.Embedding.Provider)
	assert.Equal(t, defaults.Providers.Chunker, cfg.Providers.Chunker)
	assert.Equal(t, defaults.Search, cfg.Search)
	assert.Equal(t, defaults.Server, cfg.Server)
	assert.Equal(t, defaults.MCP.Indexing.Workers, cfg.MCP.Indexing.Workers)
}
