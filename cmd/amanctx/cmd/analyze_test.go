package cmd

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnalyze(t *testing.T) {
	env := newCLIEnv(t)
	require.NoError(t, os.WriteFile(filepath.Join(env.src, "go.mod"),
		[]byte("module example.com/acme/widgets\n\ngo 1.22\n"), 0o644))

	out, err := env.run(t, "", "analyze", env.src, "--json")
	require.NoError(t, err)

	var rep analysisReport
	require.NoError(t, json.Unmarshal([]byte(out), &rep))
	assert.Equal(t, "widgets", rep.Project.Name)
	assert.Contains(t, rep.Project.Types, "go")
	assert.Nil(t, rep.VCS)
	assert.Equal(t, 2, rep.Languages["go"])
	assert.Equal(t, 3, rep.Symbols["function"])
	assert.Positive(t, rep.CodeLines)
	assert.GreaterOrEqual(t, rep.Lines, rep.CodeLines)

	out, err = env.run(t, "", "analyze", env.src)
	require.NoError(t, err)
	assert.Contains(t, out, "project:")
	assert.Contains(t, out, "widgets")
	assert.Contains(t, out, "languages")
}
