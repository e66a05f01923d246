package cmd

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndexSearchStatus(t *testing.T) {
	env := newCLIEnv(t)

	out, err := env.run(t, "", "index", env.src, "--collection", "demo")
	require.NoError(t, err)
	assert.Contains(t, out, `into "demo" (2 files)`)
	assert.Contains(t, out, "indexed 2/2 files")

	out, err = env.run(t, "", "search", "ParseFlags", "--collection", "demo", "-n", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "1. main.go:")

	out, err = env.run(t, "", "search", "ParseFlags", "--collection", "demo", "--json")
	require.NoError(t, err)
	var results []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.NotEmpty(t, results)
	assert.Equal(t, "main.go", results[0]["file_path"])

	out, err = env.run(t, "", "status", "--collection", "demo", "--json")
	require.NoError(t, err)
	var st statusReport
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.True(t, st.Stats.Exists)
	assert.Equal(t, 2, st.Stats.IndexedFiles)
	assert.Greater(t, st.Stats.Vectors, 0)
	assert.False(t, st.Indexing.IsIndexing)
	require.Len(t, st.History, 1)
	assert.Equal(t, 2, st.History[0].ProcessedFiles)
}

func TestIndex_ReindexSkipsUnchangedFiles(t *testing.T) {
	env := newCLIEnv(t)

	_, err := env.run(t, "", "index", env.src, "--collection", "demo")
	require.NoError(t, err)

	out, err := env.run(t, "", "index", env.src, "--collection", "demo", "--json")
	require.NoError(t, err)
	var rep struct {
		Status string `json:"status"`
		Chunks int    `json:"chunks"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &rep))
	assert.Equal(t, "completed", rep.Status)
	assert.Zero(t, rep.Chunks)

	out, err = env.run(t, "", "index", env.src, "--collection", "demo", "--clear", "--json")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &rep))
	assert.Positive(t, rep.Chunks)
}

func TestSearch_Validation(t *testing.T) {
	env := newCLIEnv(t)

	_, err := env.run(t, "", "search")
	require.Error(t, err)

	_, err = env.run(t, "", "search", "x", "--alpha", "1.5")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "alpha")
}

func TestSearch_UnindexedCollectionIsEmpty(t *testing.T) {
	env := newCLIEnv(t)

	out, err := env.run(t, "", "search", "anything", "--collection", "nothing-here")
	require.NoError(t, err)
	assert.Contains(t, out, "no results")

	out, err = env.run(t, "", "search", "anything", "--collection", "nothing-here", "--json")
	require.NoError(t, err)
	assert.JSONEq(t, "[]", out)
}
