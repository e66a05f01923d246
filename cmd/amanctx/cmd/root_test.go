package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// cliEnv isolates a command run from the user's configuration and data.
type cliEnv struct {
	config  string
	dataDir string
	src     string
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))

	env := &cliEnv{
		config:  filepath.Join(home, "amanctx.yaml"),
		dataDir: filepath.Join(home, "data"),
		src:     t.TempDir(),
	}
	require.NoError(t, os.WriteFile(env.config, []byte(
		"providers:\n  vcs:\n    provider: none\nserver:\n  metrics_interval_secs: 3600\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(env.src, "main.go"),
		[]byte("package main\n\nfunc ParseFlags() {}\n\nfunc main() { ParseFlags() }\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(env.src, "util.go"),
		[]byte("package main\n\ntype Point struct{ X, Y int }\n\nfunc Sum(a, b int) int { return a + b }\n"), 0o644))
	return env
}

// run executes the root command with the environment's config and data dir.
func (e *cliEnv) run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	buf := &bytes.Buffer{}
	root.SetOut(buf)
	root.SetErr(io.Discard)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(append(args, "--config", e.config, "--data-dir", e.dataDir))
	err := root.ExecuteContext(context.Background())
	return buf.String(), err
}

func TestRootCmd_Subcommands(t *testing.T) {
	root := NewRootCmd()
	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"index", "status", "search", "memory", "analyze", "serve", "config", "version"} {
		assert.True(t, names[want], "missing %s command", want)
	}

	for _, flag := range []string{"config", "data-dir", "log-level", "verbose"} {
		assert.NotNil(t, root.PersistentFlags().Lookup(flag), flag)
	}
}

func TestResolveRoot(t *testing.T) {
	cwd, err := os.Getwd()
	require.NoError(t, err)

	got, err := resolveRoot(nil)
	require.NoError(t, err)
	assert.Equal(t, cwd, got)

	got, err = resolveRoot([]string{"sub/dir"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(cwd, "sub", "dir"), got)
}

func TestRootCmd_MissingConfigFile(t *testing.T) {
	env := newCLIEnv(t)
	env.config = filepath.Join(t.TempDir(), "absent.yaml")

	_, err := env.run(t, "", "status")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestDoctor(t *testing.T) {
	env := newCLIEnv(t)

	out, err := env.run(t, "", "doctor", "--json")
	require.NoError(t, err)
	var rep doctorReport
	require.NoError(t, json.Unmarshal([]byte(out), &rep))
	assert.NotEqual(t, "failed", rep.Status)

	names := map[string]bool{}
	for _, c := range rep.Checks {
		names[c.Name] = true
	}
	for _, want := range []string{"disk_space", "write_permissions", "database", "vector_store", "embedding_probe"} {
		assert.True(t, names[want], "missing %s check", want)
	}
}

func TestRootCmd_MemProfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "heap.prof")
	root := NewRootCmd()
	root.SetOut(io.Discard)
	root.SetArgs([]string{"version", "--short", "--memprofile", path})
	require.NoError(t, root.Execute())
	assert.FileExists(t, path)
}
