package analysis

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	amerrors "github.com/Aman-CERP/amanctx/internal/errors"
	"github.com/Aman-CERP/amanctx/internal/ports"
)

const goSource = `package demo

// Greeter says hello.
type Greeter struct{}

func (g Greeter) Hello() string { return "hi" }

func New() Greeter {
	return Greeter{}
}
`

const pySource = `# helpers
class Store:
    def get(self):
        return 1

    @property
    def size(self):
        return 0


def load():
    pass
`

const rustSource = `struct Point { x: i32 }

impl Point {
    fn new() -> Self { Point { x: 0 } }
    fn x(&self) -> i32 { self.x }
}

fn main() {}
`

func TestTreeSitter_Analyze(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		content  string
		language string
		want     ports.CodeStats
	}{
		{
			name:    "go",
			path:    "demo.go",
			content: goSource,
			want: ports.CodeStats{
				Language: "go", Lines: 10, CodeLines: 6,
				Symbols: map[string]int{"type": 1, "method": 1, "function": 1},
			},
		},
		{
			name:    "python methods inside class",
			path:    "store.py",
			content: pySource,
			want: ports.CodeStats{
				Language: "python", Lines: 12, CodeLines: 8,
				Symbols: map[string]int{"class": 1, "method": 2, "function": 1},
			},
		},
		{
			name:    "rust impl members",
			path:    "point.rs",
			content: rustSource,
			want: ports.CodeStats{
				Language: "rust", Lines: 8, CodeLines: 6,
				Symbols: map[string]int{"type": 1, "impl": 1, "method": 2, "function": 1},
			},
		},
		{
			name:    "no grammar",
			path:    "run.sh",
			content: "#!/bin/sh\n\necho hi\n",
			want:    ports.CodeStats{Language: "shell", Lines: 3, CodeLines: 1},
		},
		{
			name:     "explicit language wins",
			path:     "notes.txt",
			content:  "a\nb",
			language: "yaml",
			want:     ports.CodeStats{Language: "yaml", Lines: 2, CodeLines: 2},
		},
		{
			name: "empty",
			path: "empty.go",
			want: ports.CodeStats{Language: "go"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewTreeSitter().Analyze(context.Background(), tt.path, []byte(tt.content), tt.language)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTreeSitter_AnalyzeCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewTreeSitter().Analyze(ctx, "a.go", []byte(goSource), "")
	assert.True(t, amerrors.IsKind(err, amerrors.KindCancelled))
}

func writeFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
}

func TestMarkers_Detect(t *testing.T) {
	tests := []struct {
		name      string
		files     map[string]string
		wantName  string
		wantTypes []string
		wantLangs []string
	}{
		{
			name:      "go module",
			files:     map[string]string{"go.mod": "// header\nmodule github.com/acme/widget\n\ngo 1.22\n"},
			wantName:  "widget",
			wantTypes: []string{"go"},
			wantLangs: []string{"go"},
		},
		{
			name:      "cargo",
			files:     map[string]string{"Cargo.toml": "[package]\nname = \"ferris\"\nversion = \"0.1.0\"\n"},
			wantName:  "ferris",
			wantTypes: []string{"rust"},
			wantLangs: []string{"rust"},
		},
		{
			name: "scoped node package with typescript",
			files: map[string]string{
				"package.json":  `{"name": "@acme/ui"}`,
				"tsconfig.json": `{}`,
			},
			wantName:  "ui",
			wantTypes: []string{"node", "typescript"},
			wantLangs: []string{"javascript", "typescript"},
		},
		{
			name: "poetry project",
			files: map[string]string{
				"pyproject.toml":   "[tool.poetry]\nname = \"snake\"\n",
				"requirements.txt": "requests\n",
			},
			wantName:  "snake",
			wantTypes: []string{"python"},
			wantLangs: []string{"python"},
		},
		{
			name:      "mixed go and cmake",
			files:     map[string]string{"go.mod": "module tool\n", "CMakeLists.txt": ""},
			wantName:  "tool",
			wantTypes: []string{"go", "cmake"},
			wantLangs: []string{"go", "c", "cpp"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeFiles(t, dir, tt.files)

			info, err := NewMarkers().Detect(context.Background(), dir)
			require.NoError(t, err)
			assert.Equal(t, dir, info.Root)
			assert.Equal(t, tt.wantName, info.Name)
			assert.Equal(t, tt.wantTypes, info.Types)
			assert.Equal(t, tt.wantLangs, info.Languages)
		})
	}
}

func TestMarkers_DetectFallbacks(t *testing.T) {
	dir := t.TempDir()
	info, err := NewMarkers().Detect(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Base(dir), info.Name)
	assert.Empty(t, info.Types)
	assert.Nil(t, info.Languages)

	writeFiles(t, dir, map[string]string{"package.json": "{broken"})
	info, err = NewMarkers().Detect(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Base(dir), info.Name)
	assert.Equal(t, []string{"node"}, info.Types)

	_, err = NewMarkers().Detect(context.Background(), filepath.Join(dir, "missing"))
	assert.True(t, amerrors.IsNotFound(err))
	_, err = NewMarkers().Detect(context.Background(), filepath.Join(dir, "package.json"))
	assert.True(t, amerrors.IsKind(err, amerrors.KindInvalidArgument))
}
