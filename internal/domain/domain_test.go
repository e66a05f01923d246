package domain

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amanctx/internal/ids"
)

func TestEntities_JSONRoundTrip(t *testing.T) {
	created := time.Date(2026, 3, 14, 9, 26, 53, 589000000, time.UTC)

	tests := []struct {
		name  string
		value any
	}{
		{"code chunk", CodeChunk{
			ID: "c1", FilePath: "src/lib.rs", Content: "fn alpha() {}", StartLine: 3, EndLine: 5,
			Language: "rust", Metadata: map[string]any{"symbol": "alpha", "kind": "function"},
		}},
		{"code chunk without metadata", CodeChunk{ID: "c2", FilePath: "a.go", Content: "x", StartLine: 1, EndLine: 1, Language: "go"}},
		{"embedding", NewEmbedding([]float32{0.5, -1.25, 0}, "static-a")},
		{"search result", SearchResult{
			ID: "c1", FilePath: "src/lib.rs", StartLine: 3, EndLine: 5, Content: "fn alpha() {}",
			Score: 0.75, Language: "rust", Metadata: map[string]any{"semantic_score": 0.5, "lex_score": 1.0, "final": 0.75},
		}},
		{"observation", Observation{
			ID: "o1", ProjectID: "p1", Content: "chose sqlite", ContentHash: "abc", Tags: []string{"db", "decision"},
			Type: ObservationDecision, CreatedAt: created, EmbeddingID: "e1",
			Metadata: ObservationMetadata{SessionID: "s1", RepoID: "r1", FilePath: "main.go", Branch: "main", StartLine: 12},
		}},
		{"file hash entry", FileHashEntry{Collection: "demo", Path: "a.go", Hash: "h1"}},
		{"file hash tombstone", FileHashEntry{Collection: "demo", Path: "b.go", Hash: "h2", Deleted: true}},
		{"indexing operation", IndexingOperation{
			ID: "op1", Collection: ids.CollectionFromName("demo"), CollectionName: "demo", Status: StatusInProgress,
			TotalFiles: 4, ProcessedFiles: 2, CurrentFile: "c.go", StartedAt: created, Errors: []string{"d.go: unreadable"},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := json.Marshal(tt.value)
			require.NoError(t, err)

			decoded := reflect.New(reflect.TypeOf(tt.value))
			require.NoError(t, json.Unmarshal(raw, decoded.Interface()))
			assert.Equal(t, tt.value, decoded.Elem().Interface())
		})
	}
}

func TestSearchResult_AlwaysEncodesMetadataKey(t *testing.T) {
	raw, err := json.Marshal(SearchResult{ID: "x"})
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(raw, &fields))
	assert.Contains(t, fields, "metadata")
	assert.Contains(t, fields, "end_line")
}

func TestEmbedding_Validate(t *testing.T) {
	assert.NoError(t, NewEmbedding([]float32{1, 2}, "m").Validate())
	assert.Error(t, Embedding{Vector: []float32{1}, Dimensions: 2}.Validate())
}

func TestParseObservationType(t *testing.T) {
	for _, typ := range ObservationTypes {
		got, err := ParseObservationType(string(typ))
		require.NoError(t, err)
		assert.Equal(t, typ, got)
	}
	_, err := ParseObservationType("rumor")
	assert.Error(t, err)
}

func TestIndexingOperation_Progress(t *testing.T) {
	assert.Equal(t, 0.0, IndexingOperation{Status: StatusStarting}.Progress())
	assert.Equal(t, 1.0, IndexingOperation{Status: StatusCompleted}.Progress())
	assert.Equal(t, 0.25, IndexingOperation{TotalFiles: 4, ProcessedFiles: 1}.Progress())
}

func TestMetadata_Accessors(t *testing.T) {
	var decoded Metadata
	require.NoError(t, json.Unmarshal([]byte(`{"file_path":"a.go","start_line":7}`), &decoded))

	assert.Equal(t, "a.go", decoded.String("file_path"))
	assert.Equal(t, 7, decoded.Int("start_line"))
	assert.Empty(t, decoded.String("start_line"))
	assert.Zero(t, decoded.Int("missing"))
}
