package ports

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVectorFilter_Matches(t *testing.T) {
	meta := map[string]any{"file_path": "a.rs", "start_line": float64(3), "tags": []string{"x"}}
	tests := []struct {
		name   string
		filter VectorFilter
		want   bool
	}{
		{"nil filter", nil, true},
		{"string equal", VectorFilter{"file_path": "a.rs"}, true},
		{"string differs", VectorFilter{"file_path": "b.rs"}, false},
		{"int matches float", VectorFilter{"start_line": 3}, true},
		{"missing key", VectorFilter{"language": "rust"}, false},
		{"slice equal", VectorFilter{"tags": []string{"x"}}, true},
		{"number vs string", VectorFilter{"start_line": "3"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.Matches(meta))
		})
	}
}
