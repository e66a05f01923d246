// Package chunk splits source files into retrievable chunks: syntax-aware
// for languages with a tree-sitter grammar, heading-aware for markdown, and
// fixed line windows with overlap for everything else.
package chunk

import (
	"context"
	"strconv"
	"strings"

	"github.com/Aman-CERP/amanctx/internal/domain"
	amerrors "github.com/Aman-CERP/amanctx/internal/errors"
	"github.com/Aman-CERP/amanctx/internal/filehash"
	"github.com/Aman-CERP/amanctx/internal/ports"
)

// Window defaults: 128 lines is roughly 512 tokens of typical code.
const (
	DefaultMaxLines = 128
	DefaultOverlap  = 16
)

// Metadata keys set on produced chunks.
const (
	MetaSymbol  = "symbol"
	MetaKind    = "kind"
	MetaContext = "context"
	MetaChunker = "chunker"
)

// Options bounds chunk size.
type Options struct {
	MaxLines int
	Overlap  int
}

func (o Options) withDefaults() (Options, error) {
	if o.MaxLines == 0 {
		o.MaxLines = DefaultMaxLines
	}
	if o.Overlap == 0 {
		o.Overlap = DefaultOverlap
	}
	if o.MaxLines < 1 {
		return o, amerrors.Configuration("chunker max_lines must be positive", nil)
	}
	if o.Overlap < 0 || o.Overlap >= o.MaxLines {
		return o, amerrors.Configuration("chunker overlap must be in [0, max_lines)", nil)
	}
	return o, nil
}

// Lines is the size-based chunker: fixed windows of MaxLines lines, each
// starting Overlap lines before the previous one ended.
type Lines struct {
	opts Options
}

var _ ports.LanguageChunker = (*Lines)(nil)

// NewLines creates a line-window chunker.
func NewLines(opts Options) (*Lines, error) {
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}
	return &Lines{opts: opts}, nil
}

// Supports reports true for every language.
func (l *Lines) Supports(string) bool { return true }

// Chunk splits content into line windows. Blank files produce no chunks.
func (l *Lines) Chunk(ctx context.Context, path string, content []byte, language string) ([]domain.CodeChunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, amerrors.Cancelled("chunking cancelled", err)
	}
	lines := splitLines(string(content))
	if isBlank(lines) {
		return []domain.CodeChunk{}, nil
	}
	return windows(path, language, lines, 1, l.opts, nil), nil
}

// windows cuts lines into overlapping windows. first is the line number of
// lines[0]; base metadata is copied onto every window.
func windows(path, language string, lines []string, first int, opts Options, base map[string]any) []domain.CodeChunk {
	var out []domain.CodeChunk
	step := opts.MaxLines - opts.Overlap
	for i := 0; i < len(lines); i += step {
		end := i + opts.MaxLines
		if end > len(lines) {
			end = len(lines)
		}
		body := strings.Join(lines[i:end], "\n")
		if strings.TrimSpace(body) != "" {
			meta := map[string]any{MetaChunker: "lines"}
			for k, v := range base {
				meta[k] = v
			}
			out = append(out, newChunk(path, language, body, first+i, first+end-1, meta))
		}
		if end == len(lines) {
			break
		}
	}
	return out
}

func newChunk(path, language, content string, start, end int, meta map[string]any) domain.CodeChunk {
	return domain.CodeChunk{
		ID:        ChunkID(path, start, content),
		FilePath:  path,
		Content:   content,
		StartLine: start,
		EndLine:   end,
		Language:  language,
		Metadata:  meta,
	}
}

// ChunkID derives a stable id from the file, the first line and the text.
func ChunkID(path string, startLine int, content string) string {
	return filehash.HashBytes([]byte(path + ":" + strconv.Itoa(startLine) + ":" + content))[:32]
}

// EmbeddingText is the text embedded for a chunk: its file context header
// followed by the chunk body.
func EmbeddingText(c domain.CodeChunk) string {
	if header, ok := c.Metadata[MetaContext].(string); ok && header != "" {
		return header + "\n\n" + c.Content
	}
	return c.Content
}

func splitLines(s string) []string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.TrimSuffix(s, "\n")
	return strings.Split(s, "\n")
}

func isBlank(lines []string) bool {
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			return false
		}
	}
	return true
}
