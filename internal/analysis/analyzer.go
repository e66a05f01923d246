// Package analysis provides the code analyzer and project detector
// providers.
package analysis

import (
	"context"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/Aman-CERP/amanctx/internal/chunk"
	amerrors "github.com/Aman-CERP/amanctx/internal/errors"
	"github.com/Aman-CERP/amanctx/internal/ports"
)

// plainCommentPrefixes covers languages without a grammar.
var plainCommentPrefixes = map[string]string{
	"java":  "//",
	"c":     "//",
	"cpp":   "//",
	"ruby":  "#",
	"yaml":  "#",
	"toml":  "#",
	"shell": "#",
	"sql":   "--",
}

// TreeSitter counts lines and declared symbols. Languages without a grammar
// get line counts only.
type TreeSitter struct{}

var _ ports.CodeAnalyzer = TreeSitter{}

// NewTreeSitter returns the analyzer.
func NewTreeSitter() TreeSitter { return TreeSitter{} }

// Analyze computes statistics for one file. language "" is detected from
// path.
func (TreeSitter) Analyze(ctx context.Context, path string, content []byte, language string) (ports.CodeStats, error) {
	if err := ctx.Err(); err != nil {
		return ports.CodeStats{}, amerrors.Cancelled("analysis cancelled", err)
	}
	if language == "" {
		language = chunk.DetectLanguage(path)
	}
	stats := ports.CodeStats{Language: language}

	prefix := plainCommentPrefixes[language]
	lang, parsed := chunk.LookupLanguage(language)
	if parsed {
		prefix = lang.CommentPrefix
	}
	stats.Lines, stats.CodeLines = countLines(string(content), prefix)
	if !parsed || len(content) == 0 {
		return stats, nil
	}

	tree, lang, err := chunk.Parse(ctx, content, language)
	if err != nil {
		return ports.CodeStats{}, err
	}
	defer tree.Close()

	stats.Symbols = map[string]int{}
	countSymbols(tree.RootNode(), lang, false, stats.Symbols)
	if len(stats.Symbols) == 0 {
		stats.Symbols = nil
	}
	return stats, nil
}

// countSymbols tallies declarations among the named children of n and
// recurses into container bodies. Functions inside a container count as
// methods.
func countSymbols(n *sitter.Node, lang *chunk.Language, inContainer bool, out map[string]int) {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		decl, kind := lang.Classify(n.NamedChild(i))
		if kind == "" {
			continue
		}
		if inContainer && kind == chunk.KindFunction {
			kind = chunk.KindMethod
		}
		out[kind]++
		if body := lang.ContainerBody(decl); body != nil {
			countSymbols(body, lang, true, out)
		}
	}
}

// countLines returns total lines and lines that are neither blank nor a
// line comment.
func countLines(s, commentPrefix string) (total, code int) {
	if s == "" {
		return 0, 0
	}
	lines := strings.Split(strings.TrimSuffix(s, "\n"), "\n")
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if commentPrefix != "" && strings.HasPrefix(trimmed, commentPrefix) {
			continue
		}
		code++
	}
	return len(lines), code
}
