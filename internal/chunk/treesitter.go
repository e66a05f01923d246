package chunk

import (
	"context"
	"log/slog"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/Aman-CERP/amanctx/internal/domain"
	amerrors "github.com/Aman-CERP/amanctx/internal/errors"
	"github.com/Aman-CERP/amanctx/internal/ports"
)

// maxHeaderLines caps the file context prepended to embedded chunk text.
const maxHeaderLines = 24

// TreeSitter chunks by top-level declarations. Declarations longer than
// MaxLines are split into their members when they are containers (impl
// blocks, classes) and into line windows otherwise. Files it cannot parse,
// or that declare nothing, fall back to line windows.
type TreeSitter struct {
	opts     Options
	lines    *Lines
	markdown *Markdown
	logger   *slog.Logger
}

var _ ports.LanguageChunker = (*TreeSitter)(nil)

// NewTreeSitter creates the syntax-aware chunker.
func NewTreeSitter(opts Options, logger *slog.Logger) (*TreeSitter, error) {
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TreeSitter{
		opts:     opts,
		lines:    &Lines{opts: opts},
		markdown: &Markdown{opts: opts},
		logger:   logger,
	}, nil
}

// Supports reports whether language gets syntax-aware chunks.
func (t *TreeSitter) Supports(language string) bool {
	if language == "markdown" {
		return true
	}
	_, ok := LookupLanguage(language)
	return ok
}

// Chunk splits content. Blank files produce no chunks.
func (t *TreeSitter) Chunk(ctx context.Context, path string, content []byte, language string) ([]domain.CodeChunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, amerrors.Cancelled("chunking cancelled", err)
	}
	lines := splitLines(string(content))
	if isBlank(lines) {
		return []domain.CodeChunk{}, nil
	}
	if language == "markdown" {
		return t.markdown.Chunk(ctx, path, content, language)
	}
	if _, ok := LookupLanguage(language); !ok {
		return t.lines.Chunk(ctx, path, content, language)
	}

	tree, lang, err := Parse(ctx, content, language)
	if err != nil {
		if amerrors.IsKind(err, amerrors.KindCancelled) {
			return nil, err
		}
		t.logger.Debug("parse failed, using line windows",
			slog.String("path", path),
			slog.String("error", err.Error()))
		return t.lines.Chunk(ctx, path, content, language)
	}
	defer tree.Close()

	root := tree.RootNode()
	w := &walker{
		path:   path,
		lang:   lang,
		source: content,
		lines:  lines,
		opts:   t.opts,
		header: fileHeader(path, lang, root, content),
	}
	for i := 0; i < int(root.NamedChildCount()); i++ {
		w.declaration(root.NamedChild(i), "")
	}
	if len(w.out) == 0 {
		return windows(path, language, lines, 1, t.opts, w.baseMeta()), nil
	}
	return w.out, nil
}

type walker struct {
	path   string
	lang   *Language
	source []byte
	lines  []string
	opts   Options
	header string
	out    []domain.CodeChunk
}

func (w *walker) baseMeta() map[string]any {
	if w.header == "" {
		return nil
	}
	return map[string]any{MetaContext: w.header}
}

// declaration emits chunks for n when it declares a symbol. parent is the
// qualified name of the enclosing container, empty at top level.
func (w *walker) declaration(n *sitter.Node, parent string) bool {
	decl := unwrap(n, w.lang)
	kind := w.lang.kindOf(decl.Type())
	if kind == "" {
		return false
	}
	name := symbolName(decl, w.source)
	if isFunctionBinding(decl) {
		kind = KindFunction
	}
	if parent != "" {
		if kind == KindFunction {
			kind = KindMethod
		}
		if name != "" {
			name = parent + "." + name
		}
	}

	start, end := leadingComments(n), endRow(n)
	if end > len(w.lines) {
		end = len(w.lines)
	}
	meta := w.meta(name, kind)
	if end-start+1 <= w.opts.MaxLines {
		w.emit(start, end, meta)
		return true
	}
	if field, ok := w.lang.Containers[decl.Type()]; ok && name != "" {
		if body := decl.ChildByFieldName(field); body != nil && w.members(body, name, start, end, meta) {
			return true
		}
	}
	w.out = append(w.out, windows(w.path, w.lang.Name, w.lines[start-1:end], start, w.opts, meta)...)
	return true
}

// members chunks each member declaration of a container body separately and
// covers the remaining container lines (signature, fields) with windows. It
// reports false when the body declares nothing.
func (w *walker) members(body *sitter.Node, name string, start, end int, meta map[string]any) bool {
	before := len(w.out)
	var covered [][2]int
	for i := 0; i < int(body.NamedChildCount()); i++ {
		m := body.NamedChild(i)
		n := len(w.out)
		if w.declaration(m, name) && len(w.out) > n {
			covered = append(covered, [2]int{leadingComments(m), endRow(m)})
		}
	}
	if len(w.out) == before {
		return false
	}
	members := append([]domain.CodeChunk(nil), w.out[before:]...)
	w.out = w.out[:before]

	next := start
	for _, span := range append(covered, [2]int{end + 1, end + 1}) {
		if span[0] > next {
			w.gap(next, span[0]-1, meta)
		}
		if span[1]+1 > next {
			next = span[1] + 1
		}
	}
	w.out = append(w.out, members...)
	return true
}

// gap emits container lines outside any member unless they hold only
// punctuation such as a closing brace.
func (w *walker) gap(start, end int, meta map[string]any) {
	if end > len(w.lines) {
		end = len(w.lines)
	}
	if start > end {
		return
	}
	text := strings.Join(w.lines[start-1:end], "\n")
	if strings.Trim(text, "{}()[];, \t\n") == "" {
		return
	}
	w.out = append(w.out, windows(w.path, w.lang.Name, w.lines[start-1:end], start, w.opts, meta)...)
}

func (w *walker) emit(start, end int, meta map[string]any) {
	meta[MetaChunker] = "treesitter"
	body := strings.Join(w.lines[start-1:end], "\n")
	w.out = append(w.out, newChunk(w.path, w.lang.Name, body, start, end, meta))
}

func (w *walker) meta(name, kind string) map[string]any {
	meta := map[string]any{MetaKind: kind}
	if name != "" {
		meta[MetaSymbol] = name
	}
	if w.header != "" {
		meta[MetaContext] = w.header
	}
	return meta
}

// unwrap returns the declaration inside export and decorator wrappers.
func unwrap(n *sitter.Node, lang *Language) *sitter.Node {
	if !lang.Wrappers[n.Type()] {
		return n
	}
	for _, field := range []string{"declaration", "definition"} {
		if d := n.ChildByFieldName(field); d != nil {
			return d
		}
	}
	return n
}

// isFunctionBinding reports a JS/TS const or var bound to a function value.
func isFunctionBinding(n *sitter.Node) bool {
	if n.Type() != "lexical_declaration" && n.Type() != "variable_declaration" {
		return false
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		d := n.NamedChild(i)
		if d.Type() != "variable_declarator" {
			continue
		}
		if v := d.ChildByFieldName("value"); v != nil {
			switch v.Type() {
			case "arrow_function", "function", "function_expression", "generator_function":
				return true
			}
		}
	}
	return false
}

var headerNodes = map[string]bool{
	"package_clause":        true,
	"import_declaration":    true,
	"use_declaration":       true,
	"import_statement":      true,
	"import_from_statement": true,
}

// fileHeader is a path marker followed by the package and import lines of
// the file.
func fileHeader(path string, lang *Language, root *sitter.Node, source []byte) string {
	parts := []string{lang.CommentPrefix + " File: " + path}
	lines := 1
	for i := 0; i < int(root.NamedChildCount()) && lines < maxHeaderLines; i++ {
		n := root.NamedChild(i)
		if !headerNodes[n.Type()] {
			continue
		}
		text := n.Content(source)
		parts = append(parts, text)
		lines += strings.Count(text, "\n") + 1
	}
	return strings.Join(parts, "\n")
}
