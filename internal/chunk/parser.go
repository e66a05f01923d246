package chunk

import (
	"context"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"

	amerrors "github.com/Aman-CERP/amanctx/internal/errors"
)

// parsers pools tree-sitter parsers; a parser is not safe for concurrent use.
var parsers = sync.Pool{New: func() any { return sitter.NewParser() }}

// Parse parses source with the grammar of language. The caller closes the
// returned tree.
func Parse(ctx context.Context, source []byte, language string) (*sitter.Tree, *Language, error) {
	lang, ok := LookupLanguage(language)
	if !ok {
		return nil, nil, amerrors.InvalidArgument("no grammar for language %q", language)
	}
	p := parsers.Get().(*sitter.Parser)
	defer parsers.Put(p)

	p.SetLanguage(lang.grammar)
	tree, err := p.ParseCtx(ctx, nil, source)
	if err != nil {
		p.Reset()
		if ctx.Err() != nil {
			return nil, nil, amerrors.Cancelled("parse cancelled", ctx.Err())
		}
		return nil, nil, amerrors.Newf(amerrors.ErrCodeInternal, "parse %s source: %v", language, err)
	}
	if tree == nil {
		return nil, nil, amerrors.Newf(amerrors.ErrCodeInternal, "parse %s source: no tree", language)
	}
	return tree, lang, nil
}

// startRow and endRow are 1-indexed inclusive line numbers of n.
func startRow(n *sitter.Node) int { return int(n.StartPoint().Row) + 1 }

func endRow(n *sitter.Node) int {
	end := n.EndPoint()
	// A node ending at column 0 stops before that line.
	if end.Column == 0 && end.Row > n.StartPoint().Row {
		return int(end.Row)
	}
	return int(end.Row) + 1
}

// symbolName finds the declared name of a symbol node.
func symbolName(n *sitter.Node, source []byte) string {
	for _, field := range []string{"name", "type"} {
		if c := n.ChildByFieldName(field); c != nil {
			return c.Content(source)
		}
	}
	// Go type/const/var and JS lexical declarations hold the name in a spec.
	for i := 0; i < int(n.NamedChildCount()); i++ {
		c := n.NamedChild(i)
		switch c.Type() {
		case "type_spec", "const_spec", "var_spec", "variable_declarator":
			if name := c.ChildByFieldName("name"); name != nil {
				return name.Content(source)
			}
		}
	}
	return ""
}

// leadingComments returns the first line of the comment block directly
// above n, or startRow(n) when there is none.
func leadingComments(n *sitter.Node) int {
	first := startRow(n)
	for prev := n.PrevNamedSibling(); prev != nil; prev = prev.PrevNamedSibling() {
		if prev.Type() != "comment" && prev.Type() != "line_comment" && prev.Type() != "block_comment" {
			break
		}
		if endRow(prev) < first-1 {
			break
		}
		first = startRow(prev)
	}
	return first
}
