package chunk

import (
	"path/filepath"
	"sort"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/rust"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// Symbol kinds attached to chunk metadata.
const (
	KindFunction  = "function"
	KindMethod    = "method"
	KindClass     = "class"
	KindInterface = "interface"
	KindType      = "type"
	KindConstant  = "constant"
	KindVariable  = "variable"
	KindModule    = "module"
	KindImpl      = "impl"
)

// Language describes how one tree-sitter grammar maps onto chunkable symbols.
type Language struct {
	Name       string
	Extensions []string
	// Kinds maps top-level node types to a symbol kind.
	Kinds map[string]string
	// Containers are node types whose members become separate chunks when
	// the container is too large for one.
	Containers map[string]string
	// Wrappers are node types that wrap a declaration (export, decorators).
	Wrappers map[string]bool
	// CommentPrefix marks the file header line.
	CommentPrefix string

	grammar *sitter.Language
}

// Grammar returns the tree-sitter grammar.
func (l *Language) Grammar() *sitter.Language { return l.grammar }

func (l *Language) kindOf(nodeType string) string { return l.Kinds[nodeType] }

// Classify unwraps export and decorator wrappers around n and returns the
// declaration with its symbol kind. kind is "" for non-declarations.
func (l *Language) Classify(n *sitter.Node) (decl *sitter.Node, kind string) {
	decl = unwrap(n, l)
	return decl, l.kindOf(decl.Type())
}

// ContainerBody returns the member block of a container declaration, or nil.
func (l *Language) ContainerBody(decl *sitter.Node) *sitter.Node {
	field, ok := l.Containers[decl.Type()]
	if !ok {
		return nil
	}
	return decl.ChildByFieldName(field)
}

var tsKinds = map[string]string{
	"function_declaration":           KindFunction,
	"generator_function_declaration": KindFunction,
	"class_declaration":              KindClass,
	"abstract_class_declaration":     KindClass,
	"interface_declaration":          KindInterface,
	"type_alias_declaration":         KindType,
	"enum_declaration":               KindType,
	"lexical_declaration":            KindConstant,
	"variable_declaration":           KindVariable,
	"method_definition":              KindMethod,
}

var jsKinds = map[string]string{
	"function_declaration":           KindFunction,
	"generator_function_declaration": KindFunction,
	"class_declaration":              KindClass,
	"lexical_declaration":            KindConstant,
	"variable_declaration":           KindVariable,
	"method_definition":              KindMethod,
}

var languages = []*Language{
	{
		Name:       "go",
		Extensions: []string{".go"},
		Kinds: map[string]string{
			"function_declaration": KindFunction,
			"method_declaration":   KindMethod,
			"type_declaration":     KindType,
			"const_declaration":    KindConstant,
			"var_declaration":      KindVariable,
		},
		CommentPrefix: "//",
		grammar:       golang.GetLanguage(),
	},
	{
		Name:       "rust",
		Extensions: []string{".rs"},
		Kinds: map[string]string{
			"function_item":    KindFunction,
			"struct_item":      KindType,
			"enum_item":        KindType,
			"union_item":       KindType,
			"type_item":        KindType,
			"trait_item":       KindInterface,
			"impl_item":        KindImpl,
			"mod_item":         KindModule,
			"const_item":       KindConstant,
			"static_item":      KindVariable,
			"macro_definition": KindFunction,
		},
		Containers: map[string]string{
			"impl_item":  "body",
			"trait_item": "body",
			"mod_item":   "body",
		},
		CommentPrefix: "//",
		grammar:       rust.GetLanguage(),
	},
	{
		Name:          "python",
		Extensions:    []string{".py"},
		Kinds:         map[string]string{"function_definition": KindFunction, "class_definition": KindClass},
		Containers:    map[string]string{"class_definition": "body"},
		Wrappers:      map[string]bool{"decorated_definition": true},
		CommentPrefix: "#",
		grammar:       python.GetLanguage(),
	},
	{
		Name:          "typescript",
		Extensions:    []string{".ts", ".mts", ".cts"},
		Kinds:         tsKinds,
		Containers:    map[string]string{"class_declaration": "body", "abstract_class_declaration": "body"},
		Wrappers:      map[string]bool{"export_statement": true},
		CommentPrefix: "//",
		grammar:       typescript.GetLanguage(),
	},
	{
		Name:          "tsx",
		Extensions:    []string{".tsx"},
		Kinds:         tsKinds,
		Containers:    map[string]string{"class_declaration": "body", "abstract_class_declaration": "body"},
		Wrappers:      map[string]bool{"export_statement": true},
		CommentPrefix: "//",
		grammar:       tsx.GetLanguage(),
	},
	{
		Name:          "javascript",
		Extensions:    []string{".js", ".mjs", ".cjs", ".jsx"},
		Kinds:         jsKinds,
		Containers:    map[string]string{"class_declaration": "body"},
		Wrappers:      map[string]bool{"export_statement": true},
		CommentPrefix: "//",
		grammar:       javascript.GetLanguage(),
	},
}

var (
	byName = map[string]*Language{}
	byExt  = map[string]*Language{}
)

func init() {
	for _, l := range languages {
		if _, dup := byName[l.Name]; dup {
			panic("chunk: duplicate language " + l.Name)
		}
		byName[l.Name] = l
		for _, ext := range l.Extensions {
			byExt[ext] = l
		}
	}
}

// LookupLanguage returns the grammar-backed language called name.
func LookupLanguage(name string) (*Language, bool) {
	l, ok := byName[strings.ToLower(name)]
	return l, ok
}

// ParsedLanguages lists the names of the grammar-backed languages.
func ParsedLanguages() []string {
	out := make([]string, 0, len(byName))
	for name := range byName {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// plainLanguages names files without a grammar by extension.
var plainLanguages = map[string]string{
	".md":       "markdown",
	".markdown": "markdown",
	".mdx":      "markdown",
	".java":     "java",
	".c":        "c",
	".h":        "c",
	".cpp":      "cpp",
	".cc":       "cpp",
	".hpp":      "cpp",
	".rb":       "ruby",
	".yaml":     "yaml",
	".yml":      "yaml",
	".toml":     "toml",
	".json":     "json",
	".sh":       "shell",
	".bash":     "shell",
	".sql":      "sql",
	".txt":      "text",
}

// DetectLanguage names the language of path from its extension. Unknown
// extensions are "text".
func DetectLanguage(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if l, ok := byExt[ext]; ok {
		return l.Name
	}
	if name, ok := plainLanguages[ext]; ok {
		return name
	}
	return "text"
}
