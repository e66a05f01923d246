// Package lexical provides BM25 term indexes partitioned by collection:
// SQLite FTS5 over the shared database, Bleve, and a disabled variant.
package lexical

import (
	"regexp"
	"strings"
	"unicode"
)

var wordRegex = regexp.MustCompile(`[a-zA-Z0-9_]+`)

// StopWords are code keywords and filler names dropped before indexing.
var StopWords = []string{
	"var", "let", "const", "func", "function", "def", "class",
	"return", "if", "else", "for", "while",
	"data", "result", "value", "item", "key", "err", "ctx", "tmp",
}

var stopWordSet = func() map[string]struct{} {
	m := make(map[string]struct{}, len(StopWords))
	for _, w := range StopWords {
		m[w] = struct{}{}
	}
	return m
}()

// Tokenize lowercases text split on camelCase, PascalCase and snake_case
// boundaries, dropping single characters and stop words.
func Tokenize(text string) []string {
	var tokens []string
	for _, word := range wordRegex.FindAllString(text, -1) {
		for _, part := range splitIdentifier(word) {
			lower := strings.ToLower(part)
			if len(lower) < 2 {
				continue
			}
			if _, stop := stopWordSet[lower]; stop {
				continue
			}
			tokens = append(tokens, lower)
		}
	}
	return tokens
}

func splitIdentifier(word string) []string {
	if !strings.Contains(word, "_") {
		return splitCamel(word)
	}
	var out []string
	for _, part := range strings.Split(word, "_") {
		if part != "" {
			out = append(out, splitCamel(part)...)
		}
	}
	return out
}

// splitCamel splits "parseHTTPRequest" into "parse", "HTTP", "Request".
func splitCamel(s string) []string {
	if s == "" {
		return []string{}
	}
	var (
		out     []string
		current strings.Builder
	)
	runes := []rune(s)
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			prevLower := unicode.IsLower(runes[i-1])
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if (prevLower || nextLower) && current.Len() > 0 {
				out = append(out, current.String())
				current.Reset()
			}
		}
		current.WriteRune(r)
	}
	if current.Len() > 0 {
		out = append(out, current.String())
	}
	return out
}
