// Package registry holds named provider factories, one immutable table per
// provider kind. Tables are assembled once at process start; there is no
// dynamic registration.
package registry

import (
	"fmt"
	"sort"
	"strings"

	amerrors "github.com/Aman-CERP/amanctx/internal/errors"
)

// Factory builds a provider handle of type H from kind-specific config C.
type Factory[C, H any] func(cfg C) (H, error)

// Entry is one named provider.
type Entry[C, H any] struct {
	Name        string
	Description string
	Factory     Factory[C, H]
}

// Table is the ordered, read-only set of entries for one kind.
type Table[C, H any] struct {
	kind    string
	entries []Entry[C, H]
}

// NewTable builds a table. It panics on an empty or duplicate name since that
// is a wiring bug, not a runtime condition.
func NewTable[C, H any](kind string, entries ...Entry[C, H]) *Table[C, H] {
	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		if e.Name == "" {
			panic(fmt.Sprintf("registry %s: entry with empty name", kind))
		}
		if e.Factory == nil {
			panic(fmt.Sprintf("registry %s: entry %q has no factory", kind, e.Name))
		}
		if seen[e.Name] {
			panic(fmt.Sprintf("registry %s: duplicate provider %q", kind, e.Name))
		}
		seen[e.Name] = true
	}
	return &Table[C, H]{kind: kind, entries: append([]Entry[C, H](nil), entries...)}
}

// Kind returns the provider kind served by the table.
func (t *Table[C, H]) Kind() string {
	return t.kind
}

// Names returns entry names in registration order.
func (t *Table[C, H]) Names() []string {
	names := make([]string, len(t.entries))
	for i, e := range t.entries {
		names[i] = e.Name
	}
	return names
}

// Entries returns a copy of the entries in registration order.
func (t *Table[C, H]) Entries() []Entry[C, H] {
	return append([]Entry[C, H](nil), t.entries...)
}

// Lookup finds an entry by name.
func (t *Table[C, H]) Lookup(name string) (Entry[C, H], bool) {
	for _, e := range t.entries {
		if e.Name == name {
			return e, true
		}
	}
	return Entry[C, H]{}, false
}

// Resolve invokes the factory registered under name. It fails with a
// NotFound error for unknown names and a Configuration error when the
// factory rejects cfg.
func (t *Table[C, H]) Resolve(name string, cfg C) (H, error) {
	var zero H
	e, ok := t.Lookup(name)
	if !ok {
		return zero, amerrors.New(amerrors.ErrCodeProviderNotFound,
			fmt.Sprintf("no %s provider named %q", t.kind, name), nil).
			WithDetail("kind", t.kind).
			WithSuggestion("available: " + strings.Join(t.Names(), ", "))
	}
	h, err := e.Factory(cfg)
	if err != nil {
		return zero, amerrors.New(amerrors.ErrCodeProviderRejected,
			fmt.Sprintf("%s provider %q rejected its configuration", t.kind, name), err).
			WithDetail("kind", t.kind)
	}
	return h, nil
}

// Describer lets heterogeneous tables be listed together.
type Describer interface {
	Kind() string
	Names() []string
}

// Catalog returns kind -> provider names for every table, with kinds sorted.
func Catalog(tables ...Describer) map[string][]string {
	out := make(map[string][]string, len(tables))
	for _, t := range tables {
		out[t.Kind()] = t.Names()
	}
	return out
}

// Kinds returns the sorted kinds of tables.
func Kinds(tables ...Describer) []string {
	kinds := make([]string, 0, len(tables))
	for _, t := range tables {
		kinds = append(kinds, t.Kind())
	}
	sort.Strings(kinds)
	return kinds
}
