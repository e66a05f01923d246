package search

import (
	"strings"

	amerrors "github.com/Aman-CERP/amanctx/internal/errors"
	"github.com/Aman-CERP/amanctx/internal/ports"
)

// FilterFunc checks whether a result matches the filter criteria.
type FilterFunc func(r *Result) bool

// ValidateOptions rejects negative limits and alphas outside [0,1].
func ValidateOptions(opts SearchOptions) error {
	if opts.Limit < 0 {
		return amerrors.InvalidArgument("limit must not be negative, got %d", opts.Limit)
	}
	if opts.Alpha != nil && (*opts.Alpha < 0 || *opts.Alpha > 1) {
		return amerrors.InvalidArgument("alpha must be within [0,1], got %v", *opts.Alpha)
	}
	return nil
}

// vectorFilter pushes the equality filters down to the vector store.
func vectorFilter(opts SearchOptions) ports.VectorFilter {
	f := ports.VectorFilter{}
	if opts.Language != "" {
		f["language"] = opts.Language
	}
	if opts.Kind != "" {
		f["kind"] = opts.Kind
	}
	if len(f) == 0 {
		return nil
	}
	return f
}

// buildFilters returns the filters of opts. Results must match all of them.
func buildFilters(opts SearchOptions) []FilterFunc {
	var filters []FilterFunc
	if opts.Language != "" {
		filters = append(filters, func(r *Result) bool { return r.Language == opts.Language })
	}
	if opts.Kind != "" {
		filters = append(filters, func(r *Result) bool { return r.Metadata["kind"] == opts.Kind })
	}
	if len(opts.Scopes) > 0 {
		filters = append(filters, scopeFilter(opts.Scopes))
	}
	return filters
}

func matchesAll(r *Result, filters []FilterFunc) bool {
	for _, f := range filters {
		if !f(r) {
			return false
		}
	}
	return true
}

// NormalizeScope strips leading and trailing slashes.
func NormalizeScope(scope string) string {
	return strings.Trim(scope, "/")
}

// scopeFilter matches paths under any scope. Scopes end at a directory
// boundary: "services/api" does not match "services/api-v2/x.go".
func scopeFilter(scopes []string) FilterFunc {
	normalized := make([]string, 0, len(scopes))
	for _, s := range scopes {
		if n := NormalizeScope(s); n != "" {
			normalized = append(normalized, n+"/")
		}
	}
	if len(normalized) == 0 {
		return func(*Result) bool { return true }
	}
	return func(r *Result) bool {
		p := NormalizeScope(r.FilePath) + "/"
		for _, scope := range normalized {
			if strings.HasPrefix(p, scope) {
				return true
			}
		}
		return false
	}
}
