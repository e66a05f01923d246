package errors

import (
	"encoding/json"
	"fmt"
	"strings"
)

// FormatForCLI formats an error for terminal output.
func FormatForCLI(err error) string {
	if err == nil {
		return ""
	}
	e, ok := As(err)
	if !ok {
		e = Wrap(ErrCodeInternal, err)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Error: %s\n", e.Message)
	if e.Cause != nil {
		fmt.Fprintf(&sb, "  Cause: %v\n", e.Cause)
	}
	if e.Suggestion != "" {
		fmt.Fprintf(&sb, "  Hint: %s\n", e.Suggestion)
	}
	fmt.Fprintf(&sb, "  Code: %s (%s)\n", e.Code, e.Kind)
	return sb.String()
}

// jsonError is the wire shape {kind, message, source chain}.
type jsonError struct {
	Kind       string            `json:"kind"`
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Details    map[string]string `json:"details,omitempty"`
	Suggestion string            `json:"suggestion,omitempty"`
	Sources    []string          `json:"sources,omitempty"`
	Retryable  bool              `json:"retryable"`
}

// FormatJSON returns the structured representation seen by callers.
func FormatJSON(err error) ([]byte, error) {
	if err == nil {
		return json.Marshal(nil)
	}
	e, ok := As(err)
	if !ok {
		e = Wrap(ErrCodeInternal, err)
	}

	je := jsonError{
		Kind:       string(e.Kind),
		Code:       e.Code,
		Message:    e.Message,
		Details:    e.Details,
		Suggestion: e.Suggestion,
		Retryable:  e.Retryable,
	}
	for cause := e.Cause; cause != nil; {
		je.Sources = append(je.Sources, cause.Error())
		u, ok := cause.(interface{ Unwrap() error })
		if !ok {
			break
		}
		cause = u.Unwrap()
	}
	return json.Marshal(je)
}

// LogAttrs returns key-value pairs suitable for slog.
func LogAttrs(err error) []any {
	if err == nil {
		return nil
	}
	e, ok := As(err)
	if !ok {
		return []any{"error", err.Error()}
	}
	return []any{"error", e.Error(), "error_kind", string(e.Kind), "error_code", e.Code}
}
