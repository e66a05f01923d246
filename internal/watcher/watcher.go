// Package watcher turns fsnotify notifications into debounced batches of file
// events. It backs configuration hot reload and the workspace watch mode.
package watcher

import (
	"time"
)

// Operation is a file system operation type.
type Operation int

const (
	OpCreate Operation = iota
	OpModify
	OpDelete
	OpRename
)

// String returns a human-readable representation of the operation.
func (op Operation) String() string {
	switch op {
	case OpCreate:
		return "CREATE"
	case OpModify:
		return "MODIFY"
	case OpDelete:
		return "DELETE"
	case OpRename:
		return "RENAME"
	default:
		return "UNKNOWN"
	}
}

// FileEvent is a single change to a path relative to the watched root.
type FileEvent struct {
	Path      string
	Operation Operation
	IsDir     bool
	Timestamp time.Time
}

// Options configures a Watcher.
type Options struct {
	// Debounce is the coalescing window (default 200ms).
	Debounce time.Duration

	// Ignore reports relative paths that produce no events. Ignored
	// directories are not descended into.
	Ignore func(rel string, isDir bool) bool

	// Recursive watches every directory below the root.
	Recursive bool
}

// DefaultDebounce is the window used when Options.Debounce is zero.
const DefaultDebounce = 200 * time.Millisecond
