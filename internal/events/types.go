// Package events provides the in-process domain event bus.
package events

import (
	"encoding/json"
	"fmt"
	"time"
)

// Type tags a DomainEvent variant on the wire.
type Type string

const (
	TypeIndexingStarted      Type = "indexing_started"
	TypeIndexingProgress     Type = "indexing_progress"
	TypeIndexingCompleted    Type = "indexing_completed"
	TypeCacheInvalidate      Type = "cache_invalidate"
	TypeSnapshotCreated      Type = "snapshot_created"
	TypeFileChangesDetected  Type = "file_changes_detected"
	TypeServiceStateChanged  Type = "service_state_changed"
	TypeConfigReloaded       Type = "config_reloaded"
	TypeHealthCheckCompleted Type = "health_check_completed"
	TypeMetricsSnapshot      Type = "metrics_snapshot"
	TypeSearchExecuted       Type = "search_executed"
	TypeIndexRebuild         Type = "index_rebuild"
	TypeSyncCompleted        Type = "sync_completed"
)

// Event is one variant of the DomainEvent union.
type Event interface {
	EventType() Type
}

// IndexingStarted is published once when an indexing pass begins.
type IndexingStarted struct {
	OperationID string `json:"operation_id"`
	Collection  string `json:"collection"`
	TotalFiles  int    `json:"total_files"`
}

// IndexingProgress is published periodically while files are processed.
type IndexingProgress struct {
	OperationID string `json:"operation_id"`
	Collection  string `json:"collection"`
	Processed   int    `json:"processed"`
	Total       int    `json:"total"`
	CurrentFile string `json:"current_file,omitempty"`
}

// IndexingCompleted is the terminal event of a pass. Status is "completed"
// or "failed"; cancelled passes report "failed" with Error set.
type IndexingCompleted struct {
	OperationID string `json:"operation_id"`
	Collection  string `json:"collection"`
	Status      string `json:"status"`
	Files       int    `json:"files"`
	Chunks      int    `json:"chunks"`
	DurationMs  int64  `json:"duration_ms"`
	FileErrors  int    `json:"file_errors,omitempty"`
	Error       string `json:"error,omitempty"`
}

// CacheInvalidate asks cache holders to drop a key or a whole namespace.
type CacheInvalidate struct {
	Namespace string `json:"namespace"`
	Key       string `json:"key,omitempty"`
}

// SnapshotCreated reports a persisted vector collection snapshot.
type SnapshotCreated struct {
	Collection string `json:"collection"`
	Path       string `json:"path"`
}

// FileChangesDetected is emitted by the workspace watcher.
type FileChangesDetected struct {
	Collection string   `json:"collection"`
	Root       string   `json:"root"`
	Paths      []string `json:"paths"`
}

// ServiceStateChanged reports lifecycle transitions of a service.
type ServiceStateChanged struct {
	Service string `json:"service"`
	State   string `json:"state"`
}

// ConfigReloaded is published per top-level section changed by a reload.
type ConfigReloaded struct {
	Section string `json:"section"`
}

// HealthCheckCompleted carries the result of a health probe.
type HealthCheckCompleted struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// MetricsSnapshot is a periodic dump of counters.
type MetricsSnapshot struct {
	Values    map[string]float64 `json:"values"`
	Timestamp time.Time          `json:"timestamp"`
}

// SearchExecuted is published after each hybrid search.
type SearchExecuted struct {
	Collection string `json:"collection"`
	Query      string `json:"query"`
	Mode       string `json:"mode,omitempty"`
	Results    int    `json:"results"`
	DurationMs int64  `json:"duration_ms"`
}

// IndexRebuild requests a full re-index of a collection.
type IndexRebuild struct {
	Collection string `json:"collection"`
	Reason     string `json:"reason,omitempty"`
}

// SyncCompleted reports an incremental sync triggered by file changes.
type SyncCompleted struct {
	Collection string `json:"collection"`
	Updated    int    `json:"updated"`
	Removed    int    `json:"removed"`
}

func (IndexingStarted) EventType() Type { return TypeIndexingStarted }
func (IndexingProgress) EventType() Type { return TypeIndexingProgress }
func (IndexingCompleted) EventType() Type { return TypeIndexingCompleted }
func (CacheInvalidate) EventType() Type { return TypeCacheInvalidate }
func (SnapshotCreated) EventType() Type { return TypeSnapshotCreated }
func (FileChangesDetected) EventType() Type { return TypeFileChangesDetected }
func (ServiceStateChanged) EventType() Type { return TypeServiceStateChanged }
func (ConfigReloaded) EventType() Type { return TypeConfigReloaded }
func (HealthCheckCompleted) EventType() Type { return TypeHealthCheckCompleted }
func (MetricsSnapshot) EventType() Type { return TypeMetricsSnapshot }
func (SearchExecuted) EventType() Type { return TypeSearchExecuted }
func (IndexRebuild) EventType() Type { return TypeIndexRebuild }
func (SyncCompleted) EventType() Type { return TypeSyncCompleted }

var decoders = map[Type]func(json.RawMessage) (Event, error){
	TypeIndexingStarted:      decodeAs[IndexingStarted],
	TypeIndexingProgress:     decodeAs[IndexingProgress],
	TypeIndexingCompleted:    decodeAs[IndexingCompleted],
	TypeCacheInvalidate:      decodeAs[CacheInvalidate],
	TypeSnapshotCreated:      decodeAs[SnapshotCreated],
	TypeFileChangesDetected:  decodeAs[FileChangesDetected],
	TypeServiceStateChanged:  decodeAs[ServiceStateChanged],
	TypeConfigReloaded:       decodeAs[ConfigReloaded],
	TypeHealthCheckCompleted: decodeAs[HealthCheckCompleted],
	TypeMetricsSnapshot:      decodeAs[MetricsSnapshot],
	TypeSearchExecuted:       decodeAs[SearchExecuted],
	TypeIndexRebuild:         decodeAs[IndexRebuild],
	TypeSyncCompleted:        decodeAs[SyncCompleted],
}

func decodeAs[T Event](data json.RawMessage) (Event, error) {
	var v T
	if len(data) > 0 {
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
	}
	return v, nil
}

// envelope is the wire form {"type": ..., "data": {...}}.
type envelope struct {
	Type Type            `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Encode serializes e into its tagged envelope.
func Encode(e Event) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Type: e.EventType(), Data: data})
}

// Decode parses a tagged envelope. When the envelope has no type, fallback is
// used instead.
func Decode(payload []byte, fallback Type) (Event, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("decode event envelope: %w", err)
	}
	if env.Type == "" {
		env.Type = fallback
	}
	dec, ok := decoders[env.Type]
	if !ok {
		return nil, fmt.Errorf("unknown event type %q", env.Type)
	}
	e, err := dec(env.Data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", env.Type, err)
	}
	return e, nil
}
