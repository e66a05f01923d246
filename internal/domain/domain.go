// Package domain holds the entities shared by the indexing, search and memory
// services. Types here carry no behavior beyond validation helpers.
package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Aman-CERP/amanctx/internal/ids"
)

// CodeChunk is a contiguous span of a source file.
type CodeChunk struct {
	ID        string         `json:"id"`
	FilePath  string         `json:"file_path"`
	Content   string         `json:"content"`
	StartLine int            `json:"start_line"`
	EndLine   int            `json:"end_line"`
	Language  string         `json:"language"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Embedding is a dense vector produced by a provider.
type Embedding struct {
	Vector     []float32 `json:"vector"`
	Model      string    `json:"model"`
	Dimensions int       `json:"dimensions"`
}

// NewEmbedding builds an Embedding whose Dimensions matches the vector.
func NewEmbedding(vector []float32, model string) Embedding {
	return Embedding{Vector: vector, Model: model, Dimensions: len(vector)}
}

// Validate checks Dimensions == len(Vector).
func (e Embedding) Validate() error {
	if e.Dimensions != len(e.Vector) {
		return fmt.Errorf("embedding declares %d dimensions but has %d", e.Dimensions, len(e.Vector))
	}
	return nil
}

// SearchResult is one ranked hit. Higher Score is more relevant.
type SearchResult struct {
	ID        string         `json:"id"`
	FilePath  string         `json:"file_path"`
	StartLine int            `json:"start_line"`
	EndLine   int            `json:"end_line"`
	Content   string         `json:"content"`
	Score     float64        `json:"score"`
	Language  string         `json:"language"`
	Metadata  map[string]any `json:"metadata"`
}

// ObservationType classifies an observation.
type ObservationType string

const (
	ObservationCode        ObservationType = "code"
	ObservationDecision    ObservationType = "decision"
	ObservationContext     ObservationType = "context"
	ObservationError       ObservationType = "error"
	ObservationSummary     ObservationType = "summary"
	ObservationExecution   ObservationType = "execution"
	ObservationQualityGate ObservationType = "quality_gate"
)

// ObservationTypes lists every valid type in declaration order.
var ObservationTypes = []ObservationType{
	ObservationCode, ObservationDecision, ObservationContext, ObservationError,
	ObservationSummary, ObservationExecution, ObservationQualityGate,
}

// ParseObservationType validates s.
func ParseObservationType(s string) (ObservationType, error) {
	for _, t := range ObservationTypes {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown observation type %q", s)
}

// ObservationMetadata is ambient context attached to an observation.
// All fields are optional.
type ObservationMetadata struct {
	SessionID       string `json:"session_id,omitempty"`
	ParentSessionID string `json:"parent_session_id,omitempty"`
	RepoID          string `json:"repo_id,omitempty"`
	FilePath        string `json:"file_path,omitempty"`
	Branch          string `json:"branch,omitempty"`
	Commit          string `json:"commit,omitempty"`
	Origin          string `json:"origin,omitempty"`
	StartLine       int    `json:"start_line,omitempty"`
}

// Observation is an immutable, content-addressed memory record.
type Observation struct {
	ID          string              `json:"id"`
	ProjectID   string              `json:"project_id"`
	Content     string              `json:"content"`
	ContentHash string              `json:"content_hash"`
	Tags        []string            `json:"tags"`
	Type        ObservationType     `json:"type"`
	Metadata    ObservationMetadata `json:"metadata"`
	CreatedAt   time.Time           `json:"created_at"`
	EmbeddingID string              `json:"embedding_id,omitempty"`
}

// FileHashEntry is one row of per-collection file state.
type FileHashEntry struct {
	Collection string `json:"collection"`
	Path       string `json:"path"`
	Hash       string `json:"hash"`
	Deleted    bool   `json:"deleted,omitempty"`
}

// OperationStatus is the lifecycle state of an indexing operation.
type OperationStatus string

const (
	StatusStarting   OperationStatus = "starting"
	StatusInProgress OperationStatus = "in_progress"
	StatusCompleted  OperationStatus = "completed"
	StatusFailed     OperationStatus = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s OperationStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// IndexingOperation is a snapshot of a background indexing pass.
type IndexingOperation struct {
	ID             string           `json:"id"`
	Collection     ids.CollectionID `json:"collection"`
	CollectionName string           `json:"collection_name"`
	Status         OperationStatus  `json:"status"`
	TotalFiles     int              `json:"total_files"`
	ProcessedFiles int              `json:"processed_files"`
	CurrentFile    string           `json:"current_file,omitempty"`
	StartedAt      time.Time        `json:"started_at"`
	Errors         []string         `json:"errors,omitempty"`
}

// Progress returns processed/total in [0,1].
func (o IndexingOperation) Progress() float64 {
	if o.TotalFiles == 0 {
		if o.Status.Terminal() {
			return 1
		}
		return 0
	}
	return float64(o.ProcessedFiles) / float64(o.TotalFiles)
}

// IndexingStatus is the derived view returned by get_status.
type IndexingStatus struct {
	IsIndexing     bool    `json:"is_indexing"`
	OperationID    string  `json:"operation_id,omitempty"`
	Collection     string  `json:"collection,omitempty"`
	Progress       float64 `json:"progress"`
	CurrentFile    string  `json:"current_file,omitempty"`
	TotalFiles     int     `json:"total_files"`
	ProcessedFiles int     `json:"processed_files"`
	ActiveCount    int     `json:"active_count"`
}

// Metadata is a free-form structured value that round-trips through JSON.
type Metadata map[string]any

// String returns the value at key when it is a string.
func (m Metadata) String(key string) string {
	s, _ := m[key].(string)
	return s
}

// Int returns the value at key as an int. JSON numbers decode as float64 and
// are accepted.
func (m Metadata) Int(key string) int {
	switch v := m[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case json.Number:
		n, _ := v.Int64()
		return int(n)
	default:
		return 0
	}
}
