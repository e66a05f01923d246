package memory

import (
	"strings"
	"time"

	"github.com/Aman-CERP/amanctx/internal/domain"
	"github.com/Aman-CERP/amanctx/internal/ports"
)

// Filter scopes reads. Zero fields match everything; Tags must all be
// present on an observation.
type Filter struct {
	ProjectID string                 `json:"project_id,omitempty"`
	SessionID string                 `json:"session_id,omitempty"`
	Type      domain.ObservationType `json:"type,omitempty"`
	Tags      []string               `json:"tags,omitempty"`
	RepoID    string                 `json:"repo_id,omitempty"`
	FilePath  string                 `json:"file_path,omitempty"`
	Since     time.Time              `json:"since,omitempty"`
	Until     time.Time              `json:"until,omitempty"`
}

// where renders the filter as SQL conditions over the observations table
// aliased as o. The result is empty or starts with " AND ".
func (f Filter) where() (string, []ports.Param) {
	var (
		b      strings.Builder
		params []ports.Param
	)
	eq := func(col, v string) {
		if v != "" {
			b.WriteString(" AND o." + col + " = ?")
			params = append(params, ports.String(v))
		}
	}
	eq("project_id", f.ProjectID)
	eq("session_id", f.SessionID)
	eq("type", string(f.Type))
	eq("repo_id", f.RepoID)
	eq("file_path", f.FilePath)
	for _, tag := range f.Tags {
		b.WriteString(" AND EXISTS (SELECT 1 FROM json_each(o.tags) WHERE json_each.value = ?)")
		params = append(params, ports.String(tag))
	}
	if !f.Since.IsZero() {
		b.WriteString(" AND o.created_at >= ?")
		params = append(params, ports.I64(f.Since.UnixNano()))
	}
	if !f.Until.IsZero() {
		b.WriteString(" AND o.created_at <= ?")
		params = append(params, ports.I64(f.Until.UnixNano()))
	}
	return b.String(), params
}

// vectorFilter is the subset of the filter the vector store can apply.
func (f Filter) vectorFilter() ports.VectorFilter {
	vf := ports.VectorFilter{}
	if f.ProjectID != "" {
		vf["project_id"] = f.ProjectID
	}
	if f.SessionID != "" {
		vf["session_id"] = f.SessionID
	}
	if f.Type != "" {
		vf["type"] = string(f.Type)
	}
	if f.RepoID != "" {
		vf["repo_id"] = f.RepoID
	}
	if f.FilePath != "" {
		vf["file_path"] = f.FilePath
	}
	return vf
}
