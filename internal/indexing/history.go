package indexing

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Aman-CERP/amanctx/internal/domain"
	amerrors "github.com/Aman-CERP/amanctx/internal/errors"
	"github.com/Aman-CERP/amanctx/internal/ports"
)

// HistoryEntry is one finished operation as recorded in index_operations.
type HistoryEntry struct {
	ID             string                 `json:"id"`
	CollectionName string                 `json:"collection_name"`
	Status         domain.OperationStatus `json:"status"`
	TotalFiles     int                    `json:"total_files"`
	ProcessedFiles int                    `json:"processed_files"`
	Chunks         int                    `json:"chunks"`
	Errors         []string               `json:"errors,omitempty"`
	StartedAt      time.Time              `json:"started_at"`
	FinishedAt     time.Time              `json:"finished_at"`
}

// History returns the most recent finished operations of a collection,
// newest first. An empty collection lists every collection.
func (e *Engine) History(ctx context.Context, collection string, limit int) ([]HistoryEntry, error) {
	if e.deps.DB == nil {
		return nil, amerrors.Unavailable("operation history is not recorded")
	}
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT id, collection_name, status, total_files, processed_files, chunks, errors, started_at, finished_at
		FROM index_operations`
	params := []ports.Param{}
	if collection != "" {
		query += ` WHERE collection_name = ?`
		params = append(params, ports.String(collection))
	}
	query += ` ORDER BY started_at DESC, id LIMIT ?`
	params = append(params, ports.I64(int64(limit)))

	rows, err := e.deps.DB.QueryAll(ctx, query, params...)
	if err != nil {
		return nil, err
	}
	out := make([]HistoryEntry, 0, len(rows))
	for _, row := range rows {
		entry, err := scanHistory(row)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, nil
}

func scanHistory(row ports.Row) (HistoryEntry, error) {
	var (
		h   HistoryEntry
		err error
		n   int64
		s   string
	)
	if h.ID, err = row.String("id"); err != nil {
		return h, err
	}
	if h.CollectionName, err = row.String("collection_name"); err != nil {
		return h, err
	}
	if s, err = row.String("status"); err != nil {
		return h, err
	}
	h.Status = domain.OperationStatus(s)
	for col, dst := range map[string]*int{
		"total_files":     &h.TotalFiles,
		"processed_files": &h.ProcessedFiles,
		"chunks":          &h.Chunks,
	} {
		if n, err = row.Int64(col); err != nil {
			return h, err
		}
		*dst = int(n)
	}
	if s, err = row.String("errors"); err != nil {
		return h, err
	}
	if err := json.Unmarshal([]byte(s), &h.Errors); err != nil {
		return h, amerrors.Decode("index_operations.errors: %v", err)
	}
	if n, err = row.Int64("started_at"); err != nil {
		return h, err
	}
	h.StartedAt = time.Unix(0, n).UTC()
	if n, err = row.Int64("finished_at"); err != nil {
		return h, err
	}
	h.FinishedAt = time.Unix(0, n).UTC()
	return h, nil
}
