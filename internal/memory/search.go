package memory

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/Aman-CERP/amanctx/internal/domain"
	amerrors "github.com/Aman-CERP/amanctx/internal/errors"
	"github.com/Aman-CERP/amanctx/internal/lexical"
	"github.com/Aman-CERP/amanctx/internal/ports"
)

// oversample widens both candidate streams before filtering and fusion.
const oversample = 3

// ScoredObservation is a search hit with its fused relevance.
type ScoredObservation struct {
	domain.Observation
	Score float64 `json:"score"`
}

// Preview is the compact form returned by MemorySearch.
type Preview struct {
	ID             string                 `json:"id"`
	Type           domain.ObservationType `json:"type"`
	RelevanceScore float64                `json:"relevance_score"`
	Tags           []string               `json:"tags"`
	ContentPreview string                 `json:"content_preview"`
	SessionID      string                 `json:"session_id,omitempty"`
	RepoID         string                 `json:"repo_id,omitempty"`
	FilePath       string                 `json:"file_path,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
}

// SearchMemories ranks observations by a fusion of semantic similarity and
// full-text relevance, each normalized by its maximum.
func (s *Service) SearchMemories(ctx context.Context, query string, f Filter, limit int) ([]ScoredObservation, error) {
	if strings.TrimSpace(query) == "" {
		return nil, amerrors.InvalidArgument("query is required")
	}
	if limit <= 0 {
		return []ScoredObservation{}, nil
	}

	semantic, err := s.semanticScores(ctx, query, f, limit*oversample)
	if err != nil {
		return nil, err
	}
	text, err := s.fullTextScores(ctx, query, f, limit*oversample)
	if err != nil {
		return nil, err
	}

	normalize(semantic)
	normalize(text)
	fused := make(map[string]float64, len(semantic)+len(text))
	for id, v := range semantic {
		fused[id] += s.alpha * v
	}
	for id, v := range text {
		fused[id] += (1 - s.alpha) * v
	}
	if len(fused) == 0 {
		return []ScoredObservation{}, nil
	}

	candidates := make([]string, 0, len(fused))
	for id := range fused {
		candidates = append(candidates, id)
	}
	rows, err := s.loadByIDs(ctx, candidates, f)
	if err != nil {
		return nil, err
	}
	out := make([]ScoredObservation, 0, len(rows))
	for id, o := range rows {
		out = append(out, ScoredObservation{Observation: o, Score: fused[id]})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MemorySearch is SearchMemories reduced to previews.
func (s *Service) MemorySearch(ctx context.Context, query string, f Filter, limit int) ([]Preview, error) {
	hits, err := s.SearchMemories(ctx, query, f, limit)
	if err != nil {
		return nil, err
	}
	out := make([]Preview, len(hits))
	for i, h := range hits {
		out[i] = Preview{
			ID:             h.ID,
			Type:           h.Type,
			RelevanceScore: h.Score,
			Tags:           h.Tags,
			ContentPreview: truncateRunes(h.Content, s.preview),
			SessionID:      h.Metadata.SessionID,
			RepoID:         h.Metadata.RepoID,
			FilePath:       h.Metadata.FilePath,
			CreatedAt:      h.CreatedAt,
		}
	}
	return out, nil
}

// semanticScores maps observation id to similarity.
func (s *Service) semanticScores(ctx context.Context, query string, f Filter, k int) (map[string]float64, error) {
	out := map[string]float64{}
	ok, err := s.vectors.HasCollection(ctx, s.vecName)
	if err != nil || !ok {
		return out, err
	}
	emb, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	matches, err := s.vectors.Search(ctx, s.vecName, emb.Vector, k, f.vectorFilter())
	if err != nil {
		return nil, err
	}
	for _, m := range matches {
		if id, _ := m.Metadata["observation_id"].(string); id != "" {
			out[id] = m.Score
		}
	}
	return out, nil
}

// fullTextScores maps observation id to a positive BM25 score.
func (s *Service) fullTextScores(ctx context.Context, query string, f Filter, k int) (map[string]float64, error) {
	out := map[string]float64{}
	match := lexical.FTSQuery(query)
	if match == "" {
		return out, nil
	}
	cond, params := f.where()
	rows, err := s.db.QueryAll(ctx, `SELECT o.id AS id, bm25(observations_fts) AS score
		FROM observations_fts
		JOIN observations o ON o.rowid = observations_fts.rowid
		WHERE observations_fts MATCH ?`+cond+`
		ORDER BY score
		LIMIT ?`,
		append(append([]ports.Param{ports.String(match)}, params...), ports.I64(int64(k)))...)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		id, err := row.String("id")
		if err != nil {
			return nil, err
		}
		score, err := row.Float64("score")
		if err != nil {
			return nil, err
		}
		out[id] = -score
	}
	return out, nil
}

// normalize divides every score by the maximum, leaving non-positive
// maxima untouched.
func normalize(scores map[string]float64) {
	var top float64
	for _, v := range scores {
		if v > top {
			top = v
		}
	}
	if top <= 0 {
		return
	}
	for id, v := range scores {
		scores[id] = v / top
	}
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
