package search

import (
	"sort"

	"github.com/Aman-CERP/amanctx/internal/ports"
)

// FusedResult is one id after fusion. SemanticScore and LexScore are the
// normalized stream scores; missing from a stream counts as zero.
type FusedResult struct {
	ID            string
	SemanticScore float64
	LexScore      float64
	Final         float64
	SemanticRank  int // 1-indexed, 0 if absent
	LexRank       int // 1-indexed, 0 if absent
}

// InBothLists reports whether both streams returned the id.
func (r *FusedResult) InBothLists() bool {
	return r.SemanticRank > 0 && r.LexRank > 0
}

// LinearFusion combines the two streams as
//
//	final = alpha*semantic/max(semantic) + (1-alpha)*lex/max(lex)
//
// Each stream is normalized by its own maximum before weighting.
type LinearFusion struct {
	Alpha float64
}

// NewLinearFusion clamps alpha into [0,1].
func NewLinearFusion(alpha float64) *LinearFusion {
	return &LinearFusion{Alpha: min(max(alpha, 0), 1)}
}

// Fuse returns every id of either stream sorted by final score descending,
// then id ascending.
func (f *LinearFusion) Fuse(semantic []ports.VectorMatch, lexical []ports.LexicalHit) []*FusedResult {
	if len(semantic) == 0 && len(lexical) == 0 {
		return []*FusedResult{}
	}
	scores := make(map[string]*FusedResult, len(semantic)+len(lexical))

	semMax := 0.0
	for _, m := range semantic {
		semMax = max(semMax, m.Score)
	}
	for rank, m := range semantic {
		r := getOrCreate(scores, m.ID)
		if r.SemanticRank == 0 {
			r.SemanticRank = rank + 1
		}
		r.SemanticScore = max(r.SemanticScore, normalize(m.Score, semMax))
	}

	lexMax := 0.0
	for _, h := range lexical {
		lexMax = max(lexMax, h.Score)
	}
	for rank, h := range lexical {
		r := getOrCreate(scores, h.ID)
		if r.LexRank == 0 {
			r.LexRank = rank + 1
		}
		r.LexScore = max(r.LexScore, normalize(h.Score, lexMax))
	}

	results := make([]*FusedResult, 0, len(scores))
	for _, r := range scores {
		r.Final = f.Alpha*r.SemanticScore + (1-f.Alpha)*r.LexScore
		results = append(results, r)
	}
	sort.Slice(results, func(i, j int) bool {
		return compare(results[i], results[j])
	})
	return results
}

func getOrCreate(m map[string]*FusedResult, id string) *FusedResult {
	if r, ok := m[id]; ok {
		return r
	}
	r := &FusedResult{ID: id}
	m[id] = r
	return r
}

func normalize(score, top float64) float64 {
	if top <= 0 || score <= 0 {
		return 0
	}
	return score / top
}

// compare orders by final score, then id, so equal inputs always rank the
// same way.
func compare(a, b *FusedResult) bool {
	if a.Final != b.Final {
		return a.Final > b.Final
	}
	return a.ID < b.ID
}
