package telemetry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Aman-CERP/amanctx/internal/events"
	"github.com/Aman-CERP/amanctx/internal/ports"
)

// LatencyBucket is a coarse search latency class.
type LatencyBucket string

const (
	BucketP10   LatencyBucket = "p10"   // <10ms
	BucketP50   LatencyBucket = "p50"   // 10-50ms
	BucketP100  LatencyBucket = "p100"  // 50-100ms
	BucketP500  LatencyBucket = "p500"  // 100-500ms
	BucketP1000 LatencyBucket = "p1000" // >=500ms
)

// LatencyToBucket maps a duration onto its bucket.
func LatencyToBucket(d time.Duration) LatencyBucket {
	ms := d.Milliseconds()
	switch {
	case ms < 10:
		return BucketP10
	case ms < 50:
		return BucketP50
	case ms < 100:
		return BucketP100
	case ms < 500:
		return BucketP500
	default:
		return BucketP1000
	}
}

const (
	defaultTermCapacity   = 100
	defaultZeroCapacity   = 100
	defaultRecentCapacity = 500
	minTermLength         = 3
)

// Ring is a fixed-capacity FIFO that overwrites its oldest item.
type Ring[T any] struct {
	mu    sync.Mutex
	items []T
	head  int
	size  int
}

// NewRing creates a ring; capacity <= 0 uses 100.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		capacity = defaultZeroCapacity
	}
	return &Ring[T]{items: make([]T, capacity)}
}

// Add appends item, evicting the oldest when full.
func (r *Ring[T]) Add(item T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[r.head] = item
	r.head = (r.head + 1) % len(r.items)
	if r.size < len(r.items) {
		r.size++
	}
}

// Items returns the contents oldest first.
func (r *Ring[T]) Items() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]T, 0, r.size)
	start := (r.head - r.size + len(r.items)) % len(r.items)
	for i := 0; i < r.size; i++ {
		out = append(out, r.items[(start+i)%len(r.items)])
	}
	return out
}

// Len returns the number of stored items.
func (r *Ring[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// ExtractTerms lowercases query and keeps words of at least three bytes.
func ExtractTerms(query string) []string {
	var terms []string
	for _, w := range strings.Fields(strings.ToLower(query)) {
		if len(w) >= minTermLength {
			terms = append(terms, w)
		}
	}
	return terms
}

// TermCount is one tracked query term.
type TermCount struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

// QuerySnapshot is a point-in-time copy of the query aggregates.
type QuerySnapshot struct {
	TotalQueries      int64                   `json:"total_queries"`
	ZeroResultCount   int64                   `json:"zero_result_count"`
	RepeatCount       int64                   `json:"repeat_count"`
	Modes             map[string]int64        `json:"modes"`
	Latency           map[LatencyBucket]int64 `json:"latency"`
	TopTerms          []TermCount             `json:"top_terms"`
	ZeroResultQueries []string                `json:"zero_result_queries"`
	Since             time.Time               `json:"since"`
}

// ZeroResultRate returns the share of queries that found nothing.
func (s QuerySnapshot) ZeroResultRate() float64 {
	if s.TotalQueries == 0 {
		return 0
	}
	return float64(s.ZeroResultCount) / float64(s.TotalQueries)
}

// QueryStatsOptions configures a QueryStats collector.
type QueryStatsOptions struct {
	TermCapacity   int
	ZeroCapacity   int
	RecentCapacity int
	Now            func() time.Time
}

// QueryStats aggregates SearchExecuted events in memory. Flush moves the
// counters gathered since the previous flush into the query_stats table.
type QueryStats struct {
	mu      sync.Mutex
	db      ports.DatabaseExecutor
	now     func() time.Time
	since   time.Time
	terms   *lru.Cache[string, int64]
	recent  *lru.Cache[string, struct{}]
	zero    *Ring[string]
	modes   map[string]int64
	latency map[LatencyBucket]int64
	total   int64
	zeroN   int64
	repeats int64

	pending      map[[2]string]int64
	pendingZeros []string
}

// NewQueryStats creates a collector. db may be nil, in which case Flush is
// a no-op.
func NewQueryStats(db ports.DatabaseExecutor, opts QueryStatsOptions) *QueryStats {
	if opts.TermCapacity <= 0 {
		opts.TermCapacity = defaultTermCapacity
	}
	if opts.RecentCapacity <= 0 {
		opts.RecentCapacity = defaultRecentCapacity
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	terms, _ := lru.New[string, int64](opts.TermCapacity)
	recent, _ := lru.New[string, struct{}](opts.RecentCapacity)
	return &QueryStats{
		db:      db,
		now:     opts.Now,
		since:   opts.Now().UTC(),
		terms:   terms,
		recent:  recent,
		zero:    NewRing[string](opts.ZeroCapacity),
		modes:   make(map[string]int64),
		latency: make(map[LatencyBucket]int64),
		pending: make(map[[2]string]int64),
	}
}

// Record folds one executed search into the aggregates.
func (q *QueryStats) Record(e events.SearchExecuted) {
	mode := e.Mode
	if mode == "" {
		mode = "hybrid"
	}
	bucket := LatencyToBucket(time.Duration(e.DurationMs) * time.Millisecond)
	key := queryKey(e.Query)

	q.mu.Lock()
	defer q.mu.Unlock()
	q.total++
	q.modes[mode]++
	q.latency[bucket]++
	q.pending[[2]string{"mode", mode}]++
	q.pending[[2]string{"latency", string(bucket)}]++
	for _, term := range ExtractTerms(e.Query) {
		n, _ := q.terms.Get(term)
		q.terms.Add(term, n+1)
		q.pending[[2]string{"term", term}]++
	}
	if e.Results == 0 {
		q.zeroN++
		q.zero.Add(e.Query)
		q.pendingZeros = append(q.pendingZeros, e.Query)
	}
	if _, seen := q.recent.Get(key); seen {
		q.repeats++
	}
	q.recent.Add(key, struct{}{})
}

func queryKey(query string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(query))))
	return hex.EncodeToString(sum[:16])
}

// Snapshot returns the in-memory aggregates. TopTerms is sorted by count
// descending, then term.
func (q *QueryStats) Snapshot() QuerySnapshot {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := QuerySnapshot{
		TotalQueries:      q.total,
		ZeroResultCount:   q.zeroN,
		RepeatCount:       q.repeats,
		Modes:             make(map[string]int64, len(q.modes)),
		Latency:           make(map[LatencyBucket]int64, len(q.latency)),
		ZeroResultQueries: q.zero.Items(),
		Since:             q.since,
	}
	for k, v := range q.modes {
		s.Modes[k] = v
	}
	for k, v := range q.latency {
		s.Latency[k] = v
	}
	for _, term := range q.terms.Keys() {
		if n, ok := q.terms.Peek(term); ok {
			s.TopTerms = append(s.TopTerms, TermCount{Term: term, Count: n})
		}
	}
	sort.Slice(s.TopTerms, func(i, j int) bool {
		if s.TopTerms[i].Count != s.TopTerms[j].Count {
			return s.TopTerms[i].Count > s.TopTerms[j].Count
		}
		return s.TopTerms[i].Term < s.TopTerms[j].Term
	})
	return s
}

// Flush writes the counters gathered since the last flush into today's
// rows. Zero-result queries beyond the ring capacity are trimmed from the
// table. On failure the pending counters are kept for the next attempt.
func (q *QueryStats) Flush(ctx context.Context) error {
	if q.db == nil {
		return nil
	}
	q.mu.Lock()
	pending, zeros := q.pending, q.pendingZeros
	q.pending, q.pendingZeros = make(map[[2]string]int64), nil
	q.mu.Unlock()
	if len(pending) == 0 && len(zeros) == 0 {
		return nil
	}

	now := q.now().UTC()
	date := now.Format("2006-01-02")
	err := q.db.Transaction(ctx, func(tx ports.DatabaseExecutor) error {
		for k, n := range pending {
			if _, err := tx.Execute(ctx,
				`INSERT INTO query_stats(date, metric, key, count) VALUES (?, ?, ?, ?)
				ON CONFLICT(date, metric, key) DO UPDATE SET count = count + excluded.count`,
				ports.String(date), ports.String(k[0]), ports.String(k[1]), ports.I64(n)); err != nil {
				return err
			}
		}
		for _, query := range zeros {
			if _, err := tx.Execute(ctx,
				`INSERT INTO zero_result_queries(query, created_at) VALUES (?, ?)`,
				ports.String(query), ports.I64(now.UnixNano())); err != nil {
				return err
			}
		}
		_, err := tx.Execute(ctx,
			`DELETE FROM zero_result_queries WHERE id NOT IN (
				SELECT id FROM zero_result_queries ORDER BY id DESC LIMIT ?)`,
			ports.I64(int64(defaultZeroCapacity)))
		return err
	})
	if err != nil {
		q.mu.Lock()
		for k, n := range pending {
			q.pending[k] += n
		}
		q.pendingZeros = append(zeros, q.pendingZeros...)
		q.mu.Unlock()
		return err
	}
	return nil
}

// DailyCounts reads the persisted counters of one metric ("mode", "latency"
// or "term") for date (YYYY-MM-DD).
func (q *QueryStats) DailyCounts(ctx context.Context, date, metric string) (map[string]int64, error) {
	out := map[string]int64{}
	if q.db == nil {
		return out, nil
	}
	rows, err := q.db.QueryAll(ctx,
		`SELECT key, count FROM query_stats WHERE date = ? AND metric = ?`,
		ports.String(date), ports.String(metric))
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		key, err := row.String("key")
		if err != nil {
			return nil, err
		}
		n, err := row.Int64("count")
		if err != nil {
			return nil, err
		}
		out[key] = n
	}
	return out, nil
}
