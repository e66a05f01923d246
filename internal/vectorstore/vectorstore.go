// Package vectorstore implements ports.VectorStoreProvider in process.
//
// Two flavors share one implementation: "memory" answers queries by exact
// cosine scan, "hnsw" keeps a coder/hnsw graph per collection and can
// snapshot collections to a directory.
package vectorstore

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"

	"github.com/coder/hnsw"

	amerrors "github.com/Aman-CERP/amanctx/internal/errors"
	"github.com/Aman-CERP/amanctx/internal/ids"
	"github.com/Aman-CERP/amanctx/internal/ports"
)

const (
	// exactScanLimit is the collection size below which searches scan every
	// record instead of walking the graph.
	exactScanLimit = 512

	// filterOversample widens graph searches when a filter discards hits.
	filterOversample = 8

	defaultM        = 16
	defaultEfSearch = 64
)

// Options configures a Store.
type Options struct {
	// Graph enables the HNSW index. Without it every search is exact.
	Graph bool
	// Dir, when set, is where collections are snapshotted and loaded from.
	Dir      string
	M        int
	EfSearch int
	Logger   *slog.Logger
}

type record struct {
	key      uint64
	vector   []float32
	metadata map[string]any
}

type collection struct {
	name    string
	dims    int
	graph   *hnsw.Graph[uint64]
	records map[string]*record
	keys    map[uint64]string
	order   []string // insertion order for List
	nextKey uint64
	dirty   bool
}

// Store holds named collections guarded by one RWMutex.
type Store struct {
	mu          sync.RWMutex
	opts        Options
	collections map[string]*collection
	logger      *slog.Logger
	closed      bool
}

var _ ports.VectorStoreProvider = (*Store)(nil)

// New creates a store. With Dir set, snapshots found there are loaded.
func New(opts Options) (*Store, error) {
	if opts.M <= 0 {
		opts.M = defaultM
	}
	if opts.EfSearch <= 0 {
		opts.EfSearch = defaultEfSearch
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	s := &Store{
		opts:        opts,
		collections: make(map[string]*collection),
		logger:      opts.Logger,
	}
	if opts.Dir != "" {
		if err := s.loadAll(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// NewMemory returns an exact-scan store with no persistence.
func NewMemory() *Store {
	s, _ := New(Options{}) // no Dir, cannot fail
	return s
}

// CollectionName maps a collection id onto its backend name.
func CollectionName(id ids.CollectionID) string {
	return id.BackendName()
}

func (s *Store) newCollection(name string, dims int) *collection {
	c := &collection{
		name:    name,
		dims:    dims,
		records: make(map[string]*record),
		keys:    make(map[uint64]string),
	}
	if s.opts.Graph {
		c.graph = s.newGraph()
	}
	return c
}

func (s *Store) newGraph() *hnsw.Graph[uint64] {
	g := hnsw.NewGraph[uint64]()
	g.Distance = hnsw.CosineDistance
	g.M = s.opts.M
	g.EfSearch = s.opts.EfSearch
	g.Ml = 0.25
	return g
}

func (s *Store) get(name string) (*collection, error) {
	if s.closed {
		return nil, amerrors.VectorDb("vector store is closed", nil)
	}
	c, ok := s.collections[name]
	if !ok {
		return nil, amerrors.Newf(amerrors.ErrCodeCollectionMissing, "collection %q does not exist", name)
	}
	return c, nil
}

// CreateCollection creates name. Re-creating with equal dims is a no-op;
// different dims is an error.
func (s *Store) CreateCollection(_ context.Context, name string, dims int) error {
	if name == "" {
		return amerrors.InvalidArgument("collection name is empty")
	}
	if dims <= 0 {
		return amerrors.InvalidArgument("collection %q: dimensions must be positive, got %d", name, dims)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return amerrors.VectorDb("vector store is closed", nil)
	}
	if c, ok := s.collections[name]; ok {
		if c.dims != dims {
			return amerrors.VectorDb(
				fmt.Sprintf("collection %q exists with %d dimensions, requested %d", name, c.dims, dims), nil)
		}
		return nil
	}
	c := s.newCollection(name, dims)
	c.dirty = true
	s.collections[name] = c
	return nil
}

// DeleteCollection drops name and its snapshot. Unknown names are ignored.
func (s *Store) DeleteCollection(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return amerrors.VectorDb("vector store is closed", nil)
	}
	delete(s.collections, name)
	if s.opts.Dir != "" {
		return s.removeSnapshot(name)
	}
	return nil
}

func (s *Store) HasCollection(_ context.Context, name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.collections[name]
	return ok, nil
}

// Dimensions returns the dimensionality of name.
func (s *Store) Dimensions(name string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, err := s.get(name)
	if err != nil {
		return 0, err
	}
	return c.dims, nil
}

// Insert stores vectors. A string "id" in the metadata becomes the record
// id and replaces any record with that id; otherwise a random id is used.
// An empty batch succeeds whether or not the collection exists.
func (s *Store) Insert(_ context.Context, name string, vectors [][]float32, metadata []map[string]any) ([]string, error) {
	if len(vectors) != len(metadata) {
		return nil, amerrors.InvalidArgument("insert into %q: %d vectors but %d metadata entries", name, len(vectors), len(metadata))
	}
	if len(vectors) == 0 {
		return []string{}, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.get(name)
	if err != nil {
		return nil, err
	}
	for i, v := range vectors {
		if len(v) != c.dims {
			return nil, amerrors.VectorDb(
				fmt.Sprintf("insert into %q: vector %d has %d dimensions, collection has %d", name, i, len(v), c.dims), nil).
				WithDetail("collection", name)
		}
	}

	out := make([]string, len(vectors))
	for i, v := range vectors {
		id, _ := metadata[i]["id"].(string)
		if id == "" {
			id = ids.New()
		}
		c.put(id, v, metadata[i])
		out[i] = id
	}
	c.dirty = true
	return out, nil
}

// put inserts or replaces id. Replaced graph nodes are orphaned rather than
// deleted from the graph; compact rebuilds the graph once orphans pile up.
func (c *collection) put(id string, v []float32, meta map[string]any) {
	if old, ok := c.records[id]; ok {
		delete(c.keys, old.key)
	} else {
		c.order = append(c.order, id)
	}
	vec := normalize(v)
	key := c.nextKey
	c.nextKey++
	c.records[id] = &record{key: key, vector: vec, metadata: cloneMeta(meta)}
	c.keys[key] = id
	if c.graph != nil {
		c.graph.Add(hnsw.MakeNode(key, vec))
	}
}

func (c *collection) remove(id string) bool {
	r, ok := c.records[id]
	if !ok {
		return false
	}
	delete(c.keys, r.key)
	delete(c.records, id)
	return true
}

func (c *collection) orphans() int {
	if c.graph == nil {
		return 0
	}
	return c.graph.Len() - len(c.records)
}

// compact rebuilds the graph from live records.
func (c *collection) compact(newGraph func() *hnsw.Graph[uint64]) {
	if c.graph == nil {
		return
	}
	g := newGraph()
	c.keys = make(map[uint64]string, len(c.records))
	c.nextKey = 0
	for _, id := range c.liveOrder() {
		r := c.records[id]
		r.key = c.nextKey
		c.nextKey++
		c.keys[r.key] = id
		g.Add(hnsw.MakeNode(r.key, r.vector))
	}
	c.graph = g
}

// liveOrder returns record ids in insertion order, pruning removed ids.
func (c *collection) liveOrder() []string {
	live := c.order[:0]
	for _, id := range c.order {
		if _, ok := c.records[id]; ok {
			live = append(live, id)
		}
	}
	c.order = live
	return live
}

// Search returns up to limit records ordered by descending cosine
// similarity, mapped to [0,1]. Ties break by id.
func (s *Store) Search(_ context.Context, name string, query []float32, limit int, filter ports.VectorFilter) ([]ports.VectorMatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, err := s.get(name)
	if err != nil {
		return nil, err
	}
	if len(query) != c.dims {
		return nil, amerrors.VectorDb(
			fmt.Sprintf("search %q: query has %d dimensions, collection has %d", name, len(query), c.dims), nil)
	}
	if limit <= 0 || len(c.records) == 0 {
		return []ports.VectorMatch{}, nil
	}
	q := normalize(query)

	if c.graph != nil && len(c.records) > exactScanLimit {
		if hits := c.graphSearch(q, limit, filter); len(hits) >= limit || len(filter) == 0 {
			return hits, nil
		}
	}
	return c.scan(q, limit, filter), nil
}

func (c *collection) graphSearch(q []float32, limit int, filter ports.VectorFilter) []ports.VectorMatch {
	k := limit + c.orphans()
	if len(filter) > 0 {
		k = limit*filterOversample + c.orphans()
	}
	nodes := c.graph.Search(q, k)
	out := make([]ports.VectorMatch, 0, limit)
	for _, n := range nodes {
		id, ok := c.keys[n.Key]
		if !ok {
			continue
		}
		r := c.records[id]
		if !filter.Matches(r.metadata) {
			continue
		}
		out = append(out, ports.VectorMatch{ID: id, Score: similarity(q, r.vector), Metadata: cloneMeta(r.metadata)})
	}
	sortMatches(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (c *collection) scan(q []float32, limit int, filter ports.VectorFilter) []ports.VectorMatch {
	out := make([]ports.VectorMatch, 0, len(c.records))
	for id, r := range c.records {
		if !filter.Matches(r.metadata) {
			continue
		}
		out = append(out, ports.VectorMatch{ID: id, Score: similarity(q, r.vector)})
	}
	sortMatches(out)
	if len(out) > limit {
		out = out[:limit]
	}
	for i := range out {
		out[i].Metadata = cloneMeta(c.records[out[i].ID].metadata)
	}
	return out
}

func sortMatches(m []ports.VectorMatch) {
	sort.Slice(m, func(i, j int) bool {
		if m[i].Score != m[j].Score {
			return m[i].Score > m[j].Score
		}
		return m[i].ID < m[j].ID
	})
}

// DeleteVectors removes ids; unknown ids are ignored.
func (s *Store) DeleteVectors(_ context.Context, name string, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.get(name)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if c.remove(id) {
			c.dirty = true
		}
	}
	if c.orphans() > len(c.records) && c.orphans() > exactScanLimit {
		c.compact(s.newGraph)
	}
	return nil
}

// DeleteWhere removes every record whose metadata matches filter and
// returns the removed ids in ascending order.
func (s *Store) DeleteWhere(_ context.Context, name string, filter ports.VectorFilter) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.get(name)
	if err != nil {
		return nil, err
	}
	victims := []string{}
	for id, r := range c.records {
		if filter.Matches(r.metadata) {
			victims = append(victims, id)
		}
	}
	sort.Strings(victims)
	for _, id := range victims {
		c.remove(id)
	}
	if len(victims) > 0 {
		c.dirty = true
	}
	if c.orphans() > len(c.records) && c.orphans() > exactScanLimit {
		c.compact(s.newGraph)
	}
	return victims, nil
}

// GetByIDs returns the records for ids in input order, skipping unknown ids.
func (s *Store) GetByIDs(_ context.Context, name string, ids []string) ([]ports.VectorRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, err := s.get(name)
	if err != nil {
		return nil, err
	}
	out := make([]ports.VectorRecord, 0, len(ids))
	for _, id := range ids {
		if r, ok := c.records[id]; ok {
			out = append(out, c.export(id, r))
		}
	}
	return out, nil
}

// List returns up to limit records in insertion order. limit <= 0 lists all.
func (s *Store) List(_ context.Context, name string, limit int) ([]ports.VectorRecord, error) {
	s.mu.Lock() // liveOrder prunes c.order
	defer s.mu.Unlock()
	c, err := s.get(name)
	if err != nil {
		return nil, err
	}
	order := c.liveOrder()
	if limit <= 0 || limit > len(order) {
		limit = len(order)
	}
	out := make([]ports.VectorRecord, 0, limit)
	for _, id := range order[:limit] {
		out = append(out, c.export(id, c.records[id]))
	}
	return out, nil
}

func (c *collection) export(id string, r *record) ports.VectorRecord {
	return ports.VectorRecord{
		ID:       id,
		Vector:   append([]float32(nil), r.vector...),
		Metadata: cloneMeta(r.metadata),
	}
}

func (s *Store) Count(_ context.Context, name string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, err := s.get(name)
	if err != nil {
		return 0, err
	}
	return len(c.records), nil
}

// Collections returns collection names in sorted order.
func (s *Store) Collections() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.collections))
	for name := range s.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close snapshots dirty collections when persistent and rejects further use.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	var err error
	if s.opts.Dir != "" {
		err = s.saveDirty()
	}
	s.closed = true
	s.collections = nil
	return err
}

func normalize(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	var sum float64
	for _, x := range out {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return out
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range out {
		out[i] *= inv
	}
	return out
}

// similarity maps cosine similarity of unit vectors from [-1,1] onto [0,1].
func similarity(a, b []float32) float64 {
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return (1 + dot) / 2
}

func cloneMeta(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
