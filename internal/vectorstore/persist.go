package vectorstore

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	amerrors "github.com/Aman-CERP/amanctx/internal/errors"
)

const (
	metaSuffix  = ".meta.json"
	graphSuffix = ".graph"
)

type snapshotRecord struct {
	ID       string         `json:"id"`
	Key      uint64         `json:"key"`
	Vector   []float32      `json:"vector"`
	Metadata map[string]any `json:"metadata"`
}

type snapshot struct {
	Name    string           `json:"name"`
	Dims    int              `json:"dims"`
	NextKey uint64           `json:"next_key"`
	Records []snapshotRecord `json:"records"`
}

// Save snapshots every modified collection to the store directory and
// returns the names written.
func (s *Store) Save() ([]string, error) {
	if s.opts.Dir == "" {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, amerrors.VectorDb("vector store is closed", nil)
	}
	var saved []string
	for name, c := range s.collections {
		if !c.dirty {
			continue
		}
		if err := s.saveCollection(c); err != nil {
			return saved, err
		}
		saved = append(saved, name)
	}
	return saved, nil
}

func (s *Store) saveDirty() error {
	for _, c := range s.collections {
		if !c.dirty {
			continue
		}
		if err := s.saveCollection(c); err != nil {
			return err
		}
	}
	return nil
}

// SnapshotPath returns where name is persisted.
func (s *Store) SnapshotPath(name string) string {
	return filepath.Join(s.opts.Dir, name+metaSuffix)
}

func (s *Store) saveCollection(c *collection) error {
	if err := os.MkdirAll(s.opts.Dir, 0o755); err != nil {
		return amerrors.Infrastructure("create vector store directory", err)
	}
	snap := snapshot{Name: c.name, Dims: c.dims, NextKey: c.nextKey}
	for _, id := range c.liveOrder() {
		r := c.records[id]
		snap.Records = append(snap.Records, snapshotRecord{ID: id, Key: r.key, Vector: r.vector, Metadata: r.metadata})
	}

	if c.graph != nil {
		err := writeAtomic(filepath.Join(s.opts.Dir, c.name+graphSuffix), func(w *bufio.Writer) error {
			return c.graph.Export(w)
		})
		if err != nil {
			return amerrors.VectorDb(fmt.Sprintf("export graph of %q", c.name), err)
		}
	}
	err := writeAtomic(s.SnapshotPath(c.name), func(w *bufio.Writer) error {
		return json.NewEncoder(w).Encode(snap)
	})
	if err != nil {
		return amerrors.VectorDb(fmt.Sprintf("save collection %q", c.name), err)
	}
	c.dirty = false
	return nil
}

// writeAtomic writes through a temp file renamed over path.
func writeAtomic(path string, fill func(*bufio.Writer) error) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	if err := fill(w); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func (s *Store) loadAll() error {
	entries, err := os.ReadDir(s.opts.Dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return amerrors.Infrastructure("read vector store directory", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), metaSuffix) {
			continue
		}
		c, err := s.loadCollection(filepath.Join(s.opts.Dir, e.Name()))
		if err != nil {
			return err
		}
		s.collections[c.name] = c
	}
	return nil
}

func (s *Store) loadCollection(metaPath string) (*collection, error) {
	data, err := os.ReadFile(metaPath)
	if err != nil {
		return nil, amerrors.Infrastructure("read collection snapshot", err)
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, amerrors.VectorDb(fmt.Sprintf("decode collection snapshot %s", metaPath), err)
	}

	c := s.newCollection(snap.Name, snap.Dims)
	c.nextKey = snap.NextKey
	for _, r := range snap.Records {
		c.records[r.ID] = &record{key: r.Key, vector: r.Vector, metadata: r.Metadata}
		if c.records[r.ID].metadata == nil {
			c.records[r.ID].metadata = map[string]any{}
		}
		c.keys[r.Key] = r.ID
		c.order = append(c.order, r.ID)
	}
	if c.graph == nil {
		return c, nil
	}

	graphPath := filepath.Join(s.opts.Dir, snap.Name+graphSuffix)
	if err := s.importGraph(c, graphPath); err != nil {
		s.logger.Warn("rebuilding vector graph from records",
			slog.String("collection", snap.Name),
			slog.String("error", err.Error()))
		c.compact(s.newGraph)
	}
	return c, nil
}

func (s *Store) importGraph(c *collection, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	// Import needs an io.ByteReader.
	return c.graph.Import(bufio.NewReader(f))
}

func (s *Store) removeSnapshot(name string) error {
	for _, suffix := range []string{metaSuffix, graphSuffix} {
		err := os.Remove(filepath.Join(s.opts.Dir, name+suffix))
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return amerrors.Infrastructure("remove collection snapshot", err)
		}
	}
	return nil
}
