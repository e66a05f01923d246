package lexical

import (
	"context"
	"strings"
	"sync"

	amerrors "github.com/Aman-CERP/amanctx/internal/errors"
	"github.com/Aman-CERP/amanctx/internal/ports"
)

const sqliteSchema = `CREATE VIRTUAL TABLE IF NOT EXISTS lexical_fts USING fts5(
	collection UNINDEXED,
	doc_id UNINDEXED,
	content,
	tokenize='unicode61'
)`

// SQLite stores pre-tokenized documents in an FTS5 table of the shared
// database. Writes are visible to the next Search.
type SQLite struct {
	db ports.DatabaseExecutor

	mu     sync.RWMutex
	closed bool
}

var _ ports.LexicalIndex = (*SQLite)(nil)

// NewSQLite creates the FTS5 table when missing.
func NewSQLite(ctx context.Context, db ports.DatabaseExecutor) (*SQLite, error) {
	if _, err := db.Execute(ctx, sqliteSchema); err != nil {
		return nil, amerrors.Configuration("create lexical FTS5 table", err)
	}
	return &SQLite{db: db}, nil
}

// Index replaces the documents in docs (id -> text).
func (s *SQLite) Index(ctx context.Context, collection string, docs map[string]string) error {
	if len(docs) == 0 {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return amerrors.Unavailable("lexical index is closed")
	}
	return s.db.Transaction(ctx, func(tx ports.DatabaseExecutor) error {
		for id, text := range docs {
			// FTS5 has no upsert.
			if _, err := tx.Execute(ctx, `DELETE FROM lexical_fts WHERE collection = ? AND doc_id = ?`,
				ports.String(collection), ports.String(id)); err != nil {
				return err
			}
			if _, err := tx.Execute(ctx, `INSERT INTO lexical_fts(collection, doc_id, content) VALUES (?, ?, ?)`,
				ports.String(collection), ports.String(id), ports.String(strings.Join(Tokenize(text), " "))); err != nil {
				return err
			}
		}
		return nil
	})
}

// Search ranks documents of collection sharing any term with query. Scores
// are positive, higher is better.
func (s *SQLite) Search(ctx context.Context, collection, query string, limit int) ([]ports.LexicalHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, amerrors.Unavailable("lexical index is closed")
	}
	match := FTSQuery(query)
	if match == "" || limit <= 0 {
		return []ports.LexicalHit{}, nil
	}

	// bm25() is negative; lower is better.
	rows, err := s.db.QueryAll(ctx, `SELECT doc_id, bm25(lexical_fts) AS score
		FROM lexical_fts
		WHERE content MATCH ? AND collection = ?
		ORDER BY score, doc_id
		LIMIT ?`,
		ports.String(match), ports.String(collection), ports.I64(int64(limit)))
	if err != nil {
		return nil, err
	}
	hits := make([]ports.LexicalHit, 0, len(rows))
	for _, row := range rows {
		id, err := row.String("doc_id")
		if err != nil {
			return nil, err
		}
		score, err := row.Float64("score")
		if err != nil {
			return nil, err
		}
		hits = append(hits, ports.LexicalHit{ID: id, Score: -score})
	}
	return hits, nil
}

// FTSQuery turns free text into an FTS5 MATCH expression, or "" when the
// text has no searchable terms.
func FTSQuery(text string) string {
	return matchExpression(Tokenize(text))
}

// matchExpression ORs quoted terms so punctuation in a query can never form
// FTS5 syntax.
func matchExpression(tokens []string) string {
	if len(tokens) == 0 {
		return ""
	}
	seen := make(map[string]bool, len(tokens))
	quoted := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if seen[t] {
			continue
		}
		seen[t] = true
		quoted = append(quoted, `"`+t+`"`)
	}
	return strings.Join(quoted, " OR ")
}

func (s *SQLite) Delete(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return amerrors.Unavailable("lexical index is closed")
	}
	return s.db.Transaction(ctx, func(tx ports.DatabaseExecutor) error {
		for _, id := range ids {
			if _, err := tx.Execute(ctx, `DELETE FROM lexical_fts WHERE collection = ? AND doc_id = ?`,
				ports.String(collection), ports.String(id)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQLite) DropCollection(ctx context.Context, collection string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return amerrors.Unavailable("lexical index is closed")
	}
	_, err := s.db.Execute(ctx, `DELETE FROM lexical_fts WHERE collection = ?`, ports.String(collection))
	return err
}

// Count returns the number of documents in collection.
func (s *SQLite) Count(ctx context.Context, collection string) (int, error) {
	row, err := s.db.QueryOne(ctx, `SELECT COUNT(*) AS n FROM lexical_fts WHERE collection = ?`, ports.String(collection))
	if err != nil || row == nil {
		return 0, err
	}
	n, err := row.Int64("n")
	return int(n), err
}

// Close detaches the index. The database is owned by the caller.
func (s *SQLite) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
