// Package filehash stores per-collection file content hashes with tombstones,
// used by the indexing engine to skip unchanged files.
package filehash

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/Aman-CERP/amanctx/internal/domain"
	amerrors "github.com/Aman-CERP/amanctx/internal/errors"
	"github.com/Aman-CERP/amanctx/internal/ports"
	"github.com/Aman-CERP/amanctx/internal/syncx"
)

// Repository implements ports.FileHashRepository over a DatabaseExecutor.
// Writes are serialized per (collection, path); reads are not locked.
type Repository struct {
	db    ports.DatabaseExecutor
	locks *syncx.KeyedMutex
	now   func() time.Time
}

var _ ports.FileHashRepository = (*Repository)(nil)

// New creates a repository. The file_hashes table must exist.
func New(db ports.DatabaseExecutor) *Repository {
	return &Repository{db: db, locks: syncx.NewKeyedMutex(), now: time.Now}
}

func lockKey(collection, path string) string {
	return collection + "\x00" + path
}

// HasChanged is true for unseen or tombstoned paths and for differing hashes.
func (r *Repository) HasChanged(ctx context.Context, collection, path, hash string) (bool, error) {
	stored, ok, err := r.GetHash(ctx, collection, path)
	if err != nil {
		return false, err
	}
	return !ok || stored != hash, nil
}

// UpsertHash records hash for path, clearing any tombstone in the same write.
func (r *Repository) UpsertHash(ctx context.Context, collection, path, hash string) error {
	unlock := r.locks.Lock(lockKey(collection, path))
	defer unlock()

	_, err := r.db.Execute(ctx, `
		INSERT INTO file_hashes(collection, path, hash, deleted, updated_at) VALUES (?, ?, ?, 0, ?)
		ON CONFLICT(collection, path) DO UPDATE SET hash = excluded.hash, deleted = 0, updated_at = excluded.updated_at`,
		ports.String(collection), ports.String(path), ports.String(hash), ports.I64(r.now().UnixMilli()))
	return err
}

// GetHash returns the stored hash, hiding tombstoned entries.
func (r *Repository) GetHash(ctx context.Context, collection, path string) (string, bool, error) {
	row, err := r.db.QueryOne(ctx,
		`SELECT hash FROM file_hashes WHERE collection = ? AND path = ? AND deleted = 0`,
		ports.String(collection), ports.String(path))
	if err != nil || row == nil {
		return "", false, err
	}
	hash, err := row.String("hash")
	if err != nil {
		return "", false, err
	}
	return hash, true, nil
}

// MarkDeleted tombstones path. Unknown paths are ignored.
func (r *Repository) MarkDeleted(ctx context.Context, collection, path string) error {
	unlock := r.locks.Lock(lockKey(collection, path))
	defer unlock()

	_, err := r.db.Execute(ctx,
		`UPDATE file_hashes SET deleted = 1, updated_at = ? WHERE collection = ? AND path = ?`,
		ports.I64(r.now().UnixMilli()), ports.String(collection), ports.String(path))
	return err
}

// GetIndexedFiles lists live paths of collection in path order.
func (r *Repository) GetIndexedFiles(ctx context.Context, collection string) ([]string, error) {
	rows, err := r.db.QueryAll(ctx,
		`SELECT path FROM file_hashes WHERE collection = ? AND deleted = 0 ORDER BY path`,
		ports.String(collection))
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(rows))
	for _, row := range rows {
		p, err := row.String("path")
		if err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, nil
}

// Entries lists every entry of collection in path order, tombstones included.
func (r *Repository) Entries(ctx context.Context, collection string) ([]domain.FileHashEntry, error) {
	rows, err := r.db.QueryAll(ctx,
		`SELECT path, hash, deleted FROM file_hashes WHERE collection = ? ORDER BY path`,
		ports.String(collection))
	if err != nil {
		return nil, err
	}
	out := make([]domain.FileHashEntry, 0, len(rows))
	for _, row := range rows {
		e := domain.FileHashEntry{Collection: collection}
		if e.Path, err = row.String("path"); err != nil {
			return nil, err
		}
		if e.Hash, err = row.String("hash"); err != nil {
			return nil, err
		}
		deleted, err := row.Int64("deleted")
		if err != nil {
			return nil, err
		}
		e.Deleted = deleted != 0
		out = append(out, e)
	}
	return out, nil
}

// ClearCollection removes every entry of collection, tombstones included.
func (r *Repository) ClearCollection(ctx context.Context, collection string) error {
	_, err := r.db.Execute(ctx, `DELETE FROM file_hashes WHERE collection = ?`, ports.String(collection))
	return err
}

// ComputeHash returns the SHA-256 hex digest of the file at path.
func (r *Repository) ComputeHash(path string) (string, error) {
	return HashFile(path)
}

// HashFile returns the SHA-256 hex digest of the file at path.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", amerrors.Infrastructure(fmt.Sprintf("open %s", path), err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", amerrors.Infrastructure(fmt.Sprintf("read %s", path), err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashBytes returns the SHA-256 hex digest of data.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
