package database

import (
	"context"
	"fmt"
	"time"

	amerrors "github.com/Aman-CERP/amanctx/internal/errors"
	"github.com/Aman-CERP/amanctx/internal/ports"
)

// Migration is one forward-only schema step.
type Migration struct {
	Version int
	Name    string
	SQL     []string
}

// Migrations is the ordered schema history. Append only.
var Migrations = []Migration{
	{
		Version: 1,
		Name:    "observations",
		SQL: []string{
			`CREATE TABLE IF NOT EXISTS observations (
				id           TEXT PRIMARY KEY,
				project_id   TEXT NOT NULL,
				content      TEXT NOT NULL,
				content_hash TEXT NOT NULL UNIQUE,
				tags         TEXT NOT NULL DEFAULT '[]',
				type         TEXT NOT NULL,
				metadata     TEXT NOT NULL DEFAULT '{}',
				session_id   TEXT,
				repo_id      TEXT,
				file_path    TEXT,
				created_at   INTEGER NOT NULL,
				embedding_id TEXT
			)`,
			`CREATE INDEX IF NOT EXISTS idx_observations_project ON observations(project_id, created_at)`,
			`CREATE INDEX IF NOT EXISTS idx_observations_session ON observations(session_id, created_at)`,
			`CREATE VIRTUAL TABLE IF NOT EXISTS observations_fts USING fts5(
				content, tags, metadata,
				content='observations', content_rowid='rowid',
				tokenize='porter unicode61'
			)`,
			`CREATE TRIGGER IF NOT EXISTS observations_ai AFTER INSERT ON observations BEGIN
				INSERT INTO observations_fts(rowid, content, tags, metadata)
				VALUES (new.rowid, new.content, new.tags, new.metadata);
			END`,
			`CREATE TRIGGER IF NOT EXISTS observations_ad AFTER DELETE ON observations BEGIN
				INSERT INTO observations_fts(observations_fts, rowid, content, tags, metadata)
				VALUES ('delete', old.rowid, old.content, old.tags, old.metadata);
			END`,
			`CREATE TRIGGER IF NOT EXISTS observations_au AFTER UPDATE ON observations BEGIN
				INSERT INTO observations_fts(observations_fts, rowid, content, tags, metadata)
				VALUES ('delete', old.rowid, old.content, old.tags, old.metadata);
				INSERT INTO observations_fts(rowid, content, tags, metadata)
				VALUES (new.rowid, new.content, new.tags, new.metadata);
			END`,
		},
	},
	{
		Version: 2,
		Name:    "sessions_and_error_patterns",
		SQL: []string{
			`CREATE TABLE IF NOT EXISTS session_summaries (
				id                TEXT PRIMARY KEY,
				session_id        TEXT NOT NULL UNIQUE,
				project_id        TEXT NOT NULL,
				summary           TEXT NOT NULL,
				observation_count INTEGER NOT NULL DEFAULT 0,
				created_at        INTEGER NOT NULL,
				updated_at        INTEGER NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS error_patterns (
				id          TEXT PRIMARY KEY,
				fingerprint TEXT NOT NULL UNIQUE,
				message     TEXT NOT NULL,
				resolution  TEXT,
				occurrences INTEGER NOT NULL DEFAULT 1,
				first_seen  INTEGER NOT NULL,
				last_seen   INTEGER NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS error_pattern_matches (
				id             INTEGER PRIMARY KEY AUTOINCREMENT,
				pattern_id     TEXT NOT NULL REFERENCES error_patterns(id) ON DELETE CASCADE,
				observation_id TEXT,
				matched_at     INTEGER NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_error_pattern_matches_pattern ON error_pattern_matches(pattern_id)`,
		},
	},
	{
		Version: 3,
		Name:    "file_hashes",
		SQL: []string{
			`CREATE TABLE IF NOT EXISTS file_hashes (
				collection TEXT NOT NULL,
				path       TEXT NOT NULL,
				hash       TEXT NOT NULL,
				deleted    INTEGER NOT NULL DEFAULT 0,
				updated_at INTEGER NOT NULL,
				PRIMARY KEY (collection, path)
			)`,
		},
	},
	{
		Version: 4,
		Name:    "index_operations",
		SQL: []string{
			`CREATE TABLE IF NOT EXISTS index_operations (
				id              TEXT PRIMARY KEY,
				collection      TEXT NOT NULL,
				collection_name TEXT NOT NULL,
				status          TEXT NOT NULL,
				total_files     INTEGER NOT NULL,
				processed_files INTEGER NOT NULL,
				chunks          INTEGER NOT NULL DEFAULT 0,
				errors          TEXT NOT NULL DEFAULT '[]',
				started_at      INTEGER NOT NULL,
				finished_at     INTEGER NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_index_operations_collection ON index_operations(collection, started_at)`,
		},
	},
	{
		Version: 5,
		Name:    "query_stats",
		SQL: []string{
			`CREATE TABLE IF NOT EXISTS query_stats (
				date   TEXT NOT NULL,
				metric TEXT NOT NULL,
				key    TEXT NOT NULL,
				count  INTEGER NOT NULL DEFAULT 0,
				PRIMARY KEY (date, metric, key)
			)`,
			`CREATE TABLE IF NOT EXISTS zero_result_queries (
				id         INTEGER PRIMARY KEY AUTOINCREMENT,
				query      TEXT NOT NULL,
				created_at INTEGER NOT NULL
			)`,
		},
	},
}

// Migrate applies every migration newer than the recorded schema version.
// Each migration runs in its own transaction. Returns the resulting version.
func Migrate(ctx context.Context, db ports.DatabaseExecutor) (int, error) {
	if _, err := db.Execute(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		name       TEXT NOT NULL,
		applied_at INTEGER NOT NULL
	)`); err != nil {
		return 0, migrationError("create schema_migrations", err)
	}

	current, err := Version(ctx, db)
	if err != nil {
		return 0, err
	}

	for _, m := range Migrations {
		if m.Version <= current {
			continue
		}
		err := db.Transaction(ctx, func(tx ports.DatabaseExecutor) error {
			for _, stmt := range m.SQL {
				if _, err := tx.Execute(ctx, stmt); err != nil {
					return err
				}
			}
			_, err := tx.Execute(ctx,
				`INSERT INTO schema_migrations(version, name, applied_at) VALUES (?, ?, ?)`,
				ports.I64(int64(m.Version)), ports.String(m.Name), ports.I64(time.Now().Unix()))
			return err
		})
		if err != nil {
			return current, migrationError(fmt.Sprintf("apply migration %d (%s)", m.Version, m.Name), err)
		}
		current = m.Version
	}
	return current, nil
}

// Version returns the highest applied migration, or 0.
func Version(ctx context.Context, db ports.DatabaseExecutor) (int, error) {
	row, err := db.QueryOne(ctx, `SELECT COALESCE(MAX(version), 0) AS version FROM schema_migrations`)
	if err != nil {
		return 0, migrationError("read schema version", err)
	}
	if row == nil {
		return 0, nil
	}
	v, err := row.Int64("version")
	if err != nil {
		return 0, err
	}
	return int(v), nil
}

func migrationError(msg string, cause error) error {
	return amerrors.New(amerrors.ErrCodeMigrationFailed, msg, cause)
}
