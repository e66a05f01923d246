// Package database implements the relational executor port on SQLite and owns
// the forward-only schema migrations of the namespace database.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "modernc.org/sqlite" // pure Go driver, registers "sqlite"

	amerrors "github.com/Aman-CERP/amanctx/internal/errors"
	"github.com/Aman-CERP/amanctx/internal/ports"
)

// SQLite is a DatabaseExecutor over a single SQLite file in WAL mode.
type SQLite struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
	retry  func() backoff.BackOff
}

var _ ports.DatabaseExecutor = (*SQLite)(nil)

// Open opens (creating if needed) the database at path. An empty path opens a
// private in-memory database.
func Open(path string, logger *slog.Logger) (*SQLite, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, amerrors.Database(fmt.Sprintf("create database directory for %s", path), err)
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, amerrors.Database("open database", err)
	}
	// One connection serializes writers; an in-memory database also needs it
	// to stay a single database.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, amerrors.Database("set pragma", err).WithDetail("pragma", pragma)
		}
	}

	return &SQLite{
		db:     db,
		path:   path,
		logger: logger,
		retry: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 20 * time.Millisecond
			b.MaxInterval = 500 * time.Millisecond
			b.MaxElapsedTime = 5 * time.Second
			return b
		},
	}, nil
}

// Path returns the database file path, or "" for in-memory databases.
func (s *SQLite) Path() string {
	return s.path
}

// Execute runs a statement and returns the affected row count.
func (s *SQLite) Execute(ctx context.Context, query string, params ...ports.Param) (int64, error) {
	return withRetry(ctx, s.retry, func() (int64, error) {
		return execute(ctx, s.db, query, params)
	})
}

// QueryOne returns the first row or nil.
func (s *SQLite) QueryOne(ctx context.Context, query string, params ...ports.Param) (*ports.Row, error) {
	return withRetry(ctx, s.retry, func() (*ports.Row, error) {
		return queryOne(ctx, s.db, query, params)
	})
}

// QueryAll returns every row.
func (s *SQLite) QueryAll(ctx context.Context, query string, params ...ports.Param) ([]ports.Row, error) {
	return withRetry(ctx, s.retry, func() ([]ports.Row, error) {
		return queryAll(ctx, s.db, query, params)
	})
}

// Transaction runs fn in a write transaction, committing when fn returns nil.
// fn must use the executor it is given; the outer executor would block on the
// single connection.
func (s *SQLite) Transaction(ctx context.Context, fn func(tx ports.DatabaseExecutor) error) error {
	_, err := withRetry(ctx, s.retry, func() (struct{}, error) {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return struct{}{}, classify("begin transaction", err)
		}
		if err := fn(&txExecutor{tx: tx}); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				s.logger.Warn("rollback failed", slog.String("error", rbErr.Error()))
			}
			return struct{}{}, err
		}
		if err := tx.Commit(); err != nil {
			return struct{}{}, classify("commit transaction", err)
		}
		return struct{}{}, nil
	})
	return err
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

type txExecutor struct {
	tx *sql.Tx
}

func (t *txExecutor) Execute(ctx context.Context, query string, params ...ports.Param) (int64, error) {
	return execute(ctx, t.tx, query, params)
}

func (t *txExecutor) QueryOne(ctx context.Context, query string, params ...ports.Param) (*ports.Row, error) {
	return queryOne(ctx, t.tx, query, params)
}

func (t *txExecutor) QueryAll(ctx context.Context, query string, params ...ports.Param) ([]ports.Row, error) {
	return queryAll(ctx, t.tx, query, params)
}

// Transaction on a transaction runs fn in the same transaction.
func (t *txExecutor) Transaction(_ context.Context, fn func(tx ports.DatabaseExecutor) error) error {
	return fn(t)
}

func (t *txExecutor) Close() error { return nil }

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func args(params []ports.Param) []any {
	out := make([]any, len(params))
	for i, p := range params {
		out[i] = p.Value()
	}
	return out
}

func execute(ctx context.Context, q queryer, query string, params []ports.Param) (int64, error) {
	res, err := q.ExecContext(ctx, query, args(params)...)
	if err != nil {
		return 0, classify("execute", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, classify("rows affected", err)
	}
	return n, nil
}

func queryOne(ctx context.Context, q queryer, query string, params []ports.Param) (*ports.Row, error) {
	rows, err := queryRows(ctx, q, query, params, 1)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return &rows[0], nil
}

func queryAll(ctx context.Context, q queryer, query string, params []ports.Param) ([]ports.Row, error) {
	return queryRows(ctx, q, query, params, 0)
}

func queryRows(ctx context.Context, q queryer, query string, params []ports.Param, max int) ([]ports.Row, error) {
	rows, err := q.QueryContext(ctx, query, args(params)...)
	if err != nil {
		return nil, classify("query", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, classify("columns", err)
	}
	var out []ports.Row
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, classify("scan", err)
		}
		out = append(out, ports.Row{Columns: cols, Values: values})
		if max > 0 && len(out) >= max {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate rows", err)
	}
	return out, nil
}

const (
	sqliteBusy   = 5
	sqliteLocked = 6
)

// isBusy reports SQLITE_BUSY and SQLITE_LOCKED, including extended codes.
func isBusy(err error) bool {
	var coded interface{ Code() int }
	if errors.As(err, &coded) {
		code := coded.Code() & 0xff
		return code == sqliteBusy || code == sqliteLocked
	}
	return false
}

func classify(op string, err error) error {
	if isBusy(err) {
		return amerrors.New(amerrors.ErrCodeDatabaseBusy, op+": database busy", err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return amerrors.Cancelled(op, err)
	}
	return amerrors.Database(op, err)
}

// withRetry retries fn while it fails with a busy error. Every other error is
// returned on the first attempt.
func withRetry[T any](ctx context.Context, policy func() backoff.BackOff, fn func() (T, error)) (T, error) {
	var result T
	op := func() error {
		v, err := fn()
		if err != nil {
			if amerrors.GetCode(err) == amerrors.ErrCodeDatabaseBusy {
				return err
			}
			return backoff.Permanent(err)
		}
		result = v
		return nil
	}
	err := backoff.Retry(op, backoff.WithContext(policy(), ctx))
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		err = perm.Err
	}
	return result, err
}
