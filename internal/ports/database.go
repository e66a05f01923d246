package ports

import (
	"context"
	"fmt"

	amerrors "github.com/Aman-CERP/amanctx/internal/errors"
)

// ParamKind tags a Param value.
type ParamKind int

const (
	ParamNull ParamKind = iota
	ParamI64
	ParamF64
	ParamString
	ParamBytes
)

func (k ParamKind) String() string {
	switch k {
	case ParamNull:
		return "null"
	case ParamI64:
		return "i64"
	case ParamF64:
		return "f64"
	case ParamString:
		return "string"
	case ParamBytes:
		return "bytes"
	default:
		return fmt.Sprintf("ParamKind(%d)", int(k))
	}
}

// Param is a SQL parameter: exactly one of Null, I64, F64, String or Bytes.
type Param struct {
	Kind ParamKind
	I    int64
	F    float64
	S    string
	B    []byte
}

func Null() Param { return Param{Kind: ParamNull} }
func I64(v int64) Param { return Param{Kind: ParamI64, I: v} }
func F64(v float64) Param { return Param{Kind: ParamF64, F: v} }
func String(v string) Param { return Param{Kind: ParamString, S: v} }
func Bytes(v []byte) Param { return Param{Kind: ParamBytes, B: v} }
func OptString(v string) Param {
	if v == "" {
		return Null()
	}
	return String(v)
}

// Value returns the driver value for p.
func (p Param) Value() any {
	switch p.Kind {
	case ParamI64:
		return p.I
	case ParamF64:
		return p.F
	case ParamString:
		return p.S
	case ParamBytes:
		return p.B
	default:
		return nil
	}
}

// Row is one result row with typed accessors. Accessors fail with a Decode
// error when the stored value has a different type or the column is unknown.
type Row struct {
	Columns []string
	Values  []any
}

func (r Row) get(col string) (any, error) {
	for i, c := range r.Columns {
		if c == col {
			return r.Values[i], nil
		}
	}
	return nil, amerrors.Decode("no column %q in row", col)
}

// IsNull reports whether col holds NULL.
func (r Row) IsNull(col string) (bool, error) {
	v, err := r.get(col)
	if err != nil {
		return false, err
	}
	return v == nil, nil
}

// Int64 reads an integer column.
func (r Row) Int64(col string) (int64, error) {
	v, err := r.get(col)
	if err != nil {
		return 0, err
	}
	if n, ok := v.(int64); ok {
		return n, nil
	}
	return 0, amerrors.Decode("column %q: want i64, got %T", col, v)
}

// Float64 reads a real column. Integers widen to float.
func (r Row) Float64(col string) (float64, error) {
	v, err := r.get(col)
	if err != nil {
		return 0, err
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case int64:
		return float64(n), nil
	}
	return 0, amerrors.Decode("column %q: want f64, got %T", col, v)
}

// String reads a text column.
func (r Row) String(col string) (string, error) {
	v, err := r.get(col)
	if err != nil {
		return "", err
	}
	switch s := v.(type) {
	case string:
		return s, nil
	case []byte:
		return string(s), nil
	}
	return "", amerrors.Decode("column %q: want string, got %T", col, v)
}

// OptString reads a nullable text column; NULL yields "".
func (r Row) OptString(col string) (string, error) {
	null, err := r.IsNull(col)
	if err != nil || null {
		return "", err
	}
	return r.String(col)
}

// Bytes reads a blob column.
func (r Row) Bytes(col string) ([]byte, error) {
	v, err := r.get(col)
	if err != nil {
		return nil, err
	}
	switch b := v.(type) {
	case []byte:
		return b, nil
	case string:
		return []byte(b), nil
	}
	return nil, amerrors.Decode("column %q: want bytes, got %T", col, v)
}

// DatabaseExecutor runs SQL against an embedded relational store.
type DatabaseExecutor interface {
	// Execute runs a statement and returns the number of affected rows.
	Execute(ctx context.Context, sql string, params ...Param) (int64, error)
	// QueryOne returns the first row, or nil when there is none.
	QueryOne(ctx context.Context, sql string, params ...Param) (*Row, error)
	QueryAll(ctx context.Context, sql string, params ...Param) ([]Row, error)
	// Transaction runs fn inside a single write transaction.
	Transaction(ctx context.Context, fn func(tx DatabaseExecutor) error) error
	Close() error
}
