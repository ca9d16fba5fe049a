// Package store holds every SQL statement issued by the engine. Functions take
// a Querier so the same statement can run on the pool or inside a transaction.
package store

import (
	"context"
	"database/sql"
)

// Querier is satisfied by *sql.DB, *sql.Conn and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var (
	_ Querier = (*sql.DB)(nil)
	_ Querier = (*sql.Tx)(nil)
)

type rowScanner interface {
	Scan(dest ...any) error
}

func rowsAffected(res sql.Result) (int64, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, nil
}

func jsonParam(raw []byte) string {
	if len(raw) == 0 {
		return "{}"
	}
	return string(raw)
}
