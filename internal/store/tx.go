package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Tx is one store transaction. Obtain it through Update or View; it is
// only valid inside the callback.
type Tx struct {
	tx *sql.Tx
}

// Update runs fn inside an exclusive (BEGIN IMMEDIATE) transaction.
//
// At most one Update executes at a time across every process sharing the
// file. If fn returns an error the transaction is rolled back entirely and
// no partial write is observable. Lock-wait timeouts surface as ir.CodeBusy.
func (s *Store) Update(ctx context.Context, fn func(*Tx) error) error {
	return runTx(ctx, s.db, "update", fn)
}

// View runs fn inside a read-only snapshot transaction on the reader pool.
// Views proceed concurrently with each other and with a writer.
func (s *Store) View(ctx context.Context, fn func(*Tx) error) error {
	return runTx(ctx, s.rdb, "view", fn)
}

func runTx(ctx context.Context, db *sql.DB, op string, fn func(*Tx) error) error {
	sqlTx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return classify(op+": begin", err)
	}
	defer sqlTx.Rollback() // No-op if committed

	if err := fn(&Tx{tx: sqlTx}); err != nil {
		return classify(op, err)
	}

	if err := sqlTx.Commit(); err != nil {
		return classify(op+": commit", err)
	}
	return nil
}

// expectOne checks that an UPDATE touched exactly one row.
func expectOne(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: rows affected: %w", what, err)
	}
	if n != 1 {
		return fmt.Errorf("%s: expected 1 row, updated %d", what, n)
	}
	return nil
}

// Timestamps are stored as INTEGER unix milliseconds.

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil || t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func fromNullMillis(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromMillis(n.Int64)
	return &t
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}
