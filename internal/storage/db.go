package storage

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
)

// DB wraps *sql.DB so feature packages can write queries with `?`
// placeholders regardless of driver. lib/pq wants $1..$n, so queries
// are rebound when the postgres driver is active.
type DB struct {
	SQL    *sql.DB
	driver string
}

func Wrap(db *sql.DB, driver string) *DB {
	return &DB{SQL: db, driver: driver}
}

// IsUniqueViolation reports whether err is a unique-constraint failure.
// Both drivers phrase it as "... unique constraint ...", so the message is
// the common denominator; neither exports a stable error value for it.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint")
}

func (d *DB) rebind(query string) string {
	if d.driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (d *DB) Exec(query string, args ...any) (sql.Result, error) {
	return d.SQL.Exec(d.rebind(query), args...)
}

func (d *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return d.SQL.ExecContext(ctx, d.rebind(query), args...)
}

func (d *DB) Query(query string, args ...any) (*sql.Rows, error) {
	return d.SQL.Query(d.rebind(query), args...)
}

func (d *DB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return d.SQL.QueryContext(ctx, d.rebind(query), args...)
}

func (d *DB) QueryRow(query string, args ...any) *sql.Row {
	return d.SQL.QueryRow(d.rebind(query), args...)
}

func (d *DB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return d.SQL.QueryRowContext(ctx, d.rebind(query), args...)
}

func (d *DB) Begin() (*Tx, error) {
	tx, err := d.SQL.Begin()
	if err != nil {
		return nil, err
	}
	return &Tx{tx: tx, db: d}, nil
}

type Tx struct {
	tx *sql.Tx
	db *DB
}

func (t *Tx) Exec(query string, args ...any) (sql.Result, error) {
	return t.tx.Exec(t.db.rebind(query), args...)
}

func (t *Tx) QueryRow(query string, args ...any) *sql.Row {
	return t.tx.QueryRow(t.db.rebind(query), args...)
}

func (t *Tx) Commit() error   { return t.tx.Commit() }
func (t *Tx) Rollback() error { return t.tx.Rollback() }
