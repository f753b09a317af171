// Package store persists the rent core on SQLite or Postgres through ent's
// dialect/sql driver and query builders. Every multi-row business operation
// runs through WithTx so that it commits or rolls back as a whole.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/matthewbaird/rentflow/internal/types"
)

var (
	// ErrNotFound is returned when a row does not exist within the caller's agency.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a guarded update lost a race or a unique
	// row already exists.
	ErrConflict = errors.New("conflict")
)

// Store owns the database driver.
type Store struct {
	drv     *entsql.Driver
	dialect string
}

// Open connects to dsn. postgres:// and postgresql:// DSNs use pgx; anything
// else is treated as a SQLite DSN.
func Open(ctx context.Context, dsn string) (*Store, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		db, err := sql.Open("pgx", dsn)
		if err != nil {
			return nil, fmt.Errorf("opening postgres: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("pinging postgres: %w", err)
		}
		return New(entsql.OpenDB(dialect.Postgres, db)), nil
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	// One connection serialises writers and keeps in-memory databases alive.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}
	return New(entsql.OpenDB(dialect.SQLite, db)), nil
}

// New wraps an existing ent SQL driver.
func New(drv *entsql.Driver) *Store {
	return &Store{drv: drv, dialect: drv.Dialect()}
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.drv.Close() }

// DB exposes the underlying database handle.
func (s *Store) DB() *sql.DB { return s.drv.DB() }

// Driver exposes the ent driver for packages that keep their own tables.
func (s *Store) Driver() *entsql.Driver { return s.drv }

// Dialect returns the ent dialect name in use.
func (s *Store) Dialect() string { return s.dialect }

// Conn returns a non-transactional connection for reads and single-row writes.
func (s *Store) Conn() *Conn {
	return &Conn{eq: s.drv, dialect: s.dialect}
}

// WithTx runs fn inside a transaction. The transaction commits when fn
// returns nil and rolls back otherwise, including on panic.
func (s *Store) WithTx(ctx context.Context, fn func(c *Conn) error) (err error) {
	tx, err := s.drv.Tx(ctx)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer func() {
		if v := recover(); v != nil {
			tx.Rollback()
			panic(v)
		}
	}()
	if err := fn(&Conn{eq: tx, dialect: s.dialect}); err != nil {
		if rerr := tx.Rollback(); rerr != nil {
			return fmt.Errorf("%w (rollback: %v)", err, rerr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Conn runs queries either on the driver or inside a transaction.
type Conn struct {
	eq      dialect.ExecQuerier
	dialect string
}

func (c *Conn) b() *entsql.DialectBuilder { return entsql.Dialect(c.dialect) }

func (c *Conn) exec(ctx context.Context, query string, args []any) (sql.Result, error) {
	var res sql.Result
	if err := c.eq.Exec(ctx, query, args, &res); err != nil {
		return nil, err
	}
	return res, nil
}

// execOne runs a guarded update and reports ErrConflict unless exactly one
// row changed.
func (c *Conn) execOne(ctx context.Context, query string, args []any) error {
	res, err := c.exec(ctx, query, args)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return ErrConflict
	}
	return nil
}

func (c *Conn) query(ctx context.Context, query string, args []any, each func(s scanner) error) error {
	var rows entsql.Rows
	if err := c.eq.Query(ctx, query, args, &rows); err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		if err := each(&rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

// queryOne scans the first row or returns ErrNotFound.
func (c *Conn) queryOne(ctx context.Context, query string, args []any, scan func(s scanner) error) error {
	found := false
	err := c.query(ctx, query, args, func(s scanner) error {
		if found {
			return nil
		}
		found = true
		return scan(s)
	})
	if err != nil {
		return err
	}
	if !found {
		return ErrNotFound
	}
	return nil
}

func (c *Conn) count(ctx context.Context, table string, where *entsql.Predicate) (int, error) {
	q, args := c.b().Select(entsql.Count("*")).From(c.b().Table(table)).Where(where).Query()
	var n int
	err := c.queryOne(ctx, q, args, func(s scanner) error { return s.Scan(&n) })
	return n, err
}

// descending orders by col, newest or largest first.
func descending(col string) entsql.Querier {
	return entsql.ExprFunc(func(b *entsql.Builder) {
		b.Ident(col).WriteString(" DESC")
	})
}

type scanner interface {
	Scan(dest ...any) error
}

// ── value conversion ────────────────────────────────────────────────────────

// TimeLayout stores timestamps at fixed width so text order is time order.
const TimeLayout = "2006-01-02T15:04:05.000000Z07:00"

func nowText() string { return time.Now().UTC().Format(TimeLayout) }

func timeText(t time.Time) string { return t.UTC().Format(TimeLayout) }

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func parseNullTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}

func parseDate(s string) types.Date {
	d, _ := types.ParseDate(s)
	return d
}

func parseNullDate(ns sql.NullString) *types.Date {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	d := parseDate(ns.String)
	return &d
}

func dateArg(d *types.Date) any {
	if d == nil || d.IsZero() {
		return nil
	}
	return d.String()
}

func uuidArg(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return id.String()
}

func parseNullUUID(ns sql.NullString) *uuid.UUID {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	id, err := uuid.Parse(ns.String)
	if err != nil {
		return nil
	}
	return &id
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func ids(in []uuid.UUID) []any {
	out := make([]any, len(in))
	for i, id := range in {
		out[i] = id.String()
	}
	return out
}
