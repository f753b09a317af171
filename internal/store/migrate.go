package store

import (
	"context"
	"fmt"
	"log"
)

// migration is one ordered schema step. Statements are executed one at a
// time so the same list runs on SQLite and Postgres.
type migration struct {
	version int
	name    string
	stmts   []string
}

// The DDL sticks to types both dialects accept: ids are TEXT uuids, amounts
// BIGINT minor units, dates TEXT YYYY-MM-DD, timestamps TEXT RFC3339.
var migrations = []migration{
	{1, "agencies and plans", []string{
		`CREATE TABLE IF NOT EXISTS subscription_plans (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			max_properties INTEGER NOT NULL DEFAULT -1,
			max_tenants INTEGER NOT NULL DEFAULT -1,
			max_users INTEGER NOT NULL DEFAULT -1,
			price BIGINT NOT NULL DEFAULT 0,
			duration_days INTEGER NOT NULL DEFAULT 30,
			features TEXT NOT NULL DEFAULT '[]'
		)`,
		`CREATE TABLE IF NOT EXISTS agencies (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			phone TEXT,
			address TEXT,
			status TEXT NOT NULL DEFAULT 'pending',
			subscription_plan_id TEXT REFERENCES subscription_plans(id),
			subscription_expires_at TEXT,
			current_properties_count INTEGER NOT NULL DEFAULT 0,
			current_tenants_count INTEGER NOT NULL DEFAULT 0,
			current_profiles_count INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS profiles (
			id TEXT PRIMARY KEY REFERENCES users(id),
			agency_id TEXT NOT NULL REFERENCES agencies(id),
			first_name TEXT NOT NULL,
			last_name TEXT NOT NULL,
			phone TEXT,
			role TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS administrators (
			id TEXT PRIMARY KEY,
			agency_id TEXT NOT NULL REFERENCES agencies(id),
			user_id TEXT NOT NULL REFERENCES users(id),
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS subscription_payments (
			id TEXT PRIMARY KEY,
			agency_id TEXT NOT NULL REFERENCES agencies(id),
			plan_id TEXT REFERENCES subscription_plans(id),
			amount BIGINT NOT NULL,
			gateway TEXT NOT NULL,
			token TEXT NOT NULL,
			status TEXT NOT NULL,
			paid_at TEXT NOT NULL
		)`,
	}},
	{2, "properties, units and tenants", []string{
		`CREATE TABLE IF NOT EXISTS properties (
			id TEXT PRIMARY KEY,
			agency_id TEXT NOT NULL REFERENCES agencies(id),
			name TEXT NOT NULL,
			address TEXT,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS units (
			id TEXT PRIMARY KEY,
			agency_id TEXT NOT NULL REFERENCES agencies(id),
			property_id TEXT NOT NULL REFERENCES properties(id),
			name TEXT NOT NULL,
			rent_amount BIGINT NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS tenants (
			id TEXT PRIMARY KEY,
			agency_id TEXT NOT NULL REFERENCES agencies(id),
			first_name TEXT NOT NULL,
			last_name TEXT NOT NULL,
			email TEXT,
			phone TEXT,
			created_at TEXT NOT NULL
		)`,
	}},
	{3, "leases and payments", []string{
		`CREATE TABLE IF NOT EXISTS leases (
			id TEXT PRIMARY KEY,
			agency_id TEXT NOT NULL REFERENCES agencies(id),
			tenant_id TEXT NOT NULL REFERENCES tenants(id),
			unit_id TEXT NOT NULL REFERENCES units(id),
			start_date TEXT NOT NULL,
			end_date TEXT,
			rent_amount BIGINT NOT NULL,
			deposit_amount BIGINT NOT NULL DEFAULT 0,
			agency_fees BIGINT NOT NULL DEFAULT 0,
			currency TEXT NOT NULL DEFAULT 'XOF',
			payment_frequency TEXT NOT NULL,
			duration_type TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			payment_type TEXT,
			initial_fees_paid BOOLEAN NOT NULL DEFAULT FALSE,
			initial_payments_completed BOOLEAN NOT NULL DEFAULT FALSE,
			deposit_return_date TEXT,
			deposit_return_amount BIGINT,
			deposit_return_notes TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			created_by TEXT NOT NULL,
			updated_by TEXT NOT NULL,
			source TEXT,
			correlation_id TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS leases_agency_status ON leases(agency_id, status)`,
		`CREATE TABLE IF NOT EXISTS payments (
			id TEXT PRIMARY KEY,
			agency_id TEXT NOT NULL REFERENCES agencies(id),
			lease_id TEXT REFERENCES leases(id),
			amount BIGINT NOT NULL,
			payment_date TEXT NOT NULL,
			due_date TEXT,
			status TEXT NOT NULL,
			payment_method TEXT NOT NULL,
			payment_type TEXT NOT NULL,
			payment_status_type TEXT,
			idempotency_key TEXT,
			gateway TEXT,
			gateway_reference TEXT,
			created_at TEXT NOT NULL,
			created_by TEXT NOT NULL,
			source TEXT,
			correlation_id TEXT,
			UNIQUE (agency_id, idempotency_key)
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS payments_initial_once ON payments(lease_id, payment_type)
			WHERE payment_type IN ('deposit', 'agency_fees') AND status <> 'cancelled'`,
		`CREATE TABLE IF NOT EXISTS payment_periods (
			id TEXT PRIMARY KEY,
			agency_id TEXT NOT NULL REFERENCES agencies(id),
			lease_id TEXT NOT NULL REFERENCES leases(id),
			sequence INTEGER NOT NULL,
			start_date TEXT NOT NULL,
			end_date TEXT NOT NULL,
			due_date TEXT NOT NULL,
			amount BIGINT NOT NULL,
			status TEXT NOT NULL,
			payment_id TEXT REFERENCES payments(id),
			updated_at TEXT NOT NULL,
			UNIQUE (lease_id, start_date)
		)`,
		`CREATE INDEX IF NOT EXISTS payment_periods_status ON payment_periods(agency_id, status)`,
	}},
	{4, "late fees and notifications", []string{
		`CREATE TABLE IF NOT EXISTS late_fees (
			id TEXT PRIMARY KEY,
			agency_id TEXT NOT NULL REFERENCES agencies(id),
			lease_id TEXT NOT NULL REFERENCES leases(id),
			period_id TEXT NOT NULL UNIQUE REFERENCES payment_periods(id),
			amount BIGINT NOT NULL,
			days_late INTEGER NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			created_at TEXT NOT NULL,
			resolved_at TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS payment_notifications (
			id TEXT PRIMARY KEY,
			agency_id TEXT NOT NULL REFERENCES agencies(id),
			tenant_id TEXT,
			lease_id TEXT,
			type TEXT NOT NULL,
			amount BIGINT NOT NULL DEFAULT 0,
			due_date TEXT,
			dedupe_key TEXT UNIQUE,
			is_read BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS payment_notifications_agency ON payment_notifications(agency_id, is_read)`,
	}},
	{5, "webhook events", []string{
		`CREATE TABLE IF NOT EXISTS webhook_events (
			id TEXT PRIMARY KEY,
			gateway TEXT NOT NULL,
			event_key TEXT NOT NULL,
			status TEXT NOT NULL,
			received_at TEXT NOT NULL,
			UNIQUE (gateway, event_key)
		)`,
	}},
}

// Migrate applies every migration newer than the recorded schema version.
// Each migration runs in its own transaction.
func (s *Store) Migrate(ctx context.Context) error {
	c := s.Conn()
	if _, err := c.exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TEXT NOT NULL
	)`, []any{}); err != nil {
		return fmt.Errorf("creating schema_migrations: %w", err)
	}

	applied := map[int]bool{}
	q, args := c.b().Select("version").From(c.b().Table("schema_migrations")).Query()
	err := c.query(ctx, q, args, func(sc scanner) error {
		var v int
		if err := sc.Scan(&v); err != nil {
			return err
		}
		applied[v] = true
		return nil
	})
	if err != nil {
		return fmt.Errorf("reading schema_migrations: %w", err)
	}

	for _, m := range migrations {
		if applied[m.version] {
			continue
		}
		err := s.WithTx(ctx, func(tx *Conn) error {
			for _, stmt := range m.stmts {
				if _, err := tx.exec(ctx, stmt, []any{}); err != nil {
					return err
				}
			}
			q, args := tx.b().Insert("schema_migrations").
				Columns("version", "name", "applied_at").
				Values(m.version, m.name, nowText()).
				Query()
			_, err := tx.exec(ctx, q, args)
			return err
		})
		if err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
		}
		log.Printf("store: applied migration %d (%s)", m.version, m.name)
	}
	return nil
}

// Exec runs a raw statement outside the query builders. Tests use it to
// install failure triggers.
func (s *Store) Exec(ctx context.Context, stmt string) error {
	_, err := s.Conn().exec(ctx, stmt, []any{})
	return err
}
