package activity

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	entsql "entgo.io/ent/dialect/sql"

	"github.com/matthewbaird/rentflow/internal/types"
)

// Store is the interface for reading and writing activity entries.
// Every read is scoped to one agency.
type Store interface {
	// WriteEntries writes one or more activity entries (one event → many entries).
	WriteEntries(ctx context.Context, entries []types.ActivityEntry) error

	// QueryByEntity returns activity entries for a specific entity.
	QueryByEntity(ctx context.Context, agencyID, entityType, entityID string, opts QueryOptions) (entries []types.ActivityEntry, nextCursor string, totalCount int, err error)

	// Search performs a case-insensitive substring search across activity summaries.
	Search(ctx context.Context, agencyID, query string, opts SearchOptions) (entries []types.ActivityEntry, totalCount int, err error)
}

// timeLayout matches the fixed-width timestamps of the main store.
const timeLayout = "2006-01-02T15:04:05.000000Z07:00"

var entryColumns = []string{
	"event_id", "event_type", "occurred_at", "agency_id", "indexed_entity_type", "indexed_entity_id",
	"entity_role", "source_refs", "summary", "category", "weight", "polarity", "payload",
}

// SQLStore implements Store on the service database through ent's SQL
// builders. It works on both SQLite and Postgres.
type SQLStore struct {
	drv *entsql.Driver
}

// NewSQLStore creates a new SQLStore.
func NewSQLStore(drv *entsql.Driver) *SQLStore {
	return &SQLStore{drv: drv}
}

func (s *SQLStore) b() *entsql.DialectBuilder { return entsql.Dialect(s.drv.Dialect()) }

// CreateTable creates the activity_entries table and its indexes.
// This should be run during database migration, not at startup.
func (s *SQLStore) CreateTable(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS activity_entries (
			event_id            TEXT NOT NULL,
			event_type          TEXT NOT NULL,
			occurred_at         TEXT NOT NULL,
			agency_id           TEXT NOT NULL,
			indexed_entity_type TEXT NOT NULL,
			indexed_entity_id   TEXT NOT NULL,
			entity_role         TEXT NOT NULL,
			source_refs         TEXT NOT NULL DEFAULT '[]',
			summary             TEXT NOT NULL,
			category            TEXT NOT NULL,
			weight              TEXT NOT NULL,
			polarity            TEXT NOT NULL,
			payload             TEXT,
			PRIMARY KEY (indexed_entity_type, indexed_entity_id, event_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_activity_entity_time
			ON activity_entries (agency_id, indexed_entity_type, indexed_entity_id, occurred_at)`,
		`CREATE INDEX IF NOT EXISTS idx_activity_agency_time
			ON activity_entries (agency_id, occurred_at)`,
	}
	for _, stmt := range stmts {
		if err := s.drv.Exec(ctx, stmt, []any{}, nil); err != nil {
			return fmt.Errorf("creating activity_entries: %w", err)
		}
	}
	return nil
}

// WriteEntries inserts activity entries. Entries already written for the
// same event and entity are skipped.
func (s *SQLStore) WriteEntries(ctx context.Context, entries []types.ActivityEntry) error {
	if len(entries) == 0 {
		return nil
	}
	ins := s.b().Insert("activity_entries").Columns(entryColumns...)
	for _, e := range entries {
		refsJSON, _ := json.Marshal(e.SourceRefs)
		var payload any
		if len(e.Payload) > 0 {
			payload = string(e.Payload)
		}
		ins.Values(e.EventID, e.EventType, e.OccurredAt.UTC().Format(timeLayout), e.AgencyID,
			e.IndexedEntityType, e.IndexedEntityID, e.EntityRole, string(refsJSON),
			e.Summary, e.Category, e.Weight, e.Polarity, payload)
	}
	q, args := ins.OnConflict(
		entsql.ConflictColumns("indexed_entity_type", "indexed_entity_id", "event_id"),
		entsql.DoNothing(),
	).Query()
	return s.drv.Exec(ctx, q, args, nil)
}

// QueryByEntity returns activity entries for a specific entity with filtering and pagination.
func (s *SQLStore) QueryByEntity(ctx context.Context, agencyID, entityType, entityID string, opts QueryOptions) ([]types.ActivityEntry, string, int, error) {
	opts.Limit = normalizeLimit(opts.Limit, 100, 500)

	preds := []*entsql.Predicate{
		entsql.EQ("agency_id", agencyID),
		entsql.EQ("indexed_entity_type", entityType),
		entsql.EQ("indexed_entity_id", entityID),
	}
	if opts.Since != nil {
		preds = append(preds, entsql.GTE("occurred_at", opts.Since.UTC().Format(timeLayout)))
	}
	if opts.Until != nil {
		preds = append(preds, entsql.LTE("occurred_at", opts.Until.UTC().Format(timeLayout)))
	}
	if len(opts.Categories) > 0 {
		preds = append(preds, entsql.In("category", stringArgs(opts.Categories)...))
	}
	if opts.MinWeight != "" && opts.MinWeight != "info" {
		preds = append(preds, entsql.In("weight", stringArgs(weightsAtLeast(opts.MinWeight))...))
	}
	total, err := s.count(ctx, entsql.And(preds...))
	if err != nil {
		return nil, "", 0, err
	}
	if opts.Cursor != "" {
		// Cursor is the occurred_at timestamp of the last result.
		if cursorTime, err := time.Parse(time.RFC3339Nano, opts.Cursor); err == nil {
			preds = append(preds, entsql.LT("occurred_at", cursorTime.UTC().Format(timeLayout)))
		}
	}

	entries, err := s.selectEntries(ctx, entsql.And(preds...), opts.Limit+1) // one extra for the cursor
	if err != nil {
		return nil, "", 0, fmt.Errorf("querying activity entries: %w", err)
	}
	var nextCursor string
	if len(entries) > opts.Limit {
		entries = entries[:opts.Limit]
		nextCursor = entries[len(entries)-1].OccurredAt.Format(time.RFC3339Nano)
	}
	return entries, nextCursor, total, nil
}

// Search performs a case-insensitive substring search across activity summaries.
func (s *SQLStore) Search(ctx context.Context, agencyID, query string, opts SearchOptions) ([]types.ActivityEntry, int, error) {
	opts.Limit = normalizeLimit(opts.Limit, 20, 0)

	preds := []*entsql.Predicate{
		entsql.EQ("agency_id", agencyID),
		entsql.P(func(b *entsql.Builder) {
			b.WriteString("LOWER(").Ident("summary").WriteString(") LIKE ").
				Arg("%" + strings.ToLower(query) + "%")
		}),
	}
	if opts.EntityType != "" {
		preds = append(preds, entsql.EQ("indexed_entity_type", opts.EntityType))
	}
	if opts.Since != nil {
		preds = append(preds, entsql.GTE("occurred_at", opts.Since.UTC().Format(timeLayout)))
	}
	if len(opts.Categories) > 0 {
		preds = append(preds, entsql.In("category", stringArgs(opts.Categories)...))
	}
	total, err := s.count(ctx, entsql.And(preds...))
	if err != nil {
		return nil, 0, err
	}
	entries, err := s.selectEntries(ctx, entsql.And(preds...), opts.Limit)
	if err != nil {
		return nil, 0, fmt.Errorf("searching activity entries: %w", err)
	}
	return entries, total, nil
}

func (s *SQLStore) count(ctx context.Context, where *entsql.Predicate) (int, error) {
	q, args := s.b().Select(entsql.Count("*")).From(s.b().Table("activity_entries")).Where(where).Query()
	var rows entsql.Rows
	if err := s.drv.Query(ctx, q, args, &rows); err != nil {
		return 0, fmt.Errorf("counting activity entries: %w", err)
	}
	defer rows.Close()
	var n int
	if rows.Next() {
		if err := rows.Scan(&n); err != nil {
			return 0, err
		}
	}
	return n, rows.Err()
}

func (s *SQLStore) selectEntries(ctx context.Context, where *entsql.Predicate, limit int) ([]types.ActivityEntry, error) {
	q, args := s.b().Select(entryColumns...).From(s.b().Table("activity_entries")).
		Where(where).
		OrderExpr(entsql.ExprFunc(func(b *entsql.Builder) {
			b.Ident("occurred_at").WriteString(" DESC")
		})).
		Limit(limit).Query()
	var rows entsql.Rows
	if err := s.drv.Query(ctx, q, args, &rows); err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []types.ActivityEntry
	for rows.Next() {
		var (
			e                  types.ActivityEntry
			occurred, refsJSON string
			payload            sql.NullString
		)
		err := rows.Scan(
			&e.EventID, &e.EventType, &occurred, &e.AgencyID, &e.IndexedEntityType, &e.IndexedEntityID,
			&e.EntityRole, &refsJSON, &e.Summary, &e.Category, &e.Weight, &e.Polarity, &payload,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning activity entry: %w", err)
		}
		e.OccurredAt, _ = time.Parse(time.RFC3339Nano, occurred)
		if refsJSON != "" {
			_ = json.Unmarshal([]byte(refsJSON), &e.SourceRefs)
		}
		if payload.Valid {
			e.Payload = json.RawMessage(payload.String)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func stringArgs(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}
