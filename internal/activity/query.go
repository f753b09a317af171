// Package activity provides the activity store interface and implementations
// for the per-entity history of leases, payments and agencies.
package activity

import "time"

// QueryOptions controls filtering and pagination for entity activity queries.
type QueryOptions struct {
	Since      *time.Time // default: 6 months ago
	Until      *time.Time // default: now
	Categories []string   // filter to specific event categories
	MinWeight  string     // minimum weight threshold (default: "info")
	Limit      int        // max results (default: 100, max: 500)
	Cursor     string     // cursor for pagination
}

// SearchOptions controls filtering for full-text activity search.
type SearchOptions struct {
	EntityType string     // filter to specific entity type
	Since      *time.Time // filter by time
	Categories []string   // filter to specific event categories
	Limit      int        // max results (default: 20)
}

// DefaultQueryOptions returns QueryOptions with sensible defaults.
func DefaultQueryOptions() QueryOptions {
	sixMonthsAgo := time.Now().AddDate(0, -6, 0)
	now := time.Now()
	return QueryOptions{
		Since:     &sixMonthsAgo,
		Until:     &now,
		MinWeight: "info",
		Limit:     100,
	}
}

// DefaultSearchOptions returns SearchOptions with sensible defaults.
func DefaultSearchOptions() SearchOptions {
	return SearchOptions{
		Limit: 20,
	}
}

// WeightOrder ranks event weights; lower is more severe.
var WeightOrder = map[string]int{
	"critical": 0,
	"major":    1,
	"minor":    2,
	"info":     3,
}

// WeightSeverity returns the rank of w. Unknown weights rank as info.
func WeightSeverity(w string) int {
	if s, ok := WeightOrder[w]; ok {
		return s
	}
	return WeightOrder["info"]
}

// IsAtLeastWeight reports whether w is at least as severe as min.
func IsAtLeastWeight(w, min string) bool {
	return WeightSeverity(w) <= WeightSeverity(min)
}

// weightsAtLeast lists every weight at least as severe as min.
func weightsAtLeast(min string) []string {
	var out []string
	for w := range WeightOrder {
		if IsAtLeastWeight(w, min) {
			out = append(out, w)
		}
	}
	return out
}

func normalizeLimit(limit, def, max int) int {
	if limit <= 0 || (max > 0 && limit > max) {
		return def
	}
	return limit
}
