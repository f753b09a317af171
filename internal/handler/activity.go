// Activity handlers read the per-entity history written by the event
// recorder. They never touch the rent tables.
package handler

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/matthewbaird/rentflow/internal/activity"
	"github.com/matthewbaird/rentflow/internal/signals"
	"github.com/matthewbaird/rentflow/internal/types"
)

// ActivityHandler implements HTTP handlers for the activity feed.
type ActivityHandler struct {
	store activity.Store
}

// NewActivityHandler creates a new ActivityHandler.
func NewActivityHandler(store activity.Store) *ActivityHandler {
	return &ActivityHandler{store: store}
}

func entityParams(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	entityType := chi.URLParam(r, "entity_type")
	entityID := chi.URLParam(r, "entity_id")
	if entityType == "" || entityID == "" {
		writeError(w, http.StatusBadRequest, "MISSING_PARAMS", "entity_type and entity_id are required")
		return "", "", false
	}
	return entityType, entityID, true
}

// HandleGetEntityActivity returns a chronological activity feed for a lease,
// tenant, payment or agency.
// GET /v1/activity/entity/{entity_type}/{entity_id}
func (h *ActivityHandler) HandleGetEntityActivity(w http.ResponseWriter, r *http.Request) {
	tc, ok := tenantFrom(w, r)
	if !ok {
		return
	}
	entityType, entityID, ok := entityParams(w, r)
	if !ok {
		return
	}

	opts := activity.DefaultQueryOptions()
	if s := r.URL.Query().Get("since"); s != "" {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			opts.Since = &t
		}
	}
	if u := r.URL.Query().Get("until"); u != "" {
		if t, err := time.Parse(time.RFC3339, u); err == nil {
			opts.Until = &t
		}
	}
	if cats := r.URL.Query().Get("categories"); cats != "" {
		opts.Categories = strings.Split(cats, ",")
	}
	if mw := r.URL.Query().Get("min_weight"); mw != "" {
		opts.MinWeight = mw
	}
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			opts.Limit = min(n, 500)
		}
	}
	opts.Cursor = r.URL.Query().Get("cursor")

	entries, nextCursor, totalCount, err := h.store.QueryByEntity(r.Context(), tc.AgencyID.String(), entityType, entityID, opts)
	if err != nil {
		serviceErrorToHTTP(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Activities []types.ActivityEntry `json:"activities"`
		NextCursor string                `json:"next_cursor,omitempty"`
		TotalCount int                   `json:"total_count"`
	}{
		Activities: nonNil(entries),
		NextCursor: nextCursor,
		TotalCount: totalCount,
	})
}

// HandleGetSignalSummary aggregates an entity's activity into categories,
// trends and escalations such as repeated late rent.
// GET /v1/activity/summary/{entity_type}/{entity_id}
func (h *ActivityHandler) HandleGetSignalSummary(w http.ResponseWriter, r *http.Request) {
	tc, ok := tenantFrom(w, r)
	if !ok {
		return
	}
	entityType, entityID, ok := entityParams(w, r)
	if !ok {
		return
	}

	// Default: 12 months lookback.
	until := time.Now()
	since := until.AddDate(-1, 0, 0)
	if s := r.URL.Query().Get("since"); s != "" {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			since = t
		}
	}

	opts := activity.QueryOptions{
		Since:     &since,
		Until:     &until,
		MinWeight: "info",
		Limit:     500,
	}
	entries, _, _, err := h.store.QueryByEntity(r.Context(), tc.AgencyID.String(), entityType, entityID, opts)
	if err != nil {
		serviceErrorToHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, signals.Aggregate(entries, entityType, entityID, since, until))
}

// HandleSearchActivity searches activity summaries.
// GET /v1/activity/search?q=
func (h *ActivityHandler) HandleSearchActivity(w http.ResponseWriter, r *http.Request) {
	tc, ok := tenantFrom(w, r)
	if !ok {
		return
	}
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeError(w, http.StatusBadRequest, "MISSING_PARAMS", "q is required")
		return
	}

	opts := activity.DefaultSearchOptions()
	opts.EntityType = r.URL.Query().Get("entity_type")
	if cats := r.URL.Query().Get("categories"); cats != "" {
		opts.Categories = strings.Split(cats, ",")
	}
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			opts.Limit = n
		}
	}
	if s := r.URL.Query().Get("since"); s != "" {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			opts.Since = &t
		}
	}

	entries, totalCount, err := h.store.Search(r.Context(), tc.AgencyID.String(), q, opts)
	if err != nil {
		serviceErrorToHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Results    []types.ActivityEntry `json:"results"`
		TotalCount int                   `json:"total_count"`
	}{
		Results:    nonNil(entries),
		TotalCount: totalCount,
	})
}
