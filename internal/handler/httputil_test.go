package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matthewbaird/rentflow/internal/domain"
	"github.com/matthewbaird/rentflow/internal/store"
)

func TestServiceErrorToHTTP(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", domain.Invalid("amount is required"), http.StatusBadRequest, domain.CodeValidation},
		{"amount too low", domain.Rule(domain.CodeAmountTooLow, "short"), http.StatusBadRequest, domain.CodeAmountTooLow},
		{"blocked", domain.Rule(domain.CodeAgencyBlocked, "blocked"), http.StatusForbidden, domain.CodeAgencyBlocked},
		{"state conflict", domain.Rule(domain.CodePeriodNotPayable, "paid"), http.StatusConflict, domain.CodePeriodNotPayable},
		{"wrapped rule", fmt.Errorf("recording: %w", domain.Rule(domain.CodeNothingDue, "none")), http.StatusConflict, domain.CodeNothingDue},
		{"not found", fmt.Errorf("loading lease: %w", store.ErrNotFound), http.StatusNotFound, "NOT_FOUND"},
		{"conflict", store.ErrConflict, http.StatusConflict, "CONFLICT"},
		{"internal", errors.New("disk on fire"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			serviceErrorToHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/leases", nil), tt.err)
			assert.Equal(t, tt.status, rec.Code)
			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.code, body["code"])
			assert.NotContains(t, body["error"], "disk on fire")
		})
	}
}

func TestParseAuditContext(t *testing.T) {
	tc := domain.TenantContext{AgencyID: uuid.New(), UserID: uuid.New(), Role: domain.RoleAdmin}

	var got domain.Audit
	h := middleware.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = parseAuditContext(r, tc)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, tc.UserID.String(), got.Actor)
	assert.Equal(t, "user", got.Source)
	assert.NotEmpty(t, got.CorrelationID)

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("X-Actor", "cron")
	req.Header.Set("X-Source", "system")
	req.Header.Set("X-Correlation-ID", "corr-1")
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, domain.Audit{Actor: "cron", Source: "system", CorrelationID: "corr-1"}, got)
}

func TestParsePagination(t *testing.T) {
	p := parsePagination(httptest.NewRequest(http.MethodGet, "/?page_size=500&offset=40", nil))
	assert.Equal(t, Pagination{Limit: 100, Offset: 40}, p)
	p = parsePagination(httptest.NewRequest(http.MethodGet, "/?page_size=-1&offset=x", nil))
	assert.Equal(t, Pagination{Limit: 20, Offset: 0}, p)
}
