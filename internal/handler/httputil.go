package handler

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/matthewbaird/rentflow/internal/auth"
	"github.com/matthewbaird/rentflow/internal/domain"
	"github.com/matthewbaird/rentflow/internal/store"
	"github.com/matthewbaird/rentflow/internal/types"
)

// writeJSON marshals v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("writeJSON encode error: %v", err)
	}
}

// writeError writes a structured JSON error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
		"code":  code,
	})
}

// decodeJSON decodes the request body into v.
func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// decodeBody decodes the request body and answers 400 when it is not JSON.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := decodeJSON(r, v); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

// parseUUID extracts and validates a UUID path parameter.
func parseUUID(w http.ResponseWriter, r *http.Request, paramName string) (uuid.UUID, bool) {
	raw := chi.URLParam(r, paramName)
	id, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "invalid UUID: "+raw)
		return uuid.Nil, false
	}
	return id, true
}

// queryUUID parses an optional UUID query parameter.
func queryUUID(w http.ResponseWriter, r *http.Request, name string) (*uuid.UUID, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, true
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "invalid "+name+": "+raw)
		return nil, false
	}
	return &id, true
}

// queryDate parses an optional YYYY-MM-DD query parameter.
func queryDate(w http.ResponseWriter, r *http.Request, name string) (types.Date, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return types.Date{}, true
	}
	d, err := types.ParseDate(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_DATE", "invalid "+name+": "+raw)
		return types.Date{}, false
	}
	return d, true
}

// Pagination holds parsed pagination parameters.
type Pagination struct {
	Limit  int
	Offset int
}

// parsePagination extracts page_size and offset from query params.
func parsePagination(r *http.Request) Pagination {
	p := Pagination{Limit: 20, Offset: 0}
	if v := r.URL.Query().Get("page_size"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			p.Limit = n
		}
	}
	if p.Limit > 100 {
		p.Limit = 100
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			p.Offset = n
		}
	}
	return p
}

// ruleStatus is the HTTP status of a rule violation. Input problems are
// 400, state conflicts 409.
func ruleStatus(code string) int {
	switch code {
	case domain.CodeValidation, domain.CodeAmountTooLow, domain.CodeDepositExceeded, domain.CodePeriodMismatch:
		return http.StatusBadRequest
	case domain.CodeAgencyBlocked:
		return http.StatusForbidden
	}
	return http.StatusConflict
}

// serviceErrorToHTTP maps service errors to HTTP responses. Unexpected
// errors are logged and answered with a generic message.
func serviceErrorToHTTP(w http.ResponseWriter, r *http.Request, err error) {
	if re, ok := domain.AsRule(err); ok {
		writeError(w, ruleStatus(re.Code), re.Code, re.Message)
		return
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", "not found")
		return
	case errors.Is(err, store.ErrConflict):
		writeError(w, http.StatusConflict, "CONFLICT", "the resource was changed concurrently, retry")
		return
	}
	log.Printf("internal error: %s %s [%s]: %v", r.Method, r.URL.Path, middleware.GetReqID(r.Context()), err)
	writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
}

// tenantFrom returns the caller's tenant context. Routes are mounted behind
// auth.Middleware, so a missing context is a wiring bug.
func tenantFrom(w http.ResponseWriter, r *http.Request) (domain.TenantContext, bool) {
	tc, ok := auth.TenantFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing tenant context")
		return domain.TenantContext{}, false
	}
	return tc, true
}

// parseAuditContext builds audit metadata from the caller and the optional
// X-Actor, X-Source and X-Correlation-ID headers. The request id stands in
// for a missing correlation id.
func parseAuditContext(r *http.Request, tc domain.TenantContext) domain.Audit {
	a := domain.Audit{
		Actor:         r.Header.Get("X-Actor"),
		Source:        r.Header.Get("X-Source"),
		CorrelationID: r.Header.Get("X-Correlation-ID"),
	}
	if a.Actor == "" {
		a.Actor = tc.UserID.String()
	}
	if a.Source == "" {
		a.Source = "user"
	}
	if a.CorrelationID == "" {
		a.CorrelationID = middleware.GetReqID(r.Context())
	}
	return a
}
