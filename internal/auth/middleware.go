package auth

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/matthewbaird/rentflow/internal/domain"
)

type ctxKey struct{}

// WithTenant stores tc in ctx.
func WithTenant(ctx context.Context, tc domain.TenantContext) context.Context {
	return context.WithValue(ctx, ctxKey{}, tc)
}

// TenantFrom returns the tenant context set by Middleware.
func TenantFrom(ctx context.Context) (domain.TenantContext, bool) {
	tc, ok := ctx.Value(ctxKey{}).(domain.TenantContext)
	return tc, ok
}

// AgencyStatusFunc reports the current status of an agency.
type AgencyStatusFunc func(ctx context.Context, agencyID uuid.UUID) (domain.AgencyStatus, error)

// ErrUnknownAgency is returned by an AgencyStatusFunc for agencies that do
// not exist.
var ErrUnknownAgency = errors.New("unknown agency")

// Middleware requires a valid bearer token and puts its tenant context on
// the request. Tokens of blocked agencies are refused with 403.
func Middleware(jwtSvc *JWTService, status AgencyStatusFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearer(r)
			if raw == "" {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing bearer token")
				return
			}
			claims, err := jwtSvc.ValidateToken(raw)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid or expired token")
				return
			}
			st, err := status(r.Context(), claims.AgencyID)
			switch {
			case errors.Is(err, ErrUnknownAgency):
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unknown agency")
				return
			case err != nil:
				log.Printf("auth: loading agency %s: %v", claims.AgencyID, err)
				writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
				return
			case st == domain.AgencyBlocked:
				writeError(w, http.StatusForbidden, domain.CodeAgencyBlocked, "agency is blocked")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithTenant(r.Context(), claims.TenantContext())))
		})
	}
}

// bearer extracts the token from the Authorization header. Browsers cannot
// set headers on websocket upgrades, so a token query parameter is accepted
// there.
func bearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(h, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		return r.URL.Query().Get("token")
	}
	return ""
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": message, "code": code}); err != nil {
		log.Printf("auth: encoding error response: %v", err)
	}
}
