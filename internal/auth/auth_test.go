package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matthewbaird/rentflow/internal/domain"
)

func TestJWT_RoundTrip(t *testing.T) {
	svc := NewJWTService("secret", "rentflow", time.Hour)
	tc := domain.TenantContext{AgencyID: uuid.New(), UserID: uuid.New(), Role: domain.RoleAgent}

	token, err := svc.GenerateToken(tc)
	require.NoError(t, err)
	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, tc, claims.TenantContext())

	_, err = NewJWTService("other", "rentflow", time.Hour).ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = NewJWTService("secret", "someone-else", time.Hour).ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWT_Expired(t *testing.T) {
	svc := NewJWTService("secret", "rentflow", time.Hour)
	claims := Claims{
		AgencyID: uuid.New(),
		UserID:   uuid.New(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "rentflow",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = svc.ValidateToken(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestJWT_RejectsOtherAlgorithms(t *testing.T) {
	svc := NewJWTService("secret", "rentflow", time.Hour)
	claims := Claims{AgencyID: uuid.New(), UserID: uuid.New(), RegisteredClaims: jwt.RegisteredClaims{Issuer: "rentflow"}}
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = svc.ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestMiddleware(t *testing.T) {
	svc := NewJWTService("secret", "rentflow", time.Hour)
	active, blocked, missing := uuid.New(), uuid.New(), uuid.New()
	status := func(_ context.Context, id uuid.UUID) (domain.AgencyStatus, error) {
		switch id {
		case active:
			return domain.AgencyActive, nil
		case blocked:
			return domain.AgencyBlocked, nil
		case missing:
			return "", ErrUnknownAgency
		}
		return "", errors.New("db down")
	}
	var seen domain.TenantContext
	h := Middleware(svc, status)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = TenantFrom(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	call := func(agencyID uuid.UUID, header string) int {
		req := httptest.NewRequest(http.MethodGet, "/v1/leases", nil)
		if header == "" && agencyID != uuid.Nil {
			token, err := svc.GenerateToken(domain.TenantContext{AgencyID: agencyID, UserID: uuid.New(), Role: domain.RoleAdmin})
			require.NoError(t, err)
			header = "Bearer " + token
		}
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusUnauthorized, call(uuid.Nil, ""))
	assert.Equal(t, http.StatusUnauthorized, call(uuid.Nil, "Bearer garbage"))
	assert.Equal(t, http.StatusUnauthorized, call(missing, ""))
	assert.Equal(t, http.StatusForbidden, call(blocked, ""))
	assert.Equal(t, http.StatusInternalServerError, call(uuid.New(), ""))
	assert.Equal(t, http.StatusNoContent, call(active, ""))
	assert.Equal(t, active, seen.AgencyID)
	assert.Equal(t, domain.RoleAdmin, seen.Role)
}
