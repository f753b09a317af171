// Package auth turns bearer tokens into the tenant context every service
// operation runs under.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/matthewbaird/rentflow/internal/domain"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
)

// Claims are the rentflow-specific JWT claims.
type Claims struct {
	AgencyID uuid.UUID   `json:"agency_id"`
	UserID   uuid.UUID   `json:"user_id"`
	Role     domain.Role `json:"role"`
	jwt.RegisteredClaims
}

// TenantContext returns the tenancy boundary the claims grant.
func (c *Claims) TenantContext() domain.TenantContext {
	return domain.TenantContext{AgencyID: c.AgencyID, UserID: c.UserID, Role: c.Role}
}

type JWTService struct {
	secretKey []byte
	issuer    string
	ttl       time.Duration
}

func NewJWTService(secretKey, issuer string, ttl time.Duration) *JWTService {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &JWTService{
		secretKey: []byte(secretKey),
		issuer:    issuer,
		ttl:       ttl,
	}
}

// GenerateToken signs an HS256 token for a member of an agency.
func (s *JWTService) GenerateToken(tc domain.TenantContext) (string, error) {
	now := time.Now()
	claims := Claims{
		AgencyID: tc.AgencyID,
		UserID:   tc.UserID,
		Role:     tc.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   tc.UserID.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    s.issuer,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secretKey)
}

// ValidateToken checks the signature, expiry and issuer of a token.
func (s *JWTService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secretKey, nil
	}, jwt.WithIssuer(s.issuer), jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.AgencyID == uuid.Nil || claims.UserID == uuid.Nil {
		return nil, fmt.Errorf("%w: agency_id and user_id are required", ErrInvalidToken)
	}
	return claims, nil
}
