// Package middleware provides request authentication for the bridge API.
package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/jamfbridge/jamfbridge/common/httputil"
)

type contextKey string

// CallerKey holds the authenticated caller identity in the request context.
const CallerKey contextKey = "caller"

// TokenValidator checks a presented API key against the stored secret.
// *vault.Client satisfies it.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (bool, error)
	APISecret(ctx context.Context) (string, error)
}

// AuthMiddleware authenticates CRM callers. Two credential forms are
// accepted: the shared secret itself in X-API-Key, or a Bearer JWT signed
// with that secret (HS256) carrying the tenant id in the subject claim.
type AuthMiddleware struct {
	validator TokenValidator
	logger    *slog.Logger
}

func NewAuthMiddleware(validator TokenValidator, logger *slog.Logger) *AuthMiddleware {
	return &AuthMiddleware{validator: validator, logger: logger}
}

// RequireAuth rejects requests without a valid credential. When the
// secrets provider is unreachable the request is rejected with 503 rather
// than letting anything through unauthenticated.
func (m *AuthMiddleware) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if apiKey := r.Header.Get("X-API-Key"); apiKey != "" {
			m.authenticateAPIKey(w, r, next, apiKey)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			httputil.WriteError(w, http.StatusUnauthorized, "missing credentials")
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			httputil.WriteError(w, http.StatusUnauthorized, "invalid authorization header")
			return
		}

		m.authenticateJWT(w, r, next, parts[1])
	}
}

func (m *AuthMiddleware) authenticateAPIKey(w http.ResponseWriter, r *http.Request, next http.HandlerFunc, apiKey string) {
	valid, err := m.validator.ValidateToken(r.Context(), apiKey)
	if err != nil {
		m.logger.Error("credential check unavailable", "error", err)
		httputil.WriteError(w, http.StatusServiceUnavailable, "authentication temporarily unavailable")
		return
	}
	if !valid {
		httputil.WriteError(w, http.StatusUnauthorized, "invalid API key")
		return
	}

	ctx := context.WithValue(r.Context(), CallerKey, "api-key")
	next.ServeHTTP(w, r.WithContext(ctx))
}

func (m *AuthMiddleware) authenticateJWT(w http.ResponseWriter, r *http.Request, next http.HandlerFunc, tokenString string) {
	secret, err := m.validator.APISecret(r.Context())
	if err != nil {
		m.logger.Error("credential check unavailable", "error", err)
		httputil.WriteError(w, http.StatusServiceUnavailable, "authentication temporarily unavailable")
		return
	}

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		if err != nil && !errors.Is(err, jwt.ErrTokenSignatureInvalid) {
			m.logger.Debug("token rejected", "error", err)
		}
		httputil.WriteError(w, http.StatusUnauthorized, "invalid or expired token")
		return
	}

	caller := claims.Subject
	if caller == "" {
		caller = "service-token"
	}
	ctx := context.WithValue(r.Context(), CallerKey, caller)
	next.ServeHTTP(w, r.WithContext(ctx))
}

// GetCaller extracts the authenticated caller identity from the context.
func GetCaller(ctx context.Context) string {
	if caller, ok := ctx.Value(CallerKey).(string); ok {
		return caller
	}
	return ""
}
