// Package auth verifies bearer tokens on the ops surface and exposes the
// authenticated principal to handlers through the request context. Token
// issuance lives outside this service.
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Principal is the authenticated caller extracted from a verified token.
type Principal struct {
	ActorID   string
	TenantID  string
	SessionID string

	// CanReveal reports whether the token carries the claim that permits
	// plaintext disclosure of protected fields.
	CanReveal bool

	// Admin gates key rotation, migration and alert lifecycle endpoints.
	Admin bool
}

type contextKeyPrincipal struct{}

// FromContext retrieves the authenticated principal. The zero Principal
// means the request did not pass through RequireAuth.
func FromContext(ctx context.Context) Principal {
	p, _ := ctx.Value(contextKeyPrincipal{}).(Principal)
	return p
}

type claims struct {
	jwt.RegisteredClaims
	TenantID  string   `json:"tenant_id,omitempty"`
	SessionID string   `json:"session_id,omitempty"`
	Scopes    []string `json:"scopes,omitempty"`
}

// Verifier validates HMAC-signed tokens with a shared key.
type Verifier struct {
	key []byte
}

// NewVerifier builds a verifier over the shared signing key.
func NewVerifier(key string) *Verifier {
	return &Verifier{key: []byte(key)}
}

// Verify parses and validates a token string into a Principal.
func (v *Verifier) Verify(tokenString string) (Principal, error) {
	var c claims
	token, err := jwt.ParseWithClaims(tokenString, &c, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.key, nil
	})
	if err != nil {
		return Principal{}, fmt.Errorf("parse token: %w", err)
	}
	if !token.Valid || c.Subject == "" {
		return Principal{}, fmt.Errorf("token missing subject")
	}

	p := Principal{
		ActorID:   c.Subject,
		TenantID:  c.TenantID,
		SessionID: c.SessionID,
	}
	for _, scope := range c.Scopes {
		switch scope {
		case "pii:reveal":
			p.CanReveal = true
		case "admin":
			p.Admin = true
		}
	}
	return p, nil
}

func writeJSONError(w http.ResponseWriter, status int, code, desc string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(fmt.Appendf(nil, `{"error":"%s","error_description":"%s"}`, code, desc))
}

// RequireAuth rejects requests without a valid bearer token and stores the
// principal in the request context for handlers.
func RequireAuth(verifier *Verifier, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(authHeader, "Bearer ")
			if !ok {
				logger.WarnContext(r.Context(), "unauthorized access - missing token", "path", r.URL.Path)
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Missing or invalid Authorization header")
				return
			}

			principal, err := verifier.Verify(token)
			if err != nil {
				logger.WarnContext(r.Context(), "unauthorized access - invalid token",
					"path", r.URL.Path,
					"error", err,
				)
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Invalid or expired token")
				return
			}

			ctx := context.WithValue(r.Context(), contextKeyPrincipal{}, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin allows only principals carrying the admin scope. Must run
// after RequireAuth.
func RequireAdmin(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := FromContext(r.Context())
			if !p.Admin {
				logger.WarnContext(r.Context(), "forbidden - admin scope required",
					"actor_id", p.ActorID,
					"path", r.URL.Path,
				)
				writeJSONError(w, http.StatusForbidden, "forbidden", "Admin scope required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
