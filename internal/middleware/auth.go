// Package middleware provides HTTP middleware for the crew layer API.
package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/quarterdeck-network/crew_layer/pkg/logger"
)

type contextKey string

const principalKey contextKey = "principal"

// CallerHeader carries the caller identity on deployments that terminate
// authentication upstream.
const CallerHeader = "X-Caller"

// Principal returns the authenticated principal stored in the context, or
// an empty string when the request was anonymous.
func Principal(ctx context.Context) string {
	if v, ok := ctx.Value(principalKey).(string); ok {
		return v
	}
	return ""
}

// WithPrincipal stores a principal in the context. Exposed for tests.
func WithPrincipal(ctx context.Context, principal string) context.Context {
	return context.WithValue(ctx, principalKey, principal)
}

// Auth resolves the calling principal for each request. When a JWT secret is
// configured, a Bearer token is required and its subject becomes the
// principal. Without a secret the middleware trusts the X-Caller header,
// which is only appropriate behind an authenticating proxy.
type Auth struct {
	secret []byte
	log    *logger.Logger
}

// NewAuth creates the middleware. An empty secret enables header mode.
func NewAuth(secret []byte, log *logger.Logger) *Auth {
	if log == nil {
		log = logger.NewDefault("auth")
	}
	return &Auth{secret: secret, log: log}
}

// Handler returns the middleware handler.
func (a *Auth) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(a.secret) == 0 {
			caller := strings.TrimSpace(r.Header.Get(CallerHeader))
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), caller)))
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "missing Authorization header", http.StatusUnauthorized)
			return
		}
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			http.Error(w, "invalid Authorization header format", http.StatusUnauthorized)
			return
		}

		principal, err := a.validateToken(parts[1])
		if err != nil {
			a.log.WithError(err).Warn("token validation failed")
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
	})
}

func (a *Auth) validateToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return "", err
	}
	if !token.Valid {
		return "", fmt.Errorf("token invalid")
	}

	subject, err := token.Claims.GetSubject()
	if err != nil || subject == "" {
		return "", fmt.Errorf("token has no subject")
	}
	return subject, nil
}
