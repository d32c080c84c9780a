package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
)

type contextKey string

const userIDKey contextKey = "userID"

// TokenResolver resolves a presented session token to a user identity or
// rejects it. Implemented by services.AuthService.
type TokenResolver interface {
	ResolveToken(ctx context.Context, token string) (int64, error)
}

// UserID returns the authenticated user id stored by Auth.
func UserID(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(userIDKey).(int64)
	return id, ok
}

// WithUserID is used by handler tests to simulate an authenticated request.
func WithUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// Auth resolves the presented session token into a user identity before any
// game operation runs. Every resolution failure is reported as 401; nothing
// downstream runs without an identity.
func Auth(resolver TokenResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := ExtractToken(r)
			if token == "" {
				http.Error(w, "Authorization required", http.StatusUnauthorized)
				return
			}

			userID, err := resolver.ResolveToken(r.Context(), token)
			if err != nil {
				http.Error(w, "Invalid or expired session", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}

// ExtractToken returns the session token from the Authorization header, the
// session_token query parameter, or the session_token body field. The body
// is replaced after peeking so downstream decoders still see it.
func ExtractToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader != "" {
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			return ""
		}
		return parts[1]
	}
	if token := r.URL.Query().Get("session_token"); token != "" {
		return token
	}
	return bodyToken(r)
}

func bodyToken(r *http.Request) string {
	if r.Body == nil || r.Body == http.NoBody {
		return ""
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(body))
	if err != nil {
		return ""
	}

	var payload struct {
		SessionToken string `json:"session_token"`
	}
	if json.Unmarshal(body, &payload) != nil {
		return ""
	}
	return payload.SessionToken
}
