package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/phoneauth/server/internal/apperr"
	"github.com/phoneauth/server/internal/auth"
	"github.com/phoneauth/server/internal/http/respond"
	"github.com/phoneauth/server/internal/model"
)

type contextKey string

const (
	userKey  contextKey = "user"
	tokenKey contextKey = "access_token"
)

// UserResolver resolves an access token to its user
type UserResolver interface {
	CurrentUser(ctx context.Context, accessToken string) (*model.User, error)
}

// BearerToken returns the token of an "Authorization: Bearer" header, "" if absent
func BearerToken(r *http.Request) string {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// AuthMiddleware validates the bearer token, loads the user and attaches it to the context
func AuthMiddleware(users UserResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") == "" {
				w.Header().Set("WWW-Authenticate", "Bearer")
				respond.Error(w, r, apperr.Unauthorized())
				return
			}
			token := BearerToken(r)
			if token == "" {
				w.Header().Set("WWW-Authenticate", "Bearer")
				respond.Error(w, r, apperr.Unauthorized())
				return
			}

			user, err := users.CurrentUser(r.Context(), token)
			if err != nil {
				if apperr.HTTPStatus(err) == http.StatusUnauthorized {
					w.Header().Set("WWW-Authenticate", "Bearer")
				}
				respond.Error(w, r, err)
				return
			}

			ctx := context.WithValue(r.Context(), userKey, user)
			ctx = context.WithValue(ctx, tokenKey, token)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin rejects non-admin users; it must run after AuthMiddleware
func RequireAdmin(next http.Handler) http.Handler {
	return gate(auth.RequireAdmin, next)
}

// RequireActive rejects deactivated users; it must run after AuthMiddleware
func RequireActive(next http.Handler) http.Handler {
	return gate(auth.RequireActive, next)
}

func gate(check func(*model.User) error, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := GetUser(r.Context())
		if !ok {
			respond.Error(w, r, apperr.Unauthorized())
			return
		}
		if err := check(user); err != nil {
			respond.Error(w, r, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetUser returns the user attached to the request context (set by AuthMiddleware)
func GetUser(ctx context.Context) (*model.User, bool) {
	u, ok := ctx.Value(userKey).(*model.User)
	return u, ok && u != nil
}

// GetAccessToken returns the bearer token that authenticated the request
func GetAccessToken(ctx context.Context) (string, bool) {
	t, ok := ctx.Value(tokenKey).(string)
	return t, ok
}

// WithUser attaches user to ctx the way AuthMiddleware does
func WithUser(ctx context.Context, user *model.User) context.Context {
	return context.WithValue(ctx, userKey, user)
}
