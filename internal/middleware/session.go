// Package middleware provides the HTTP middleware chain.
package middleware

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/floreser/floreser/internal/model"
)

// SessionCookieName is the cookie carrying the session ID.
const SessionCookieName = "session_id"

type contextKey string

var userIDContextKey = contextKey("user_id")

// SessionFinder looks up live sessions. It is the subset of
// repository.SessionRepository the middleware needs.
type SessionFinder interface {
	FindByID(ctx context.Context, id string) (*model.Session, error)
}

// NewSessionMiddleware reads the session cookie, checks it against the store
// and injects the authenticated user ID into the request context.
// Requests without a live session get 401.
func NewSessionMiddleware(sessions SessionFinder, logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// 1. Session ID from cookie
			cookie, err := r.Cookie(SessionCookieName)
			if err != nil || cookie.Value == "" {
				writeUnauthorized(w)
				return
			}

			// 2. Look it up
			session, err := sessions.FindByID(r.Context(), cookie.Value)
			if err != nil {
				logger.Error("failed to find session", zap.Error(err))
				writeUnauthorized(w)
				return
			}
			if session == nil {
				writeUnauthorized(w)
				return
			}

			// 3. Inject the user
			next.ServeHTTP(w, r.WithContext(ContextWithUserID(r.Context(), session.UserID)))
		})
	}
}

// UserIDFromContext returns the user ID injected by the session middleware.
func UserIDFromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(userIDContextKey).(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}

// ContextWithUserID returns ctx carrying userID.
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}

func writeUnauthorized(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusUnauthorized, &model.APIError{
		Code:     "UNAUTHORIZED",
		Message:  "Authentication required.",
		Category: "auth",
		Action:   "Sign in and try again.",
	})
}
