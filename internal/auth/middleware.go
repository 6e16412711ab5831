package auth

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
)

// contextKey is a private type for context keys to avoid collisions.
type contextKey string

const userContextKey contextKey = "auth.user"

// UserFrom returns the authenticated username stored in the request
// context, or "" if the request is not authenticated.
func UserFrom(ctx context.Context) string {
	user, _ := ctx.Value(userContextKey).(string)
	return user
}

// Middleware guards admin endpoints with bearer tokens minted by a
// Signer. Responses on failure are deliberately generic.
type Middleware struct {
	signer *Signer
	user   string
}

// NewMiddleware creates a Middleware that accepts tokens signed by
// signer and carrying exactly the given username.
func NewMiddleware(signer *Signer, user string) *Middleware {
	return &Middleware{signer: signer, user: user}
}

// Wrap wraps next with bearer authentication. Tokens are taken from the
// Authorization header first, then from the token query parameter so
// websocket clients can authenticate too.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractToken(r)
		if token == "" {
			sendAuthError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
			return
		}
		user, err := m.signer.Verify(token)
		if err != nil {
			log.Printf("[Auth] token rejected from %s: %s %s", r.RemoteAddr, r.Method, r.URL.Path)
			sendAuthError(w, http.StatusUnauthorized, "unauthorized", "Invalid token")
			return
		}
		if user != m.user {
			sendAuthError(w, http.StatusForbidden, "forbidden", "Access denied")
			return
		}
		ctx := context.WithValue(r.Context(), userContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// WrapFunc wraps an http.HandlerFunc with bearer authentication.
func (m *Middleware) WrapFunc(next http.HandlerFunc) http.HandlerFunc {
	return m.Wrap(next).ServeHTTP
}

// extractToken pulls a bearer token from the request. Priority order:
// Authorization: Bearer <token>, then ?token=<token>.
func extractToken(r *http.Request) string {
	const bearerPrefix = "Bearer "
	if auth := r.Header.Get("Authorization"); len(auth) > len(bearerPrefix) {
		if strings.EqualFold(auth[:len(bearerPrefix)], bearerPrefix) {
			return strings.TrimSpace(auth[len(bearerPrefix):])
		}
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

func sendAuthError(w http.ResponseWriter, code int, errID, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="lockstep"`)
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(code)

	response := struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}{Error: errID, Message: message}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Printf("[Auth] encode error response: %v", err)
	}
}
