package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

type contextKey string

const requestIDKey contextKey = "request_id"

// identityHeader carries the authenticated platform user. It is injected
// by the platform gateway after it has verified the user's session; this
// service trusts it together with the shared API key.
const identityHeader = "X-Labrange-User"

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" {
			next.ServeHTTP(w, r)
			return
		}

		if s.cfg.APIKey == "" {
			// No API key configured — open access (dev mode).
			next.ServeHTTP(w, r)
			return
		}

		token := bearerToken(r)
		if token == "" {
			writeUnauthorizedError(w, "missing authorization")
			return
		}
		if token != s.cfg.APIKey {
			writeUnauthorizedError(w, "invalid api key")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// bearerToken extracts the API key from the Authorization header, or from
// the api_key query parameter for websocket clients that cannot set headers.
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth != "" {
		token := strings.TrimPrefix(auth, "Bearer ")
		if token != auth {
			return token
		}
		return ""
	}
	return r.URL.Query().Get("api_key")
}

// requesterID resolves the platform user making the request. Websocket
// clients may pass it as a query parameter instead of a header.
func requesterID(r *http.Request) string {
	if id := r.Header.Get(identityHeader); id != "" {
		return id
	}
	return r.URL.Query().Get("user")
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.New().String()[:8]
		}
		w.Header().Set("X-Request-ID", id)
		ctx := context.WithValue(r.Context(), requestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
