package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"mediqueue/internal/store"
)

type authContextKey struct{}

// AuthMiddleware resolves the caller's session for staff endpoints. Patient
// surfaces (ticket submission and the waiting-room views) stay open.
func AuthMiddleware(ticketStore store.TicketStore, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !isStaffEndpoint(r) {
			next.ServeHTTP(w, r)
			return
		}
		sessionID := sessionIDFromRequest(r)
		if sessionID == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing session")
			return
		}
		session, err := ticketStore.GetSession(r.Context(), sessionID)
		if err != nil {
			if errors.Is(err, store.ErrSessionNotFound) {
				writeError(w, http.StatusUnauthorized, "unauthorized", "invalid session")
				return
			}
			writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
			return
		}
		if !session.Staff {
			writeError(w, http.StatusForbidden, "access_denied", "staff session required")
			return
		}
		ctx := context.WithValue(r.Context(), authContextKey{}, session)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func sessionIDFromRequest(r *http.Request) string {
	if token := bearerToken(r.Header.Get("Authorization")); token != "" {
		return token
	}
	return strings.TrimSpace(r.Header.Get("X-Session-ID"))
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.Fields(header)
	if len(parts) != 2 {
		return ""
	}
	if strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return parts[1]
}

// isStaffEndpoint lists the protected surface explicitly; everything else,
// including unknown paths, falls through to the router so it can 404.
func isStaffEndpoint(r *http.Request) bool {
	if r.Method == http.MethodOptions {
		return false
	}
	switch r.URL.Path {
	case "/api/rooms/call-next", "/api/events":
		return true
	}
	// Per-ticket reads, deletes, and actions; POST /api/tickets itself is
	// the public submission endpoint.
	return strings.HasPrefix(r.URL.Path, "/api/tickets/")
}
