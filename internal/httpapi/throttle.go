package httpapi

import (
	"expvar"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"

	"mediqueue/internal/throttle"
)

var throttleDenied = expvar.NewInt("throttle_denied_total")

// ThrottleMiddleware applies the submission cooldown to ticket creation.
// Everything else passes through untouched.
func ThrottleMiddleware(gate throttle.Gate, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tickets" || r.Method != http.MethodPost {
			next.ServeHTTP(w, r)
			return
		}

		decision, err := gate.Admit(r.Context(), clientIP(r))
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
			return
		}
		if !decision.Allowed {
			throttleDenied.Add(1)
			w.Header().Set("Retry-After", strconv.Itoa(throttle.RetryAfterSeconds(decision.RetryAfter)))
			writeError(w, http.StatusTooManyRequests, "too_many_requests",
				fmt.Sprintf("please wait %s before requesting another ticket", throttle.WaitText(decision.RetryAfter)))
			return
		}

		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
