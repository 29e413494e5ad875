package middleware

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/relaymesh/chatcore/internal/bus"
)

// RateLimit enforces spec.md's per-remote-address limit: at most max
// requests per window, approximated as a fixed window on top of the
// bus's Increment primitive since neither Redis nor the in-process bus
// exposes a sorted-set sliding window through this abstraction. Excess
// requests get RATE_LIMITED/429 instead of reaching the handler.
func RateLimit(b bus.Bus, max int, window time.Duration) Middleware {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if max <= 0 {
				next(w, r)
				return
			}

			key := "ratelimit:addr:" + remoteAddr(r)
			count, err := b.Increment(r.Context(), key, window)
			if err != nil {
				// A limiter outage must not take the API down with it.
				next(w, r)
				return
			}
			if count > int64(max) {
				writeRateLimited(w)
				return
			}
			next(w, r)
		}
	}
}

func remoteAddr(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	return r.RemoteAddr
}

func writeRateLimited(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"error": map[string]string{
			"code":    "RATE_LIMITED",
			"message": "too many requests, slow down",
		},
	})
}
