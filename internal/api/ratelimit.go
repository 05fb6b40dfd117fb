package api

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"
)

// rateLimit limits requests per authenticated user, falling back to the
// client IP. chi's middleware.RealIP (applied globally) already sets
// r.RemoteAddr to the real IP.
func rateLimit(limit int, window time.Duration) func(http.Handler) http.Handler {
	return httprate.Limit(limit, window,
		httprate.WithKeyFuncs(keyByUserOrIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(window)))
			writeError(w, http.StatusTooManyRequests, ErrCodeRateLimited, "Too many requests, please try again later")
		}),
	)
}

func keyByUserOrIP(r *http.Request) (string, error) {
	if userID := GetUserID(r); userID != "" {
		return "user:" + userID, nil
	}
	ip, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + ip, nil
}

// retryAfterSeconds rounds window up to whole seconds, never below one.
func retryAfterSeconds(window time.Duration) int {
	if window <= 0 {
		return 1
	}
	return max(1, int(math.Ceil(window.Seconds())))
}
