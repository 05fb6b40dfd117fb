package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRateLimitRejectsOverLimit(t *testing.T) {
	handler := rateLimit(2, time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	wantCodes := []int{http.StatusNoContent, http.StatusNoContent, http.StatusTooManyRequests}
	for i, want := range wantCodes {
		req := httptest.NewRequest(http.MethodGet, "/api/channels", nil)
		req.RemoteAddr = "192.0.2.7:4000"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != want {
			t.Fatalf("request %d: status = %d, want %d", i, rec.Code, want)
		}
		if want == http.StatusTooManyRequests && rec.Header().Get("Retry-After") != "60" {
			t.Fatalf("Retry-After = %q, want 60", rec.Header().Get("Retry-After"))
		}
	}

	// A different client has its own bucket.
	req := httptest.NewRequest(http.MethodGet, "/api/channels", nil)
	req.RemoteAddr = "192.0.2.8:4000"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("other client status = %d, want %d", rec.Code, http.StatusNoContent)
	}
}

func TestKeyByUserOrIP(t *testing.T) {
	anon := httptest.NewRequest(http.MethodGet, "/", nil)
	anon.RemoteAddr = "192.0.2.7:4000"
	authed := anon.WithContext(context.WithValue(anon.Context(), userIDKey, "u-1"))

	tests := []struct {
		name string
		req  *http.Request
		want string
	}{
		{name: "anonymous", req: anon, want: "ip:192.0.2.7"},
		{name: "authenticated", req: authed, want: "user:u-1"},
	}
	for _, tt := range tests {
		got, err := keyByUserOrIP(tt.req)
		if err != nil {
			t.Fatalf("%s: keyByUserOrIP() error = %v", tt.name, err)
		}
		if got != tt.want {
			t.Fatalf("%s: keyByUserOrIP() = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestRetryAfterSeconds(t *testing.T) {
	cases := map[time.Duration]int{
		0:                       1,
		-time.Second:            1,
		300 * time.Millisecond:  1,
		2500 * time.Millisecond: 3,
		time.Minute:             60,
	}
	for window, want := range cases {
		if got := retryAfterSeconds(window); got != want {
			t.Fatalf("retryAfterSeconds(%s) = %d, want %d", window, got, want)
		}
	}
}
