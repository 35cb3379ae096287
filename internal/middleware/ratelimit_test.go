package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestAllowPermitsWithinLimitThenBlocks(t *testing.T) {
	rl := NewRateLimiter()
	defer rl.Stop()

	config := RateLimitConfig{MaxRequests: 2, Window: time.Minute}

	allowed, remaining, _ := rl.Allow("key-1", config)
	if !allowed || remaining != 1 {
		t.Fatalf("expected first request allowed with 1 remaining, got allowed=%v remaining=%d", allowed, remaining)
	}

	allowed, remaining, _ = rl.Allow("key-1", config)
	if !allowed || remaining != 0 {
		t.Fatalf("expected second request allowed with 0 remaining, got allowed=%v remaining=%d", allowed, remaining)
	}

	allowed, _, _ = rl.Allow("key-1", config)
	if allowed {
		t.Fatal("expected third request to be blocked")
	}
}

func TestAllowResetsAfterWindow(t *testing.T) {
	rl := NewRateLimiter()
	defer rl.Stop()

	config := RateLimitConfig{MaxRequests: 1, Window: 10 * time.Millisecond}
	rl.Allow("key-2", config)
	if allowed, _, _ := rl.Allow("key-2", config); allowed {
		t.Fatal("expected second request within the window to be blocked")
	}

	time.Sleep(20 * time.Millisecond)
	if allowed, _, _ := rl.Allow("key-2", config); !allowed {
		t.Fatal("expected a new window to allow the request")
	}
}

func TestIPRateLimitMiddlewareBlocksOverLimit(t *testing.T) {
	rl := NewRateLimiter()
	defer rl.Stop()

	config := RateLimitConfig{MaxRequests: 1, Window: time.Minute}
	handler := rl.IPRateLimitMiddleware(config)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.5:1234"

	rec1 := httptest.NewRecorder()
	handler.ServeHTTP(rec1, req)
	if rec1.Code != http.StatusOK {
		t.Fatalf("expected first request to succeed, got %d", rec1.Code)
	}

	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, req)
	if rec2.Code != http.StatusTooManyRequests {
		t.Fatalf("expected second request to be rate limited, got %d", rec2.Code)
	}
}

func TestGetClientIPPrefersXForwardedFor(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.2")

	if got := GetClientIP(req); got != "203.0.113.9" {
		t.Fatalf("expected first forwarded IP, got %s", got)
	}
}
