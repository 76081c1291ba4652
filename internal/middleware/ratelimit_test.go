package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupRateLimiter(t *testing.T, maxReqs, windowSec int, keyFunc KeyFunc) (*RateLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRateLimiter(client, "api", maxReqs, windowSec, keyFunc), mr
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimiter_AllowsUnderLimit(t *testing.T) {
	rl, _ := setupRateLimiter(t, 5, 60, nil)
	handler := rl.Middleware(okHandler())

	for i := 0; i < 5; i++ {
		req := httptest.NewRequest("POST", "/api/v1/programmes/parse", nil)
		req.RemoteAddr = "192.168.1.1:12345"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, rec.Code)
		}
	}
}

func TestRateLimiter_BlocksOverLimit(t *testing.T) {
	rl, mr := setupRateLimiter(t, 3, 60, nil)
	handler := rl.Middleware(okHandler())

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest("POST", "/api/v1/programmes/parse", nil)
		req.RemoteAddr = "10.0.0.1:12345"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, rec.Code)
		}
	}

	// 4th request should be blocked
	req := httptest.NewRequest("POST", "/api/v1/programmes/parse", nil)
	req.RemoteAddr = "10.0.0.1:12345"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "60" {
		t.Fatalf("expected Retry-After: 60, got %q", rec.Header().Get("Retry-After"))
	}
	if !mr.Exists("ratelimit:api:10.0.0.1") {
		t.Fatalf("expected bucket key ratelimit:api:10.0.0.1, have %v", mr.Keys())
	}
}

func TestRateLimiter_DifferentIPsIndependent(t *testing.T) {
	rl, _ := setupRateLimiter(t, 2, 60, nil)
	handler := rl.Middleware(okHandler())

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest("POST", "/", nil)
		req.RemoteAddr = "1.1.1.1:1"
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}

	req := httptest.NewRequest("POST", "/", nil)
	req.RemoteAddr = "2.2.2.2:1"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for different IP, got %d", rec.Code)
	}
}

func TestRateLimiter_CustomKeyFunc(t *testing.T) {
	rl, _ := setupRateLimiter(t, 1, 60, func(r *http.Request) string {
		return r.Header.Get("X-User")
	})
	handler := rl.Middleware(okHandler())

	send := func(user, addr string) int {
		req := httptest.NewRequest("POST", "/", nil)
		req.RemoteAddr = addr
		req.Header.Set("X-User", user)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := send("alice", "1.1.1.1:1"); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	// Same user from another address shares the bucket.
	if code := send("alice", "2.2.2.2:1"); code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", code)
	}
	if code := send("bob", "1.1.1.1:1"); code != http.StatusOK {
		t.Fatalf("expected 200 for other user, got %d", code)
	}
}

func TestRateLimiter_FailsOpenOnRedisError(t *testing.T) {
	rl, mr := setupRateLimiter(t, 1, 60, nil)
	mr.Close()

	handler := rl.Middleware(okHandler())

	req := httptest.NewRequest("POST", "/", nil)
	req.RemoteAddr = "3.3.3.3:1"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on Redis failure (fail-open), got %d", rec.Code)
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name   string
		header map[string]string
		remote string
		want   string
	}{
		{"forwarded chain", map[string]string{"X-Forwarded-For": "9.9.9.9, 10.0.0.1"}, "1.1.1.1:1", "9.9.9.9"},
		{"real ip", map[string]string{"X-Real-IP": "8.8.8.8"}, "1.1.1.1:1", "8.8.8.8"},
		{"remote addr", nil, "7.7.7.7:4000", "7.7.7.7"},
		{"remote addr without port", nil, "7.7.7.7", "7.7.7.7"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			if got := ClientIP(req); got != tt.want {
				t.Fatalf("ClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}
