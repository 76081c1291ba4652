package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// KeyFunc derives the rate-limit bucket for a request.
type KeyFunc func(r *http.Request) string

// RateLimiter provides sliding-window request throttling backed by Redis
// sorted sets. It guards the API surface only; feature allowances are
// enforced by the quota ledger.
type RateLimiter struct {
	client    redis.Cmdable
	maxReqs   int
	windowSec int
	prefix    string
	keyFunc   KeyFunc
}

// NewRateLimiter creates a rate limiter that allows maxReqs per windowSec
// seconds per key. A nil keyFunc buckets by client IP.
func NewRateLimiter(client redis.Cmdable, prefix string, maxReqs, windowSec int, keyFunc KeyFunc) *RateLimiter {
	if keyFunc == nil {
		keyFunc = ClientIP
	}
	return &RateLimiter{
		client:    client,
		maxReqs:   maxReqs,
		windowSec: windowSec,
		prefix:    prefix,
		keyFunc:   keyFunc,
	}
}

// Middleware returns an HTTP middleware that enforces the rate limit.
// On Redis errors it fails open.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := rl.keyFunc(r)
		key := "ratelimit:" + rl.prefix + ":" + id

		allowed, err := rl.allow(r.Context(), key)
		if err != nil {
			slog.Warn("rate limiter: redis error, failing open", "error", err, "key", id)
			next.ServeHTTP(w, r)
			return
		}

		if !allowed {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", strconv.Itoa(rl.windowSec))
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":"too many requests"}`))
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) allow(ctx context.Context, key string) (bool, error) {
	now := time.Now()
	windowStart := float64(now.Add(-time.Duration(rl.windowSec) * time.Second).UnixMilli())
	member := fmt.Sprintf("%d", now.UnixNano())
	score := float64(now.UnixMilli())

	pipe := rl.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprintf("%f", windowStart))
	countCmd := pipe.ZCard(ctx, key)
	pipe.ZAdd(ctx, key, redis.Z{Score: score, Member: member})
	pipe.Expire(ctx, key, time.Duration(rl.windowSec)*time.Second+time.Second)

	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}

	return countCmd.Val() < int64(rl.maxReqs), nil
}

// ClientIP returns the originating client address, honouring the first
// X-Forwarded-For hop set by the ingress.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
