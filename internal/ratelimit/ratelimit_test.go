package ratelimit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestMemoryLimiterAllowsBurstThenRejects(t *testing.T) {
	l := NewMemoryLimiter()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	rule := Rule{Limit: 3, Window: time.Minute}

	for i := 0; i < 3; i++ {
		if ok, _ := l.Allow(context.Background(), "ip", rule); !ok {
			t.Fatalf("request %d rejected", i+1)
		}
	}
	if ok, _ := l.Allow(context.Background(), "ip", rule); ok {
		t.Fatal("4th request should be rejected")
	}
	if ok, _ := l.Allow(context.Background(), "other", rule); !ok {
		t.Fatal("keys must be independent")
	}

	now = now.Add(20 * time.Second)
	if ok, _ := l.Allow(context.Background(), "ip", rule); !ok {
		t.Fatal("expected one token to be restored after window/limit")
	}
}

func TestMemoryLimiterEvictsIdleBuckets(t *testing.T) {
	l := NewMemoryLimiter()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	l.lastScan = now

	_, _ = l.Allow(context.Background(), "a", Rule{Limit: 1, Window: time.Minute})
	now = now.Add(time.Hour)
	_, _ = l.Allow(context.Background(), "b", Rule{Limit: 1, Window: time.Minute})
	if _, ok := l.buckets["a"]; ok {
		t.Fatal("idle bucket was not evicted")
	}
}

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string, Rule) (bool, error) {
	return false, errors.New("redis down")
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	r := gin.New()
	r.GET("/limited", Middleware(NewMemoryLimiter(), "download", Rule{Limit: 1, Window: 5 * time.Minute}, logger), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	r.GET("/open", Middleware(failingLimiter{}, "upload", Rule{Limit: 1, Window: time.Minute}, logger), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/limited", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("first request: %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/limited", nil))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "300" {
		t.Fatalf("unexpected Retry-After: %q", rec.Header().Get("Retry-After"))
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/open", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("limiter failure should fail open, got %d", rec.Code)
	}
}
