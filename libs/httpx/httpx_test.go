package httpx

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestWithRequestID_PropagatesAndMints(t *testing.T) {
	var seen string
	h := WithRequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, req)
	if seen != "abc-123" || rw.Header().Get(RequestIDHeader) != "abc-123" {
		t.Fatalf("inbound id not propagated: %q", seen)
	}

	rw = httptest.NewRecorder()
	h.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/", nil))
	if len(seen) != 36 {
		t.Fatalf("expected minted uuid, got %q", seen)
	}
}

func TestWithAccessLog_ReportsRoutePattern(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	var gotRoute string
	var gotStatus int
	mux := http.NewServeMux()
	mux.HandleFunc("GET /things/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	h := Chain(mux, WithAccessLog(logger, func(method, route string, status int, _ time.Duration) {
		gotRoute, gotStatus = route, status
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/things/42", nil))
	if gotStatus != http.StatusTeapot {
		t.Fatalf("expected 418, got %d", gotStatus)
	}
	if !strings.Contains(buf.String(), `"path":"/things/42"`) {
		t.Fatalf("access log missing path: %s", buf.String())
	}
	if gotRoute == "" {
		t.Fatalf("expected a route label")
	}
}

func TestWithRecover(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil))
	h := Chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}), WithRecover(logger))
	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/", nil))
	if rw.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rw.Code)
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.9:5555"
	if ClientIP(req) != "10.0.0.9" {
		t.Fatalf("unexpected key %q", ClientIP(req))
	}
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	if ClientIP(req) != "203.0.113.7" {
		t.Fatalf("unexpected forwarded key %q", ClientIP(req))
	}
}

type memCounter struct {
	hits map[string]int64
	err  error
}

func (c *memCounter) Incr(_ context.Context, key string, _ time.Duration) (int64, error) {
	if c.err != nil {
		return 0, c.err
	}
	c.hits[key]++
	return c.hits[key], nil
}

func TestRateLimiter_BudgetPerKey(t *testing.T) {
	counter := &memCounter{hits: map[string]int64{}}
	rl := NewRateLimiter(counter, 2, time.Minute, "booking").WithKey(func(r *http.Request) string {
		return r.Header.Get("X-User")
	})
	h := rl.Middleware(nil, true)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	call := func(user string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/bookings", nil)
		req.Header.Set("X-User", user)
		rw := httptest.NewRecorder()
		h.ServeHTTP(rw, req)
		return rw
	}
	for i := 0; i < 2; i++ {
		if rw := call("alice"); rw.Code != http.StatusNoContent {
			t.Fatalf("call %d: expected 204, got %d", i, rw.Code)
		}
	}
	rw := call("alice")
	if rw.Code != http.StatusTooManyRequests || rw.Header().Get("Retry-After") != "60" {
		t.Fatalf("expected 429 with Retry-After, got %d %q", rw.Code, rw.Header().Get("Retry-After"))
	}
	if rw := call("bob"); rw.Code != http.StatusNoContent {
		t.Fatalf("separate key must have its own budget, got %d", rw.Code)
	}
	if counter.hits["booking:alice"] != 3 {
		t.Fatalf("expected prefixed key, got %v", counter.hits)
	}
}

func TestRateLimiter_CounterFailure(t *testing.T) {
	counter := &memCounter{err: errors.New("redis down")}
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })

	rw := httptest.NewRecorder()
	NewRateLimiter(counter, 1, time.Minute, "").Middleware(nil, true)(ok).ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/", nil))
	if rw.Code != http.StatusOK {
		t.Fatalf("fail-open must pass through, got %d", rw.Code)
	}
	rw = httptest.NewRecorder()
	NewRateLimiter(counter, 1, time.Minute, "").Middleware(nil, false)(ok).ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/", nil))
	if rw.Code != http.StatusServiceUnavailable {
		t.Fatalf("fail-closed must answer 503, got %d", rw.Code)
	}
}
