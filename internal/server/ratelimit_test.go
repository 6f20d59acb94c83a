package server

import (
	"net/http"
	"net/netip"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRateLimiterAllow_WithinLimitThenRejects(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)
	ip := "203.0.113.10"

	if !rl.Allow(ip) {
		t.Fatal("expected first request to be allowed")
	}
	if !rl.Allow(ip) {
		t.Fatal("expected second request to be allowed")
	}
	if rl.Allow(ip) {
		t.Fatal("expected third request to be rejected")
	}
	if !rl.Allow("203.0.113.11") {
		t.Fatal("expected a different IP to be allowed")
	}
}

func TestRateLimiterAllow_PrunesExpiredAttempts(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)
	ip := "203.0.113.20"
	rl.attempts[ip] = []time.Time{time.Now().Add(-2 * time.Minute)}

	if !rl.Allow(ip) {
		t.Fatal("expected request to be allowed after expired attempt is pruned")
	}
	if got := len(rl.attempts[ip]); got != 1 {
		t.Fatalf("expected one retained attempt, got %d", got)
	}
}

func TestRateLimiterSweep(t *testing.T) {
	rl := NewRateLimiter(5, time.Minute)
	rl.attempts["stale"] = []time.Time{time.Now().Add(-time.Hour)}
	rl.Allow("fresh")

	rl.Sweep()

	if _, ok := rl.attempts["stale"]; ok {
		t.Fatal("expected stale IP to be swept")
	}
	if _, ok := rl.attempts["fresh"]; !ok {
		t.Fatal("expected fresh IP to be kept")
	}
}

func TestRateLimiterMiddleware_TooManyRequests(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)
	calls := 0
	h := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusNoContent)
	}))

	for i, want := range []int{http.StatusNoContent, http.StatusTooManyRequests} {
		req := httptest.NewRequest(http.MethodGet, "/go/yt", nil)
		req.RemoteAddr = "198.51.100.5:1234"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != want {
			t.Fatalf("request %d status = %d, want %d", i+1, rec.Code, want)
		}
	}
	if calls != 1 {
		t.Fatalf("next handler calls = %d, want 1", calls)
	}
}

func TestResolveClientIP(t *testing.T) {
	trusted := []netip.Prefix{
		netip.MustParsePrefix("127.0.0.1/32"),
		netip.MustParsePrefix("10.0.0.0/8"),
	}

	tests := []struct {
		name    string
		remote  string
		xff     string
		trusted []netip.Prefix
		want    string
	}{
		{"no trusted proxies ignores header", "198.51.100.4:5555", "203.0.113.9", nil, "198.51.100.4"},
		{"untrusted peer ignores header", "198.51.100.4:5555", "203.0.113.9", trusted, "198.51.100.4"},
		{"trusted peer single hop", "127.0.0.1:9999", "203.0.113.9", trusted, "203.0.113.9"},
		{"spoofed leading hop is skipped", "127.0.0.1:9999", "1.1.1.1, 203.0.113.7", trusted, "203.0.113.7"},
		{"trusted hops are walked", "127.0.0.1:9999", " 203.0.113.7 , 10.0.0.2", trusted, "203.0.113.7"},
		{"all hops trusted", "127.0.0.1:9999", "10.0.0.3, 10.0.0.2", trusted, "10.0.0.3"},
		{"garbage hop stops the walk", "127.0.0.1:9999", "203.0.113.7, bogus", trusted, "127.0.0.1"},
		{"trusted peer without header", "10.1.2.3:80", "", trusted, "10.1.2.3"},
		{"unparsable remote addr", "pipe", "203.0.113.9", trusted, "pipe"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if got := resolveClientIP(req, tt.trusted); got != tt.want {
				t.Fatalf("resolveClientIP = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestClientIPFallsBackToPeer(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.4:5555"
	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	if got := clientIP(req); got != "192.0.2.4" {
		t.Fatalf("clientIP = %q, want %q", got, "192.0.2.4")
	}
}
