// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-qrlive.
//
// go-qrlive is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	limiter := New(&Config{
		Enabled:           true,
		RequestsPerMinute: 60,
		Burst:             10,
	})
	defer limiter.Stop()

	if !limiter.IsEnabled() {
		t.Error("Expected limiter to be enabled")
	}

	stats := limiter.Stats()
	if !stats.Enabled {
		t.Error("Expected enabled to be true in stats")
	}
	if stats.RatePerMin != 60 {
		t.Errorf("RatePerMin = %v, want 60", stats.RatePerMin)
	}
	if stats.Burst != 10 {
		t.Errorf("Burst = %d, want 10", stats.Burst)
	}
}

func TestNewNilConfig(t *testing.T) {
	limiter := New(nil)
	if limiter.IsEnabled() {
		t.Error("nil config should disable limiting")
	}
	if !limiter.Allow("anyone") {
		t.Error("disabled limiter should allow everything")
	}
}

func TestAllow(t *testing.T) {
	limiter := New(&Config{
		Enabled:           true,
		RequestsPerMinute: 60, // 1 per second
		Burst:             5,
	})
	defer limiter.Stop()

	clientID := "test-client"

	// First 5 requests succeed (burst).
	for i := 0; i < 5; i++ {
		if !limiter.Allow(clientID) {
			t.Errorf("Request %d should be allowed (burst)", i+1)
		}
	}

	if limiter.Allow(clientID) {
		t.Error("Request should be denied after burst exhausted")
	}

	// One token refills per second.
	time.Sleep(1100 * time.Millisecond)
	if !limiter.Allow(clientID) {
		t.Error("Request should be allowed after waiting")
	}
}

func TestDisabledLimiter(t *testing.T) {
	limiter := New(&Config{
		Enabled:           false,
		RequestsPerMinute: 1,
	})

	for i := 0; i < 100; i++ {
		if !limiter.Allow("test-client") {
			t.Error("Disabled limiter should allow all requests")
		}
	}
}

func TestPerClientLimiting(t *testing.T) {
	limiter := New(&Config{
		Enabled:           true,
		RequestsPerMinute: 60,
		Burst:             1,
	})
	defer limiter.Stop()

	if !limiter.Allow("client-a") {
		t.Error("client-a first request should be allowed")
	}
	if limiter.Allow("client-a") {
		t.Error("client-a second request should be denied")
	}

	// A different client has its own bucket.
	if !limiter.Allow("client-b") {
		t.Error("client-b should not share client-a's bucket")
	}
}

func TestWaitCancelled(t *testing.T) {
	limiter := New(&Config{
		Enabled:           true,
		RequestsPerMinute: 1,
		Burst:             1,
	})
	defer limiter.Stop()

	if err := limiter.Wait(context.Background(), "client"); err != nil {
		t.Fatalf("first Wait should pass immediately: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := limiter.Wait(ctx, "client"); err == nil {
		t.Error("Wait should fail when the context expires before a token")
	}
}

func TestCleanup(t *testing.T) {
	limiter := New(&Config{
		Enabled:           true,
		RequestsPerMinute: 60,
		CleanupInterval:   time.Hour, // run cleanup by hand
		MaxIdle:           time.Millisecond,
	})
	defer limiter.Stop()

	limiter.Allow("ephemeral")
	if limiter.Stats().ActiveClients != 1 {
		t.Fatal("expected 1 tracked client")
	}

	time.Sleep(5 * time.Millisecond)
	limiter.cleanup()

	if limiter.Stats().ActiveClients != 0 {
		t.Error("idle client should have been evicted")
	}
}

func TestStopIdempotent(t *testing.T) {
	limiter := New(&Config{Enabled: true, RequestsPerMinute: 60})
	limiter.Stop()
	limiter.Stop() // must not panic
}

func TestMiddleware(t *testing.T) {
	limiter := New(&Config{
		Enabled:           true,
		RequestsPerMinute: 60,
		Burst:             2,
	})
	defer limiter.Stop()

	handler := Middleware(limiter)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:12345"
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("request %d: status = %d, want 200", i+1, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:12345"
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429 after burst", rec.Code)
	}

	// Another address is unaffected.
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.2:12345"
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 for a fresh client", rec.Code)
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{
			name:       "remote addr",
			remoteAddr: "192.168.1.10:54321",
			want:       "192.168.1.10",
		},
		{
			name:       "remote addr without port",
			remoteAddr: "192.168.1.10",
			want:       "192.168.1.10",
		},
		{
			name:       "x-forwarded-for single",
			remoteAddr: "10.0.0.1:1234",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.9"},
			want:       "203.0.113.9",
		},
		{
			name:       "x-forwarded-for chain",
			remoteAddr: "10.0.0.1:1234",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.9, 10.0.0.2, 10.0.0.3"},
			want:       "203.0.113.9",
		},
		{
			name:       "x-real-ip",
			remoteAddr: "10.0.0.1:1234",
			headers:    map[string]string{"X-Real-IP": "198.51.100.7"},
			want:       "198.51.100.7",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if got := ClientIP(req); got != tt.want {
				t.Errorf("ClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}
