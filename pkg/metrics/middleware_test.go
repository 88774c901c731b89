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

package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestHTTPMiddleware(t *testing.T) {
	Enable()

	HTTPRequestsTotal.Reset()
	HTTPRequestDuration.Reset()
	ActiveConnections.Reset()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	wrappedHandler := HTTPMiddleware(handler)

	req := httptest.NewRequest("GET", "/api/qr/current", nil)
	rec := httptest.NewRecorder()

	wrappedHandler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rec.Code)
	}

	if got := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "200")); got != 1 {
		t.Errorf("Expected 1 recorded request, got %v", got)
	}

	// The connection gauge should be back to zero after the request.
	if got := testutil.ToFloat64(ActiveConnections.WithLabelValues(ProtocolHTTP)); got != 0 {
		t.Errorf("Expected 0 active connections after request, got %v", got)
	}
}

func TestHTTPMiddlewareStatusCodes(t *testing.T) {
	Enable()

	testCases := []struct {
		name       string
		statusCode int
	}{
		{"200 OK", http.StatusOK},
		{"404 Not Found", http.StatusNotFound},
		{"500 Internal Server Error", http.StatusInternalServerError},
		{"201 Created", http.StatusCreated},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			HTTPRequestsTotal.Reset()

			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.statusCode)
			})

			wrappedHandler := HTTPMiddleware(handler)

			req := httptest.NewRequest("POST", "/api/verify", nil)
			rec := httptest.NewRecorder()

			wrappedHandler.ServeHTTP(rec, req)

			if rec.Code != tc.statusCode {
				t.Errorf("Expected status %d, got %d", tc.statusCode, rec.Code)
			}
		})
	}
}

func TestHTTPMiddlewareWhenDisabled(t *testing.T) {
	Disable()
	defer Enable()

	HTTPRequestsTotal.Reset()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	wrappedHandler := HTTPMiddleware(handler)

	req := httptest.NewRequest("GET", "/healthz", nil)
	rec := httptest.NewRecorder()

	wrappedHandler.ServeHTTP(rec, req)

	// Request passes through untouched.
	if rec.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rec.Code)
	}
	if count := testutil.CollectAndCount(HTTPRequestsTotal); count != 0 {
		t.Errorf("Expected no recorded requests when disabled, got %d", count)
	}
}

func TestResponseWriterImplicitHeader(t *testing.T) {
	Enable()
	HTTPRequestsTotal.Reset()

	// A handler that writes without calling WriteHeader should record 200.
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("implicit"))
	})

	wrappedHandler := HTTPMiddleware(handler)

	req := httptest.NewRequest("GET", "/", nil)
	rec := httptest.NewRecorder()
	wrappedHandler.ServeHTTP(rec, req)

	if got := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "200")); got != 1 {
		t.Errorf("Expected implicit 200 recorded, got %v", got)
	}
}

func TestConnectionTracker(t *testing.T) {
	Enable()
	ActiveConnections.Reset()

	tracker := NewConnectionTracker(ProtocolWebSocket)

	if got := testutil.ToFloat64(ActiveConnections.WithLabelValues(ProtocolWebSocket)); got != 1 {
		t.Errorf("Expected 1 tracked connection, got %v", got)
	}

	tracker.Close()

	if got := testutil.ToFloat64(ActiveConnections.WithLabelValues(ProtocolWebSocket)); got != 0 {
		t.Errorf("Expected 0 tracked connections after close, got %v", got)
	}

	if tracker.Duration() < 0 {
		t.Error("Expected non-negative connection duration")
	}
}
