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
	"strconv"
	"time"
)

const (
	// Protocol identifiers
	ProtocolHTTP      = "http"
	ProtocolWebSocket = "websocket"
)

// HTTPMiddleware records request totals, latency, and active
// connections for every request passing through it.
//
// Usage:
//
//	router := chi.NewRouter()
//	router.Use(metrics.HTTPMiddleware)
func HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !IsEnabled() {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()

		IncrementActiveConnections(ProtocolHTTP)
		defer DecrementActiveConnections(ProtocolHTTP)

		wrapper := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(wrapper, r)

		duration := time.Since(start).Seconds()
		RecordHTTPRequest(r.Method, strconv.Itoa(wrapper.statusCode), duration)
	})
}

// responseWriter captures the status code written by a handler.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (rw *responseWriter) WriteHeader(statusCode int) {
	if !rw.written {
		rw.statusCode = statusCode
		rw.written = true
	}
	rw.ResponseWriter.WriteHeader(statusCode)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.written {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}

// ConnectionTracker tracks a long-lived connection for protocols
// without middleware hooks, in practice the WebSocket feed.
type ConnectionTracker struct {
	protocol string
	started  time.Time
}

// NewConnectionTracker increments the active connection gauge for
// protocol and returns a tracker to close when the connection ends.
//
// Usage:
//
//	tracker := metrics.NewConnectionTracker(metrics.ProtocolWebSocket)
//	defer tracker.Close()
func NewConnectionTracker(protocol string) *ConnectionTracker {
	if IsEnabled() {
		IncrementActiveConnections(protocol)
	}
	return &ConnectionTracker{
		protocol: protocol,
		started:  time.Now(),
	}
}

// Close decrements the active connection gauge.
func (ct *ConnectionTracker) Close() {
	if IsEnabled() {
		DecrementActiveConnections(ct.protocol)
	}
}

// Duration returns how long the connection has been open.
func (ct *ConnectionTracker) Duration() time.Duration {
	return time.Since(ct.started)
}
