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

// Package metrics provides Prometheus instrumentation for the QR
// emission pipeline: emissions and their protection layers, verification
// verdicts per check, keystore operations, external time and chain
// fetches, and the web front end.
package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// Namespace is the Prometheus namespace for all metrics.
	Namespace = "qrlive"

	// Label names
	LabelOperation  = "operation"
	LabelLayer      = "layer"
	LabelStatus     = "status"
	LabelCheck      = "check"
	LabelResult     = "result"
	LabelChain      = "chain"
	LabelProtocol   = "protocol"
	LabelMethod     = "method"
	LabelStatusCode = "status_code"

	// Status values
	StatusSuccess = "success"
	StatusError   = "error"

	// Protection layers applied to an emission
	LayerSignature  = "signature"
	LayerHMAC       = "hmac"
	LayerEncryption = "encryption"

	// Verification checks
	CheckHMAC       = "hmac"
	CheckSignature  = "signature"
	CheckIdentity   = "identity"
	CheckTime       = "time"
	CheckBlockchain = "blockchain"

	// Keystore operation names
	OpGenerate = "generate"
	OpGet      = "get"
	OpDelete   = "delete"
	OpList     = "list"
	OpExport   = "export"
	OpRotate   = "rotate"
	OpBackup   = "backup"
	OpDerive   = "derive"
)

var (
	// EmissionsTotal counts generated QR payloads by final status.
	EmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "emissions_total",
			Help:      "Total number of QR payload emissions by status",
		},
		[]string{LabelStatus},
	)

	// EmissionDuration tracks end-to-end generation latency, gathering
	// through rendering.
	EmissionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "emission_duration_seconds",
			Help:      "Duration of QR payload generation in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)

	// LayerApplications counts protection layer applications per
	// emission. A degraded emission records the failed layer with
	// status "error".
	LayerApplications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "layer_applications_total",
			Help:      "Protection layer applications by layer and status",
		},
		[]string{LabelLayer, LabelStatus},
	)

	// VerificationsTotal counts verification runs by overall verdict
	// (the HMAC verdict).
	VerificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "verifications_total",
			Help:      "Total number of payload verifications by verdict",
		},
		[]string{LabelResult},
	)

	// VerificationChecks counts individual check outcomes within
	// verification runs.
	VerificationChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "verification_checks_total",
			Help:      "Individual verification check outcomes",
		},
		[]string{LabelCheck, LabelResult},
	)

	// KeystoreOperationsTotal counts keystore operations by type and status.
	KeystoreOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "keystore",
			Name:      "operations_total",
			Help:      "Total number of keystore operations by type and status",
		},
		[]string{LabelOperation, LabelStatus},
	)

	// KeysTotal tracks the number of keys in the keystore.
	KeysTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "keystore",
			Name:      "keys_total",
			Help:      "Number of keys in the keystore",
		},
	)

	// TimeSyncsTotal counts NTP synchronization rounds by status.
	TimeSyncsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "time",
			Name:      "syncs_total",
			Help:      "Total number of NTP synchronization rounds by status",
		},
		[]string{LabelStatus},
	)

	// ClockOffsetSeconds is the smoothed offset between the local clock
	// and the NTP server set.
	ClockOffsetSeconds = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "time",
			Name:      "clock_offset_seconds",
			Help:      "Smoothed clock offset against the NTP server set",
		},
	)

	// ChainFetchesTotal counts chain-head fetches by chain and status.
	ChainFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "chain",
			Name:      "fetches_total",
			Help:      "Total number of chain head fetches by chain and status",
		},
		[]string{LabelChain, LabelStatus},
	)

	// QRPayloadBytes tracks the wire size of rendered payloads. QR
	// capacity tops out at 2953 bytes, so the buckets stop there.
	QRPayloadBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "qr_payload_bytes",
			Help:      "Wire size of rendered QR payloads in bytes",
			Buckets:   []float64{256, 512, 768, 1024, 1536, 2048, 2331, 2953},
		},
	)

	// ActiveConnections tracks active connections by protocol
	// (http, websocket).
	ActiveConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "active_connections",
			Help:      "Number of active connections by protocol",
		},
		[]string{LabelProtocol},
	)

	// HTTPRequestsTotal counts HTTP requests by method and status code.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method and status code",
		},
		[]string{LabelMethod, LabelStatusCode},
	)

	// HTTPRequestDuration tracks HTTP request latency.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{LabelMethod},
	)

	// Goroutines tracks the current goroutine count. Updated by the
	// resource collector.
	Goroutines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "goroutines",
			Help:      "Current number of goroutines",
		},
	)

	// MemoryAllocBytes tracks allocated heap bytes. Updated by the
	// resource collector.
	MemoryAllocBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "memory_alloc_bytes",
			Help:      "Current bytes of allocated heap objects",
		},
	)

	// MemorySysBytes tracks memory obtained from the OS. Updated by the
	// resource collector.
	MemorySysBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "memory_sys_bytes",
			Help:      "Total bytes of memory obtained from the OS",
		},
	)

	// GCPauseTotalSeconds tracks cumulative GC pause time. Updated by
	// the resource collector.
	GCPauseTotalSeconds = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "gc_pause_total_seconds",
			Help:      "Cumulative time spent in GC stop-the-world pauses",
		},
	)

	// ServerUptime tracks seconds since startup. Updated by the
	// resource collector.
	ServerUptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "server_uptime_seconds",
			Help:      "Server uptime in seconds since startup",
		},
	)

	// enabled tracks whether metrics collection is enabled
	enabled atomic.Bool
)

func init() {
	// Metrics are enabled by default
	enabled.Store(true)
}

// RecordEmission records one payload generation with its duration.
func RecordEmission(status string, duration float64) {
	if !enabled.Load() {
		return
	}
	EmissionsTotal.WithLabelValues(status).Inc()
	EmissionDuration.Observe(duration)
}

// RecordLayer records one protection layer application. Use the Layer*
// and Status* constants.
func RecordLayer(layer, status string) {
	if !enabled.Load() {
		return
	}
	LayerApplications.WithLabelValues(layer, status).Inc()
}

// RecordVerification records one verification run's overall verdict.
func RecordVerification(passed bool) {
	if !enabled.Load() {
		return
	}
	VerificationsTotal.WithLabelValues(boolResult(passed)).Inc()
}

// RecordCheck records one individual verification check outcome. Use
// the Check* constants.
func RecordCheck(check string, passed bool) {
	if !enabled.Load() {
		return
	}
	VerificationChecks.WithLabelValues(check, boolResult(passed)).Inc()
}

// RecordKeystoreOperation records one keystore operation. Use the Op*
// and Status* constants.
func RecordKeystoreOperation(operation, status string) {
	if !enabled.Load() {
		return
	}
	KeystoreOperationsTotal.WithLabelValues(operation, status).Inc()
}

// RecordTimeSync records one NTP synchronization round and the
// resulting offset.
func RecordTimeSync(status string, offsetSeconds float64) {
	if !enabled.Load() {
		return
	}
	TimeSyncsTotal.WithLabelValues(status).Inc()
	if status == StatusSuccess {
		ClockOffsetSeconds.Set(offsetSeconds)
	}
}

// RecordChainFetch records one chain head fetch.
func RecordChainFetch(chain, status string) {
	if !enabled.Load() {
		return
	}
	ChainFetchesTotal.WithLabelValues(chain, status).Inc()
}

// RecordQRPayload records the wire size of a rendered payload.
func RecordQRPayload(bytes int) {
	if !enabled.Load() {
		return
	}
	QRPayloadBytes.Observe(float64(bytes))
}

// RecordHTTPRequest records an HTTP request with its duration.
func RecordHTTPRequest(method, statusCode string, duration float64) {
	if !enabled.Load() {
		return
	}
	HTTPRequestsTotal.WithLabelValues(method, statusCode).Inc()
	HTTPRequestDuration.WithLabelValues(method).Observe(duration)
}

// IncrementActiveConnections increments the active connection count for a protocol.
func IncrementActiveConnections(protocol string) {
	if !enabled.Load() {
		return
	}
	ActiveConnections.WithLabelValues(protocol).Inc()
}

// DecrementActiveConnections decrements the active connection count for a protocol.
func DecrementActiveConnections(protocol string) {
	if !enabled.Load() {
		return
	}
	ActiveConnections.WithLabelValues(protocol).Dec()
}

// SetKeysTotal sets the keystore key count gauge.
func SetKeysTotal(count float64) {
	if !enabled.Load() {
		return
	}
	KeysTotal.Set(count)
}

func boolResult(passed bool) string {
	if passed {
		return "pass"
	}
	return "fail"
}

// Enable enables metrics collection.
func Enable() {
	enabled.Store(true)
}

// Disable disables metrics collection.
// Useful for testing or when metrics are not desired.
func Disable() {
	enabled.Store(false)
}

// IsEnabled returns whether metrics collection is currently enabled.
func IsEnabled() bool {
	return enabled.Load()
}
