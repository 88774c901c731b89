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

// Package timesource attests payload timestamps against public NTP
// servers. It keeps a smoothed clock offset and a per-server
// verification map so emitted payloads can carry third-party time
// evidence, and degrades to the local clock when no server answers.
package timesource

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/beevik/ntp"

	"github.com/jeremyhahn/go-qrlive/pkg/logging"
	"github.com/jeremyhahn/go-qrlive/pkg/metrics"
	"github.com/jeremyhahn/go-qrlive/pkg/resilience"
)

// DefaultServers is the stock NTP server set.
var DefaultServers = []string{
	"time.google.com",
	"time.cloudflare.com",
	"pool.ntp.org",
	"time.nist.gov",
}

const (
	defaultQueryTimeout = 5 * time.Second
	defaultCacheTTL     = 60 * time.Second

	breakerName = "time_servers"
)

// Sample is one server's answer to a time query.
type Sample struct {
	Server string        `json:"server"`
	Time   time.Time     `json:"time"`
	Offset time.Duration `json:"offset"`
	RTT    time.Duration `json:"rtt"`
}

// Querier fetches a single NTP sample. Tests swap in a stub.
type Querier func(server string, timeout time.Duration) (Sample, error)

// Config tunes a Source.
type Config struct {
	// Servers to query. Defaults to DefaultServers.
	Servers []string

	// QueryTimeout bounds each individual server query.
	QueryTimeout time.Duration

	// CacheTTL is how long a sync result stays fresh.
	CacheTTL time.Duration

	// Querier overrides the NTP client, for tests.
	Querier Querier

	// Breakers is the shared circuit breaker registry. A private one is
	// created when nil.
	Breakers *resilience.Manager

	Logger *logging.Logger
}

// Stats is a snapshot of the source's counters.
type Stats struct {
	TotalSyncs    uint64     `json:"total_syncs"`
	FailedSyncs   uint64     `json:"failed_syncs"`
	ServerQueries uint64     `json:"server_queries"`
	ServerErrors  uint64     `json:"server_errors"`
	LastSync      *time.Time `json:"last_sync,omitempty"`
	OffsetMillis  float64    `json:"offset_ms"`
	Reachable     int        `json:"reachable_servers"`
}

// Source queries NTP servers and tracks the local clock's offset
// against them.
type Source struct {
	servers  []string
	timeout  time.Duration
	ttl      time.Duration
	query    Querier
	breakers *resilience.Manager
	logger   *logging.Logger

	mu       sync.RWMutex
	offset   time.Duration
	samples  map[string]Sample
	syncedAt time.Time
	stats    Stats
}

// New creates a Source from cfg. It performs no network I/O; the first
// Sync or Verification call populates the cache.
func New(cfg Config) *Source {
	servers := cfg.Servers
	if servers == nil {
		servers = DefaultServers
	}
	timeout := cfg.QueryTimeout
	if timeout <= 0 {
		timeout = defaultQueryTimeout
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	query := cfg.Querier
	if query == nil {
		query = ntpQuery
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	breakers := cfg.Breakers
	if breakers == nil {
		breakers = resilience.NewManager(logger)
	}
	return &Source{
		servers:  servers,
		timeout:  timeout,
		ttl:      ttl,
		query:    query,
		breakers: breakers,
		logger:   logger,
		samples:  make(map[string]Sample),
	}
}

// Now returns the local clock adjusted by the last synced offset. With
// no successful sync yet the offset is zero and Now is the local clock.
func (s *Source) Now() time.Time {
	s.mu.RLock()
	offset := s.offset
	s.mu.RUnlock()
	return time.Now().UTC().Add(offset)
}

// Offset returns the current smoothed clock offset.
func (s *Source) Offset() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.offset
}

// Sync queries every configured server and recomputes the offset from
// the answers. Partial reachability is fine; only a fully failed round
// is an error, and the previous offset is then kept.
func (s *Source) Sync(ctx context.Context) error {
	if len(s.servers) == 0 {
		return ErrNoServers
	}
	cb := s.breakers.Breaker(breakerName, &resilience.ProfileTimeServers)
	return cb.Execute(ctx, s.syncOnce)
}

func (s *Source) syncOnce(ctx context.Context) error {
	type answer struct {
		sample Sample
		err    error
	}

	results := make(chan answer, len(s.servers))
	var wg sync.WaitGroup
	for _, server := range s.servers {
		wg.Add(1)
		go func(server string) {
			defer wg.Done()
			sample, err := s.query(server, s.timeout)
			results <- answer{sample: sample, err: err}
		}(server)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
	}
	close(results)

	var (
		samples []Sample
		total   time.Duration
		errs    int
	)
	for ans := range results {
		if ans.err != nil {
			errs++
			s.logger.Debugf("time server %s failed: %v", ans.sample.Server, ans.err)
			continue
		}
		samples = append(samples, ans.sample)
		total += ans.sample.Offset
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.stats.TotalSyncs++
	s.stats.ServerQueries += uint64(len(s.servers))
	s.stats.ServerErrors += uint64(errs)

	if len(samples) == 0 {
		s.stats.FailedSyncs++
		metrics.RecordTimeSync(metrics.StatusError, 0)
		s.logger.Warnf("time sync failed, keeping previous offset %v", s.offset)
		return fmt.Errorf("%w: %d servers", ErrAllServersFailed, len(s.servers))
	}

	s.offset = total / time.Duration(len(samples))
	metrics.RecordTimeSync(metrics.StatusSuccess, s.offset.Seconds())
	s.samples = make(map[string]Sample, len(samples))
	for _, sample := range samples {
		s.samples[sample.Server] = sample
	}
	now := time.Now().UTC()
	s.syncedAt = now
	s.stats.LastSync = &now
	s.logger.Debugf("time sync: %d/%d servers, offset %v", len(samples), len(s.servers), s.offset)
	return nil
}

// Verification returns the per-server attestation map carried in
// payloads: server name to its reported RFC3339 time. Stale caches are
// refreshed best-effort; an unreachable world yields the cached map,
// possibly empty.
func (s *Source) Verification(ctx context.Context) map[string]string {
	s.mu.RLock()
	fresh := !s.syncedAt.IsZero() && time.Since(s.syncedAt) < s.ttl
	s.mu.RUnlock()

	if !fresh {
		if err := s.Sync(ctx); err != nil {
			s.logger.Debugf("time verification refresh failed: %v", err)
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	verification := make(map[string]string, len(s.samples))
	for server, sample := range s.samples {
		verification[server] = sample.Time.UTC().Format(time.RFC3339)
	}
	return verification
}

// Samples returns the raw cached samples from the last successful sync.
func (s *Source) Samples() []Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Sample, 0, len(s.samples))
	for _, sample := range s.samples {
		out = append(out, sample)
	}
	return out
}

// Stats returns a counter snapshot.
func (s *Source) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := s.stats
	stats.OffsetMillis = float64(s.offset) / float64(time.Millisecond)
	stats.Reachable = len(s.samples)
	return stats
}

func ntpQuery(server string, timeout time.Duration) (Sample, error) {
	resp, err := ntp.QueryWithOptions(server, ntp.QueryOptions{Timeout: timeout})
	if err != nil {
		return Sample{Server: server}, err
	}
	if err := resp.Validate(); err != nil {
		return Sample{Server: server}, err
	}
	return Sample{
		Server: server,
		Time:   resp.Time,
		Offset: resp.ClockOffset,
		RTT:    resp.RTT,
	}, nil
}
