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

package resilience

import (
	"context"
	"sync"

	"github.com/jeremyhahn/go-qrlive/pkg/logging"
)

// Manager keeps one circuit breaker per named dependency so concurrent
// callers share failure history.
type Manager struct {
	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
	logger   *logging.Logger
}

// NewManager creates an empty breaker registry.
func NewManager(logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	return &Manager{
		breakers: make(map[string]*CircuitBreaker),
		logger:   logger,
	}
}

// Breaker returns the breaker registered under name, creating it with
// cfg on first use. Later calls ignore cfg.
func (m *Manager) Breaker(name string, cfg *BreakerConfig) *CircuitBreaker {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cb, ok := m.breakers[name]; ok {
		return cb
	}
	cb := NewCircuitBreaker(name, cfg, m.logger)
	m.breakers[name] = cb
	return cb
}

// States reports the current state of every registered breaker.
func (m *Manager) States() map[string]State {
	m.mu.Lock()
	defer m.mu.Unlock()

	states := make(map[string]State, len(m.breakers))
	for name, cb := range m.breakers {
		states[name] = cb.State()
	}
	return states
}

// Stats reports counter snapshots for every registered breaker.
func (m *Manager) Stats() map[string]BreakerStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := make(map[string]BreakerStats, len(m.breakers))
	for name, cb := range m.breakers {
		stats[name] = cb.Stats()
	}
	return stats
}

// Execute runs op under the named breaker with retries inside the
// breaker: a fully exhausted retry budget counts as one breaker failure,
// and an open breaker rejects without burning retry attempts.
func (m *Manager) Execute(ctx context.Context, name string, retry *RetryConfig, op func(context.Context) error) error {
	cb := m.Breaker(name, nil)
	return cb.Execute(ctx, func(ctx context.Context) error {
		return retryNamed(ctx, name, retry, m.logger, op)
	})
}
