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

// Package resilience wraps unreliable operations, chiefly the external
// time and blockchain fetches, with circuit breaking and retry.
//
// A breaker starts closed, opens after a run of failures, rejects calls
// while open, and probes with a half-open trial once the recovery timeout
// elapses. The crypto pipeline itself is safe to wrap: its operations are
// idempotent aside from key usage-count drift.
package resilience

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jeremyhahn/go-qrlive/pkg/logging"
)

// State of a circuit breaker.
type State string

const (
	// StateClosed lets calls through and counts failures.
	StateClosed State = "closed"

	// StateOpen rejects calls until the recovery timeout elapses.
	StateOpen State = "open"

	// StateHalfOpen lets trial calls through; enough successes close the
	// breaker, any failure reopens it.
	StateHalfOpen State = "half_open"
)

// BreakerConfig tunes a circuit breaker.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens
	// the breaker.
	FailureThreshold int

	// RecoveryTimeout is how long the breaker stays open before probing.
	RecoveryTimeout time.Duration

	// SuccessThreshold is the number of half-open successes that close
	// the breaker again.
	SuccessThreshold int
}

func (c *BreakerConfig) applyDefaults() {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = 60 * time.Second
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = 3
	}
}

// BreakerStats is a snapshot of a breaker's counters.
type BreakerStats struct {
	State         State      `json:"state"`
	TotalCalls    uint64     `json:"total_calls"`
	TotalFailures uint64     `json:"total_failures"`
	Rejected      uint64     `json:"rejected"`
	LastFailure   *time.Time `json:"last_failure,omitempty"`
}

// CircuitBreaker protects one named downstream dependency.
type CircuitBreaker struct {
	name   string
	cfg    BreakerConfig
	logger *logging.Logger

	mu        sync.Mutex
	state     State
	failures  int
	successes int
	openedAt  time.Time
	stats     BreakerStats
}

// NewCircuitBreaker creates a closed breaker. A nil config uses the
// defaults (5 failures, 60s recovery, 3 half-open successes).
func NewCircuitBreaker(name string, cfg *BreakerConfig, logger *logging.Logger) *CircuitBreaker {
	var c BreakerConfig
	if cfg != nil {
		c = *cfg
	}
	c.applyDefaults()
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	return &CircuitBreaker{
		name:   name,
		cfg:    c,
		logger: logger,
		state:  StateClosed,
	}
}

// Execute runs op through the breaker. While open it fails fast with
// ErrCircuitOpen; otherwise op's error is returned and counted.
func (cb *CircuitBreaker) Execute(ctx context.Context, op func(context.Context) error) error {
	if err := cb.allow(); err != nil {
		return err
	}

	err := op(ctx)
	cb.record(err)
	return err
}

func (cb *CircuitBreaker) allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if time.Since(cb.openedAt) < cb.cfg.RecoveryTimeout {
			cb.stats.Rejected++
			return fmt.Errorf("%w: %s", ErrCircuitOpen, cb.name)
		}
		cb.state = StateHalfOpen
		cb.successes = 0
		cb.logger.Infof("circuit breaker %s half-open, probing", cb.name)
	}

	cb.stats.TotalCalls++
	return nil
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil {
		switch cb.state {
		case StateHalfOpen:
			cb.successes++
			if cb.successes >= cb.cfg.SuccessThreshold {
				cb.state = StateClosed
				cb.failures = 0
				cb.logger.Infof("circuit breaker %s closed", cb.name)
			}
		case StateClosed:
			cb.failures = 0
		}
		return
	}

	now := time.Now().UTC()
	cb.stats.TotalFailures++
	cb.stats.LastFailure = &now

	switch cb.state {
	case StateHalfOpen:
		cb.open(now)
	case StateClosed:
		cb.failures++
		if cb.failures >= cb.cfg.FailureThreshold {
			cb.open(now)
		}
	}
}

func (cb *CircuitBreaker) open(now time.Time) {
	cb.state = StateOpen
	cb.openedAt = now
	cb.successes = 0
	cb.logger.Warnf("circuit breaker %s open after %d failures", cb.name, cb.failures)
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Stats returns a snapshot of the breaker counters.
func (cb *CircuitBreaker) Stats() BreakerStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	stats := cb.stats
	stats.State = cb.state
	return stats
}
