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
	"errors"
	"testing"
	"time"
)

var errBoom = errors.New("boom")

func failingOp(err error) func(context.Context) error {
	return func(context.Context) error { return err }
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker("test", &BreakerConfig{
		FailureThreshold: 3,
		RecoveryTimeout:  time.Minute,
	}, nil)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := cb.Execute(ctx, failingOp(errBoom)); !errors.Is(err, errBoom) {
			t.Fatalf("attempt %d: expected op error, got %v", i, err)
		}
	}

	if state := cb.State(); state != StateOpen {
		t.Fatalf("expected open after threshold, got %s", state)
	}

	err := cb.Execute(ctx, failingOp(nil))
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}

	stats := cb.Stats()
	if stats.Rejected != 1 {
		t.Fatalf("expected 1 rejected call, got %d", stats.Rejected)
	}
	if stats.TotalFailures != 3 {
		t.Fatalf("expected 3 failures, got %d", stats.TotalFailures)
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker("test", &BreakerConfig{
		FailureThreshold: 2,
		RecoveryTimeout:  time.Minute,
	}, nil)

	ctx := context.Background()
	cb.Execute(ctx, failingOp(errBoom))
	cb.Execute(ctx, failingOp(nil))
	cb.Execute(ctx, failingOp(errBoom))

	if state := cb.State(); state != StateClosed {
		t.Fatalf("expected closed after interleaved success, got %s", state)
	}
}

func TestBreakerRecovery(t *testing.T) {
	cb := NewCircuitBreaker("test", &BreakerConfig{
		FailureThreshold: 1,
		RecoveryTimeout:  20 * time.Millisecond,
		SuccessThreshold: 2,
	}, nil)

	ctx := context.Background()
	cb.Execute(ctx, failingOp(errBoom))
	if state := cb.State(); state != StateOpen {
		t.Fatalf("expected open, got %s", state)
	}

	time.Sleep(30 * time.Millisecond)

	// First probe moves the breaker to half-open.
	if err := cb.Execute(ctx, failingOp(nil)); err != nil {
		t.Fatalf("probe failed: %v", err)
	}
	if state := cb.State(); state != StateHalfOpen {
		t.Fatalf("expected half-open after one probe, got %s", state)
	}

	if err := cb.Execute(ctx, failingOp(nil)); err != nil {
		t.Fatalf("second probe failed: %v", err)
	}
	if state := cb.State(); state != StateClosed {
		t.Fatalf("expected closed after success threshold, got %s", state)
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker("test", &BreakerConfig{
		FailureThreshold: 1,
		RecoveryTimeout:  20 * time.Millisecond,
	}, nil)

	ctx := context.Background()
	cb.Execute(ctx, failingOp(errBoom))
	time.Sleep(30 * time.Millisecond)

	if err := cb.Execute(ctx, failingOp(errBoom)); !errors.Is(err, errBoom) {
		t.Fatalf("expected op error during probe, got %v", err)
	}
	if state := cb.State(); state != StateOpen {
		t.Fatalf("expected reopened breaker, got %s", state)
	}
}

func TestRetryEventualSuccess(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), &RetryConfig{
		MaxAttempts:     5,
		InitialInterval: time.Millisecond,
	}, func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errBoom
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestRetryExhaustsAttempts(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), &RetryConfig{
		MaxAttempts:     3,
		InitialInterval: time.Millisecond,
	}, func(context.Context) error {
		attempts++
		return errBoom
	})
	if !errors.Is(err, errBoom) {
		t.Fatalf("expected final op error, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestRetryPermanentStopsEarly(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), &RetryConfig{
		MaxAttempts:     5,
		InitialInterval: time.Millisecond,
	}, func(context.Context) error {
		attempts++
		return Permanent(errBoom)
	})
	if !errors.Is(err, errBoom) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected a single attempt, got %d", attempts)
	}
}

func TestRetryHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Retry(ctx, &RetryConfig{
		MaxAttempts:     10,
		InitialInterval: 10 * time.Millisecond,
	}, failingOp(errBoom))
	if err == nil {
		t.Fatal("expected error from cancelled context")
	}
}

func TestManagerSharesBreakers(t *testing.T) {
	m := NewManager(nil)

	a := m.Breaker("time_servers", &BreakerConfig{FailureThreshold: 1})
	b := m.Breaker("time_servers", nil)
	if a != b {
		t.Fatal("expected the same breaker instance for a repeated name")
	}

	ctx := context.Background()
	a.Execute(ctx, failingOp(errBoom))

	states := m.States()
	if states["time_servers"] != StateOpen {
		t.Fatalf("expected shared breaker open, got %s", states["time_servers"])
	}
}

func TestManagerExecuteRetriesInsideBreaker(t *testing.T) {
	m := NewManager(nil)
	m.Breaker("blockchain_api", &BreakerConfig{FailureThreshold: 2, RecoveryTimeout: time.Minute})

	attempts := 0
	err := m.Execute(context.Background(), "blockchain_api", &RetryConfig{
		MaxAttempts:     3,
		InitialInterval: time.Millisecond,
	}, func(context.Context) error {
		attempts++
		return errBoom
	})
	if !errors.Is(err, errBoom) {
		t.Fatalf("expected op error, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 retry attempts in one breaker call, got %d", attempts)
	}

	// The exhausted retry run counts as a single breaker failure.
	stats := m.Stats()["blockchain_api"]
	if stats.TotalFailures != 1 {
		t.Fatalf("expected 1 breaker failure, got %d", stats.TotalFailures)
	}
	if stats.State != StateClosed {
		t.Fatalf("expected breaker still closed, got %s", stats.State)
	}
}
