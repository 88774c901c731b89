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
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/jeremyhahn/go-qrlive/pkg/logging"
)

// RetryConfig tunes exponential backoff retries.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts including the first.
	MaxAttempts int

	// InitialInterval is the delay before the first retry.
	InitialInterval time.Duration

	// MaxInterval caps the delay between retries.
	MaxInterval time.Duration

	// Multiplier grows the delay after each failed attempt.
	Multiplier float64
}

func (c *RetryConfig) applyDefaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.InitialInterval <= 0 {
		c.InitialInterval = 500 * time.Millisecond
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = 10 * time.Second
	}
	if c.Multiplier <= 1 {
		c.Multiplier = 2.0
	}
}

// Retry runs op with exponential backoff until it succeeds, the attempt
// budget is spent, or ctx is cancelled. The last error is returned.
// Wrap terminal errors with Permanent to stop retrying early.
func Retry(ctx context.Context, cfg *RetryConfig, op func(context.Context) error) error {
	return retryNamed(ctx, "", cfg, logging.DefaultLogger(), op)
}

func retryNamed(ctx context.Context, name string, cfg *RetryConfig, logger *logging.Logger, op func(context.Context) error) error {
	var c RetryConfig
	if cfg != nil {
		c = *cfg
	}
	c.applyDefaults()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.InitialInterval
	b.MaxInterval = c.MaxInterval
	b.Multiplier = c.Multiplier
	b.MaxElapsedTime = 0

	attempt := 0
	wrapped := func() error {
		attempt++
		err := op(ctx)
		if err != nil && attempt < c.MaxAttempts {
			if name != "" {
				logger.Debugf("%s attempt %d/%d failed: %v", name, attempt, c.MaxAttempts, err)
			}
		}
		return err
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.MaxAttempts-1)), ctx)
	return backoff.Retry(wrapped, policy)
}

// Permanent marks err as not worth retrying. Retry returns it as-is
// without consuming further attempts.
func Permanent(err error) error {
	return backoff.Permanent(err)
}
