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

import "time"

// Breaker profiles tuned per dependency. Blockchain explorers rate-limit
// aggressively so their breaker trips early; QR generation is local and
// only fails on oversized payloads, so its breaker is slow to open.
var (
	ProfileBlockchain = BreakerConfig{
		FailureThreshold: 3,
		RecoveryTimeout:  30 * time.Second,
		SuccessThreshold: 2,
	}

	ProfileTimeServers = BreakerConfig{
		FailureThreshold: 5,
		RecoveryTimeout:  45 * time.Second,
		SuccessThreshold: 3,
	}

	ProfileQRGeneration = BreakerConfig{
		FailureThreshold: 10,
		RecoveryTimeout:  60 * time.Second,
		SuccessThreshold: 5,
	}
)

// Retry profiles. Network fetches tolerate longer waits than local
// crypto, which fails deterministically and rarely deserves a second try.
var (
	RetryNetwork = RetryConfig{
		MaxAttempts:     3,
		InitialInterval: time.Second,
		MaxInterval:     10 * time.Second,
	}

	RetryCrypto = RetryConfig{
		MaxAttempts:     2,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     2 * time.Second,
	}
)
