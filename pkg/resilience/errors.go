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

import "errors"

// ErrCircuitOpen is returned when a call is rejected because the circuit
// breaker is open. The wrapped message names the breaker.
var ErrCircuitOpen = errors.New("resilience: circuit breaker open")
