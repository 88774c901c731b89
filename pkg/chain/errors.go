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

package chain

import "errors"

var (
	// ErrUnsupportedChain is returned for a chain name with no fetcher.
	ErrUnsupportedChain = errors.New("chain: unsupported chain")

	// ErrBadResponse is returned when an explorer or RPC endpoint
	// answers with something that is not a block hash.
	ErrBadResponse = errors.New("chain: malformed endpoint response")

	// ErrFetchFailed is returned when every endpoint for a chain failed.
	ErrFetchFailed = errors.New("chain: head fetch failed")
)
