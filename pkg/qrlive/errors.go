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

package qrlive

import "errors"

var (
	// ErrKeyStoreRequired is returned when a Protocol is configured
	// without a keystore.
	ErrKeyStoreRequired = errors.New("qrlive: keystore is required")

	// ErrAlreadyRunning is returned by Start when live generation is
	// already active.
	ErrAlreadyRunning = errors.New("qrlive: live generation already running")

	// ErrNotRunning is returned by Stop when live generation is not
	// active.
	ErrNotRunning = errors.New("qrlive: live generation not running")

	// ErrNoEmission is returned when the current emission is requested
	// before the first generation.
	ErrNoEmission = errors.New("qrlive: no emission generated yet")
)
