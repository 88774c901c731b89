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

package canonical

import "errors"

var (
	// ErrInvalidJSON is returned when wire bytes are not a single JSON object.
	ErrInvalidJSON = errors.New("canonical: invalid JSON payload")

	// ErrUnsupportedValue is returned when a payload contains a value that
	// cannot be represented in JSON.
	ErrUnsupportedValue = errors.New("canonical: unsupported payload value")
)
