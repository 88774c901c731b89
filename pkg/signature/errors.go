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

package signature

import "errors"

var (
	// ErrNoSignature is returned when verifying a payload that carries no
	// signature envelope. Check for the envelope before calling Verify.
	ErrNoSignature = errors.New("signature: payload has no signature envelope")

	// ErrUnsupportedAlgorithm is returned when an envelope names an
	// algorithm this implementation does not speak at all. A known
	// algorithm that merely mismatches the stored key is a failed
	// verification, not an error.
	ErrUnsupportedAlgorithm = errors.New("signature: unsupported signature algorithm")

	// ErrInvalidPublicKey is returned when a stored public key has a type
	// inconsistent with its record.
	ErrInvalidPublicKey = errors.New("signature: invalid public key type")
)
