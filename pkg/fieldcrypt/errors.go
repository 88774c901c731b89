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

package fieldcrypt

import "errors"

var (
	// ErrInvalidKey is returned when an encryption key is not 32 bytes.
	ErrInvalidKey = errors.New("fieldcrypt: key must be 32 bytes")

	// ErrDecrypt is returned when a field fails AEAD authentication, was
	// sealed under a different key, or carries a malformed blob. Distinct
	// from an absent field, which is skipped silently.
	ErrDecrypt = errors.New("fieldcrypt: decryption failed")

	// ErrMissingKey is returned when a payload names a data key this
	// engine does not hold.
	ErrMissingKey = errors.New("fieldcrypt: no key registered for data key id")
)
