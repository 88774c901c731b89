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

package qrgen

import "errors"

var (
	// ErrInvalidLevel is returned for an unknown error correction level.
	ErrInvalidLevel = errors.New("qrgen: invalid error correction level")

	// ErrPayloadTooLarge is returned when the payload exceeds QR
	// capacity at the configured error correction level.
	ErrPayloadTooLarge = errors.New("qrgen: payload exceeds QR capacity")

	// ErrEncode is returned when the barcode encoder rejects the
	// payload for any other reason.
	ErrEncode = errors.New("qrgen: encode failed")
)
