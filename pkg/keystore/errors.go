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

package keystore

import "errors"

var (
	// ErrBackendRequired is returned when no storage backend is configured.
	ErrBackendRequired = errors.New("keystore: storage backend is required")

	// ErrClosed is returned when operating on a closed keystore.
	ErrClosed = errors.New("keystore: keystore is closed")

	// ErrKeyNotFound is returned when the requested key does not exist.
	ErrKeyNotFound = errors.New("keystore: key not found")

	// ErrInvalidAlgorithm is returned for algorithms other than RSA or ECDSA.
	ErrInvalidAlgorithm = errors.New("keystore: invalid key algorithm")

	// ErrInvalidKeySize is returned when the key size is outside the policy
	// for the algorithm. Sizes are rejected, never clamped.
	ErrInvalidKeySize = errors.New("keystore: invalid key size")

	// ErrCorruptRecord is returned when a stored key record cannot be
	// decoded or unsealed.
	ErrCorruptRecord = errors.New("keystore: corrupt key record")

	// ErrMasterKey is returned when the master key cannot be loaded or
	// created.
	ErrMasterKey = errors.New("keystore: master key unavailable")

	// ErrUnsupportedFormat is returned for unknown public key export formats.
	ErrUnsupportedFormat = errors.New("keystore: unsupported export format")

	// ErrPassphraseRequired is returned when an encrypted backup is
	// requested without a passphrase.
	ErrPassphraseRequired = errors.New("keystore: passphrase cannot be empty")

	// ErrNotSigner is returned when a stored private key does not implement
	// crypto.Signer.
	ErrNotSigner = errors.New("keystore: stored key is not a signer")
)
