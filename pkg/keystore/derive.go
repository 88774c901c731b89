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

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// hkdfInfoPrefix domain-separates derived keys from any other use of the
// master key.
const hkdfInfoPrefix = "go-qrlive/v1/"

// DeriveKey derives a purpose-bound 32-byte symmetric key from the master
// key via HKDF-SHA256. The integrity and field-encryption engines obtain
// their default keys here, so every process sharing a keystore derives
// identical keys and can verify each other's payloads.
//
// The returned key ID is deterministic for a given master key and context
// and is safe to embed in payload envelopes.
func (ks *KeyStore) DeriveKey(context string) ([]byte, string, error) {
	if context == "" {
		return nil, "", fmt.Errorf("%w: derivation context cannot be empty", ErrInvalidAlgorithm)
	}

	ks.mu.RLock()
	defer ks.mu.RUnlock()
	if ks.closed {
		return nil, "", ErrClosed
	}

	r := hkdf.New(sha256.New, ks.master, nil, []byte(hkdfInfoPrefix+context))
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, "", fmt.Errorf("failed to derive %s key: %w", context, err)
	}

	sum := sha256.Sum256(key)
	keyID := context + "-" + hex.EncodeToString(sum[:6])
	return key, keyID, nil
}
