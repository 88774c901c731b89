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

// Package integrity applies and verifies the keyed HMAC envelope, the
// mandatory outer integrity layer of every payload.
//
// The HMAC-SHA256 is computed over the canonical payload bytes, which at
// sealing time already include any signature envelope, so the HMAC covers
// the signature. Comparison is constant-time. A payload without an HMAC
// never verifies.
package integrity

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/jeremyhahn/go-qrlive/pkg/canonical"
	"github.com/jeremyhahn/go-qrlive/pkg/keystore"
	"github.com/jeremyhahn/go-qrlive/pkg/logging"
)

// Envelope field names in the payload.
const (
	FieldHMAC      = "_hmac"
	FieldKeyID     = "_hmac_key_id"
	FieldAlgorithm = "_hmac_algorithm"
	FieldCheckedAt = "_integrity_checked_at"
)

// AlgSHA256 is the only HMAC algorithm emitted or accepted.
const AlgSHA256 = "sha256"

// KeySize is the required HMAC key length in bytes.
const KeySize = 32

// derivationContext binds the default engine key to the keystore master key.
const derivationContext = "integrity-hmac"

// Envelope carries the integrity HMAC and its metadata.
type Envelope struct {
	HMAC      string `json:"_hmac"`
	KeyID     string `json:"_hmac_key_id"`
	Algorithm string `json:"_hmac_algorithm"`
	CheckedAt string `json:"_integrity_checked_at"`
}

// Apply returns a copy of payload with the envelope fields set.
func (e *Envelope) Apply(payload map[string]any) map[string]any {
	out := canonical.Without(payload)
	out[FieldHMAC] = e.HMAC
	out[FieldKeyID] = e.KeyID
	out[FieldAlgorithm] = e.Algorithm
	out[FieldCheckedAt] = e.CheckedAt
	return out
}

// Engine seals payloads with a keyed HMAC and verifies sealed payloads.
type Engine struct {
	key    []byte
	keyID  string
	logger *logging.Logger
}

// NewEngine creates an integrity engine with an explicit 32-byte key.
// The key ID is embedded in envelopes so verifiers can tell which key a
// payload was sealed with.
func NewEngine(key []byte, keyID string, logger *logging.Logger) (*Engine, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	k := make([]byte, KeySize)
	copy(k, key)
	return &Engine{key: k, keyID: keyID, logger: logger}, nil
}

// NewEngineFromKeystore creates an integrity engine whose key is derived
// from the keystore master key. Every process sharing the keystore derives
// the same key and key ID.
func NewEngineFromKeystore(ks *keystore.KeyStore, logger *logging.Logger) (*Engine, error) {
	key, keyID, err := ks.DeriveKey(derivationContext)
	if err != nil {
		return nil, err
	}
	return NewEngine(key, keyID, logger)
}

// KeyID returns the identifier embedded in envelopes sealed by this engine.
func (e *Engine) KeyID() string {
	return e.keyID
}

// Seal computes the HMAC envelope over payload. The payload must already
// carry everything the HMAC is meant to cover, including any signature
// envelope.
func (e *Engine) Seal(payload map[string]any) (*Envelope, error) {
	canon, err := canonical.Canonicalize(payload)
	if err != nil {
		return nil, err
	}

	mac := hmac.New(sha256.New, e.key)
	mac.Write(canon)

	return &Envelope{
		HMAC:      hex.EncodeToString(mac.Sum(nil)),
		KeyID:     e.keyID,
		Algorithm: AlgSHA256,
		CheckedAt: time.Now().UTC().Format(time.RFC3339),
	}, nil
}

// Verify checks the HMAC envelope embedded in payload. It reports false
// for a missing or empty HMAC, an unknown algorithm or key ID, and any
// mismatch after recomputation; none of these are errors.
func (e *Engine) Verify(payload map[string]any) (bool, error) {
	expectedHex, ok := payload[FieldHMAC].(string)
	if !ok || expectedHex == "" {
		return false, nil
	}

	if alg, ok := payload[FieldAlgorithm].(string); ok && alg != AlgSHA256 {
		e.logger.Debugf("integrity: unsupported hmac algorithm %q", alg)
		return false, nil
	}
	if keyID, ok := payload[FieldKeyID].(string); ok && keyID != "" && keyID != e.keyID {
		e.logger.Debugf("integrity: hmac key mismatch: payload %s, engine %s", keyID, e.keyID)
		return false, nil
	}

	expected, err := hex.DecodeString(expectedHex)
	if err != nil {
		return false, nil
	}

	stripped := canonical.Without(payload,
		FieldHMAC, FieldKeyID, FieldAlgorithm, FieldCheckedAt)
	canon, err := canonical.Canonicalize(stripped)
	if err != nil {
		return false, err
	}

	mac := hmac.New(sha256.New, e.key)
	mac.Write(canon)

	return hmac.Equal(mac.Sum(nil), expected), nil
}
