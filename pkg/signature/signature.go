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

// Package signature signs payloads and verifies signature envelopes.
//
// Signatures are computed over the SHA-256 digest of the canonical payload
// with the envelope fields stripped. RSA keys sign with RSA-PSS
// (MGF1-SHA256, maximum salt); ECDSA keys produce ASN.1 DER signatures.
// The algorithm is always taken from the stored key record, never from
// caller input or the envelope.
package signature

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/jeremyhahn/go-qrlive/pkg/canonical"
	"github.com/jeremyhahn/go-qrlive/pkg/keystore"
	"github.com/jeremyhahn/go-qrlive/pkg/logging"
)

// Envelope field names in the payload.
const (
	FieldSignature = "digital_signature"
	FieldKeyID     = "signing_key_id"
	FieldAlgorithm = "signature_algorithm"
)

// Wire values of the signature_algorithm envelope field.
const (
	AlgRSA   = "rsa"
	AlgECDSA = "ecdsa"
)

// Envelope carries a payload signature and the metadata needed to verify
// it. The three fields are embedded into the payload itself and covered by
// the integrity HMAC applied afterwards.
type Envelope struct {
	DigitalSignature   string `json:"digital_signature"`
	SigningKeyID       string `json:"signing_key_id"`
	SignatureAlgorithm string `json:"signature_algorithm"`
}

// Apply returns a copy of payload with the envelope fields set.
func (e *Envelope) Apply(payload map[string]any) map[string]any {
	out := canonical.Without(payload)
	out[FieldSignature] = e.DigitalSignature
	out[FieldKeyID] = e.SigningKeyID
	out[FieldAlgorithm] = e.SignatureAlgorithm
	return out
}

// FromPayload extracts the signature envelope from a payload, or nil when
// the payload is unsigned.
func FromPayload(payload map[string]any) *Envelope {
	sig, ok := payload[FieldSignature].(string)
	if !ok || sig == "" {
		return nil
	}
	keyID, _ := payload[FieldKeyID].(string)
	alg, _ := payload[FieldAlgorithm].(string)
	return &Envelope{
		DigitalSignature:   sig,
		SigningKeyID:       keyID,
		SignatureAlgorithm: alg,
	}
}

// Engine signs and verifies payloads with keys from a keystore.
type Engine struct {
	keys   *keystore.KeyStore
	logger *logging.Logger
}

// NewEngine creates a signature engine backed by the given keystore.
func NewEngine(keys *keystore.KeyStore, logger *logging.Logger) *Engine {
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	return &Engine{keys: keys, logger: logger}
}

// Sign computes the signature envelope for payload with the given key.
// The payload must not already carry envelope fields. On success the key's
// usage counter is bumped.
func (e *Engine) Sign(payload map[string]any, keyID string) (*Envelope, error) {
	record, err := e.keys.Get(keyID)
	if err != nil {
		return nil, err
	}

	canon, err := canonical.Canonicalize(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to canonicalize payload: %w", err)
	}
	digest := sha256.Sum256(canon)

	var sig []byte
	err = e.keys.WithSigner(keyID, func(signer crypto.Signer) error {
		opts, err := signerOpts(record.Algorithm)
		if err != nil {
			return err
		}
		sig, err = signer.Sign(rand.Reader, digest[:], opts)
		if err != nil {
			return fmt.Errorf("failed to sign payload: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := e.keys.RecordUsage(keyID); err != nil {
		e.logger.Warnf("failed to record key usage for %s: %v", keyID, err)
	}

	return &Envelope{
		DigitalSignature:   hex.EncodeToString(sig),
		SigningKeyID:       keyID,
		SignatureAlgorithm: strings.ToLower(string(record.Algorithm)),
	}, nil
}

// Verify checks the signature envelope embedded in payload against the
// stored public key of the signing key ID.
//
// Tampered payloads, unknown key IDs and algorithm mismatches all report
// (false, nil): they are verification outcomes, not errors. Errors are
// reserved for misuse, such as verifying an unsigned payload.
func (e *Engine) Verify(payload map[string]any) (bool, error) {
	env := FromPayload(payload)
	if env == nil {
		return false, ErrNoSignature
	}

	if !knownAlgorithm(env.SignatureAlgorithm) {
		return false, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, env.SignatureAlgorithm)
	}

	record, err := e.keys.Get(env.SigningKeyID)
	if err != nil {
		if errors.Is(err, keystore.ErrKeyNotFound) {
			e.logger.Debugf("signature verification: unknown key %s", env.SigningKeyID)
			return false, nil
		}
		return false, err
	}

	// The stored record decides the algorithm; an envelope claiming a
	// different one fails verification rather than steering it.
	if env.SignatureAlgorithm != strings.ToLower(string(record.Algorithm)) {
		e.logger.Debugf("signature verification: algorithm mismatch for key %s", env.SigningKeyID)
		return false, nil
	}

	pub, err := e.keys.PublicKey(env.SigningKeyID)
	if err != nil {
		return false, err
	}

	return verifyEnvelope(payload, env, pub)
}

// VerifyDetached checks the envelope in payload against an externally
// supplied public key, for verifiers holding a key descriptor instead of
// the keystore.
func (e *Engine) VerifyDetached(payload map[string]any, pub crypto.PublicKey) (bool, error) {
	env := FromPayload(payload)
	if env == nil {
		return false, ErrNoSignature
	}
	if !knownAlgorithm(env.SignatureAlgorithm) {
		return false, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, env.SignatureAlgorithm)
	}
	return verifyEnvelope(payload, env, pub)
}

// verifyEnvelope recomputes the digest over the stripped payload and
// checks the signature with the given public key.
func verifyEnvelope(payload map[string]any, env *Envelope, pub crypto.PublicKey) (bool, error) {
	sig, err := hex.DecodeString(env.DigitalSignature)
	if err != nil {
		return false, nil
	}

	stripped := canonical.Without(payload, FieldSignature, FieldKeyID, FieldAlgorithm)
	canon, err := canonical.Canonicalize(stripped)
	if err != nil {
		return false, fmt.Errorf("failed to canonicalize payload: %w", err)
	}
	digest := sha256.Sum256(canon)

	switch key := pub.(type) {
	case *rsa.PublicKey:
		opts := &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthAuto, Hash: crypto.SHA256}
		if err := rsa.VerifyPSS(key, crypto.SHA256, digest[:], sig, opts); err != nil {
			return false, nil
		}
		return true, nil
	case *ecdsa.PublicKey:
		return ecdsa.VerifyASN1(key, digest[:], sig), nil
	default:
		return false, fmt.Errorf("%w: %T", ErrInvalidPublicKey, pub)
	}
}

// signerOpts returns the crypto.SignerOpts for a stored key algorithm.
func signerOpts(algorithm keystore.Algorithm) (crypto.SignerOpts, error) {
	switch algorithm {
	case keystore.AlgorithmRSA:
		return &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthAuto, Hash: crypto.SHA256}, nil
	case keystore.AlgorithmECDSA:
		return crypto.SHA256, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, algorithm)
	}
}

func knownAlgorithm(alg string) bool {
	switch alg {
	case AlgRSA, AlgECDSA:
		return true
	default:
		return false
	}
}
