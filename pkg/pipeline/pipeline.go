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

// Package pipeline composes the cryptographic layers into payload creation
// and verification.
//
// Creation applies the layers in fixed order: optional signature, then the
// mandatory integrity HMAC, then optional field encryption. Because
// encryption is last, the HMAC always covers the plaintext signed payload
// and encryption stays a pure confidentiality wrapper. Verification runs
// the exact inverse.
//
// Signing and encryption failures degrade: the emission proceeds with the
// weaker guarantee and a logged warning. A failure to seal the HMAC has no
// degrade path and fails the creation call.
package pipeline

import (
	"fmt"

	"github.com/jeremyhahn/go-qrlive/pkg/canonical"
	"github.com/jeremyhahn/go-qrlive/pkg/fieldcrypt"
	"github.com/jeremyhahn/go-qrlive/pkg/integrity"
	"github.com/jeremyhahn/go-qrlive/pkg/logging"
	"github.com/jeremyhahn/go-qrlive/pkg/signature"
)

// Config holds the engines the pipeline composes. Integrity is mandatory;
// the signature and field encryption engines may be nil when those layers
// are never requested.
type Config struct {
	Signatures *signature.Engine
	Integrity  *integrity.Engine
	Fields     *fieldcrypt.Engine
	Logger     *logging.Logger
}

// Options selects the optional layers for one emission.
type Options struct {
	// Sign attaches a signature envelope with SigningKeyID.
	Sign         bool
	SigningKeyID string

	// Encrypt seals the sensitive fields after the HMAC. EncryptFields
	// overrides the engine's configured set when non-nil.
	Encrypt       bool
	EncryptFields []string
}

// Pipeline creates and verifies protocol payloads.
type Pipeline struct {
	signatures *signature.Engine
	integrity  *integrity.Engine
	fields     *fieldcrypt.Engine
	logger     *logging.Logger
}

// New creates a pipeline from the given engines.
func New(cfg *Config) (*Pipeline, error) {
	if cfg == nil || cfg.Integrity == nil {
		return nil, ErrIntegrityRequired
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	return &Pipeline{
		signatures: cfg.Signatures,
		integrity:  cfg.Integrity,
		fields:     cfg.Fields,
		logger:     logger,
	}, nil
}

// Create runs a raw payload through the envelope stack. Signing and
// encryption failures are logged and degrade to a weaker emission; a
// sealing failure is fatal.
func (p *Pipeline) Create(payload map[string]any, opts Options) (*Emission, error) {
	draft := NewDraft(payload)

	var signed *Signed
	if opts.Sign && p.signatures != nil {
		s, err := draft.Sign(p.signatures, opts.SigningKeyID)
		if err != nil {
			p.logger.Warnf("signing failed, continuing without signature: %v", err)
			signed = draft.Unsigned()
		} else {
			signed = s
		}
	} else {
		if opts.Sign {
			p.logger.Warn("signing requested but no signature engine configured")
		}
		signed = draft.Unsigned()
	}

	sealed, err := signed.Seal(p.integrity)
	if err != nil {
		return nil, fmt.Errorf("failed to seal payload: %w", err)
	}

	if opts.Encrypt && p.fields != nil {
		emission, err := sealed.Encrypt(p.fields, opts.EncryptFields)
		if err != nil {
			p.logger.Warnf("field encryption failed, continuing without encryption: %v", err)
			return sealed.Plaintext(), nil
		}
		return emission, nil
	}
	if opts.Encrypt {
		p.logger.Warn("encryption requested but no field encryption engine configured")
	}
	return sealed.Plaintext(), nil
}

// Verify parses wire bytes and inverts the envelope stack: decrypt when an
// encryption envelope is present, then check the HMAC, then check the
// signature when one is present. The returned Result is always fully
// populated; crypto failures are verdicts, not errors.
func (p *Pipeline) Verify(wire []byte) *Result {
	res := &Result{}

	payload, err := canonical.ParseJSON(wire)
	if err != nil {
		res.Error = fmt.Sprintf("invalid payload: %v", err)
		return res
	}
	res.ValidJSON = true

	if fieldcrypt.IsEncrypted(payload) {
		res.Encrypted = true
		if p.fields == nil {
			res.Error = "payload is encrypted but no field encryption engine is configured"
			return res
		}
		payload, err = p.fields.DecryptPayload(payload)
		if err != nil {
			res.Error = fmt.Sprintf("decryption failed: %v", err)
			return res
		}
	}

	hmacOK, err := p.integrity.Verify(payload)
	if err != nil {
		res.Error = fmt.Sprintf("integrity check failed: %v", err)
	}
	res.HMACVerified = hmacOK

	if signature.FromPayload(payload) != nil {
		if p.signatures == nil {
			p.logger.Debug("payload is signed but no signature engine is configured")
		} else {
			// The signature predates the seal, so the HMAC envelope must
			// come off before the digest is recomputed.
			unsealed := canonical.Without(payload,
				integrity.FieldHMAC, integrity.FieldKeyID,
				integrity.FieldAlgorithm, integrity.FieldCheckedAt)
			sigOK, err := p.signatures.Verify(unsealed)
			if err != nil {
				res.Error = fmt.Sprintf("signature check failed: %v", err)
			}
			res.SignatureVerified = sigOK
		}
	}

	res.Payload = payload
	return res
}
