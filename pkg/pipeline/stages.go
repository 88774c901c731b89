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

package pipeline

import (
	"github.com/jeremyhahn/go-qrlive/pkg/canonical"
	"github.com/jeremyhahn/go-qrlive/pkg/fieldcrypt"
	"github.com/jeremyhahn/go-qrlive/pkg/integrity"
	"github.com/jeremyhahn/go-qrlive/pkg/signature"
)

// The stage types encode the layer ordering in the type system: a Draft
// can be signed or passed through, only a Signed can be sealed, and only a
// Sealed can be encrypted or emitted. There is no path that seals before
// signing or encrypts before sealing.

// Draft is a raw payload before any cryptographic layer.
type Draft struct {
	payload map[string]any
}

// NewDraft starts the envelope stack from a raw payload. The payload map
// is shallow-copied; callers must not mutate nested values afterwards.
func NewDraft(payload map[string]any) *Draft {
	return &Draft{payload: canonical.Without(payload)}
}

// Sign attaches a signature envelope, producing a signed payload.
func (d *Draft) Sign(engine *signature.Engine, keyID string) (*Signed, error) {
	env, err := engine.Sign(d.payload, keyID)
	if err != nil {
		return nil, err
	}
	return &Signed{payload: env.Apply(d.payload), signed: true}, nil
}

// Unsigned passes the draft through without a signature.
func (d *Draft) Unsigned() *Signed {
	return &Signed{payload: d.payload}
}

// Signed is a payload after the optional signature layer.
type Signed struct {
	payload map[string]any
	signed  bool
}

// Signed reports whether a signature envelope was attached.
func (s *Signed) Signed() bool {
	return s.signed
}

// Seal attaches the integrity HMAC envelope, covering any signature.
func (s *Signed) Seal(engine *integrity.Engine) (*Sealed, error) {
	env, err := engine.Seal(s.payload)
	if err != nil {
		return nil, err
	}
	return &Sealed{payload: env.Apply(s.payload), signed: s.signed}, nil
}

// Sealed is a payload carrying its integrity HMAC.
type Sealed struct {
	payload map[string]any
	signed  bool
}

// Encrypt seals the sensitive fields, producing the final emission.
// A nil fields slice means the engine's configured sensitive set.
func (s *Sealed) Encrypt(engine *fieldcrypt.Engine, fields []string) (*Emission, error) {
	payload, err := engine.EncryptFields(s.payload, fields)
	if err != nil {
		return nil, err
	}
	return &Emission{payload: payload, signed: s.signed, encrypted: true}, nil
}

// Plaintext emits the sealed payload without field encryption.
func (s *Sealed) Plaintext() *Emission {
	return &Emission{payload: s.payload, signed: s.signed}
}

// Emission is the finished payload ready for the wire.
type Emission struct {
	payload   map[string]any
	signed    bool
	encrypted bool
}

// Payload returns the emission's payload map.
func (e *Emission) Payload() map[string]any {
	return e.payload
}

// Signed reports whether the emission carries a signature envelope.
func (e *Emission) Signed() bool {
	return e.signed
}

// Encrypted reports whether the emission carries an encryption envelope.
func (e *Emission) Encrypted() bool {
	return e.encrypted
}

// Wire returns the canonical wire bytes of the emission, the exact input
// handed to the QR encoder.
func (e *Emission) Wire() ([]byte, error) {
	return canonical.Canonicalize(e.payload)
}
