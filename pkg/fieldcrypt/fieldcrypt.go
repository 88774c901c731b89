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

// Package fieldcrypt encrypts individual payload fields with AES-256-GCM.
//
// Each field value is serialized (JSON for structured values, raw UTF-8
// for strings), sealed with a fresh 96-bit IV, and replaced by the base64
// blob. The AAD binds the field name into the tag, so two ciphertexts of
// equal length cannot be swapped between fields. The encryption envelope
// records which fields were sealed; decryption is driven entirely by it.
package fieldcrypt

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/jeremyhahn/go-qrlive/pkg/canonical"
	"github.com/jeremyhahn/go-qrlive/pkg/crypto/aead"
	"github.com/jeremyhahn/go-qrlive/pkg/keystore"
	"github.com/jeremyhahn/go-qrlive/pkg/logging"
)

// Envelope field names in the payload.
const (
	FieldEncryptedFields = "_encrypted_fields"
	FieldKeyID           = "_encryption_key_id"
	FieldDataKeyID       = "_data_key_id"
	FieldEncryptedAt     = "_encrypted_at"
)

// aadPrefix scopes the associated data to a payload field.
const aadPrefix = "qr_field_"

// derivationContext binds the default engine key to the keystore master key.
const derivationContext = "field-encryption"

// DefaultSensitiveFields is the default set of fields the pipeline
// encrypts. The set is policy, not protocol: deployments override it in
// configuration as the payload schema evolves.
func DefaultSensitiveFields() []string {
	return []string{"user_data", "identity_hash", "custom_data"}
}

// DataKey is a standalone 256-bit encryption key, generated for payloads
// that must not be sealed under the engine default.
type DataKey struct {
	KeyID     string    `json:"key_id"`
	Key       []byte    `json:"-"`
	Algorithm string    `json:"algorithm"`
	CreatedAt time.Time `json:"created_at"`
	Purpose   string    `json:"purpose"`
}

// Engine encrypts and decrypts payload fields.
type Engine struct {
	key       []byte
	keyID     string
	sensitive []string
	dataKeys  map[string][]byte
	logger    *logging.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithSensitiveFields overrides the default sensitive-field set.
func WithSensitiveFields(fields []string) Option {
	return func(e *Engine) {
		e.sensitive = append([]string(nil), fields...)
	}
}

// WithLogger sets the engine logger.
func WithLogger(logger *logging.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// NewEngine creates a field encryption engine with an explicit 32-byte key.
func NewEngine(key []byte, keyID string, opts ...Option) (*Engine, error) {
	if len(key) != aead.KeySize {
		return nil, ErrInvalidKey
	}
	e := &Engine{
		key:       append([]byte(nil), key...),
		keyID:     keyID,
		sensitive: DefaultSensitiveFields(),
		dataKeys:  make(map[string][]byte),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = logging.DefaultLogger()
	}
	return e, nil
}

// NewEngineFromKeystore creates an engine whose default key is derived
// from the keystore master key.
func NewEngineFromKeystore(ks *keystore.KeyStore, opts ...Option) (*Engine, error) {
	key, keyID, err := ks.DeriveKey(derivationContext)
	if err != nil {
		return nil, err
	}
	return NewEngine(key, keyID, opts...)
}

// KeyID returns the identifier of the engine default key.
func (e *Engine) KeyID() string {
	return e.keyID
}

// SensitiveFields returns the configured sensitive-field set.
func (e *Engine) SensitiveFields() []string {
	return append([]string(nil), e.sensitive...)
}

// GenerateDataKey creates a fresh standalone key and registers it for
// decryption.
func (e *Engine) GenerateDataKey(purpose string) (*DataKey, error) {
	key, keyID, err := randomDataKey()
	if err != nil {
		return nil, err
	}
	e.dataKeys[keyID] = key
	return &DataKey{
		KeyID:     keyID,
		Key:       key,
		Algorithm: aead.Algorithm,
		CreatedAt: time.Now().UTC(),
		Purpose:   purpose,
	}, nil
}

// RegisterDataKey makes a previously generated data key available for
// envelope-driven decryption.
func (e *Engine) RegisterDataKey(dk *DataKey) error {
	if len(dk.Key) != aead.KeySize {
		return ErrInvalidKey
	}
	e.dataKeys[dk.KeyID] = append([]byte(nil), dk.Key...)
	return nil
}

// EncryptFields seals the named fields of payload under the engine default
// key and attaches the encryption envelope. Absent and nil fields are
// skipped; the envelope lists only the fields actually sealed. A nil
// fields slice means the configured sensitive-field set.
func (e *Engine) EncryptFields(payload map[string]any, fields []string) (map[string]any, error) {
	return e.encrypt(payload, fields, e.key, "")
}

// EncryptFieldsWithDataKey seals the named fields under a standalone data
// key and records its ID in the envelope.
func (e *Engine) EncryptFieldsWithDataKey(payload map[string]any, fields []string, dk *DataKey) (map[string]any, error) {
	if len(dk.Key) != aead.KeySize {
		return nil, ErrInvalidKey
	}
	return e.encrypt(payload, fields, dk.Key, dk.KeyID)
}

func (e *Engine) encrypt(payload map[string]any, fields []string, key []byte, dataKeyID string) (map[string]any, error) {
	if fields == nil {
		fields = e.sensitive
	}

	out := canonical.Without(payload)
	sealed := make([]string, 0, len(fields))
	for _, field := range fields {
		value, present := out[field]
		if !present || value == nil {
			continue
		}

		plaintext, err := serializeValue(value)
		if err != nil {
			return nil, fmt.Errorf("failed to serialize field %q: %w", field, err)
		}
		blob, err := aead.SealToString(key, plaintext, []byte(aadPrefix+field))
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt field %q: %w", field, err)
		}
		out[field] = blob
		sealed = append(sealed, field)
	}

	out[FieldEncryptedFields] = sealed
	out[FieldKeyID] = e.keyID
	if dataKeyID != "" {
		out[FieldDataKeyID] = dataKeyID
	}
	out[FieldEncryptedAt] = time.Now().UTC().Format(time.RFC3339)
	return out, nil
}

// DecryptFields opens the named fields of payload with the engine default
// key. Absent fields are skipped; an authentication failure on a present
// field returns ErrDecrypt with the field name.
func (e *Engine) DecryptFields(payload map[string]any, fields []string) (map[string]any, error) {
	return decryptInto(canonical.Without(payload), fields, e.key)
}

// DecryptPayload inverts the encryption envelope of payload: it resolves
// the key named by the envelope, opens every field the envelope lists and
// strips the envelope. A payload without an envelope is returned as an
// unchanged copy.
func (e *Engine) DecryptPayload(payload map[string]any) (map[string]any, error) {
	fields := encryptedFieldList(payload)
	if fields == nil {
		return canonical.Without(payload), nil
	}

	key := e.key
	if dataKeyID, ok := payload[FieldDataKeyID].(string); ok && dataKeyID != "" {
		dk, ok := e.dataKeys[dataKeyID]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingKey, dataKeyID)
		}
		key = dk
	}

	out := canonical.Without(payload,
		FieldEncryptedFields, FieldKeyID, FieldDataKeyID, FieldEncryptedAt)
	return decryptInto(out, fields, key)
}

func decryptInto(out map[string]any, fields []string, key []byte) (map[string]any, error) {
	for _, field := range fields {
		value, present := out[field]
		if !present || value == nil {
			continue
		}
		blob, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("%w: field %q is not an encrypted string", ErrDecrypt, field)
		}

		plaintext, err := aead.OpenFromString(key, blob, []byte(aadPrefix+field))
		if err != nil {
			return nil, fmt.Errorf("%w: field %q: %v", ErrDecrypt, field, err)
		}
		out[field] = deserializeValue(plaintext)
	}
	return out, nil
}

// IsEncrypted reports whether payload carries an encryption envelope.
func IsEncrypted(payload map[string]any) bool {
	return encryptedFieldList(payload) != nil
}

// encryptedFieldList extracts the _encrypted_fields list, tolerating both
// native []string and the []any produced by JSON decoding.
func encryptedFieldList(payload map[string]any) []string {
	switch v := payload[FieldEncryptedFields].(type) {
	case []string:
		return v
	case []any:
		fields := make([]string, 0, len(v))
		for _, f := range v {
			if s, ok := f.(string); ok {
				fields = append(fields, s)
			}
		}
		return fields
	default:
		return nil
	}
}

// serializeValue converts a field value to plaintext bytes: strings as raw
// UTF-8, everything else as compact JSON.
func serializeValue(value any) ([]byte, error) {
	if s, ok := value.(string); ok {
		return []byte(s), nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(value); err != nil {
		return nil, err
	}
	out := buf.Bytes()
	if n := len(out); n > 0 && out[n-1] == '\n' {
		out = out[:n-1]
	}
	return out, nil
}

// deserializeValue inverts serializeValue: bytes that parse as a single
// JSON value become that value, everything else is a string. The format
// cannot distinguish a string that happens to be valid JSON from the
// structured value it spells.
func deserializeValue(plaintext []byte) any {
	dec := json.NewDecoder(bytes.NewReader(plaintext))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err == nil && !dec.More() {
		return v
	}
	return string(plaintext)
}

func randomDataKey() ([]byte, string, error) {
	key := make([]byte, aead.KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, "", fmt.Errorf("failed to generate data key: %w", err)
	}
	sum := sha256.Sum256(key)
	return key, "data-" + hex.EncodeToString(sum[:6]), nil
}
