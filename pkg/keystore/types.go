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

import "time"

// Algorithm identifies the asymmetric key algorithm of a stored key.
type Algorithm string

const (
	// AlgorithmRSA is RSA with RSA-PSS signatures (MGF1-SHA256, max salt).
	AlgorithmRSA Algorithm = "RSA"

	// AlgorithmECDSA is ECDSA over a NIST curve with SHA-256 digests.
	AlgorithmECDSA Algorithm = "ECDSA"
)

// RSA key sizes are accepted anywhere in [MinRSABits, MaxRSABits].
// ECDSA sizes must name a NIST curve exactly.
const (
	MinRSABits = 2048
	MaxRSABits = 4096
)

// ExportFormat selects the encoding of an exported public key.
type ExportFormat string

const (
	// FormatPEM exports the public key as a PKIX PEM block.
	FormatPEM ExportFormat = "pem"

	// FormatDER exports the public key as raw PKIX DER bytes.
	FormatDER ExportFormat = "der"

	// FormatDescriptor exports a JSON descriptor carrying the key metadata
	// alongside the base64-encoded DER public key.
	FormatDescriptor ExportFormat = "descriptor"

	// FormatJWK exports the public key as a JSON Web Key.
	FormatJWK ExportFormat = "jwk"
)

// KeyRecord is the stored form of a key pair. The private key is never
// stored in the clear: PrivateKeyEncrypted is base64(nonce||tag||ciphertext)
// sealed under the keystore master key with the key ID as associated data.
type KeyRecord struct {
	KeyID               string     `json:"key_id"`
	Algorithm           Algorithm  `json:"algorithm"`
	KeySizeBits         int        `json:"key_size_bits"`
	Purpose             string     `json:"purpose"`
	PublicKey           string     `json:"public_key"`
	PrivateKeyEncrypted string     `json:"private_key_encrypted"`
	CreatedAt           time.Time  `json:"created_at"`
	LastUsed            *time.Time `json:"last_used,omitempty"`
	UsageCount          uint64     `json:"usage_count"`
}

// KeyInfo is the metadata-index entry for a key. It carries everything a
// caller needs to pick a key without touching private material.
type KeyInfo struct {
	Algorithm   Algorithm  `json:"algorithm"`
	KeySizeBits int        `json:"key_size_bits"`
	Purpose     string     `json:"purpose"`
	CreatedAt   time.Time  `json:"created_at"`
	LastUsed    *time.Time `json:"last_used,omitempty"`
	UsageCount  uint64     `json:"usage_count"`
}

// GeneratedKey is returned by Generate. PrivatePEM is the only copy of the
// plaintext private key handed out; callers that do not need it should call
// Clear immediately.
type GeneratedKey struct {
	KeyID      string
	PublicPEM  []byte
	PrivatePEM []byte
}

// Clear zeroes the plaintext private key material.
func (g *GeneratedKey) Clear() {
	for i := range g.PrivatePEM {
		g.PrivatePEM[i] = 0
	}
	g.PrivatePEM = nil
}
