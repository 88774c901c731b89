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
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4"
)

// descriptor is the JSON public-key descriptor format, the self-contained
// form handed to external verifiers.
type descriptor struct {
	KeyID       string    `json:"key_id"`
	Algorithm   Algorithm `json:"algorithm"`
	KeySizeBits int       `json:"key_size_bits"`
	Purpose     string    `json:"purpose"`
	CreatedAt   time.Time `json:"created_at"`
	PublicKey   string    `json:"public_key"` // base64 PKIX DER
}

// ExportPublic returns the public key of keyID in the requested format.
// Supported formats are PEM, DER, a JSON descriptor and JWK.
func (ks *KeyStore) ExportPublic(keyID string, format ExportFormat) ([]byte, error) {
	record, err := ks.Get(keyID)
	if err != nil {
		return nil, err
	}

	switch format {
	case FormatPEM:
		return []byte(record.PublicKey), nil

	case FormatDER:
		block, _ := pem.Decode([]byte(record.PublicKey))
		if block == nil {
			return nil, fmt.Errorf("%w: %s: no public key PEM block", ErrCorruptRecord, keyID)
		}
		return block.Bytes, nil

	case FormatDescriptor:
		block, _ := pem.Decode([]byte(record.PublicKey))
		if block == nil {
			return nil, fmt.Errorf("%w: %s: no public key PEM block", ErrCorruptRecord, keyID)
		}
		desc := descriptor{
			KeyID:       record.KeyID,
			Algorithm:   record.Algorithm,
			KeySizeBits: record.KeySizeBits,
			Purpose:     record.Purpose,
			CreatedAt:   record.CreatedAt,
			PublicKey:   base64.StdEncoding.EncodeToString(block.Bytes),
		}
		return json.MarshalIndent(desc, "", "  ")

	case FormatJWK:
		return ks.exportJWK(record)

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

// exportJWK encodes the public key as a JSON Web Key with the signature
// algorithm implied by the stored key.
func (ks *KeyStore) exportJWK(record *KeyRecord) ([]byte, error) {
	pub, err := parsePublicPEM([]byte(record.PublicKey))
	if err != nil {
		return nil, err
	}

	alg, err := joseAlgorithm(pub)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptRecord, record.KeyID, err)
	}

	jwk := jose.JSONWebKey{
		Key:       pub,
		KeyID:     record.KeyID,
		Algorithm: alg,
		Use:       "sig",
	}
	return jwk.MarshalJSON()
}

// joseAlgorithm maps a public key to its JOSE signature algorithm name.
func joseAlgorithm(pub any) (string, error) {
	switch key := pub.(type) {
	case *rsa.PublicKey:
		return string(jose.PS256), nil
	case *ecdsa.PublicKey:
		switch key.Curve {
		case elliptic.P256():
			return string(jose.ES256), nil
		case elliptic.P384():
			return string(jose.ES384), nil
		case elliptic.P521():
			return string(jose.ES512), nil
		default:
			return "", fmt.Errorf("unsupported curve %s", key.Curve.Params().Name)
		}
	default:
		return "", fmt.Errorf("unsupported public key type %T", pub)
	}
}

// ParseDescriptor decodes a JSON public-key descriptor and returns the
// contained public key. Verifiers use it to load keys distributed
// out-of-band.
func ParseDescriptor(data []byte) (string, any, error) {
	var desc descriptor
	if err := json.Unmarshal(data, &desc); err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	der, err := base64.StdEncoding.DecodeString(desc.PublicKey)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	return desc.KeyID, pub, nil
}
