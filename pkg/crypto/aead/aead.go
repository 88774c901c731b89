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

// Package aead implements the AES-256-GCM sealing primitive shared by the
// keystore (private keys wrapped under the master key) and the field
// encryption engine (sensitive payload fields).
//
// Sealed blobs use the layout nonce||tag||ciphertext. Go's GCM appends the
// authentication tag after the ciphertext, so Seal and Open reorder the
// parts to keep the on-disk and on-wire format stable across
// implementations.
package aead

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"runtime"

	"golang.org/x/sys/cpu"
)

const (
	// KeySize is the AES-256 key length in bytes.
	KeySize = 32

	// NonceSize is the GCM nonce (IV) length in bytes.
	NonceSize = 12

	// TagSize is the GCM authentication tag length in bytes.
	TagSize = 16

	// Overhead is the number of bytes Seal adds to a plaintext.
	Overhead = NonceSize + TagSize

	// Algorithm identifies the AEAD cipher used for sealed blobs.
	Algorithm = "aes-256-gcm"
)

var (
	// ErrInvalidKeySize is returned when the key is not 32 bytes.
	ErrInvalidKeySize = errors.New("aead: key must be 32 bytes")

	// ErrBlobTooShort is returned when a sealed blob is shorter than the
	// nonce and tag it must carry.
	ErrBlobTooShort = errors.New("aead: sealed blob too short")

	// ErrOpen is returned when authentication fails during Open.
	ErrOpen = errors.New("aead: authentication failed")
)

// Seal encrypts plaintext with AES-256-GCM under key, binding aad, and
// returns nonce||tag||ciphertext. A fresh random nonce is drawn for every
// call; reusing a key across calls is safe.
func Seal(key, plaintext, aad []byte) ([]byte, error) {
	aed, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("aead: failed to generate nonce: %w", err)
	}

	// ct||tag from Go, reordered to nonce||tag||ct
	sealed := aed.Seal(nil, nonce, plaintext, aad)
	ct := sealed[:len(sealed)-TagSize]
	tag := sealed[len(sealed)-TagSize:]

	blob := make([]byte, 0, NonceSize+TagSize+len(ct))
	blob = append(blob, nonce...)
	blob = append(blob, tag...)
	blob = append(blob, ct...)
	return blob, nil
}

// Open authenticates and decrypts a nonce||tag||ciphertext blob produced by
// Seal. The same key and aad used to seal must be supplied; any mismatch or
// modification of the blob fails with ErrOpen.
func Open(key, blob, aad []byte) ([]byte, error) {
	aed, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	if len(blob) < Overhead {
		return nil, ErrBlobTooShort
	}
	nonce := blob[:NonceSize]
	tag := blob[NonceSize : NonceSize+TagSize]
	ct := blob[NonceSize+TagSize:]

	// Reassemble ct||tag for Go's GCM
	sealed := make([]byte, 0, len(ct)+TagSize)
	sealed = append(sealed, ct...)
	sealed = append(sealed, tag...)

	plaintext, err := aed.Open(nil, nonce, sealed, aad)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOpen, err)
	}
	return plaintext, nil
}

// SealToString seals plaintext and returns the blob base64-encoded, the
// form stored in key records and payload fields.
func SealToString(key, plaintext, aad []byte) (string, error) {
	blob, err := Seal(key, plaintext, aad)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(blob), nil
}

// OpenFromString decodes a base64 blob and opens it.
func OpenFromString(key []byte, encoded string, aad []byte) ([]byte, error) {
	blob, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("aead: invalid base64 blob: %w", err)
	}
	return Open(key, blob, aad)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKeySize
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aead: failed to create cipher: %w", err)
	}
	aed, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("aead: failed to create GCM: %w", err)
	}
	return aed, nil
}

// HasAESAcceleration returns true if the CPU provides hardware AES
// instructions. Reported in status output; the cipher choice does not
// depend on it.
//
// Supported architectures:
//   - amd64: Checks X86.HasAES
//   - arm64: Checks ARM64.HasAES
//   - Other architectures return false
func HasAESAcceleration() bool {
	switch runtime.GOARCH {
	case "amd64":
		return cpu.X86.HasAES
	case "arm64":
		return cpu.ARM64.HasAES
	default:
		return false
	}
}
