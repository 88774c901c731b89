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

// Package canonical produces the deterministic byte representation of a
// payload that every signature and HMAC in the protocol is computed over.
//
// Canonical form is compact JSON with lexicographically sorted keys, no
// HTML escaping, and nil top-level fields removed. Two payloads that are
// semantically equal always canonicalize to identical bytes, regardless of
// map iteration order or whether absent fields are spelled as JSON null.
package canonical

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Canonicalize returns the canonical byte representation of payload.
// Top-level fields with nil values are dropped before encoding; nested
// values are encoded as-is with sorted keys. The result is stable across
// processes and runs.
func Canonicalize(payload map[string]any) ([]byte, error) {
	filtered := make(map[string]any, len(payload))
	for k, v := range payload {
		if v == nil {
			continue
		}
		filtered[k] = v
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(filtered); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedValue, err)
	}

	// Encode appends a newline, canonical form carries none
	out := buf.Bytes()
	if n := len(out); n > 0 && out[n-1] == '\n' {
		out = out[:n-1]
	}
	return out, nil
}

// Digest returns the SHA-256 digest of the canonical form of payload.
func Digest(payload map[string]any) ([]byte, error) {
	data, err := Canonicalize(payload)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(data)
	return sum[:], nil
}

// HexDigest returns the SHA-256 digest of the canonical form as a
// lowercase hex string.
func HexDigest(payload map[string]any) (string, error) {
	sum, err := Digest(payload)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(sum), nil
}

// Without returns a shallow copy of payload with the named fields removed.
// The engines use it to strip their envelope fields before recomputing a
// signature or HMAC.
func Without(payload map[string]any, fields ...string) map[string]any {
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		out[k] = v
	}
	for _, f := range fields {
		delete(out, f)
	}
	return out
}

// ParseJSON decodes wire bytes into a payload map, preserving numeric
// literals as json.Number so a re-canonicalization reproduces the exact
// bytes the producer emitted.
func ParseJSON(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}

	// Trailing garbage after the object is not a valid wire payload
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data after payload", ErrInvalidJSON)
	}
	return payload, nil
}

// EncodeJSON encodes a payload for the wire with the same encoder settings
// canonical form uses, so parsing and re-canonicalizing round-trips.
func EncodeJSON(payload map[string]any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedValue, err)
	}
	out := buf.Bytes()
	if n := len(out); n > 0 && out[n-1] == '\n' {
		out = out[:n-1]
	}
	return out, nil
}
