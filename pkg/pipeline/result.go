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

// Result is the outcome of verifying one wire payload. Every flag is
// populated on every call, even for malformed input, so callers always see
// partial authenticity (for example an intact HMAC on an unsigned
// payload) instead of a single pass/fail.
//
// The crypto layers fill ValidJSON, HMACVerified, SignatureVerified and
// Encrypted. The identity, time and blockchain flags belong to the
// layer-agnostic checks the orchestrator runs against the decrypted
// payload; their failure never suppresses the crypto verdicts.
type Result struct {
	ValidJSON          bool   `json:"valid_json"`
	HMACVerified       bool   `json:"hmac_verified"`
	SignatureVerified  bool   `json:"signature_verified"`
	Encrypted          bool   `json:"encrypted"`
	IdentityVerified   bool   `json:"identity_verified"`
	TimeVerified       bool   `json:"time_verified"`
	BlockchainVerified bool   `json:"blockchain_verified"`
	Error              string `json:"error,omitempty"`

	// Payload is the fully decrypted payload for layer-agnostic checks.
	// It is nil when parsing or decryption failed.
	Payload map[string]any `json:"-"`
}

// Ok reports whether the mandatory integrity layer verified.
func (r *Result) Ok() bool {
	return r.HMACVerified
}
