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

// Package shamir implements Shamir's Secret Sharing for splitting the
// keystore master key into N shares where any M shares reconstruct it.
//
// This package wraps the sssa-golang library. Shares carry a fingerprint
// of the secret so Combine can detect shares from different splits or a
// corrupted reconstruction.
package shamir

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"github.com/SSSaaS/sssa-golang"
)

// fingerprintLen is the number of hex characters of the secret digest
// stored in each share.
const fingerprintLen = 16

// Split divides a secret into total shares where any threshold of them
// reconstructs it.
//
// Example:
//
//	shares, err := shamir.Split(masterKey, 3, 5)
//	// Creates 5 shares, any 3 can reconstruct the master key
func Split(secret []byte, threshold, total int) ([]*Share, error) {
	if threshold < 2 {
		return nil, fmt.Errorf("threshold must be at least 2, got %d", threshold)
	}
	if total < threshold {
		return nil, fmt.Errorf("total shares (%d) must be >= threshold (%d)", total, threshold)
	}
	if total > 255 {
		return nil, fmt.Errorf("total shares cannot exceed 255, got %d", total)
	}
	if len(secret) == 0 {
		return nil, fmt.Errorf("secret cannot be empty")
	}

	// sssa-golang operates on strings; shares reverse this hex encoding
	secretHex := hex.EncodeToString(secret)

	shareStrings, err := sssa.Create(threshold, total, secretHex)
	if err != nil {
		return nil, fmt.Errorf("failed to split secret: %w", err)
	}

	fp := fingerprint(secret)
	shares := make([]*Share, len(shareStrings))
	for i, shareStr := range shareStrings {
		shares[i] = &Share{
			Index:       i + 1, // 1-indexed for human readability
			Threshold:   threshold,
			Total:       total,
			Fingerprint: fp,
			Value:       base64.StdEncoding.EncodeToString([]byte(shareStr)),
		}
	}

	return shares, nil
}

// Combine reconstructs the secret from threshold or more shares of one
// split. The reconstruction is verified against the share fingerprint, so
// mixed or tampered share sets fail instead of yielding a wrong secret.
func Combine(shares []*Share) ([]byte, error) {
	if len(shares) == 0 {
		return nil, fmt.Errorf("no shares provided")
	}

	threshold := shares[0].Threshold
	total := shares[0].Total
	fp := shares[0].Fingerprint

	for i, share := range shares {
		if err := share.Validate(); err != nil {
			return nil, fmt.Errorf("invalid share %d: %w", i, err)
		}
		if share.Threshold != threshold {
			return nil, fmt.Errorf("share %d has different threshold (%d) than share 0 (%d)",
				i, share.Threshold, threshold)
		}
		if share.Total != total {
			return nil, fmt.Errorf("share %d has different total (%d) than share 0 (%d)",
				i, share.Total, total)
		}
		if share.Fingerprint != fp {
			return nil, fmt.Errorf("share %d belongs to a different split", i)
		}
	}

	if len(shares) < threshold {
		return nil, fmt.Errorf("need at least %d shares, got %d", threshold, len(shares))
	}

	shareStrings := make([]string, len(shares))
	for i, share := range shares {
		decoded, err := share.Bytes()
		if err != nil {
			return nil, fmt.Errorf("failed to decode share %d: %w", i, err)
		}
		shareStrings[i] = string(decoded)
	}

	secretHex, err := sssa.Combine(shareStrings)
	if err != nil {
		return nil, fmt.Errorf("failed to combine shares: %w", err)
	}

	secret, err := hex.DecodeString(secretHex)
	if err != nil {
		return nil, fmt.Errorf("failed to decode combined secret: %w", err)
	}

	if fp != "" && fingerprint(secret) != fp {
		return nil, fmt.Errorf("combined secret does not match share fingerprint")
	}

	return secret, nil
}

// fingerprint returns a short hex digest identifying a secret. It is safe
// to store alongside shares for high-entropy secrets like the master key.
func fingerprint(secret []byte) string {
	sum := sha256.Sum256(secret)
	return hex.EncodeToString(sum[:])[:fingerprintLen]
}
