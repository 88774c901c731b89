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

package shamir

import (
	"encoding/base64"
	"fmt"
)

// Share is a single piece of a split secret. Any Threshold shares from the
// same set reconstruct the secret; fewer reveal nothing.
type Share struct {
	// Index is the share number (1 to Total)
	Index int `json:"index"`

	// Threshold is the minimum number of shares required to reconstruct
	Threshold int `json:"threshold"`

	// Total is the total number of shares created
	Total int `json:"total"`

	// Fingerprint identifies the share set. All shares of one split carry
	// the same value and Combine verifies the reconstruction against it.
	Fingerprint string `json:"fingerprint"`

	// Value is the share data, base64 encoded for JSON serialization
	Value string `json:"value"`
}

// Bytes returns the raw share value.
func (s *Share) Bytes() ([]byte, error) {
	return base64.StdEncoding.DecodeString(s.Value)
}

// String returns a debug representation without the share data.
func (s *Share) String() string {
	return fmt.Sprintf("Share{Index: %d, Threshold: %d/%d, Fingerprint: %s}",
		s.Index, s.Threshold, s.Total, s.Fingerprint)
}

// Validate checks that the share parameters are internally consistent.
func (s *Share) Validate() error {
	if s.Index < 1 {
		return fmt.Errorf("invalid share index: %d (must be >= 1)", s.Index)
	}
	if s.Threshold < 2 {
		return fmt.Errorf("invalid threshold: %d (must be >= 2)", s.Threshold)
	}
	if s.Total < s.Threshold {
		return fmt.Errorf("invalid total: %d (must be >= threshold %d)", s.Total, s.Threshold)
	}
	if s.Index > s.Total {
		return fmt.Errorf("invalid share index: %d (must be <= total %d)", s.Index, s.Total)
	}
	if s.Value == "" {
		return fmt.Errorf("share value is empty")
	}
	return nil
}
