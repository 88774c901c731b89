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

package web

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Input limits for operator-supplied data. User text ends up inside every
// QR payload, so it is kept short and restricted to a safe character set;
// wire data is capped at the largest payload a QR code can plausibly hold.
const (
	MaxUserTextLength = 1000
	MaxWireLength     = 10000
)

// userTextPattern permits letters, digits, whitespace and basic punctuation.
// Markup characters are deliberately absent so stored text can be echoed
// into pages and payloads without escaping surprises.
var userTextPattern = regexp.MustCompile(`^[a-zA-Z0-9\s\-_.,!?()]+$`)

// ValidateUserText normalizes and validates operator text for inclusion in
// the live QR payload. An empty string is valid and clears the field.
func ValidateUserText(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", nil
	}
	if len(text) > MaxUserTextLength {
		return "", fmt.Errorf("%w: user text exceeds %d characters", ErrInvalidRequest, MaxUserTextLength)
	}
	if !userTextPattern.MatchString(text) {
		return "", fmt.Errorf("%w: user text contains invalid characters", ErrInvalidRequest)
	}
	return text, nil
}

// ValidateWire checks QR wire data submitted for verification: bounded in
// size and syntactically a JSON object. Deeper checks (HMAC, signature,
// freshness) belong to the verification pipeline, not the HTTP layer.
func ValidateWire(wire string) error {
	if strings.TrimSpace(wire) == "" {
		return fmt.Errorf("%w: qr_data cannot be empty", ErrInvalidRequest)
	}
	if len(wire) > MaxWireLength {
		return fmt.Errorf("%w: qr_data exceeds %d bytes", ErrInvalidRequest, MaxWireLength)
	}
	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(wire), &obj); err != nil {
		return fmt.Errorf("%w: qr_data is not a JSON object", ErrInvalidRequest)
	}
	return nil
}

// SanitizeString removes control characters from a string and truncates it
// to a reasonable length for logging.
func SanitizeString(input string) string {
	var sb strings.Builder
	for _, r := range input {
		if r >= 32 && r != 127 {
			sb.WriteRune(r)
		}
	}
	s := sb.String()
	if len(s) > 1000 {
		s = s[:1000]
	}
	return s
}
