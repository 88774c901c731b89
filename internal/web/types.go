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
	"github.com/jeremyhahn/go-qrlive/pkg/pipeline"
	"github.com/jeremyhahn/go-qrlive/pkg/qrlive"
	"github.com/jeremyhahn/go-qrlive/pkg/ratelimit"
)

// ErrorResponse is the standard error payload returned by all API routes.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code,omitempty"`
}

// CurrentQRResponse carries the most recent QR emission: the verified
// payload, a data-URI PNG ready for an <img> tag, and emission metadata.
type CurrentQRResponse struct {
	QRData    map[string]interface{} `json:"qr_data"`
	QRImage   string                 `json:"qr_image"`
	Sequence  uint64                 `json:"sequence"`
	Signed    bool                   `json:"signed"`
	Encrypted bool                   `json:"encrypted"`
	Timestamp string                 `json:"timestamp"`
}

// VerifyRequest carries raw QR wire data submitted for verification.
type VerifyRequest struct {
	QRData string `json:"qr_data"`
}

// VerifyResponse reports the outcome of a verification pass. Valid mirrors
// the HMAC check, the gate every authentic emission must clear; Checks
// breaks out the individual layers.
type VerifyResponse struct {
	Valid     bool             `json:"valid"`
	Checks    *pipeline.Result `json:"checks"`
	Timestamp string           `json:"timestamp"`
}

// UserDataRequest carries operator text destined for the live QR payload.
type UserDataRequest struct {
	UserText string `json:"user_text"`
}

// UserDataResponse acknowledges a user data change.
type UserDataResponse struct {
	Success   bool   `json:"success"`
	UserText  string `json:"user_text,omitempty"`
	Timestamp string `json:"timestamp"`
}

// StatusResponse is the full server status document.
type StatusResponse struct {
	Status           string          `json:"status"`
	Version          string          `json:"version"`
	Uptime           string          `json:"uptime"`
	Protocol         qrlive.Stats    `json:"protocol"`
	RateLimit        ratelimit.Stats `json:"rate_limit"`
	WebSocketClients int             `json:"websocket_clients"`
	PageViews        uint64          `json:"page_views"`
	UpdatesSent      uint64          `json:"updates_sent"`
	AESAcceleration  bool            `json:"aes_acceleration"`
}

// HealthResponse is the minimal liveness document.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}
