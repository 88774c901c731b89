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
	"errors"
	"net/http"
	"time"

	"github.com/jeremyhahn/go-qrlive/pkg/crypto/aead"
	"github.com/jeremyhahn/go-qrlive/pkg/qrgen"
	"github.com/jeremyhahn/go-qrlive/pkg/qrlive"
	"github.com/jeremyhahn/go-qrlive/pkg/ratelimit"
)

// IndexHandler serves the main display page.
func (s *Server) IndexHandler(w http.ResponseWriter, r *http.Request) {
	s.pageViews.Add(1)
	s.renderPage(w, "index.html")
}

// ViewerHandler serves the minimal full-screen viewer, suitable for
// embedding in a stream overlay.
func (s *Server) ViewerHandler(w http.ResponseWriter, r *http.Request) {
	s.pageViews.Add(1)
	s.renderPage(w, "viewer.html")
}

// AdminHandler serves the operator page with live stats and the user
// data form.
func (s *Server) AdminHandler(w http.ResponseWriter, r *http.Request) {
	s.pageViews.Add(1)
	s.renderPage(w, "admin.html")
}

// CurrentQRHandler returns the most recent emission, or 404 before the
// first one is generated.
func (s *Server) CurrentQRHandler(w http.ResponseWriter, r *http.Request) {
	update, err := s.protocol.Current()
	if err != nil {
		if errors.Is(err, qrlive.ErrNoEmission) {
			writeError(w, ErrNoEmission, http.StatusNotFound)
			return
		}
		s.logger.Errorf("failed to fetch current emission: %v", err)
		writeError(w, ErrInternalError, http.StatusInternalServerError)
		return
	}

	writeJSON(w, CurrentQRResponse{
		QRData:    update.Payload,
		QRImage:   qrgen.DataURI(update.PNG),
		Sequence:  update.Sequence,
		Signed:    update.Signed,
		Encrypted: update.Encrypted,
		Timestamp: update.CreatedAt.UTC().Format(time.RFC3339Nano),
	}, http.StatusOK)
}

// VerifyHandler runs submitted QR wire data through the verification
// pipeline and reports the per-layer outcome.
func (s *Server) VerifyHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)

	var req VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorWithMessage(w, ErrInvalidRequest, "request body must be a JSON object", http.StatusBadRequest)
		return
	}
	if err := ValidateWire(req.QRData); err != nil {
		writeError(w, err, http.StatusBadRequest)
		return
	}

	result := s.protocol.Verify(r.Context(), []byte(req.QRData))
	writeJSON(w, VerifyResponse{
		Valid:     result.Ok(),
		Checks:    result,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}, http.StatusOK)
}

// GetUserDataHandler returns the operator text currently embedded in
// live emissions.
func (s *Server) GetUserDataHandler(w http.ResponseWriter, r *http.Request) {
	s.userMu.RLock()
	text := s.userText
	s.userMu.RUnlock()

	writeJSON(w, UserDataResponse{
		Success:   true,
		UserText:  text,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}, http.StatusOK)
}

// UpdateUserDataHandler sets the operator text embedded in live
// emissions. Empty text clears it.
func (s *Server) UpdateUserDataHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)

	var req UserDataRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorWithMessage(w, ErrInvalidRequest, "request body must be a JSON object", http.StatusBadRequest)
		return
	}

	text, err := ValidateUserText(req.UserText)
	if err != nil {
		writeError(w, err, http.StatusBadRequest)
		return
	}

	s.setUserText(text)
	writeJSON(w, UserDataResponse{
		Success:   true,
		UserText:  text,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}, http.StatusOK)
}

// StatusHandler returns the full server status document.
func (s *Server) StatusHandler(w http.ResponseWriter, r *http.Request) {
	var rl ratelimit.Stats
	if s.limiter != nil {
		rl = s.limiter.Stats()
	}

	writeJSON(w, StatusResponse{
		Status:           "running",
		Version:          s.version,
		Uptime:           time.Since(s.startedAt).Round(time.Second).String(),
		Protocol:         s.protocol.Stats(),
		RateLimit:        rl,
		WebSocketClients: s.hub.Clients(),
		PageViews:        s.pageViews.Load(),
		UpdatesSent:      s.updatesSent.Load(),
		AESAcceleration:  aead.HasAESAcceleration(),
	}, http.StatusOK)
}

// HealthHandler returns the liveness document. It is never behind
// authentication or rate limiting.
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, HealthResponse{Status: "healthy", Version: s.version}, http.StatusOK)
}

// setUserText stores operator text, feeds it into subsequent emissions,
// and notifies connected clients.
func (s *Server) setUserText(text string) {
	s.userMu.Lock()
	s.userText = text
	s.userMu.Unlock()

	frame, err := json.Marshal(wsMessage{
		Type:      "user_data_updated",
		UserText:  text,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		s.logger.Errorf("failed to encode user data frame: %v", err)
		return
	}
	s.hub.Broadcast(frame)
}

// userData supplies the operator text to the live emission loop.
func (s *Server) userData() map[string]any {
	s.userMu.RLock()
	defer s.userMu.RUnlock()
	if s.userText == "" {
		return nil
	}
	return map[string]any{"text": s.userText}
}

func updateFrame(u *qrlive.Update) ([]byte, error) {
	return json.Marshal(wsMessage{
		Type:      "qr_update",
		QRData:    u.Payload,
		QRImage:   qrgen.DataURI(u.PNG),
		Sequence:  u.Sequence,
		Timestamp: u.CreatedAt.UTC().Format(time.RFC3339Nano),
	})
}

// currentUpdateFrame renders the most recent emission as a push frame,
// or nil when none exists yet.
func (s *Server) currentUpdateFrame() []byte {
	update, err := s.protocol.Current()
	if err != nil {
		return nil
	}
	frame, err := updateFrame(update)
	if err != nil {
		return nil
	}
	return frame
}

// broadcastUpdate fans a fresh emission out to connected clients. It is
// registered as the protocol's update callback.
func (s *Server) broadcastUpdate(u *qrlive.Update) {
	frame, err := updateFrame(u)
	if err != nil {
		s.logger.Errorf("failed to encode update frame: %v", err)
		return
	}
	s.hub.Broadcast(frame)
	s.updatesSent.Add(1)
}
