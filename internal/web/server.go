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

// Package web serves the live QR display pages, the JSON API, and the
// WebSocket update stream in front of a running protocol instance.
package web

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jeremyhahn/go-qrlive/pkg/logging"
	"github.com/jeremyhahn/go-qrlive/pkg/metrics"
	"github.com/jeremyhahn/go-qrlive/pkg/qrlive"
	"github.com/jeremyhahn/go-qrlive/pkg/ratelimit"
)

const (
	defaultPort         = 8080
	defaultMetricsPath  = "/metrics"
	maxRequestBodyBytes = 1 << 20
)

// Config holds web server configuration.
type Config struct {
	// Protocol is the running emission pipeline the server fronts.
	Protocol *qrlive.Protocol

	// Host is the listen address. Empty binds all interfaces.
	Host string

	// Port is the listen port. Zero selects the default.
	Port int

	// Version is reported on status and health routes.
	Version string

	// TLSConfig enables HTTPS when non-nil.
	TLSConfig *tls.Config

	// Authenticator guards API routes when non-nil.
	Authenticator Authenticator

	// RateLimit configures per-client request limiting.
	RateLimit *ratelimit.Config

	// MetricsEnabled exposes the Prometheus scrape route.
	MetricsEnabled bool

	// MetricsPath is the scrape route path.
	MetricsPath string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	Logger *logging.Logger
}

// Server is the HTTP front end.
type Server struct {
	server        *http.Server
	protocol      *qrlive.Protocol
	hub           *Hub
	limiter       *ratelimit.Limiter
	authenticator Authenticator
	tlsConfig     *tls.Config
	logger        *logging.Logger

	version        string
	metricsEnabled bool
	metricsPath    string
	startedAt      time.Time

	userMu   sync.RWMutex
	userText string

	pageViews   atomic.Uint64
	updatesSent atomic.Uint64
}

// NewServer creates a web server in front of the given protocol. The
// server registers itself for update broadcasts and supplies operator
// text to the live emission loop.
func NewServer(cfg *Config) (*Server, error) {
	if cfg == nil || cfg.Protocol == nil {
		return nil, fmt.Errorf("protocol is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.DefaultLogger()
	}

	port := cfg.Port
	if port == 0 {
		port = defaultPort
	}
	metricsPath := cfg.MetricsPath
	if metricsPath == "" {
		metricsPath = defaultMetricsPath
	}
	readTimeout := cfg.ReadTimeout
	if readTimeout == 0 {
		readTimeout = 15 * time.Second
	}
	writeTimeout := cfg.WriteTimeout
	if writeTimeout == 0 {
		writeTimeout = 15 * time.Second
	}
	idleTimeout := cfg.IdleTimeout
	if idleTimeout == 0 {
		idleTimeout = 60 * time.Second
	}

	s := &Server{
		protocol:       cfg.Protocol,
		hub:            newHub(logger),
		limiter:        ratelimit.New(cfg.RateLimit),
		authenticator:  cfg.Authenticator,
		tlsConfig:      cfg.TLSConfig,
		logger:         logger,
		version:        cfg.Version,
		metricsEnabled: cfg.MetricsEnabled,
		metricsPath:    metricsPath,
		startedAt:      time.Now(),
	}

	s.protocol.SetUserDataFunc(s.userData)
	s.protocol.OnUpdate(s.broadcastUpdate)

	s.server = &http.Server{
		Addr:         net.JoinHostPort(cfg.Host, strconv.Itoa(port)),
		Handler:      s.setupRouter(),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
		TLSConfig:    cfg.TLSConfig,
	}

	return s, nil
}

// setupRouter configures the router with all middleware and routes.
func (s *Server) setupRouter() *chi.Mux {
	router := chi.NewRouter()

	router.Use(s.RecoveryMiddleware())
	router.Use(s.LoggingMiddleware())
	router.Use(metrics.HTTPMiddleware)
	router.Use(SecurityHeadersMiddleware)
	router.Use(CORSMiddleware)

	// Liveness and scrape routes bypass rate limiting and authentication.
	router.Get("/healthz", s.HealthHandler)
	if s.metricsEnabled {
		router.Handle(s.metricsPath, promhttp.Handler())
	}

	router.Group(func(r chi.Router) {
		if s.limiter.IsEnabled() {
			r.Use(ratelimit.Middleware(s.limiter))
		}

		r.Get("/", s.IndexHandler)
		r.Get("/viewer", s.ViewerHandler)
		r.Get("/admin", s.AdminHandler)
		r.Get("/ws", s.WSHandler)

		r.Route("/api", func(api chi.Router) {
			api.Use(s.AuthenticationMiddleware())

			api.Get("/qr/current", s.CurrentQRHandler)
			api.Get("/status", s.StatusHandler)
			api.Get("/user-data", s.GetUserDataHandler)
			api.With(RequireJSON).Post("/user-data", s.UpdateUserDataHandler)
			api.With(RequireJSON).Post("/verify", s.VerifyHandler)
		})
	})

	return router
}

// Start begins serving. It blocks until the server stops and treats a
// graceful shutdown as success.
func (s *Server) Start() error {
	var err error
	if s.tlsConfig != nil {
		s.logger.Infof("Starting HTTPS server on %s", s.server.Addr)
		err = s.server.ListenAndServeTLS("", "")
	} else {
		s.logger.Infof("Starting HTTP server on %s", s.server.Addr)
		err = s.server.ListenAndServe()
	}

	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("web server failed: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the server, disconnecting WebSocket clients
// and releasing the rate limiter.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping web server")

	err := s.server.Shutdown(ctx)
	s.hub.Close()
	s.limiter.Stop()
	return err
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.server.Addr
}

// Handler exposes the configured router, primarily for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}
