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

package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-qrlive/internal/config"
	"github.com/jeremyhahn/go-qrlive/internal/web"
	"github.com/jeremyhahn/go-qrlive/pkg/metrics"
	"github.com/jeremyhahn/go-qrlive/pkg/ratelimit"
)

// liveCmd runs the live emission loop behind the web front end
var liveCmd = &cobra.Command{
	Use:   "live",
	Short: "Serve live QR updates over HTTP and WebSocket",
	Long: `Start the live update loop and serve the display pages, JSON API,
and WebSocket stream. A fresh emission is generated at every interval
and pushed to all connected viewers until interrupted.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			handleError(err)
			return
		}

		if cmd.Flags().Changed("host") {
			cfg.Server.Host, _ = cmd.Flags().GetString("host")
		}
		if cmd.Flags().Changed("port") {
			cfg.Server.Port, _ = cmd.Flags().GetInt("port")
		}
		if cmd.Flags().Changed("interval") {
			interval, _ := cmd.Flags().GetDuration("interval")
			cfg.QR.UpdateInterval = config.Duration(interval)
		}
		if err := cfg.Validate(); err != nil {
			handleError(err)
			return
		}

		logger := newLogger(cfg)

		ks, err := openKeyStore(cfg, logger)
		if err != nil {
			handleError(err)
			return
		}
		defer func() { _ = ks.Close() }()

		protocol, err := buildProtocol(cfg, ks, logger)
		if err != nil {
			handleError(err)
			return
		}

		tlsConfig, err := cfg.TLS.LoadTLSConfig()
		if err != nil {
			handleError(err)
			return
		}
		authenticator, err := web.NewAuthenticator(&cfg.Auth)
		if err != nil {
			handleError(err)
			return
		}

		srv, err := web.NewServer(&web.Config{
			Protocol:      protocol,
			Host:          cfg.Server.Host,
			Port:          cfg.Server.Port,
			Version:       Version,
			TLSConfig:     tlsConfig,
			Authenticator: authenticator,
			RateLimit: &ratelimit.Config{
				Enabled:           cfg.RateLimit.Enabled,
				RequestsPerMinute: cfg.RateLimit.RequestsPerMin,
				Burst:             cfg.RateLimit.Burst,
			},
			MetricsEnabled: cfg.Metrics.Enabled,
			MetricsPath:    cfg.Metrics.Path,
			Logger:         logger,
		})
		if err != nil {
			handleError(err)
			return
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if cfg.Metrics.Enabled {
			metrics.StartResourceCollector(ctx, 30*time.Second)
		} else {
			metrics.Disable()
		}

		if err := protocol.Start(ctx); err != nil {
			handleError(err)
			return
		}

		errCh := make(chan error, 1)
		go func() { errCh <- srv.Start() }()

		logger.Infof("Live display at http://%s (update interval %s)",
			srv.Addr(), cfg.QR.UpdateInterval)

		select {
		case <-ctx.Done():
			logger.Info("Shutdown signal received")
		case err := <-errCh:
			_ = protocol.Stop()
			if err != nil {
				handleError(err)
			}
			return
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		_ = protocol.Stop()
		if err := srv.Stop(shutdownCtx); err != nil {
			logger.Errorf("shutdown error: %v", err)
		}
	},
}

func init() {
	liveCmd.Flags().String("host", "", "listen address override")
	liveCmd.Flags().Int("port", 0, "listen port override")
	liveCmd.Flags().Duration("interval", 0, "QR update interval override")
}
