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
	"fmt"
	"os"
	"strings"

	"github.com/jeremyhahn/go-qrlive/internal/config"
	"github.com/jeremyhahn/go-qrlive/pkg/chain"
	"github.com/jeremyhahn/go-qrlive/pkg/identity"
	"github.com/jeremyhahn/go-qrlive/pkg/keystore"
	"github.com/jeremyhahn/go-qrlive/pkg/logging"
	"github.com/jeremyhahn/go-qrlive/pkg/qrgen"
	"github.com/jeremyhahn/go-qrlive/pkg/qrlive"
	"github.com/jeremyhahn/go-qrlive/pkg/resilience"
	"github.com/jeremyhahn/go-qrlive/pkg/storage"
	"github.com/jeremyhahn/go-qrlive/pkg/storage/file"
	"github.com/jeremyhahn/go-qrlive/pkg/storage/memory"
	"github.com/jeremyhahn/go-qrlive/pkg/timesource"
)

// loadConfig loads the effective configuration, honoring --config.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadOrDefault(getOptions().ConfigFile)
	if err != nil {
		return nil, err
	}
	printVerbose("Configuration loaded (storage: %s, chains: %v)",
		cfg.Storage.Backend, cfg.Chain.Chains)
	return cfg, nil
}

// newLogger builds the logger described by the logging section. --verbose
// forces debug output regardless of the configured level.
func newLogger(cfg *config.Config) *logging.Logger {
	debug := getOptions().Verbose || cfg.Logging.Level == "debug"
	return logging.NewLoggerWithWriter(os.Stderr, debug, cfg.Logging.Format == "json")
}

// openKeyStore opens the configured key storage backend.
func openKeyStore(cfg *config.Config, logger *logging.Logger) (*keystore.KeyStore, error) {
	var backend storage.Backend
	var err error

	switch cfg.Storage.Backend {
	case "file":
		backend, err = file.New(cfg.Storage.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open key storage at %s: %w", cfg.Storage.Path, err)
		}
	case "memory":
		backend = memory.New()
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", cfg.Storage.Backend)
	}

	return keystore.New(&keystore.Config{Backend: backend, Logger: logger})
}

// buildProtocol assembles the emission protocol from configuration. All
// collaborators share one circuit breaker registry.
func buildProtocol(cfg *config.Config, ks *keystore.KeyStore, logger *logging.Logger) (*qrlive.Protocol, error) {
	breakers := resilience.NewManager(logger)

	timeSource := timesource.New(timesource.Config{
		Servers:      cfg.Time.Servers,
		QueryTimeout: cfg.Time.QueryTimeout.Std(),
		CacheTTL:     cfg.Time.CacheTTL.Std(),
		Breakers:     breakers,
		Logger:       logger,
	})

	chainVerifier := chain.New(chain.Config{
		Chains:           cfg.Chain.Chains,
		CacheTTL:         cfg.Chain.CacheTTL.Std(),
		BitcoinEndpoints: cfg.Chain.BitcoinEndpoints,
		EthereumRPC:      cfg.Chain.EthereumRPC,
		Breakers:         breakers,
		Logger:           logger,
	})

	identityManager, err := identity.New(identity.Config{
		IdentityFile: cfg.Identity.File,
		Custom:       cfg.Identity.Custom,
		Logger:       logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build identity: %w", err)
	}

	generator, err := qrgen.New(qrgen.Config{
		Level:  qrgen.Level(strings.ToUpper(cfg.QR.ErrorCorrection)),
		Scale:  cfg.QR.Scale,
		Border: cfg.QR.Border,
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("invalid QR settings: %w", err)
	}

	return qrlive.New(qrlive.Config{
		KeyStore:         ks,
		SigningKeyID:     cfg.Crypto.SigningKeyID,
		SignByDefault:    cfg.Crypto.Sign,
		EncryptByDefault: cfg.Crypto.Encrypt,
		SensitiveFields:  cfg.Crypto.SensitiveFields,
		UpdateInterval:   cfg.QR.UpdateInterval.Std(),
		MaxTimeDrift:     cfg.Time.MaxDrift.Std(),
		Time:             timeSource,
		Chain:            chainVerifier,
		Identity:         identityManager,
		QR:               generator,
		Breakers:         breakers,
		Logger:           logger,
	})
}
