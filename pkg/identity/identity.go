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

// Package identity derives a stable fingerprint for the emitting host.
// The fingerprint digests system facts (hostname, platform, user)
// together with registered file digests and custom data, so a verifier
// can tell whether a payload came from the expected producer.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"os/user"
	"runtime"
	"sync"

	"github.com/jeremyhahn/go-qrlive/pkg/canonical"
	"github.com/jeremyhahn/go-qrlive/pkg/logging"
)

// Config tunes a Manager.
type Config struct {
	// IdentityFile optionally seeds the fingerprint with one file's
	// digest at construction time.
	IdentityFile string

	// Custom is caller-supplied data folded into the fingerprint.
	Custom map[string]string

	Logger *logging.Logger
}

// Stats is a snapshot of the manager's counters.
type Stats struct {
	Fingerprints uint64 `json:"fingerprints"`
	Files        int    `json:"file_count"`
	Hostname     string `json:"hostname"`
	Platform     string `json:"platform"`
	User         string `json:"user"`
}

// Manager computes the host fingerprint.
type Manager struct {
	hostname string
	platform string
	username string
	logger   *logging.Logger

	mu           sync.RWMutex
	files        map[string]string
	custom       map[string]string
	fingerprints uint64
}

// New creates a Manager seeded with the local system facts.
func New(cfg Config) (*Manager, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.DefaultLogger()
	}

	hostname, err := os.Hostname()
	if err != nil {
		logger.Warnf("hostname unavailable: %v", err)
		hostname = "unknown"
	}

	username := "unknown"
	if u, err := user.Current(); err == nil {
		username = u.Username
	} else if env := os.Getenv("USER"); env != "" {
		username = env
	}

	m := &Manager{
		hostname: hostname,
		platform: runtime.GOOS + "/" + runtime.GOARCH,
		username: username,
		logger:   logger,
		files:    make(map[string]string),
		custom:   make(map[string]string),
	}
	for k, v := range cfg.Custom {
		m.custom[k] = v
	}
	if cfg.IdentityFile != "" {
		if err := m.AddFile(cfg.IdentityFile); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Fingerprint returns the hex SHA-256 over the canonical aggregate of
// everything the manager knows. It is deterministic until a file or
// custom entry changes.
func (m *Manager) Fingerprint() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	aggregate := map[string]any{
		"hostname": m.hostname,
		"platform": m.platform,
		"user":     m.username,
		"files":    m.files,
		"custom":   m.custom,
	}
	data, err := canonical.Canonicalize(aggregate)
	if err != nil {
		// The aggregate is strings-only; marshalling cannot fail.
		panic(fmt.Sprintf("identity: canonicalize: %v", err))
	}
	m.fingerprints++
	return canonical.HexDigest(data)
}

// AddFile registers path's content digest into the fingerprint.
// Re-adding a path refreshes its digest.
func (m *Manager) AddFile(path string) error {
	digest, err := fileDigest(path)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrFileUnreadable, path, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[path] = digest
	m.logger.Debugf("identity file registered: %s (%s)", path, digest[:12])
	return nil
}

// RemoveFile unregisters path. It reports whether the path was known.
func (m *Manager) RemoveFile(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.files[path]
	delete(m.files, path)
	return ok
}

// SetCustom folds a key/value pair into the fingerprint.
func (m *Manager) SetCustom(key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.custom[key] = value
}

// RemoveCustom drops a custom entry. It reports whether the key was set.
func (m *Manager) RemoveCustom(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.custom[key]
	delete(m.custom, key)
	return ok
}

// Files returns the registered file paths.
func (m *Manager) Files() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	paths := make([]string, 0, len(m.files))
	for path := range m.files {
		paths = append(paths, path)
	}
	return paths
}

// Stats returns a counter snapshot.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Stats{
		Fingerprints: m.fingerprints,
		Files:        len(m.files),
		Hostname:     m.hostname,
		Platform:     m.platform,
		User:         m.username,
	}
}

func fileDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
