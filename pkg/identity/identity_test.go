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

package identity

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func newManager(t *testing.T) *Manager {
	t.Helper()
	m, err := New(Config{})
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	return m
}

func TestFingerprintDeterministic(t *testing.T) {
	m := newManager(t)

	a := m.Fingerprint()
	b := m.Fingerprint()
	if a != b {
		t.Fatalf("fingerprint not stable: %s vs %s", a, b)
	}
	if len(a) != 64 {
		t.Fatalf("expected hex sha256, got %d chars", len(a))
	}
}

func TestFileChangesFingerprint(t *testing.T) {
	m := newManager(t)
	base := m.Fingerprint()

	path := filepath.Join(t.TempDir(), "ident.txt")
	if err := os.WriteFile(path, []byte("stream identity"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := m.AddFile(path); err != nil {
		t.Fatalf("AddFile: %v", err)
	}

	withFile := m.Fingerprint()
	if withFile == base {
		t.Fatal("registered file should change the fingerprint")
	}

	if !m.RemoveFile(path) {
		t.Fatal("RemoveFile should report the path as known")
	}
	if got := m.Fingerprint(); got != base {
		t.Fatalf("removing the file should restore the fingerprint: %s vs %s", got, base)
	}
}

func TestAddFileRefreshesDigest(t *testing.T) {
	m := newManager(t)
	path := filepath.Join(t.TempDir(), "ident.txt")
	if err := os.WriteFile(path, []byte("v1"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := m.AddFile(path); err != nil {
		t.Fatal(err)
	}
	v1 := m.Fingerprint()

	if err := os.WriteFile(path, []byte("v2"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := m.AddFile(path); err != nil {
		t.Fatal(err)
	}
	if got := m.Fingerprint(); got == v1 {
		t.Fatal("changed file content should change the fingerprint")
	}
}

func TestAddFileMissing(t *testing.T) {
	m := newManager(t)
	err := m.AddFile(filepath.Join(t.TempDir(), "nope"))
	if !errors.Is(err, ErrFileUnreadable) {
		t.Fatalf("expected ErrFileUnreadable, got %v", err)
	}
}

func TestCustomDataChangesFingerprint(t *testing.T) {
	m := newManager(t)
	base := m.Fingerprint()

	m.SetCustom("stream", "launch-day")
	custom := m.Fingerprint()
	if custom == base {
		t.Fatal("custom data should change the fingerprint")
	}

	if !m.RemoveCustom("stream") {
		t.Fatal("RemoveCustom should report the key as set")
	}
	if got := m.Fingerprint(); got != base {
		t.Fatal("removing custom data should restore the fingerprint")
	}
}

func TestConfigCustomSeedsFingerprint(t *testing.T) {
	a, err := New(Config{Custom: map[string]string{"channel": "main"}})
	if err != nil {
		t.Fatal(err)
	}
	b := newManager(t)
	if a.Fingerprint() == b.Fingerprint() {
		t.Fatal("seeded custom data should differentiate managers")
	}
}

func TestStats(t *testing.T) {
	m := newManager(t)
	m.Fingerprint()
	m.Fingerprint()

	stats := m.Stats()
	if stats.Fingerprints != 2 {
		t.Fatalf("expected 2 fingerprint generations, got %d", stats.Fingerprints)
	}
	if stats.Hostname == "" || stats.Platform == "" {
		t.Fatalf("expected populated system facts: %+v", stats)
	}
}
