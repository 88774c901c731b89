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

package keystore

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/youmark/pkcs8"
)

func TestBackupWritesSealedManifest(t *testing.T) {
	ks := newTestStore(t)
	keyID := generateTestKey(t, ks)

	dir := t.TempDir()
	if err := ks.Backup(dir); err != nil {
		t.Fatalf("Backup() error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "keys_backup.json"))
	if err != nil {
		t.Fatalf("backup file not written: %v", err)
	}

	var manifest struct {
		Keys map[string]*KeyRecord `json:"keys"`
	}
	if err := json.Unmarshal(data, &manifest); err != nil {
		t.Fatalf("backup is not JSON: %v", err)
	}
	record, ok := manifest.Keys[keyID]
	if !ok {
		t.Fatalf("backup missing key %s", keyID)
	}
	if record.PrivateKeyEncrypted == "" {
		t.Error("backup record has no sealed private key")
	}
	if strings.Contains(string(data), "BEGIN PRIVATE KEY") {
		t.Error("backup contains a plaintext private key")
	}
}

func TestBackupWithPassphrase(t *testing.T) {
	ks := newTestStore(t)
	keyID := generateTestKey(t, ks)

	dir := t.TempDir()
	passphrase := []byte("correct horse battery staple")
	if err := ks.BackupWithPassphrase(dir, passphrase); err != nil {
		t.Fatalf("BackupWithPassphrase() error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, keyID+".pem"))
	if err != nil {
		t.Fatalf("exported key not written: %v", err)
	}

	block, _ := pem.Decode(data)
	if block == nil || block.Type != "ENCRYPTED PRIVATE KEY" {
		t.Fatalf("export is not an ENCRYPTED PRIVATE KEY block:\n%s", data)
	}

	// The export decrypts with the passphrase, without the keystore
	parsed, err := pkcs8.ParsePKCS8PrivateKey(block.Bytes, passphrase)
	if err != nil {
		t.Fatalf("export does not decrypt with passphrase: %v", err)
	}
	if _, ok := parsed.(*ecdsa.PrivateKey); !ok {
		t.Errorf("decrypted key type = %T, want *ecdsa.PrivateKey", parsed)
	}

	// And not with the wrong passphrase
	if _, err := pkcs8.ParsePKCS8PrivateKey(block.Bytes, []byte("wrong")); err == nil {
		t.Error("export decrypted with the wrong passphrase")
	}
}

func TestBackupWithPassphraseRequiresPassphrase(t *testing.T) {
	ks := newTestStore(t)

	err := ks.BackupWithPassphrase(t.TempDir(), nil)
	if !errors.Is(err, ErrPassphraseRequired) {
		t.Errorf("BackupWithPassphrase(nil) error = %v, want ErrPassphraseRequired", err)
	}
}

func TestSplitAndRecoverMasterKey(t *testing.T) {
	ks := newTestStore(t)
	keyID := generateTestKey(t, ks)

	shares, err := ks.SplitMasterKey(3, 5)
	if err != nil {
		t.Fatalf("SplitMasterKey() error = %v", err)
	}
	if len(shares) != 5 {
		t.Fatalf("SplitMasterKey() returned %d shares, want 5", len(shares))
	}

	// Round-trip the shares through disk like an operator would
	dir := t.TempDir()
	if err := WriteShares(dir, shares); err != nil {
		t.Fatalf("WriteShares() error = %v", err)
	}
	paths := []string{
		filepath.Join(dir, "master-share-1.json"),
		filepath.Join(dir, "master-share-3.json"),
		filepath.Join(dir, "master-share-5.json"),
	}
	loaded, err := ReadShares(paths)
	if err != nil {
		t.Fatalf("ReadShares() error = %v", err)
	}

	// Recovering with a threshold subset restores the same master key,
	// so previously sealed records still unseal
	if err := ks.RecoverMasterKey(loaded); err != nil {
		t.Fatalf("RecoverMasterKey() error = %v", err)
	}

	digest := sha256.Sum256([]byte("post recovery"))
	err = ks.WithSigner(keyID, func(signer crypto.Signer) error {
		_, signErr := signer.Sign(rand.Reader, digest[:], crypto.SHA256)
		return signErr
	})
	if err != nil {
		t.Fatalf("WithSigner() after recovery error = %v", err)
	}
}

func TestRecoverRejectsInsufficientShares(t *testing.T) {
	ks := newTestStore(t)

	shares, err := ks.SplitMasterKey(3, 5)
	if err != nil {
		t.Fatalf("SplitMasterKey() error = %v", err)
	}

	if err := ks.RecoverMasterKey(shares[:2]); err == nil {
		t.Error("RecoverMasterKey() with 2 of 3 shares succeeded, want error")
	}
}

func TestSplitRejectsBadParameters(t *testing.T) {
	ks := newTestStore(t)

	cases := []struct{ threshold, total int }{
		{1, 5},   // threshold too low
		{4, 3},   // total below threshold
		{0, 0},   // nonsense
		{2, 300}, // too many shares
	}
	for _, tc := range cases {
		if _, err := ks.SplitMasterKey(tc.threshold, tc.total); err == nil {
			t.Errorf("SplitMasterKey(%d, %d) succeeded, want error", tc.threshold, tc.total)
		}
	}
}
