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
	"encoding/json"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/youmark/pkcs8"

	"github.com/jeremyhahn/go-qrlive/pkg/storage"
	"github.com/jeremyhahn/go-qrlive/pkg/threshold/shamir"
)

// backupManifest is the on-disk format of a keystore backup. Private keys
// remain sealed under the master key; a backup without the master key (or
// its Shamir shares) cannot be opened.
type backupManifest struct {
	CreatedAt time.Time             `json:"created_at"`
	Keys      map[string]*KeyRecord `json:"keys"`
}

// Backup writes every key record to <dir>/keys_backup.json. The records
// keep their private keys sealed; pair the backup with SplitMasterKey
// shares or a passphrase export to make it recoverable.
func (ks *KeyStore) Backup(dir string) error {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	if ks.closed {
		return ErrClosed
	}

	manifest := backupManifest{
		CreatedAt: time.Now().UTC(),
		Keys:      make(map[string]*KeyRecord, len(ks.index)),
	}
	for keyID := range ks.index {
		record, err := ks.getRecordLocked(keyID)
		if err != nil {
			return err
		}
		manifest.Keys[keyID] = record
	}

	data, err := json.MarshalIndent(&manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode backup: %w", err)
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create backup directory: %w", err)
	}
	path := filepath.Join(dir, "keys_backup.json")
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write backup: %w", err)
	}

	ks.logger.Infof("backed up %d keys to %s", len(manifest.Keys), path)
	return nil
}

// BackupWithPassphrase exports every private key as an encrypted PKCS#8
// PEM file under dir, protected by the given passphrase instead of the
// master key. This is the out-of-band disaster recovery path: the export
// opens without the keystore.
func (ks *KeyStore) BackupWithPassphrase(dir string, passphrase []byte) error {
	if len(passphrase) == 0 {
		return ErrPassphraseRequired
	}

	ks.mu.RLock()
	keyIDs := make([]string, 0, len(ks.index))
	for keyID := range ks.index {
		keyIDs = append(keyIDs, keyID)
	}
	ks.mu.RUnlock()

	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create backup directory: %w", err)
	}

	for _, keyID := range keyIDs {
		err := ks.WithSigner(keyID, func(signer crypto.Signer) error {
			der, err := pkcs8.MarshalPrivateKey(signer, passphrase, nil)
			if err != nil {
				return fmt.Errorf("failed to encrypt key %s: %w", keyID, err)
			}
			block := &pem.Block{Type: "ENCRYPTED PRIVATE KEY", Bytes: der}
			path := filepath.Join(dir, keyID+".pem")
			if err := os.WriteFile(path, pem.EncodeToMemory(block), 0600); err != nil {
				return fmt.Errorf("failed to write key %s: %w", keyID, err)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}

	ks.logger.Infof("exported %d passphrase-protected keys to %s", len(keyIDs), dir)
	return nil
}

// SplitMasterKey splits the master key into total Shamir shares with the
// given reconstruction threshold.
func (ks *KeyStore) SplitMasterKey(threshold, total int) ([]*shamir.Share, error) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	if ks.closed {
		return nil, ErrClosed
	}
	return shamir.Split(ks.master, threshold, total)
}

// WriteShares writes one share per file under dir as
// master-share-<index>.json with owner-only permissions.
func WriteShares(dir string, shares []*shamir.Share) error {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create share directory: %w", err)
	}
	for _, share := range shares {
		data, err := json.MarshalIndent(share, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode share %d: %w", share.Index, err)
		}
		path := filepath.Join(dir, fmt.Sprintf("master-share-%d.json", share.Index))
		if err := os.WriteFile(path, data, 0600); err != nil {
			return fmt.Errorf("failed to write share %d: %w", share.Index, err)
		}
	}
	return nil
}

// ReadShares loads Shamir shares from the given JSON files.
func ReadShares(paths []string) ([]*shamir.Share, error) {
	shares := make([]*shamir.Share, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read share %s: %w", path, err)
		}
		var share shamir.Share
		if err := json.Unmarshal(data, &share); err != nil {
			return nil, fmt.Errorf("failed to decode share %s: %w", path, err)
		}
		shares = append(shares, &share)
	}
	return shares, nil
}

// RecoverMasterKey reconstructs the master key from Shamir shares and
// replaces the current one. Existing sealed records become readable again
// when the recovered key is the one they were sealed under.
func (ks *KeyStore) RecoverMasterKey(shares []*shamir.Share) error {
	secret, err := shamir.Combine(shares)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMasterKey, err)
	}
	if len(secret) != masterKeySize {
		clearBytes(secret)
		return fmt.Errorf("%w: recovered key has %d bytes, want %d",
			ErrMasterKey, len(secret), masterKeySize)
	}

	ks.mu.Lock()
	defer ks.mu.Unlock()
	if ks.closed {
		clearBytes(secret)
		return ErrClosed
	}

	opts := &storage.Options{Permissions: 0600, Sync: true}
	if err := ks.backend.Put(masterKeyPath, secret, opts); err != nil {
		clearBytes(secret)
		return fmt.Errorf("%w: failed to persist: %v", ErrMasterKey, err)
	}

	clearBytes(ks.master)
	ks.master = secret
	ks.logger.Info("recovered master key from shares")
	return nil
}
