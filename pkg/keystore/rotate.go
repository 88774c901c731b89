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
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/jeremyhahn/go-qrlive/pkg/crypto/aead"
	"github.com/jeremyhahn/go-qrlive/pkg/storage"
)

// RotateMasterKey replaces the master key and re-seals every stored
// private key under the new one. Keys derived with DeriveKey change with
// the master key, so payloads sealed before the rotation no longer verify.
//
// Rotation is not crash-atomic; take a backup first.
func (ks *KeyStore) RotateMasterKey() error {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	if ks.closed {
		return ErrClosed
	}

	newMaster := make([]byte, masterKeySize)
	if _, err := io.ReadFull(rand.Reader, newMaster); err != nil {
		return fmt.Errorf("%w: failed to generate: %v", ErrMasterKey, err)
	}

	// Re-seal every record in memory before touching storage so a
	// failure on any single record aborts the rotation cleanly.
	resealed := make(map[string][]byte, len(ks.index))
	for keyID := range ks.index {
		record, err := ks.loadRecordRawLocked(keyID)
		if err != nil {
			clearBytes(newMaster)
			return err
		}

		privPEM, err := aead.OpenFromString(ks.master, record.PrivateKeyEncrypted, []byte(keyID))
		if err != nil {
			clearBytes(newMaster)
			return fmt.Errorf("%w: %s: %v", ErrCorruptRecord, keyID, err)
		}
		record.PrivateKeyEncrypted, err = aead.SealToString(newMaster, privPEM, []byte(keyID))
		clearBytes(privPEM)
		if err != nil {
			clearBytes(newMaster)
			return fmt.Errorf("failed to re-seal key %s: %w", keyID, err)
		}

		data, err := json.MarshalIndent(record, "", "  ")
		if err != nil {
			clearBytes(newMaster)
			return fmt.Errorf("failed to encode key record %s: %w", keyID, err)
		}
		resealed[keyID] = data
	}

	opts := &storage.Options{Permissions: 0600, Sync: true}
	if err := ks.backend.Put(masterKeyPath, newMaster, opts); err != nil {
		clearBytes(newMaster)
		return fmt.Errorf("%w: failed to persist: %v", ErrMasterKey, err)
	}
	for keyID, data := range resealed {
		if err := ks.backend.Put(recordPrefix+keyID+".json", data, &storage.Options{Permissions: 0600}); err != nil {
			return fmt.Errorf("failed to store re-sealed key %s: %w", keyID, err)
		}
	}

	clearBytes(ks.master)
	ks.master = newMaster
	ks.logger.Infof("rotated master key, re-sealed %d keys", len(resealed))
	return nil
}

// loadRecordRawLocked reads a record without merging usage counters.
func (ks *KeyStore) loadRecordRawLocked(keyID string) (*KeyRecord, error) {
	data, err := ks.backend.Get(recordPrefix + keyID + ".json")
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, keyID)
		}
		return nil, fmt.Errorf("failed to read key record %s: %w", keyID, err)
	}
	var record KeyRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptRecord, keyID, err)
	}
	return &record, nil
}
