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

// Package keystore manages the signing and encryption keys of the QR
// protocol. Key pairs are generated locally, private keys are sealed under
// a 256-bit master key with AES-256-GCM, and a metadata index tracks
// algorithm, purpose and usage per key.
//
// The metadata index is the only shared mutable resource; every mutation
// is serialized behind the keystore lock while reads proceed concurrently.
// Plaintext private keys exist only inside WithSigner and are zeroed on
// every exit path.
package keystore

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jeremyhahn/go-qrlive/pkg/crypto/aead"
	"github.com/jeremyhahn/go-qrlive/pkg/logging"
	"github.com/jeremyhahn/go-qrlive/pkg/storage"
)

const (
	masterKeyPath = "master.key"
	indexPath     = "key_metadata.json"
	recordPrefix  = "keys/"

	masterKeySize = 32
)

// Config holds the keystore configuration.
type Config struct {
	// Backend is the storage backend for key material and metadata.
	Backend storage.Backend

	// Logger receives warnings about recoverable metadata problems.
	// Defaults to logging.DefaultLogger when nil.
	Logger *logging.Logger
}

// KeyStore stores key pairs with private keys sealed under the master key.
// All methods are safe for concurrent use.
type KeyStore struct {
	mu      sync.RWMutex
	backend storage.Backend
	logger  *logging.Logger
	master  []byte
	index   map[string]*KeyInfo
	closed  bool
}

// New creates a keystore on top of the given storage backend. The master
// key is loaded from the backend, or generated and persisted on first use.
// A corrupt metadata index is logged and skipped, never fatal.
func New(cfg *Config) (*KeyStore, error) {
	if cfg == nil || cfg.Backend == nil {
		return nil, ErrBackendRequired
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.DefaultLogger()
	}

	ks := &KeyStore{
		backend: cfg.Backend,
		logger:  logger,
		index:   make(map[string]*KeyInfo),
	}

	if err := ks.loadMasterKey(); err != nil {
		return nil, err
	}
	ks.loadIndex()

	return ks, nil
}

// loadMasterKey reads the master key from storage, creating and persisting
// a new one when none exists. The key file is written with owner-only
// permissions and fsynced.
func (ks *KeyStore) loadMasterKey() error {
	data, err := ks.backend.Get(masterKeyPath)
	if err == nil {
		if len(data) != masterKeySize {
			return fmt.Errorf("%w: master key has %d bytes, want %d",
				ErrMasterKey, len(data), masterKeySize)
		}
		ks.master = data
		return nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w: %v", ErrMasterKey, err)
	}

	master := make([]byte, masterKeySize)
	if _, err := io.ReadFull(rand.Reader, master); err != nil {
		return fmt.Errorf("%w: failed to generate: %v", ErrMasterKey, err)
	}
	opts := &storage.Options{Permissions: 0600, Sync: true}
	if err := ks.backend.Put(masterKeyPath, master, opts); err != nil {
		return fmt.Errorf("%w: failed to persist: %v", ErrMasterKey, err)
	}
	ks.master = master
	ks.logger.Info("generated new master key")
	return nil
}

// loadIndex loads the metadata index and reconciles it against the stored
// key blobs. Corruption and stray blobs are warnings, not errors.
func (ks *KeyStore) loadIndex() {
	data, err := ks.backend.Get(indexPath)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		// First run
	case err != nil:
		ks.logger.Warnf("failed to read key metadata: %v", err)
	default:
		if jsonErr := json.Unmarshal(data, &ks.index); jsonErr != nil {
			ks.logger.Warnf("corrupt key metadata, starting with empty index: %v", jsonErr)
			ks.index = make(map[string]*KeyInfo)
		}
	}

	blobs, err := ks.backend.List(recordPrefix)
	if err != nil {
		ks.logger.Warnf("failed to list key records: %v", err)
		return
	}
	present := make(map[string]bool, len(blobs))
	for _, blob := range blobs {
		id := strings.TrimSuffix(strings.TrimPrefix(blob, recordPrefix), ".json")
		present[id] = true
		if _, ok := ks.index[id]; !ok {
			ks.logger.Warnf("key record %s has no metadata entry, ignoring", id)
		}
	}
	for id := range ks.index {
		if !present[id] {
			ks.logger.Warnf("metadata entry %s has no key record, dropping", id)
			delete(ks.index, id)
		}
	}
}

// Generate creates a new key pair, seals the private key under the master
// key and stores the record. The returned GeneratedKey carries the only
// plaintext copy of the private key; call Clear when it is not needed.
func (ks *KeyStore) Generate(algorithm Algorithm, bits int, purpose string) (*GeneratedKey, error) {
	if err := validateKeySpec(algorithm, bits); err != nil {
		return nil, err
	}

	ks.mu.Lock()
	defer ks.mu.Unlock()
	if ks.closed {
		return nil, ErrClosed
	}

	signer, err := generateKeyPair(algorithm, bits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate %s key: %w", algorithm, err)
	}

	privPEM, err := encodePrivatePEM(signer)
	if err != nil {
		return nil, err
	}
	pubPEM, err := encodePublicPEM(signer.Public())
	if err != nil {
		clearBytes(privPEM)
		return nil, err
	}

	keyID := uuid.NewString()
	sealed, err := aead.SealToString(ks.master, privPEM, []byte(keyID))
	if err != nil {
		clearBytes(privPEM)
		return nil, fmt.Errorf("failed to seal private key: %w", err)
	}

	now := time.Now().UTC()
	record := &KeyRecord{
		KeyID:               keyID,
		Algorithm:           algorithm,
		KeySizeBits:         bits,
		Purpose:             purpose,
		PublicKey:           string(pubPEM),
		PrivateKeyEncrypted: sealed,
		CreatedAt:           now,
	}
	if err := ks.putRecordLocked(record); err != nil {
		clearBytes(privPEM)
		return nil, err
	}

	ks.index[keyID] = &KeyInfo{
		Algorithm:   algorithm,
		KeySizeBits: bits,
		Purpose:     purpose,
		CreatedAt:   now,
	}
	if err := ks.saveIndexLocked(); err != nil {
		clearBytes(privPEM)
		return nil, err
	}

	ks.logger.Debugf("generated %s-%d key %s (%s)", algorithm, bits, keyID, purpose)
	return &GeneratedKey{
		KeyID:      keyID,
		PublicPEM:  pubPEM,
		PrivatePEM: privPEM,
	}, nil
}

// Get returns the stored record for keyID with its current usage counters.
// The private key remains sealed inside the record.
func (ks *KeyStore) Get(keyID string) (*KeyRecord, error) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	if ks.closed {
		return nil, ErrClosed
	}
	return ks.getRecordLocked(keyID)
}

func (ks *KeyStore) getRecordLocked(keyID string) (*KeyRecord, error) {
	info, ok := ks.index[keyID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, keyID)
	}

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

	record.LastUsed = info.LastUsed
	record.UsageCount = info.UsageCount
	return &record, nil
}

// List returns the metadata of every stored key, keyed by key ID.
// No private material is included.
func (ks *KeyStore) List() (map[string]KeyInfo, error) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	if ks.closed {
		return nil, ErrClosed
	}

	out := make(map[string]KeyInfo, len(ks.index))
	for id, info := range ks.index {
		out[id] = *info
	}
	return out, nil
}

// Delete removes the key record and its metadata entry. It reports whether
// a key was removed; deleting an unknown key is not an error.
func (ks *KeyStore) Delete(keyID string) (bool, error) {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	if ks.closed {
		return false, ErrClosed
	}

	err := ks.backend.Delete(recordPrefix + keyID + ".json")
	if errors.Is(err, storage.ErrNotFound) {
		delete(ks.index, keyID)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to delete key record %s: %w", keyID, err)
	}

	delete(ks.index, keyID)
	if err := ks.saveIndexLocked(); err != nil {
		return true, err
	}
	ks.logger.Debugf("deleted key %s", keyID)
	return true, nil
}

// WithSigner unseals the private key for keyID, invokes fn with a
// crypto.Signer backed by it, and zeroes the plaintext buffers before
// returning. The signer must not be retained after fn returns.
func (ks *KeyStore) WithSigner(keyID string, fn func(crypto.Signer) error) error {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	if ks.closed {
		return ErrClosed
	}

	record, err := ks.getRecordLocked(keyID)
	if err != nil {
		return err
	}

	privPEM, err := aead.OpenFromString(ks.master, record.PrivateKeyEncrypted, []byte(keyID))
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCorruptRecord, keyID, err)
	}
	defer clearBytes(privPEM)

	block, _ := pem.Decode(privPEM)
	if block == nil {
		return fmt.Errorf("%w: %s: no PEM block", ErrCorruptRecord, keyID)
	}
	defer clearBytes(block.Bytes)

	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCorruptRecord, keyID, err)
	}
	signer, ok := key.(crypto.Signer)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotSigner, keyID)
	}

	return fn(signer)
}

// PublicKey parses and returns the stored public key for keyID.
func (ks *KeyStore) PublicKey(keyID string) (crypto.PublicKey, error) {
	record, err := ks.Get(keyID)
	if err != nil {
		return nil, err
	}
	return parsePublicPEM([]byte(record.PublicKey))
}

// RecordUsage bumps the usage counter and last-used timestamp for keyID.
// Engines call it after a successful signing operation. Increments are
// best-effort; a lost update under cross-process races is tolerated.
func (ks *KeyStore) RecordUsage(keyID string) error {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	if ks.closed {
		return ErrClosed
	}

	info, ok := ks.index[keyID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrKeyNotFound, keyID)
	}
	now := time.Now().UTC()
	info.UsageCount++
	info.LastUsed = &now
	return ks.saveIndexLocked()
}

// Close zeroes the master key and closes the underlying backend.
func (ks *KeyStore) Close() error {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	if ks.closed {
		return nil
	}
	ks.closed = true
	clearBytes(ks.master)
	ks.master = nil
	return ks.backend.Close()
}

func (ks *KeyStore) putRecordLocked(record *KeyRecord) error {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode key record: %w", err)
	}
	opts := &storage.Options{Permissions: 0600}
	if err := ks.backend.Put(recordPrefix+record.KeyID+".json", data, opts); err != nil {
		return fmt.Errorf("failed to store key record: %w", err)
	}
	return nil
}

func (ks *KeyStore) saveIndexLocked() error {
	data, err := json.MarshalIndent(ks.index, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode key metadata: %w", err)
	}
	opts := &storage.Options{Permissions: 0600, Sync: true}
	if err := ks.backend.Put(indexPath, data, opts); err != nil {
		return fmt.Errorf("failed to store key metadata: %w", err)
	}
	return nil
}

// validateKeySpec enforces the key-size policy: RSA anywhere in
// [2048, 4096], ECDSA exactly one of the NIST curve sizes.
func validateKeySpec(algorithm Algorithm, bits int) error {
	switch algorithm {
	case AlgorithmRSA:
		if bits < MinRSABits || bits > MaxRSABits {
			return fmt.Errorf("%w: RSA %d bits, want %d..%d",
				ErrInvalidKeySize, bits, MinRSABits, MaxRSABits)
		}
	case AlgorithmECDSA:
		if curveForBits(bits) == nil {
			return fmt.Errorf("%w: ECDSA %d bits, want 256, 384 or 521",
				ErrInvalidKeySize, bits)
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidAlgorithm, algorithm)
	}
	return nil
}

func curveForBits(bits int) elliptic.Curve {
	switch bits {
	case 256:
		return elliptic.P256()
	case 384:
		return elliptic.P384()
	case 521:
		return elliptic.P521()
	default:
		return nil
	}
}

func generateKeyPair(algorithm Algorithm, bits int) (crypto.Signer, error) {
	switch algorithm {
	case AlgorithmRSA:
		return rsa.GenerateKey(rand.Reader, bits)
	case AlgorithmECDSA:
		return ecdsa.GenerateKey(curveForBits(bits), rand.Reader)
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidAlgorithm, algorithm)
	}
}

func encodePrivatePEM(signer crypto.Signer) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(signer)
	if err != nil {
		return nil, fmt.Errorf("failed to encode private key: %w", err)
	}
	defer clearBytes(der)
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

func encodePublicPEM(pub crypto.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("failed to encode public key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

func parsePublicPEM(pubPEM []byte) (crypto.PublicKey, error) {
	block, _ := pem.Decode(pubPEM)
	if block == nil {
		return nil, fmt.Errorf("%w: no public key PEM block", ErrCorruptRecord)
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	return pub, nil
}

// clearBytes overwrites b with zeros.
func clearBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
