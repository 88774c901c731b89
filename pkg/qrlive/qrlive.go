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

// Package qrlive is the live QR protocol coordinator. It gathers the
// attestation data for each emission (timestamp, identity fingerprint,
// chain heads, time server evidence, sequence number), pushes the
// payload through the protection pipeline, renders the QR image, and
// verifies scanned payloads against the same collaborators.
package qrlive

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jeremyhahn/go-qrlive/pkg/chain"
	"github.com/jeremyhahn/go-qrlive/pkg/fieldcrypt"
	"github.com/jeremyhahn/go-qrlive/pkg/identity"
	"github.com/jeremyhahn/go-qrlive/pkg/integrity"
	"github.com/jeremyhahn/go-qrlive/pkg/keystore"
	"github.com/jeremyhahn/go-qrlive/pkg/logging"
	"github.com/jeremyhahn/go-qrlive/pkg/metrics"
	"github.com/jeremyhahn/go-qrlive/pkg/pipeline"
	"github.com/jeremyhahn/go-qrlive/pkg/qrgen"
	"github.com/jeremyhahn/go-qrlive/pkg/resilience"
	"github.com/jeremyhahn/go-qrlive/pkg/signature"
	"github.com/jeremyhahn/go-qrlive/pkg/timesource"
)

// Payload field names.
const (
	FieldTimestamp        = "timestamp"
	FieldIdentityHash     = "identity_hash"
	FieldBlockchainHashes = "blockchain_hashes"
	FieldTimeVerification = "time_server_verification"
	FieldUserData         = "user_data"
	FieldSequence         = "sequence_number"
)

const (
	defaultUpdateInterval = 5 * time.Second
	defaultMaxTimeDrift   = 5 * time.Minute

	// bootstrapPurpose tags the signing key generated when none exists.
	bootstrapPurpose = "qr_signing"
)

// Config assembles a Protocol. Only KeyStore is mandatory; nil
// collaborators are constructed with defaults.
type Config struct {
	// KeyStore backs signing, sealing, and field encryption.
	KeyStore *keystore.KeyStore

	// SigningKeyID pins the signing key. Empty means bootstrap: the
	// first stored key, or a generated RSA-2048 key when the store is
	// empty.
	SigningKeyID string

	// SignByDefault controls whether live emissions are signed.
	SignByDefault bool

	// EncryptByDefault controls whether live emissions have their
	// sensitive fields encrypted.
	EncryptByDefault bool

	// SensitiveFields overrides the default encrypted field set.
	SensitiveFields []string

	// UpdateInterval is the live emission period, default 5s.
	UpdateInterval time.Duration

	// MaxTimeDrift is the verification window for payload timestamps,
	// default 5m.
	MaxTimeDrift time.Duration

	// Time, Chain, Identity, and QR default to stock instances.
	Time     *timesource.Source
	Chain    *chain.Verifier
	Identity *identity.Manager
	QR       *qrgen.Generator

	// Breakers is shared across collaborators so the web layer can
	// report one registry. A private one is created when nil.
	Breakers *resilience.Manager

	Logger *logging.Logger
}

// Options selects the protection layers for a single emission.
type Options struct {
	// UserData is merged into the payload under "user_data".
	UserData map[string]any

	// Sign requests a signature layer. SigningKeyID overrides the
	// protocol's configured key for this emission.
	Sign         bool
	SigningKeyID string

	// Encrypt requests field encryption. EncryptFields overrides the
	// engine's sensitive set for this emission.
	Encrypt       bool
	EncryptFields []string
}

// Update is one finished emission: the protected payload, its wire
// form, and the rendered QR image.
type Update struct {
	Payload   map[string]any `json:"payload"`
	Wire      []byte         `json:"-"`
	PNG       []byte         `json:"-"`
	Sequence  uint64         `json:"sequence_number"`
	Signed    bool           `json:"signed"`
	Encrypted bool           `json:"encrypted"`
	CreatedAt time.Time      `json:"created_at"`
}

// Protocol coordinates the emission collaborators.
type Protocol struct {
	keys     *keystore.KeyStore
	pipe     *pipeline.Pipeline
	time     *timesource.Source
	chain    *chain.Verifier
	identity *identity.Manager
	qr       *qrgen.Generator
	breakers *resilience.Manager
	logger   *logging.Logger

	signByDefault    bool
	encryptByDefault bool
	updateInterval   time.Duration
	maxTimeDrift     time.Duration

	mu           sync.RWMutex
	signingKeyID string
	sequence     uint64
	current      *Update
	updates      uint64
	lastDuration time.Duration

	liveMu    sync.Mutex
	running   bool
	cancel    context.CancelFunc
	done      chan struct{}
	callbacks []UpdateCallback
	userData  UserDataFunc
}

// UpdateCallback receives each live emission.
type UpdateCallback func(*Update)

// UserDataFunc supplies per-emission user data in live mode.
type UserDataFunc func() map[string]any

// New assembles a Protocol from cfg.
func New(cfg Config) (*Protocol, error) {
	if cfg.KeyStore == nil {
		return nil, ErrKeyStoreRequired
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	breakers := cfg.Breakers
	if breakers == nil {
		breakers = resilience.NewManager(logger)
	}

	integrityEngine, err := integrity.NewEngineFromKeystore(cfg.KeyStore, logger)
	if err != nil {
		return nil, fmt.Errorf("integrity engine: %w", err)
	}
	fieldOpts := []fieldcrypt.Option{fieldcrypt.WithLogger(logger)}
	if cfg.SensitiveFields != nil {
		fieldOpts = append(fieldOpts, fieldcrypt.WithSensitiveFields(cfg.SensitiveFields))
	}
	fieldEngine, err := fieldcrypt.NewEngineFromKeystore(cfg.KeyStore, fieldOpts...)
	if err != nil {
		return nil, fmt.Errorf("field encryption engine: %w", err)
	}
	pipe, err := pipeline.New(&pipeline.Config{
		Signatures: signature.NewEngine(cfg.KeyStore, logger),
		Integrity:  integrityEngine,
		Fields:     fieldEngine,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	timeSource := cfg.Time
	if timeSource == nil {
		timeSource = timesource.New(timesource.Config{Breakers: breakers, Logger: logger})
	}
	chainVerifier := cfg.Chain
	if chainVerifier == nil {
		chainVerifier = chain.New(chain.Config{Breakers: breakers, Logger: logger})
	}
	identityManager := cfg.Identity
	if identityManager == nil {
		identityManager, err = identity.New(identity.Config{Logger: logger})
		if err != nil {
			return nil, fmt.Errorf("identity manager: %w", err)
		}
	}
	qrGenerator := cfg.QR
	if qrGenerator == nil {
		qrGenerator, err = qrgen.New(qrgen.Config{Logger: logger})
		if err != nil {
			return nil, fmt.Errorf("qr generator: %w", err)
		}
	}

	interval := cfg.UpdateInterval
	if interval <= 0 {
		interval = defaultUpdateInterval
	}
	drift := cfg.MaxTimeDrift
	if drift <= 0 {
		drift = defaultMaxTimeDrift
	}

	return &Protocol{
		keys:             cfg.KeyStore,
		pipe:             pipe,
		time:             timeSource,
		chain:            chainVerifier,
		identity:         identityManager,
		qr:               qrGenerator,
		breakers:         breakers,
		logger:           logger,
		signByDefault:    cfg.SignByDefault,
		encryptByDefault: cfg.EncryptByDefault,
		updateInterval:   interval,
		maxTimeDrift:     drift,
		signingKeyID:     cfg.SigningKeyID,
	}, nil
}

// DefaultOptions returns the configured per-emission defaults.
func (p *Protocol) DefaultOptions() Options {
	return Options{Sign: p.signByDefault, Encrypt: p.encryptByDefault}
}

// Generate produces one emission: gather attestation data, protect the
// payload, render the QR image. A signing or encryption failure
// degrades the emission (logged by the pipeline); a sealing or
// rendering failure is an error.
func (p *Protocol) Generate(ctx context.Context, opts Options) (*Update, error) {
	start := time.Now()

	verification := p.time.Verification(ctx)
	heads := p.chain.Heads(ctx)
	fingerprint := p.identity.Fingerprint()
	now := p.time.Now()

	p.mu.Lock()
	p.sequence++
	seq := p.sequence
	p.mu.Unlock()

	payload := map[string]any{
		FieldTimestamp:        now.Format(time.RFC3339Nano),
		FieldIdentityHash:     fingerprint,
		FieldBlockchainHashes: headsAny(heads),
		FieldTimeVerification: verificationAny(verification),
		FieldSequence:         seq,
	}
	if opts.UserData != nil {
		payload[FieldUserData] = opts.UserData
	}

	pipeOpts := pipeline.Options{
		Sign:          opts.Sign,
		Encrypt:       opts.Encrypt,
		EncryptFields: opts.EncryptFields,
	}
	if opts.Sign {
		keyID := opts.SigningKeyID
		if keyID == "" {
			var err error
			keyID, err = p.ensureSigningKey()
			if err != nil {
				// Degrades to unsigned, mirroring a signing failure.
				p.logger.Warnf("no signing key available: %v", err)
				pipeOpts.Sign = false
			}
		}
		pipeOpts.SigningKeyID = keyID
	}

	emission, err := p.pipe.Create(payload, pipeOpts)
	if err != nil {
		metrics.RecordEmission(metrics.StatusError, time.Since(start).Seconds())
		metrics.RecordLayer(metrics.LayerHMAC, metrics.StatusError)
		return nil, err
	}

	wire, err := emission.Wire()
	if err != nil {
		metrics.RecordEmission(metrics.StatusError, time.Since(start).Seconds())
		return nil, err
	}

	png, err := p.qr.PNG(wire)
	if err != nil {
		metrics.RecordEmission(metrics.StatusError, time.Since(start).Seconds())
		return nil, fmt.Errorf("render: %w", err)
	}

	p.recordLayers(opts, emission)
	metrics.RecordQRPayload(len(wire))
	metrics.RecordEmission(metrics.StatusSuccess, time.Since(start).Seconds())

	update := &Update{
		Payload:   emission.Payload(),
		Wire:      wire,
		PNG:       png,
		Sequence:  seq,
		Signed:    emission.Signed(),
		Encrypted: emission.Encrypted(),
		CreatedAt: now.UTC(),
	}

	p.mu.Lock()
	p.current = update
	p.updates++
	p.lastDuration = time.Since(start)
	p.mu.Unlock()

	return update, nil
}

func (p *Protocol) recordLayers(opts Options, emission *pipeline.Emission) {
	metrics.RecordLayer(metrics.LayerHMAC, metrics.StatusSuccess)
	if opts.Sign {
		status := metrics.StatusError
		if emission.Signed() {
			status = metrics.StatusSuccess
		}
		metrics.RecordLayer(metrics.LayerSignature, status)
	}
	if opts.Encrypt {
		status := metrics.StatusError
		if emission.Encrypted() {
			status = metrics.StatusSuccess
		}
		metrics.RecordLayer(metrics.LayerEncryption, status)
	}
}

// ensureSigningKey resolves the signing key: the configured ID, else the
// first stored key, else a freshly generated RSA-2048 key.
func (p *Protocol) ensureSigningKey() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.signingKeyID != "" {
		return p.signingKeyID, nil
	}

	keys, err := p.keys.List()
	if err != nil {
		return "", err
	}
	for keyID := range keys {
		p.signingKeyID = keyID
		p.logger.Debugf("using existing signing key %s", keyID)
		return keyID, nil
	}

	generated, err := p.keys.Generate(keystore.AlgorithmRSA, 2048, bootstrapPurpose)
	if err != nil {
		metrics.RecordKeystoreOperation(metrics.OpGenerate, metrics.StatusError)
		return "", err
	}
	defer generated.Clear()
	metrics.RecordKeystoreOperation(metrics.OpGenerate, metrics.StatusSuccess)
	p.signingKeyID = generated.KeyID
	p.logger.Infof("generated signing key %s", generated.KeyID)
	return generated.KeyID, nil
}

// Verify checks a scanned wire payload: the pipeline's crypto layers
// first, then identity, timestamp drift, and chain anchoring. The
// Result is always fully populated.
func (p *Protocol) Verify(ctx context.Context, wire []byte) *pipeline.Result {
	res := p.pipe.Verify(wire)
	if res.Payload == nil {
		metrics.RecordVerification(false)
		return res
	}

	res.IdentityVerified = p.verifyIdentity(res.Payload)
	res.TimeVerified = p.verifyTimestamp(res.Payload)
	res.BlockchainVerified = p.verifyAnchoring(ctx, res.Payload)

	metrics.RecordVerification(res.Ok())
	metrics.RecordCheck(metrics.CheckHMAC, res.HMACVerified)
	metrics.RecordCheck(metrics.CheckSignature, res.SignatureVerified)
	metrics.RecordCheck(metrics.CheckIdentity, res.IdentityVerified)
	metrics.RecordCheck(metrics.CheckTime, res.TimeVerified)
	metrics.RecordCheck(metrics.CheckBlockchain, res.BlockchainVerified)
	return res
}

func (p *Protocol) verifyIdentity(payload map[string]any) bool {
	claimed, ok := payload[FieldIdentityHash].(string)
	if !ok || claimed == "" {
		return false
	}
	return claimed == p.identity.Fingerprint()
}

func (p *Protocol) verifyTimestamp(payload map[string]any) bool {
	stamp, ok := payload[FieldTimestamp].(string)
	if !ok {
		return false
	}
	ts, err := time.Parse(time.RFC3339Nano, stamp)
	if err != nil {
		return false
	}
	drift := p.time.Now().Sub(ts)
	if drift < 0 {
		drift = -drift
	}
	return drift <= p.maxTimeDrift
}

func (p *Protocol) verifyAnchoring(ctx context.Context, payload map[string]any) bool {
	raw, ok := payload[FieldBlockchainHashes].(map[string]any)
	if !ok {
		return false
	}
	heads := make(map[string]string, len(raw))
	for chainName, v := range raw {
		if hash, ok := v.(string); ok {
			heads[chainName] = hash
		}
	}
	return p.chain.Anchored(ctx, heads)
}

// Current returns the most recent emission.
func (p *Protocol) Current() (*Update, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.current == nil {
		return nil, ErrNoEmission
	}
	return p.current, nil
}

// Breakers exposes the shared circuit breaker registry.
func (p *Protocol) Breakers() *resilience.Manager {
	return p.breakers
}

func headsAny(heads map[string]string) map[string]any {
	out := make(map[string]any, len(heads))
	for k, v := range heads {
		out[k] = v
	}
	return out
}

func verificationAny(verification map[string]string) map[string]any {
	out := make(map[string]any, len(verification))
	for k, v := range verification {
		out[k] = v
	}
	return out
}
