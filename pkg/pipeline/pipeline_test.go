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

package pipeline

import (
	"bytes"
	"crypto/rand"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/jeremyhahn/go-qrlive/pkg/canonical"
	"github.com/jeremyhahn/go-qrlive/pkg/fieldcrypt"
	"github.com/jeremyhahn/go-qrlive/pkg/integrity"
	"github.com/jeremyhahn/go-qrlive/pkg/keystore"
	"github.com/jeremyhahn/go-qrlive/pkg/logging"
	"github.com/jeremyhahn/go-qrlive/pkg/signature"
	"github.com/jeremyhahn/go-qrlive/pkg/storage/memory"
)

type testRig struct {
	pipeline *Pipeline
	keys     *keystore.KeyStore
	keyID    string
	seal     *integrity.Engine
	crypt    *fieldcrypt.Engine
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()

	ks, err := keystore.New(&keystore.Config{Backend: memory.New()})
	if err != nil {
		t.Fatalf("keystore.New() error = %v", err)
	}
	t.Cleanup(func() { _ = ks.Close() })

	key, err := ks.Generate(keystore.AlgorithmECDSA, 256, "qr_signing")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	key.Clear()

	seal, err := integrity.NewEngine(randomKey(t), "hmac-test", nil)
	if err != nil {
		t.Fatalf("integrity.NewEngine() error = %v", err)
	}
	crypt, err := fieldcrypt.NewEngine(randomKey(t), "enc-test",
		fieldcrypt.WithSensitiveFields([]string{"user_data", "identity_hash"}))
	if err != nil {
		t.Fatalf("fieldcrypt.NewEngine() error = %v", err)
	}

	p, err := New(&Config{
		Signatures: signature.NewEngine(ks, nil),
		Integrity:  seal,
		Fields:     crypt,
		Logger:     logging.NewLoggerWithWriter(io.Discard, false, false),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	return &testRig{pipeline: p, keys: ks, keyID: key.KeyID, seal: seal, crypt: crypt}
}

func randomKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		t.Fatalf("rand: %v", err)
	}
	return key
}

func testPayload() map[string]any {
	return map[string]any{
		"timestamp":       "2026-03-01T12:00:00.000000Z",
		"sequence_number": 42,
		"identity_hash":   "a1b2c3d4e5f6",
		"user_data":       "backstage",
	}
}

func TestNewRequiresIntegrity(t *testing.T) {
	if _, err := New(nil); !errors.Is(err, ErrIntegrityRequired) {
		t.Errorf("New(nil) error = %v, want ErrIntegrityRequired", err)
	}
	if _, err := New(&Config{}); !errors.Is(err, ErrIntegrityRequired) {
		t.Errorf("New(&Config{}) error = %v, want ErrIntegrityRequired", err)
	}
}

func TestCreateSealedOnly(t *testing.T) {
	rig := newTestRig(t)

	emission, err := rig.pipeline.Create(testPayload(), Options{})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if emission.Signed() {
		t.Error("emission reports signed without a signature request")
	}
	if emission.Encrypted() {
		t.Error("emission reports encrypted without an encryption request")
	}

	payload := emission.Payload()
	for _, field := range []string{
		integrity.FieldHMAC, integrity.FieldKeyID,
		integrity.FieldAlgorithm, integrity.FieldCheckedAt,
	} {
		if _, ok := payload[field]; !ok {
			t.Errorf("sealed payload missing %s", field)
		}
	}
	if _, ok := payload[signature.FieldSignature]; ok {
		t.Error("unsigned emission carries a signature envelope")
	}

	first, err := emission.Wire()
	if err != nil {
		t.Fatalf("Wire() error = %v", err)
	}
	second, err := emission.Wire()
	if err != nil {
		t.Fatalf("Wire() error = %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Error("Wire() is not deterministic")
	}
}

func TestCreateDropsNilFields(t *testing.T) {
	rig := newTestRig(t)

	payload := testPayload()
	payload["note"] = nil
	emission, err := rig.pipeline.Create(payload, Options{})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, ok := emission.Payload()["note"]; ok {
		t.Error("nil field survived into the emission")
	}
}

func TestHMACCoversSignature(t *testing.T) {
	rig := newTestRig(t)

	emission, err := rig.pipeline.Create(testPayload(), Options{Sign: true, SigningKeyID: rig.keyID})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if !emission.Signed() {
		t.Fatal("emission is not signed")
	}
	payload := emission.Payload()
	if _, ok := payload[signature.FieldSignature]; !ok {
		t.Fatal("signed emission has no signature envelope")
	}

	// Stripping the signature must break the seal: the HMAC was computed
	// after signing and covers the signature envelope.
	stripped := canonical.Without(payload,
		signature.FieldSignature, signature.FieldKeyID, signature.FieldAlgorithm)
	ok, err := rig.seal.Verify(stripped)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if ok {
		t.Error("HMAC still verifies with the signature envelope removed")
	}
}

func TestHMACCoversPlaintext(t *testing.T) {
	rig := newTestRig(t)

	emission, err := rig.pipeline.Create(testPayload(), Options{
		Sign: true, SigningKeyID: rig.keyID, Encrypt: true,
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if !emission.Signed() || !emission.Encrypted() {
		t.Fatalf("emission signed=%v encrypted=%v, want both", emission.Signed(), emission.Encrypted())
	}

	payload := emission.Payload()
	if _, ok := payload[fieldcrypt.FieldEncryptedFields]; !ok {
		t.Fatal("encrypted emission has no encryption envelope")
	}
	if payload["user_data"] == "backstage" {
		t.Error("sensitive field still plaintext in encrypted emission")
	}

	// The HMAC does not match the ciphertext form; it covers the payload
	// as it stood before encryption.
	ok, err := rig.seal.Verify(payload)
	if err != nil {
		t.Fatalf("Verify(ciphertext) error = %v", err)
	}
	if ok {
		t.Error("HMAC verifies over ciphertext; encryption should come after sealing")
	}

	decrypted, err := rig.crypt.DecryptPayload(payload)
	if err != nil {
		t.Fatalf("DecryptPayload() error = %v", err)
	}
	ok, err = rig.seal.Verify(decrypted)
	if err != nil {
		t.Fatalf("Verify(plaintext) error = %v", err)
	}
	if !ok {
		t.Error("HMAC does not verify after decryption")
	}
}

func TestVerifyFullStack(t *testing.T) {
	rig := newTestRig(t)

	emission, err := rig.pipeline.Create(testPayload(), Options{
		Sign: true, SigningKeyID: rig.keyID, Encrypt: true,
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	wire, err := emission.Wire()
	if err != nil {
		t.Fatalf("Wire() error = %v", err)
	}

	res := rig.pipeline.Verify(wire)
	if res.Error != "" {
		t.Fatalf("Verify() reported error: %s", res.Error)
	}
	if !res.ValidJSON || !res.HMACVerified || !res.SignatureVerified || !res.Encrypted {
		t.Errorf("result = %+v, want all crypto layers verified", res)
	}
	if !res.Ok() {
		t.Error("Ok() = false for a fully verified payload")
	}
	if res.Payload == nil {
		t.Fatal("result payload is nil")
	}
	if res.Payload["user_data"] != "backstage" {
		t.Errorf("decrypted user_data = %v, want backstage", res.Payload["user_data"])
	}
	if _, ok := res.Payload[fieldcrypt.FieldEncryptedFields]; ok {
		t.Error("encryption envelope survived decryption")
	}
}

func TestVerifySealedOnly(t *testing.T) {
	rig := newTestRig(t)

	emission, err := rig.pipeline.Create(testPayload(), Options{})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	wire, err := emission.Wire()
	if err != nil {
		t.Fatalf("Wire() error = %v", err)
	}

	res := rig.pipeline.Verify(wire)
	if res.Error != "" {
		t.Fatalf("Verify() reported error: %s", res.Error)
	}
	if !res.HMACVerified {
		t.Error("HMACVerified = false for sealed payload")
	}
	if res.SignatureVerified {
		t.Error("SignatureVerified = true for unsigned payload")
	}
	if res.Encrypted {
		t.Error("Encrypted = true for plaintext payload")
	}
	if !res.Ok() {
		t.Error("Ok() = false; the HMAC is the only mandatory layer")
	}
}

func TestVerifyDetectsTampering(t *testing.T) {
	rig := newTestRig(t)

	emission, err := rig.pipeline.Create(testPayload(), Options{Sign: true, SigningKeyID: rig.keyID})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	tampered := canonical.Without(emission.Payload())
	tampered["sequence_number"] = 999
	wire, err := canonical.Canonicalize(tampered)
	if err != nil {
		t.Fatalf("Canonicalize() error = %v", err)
	}

	res := rig.pipeline.Verify(wire)
	if !res.ValidJSON {
		t.Error("ValidJSON = false for well-formed tampered payload")
	}
	if res.HMACVerified {
		t.Error("HMACVerified = true for tampered payload")
	}
	if res.SignatureVerified {
		t.Error("SignatureVerified = true for tampered payload")
	}
	if res.Ok() {
		t.Error("Ok() = true for tampered payload")
	}
}

func TestVerifyUnsealedWire(t *testing.T) {
	rig := newTestRig(t)

	wire, err := canonical.Canonicalize(testPayload())
	if err != nil {
		t.Fatalf("Canonicalize() error = %v", err)
	}

	res := rig.pipeline.Verify(wire)
	if !res.ValidJSON {
		t.Error("ValidJSON = false for well-formed payload")
	}
	if res.HMACVerified {
		t.Error("HMACVerified = true without an HMAC")
	}
	if res.Error != "" {
		t.Errorf("missing HMAC reported as error %q; it is a verdict", res.Error)
	}
}

func TestVerifyInvalidJSON(t *testing.T) {
	rig := newTestRig(t)

	res := rig.pipeline.Verify([]byte(`{"truncated":`))
	if res.ValidJSON {
		t.Error("ValidJSON = true for malformed input")
	}
	if res.Ok() {
		t.Error("Ok() = true for malformed input")
	}
	if res.Error == "" {
		t.Error("no error recorded for malformed input")
	}
	if res.Payload != nil {
		t.Error("payload populated for malformed input")
	}
}

func TestVerifyEncryptedWithoutFieldEngine(t *testing.T) {
	rig := newTestRig(t)

	emission, err := rig.pipeline.Create(testPayload(), Options{Encrypt: true})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	wire, err := emission.Wire()
	if err != nil {
		t.Fatalf("Wire() error = %v", err)
	}

	bare, err := New(&Config{
		Integrity: rig.seal,
		Logger:    logging.NewLoggerWithWriter(io.Discard, false, false),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	res := bare.Verify(wire)
	if !res.Encrypted {
		t.Error("Encrypted = false for encrypted payload")
	}
	if res.HMACVerified {
		t.Error("HMACVerified = true without decrypting")
	}
	if res.Error == "" {
		t.Error("no error recorded for undecryptable payload")
	}
}

func TestSigningDegradesOnUnknownKey(t *testing.T) {
	rig := newTestRig(t)

	var buf bytes.Buffer
	p, err := New(&Config{
		Signatures: signature.NewEngine(rig.keys, nil),
		Integrity:  rig.seal,
		Logger:     logging.NewLoggerWithWriter(&buf, false, false),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	emission, err := p.Create(testPayload(), Options{Sign: true, SigningKeyID: "no-such-key"})
	if err != nil {
		t.Fatalf("Create() error = %v, signing failures should degrade", err)
	}
	if emission.Signed() {
		t.Error("emission reports signed after a signing failure")
	}
	if _, ok := emission.Payload()[signature.FieldSignature]; ok {
		t.Error("degraded emission carries a signature envelope")
	}
	if !strings.Contains(buf.String(), "signing failed") {
		t.Error("signing failure was not logged")
	}

	// The degraded emission is still sealed and verifiable.
	wire, err := emission.Wire()
	if err != nil {
		t.Fatalf("Wire() error = %v", err)
	}
	if res := rig.pipeline.Verify(wire); !res.Ok() {
		t.Errorf("degraded emission does not verify: %+v", res)
	}
}

func TestSigningDegradesWithoutEngine(t *testing.T) {
	rig := newTestRig(t)

	var buf bytes.Buffer
	p, err := New(&Config{
		Integrity: rig.seal,
		Logger:    logging.NewLoggerWithWriter(&buf, false, false),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	emission, err := p.Create(testPayload(), Options{Sign: true, SigningKeyID: "ignored"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if emission.Signed() {
		t.Error("emission reports signed without a signature engine")
	}
	if !strings.Contains(buf.String(), "no signature engine") {
		t.Error("missing engine was not logged")
	}
}

func TestEncryptionDegradesWithoutEngine(t *testing.T) {
	rig := newTestRig(t)

	var buf bytes.Buffer
	p, err := New(&Config{
		Integrity: rig.seal,
		Logger:    logging.NewLoggerWithWriter(&buf, false, false),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	emission, err := p.Create(testPayload(), Options{Encrypt: true})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if emission.Encrypted() {
		t.Error("emission reports encrypted without a field encryption engine")
	}
	if !strings.Contains(buf.String(), "no field encryption engine") {
		t.Error("missing engine was not logged")
	}

	wire, err := emission.Wire()
	if err != nil {
		t.Fatalf("Wire() error = %v", err)
	}
	if res := rig.pipeline.Verify(wire); !res.Ok() {
		t.Errorf("plaintext emission does not verify: %+v", res)
	}
}

func TestStageFlow(t *testing.T) {
	rig := newTestRig(t)

	sealed, err := NewDraft(testPayload()).Unsigned().Seal(rig.seal)
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	emission := sealed.Plaintext()
	if emission.Signed() || emission.Encrypted() {
		t.Error("pass-through stages should leave both layers off")
	}
	if _, ok := emission.Payload()[integrity.FieldHMAC]; !ok {
		t.Error("sealed emission has no HMAC")
	}

	signedStage, err := NewDraft(testPayload()).Sign(signature.NewEngine(rig.keys, nil), rig.keyID)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	if !signedStage.Signed() {
		t.Error("signed stage does not report signed")
	}
}

func TestResultOk(t *testing.T) {
	cases := []struct {
		name string
		res  Result
		want bool
	}{
		{"zero", Result{}, false},
		{"hmac only", Result{HMACVerified: true}, true},
		{"signature only", Result{SignatureVerified: true, ValidJSON: true}, false},
		{"all layers", Result{ValidJSON: true, HMACVerified: true, SignatureVerified: true}, true},
	}
	for _, tc := range cases {
		if got := tc.res.Ok(); got != tc.want {
			t.Errorf("%s: Ok() = %v, want %v", tc.name, got, tc.want)
		}
	}
}
