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

package aead

import (
	"bytes"
	"crypto/rand"
	"errors"
	"strings"
	"testing"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	return key
}

func TestSealOpenRoundTrip(t *testing.T) {
	key := testKey(t)
	plaintext := []byte("the quick brown fox")
	aad := []byte("field:timestamp")

	blob, err := Seal(key, plaintext, aad)
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	if len(blob) != len(plaintext)+Overhead {
		t.Errorf("blob length = %d, want %d", len(blob), len(plaintext)+Overhead)
	}

	got, err := Open(key, blob, aad)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Errorf("Open() = %q, want %q", got, plaintext)
	}
}

func TestSealEmptyPlaintext(t *testing.T) {
	key := testKey(t)

	blob, err := Seal(key, nil, nil)
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	if len(blob) != Overhead {
		t.Errorf("blob length = %d, want %d", len(blob), Overhead)
	}

	got, err := Open(key, blob, nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Open() = %q, want empty", got)
	}
}

func TestNonceUniqueness(t *testing.T) {
	key := testKey(t)
	plaintext := []byte("same plaintext")

	first, err := Seal(key, plaintext, nil)
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	second, err := Seal(key, plaintext, nil)
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}

	if bytes.Equal(first[:NonceSize], second[:NonceSize]) {
		t.Error("two seals produced the same nonce")
	}
	if bytes.Equal(first, second) {
		t.Error("two seals produced identical blobs")
	}
}

func TestOpenRejectsTampering(t *testing.T) {
	key := testKey(t)
	blob, err := Seal(key, []byte("authentic"), []byte("aad"))
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}

	// Flip one bit in each region of the blob
	regions := map[string]int{
		"nonce":      0,
		"tag":        NonceSize,
		"ciphertext": NonceSize + TagSize,
	}
	for name, offset := range regions {
		tampered := make([]byte, len(blob))
		copy(tampered, blob)
		tampered[offset] ^= 0x01

		if _, err := Open(key, tampered, []byte("aad")); !errors.Is(err, ErrOpen) {
			t.Errorf("Open() with tampered %s error = %v, want ErrOpen", name, err)
		}
	}
}

func TestOpenRejectsWrongKey(t *testing.T) {
	blob, err := Seal(testKey(t), []byte("secret"), nil)
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}

	if _, err := Open(testKey(t), blob, nil); !errors.Is(err, ErrOpen) {
		t.Errorf("Open() with wrong key error = %v, want ErrOpen", err)
	}
}

func TestOpenRejectsWrongAAD(t *testing.T) {
	key := testKey(t)
	blob, err := Seal(key, []byte("secret"), []byte("field:timestamp"))
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}

	if _, err := Open(key, blob, []byte("field:user_data")); !errors.Is(err, ErrOpen) {
		t.Errorf("Open() with wrong aad error = %v, want ErrOpen", err)
	}
	if _, err := Open(key, blob, nil); !errors.Is(err, ErrOpen) {
		t.Errorf("Open() with missing aad error = %v, want ErrOpen", err)
	}
}

func TestOpenRejectsShortBlob(t *testing.T) {
	key := testKey(t)

	for _, size := range []int{0, 1, NonceSize, Overhead - 1} {
		if _, err := Open(key, make([]byte, size), nil); !errors.Is(err, ErrBlobTooShort) {
			t.Errorf("Open() with %d-byte blob error = %v, want ErrBlobTooShort", size, err)
		}
	}
}

func TestInvalidKeySize(t *testing.T) {
	for _, size := range []int{0, 16, 24, 31, 33, 64} {
		key := make([]byte, size)
		if _, err := Seal(key, []byte("p"), nil); !errors.Is(err, ErrInvalidKeySize) {
			t.Errorf("Seal() with %d-byte key error = %v, want ErrInvalidKeySize", size, err)
		}
		if _, err := Open(key, make([]byte, Overhead), nil); !errors.Is(err, ErrInvalidKeySize) {
			t.Errorf("Open() with %d-byte key error = %v, want ErrInvalidKeySize", size, err)
		}
	}
}

func TestStringRoundTrip(t *testing.T) {
	key := testKey(t)
	plaintext := []byte(`{"user_data":{"text":"hello"}}`)
	aad := []byte("qrlive:field:user_data")

	encoded, err := SealToString(key, plaintext, aad)
	if err != nil {
		t.Fatalf("SealToString() error = %v", err)
	}
	if strings.ContainsAny(encoded, "\n\x00") {
		t.Error("encoded blob contains unsafe characters")
	}

	got, err := OpenFromString(key, encoded, aad)
	if err != nil {
		t.Fatalf("OpenFromString() error = %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Errorf("OpenFromString() = %q, want %q", got, plaintext)
	}
}

func TestOpenFromStringRejectsBadBase64(t *testing.T) {
	if _, err := OpenFromString(testKey(t), "not-base64!!!", nil); err == nil {
		t.Error("OpenFromString() with invalid base64 succeeded, want error")
	}
}

func TestBlobLayout(t *testing.T) {
	key := testKey(t)
	plaintext := []byte("layout check")

	blob, err := Seal(key, plaintext, nil)
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}

	// nonce||tag||ciphertext: the ciphertext region must decrypt when the
	// parts are fed back through Open, and the plaintext must not appear
	// in the clear anywhere in the blob.
	if bytes.Contains(blob, plaintext) {
		t.Error("plaintext leaked into sealed blob")
	}
	if len(blob) != NonceSize+TagSize+len(plaintext) {
		t.Errorf("blob length = %d, want %d", len(blob), NonceSize+TagSize+len(plaintext))
	}
}

func BenchmarkSeal(b *testing.B) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		b.Fatal(err)
	}
	plaintext := make([]byte, 1024)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := Seal(key, plaintext, nil); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkOpen(b *testing.B) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		b.Fatal(err)
	}
	blob, err := Seal(key, make([]byte, 1024), nil)
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := Open(key, blob, nil); err != nil {
			b.Fatal(err)
		}
	}
}
