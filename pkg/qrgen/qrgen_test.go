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

package qrgen

import (
	"bytes"
	"errors"
	"image/png"
	"strings"
	"testing"
)

func TestPNGRoundTrip(t *testing.T) {
	g, err := New(Config{})
	if err != nil {
		t.Fatal(err)
	}

	data, err := g.PNG([]byte(`{"timestamp":"2025-06-01T12:00:00Z","sequence_number":1}`))
	if err != nil {
		t.Fatalf("PNG: %v", err)
	}

	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("output is not a PNG: %v", err)
	}
	b := img.Bounds()
	if b.Dx() != b.Dy() {
		t.Fatalf("QR image should be square, got %dx%d", b.Dx(), b.Dy())
	}

	stats := g.Stats()
	if stats.Generated != 1 {
		t.Fatalf("expected 1 generated, got %d", stats.Generated)
	}
	if stats.LastImagePx != b.Dx() {
		t.Fatalf("stats image size %d != actual %d", stats.LastImagePx, b.Dx())
	}
}

func TestBorderAddsQuietZone(t *testing.T) {
	payload := []byte("quiet zone test")

	with, err := New(Config{Scale: 4, Border: 4})
	if err != nil {
		t.Fatal(err)
	}
	without, err := New(Config{Scale: 4, Border: 0})
	if err != nil {
		t.Fatal(err)
	}

	a, err := with.Image(payload)
	if err != nil {
		t.Fatal(err)
	}
	b, err := without.Image(payload)
	if err != nil {
		t.Fatal(err)
	}

	// 4 modules of border at scale 4 on each side.
	if got := a.Bounds().Dx() - b.Bounds().Dx(); got != 2*4*4 {
		t.Fatalf("expected 32px of total border, got %d", got)
	}
}

func TestPayloadTooLarge(t *testing.T) {
	g, err := New(Config{Level: LevelH})
	if err != nil {
		t.Fatal(err)
	}

	huge := []byte(strings.Repeat("x", capacity[LevelH]+1))
	_, err = g.PNG(huge)
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}
	if g.Stats().Failed != 1 {
		t.Fatalf("expected 1 failure, got %d", g.Stats().Failed)
	}
}

func TestCapacityOrdering(t *testing.T) {
	// Lower correction levels hold more data.
	if !(capacity[LevelL] > capacity[LevelM] &&
		capacity[LevelM] > capacity[LevelQ] &&
		capacity[LevelQ] > capacity[LevelH]) {
		t.Fatalf("capacity table out of order: %v", capacity)
	}
}

func TestInvalidLevel(t *testing.T) {
	if _, err := New(Config{Level: "X"}); !errors.Is(err, ErrInvalidLevel) {
		t.Fatalf("expected ErrInvalidLevel, got %v", err)
	}
}

func TestDataURI(t *testing.T) {
	g, err := New(Config{})
	if err != nil {
		t.Fatal(err)
	}
	data, err := g.PNG([]byte("uri"))
	if err != nil {
		t.Fatal(err)
	}
	uri := DataURI(data)
	if !strings.HasPrefix(uri, "data:image/png;base64,") {
		t.Fatalf("unexpected data URI prefix: %.40s", uri)
	}
}
