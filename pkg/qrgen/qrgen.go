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

// Package qrgen renders wire payloads as QR code images.
package qrgen

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"sync"

	"github.com/boombuler/barcode"
	"github.com/boombuler/barcode/qr"

	"github.com/jeremyhahn/go-qrlive/pkg/logging"
)

// Level is a QR error correction level.
type Level string

const (
	// LevelL recovers from ~7% damage and holds the most data.
	LevelL Level = "L"

	// LevelM recovers from ~15% damage. The default.
	LevelM Level = "M"

	// LevelQ recovers from ~25% damage.
	LevelQ Level = "Q"

	// LevelH recovers from ~30% damage and holds the least data.
	LevelH Level = "H"
)

// Byte-mode capacity of a version 40 QR code per error correction level.
var capacity = map[Level]int{
	LevelL: 2953,
	LevelM: 2331,
	LevelQ: 1663,
	LevelH: 1273,
}

var qrLevels = map[Level]qr.ErrorCorrectionLevel{
	LevelL: qr.L,
	LevelM: qr.M,
	LevelQ: qr.Q,
	LevelH: qr.H,
}

const (
	defaultScale  = 8
	defaultBorder = 4
)

// Config tunes a Generator.
type Config struct {
	// Level is the error correction level, default M.
	Level Level

	// Scale is the pixel size of one QR module, default 8.
	Scale int

	// Border is the quiet zone width in modules, default 4.
	Border int

	Logger *logging.Logger
}

// Stats is a snapshot of the generator's counters.
type Stats struct {
	Generated    uint64 `json:"generated"`
	Failed       uint64 `json:"failed"`
	LastBytes    int    `json:"last_payload_bytes"`
	LastImagePx  int    `json:"last_image_px"`
	Level        Level  `json:"error_correction_level"`
	CapacityLeft int    `json:"capacity_left"`
}

// Generator renders payload bytes into QR PNG images.
type Generator struct {
	level  Level
	scale  int
	border int
	logger *logging.Logger

	mu    sync.Mutex
	stats Stats
}

// New creates a Generator. The zero Config yields level M, scale 8,
// border 4.
func New(cfg Config) (*Generator, error) {
	level := cfg.Level
	if level == "" {
		level = LevelM
	}
	if _, ok := qrLevels[level]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidLevel, level)
	}
	scale := cfg.Scale
	if scale <= 0 {
		scale = defaultScale
	}
	border := cfg.Border
	if border < 0 {
		border = defaultBorder
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	return &Generator{
		level:  level,
		scale:  scale,
		border: border,
		logger: logger,
	}, nil
}

// Capacity returns the byte capacity at the generator's error
// correction level.
func (g *Generator) Capacity() int {
	return capacity[g.level]
}

// Image encodes data as a QR code image with a quiet zone border.
func (g *Generator) Image(data []byte) (image.Image, error) {
	if len(data) > capacity[g.level] {
		g.fail()
		return nil, fmt.Errorf("%w: %d bytes, level %s holds %d",
			ErrPayloadTooLarge, len(data), g.level, capacity[g.level])
	}

	code, err := qr.Encode(string(data), qrLevels[g.level], qr.Auto)
	if err != nil {
		g.fail()
		return nil, fmt.Errorf("%w: %v", ErrEncode, err)
	}

	modules := code.Bounds().Dx()
	inner := modules * g.scale
	scaled, err := barcode.Scale(code, inner, inner)
	if err != nil {
		g.fail()
		return nil, fmt.Errorf("%w: %v", ErrEncode, err)
	}

	margin := g.border * g.scale
	size := inner + 2*margin
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)
	draw.Draw(img, image.Rect(margin, margin, margin+inner, margin+inner), scaled, image.Point{}, draw.Src)

	g.mu.Lock()
	g.stats.Generated++
	g.stats.LastBytes = len(data)
	g.stats.LastImagePx = size
	g.mu.Unlock()
	return img, nil
}

// PNG encodes data as a QR code and returns the PNG bytes.
func (g *Generator) PNG(data []byte) ([]byte, error) {
	img, err := g.Image(data)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		g.fail()
		return nil, fmt.Errorf("%w: png: %v", ErrEncode, err)
	}
	return buf.Bytes(), nil
}

// Stats returns a counter snapshot.
func (g *Generator) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	stats := g.stats
	stats.Level = g.level
	stats.CapacityLeft = capacity[g.level] - stats.LastBytes
	return stats
}

func (g *Generator) fail() {
	g.mu.Lock()
	g.stats.Failed++
	g.mu.Unlock()
}

// DataURI wraps PNG bytes as a data URI for inline use in HTML.
func DataURI(pngBytes []byte) string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngBytes)
}
