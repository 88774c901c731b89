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

package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/jeremyhahn/go-qrlive/pkg/keystore"
	"github.com/jeremyhahn/go-qrlive/pkg/pipeline"
	"github.com/jeremyhahn/go-qrlive/pkg/qrlive"
)

// OutputFormat defines the output format type
type OutputFormat string

const (
	OutputFormatText OutputFormat = "text"
	OutputFormatJSON OutputFormat = "json"
)

// Printer handles formatted output
type Printer struct {
	format OutputFormat
	writer io.Writer
}

// NewPrinter creates a new Printer
func NewPrinter(format string, writer io.Writer) *Printer {
	return &Printer{
		format: OutputFormat(format),
		writer: writer,
	}
}

// PrintSuccess prints a success message
func (p *Printer) PrintSuccess(message string) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]interface{}{
			"status":  "success",
			"message": message,
		})
	case OutputFormatText:
		fmt.Fprintln(p.writer, message)
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintError prints an error message
func (p *Printer) PrintError(err error) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]interface{}{
			"status": "error",
			"error":  err.Error(),
		})
	case OutputFormatText:
		fmt.Fprintf(p.writer, "Error: %v\n", err)
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintKeyList prints the keystore inventory
func (p *Printer) PrintKeyList(keys map[string]keystore.KeyInfo) error {
	ids := make([]string, 0, len(keys))
	for id := range keys {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	switch p.format {
	case OutputFormatJSON:
		keyList := make([]map[string]interface{}, 0, len(ids))
		for _, id := range ids {
			info := keys[id]
			keyList = append(keyList, map[string]interface{}{
				"key_id":      id,
				"algorithm":   info.Algorithm,
				"bits":        info.KeySizeBits,
				"purpose":     info.Purpose,
				"created_at":  info.CreatedAt.Format(time.RFC3339),
				"usage_count": info.UsageCount,
			})
		}
		return p.printJSON(map[string]interface{}{"keys": keyList})
	case OutputFormatText:
		if len(ids) == 0 {
			fmt.Fprintln(p.writer, "No keys found")
			return nil
		}
		fmt.Fprintf(p.writer, "%-40s %-10s %-6s %-14s %-21s %s\n",
			"KEY ID", "ALGORITHM", "BITS", "PURPOSE", "CREATED", "USAGE")
		fmt.Fprintln(p.writer, strings.Repeat("-", 100))
		for _, id := range ids {
			info := keys[id]
			fmt.Fprintf(p.writer, "%-40s %-10s %-6d %-14s %-21s %d\n",
				id, info.Algorithm, info.KeySizeBits, info.Purpose,
				info.CreatedAt.Format("2006-01-02 15:04:05"), info.UsageCount)
		}
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintGeneratedKey prints a freshly generated key
func (p *Printer) PrintGeneratedKey(key *keystore.GeneratedKey) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]interface{}{
			"key_id":     key.KeyID,
			"public_pem": string(key.PublicPEM),
		})
	case OutputFormatText:
		fmt.Fprintf(p.writer, "Generated key: %s\n\n", key.KeyID)
		fmt.Fprint(p.writer, string(key.PublicPEM))
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintEmission prints a one-shot emission. The wire form is what a QR
// scanner decodes.
func (p *Printer) PrintEmission(update *qrlive.Update, pngPath string) error {
	switch p.format {
	case OutputFormatJSON:
		doc := map[string]interface{}{
			"payload":   update.Payload,
			"wire":      string(update.Wire),
			"sequence":  update.Sequence,
			"signed":    update.Signed,
			"encrypted": update.Encrypted,
			"timestamp": update.CreatedAt.UTC().Format(time.RFC3339Nano),
		}
		if pngPath != "" {
			doc["png_file"] = pngPath
		}
		return p.printJSON(doc)
	case OutputFormatText:
		fmt.Fprintln(p.writer, string(update.Wire))
		if pngPath != "" {
			fmt.Fprintf(p.writer, "PNG written to %s\n", pngPath)
		}
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintVerification prints the per-layer verification outcome
func (p *Printer) PrintVerification(result *pipeline.Result) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]interface{}{
			"valid":  result.Ok(),
			"checks": result,
		})
	case OutputFormatText:
		verdict := "INVALID"
		if result.Ok() {
			verdict = "VALID"
		}
		fmt.Fprintf(p.writer, "Verification: %s\n\n", verdict)
		fmt.Fprintf(p.writer, "  Valid JSON:          %s\n", mark(result.ValidJSON))
		fmt.Fprintf(p.writer, "  HMAC seal:           %s\n", mark(result.HMACVerified))
		fmt.Fprintf(p.writer, "  Digital signature:   %s\n", mark(result.SignatureVerified))
		fmt.Fprintf(p.writer, "  Identity:            %s\n", mark(result.IdentityVerified))
		fmt.Fprintf(p.writer, "  Timestamp freshness: %s\n", mark(result.TimeVerified))
		fmt.Fprintf(p.writer, "  Blockchain anchor:   %s\n", mark(result.BlockchainVerified))
		if result.Encrypted {
			fmt.Fprintln(p.writer, "  Encrypted fields:    decrypted")
		}
		if result.Error != "" {
			fmt.Fprintf(p.writer, "\n  Error: %s\n", result.Error)
		}
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

func mark(ok bool) string {
	if ok {
		return "pass"
	}
	return "fail"
}

// printJSON prints data as JSON
func (p *Printer) printJSON(data interface{}) error {
	encoder := json.NewEncoder(p.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}
