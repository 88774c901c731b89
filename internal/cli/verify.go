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
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// verifyCmd checks QR wire data through every verification layer
var verifyCmd = &cobra.Command{
	Use:   "verify <wire|@file|->",
	Short: "Verify QR wire data",
	Long: `Verify the integrity of decoded QR wire data.

The argument is the wire JSON itself, @file to read it from a file, or
- to read it from stdin. The exit code is 0 when the HMAC seal
verifies and 1 otherwise.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		printer := NewPrinter(getOptions().OutputFormat, os.Stdout)

		wire, err := readWireArg(args[0])
		if err != nil {
			handleError(err)
			return
		}

		cfg, err := loadConfig()
		if err != nil {
			handleError(err)
			return
		}
		logger := newLogger(cfg)

		ks, err := openKeyStore(cfg, logger)
		if err != nil {
			handleError(err)
			return
		}
		defer func() { _ = ks.Close() }()

		protocol, err := buildProtocol(cfg, ks, logger)
		if err != nil {
			handleError(err)
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		result := protocol.Verify(ctx, wire)
		if err := printer.PrintVerification(result); err != nil {
			handleError(err)
			return
		}
		if !result.Ok() {
			os.Exit(1)
		}
	},
}

// readWireArg resolves the wire argument: literal JSON, @file, or stdin.
func readWireArg(arg string) ([]byte, error) {
	switch {
	case arg == "-":
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read stdin: %w", err)
		}
		return data, nil
	case strings.HasPrefix(arg, "@"):
		data, err := os.ReadFile(strings.TrimPrefix(arg, "@"))
		if err != nil {
			return nil, fmt.Errorf("failed to read wire file: %w", err)
		}
		return data, nil
	default:
		return []byte(arg), nil
	}
}
