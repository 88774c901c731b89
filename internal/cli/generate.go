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
	"os"
	"time"

	"github.com/spf13/cobra"
)

// generateCmd produces a single emission
var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a single QR emission",
	Long: `Generate one sealed QR payload and print its wire form.

The payload carries the current timestamp, identity fingerprint,
blockchain heads, and time server verification, protected by the
configured signature, HMAC, and encryption layers.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		printer := NewPrinter(getOptions().OutputFormat, os.Stdout)

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

		data, _ := cmd.Flags().GetString("data")
		pngPath, _ := cmd.Flags().GetString("png")

		opts := protocol.DefaultOptions()
		if cmd.Flags().Changed("sign") {
			opts.Sign, _ = cmd.Flags().GetBool("sign")
		}
		if cmd.Flags().Changed("encrypt") {
			opts.Encrypt, _ = cmd.Flags().GetBool("encrypt")
		}
		if data != "" {
			opts.UserData = map[string]any{"text": data}
		}

		printVerbose("Generating emission (sign: %v, encrypt: %v)", opts.Sign, opts.Encrypt)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		update, err := protocol.Generate(ctx, opts)
		if err != nil {
			handleError(fmt.Errorf("failed to generate emission: %w", err))
			return
		}

		if pngPath != "" {
			if err := os.WriteFile(pngPath, update.PNG, 0644); err != nil {
				handleError(fmt.Errorf("failed to write %s: %w", pngPath, err))
				return
			}
		}

		if err := printer.PrintEmission(update, pngPath); err != nil {
			handleError(err)
		}
	},
}

func init() {
	generateCmd.Flags().String("data", "", "user text embedded in the payload")
	generateCmd.Flags().Bool("sign", false, "sign the payload (default from config)")
	generateCmd.Flags().Bool("encrypt", false, "encrypt sensitive fields (default from config)")
	generateCmd.Flags().String("png", "", "write the QR image to a PNG file")
}
