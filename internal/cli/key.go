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
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-qrlive/pkg/keystore"
)

// keyCmd represents the key command
var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "Manage signing and sealing keys",
	Long:  `Generate, list, delete, export, and back up the keys behind QR emissions`,
}

// keyGenerateCmd generates a new key
var keyGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a new signing key",
	Long:  `Generate a new asymmetric signing key in the configured keystore`,
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		printer := NewPrinter(getOptions().OutputFormat, os.Stdout)

		algorithm, _ := cmd.Flags().GetString("algorithm")
		bits, _ := cmd.Flags().GetInt("bits")
		purpose, _ := cmd.Flags().GetString("purpose")

		ks := mustOpenKeyStore()
		defer func() { _ = ks.Close() }()

		printVerbose("Generating %s-%d key (purpose: %s)", algorithm, bits, purpose)

		key, err := ks.Generate(keystore.Algorithm(strings.ToUpper(algorithm)), bits, purpose)
		if err != nil {
			handleError(fmt.Errorf("failed to generate key: %w", err))
			return
		}
		defer key.Clear()

		if err := printer.PrintGeneratedKey(key); err != nil {
			handleError(err)
		}
	},
}

// keyListCmd lists all keys
var keyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all keys",
	Long:  `List all keys in the configured keystore`,
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		printer := NewPrinter(getOptions().OutputFormat, os.Stdout)

		ks := mustOpenKeyStore()
		defer func() { _ = ks.Close() }()

		keys, err := ks.List()
		if err != nil {
			handleError(fmt.Errorf("failed to list keys: %w", err))
			return
		}

		if err := printer.PrintKeyList(keys); err != nil {
			handleError(err)
		}
	},
}

// keyDeleteCmd deletes a key
var keyDeleteCmd = &cobra.Command{
	Use:   "delete <key-id>",
	Short: "Delete a key",
	Long:  `Delete a key and its metadata from the keystore`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		keyID := args[0]
		printer := NewPrinter(getOptions().OutputFormat, os.Stdout)

		ks := mustOpenKeyStore()
		defer func() { _ = ks.Close() }()

		existed, err := ks.Delete(keyID)
		if err != nil {
			handleError(fmt.Errorf("failed to delete key: %w", err))
			return
		}
		if !existed {
			handleError(fmt.Errorf("key not found: %s", keyID))
			return
		}

		if err := printer.PrintSuccess(fmt.Sprintf("Deleted key: %s", keyID)); err != nil {
			handleError(err)
		}
	},
}

// keyExportCmd exports a public key
var keyExportCmd = &cobra.Command{
	Use:   "export <key-id>",
	Short: "Export a public key",
	Long:  `Export a public key as PEM, DER, JWK, or a verification descriptor`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		keyID := args[0]

		format, _ := cmd.Flags().GetString("format")
		outFile, _ := cmd.Flags().GetString("out")

		ks := mustOpenKeyStore()
		defer func() { _ = ks.Close() }()

		data, err := ks.ExportPublic(keyID, keystore.ExportFormat(strings.ToLower(format)))
		if err != nil {
			handleError(fmt.Errorf("failed to export key: %w", err))
			return
		}

		if outFile != "" {
			if err := os.WriteFile(outFile, data, 0600); err != nil {
				handleError(fmt.Errorf("failed to write %s: %w", outFile, err))
				return
			}
			printer := NewPrinter(getOptions().OutputFormat, os.Stdout)
			if err := printer.PrintSuccess(fmt.Sprintf("Public key written to %s", outFile)); err != nil {
				handleError(err)
			}
			return
		}

		if strings.EqualFold(format, "der") {
			handleError(fmt.Errorf("DER output is binary, use --out"))
			return
		}
		fmt.Print(string(data))
		if !strings.HasSuffix(string(data), "\n") {
			fmt.Println()
		}
	},
}

// keyBackupCmd backs up the keystore
var keyBackupCmd = &cobra.Command{
	Use:   "backup <directory>",
	Short: "Back up the keystore",
	Long: `Write an encrypted backup of all key material to a directory.

A passphrase can be supplied through the environment variable named by
--passphrase-env to wrap private keys with PBES2. With --share-count the
master key is also split into Shamir shares for offline escrow.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		dir := args[0]
		printer := NewPrinter(getOptions().OutputFormat, os.Stdout)

		passphraseEnv, _ := cmd.Flags().GetString("passphrase-env")
		shareCount, _ := cmd.Flags().GetInt("share-count")
		shareThreshold, _ := cmd.Flags().GetInt("share-threshold")

		ks := mustOpenKeyStore()
		defer func() { _ = ks.Close() }()

		var err error
		if passphraseEnv != "" {
			passphrase := os.Getenv(passphraseEnv)
			if passphrase == "" {
				handleError(fmt.Errorf("environment variable %s is empty", passphraseEnv))
				return
			}
			err = ks.BackupWithPassphrase(dir, []byte(passphrase))
		} else {
			err = ks.Backup(dir)
		}
		if err != nil {
			handleError(fmt.Errorf("backup failed: %w", err))
			return
		}

		if shareCount > 0 {
			shares, err := ks.SplitMasterKey(shareThreshold, shareCount)
			if err != nil {
				handleError(fmt.Errorf("failed to split master key: %w", err))
				return
			}
			if err := keystore.WriteShares(dir, shares); err != nil {
				handleError(fmt.Errorf("failed to write shares: %w", err))
				return
			}
			printVerbose("Wrote %d master key shares (threshold %d)", shareCount, shareThreshold)
		}

		if err := printer.PrintSuccess(fmt.Sprintf("Backup written to %s", dir)); err != nil {
			handleError(err)
		}
	},
}

// mustOpenKeyStore opens the configured keystore or exits
func mustOpenKeyStore() *keystore.KeyStore {
	cfg, err := loadConfig()
	if err != nil {
		handleError(err)
		return nil
	}

	ks, err := openKeyStore(cfg, newLogger(cfg))
	if err != nil {
		handleError(err)
		return nil
	}
	return ks
}

func init() {
	keyGenerateCmd.Flags().String("algorithm", "RSA", "key algorithm (RSA, ECDSA)")
	keyGenerateCmd.Flags().Int("bits", 2048, "key size in bits (RSA: 2048/3072/4096, ECDSA: 256/384/521)")
	keyGenerateCmd.Flags().String("purpose", "qr_signing", "key purpose label")

	keyExportCmd.Flags().String("format", "pem", "export format (pem, der, jwk, descriptor)")
	keyExportCmd.Flags().String("out", "", "write the exported key to a file")

	keyBackupCmd.Flags().String("passphrase-env", "", "environment variable holding the backup passphrase")
	keyBackupCmd.Flags().Int("share-count", 0, "split the master key into this many Shamir shares")
	keyBackupCmd.Flags().Int("share-threshold", 2, "shares required to recover the master key")

	keyCmd.AddCommand(keyGenerateCmd)
	keyCmd.AddCommand(keyListCmd)
	keyCmd.AddCommand(keyDeleteCmd)
	keyCmd.AddCommand(keyExportCmd)
	keyCmd.AddCommand(keyBackupCmd)
}
