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

	"github.com/spf13/cobra"
)

// Options holds the global CLI options shared by all commands.
type Options struct {
	ConfigFile   string
	OutputFormat string
	Verbose      bool
}

var globalOpts *Options

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "qrlive",
	Short: "qrlive - live cryptographically verified QR codes",
	Long: `qrlive generates a continuous stream of QR codes carrying
timestamped, HMAC-sealed and optionally signed payloads anchored to
public blockchain heads and NTP time servers, proving a video feed or
display is live and unmodified.

Run 'qrlive live' to serve the display pages, or 'qrlive generate'
for a single emission.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	globalOpts = &Options{}

	// Persistent flags (available to all commands)
	rootCmd.PersistentFlags().StringVar(&globalOpts.ConfigFile, "config", "",
		"config file (default is $HOME/.qrlive.yaml)")
	rootCmd.PersistentFlags().StringVarP(&globalOpts.OutputFormat, "output", "o", "text",
		"output format (text, json)")
	rootCmd.PersistentFlags().BoolVarP(&globalOpts.Verbose, "verbose", "v", false,
		"verbose output")

	// Add subcommands
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(liveCmd)
	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(keyCmd)
}

// getOptions returns the global CLI options
func getOptions() *Options {
	return globalOpts
}

// handleError prints an error and exits with code 1
func handleError(err error) {
	printer := NewPrinter(globalOpts.OutputFormat, os.Stderr)
	_ = printer.PrintError(err) // Error printing to stderr is best-effort
	os.Exit(1)
}

// printVerbose prints a message if verbose mode is enabled
func printVerbose(format string, args ...interface{}) {
	if globalOpts.Verbose {
		fmt.Fprintf(os.Stderr, "[VERBOSE] "+format+"\n", args...)
	}
}
