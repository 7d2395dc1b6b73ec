// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/ember/pkg/frame"
	"github.com/Thermoquad/ember/pkg/host"
)

var (
	// Serial connection flags
	portName string
	baudRate int

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	// Key material and diagnostics
	secretsPath string
	verbose     bool
)

var rootCmd = &cobra.Command{
	Use:   "ember",
	Short: "Ember secure firmware update tool",
	Long: `Ember - Bundle, deliver and emulate authenticated firmware updates.

Firmware images are sealed frame by frame with AES-128-GCM under a pre-shared
key and streamed to the bootloader, which verifies every frame, refuses
version rollbacks and commits the image to flash page by page.

Connection modes:
  Serial:    --port /dev/ttyUSB0 [--baud 115200]
  WebSocket: --url ws://host/path [--username user]

For WebSocket authentication, the password is read from the EMBER_WS_PASSWORD
environment variable, or prompted interactively if not set. Passphrases for
key derivation come from EMBER_PASSPHRASE in the same way. Neither has a
flag, to keep credentials out of shell history.`,
	Version:      "1.0.0",
	SilenceUsage: true,
}

func init() {
	// Serial connection flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port device")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 115200, "Baud rate (serial only)")

	// WebSocket connection flags
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	rootCmd.PersistentFlags().StringVarP(&secretsPath, "secrets", "s", "secrets.cbor", "Secrets file (key and associated data)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log protocol details to stderr")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// newLogger returns the structured logger handed to the protocol packages
func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// loadCodec reads the secrets file named by --secrets
func loadCodec() (*frame.Codec, error) {
	secrets, err := host.LoadSecrets(secretsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load secrets: %w", err)
	}
	return secrets.Codec()
}
