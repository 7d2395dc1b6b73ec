// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/ember/pkg/host"
)

var (
	keygenPassphrase bool
	keygenSalt       string
	keygenForce      bool
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate the key and associated data shared with the bootloader",
	Long: `Generate a secrets file holding the 16-byte AES key and the 16-byte
associated data value that every update frame is bound to.

By default both are drawn from the system random source. With --passphrase the
secrets are derived from a passphrase with PBKDF2-SHA256, so the same
passphrase and salt reproduce them on another machine.

The file is written to the path given by --secrets.`,
	Args: cobra.NoArgs,
	RunE: runKeygen,
}

func init() {
	rootCmd.AddCommand(keygenCmd)
	keygenCmd.Flags().BoolVar(&keygenPassphrase, "passphrase", false, "Derive the secrets from a passphrase")
	keygenCmd.Flags().StringVar(&keygenSalt, "salt", "", "Hex-encoded 16-byte salt (random if omitted)")
	keygenCmd.Flags().BoolVarP(&keygenForce, "force", "f", false, "Overwrite an existing secrets file")
}

func runKeygen(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(secretsPath); err == nil && !keygenForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", secretsPath)
	}

	var secrets *host.Secrets
	var err error

	if keygenPassphrase {
		salt := make([]byte, host.SaltSize)
		if keygenSalt != "" {
			if salt, err = hex.DecodeString(keygenSalt); err != nil {
				return fmt.Errorf("invalid salt: %w", err)
			}
		} else if _, err := rand.Read(salt); err != nil {
			return fmt.Errorf("failed to generate salt: %w", err)
		}

		passphrase, err := GetSecret(envPassphrase, "Passphrase: ")
		if err != nil {
			return err
		}
		if secrets, err = host.DeriveSecrets([]byte(passphrase), salt); err != nil {
			return err
		}
	} else if secrets, err = host.GenerateSecrets(nil); err != nil {
		return err
	}

	if err := secrets.Save(secretsPath); err != nil {
		return fmt.Errorf("failed to write secrets: %w", err)
	}

	fmt.Printf("Secrets written to %s\n", secretsPath)
	if secrets.Salt != nil {
		fmt.Printf("Salt: %s\n", hex.EncodeToString(secrets.Salt))
	}
	return nil
}
