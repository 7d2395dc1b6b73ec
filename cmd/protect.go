// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/ember/pkg/frame"
	"github.com/Thermoquad/ember/pkg/host"
)

var (
	protectOutput  string
	protectVersion uint16
	protectMessage string
)

var protectCmd = &cobra.Command{
	Use:   "protect <firmware.bin>",
	Short: "Seal a firmware image into an update bundle",
	Long: `Bundle a raw firmware image with its version and release message and seal
every frame with the key from --secrets.

The bundle is a sequence of 48-byte frames: a start frame carrying the version
and sizes, the firmware and the NUL-terminated release message in 15-byte data
frames, and an end frame. Each frame has its own random nonce.

Version 0 is the debug version: the bootloader accepts it regardless of the
installed version and keeps the installed version number.`,
	Args: cobra.ExactArgs(1),
	RunE: runProtect,
}

func init() {
	rootCmd.AddCommand(protectCmd)
	protectCmd.Flags().StringVarP(&protectOutput, "output", "o", "", "Output bundle path (default <firmware>.ember)")
	protectCmd.Flags().Uint16Var(&protectVersion, "version", 0, "Firmware version")
	protectCmd.Flags().StringVarP(&protectMessage, "message", "m", "", "Release message shown at boot")
}

func runProtect(cmd *cobra.Command, args []string) error {
	codec, err := loadCodec()
	if err != nil {
		return err
	}

	firmware, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}

	img := host.Image{
		Firmware: firmware,
		Version:  protectVersion,
		Message:  protectMessage,
	}
	blob, err := host.Protect(codec, img, nil)
	if err != nil {
		return err
	}

	out := protectOutput
	if out == "" {
		out = args[0] + ".ember"
	}
	if err := os.WriteFile(out, blob, 0o644); err != nil {
		return err
	}

	fmt.Printf("Protected %s -> %s\n", args[0], out)
	fmt.Printf("  Version:  %d\n", img.Version)
	fmt.Printf("  Firmware: %d bytes\n", len(img.Firmware))
	fmt.Printf("  Message:  %q\n", img.Message)
	fmt.Printf("  Frames:   %d (%d bytes)\n", len(blob)/frame.Size, len(blob))
	return nil
}
