// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/ember/pkg/host"
)

var bootListen time.Duration

var bootCmd = &cobra.Command{
	Use:   "boot",
	Short: "Start the firmware installed on a device",
	Long: `Send the boot command to the bootloader. The device prints the release
message of the installed firmware and jumps to it.

With --listen the console output that follows is copied to stdout for the
given duration.`,
	Args: cobra.NoArgs,
	RunE: runBoot,
}

func init() {
	rootCmd.AddCommand(bootCmd)
	bootCmd.Flags().DurationVar(&bootListen, "listen", 0, "Print device output for this long after booting")
}

func runBoot(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}
	defer conn.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	updater := host.NewUpdater(conn, host.WithUpdaterLogger(newLogger()))
	if err := updater.Boot(ctx); err != nil {
		return fmt.Errorf("boot failed: %w", err)
	}
	fmt.Printf("Booting device on %s\n", connInfo)

	if bootListen <= 0 {
		return nil
	}

	// Closing the connection unblocks the copy
	go func() {
		select {
		case <-ctx.Done():
		case <-time.After(bootListen):
		}
		conn.Close()
	}()
	io.Copy(os.Stdout, conn)
	return nil
}
