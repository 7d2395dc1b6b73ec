// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/ember/pkg/host"
)

var (
	updateTUI        bool
	updateBoot       bool
	updateMaxResends int
)

var updateCmd = &cobra.Command{
	Use:   "update <bundle>",
	Short: "Deliver a protected bundle to a bootloader",
	Long: `Put the bootloader into update mode and stream a protected bundle to it
frame by frame.

Each frame is acknowledged by the device. A rejected frame is resent up to
--max-resends times; the device gives up on its own after ten consecutive
rejections and reports END, leaving the installed firmware untouched.

Use --boot to start the new firmware once the update has been accepted.`,
	Args: cobra.ExactArgs(1),
	RunE: runUpdate,
}

func init() {
	rootCmd.AddCommand(updateCmd)
	updateCmd.Flags().BoolVar(&updateTUI, "tui", false, "Show a progress bar in an interactive view")
	updateCmd.Flags().BoolVar(&updateBoot, "boot", false, "Boot the new firmware after a successful update")
	updateCmd.Flags().IntVar(&updateMaxResends, "max-resends", host.DefaultMaxResends, "Resends per rejected frame")
}

func runUpdate(cmd *cobra.Command, args []string) error {
	blob, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	frames, err := host.Frames(blob)
	if err != nil {
		return fmt.Errorf("%s: %w", args[0], err)
	}

	conn, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}
	defer conn.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if updateTUI {
		return runUpdateTUI(ctx, conn, connInfo, args[0], blob)
	}

	fmt.Printf("Ember - Firmware Update\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Bundle: %s (%d frames)\n\n", args[0], len(frames))

	started := time.Now()
	last := -1
	updater := host.NewUpdater(conn,
		host.WithMaxResends(updateMaxResends),
		host.WithUpdaterLogger(newLogger()),
		host.WithProgress(func(p host.Progress) {
			if p.Resends > 0 {
				fmt.Printf("  frame %d rejected, resend %d/%d\n", p.Frame+1, p.Resends, updateMaxResends)
				return
			}
			// One line per 10%
			if pct := int(p.Percent() * 10); pct != last {
				last = pct
				fmt.Printf("  %3d%% (%d/%d frames)\n", pct*10, p.Frame, p.Total)
			}
		}),
	)

	if err := updater.Update(ctx, blob); err != nil {
		return fmt.Errorf("update failed: %w", err)
	}
	fmt.Printf("\nUpdate accepted in %s\n", time.Since(started).Round(time.Millisecond))

	if updateBoot {
		if err := updater.Boot(ctx); err != nil {
			return fmt.Errorf("boot failed: %w", err)
		}
		fmt.Printf("Device booting\n")
	}
	return nil
}
