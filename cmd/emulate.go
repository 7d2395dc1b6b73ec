// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/ember/pkg/flash"
	"github.com/Thermoquad/ember/pkg/update"
)

var (
	emulateImage      string
	emulateListen     string
	emulateInitial    string
	emulateInitialMsg string
	emulateThreshold  int
	emulatePageSize   int
	emulateEager      bool
)

var emulateCmd = &cobra.Command{
	Use:   "emulate",
	Short: "Run the bootloader against an emulated flash",
	Long: `Run the bootloader command loop on this machine with an emulated flash,
so bundles can be delivered and verified without hardware.

The flash contents persist in the file given by --image, which is created
erased if it does not exist. The bootloader is reached either on a serial
port (--port) or by hosts connecting to a WebSocket endpoint (--listen).

On a blank flash the image from --initial is installed as version 2, the way
a device leaves the factory. Booting prints the release message and the
emulated device resets and waits for the next command.`,
	Args: cobra.NoArgs,
	RunE: runEmulate,
}

func init() {
	rootCmd.AddCommand(emulateCmd)
	emulateCmd.Flags().StringVar(&emulateImage, "image", "flash.bin", "Flash image file")
	emulateCmd.Flags().StringVarP(&emulateListen, "listen", "l", "", "Serve a WebSocket endpoint on this address instead of a serial port")
	emulateCmd.Flags().StringVar(&emulateInitial, "initial", "", "Firmware installed on a blank flash")
	emulateCmd.Flags().StringVar(&emulateInitialMsg, "initial-message", update.InitialMessage, "Release message of the initial firmware")
	emulateCmd.Flags().IntVar(&emulateThreshold, "threshold", 0, "Consecutive rejections before a session aborts (0 for default)")
	emulateCmd.Flags().IntVar(&emulatePageSize, "page-size", flash.PageSize, "Flash page size in bytes")
	emulateCmd.Flags().BoolVar(&emulateEager, "eager-metadata", false, "Commit metadata when the start frame is accepted")
}

// persistentFlash writes the emulated flash back to its image file after
// every erase or program
type persistentFlash struct {
	*flash.Memory
	path string
}

func openPersistentFlash(path string, pageSize int) (*persistentFlash, error) {
	mem := flash.NewMemory(flash.DefaultSize, pageSize)
	f, err := os.Open(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		log.Printf("Creating erased flash image %s", path)
	case err != nil:
		return nil, err
	default:
		defer f.Close()
		if err := mem.Load(f); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}

	pf := &persistentFlash{Memory: mem, path: path}
	return pf, pf.save()
}

func (p *persistentFlash) ErasePage(addr uint32) error {
	if err := p.Memory.ErasePage(addr); err != nil {
		return err
	}
	return p.save()
}

func (p *persistentFlash) Program(addr uint32, data []byte) error {
	if err := p.Memory.Program(addr, data); err != nil {
		return err
	}
	return p.save()
}

func (p *persistentFlash) save() error {
	f, err := os.Create(p.path)
	if err != nil {
		return err
	}
	if err := p.Memory.Save(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func runEmulate(cmd *cobra.Command, args []string) error {
	codec, err := loadCodec()
	if err != nil {
		return err
	}

	drv, err := openPersistentFlash(emulateImage, emulatePageSize)
	if err != nil {
		return fmt.Errorf("failed to open flash image: %w", err)
	}

	opts := []update.Option{
		update.WithLogger(newLogger()),
		update.WithThreshold(emulateThreshold),
		update.WithPageSize(emulatePageSize),
		update.WithEagerMetadata(emulateEager),
		update.WithResetter(update.ResetFunc(func() {
			log.Printf("Session aborted, device reset")
		})),
	}
	if emulateInitial != "" {
		fw, err := os.ReadFile(emulateInitial)
		if err != nil {
			return err
		}
		opts = append(opts, update.WithInitialImage(fw, emulateInitialMsg))
	}

	boot := update.BootFunc(func(addr uint32) error {
		log.Printf("Jumping to firmware entry 0x%05X", addr)
		return nil
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	fmt.Printf("Ember - Bootloader Emulator\n")
	fmt.Printf("Flash image: %s\n", emulateImage)

	var conn Connection
	defer func() {
		if conn != nil {
			conn.Close()
		}
	}()

	for {
		if conn == nil {
			var connInfo string
			if conn, connInfo, err = openEmulatorConnection(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
			log.Printf("Bootloader ready on %s", connInfo)
		}

		// The release message goes out on the link like a UART console
		console := io.MultiWriter(os.Stdout, conn)
		bl, err := update.New(conn, codec, drv, boot, append(opts, update.WithConsole(console))...)
		if err != nil {
			return err
		}

		err = bl.Serve(ctx)
		if stats := bl.LastSession(); stats != nil && stats.TotalFrames > 0 {
			stats.CalculateRates()
			fmt.Print(stats.String())
		}

		switch {
		case err == nil:
			log.Printf("Firmware running, resetting into the bootloader")
		case errors.Is(err, update.ErrNoFirmware):
			log.Printf("Boot refused: %v", err)
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, ErrConnectionClosed):
			if emulateListen == "" {
				return err
			}
			log.Printf("Host disconnected")
			conn.Close()
			conn = nil
		default:
			return err
		}
	}
}

// openEmulatorConnection waits for a WebSocket host with --listen, or opens
// the serial port otherwise
func openEmulatorConnection(ctx context.Context) (Connection, string, error) {
	if emulateListen != "" {
		log.Printf("Waiting for a host on ws://%s", emulateListen)
		conn, err := ListenWebSocket(ctx, emulateListen)
		if err != nil {
			return nil, "", err
		}
		return conn, fmt.Sprintf("WebSocket: %s", emulateListen), nil
	}
	if portName == "" {
		return nil, "", fmt.Errorf("either --port or --listen must be specified")
	}
	conn, err := OpenSerialConnection(portName, baudRate)
	if err != nil {
		return nil, "", err
	}
	return conn, fmt.Sprintf("Serial: %s @ %d baud", portName, baudRate), nil
}
