// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package update

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"

	"github.com/Thermoquad/ember/pkg/flash"
	"github.com/Thermoquad/ember/pkg/frame"
	"github.com/Thermoquad/ember/pkg/metadata"
)

// Initial image defaults
const (
	InitialVersion = 2
	InitialMessage = "This is the initial release message."
)

// ErrNoFirmware is returned by Boot on a blank device
var ErrNoFirmware = errors.New("no firmware installed")

// Bootloader is the outer command loop: it waits for a command byte from
// the host and either runs an update session or boots the installed image.
type Bootloader struct {
	cfg   Config
	rw    io.ReadWriter
	codec *frame.Codec
	drv   flash.Driver
	store *metadata.Store
	boot  BootTarget
	log   *slog.Logger

	last *Statistics
}

// New creates a bootloader talking to the host over rw
func New(rw io.ReadWriter, codec *frame.Codec, drv flash.Driver, boot BootTarget, opts ...Option) (*Bootloader, error) {
	cfg, err := newConfig(opts)
	if err != nil {
		return nil, err
	}
	return &Bootloader{
		cfg:   cfg,
		rw:    rw,
		codec: codec,
		drv:   drv,
		store: metadata.NewStore(drv, cfg.Layout.MetadataBase, cfg.Layout.PageSize),
		boot:  boot,
		log:   cfg.Logger,
	}, nil
}

// Store returns the bootloader's metadata store
func (b *Bootloader) Store() *metadata.Store {
	return b.store
}

// LastSession returns the statistics of the most recent update session,
// or nil if none ran
func (b *Bootloader) LastSession() *Statistics {
	return b.last
}

// InstallInitial programs firmware and its release message at version
// InitialVersion if no firmware was ever installed. It reports whether
// anything was written.
func (b *Bootloader) InstallInitial(firmware []byte, message string) (bool, error) {
	_, installed, err := b.store.Load()
	if err != nil || installed {
		return false, err
	}
	if len(firmware) > math.MaxUint16 {
		return false, fmt.Errorf("initial firmware is %d bytes (max %d)", len(firmware), math.MaxUint16)
	}

	w, err := flash.NewWriter(b.drv, b.cfg.Layout.FirmwareBase, b.cfg.Layout.PageSize)
	if err != nil {
		return false, err
	}
	if err := w.Append(firmware, true); err != nil {
		return false, fmt.Errorf("failed to write initial firmware: %w", err)
	}
	if err := w.Append(append([]byte(message), 0), true); err != nil {
		return false, fmt.Errorf("failed to write initial release message: %w", err)
	}

	rec := metadata.Record{Version: InitialVersion, FirmwareSize: uint16(len(firmware))}
	if err := b.store.Commit(rec); err != nil {
		return false, err
	}

	b.log.Info("initial firmware installed", "version", rec.Version, "firmware_size", rec.FirmwareSize)
	return true, nil
}

// Serve runs the command loop until the installed image is booted, the
// transport fails or ctx is done. A session that exhausts its retry budget
// resets the device and the loop starts again from the top.
func (b *Bootloader) Serve(ctx context.Context) error {
	if err := b.startup(); err != nil {
		return err
	}

	var cmd [1]byte
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := io.ReadFull(b.rw, cmd[:]); err != nil {
			return fmt.Errorf("failed to read command: %w", err)
		}

		switch cmd[0] {
		case frame.CommandUpdate:
			if err := b.echo(cmd[0]); err != nil {
				return err
			}
			err := b.Update(ctx)
			if errors.Is(err, ErrRetryBudgetExceeded) {
				b.log.Warn("update aborted, restarting", "err", err)
				if err := b.startup(); err != nil {
					return err
				}
				continue
			}
			if err != nil {
				return err
			}

		case frame.CommandBoot:
			if err := b.echo(cmd[0]); err != nil {
				return err
			}
			return b.Boot()

		default:
			b.log.Debug("ignoring command byte", "byte", fmt.Sprintf("0x%02X", cmd[0]))
		}
	}
}

// Update runs one update session on the bootloader's transport
func (b *Bootloader) Update(ctx context.Context) error {
	s, err := newSession(b.rw, b.codec, b.drv, b.cfg)
	if err != nil {
		return err
	}
	b.last = s.Statistics()
	return s.Run(ctx)
}

// Boot prints the installed release message on the console and transfers
// control to the firmware entry point
func (b *Bootloader) Boot() error {
	msg, ok, err := b.store.ReleaseMessage(b.cfg.Layout.FirmwareBase)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNoFirmware
	}

	if _, err := fmt.Fprintln(b.cfg.Console, msg); err != nil {
		return fmt.Errorf("failed to print release message: %w", err)
	}
	b.log.Info("booting firmware", "entry", fmt.Sprintf("0x%05X", b.cfg.Layout.FirmwareBase), "message", msg)
	return b.boot.JumpToEntry(b.cfg.Layout.FirmwareBase)
}

func (b *Bootloader) startup() error {
	if b.cfg.InitialFirmware == nil {
		return nil
	}
	_, err := b.InstallInitial(b.cfg.InitialFirmware, b.cfg.InitialMessage)
	return err
}

func (b *Bootloader) echo(c byte) error {
	if _, err := b.rw.Write([]byte{c}); err != nil {
		return fmt.Errorf("failed to echo command: %w", err)
	}
	return nil
}
