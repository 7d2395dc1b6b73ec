// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package host

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/Thermoquad/ember/pkg/frame"
)

// DefaultMaxResends is how often one frame is resent after an ERROR
const DefaultMaxResends = 10

// maxEchoSkip bounds the bytes discarded while waiting for a command echo
const maxEchoSkip = 4096

// Errors
var (
	ErrDeviceAborted      = errors.New("device aborted the update")
	ErrFrameRejected      = errors.New("frame rejected too many times")
	ErrUnexpectedResponse = errors.New("unexpected response from device")
)

// Progress describes how far an update has got
type Progress struct {
	Frame   int // frames acknowledged so far
	Total   int
	Resends int // resends of the current frame
}

// Percent returns the completed fraction in the range 0..1
func (p Progress) Percent() float64 {
	if p.Total == 0 {
		return 0
	}
	return float64(p.Frame) / float64(p.Total)
}

// ProgressFunc is called after every acknowledgement
type ProgressFunc func(Progress)

// Updater drives a device through the update protocol
type Updater struct {
	rw         io.ReadWriter
	maxResends int
	progress   ProgressFunc
	log        *slog.Logger
}

// UpdaterOption configures an Updater
type UpdaterOption func(*Updater)

// WithMaxResends sets how often a rejected frame is resent
func WithMaxResends(n int) UpdaterOption {
	return func(u *Updater) {
		u.maxResends = n
	}
}

// WithProgress sets the progress callback
func WithProgress(fn ProgressFunc) UpdaterOption {
	return func(u *Updater) {
		u.progress = fn
	}
}

// WithUpdaterLogger sets the debug logger
func WithUpdaterLogger(l *slog.Logger) UpdaterOption {
	return func(u *Updater) {
		u.log = l
	}
}

// NewUpdater creates an updater talking to a device over rw
func NewUpdater(rw io.ReadWriter, opts ...UpdaterOption) *Updater {
	u := &Updater{
		rw:         rw,
		maxResends: DefaultMaxResends,
		progress:   func(Progress) {},
	}
	for _, opt := range opts {
		opt(u)
	}
	if u.log == nil {
		u.log = slog.New(slog.DiscardHandler)
	}
	return u
}

// Update sends a protected bundle to the device
func (u *Updater) Update(ctx context.Context, blob []byte) error {
	frames, err := Frames(blob)
	if err != nil {
		return err
	}

	if err := u.command(frame.CommandUpdate); err != nil {
		return err
	}
	u.log.Debug("device in update mode", "frames", len(frames))

	for i, f := range frames {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := u.sendFrame(f, Progress{Frame: i, Total: len(frames)}); err != nil {
			return fmt.Errorf("frame %d/%d: %w", i+1, len(frames), err)
		}
		u.progress(Progress{Frame: i + 1, Total: len(frames)})
	}
	return nil
}

// Boot asks the device to start its installed firmware
func (u *Updater) Boot(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return u.command(frame.CommandBoot)
}

// command sends a command byte and waits for the device to echo it
func (u *Updater) command(c byte) error {
	if _, err := u.rw.Write([]byte{c}); err != nil {
		return fmt.Errorf("failed to send command %q: %w", c, err)
	}

	var b [1]byte
	for skipped := 0; skipped < maxEchoSkip; skipped++ {
		if _, err := io.ReadFull(u.rw, b[:]); err != nil {
			return fmt.Errorf("waiting for %q echo: %w", c, err)
		}
		if b[0] == c {
			return nil
		}
	}
	return fmt.Errorf("no %q echo after %d bytes: %w", c, maxEchoSkip, ErrUnexpectedResponse)
}

func (u *Updater) sendFrame(f []byte, p Progress) error {
	if _, err := u.rw.Write(f); err != nil {
		return fmt.Errorf("failed to send frame: %w", err)
	}

	var ack [frame.AckLength]byte
	for {
		if _, err := io.ReadFull(u.rw, ack[:]); err != nil {
			return fmt.Errorf("failed to read acknowledgement: %w", err)
		}
		if ack[0] != frame.AckType {
			return fmt.Errorf("response type 0x%02X: %w", ack[0], ErrUnexpectedResponse)
		}

		switch ack[1] {
		case frame.AckOK:
			return nil
		case frame.AckEnd:
			return ErrDeviceAborted
		case frame.AckError:
			if p.Resends >= u.maxResends {
				return ErrFrameRejected
			}
			p.Resends++
			u.log.Debug("frame rejected, resending", "frame", p.Frame, "resends", p.Resends)
			u.progress(p)
			if _, err := u.rw.Write(f); err != nil {
				return fmt.Errorf("failed to resend frame: %w", err)
			}
		default:
			return fmt.Errorf("status 0x%02X: %w", ack[1], ErrUnexpectedResponse)
		}
	}
}
