// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package update

import (
	"fmt"
	"io"

	"github.com/Thermoquad/ember/pkg/frame"
)

// Resetter restarts the device. On hardware Reset does not return; hosted
// builds return and let the caller restart its loop.
type Resetter interface {
	Reset()
}

// ResetFunc adapts a function to Resetter
type ResetFunc func()

// Reset implements Resetter
func (f ResetFunc) Reset() {
	f()
}

// BootTarget transfers control to a loaded image
type BootTarget interface {
	JumpToEntry(addr uint32) error
}

// BootFunc adapts a function to BootTarget
type BootFunc func(addr uint32) error

// JumpToEntry implements BootTarget
func (f BootFunc) JumpToEntry(addr uint32) error {
	return f(addr)
}

func readFrame(r io.Reader, raw []byte) error {
	if _, err := io.ReadFull(r, raw); err != nil {
		return fmt.Errorf("failed to read frame: %w", err)
	}
	return nil
}

func writeAck(w io.Writer, status byte) error {
	if _, err := w.Write([]byte{frame.AckType, status}); err != nil {
		return fmt.Errorf("failed to send %s: %w", frame.FormatAck(status), err)
	}
	return nil
}
