// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package metadata

import (
	"bytes"
	"errors"

	"github.com/Thermoquad/ember/pkg/flash"
)

// MaxMessageSize bounds the release message scan
const MaxMessageSize = 64 * 1024

const scanBlock = 64

// ReadMessage reads a NUL-terminated string starting at addr. The scan stops
// at the terminator, after limit bytes, or at the end of flash.
func ReadMessage(drv flash.Driver, addr uint32, limit int) (string, error) {
	var out []byte
	buf := make([]byte, scanBlock)

	for len(out) < limit {
		n := min(scanBlock, limit-len(out))
		err := drv.Read(addr, buf[:n])
		if errors.Is(err, flash.ErrOutOfRange) {
			// Fall back to byte reads near the end of flash
			if err = drv.Read(addr, buf[:1]); err != nil {
				if errors.Is(err, flash.ErrOutOfRange) {
					break
				}
				return "", err
			}
			n = 1
		} else if err != nil {
			return "", err
		}

		if i := bytes.IndexByte(buf[:n], 0); i >= 0 {
			out = append(out, buf[:i]...)
			return string(out), nil
		}
		out = append(out, buf[:n]...)
		addr += uint32(n)
	}
	return string(out), nil
}

// ReleaseMessage returns the message stored directly after the installed
// firmware image at firmwareBase. ok is false on a blank device.
func (s *Store) ReleaseMessage(firmwareBase uint32) (msg string, ok bool, err error) {
	rec, installed, err := s.Load()
	if err != nil || !installed {
		return "", false, err
	}
	msg, err = ReadMessage(s.drv, firmwareBase+uint32(rec.FirmwareSize), MaxMessageSize)
	if err != nil {
		return "", false, err
	}
	return msg, true, nil
}
