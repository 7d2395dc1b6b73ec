// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package flash models the bootloader's view of on-chip NOR flash: a
// page-erase / word-program driver, an in-memory implementation of it, and
// the page-buffered Writer that stages update bytes into whole pages.
package flash

import (
	"errors"
	"fmt"
)

// Reference hardware geometry
const (
	PageSize = 1024
	WordSize = 4

	// Erased is the value of every byte of a freshly erased page
	Erased byte = 0xFF
)

// Default memory map
const (
	MetadataBase uint32 = 0xFC00
	FirmwareBase uint32 = 0x10000

	// DefaultSize covers the metadata page and a 64 KiB image region
	DefaultSize uint32 = 0x20000
)

// Errors
var (
	ErrAlignment  = errors.New("address or length not aligned")
	ErrOutOfRange = errors.New("address out of range")
	ErrVerify     = errors.New("read-back verification failed")
)

// Driver is the flash primitive the bootloader is built against.
// Program only clears bits; a page must be erased before it is rewritten.
type Driver interface {
	// ErasePage sets every byte of the page containing addr to Erased
	ErasePage(addr uint32) error
	// Program writes word-aligned data at a word-aligned address
	Program(addr uint32, data []byte) error
	// Read copies len(p) bytes starting at addr into p
	Read(addr uint32, p []byte) error
}

// Layout describes where the update core places metadata and firmware
type Layout struct {
	MetadataBase uint32
	FirmwareBase uint32
	PageSize     int
}

// DefaultLayout returns the reference memory map
func DefaultLayout() Layout {
	return Layout{
		MetadataBase: MetadataBase,
		FirmwareBase: FirmwareBase,
		PageSize:     PageSize,
	}
}

// Validate checks that both regions start on a page boundary
func (l Layout) Validate() error {
	if l.PageSize <= 0 || l.PageSize%WordSize != 0 {
		return fmt.Errorf("page size %d must be a positive multiple of %d", l.PageSize, WordSize)
	}
	if l.MetadataBase%uint32(l.PageSize) != 0 {
		return fmt.Errorf("metadata base 0x%X: %w", l.MetadataBase, ErrAlignment)
	}
	if l.FirmwareBase%uint32(l.PageSize) != 0 {
		return fmt.Errorf("firmware base 0x%X: %w", l.FirmwareBase, ErrAlignment)
	}
	if l.MetadataBase <= l.FirmwareBase && l.FirmwareBase-l.MetadataBase < uint32(l.PageSize) {
		return fmt.Errorf("metadata page 0x%X overlaps firmware base 0x%X", l.MetadataBase, l.FirmwareBase)
	}
	return nil
}

// WriteError reports a failed erase, program or verify at a flash address
type WriteError struct {
	Op   string
	Addr uint32
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("flash %s at 0x%05X: %v", e.Op, e.Addr, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
