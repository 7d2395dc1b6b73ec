// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package flash

import (
	"errors"
	"fmt"
	"io"
)

// ErrInjected is returned by Memory for faults armed with FailPrograms
var ErrInjected = errors.New("injected program fault")

// Memory is an in-memory NOR flash. Programming ANDs the new bits into the
// existing contents, so writing a page that was not erased first is caught
// by read-back verification just like on hardware.
type Memory struct {
	data     []byte
	pageSize uint32

	erases   int
	programs int

	failPrograms    int
	corruptPrograms int
}

// NewMemory creates an erased flash of size bytes
func NewMemory(size uint32, pageSize int) *Memory {
	m := &Memory{
		data:     make([]byte, size),
		pageSize: uint32(pageSize),
	}
	for i := range m.data {
		m.data[i] = Erased
	}
	return m
}

// Size returns the capacity in bytes
func (m *Memory) Size() uint32 {
	return uint32(len(m.data))
}

func (m *Memory) span(addr uint32, n int) error {
	if n < 0 || uint64(addr)+uint64(n) > uint64(len(m.data)) {
		return fmt.Errorf("0x%05X+%d: %w", addr, n, ErrOutOfRange)
	}
	return nil
}

// ErasePage implements Driver
func (m *Memory) ErasePage(addr uint32) error {
	start := addr - addr%m.pageSize
	if err := m.span(start, int(m.pageSize)); err != nil {
		return err
	}
	page := m.data[start : start+m.pageSize]
	for i := range page {
		page[i] = Erased
	}
	m.erases++
	return nil
}

// Program implements Driver
func (m *Memory) Program(addr uint32, data []byte) error {
	if addr%WordSize != 0 || len(data)%WordSize != 0 {
		return fmt.Errorf("program 0x%05X+%d: %w", addr, len(data), ErrAlignment)
	}
	if err := m.span(addr, len(data)); err != nil {
		return err
	}
	if m.failPrograms > 0 {
		m.failPrograms--
		return ErrInjected
	}

	for i, b := range data {
		m.data[int(addr)+i] &= b
	}
	if m.corruptPrograms > 0 && len(data) > 0 {
		m.corruptPrograms--
		m.data[addr] ^= 0x01
	}
	m.programs++
	return nil
}

// Read implements Driver
func (m *Memory) Read(addr uint32, p []byte) error {
	if err := m.span(addr, len(p)); err != nil {
		return err
	}
	copy(p, m.data[addr:])
	return nil
}

// FailPrograms makes the next n Program calls fail without touching flash
func (m *Memory) FailPrograms(n int) {
	m.failPrograms = n
}

// CorruptPrograms makes the next n Program calls flip a bit of the first
// programmed byte, so the write only shows up on read-back.
func (m *Memory) CorruptPrograms(n int) {
	m.corruptPrograms = n
}

// Erases returns the number of page erases performed
func (m *Memory) Erases() int {
	return m.erases
}

// Programs returns the number of successful Program calls
func (m *Memory) Programs() int {
	return m.programs
}

// Snapshot returns a copy of the whole flash contents
func (m *Memory) Snapshot() []byte {
	return append([]byte(nil), m.data...)
}

// Restore replaces the flash contents with a snapshot of the same size
func (m *Memory) Restore(image []byte) error {
	if len(image) != len(m.data) {
		return fmt.Errorf("image is %d bytes, flash is %d", len(image), len(m.data))
	}
	copy(m.data, image)
	return nil
}

// Save writes the flash contents to w
func (m *Memory) Save(w io.Writer) error {
	_, err := w.Write(m.data)
	return err
}

// Load reads a full flash image from r
func (m *Memory) Load(r io.Reader) error {
	image := make([]byte, len(m.data))
	if _, err := io.ReadFull(r, image); err != nil {
		return fmt.Errorf("failed to read flash image: %w", err)
	}
	copy(m.data, image)
	return nil
}
