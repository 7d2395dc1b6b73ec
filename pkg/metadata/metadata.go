// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package metadata persists the installed firmware's version and size and
// enforces the anti-rollback rule for proposed updates.
//
// The record is a single 32-bit word at the start of the metadata page:
// firmware size in the high half, version in the low half, stored
// little-endian. An erased word means no firmware was ever installed.
package metadata

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/Thermoquad/ember/pkg/flash"
)

// Erased is the metadata word of a blank device
const Erased uint32 = 0xFFFFFFFF

// WordSize is the size of the packed record in flash
const WordSize = 4

// ErrReservedRecord is returned when a record would pack to the erased word
var ErrReservedRecord = errors.New("record is indistinguishable from erased metadata")

// Record is the persisted description of the installed image
type Record struct {
	Version      uint16
	FirmwareSize uint16
}

// Pack returns the 32-bit metadata word
func (r Record) Pack() uint32 {
	return uint32(r.FirmwareSize)<<16 | uint32(r.Version)
}

// Unpack splits a metadata word into its fields
func Unpack(word uint32) Record {
	return Record{
		Version:      uint16(word),
		FirmwareSize: uint16(word >> 16),
	}
}

func (r Record) String() string {
	return fmt.Sprintf("version %d, %d bytes", r.Version, r.FirmwareSize)
}

// Accept reports whether candidate may replace installed. Version 0 is the
// debug marker and is always accepted; anything else must not go backwards.
func Accept(installed, candidate uint16) bool {
	return candidate == 0 || candidate >= installed
}

// Store reads and writes the metadata page through a flash driver
type Store struct {
	drv      flash.Driver
	base     uint32
	pageSize int
}

// NewStore creates a store for the metadata page at base
func NewStore(drv flash.Driver, base uint32, pageSize int) *Store {
	return &Store{drv: drv, base: base, pageSize: pageSize}
}

// Load returns the persisted record. installed is false on a blank device,
// in which case the zero Record is returned.
func (s *Store) Load() (rec Record, installed bool, err error) {
	var word [WordSize]byte
	if err := s.drv.Read(s.base, word[:]); err != nil {
		return Record{}, false, fmt.Errorf("failed to read metadata: %w", err)
	}
	w := binary.LittleEndian.Uint32(word[:])
	if w == Erased {
		return Record{}, false, nil
	}
	return Unpack(w), true, nil
}

// CurrentVersion returns the installed version, 0 on a blank device
func (s *Store) CurrentVersion() (uint16, error) {
	rec, _, err := s.Load()
	return rec.Version, err
}

// Accept checks candidate against the installed version
func (s *Store) Accept(candidate uint16) (bool, error) {
	current, err := s.CurrentVersion()
	if err != nil {
		return false, err
	}
	return Accept(current, candidate), nil
}

// Resolve maps the debug version 0 onto the installed version, so that
// committing it leaves the installed version unchanged.
func (s *Store) Resolve(candidate uint16) (uint16, error) {
	if candidate != 0 {
		return candidate, nil
	}
	return s.CurrentVersion()
}

// Commit replaces the metadata page with rec
func (s *Store) Commit(rec Record) error {
	if rec.Pack() == Erased {
		return ErrReservedRecord
	}
	w, err := flash.NewWriter(s.drv, s.base, s.pageSize)
	if err != nil {
		return err
	}
	var word [WordSize]byte
	binary.LittleEndian.PutUint32(word[:], rec.Pack())
	if err := w.Append(word[:], true); err != nil {
		return fmt.Errorf("failed to commit metadata: %w", err)
	}
	return nil
}
