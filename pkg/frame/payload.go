// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package frame

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Payload is a decrypted frame body: type byte followed by 15 data bytes
type Payload [PayloadSize]byte

// Type returns the frame type tag
func (p Payload) Type() Type {
	return Type(p[0])
}

// Data returns the 15 application bytes following the type tag
func (p Payload) Data() []byte {
	return p[1:]
}

// Start holds the fields carried by a start (metadata) frame
type Start struct {
	Version      uint16
	FirmwareSize uint16
	MessageSize  uint16
}

// ParseStart extracts the start frame fields from a payload.
// The payload must carry TypeStart.
func ParseStart(p Payload) (Start, error) {
	if p.Type() != TypeStart {
		return Start{}, fmt.Errorf("not a start frame: type 0x%02X", uint8(p.Type()))
	}
	return Start{
		Version:      binary.LittleEndian.Uint16(p[startVersionOffset:]),
		FirmwareSize: binary.LittleEndian.Uint16(p[startFirmwareSizeOffset:]),
		MessageSize:  binary.LittleEndian.Uint16(p[startMessageSizeOffset:]),
	}, nil
}

// NewStartPayload builds a start frame payload. Unused bytes are filled
// from pad (typically crypto/rand.Reader); a nil pad leaves them zero.
func NewStartPayload(s Start, pad io.Reader) (Payload, error) {
	var p Payload
	if err := fill(p[startFieldsEnd:], pad); err != nil {
		return p, err
	}
	p[0] = byte(TypeStart)
	binary.LittleEndian.PutUint16(p[startVersionOffset:], s.Version)
	binary.LittleEndian.PutUint16(p[startFirmwareSizeOffset:], s.FirmwareSize)
	binary.LittleEndian.PutUint16(p[startMessageSizeOffset:], s.MessageSize)
	return p, nil
}

// NewDataPayload builds a data frame payload carrying up to DataSize bytes.
// Short chunks are padded from pad.
func NewDataPayload(chunk []byte, pad io.Reader) (Payload, error) {
	var p Payload
	if len(chunk) > DataSize {
		return p, fmt.Errorf("data chunk too large: %d bytes (max %d)", len(chunk), DataSize)
	}
	p[0] = byte(TypeData)
	n := copy(p[1:], chunk)
	if err := fill(p[1+n:], pad); err != nil {
		return p, err
	}
	return p, nil
}

// NewEndPayload builds an end frame payload
func NewEndPayload(pad io.Reader) (Payload, error) {
	var p Payload
	p[0] = byte(TypeEnd)
	if err := fill(p[1:], pad); err != nil {
		return p, err
	}
	return p, nil
}

func fill(b []byte, pad io.Reader) error {
	if pad == nil || len(b) == 0 {
		return nil
	}
	if _, err := io.ReadFull(pad, b); err != nil {
		return fmt.Errorf("failed to read padding: %w", err)
	}
	return nil
}

// Chunks returns the number of data frames needed to carry size bytes
func Chunks(size int) int {
	return (size + DataSize - 1) / DataSize
}
