// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package frame implements the Ember update frame format.
//
// Every message the host sends during an update is a fixed 48-byte frame:
// a 16-byte AES-GCM ciphertext, its 16-byte authentication tag and the
// 16-byte nonce it was sealed with. The decrypted payload starts with a
// frame type byte followed by up to 15 bytes of application data.
package frame

// Wire layout sizes
const (
	PayloadSize = 16
	TagSize     = 16
	NonceSize   = 16
	Size        = PayloadSize + TagSize + NonceSize // 48

	// DataSize is the number of application bytes carried by one frame
	DataSize = PayloadSize - 1
)

// Key material sizes (AES-128, 16-byte associated data)
const (
	KeySize = 16
	AADSize = 16
)

// Type is the first byte of a decrypted payload
type Type uint8

// Frame types
const (
	TypeStart Type = 0x01
	TypeData  Type = 0x02
	TypeEnd   Type = 0x03
)

// Start frame field offsets (little-endian u16 values)
const (
	startVersionOffset      = 1
	startFirmwareSizeOffset = 3
	startMessageSizeOffset  = 5
	startFieldsEnd          = 7
)

// Acknowledgement bytes sent device → host after every frame
const (
	AckType   = 0x04
	AckOK     = 0x00
	AckError  = 0x01
	AckEnd    = 0x02
	AckLength = 2
)

// Session control commands (host → device, echoed back)
const (
	CommandUpdate = 'U'
	CommandBoot   = 'B'
)
