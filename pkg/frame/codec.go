// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package frame

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"fmt"
	"io"
)

// ErrAuthentication is returned when a frame's tag does not verify. The
// decrypted bytes of such a frame are never returned.
var ErrAuthentication = errors.New("frame authentication failed")

// Codec seals and opens frames with AES-128-GCM under a pre-shared key and
// a fixed associated-data value. A Codec holds no per-frame state: the GCM
// state is derived from each frame's own nonce.
type Codec struct {
	aead cipher.AEAD
	aad  []byte
}

// NewCodec creates a codec for the given key and associated data
func NewCodec(key, aad []byte) (*Codec, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("key must be %d bytes, got %d", KeySize, len(key))
	}
	if len(aad) != AADSize {
		return nil, fmt.Errorf("associated data must be %d bytes, got %d", AADSize, len(aad))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, NonceSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &Codec{
		aead: aead,
		aad:  append([]byte(nil), aad...),
	}, nil
}

// Decode authenticates and decrypts one raw 48-byte frame.
// Returns ErrAuthentication if the tag does not match.
func (c *Codec) Decode(raw []byte) (Payload, error) {
	var p Payload
	if len(raw) != Size {
		return p, fmt.Errorf("frame must be %d bytes, got %d", Size, len(raw))
	}

	ciphertext := raw[:PayloadSize]
	tag := raw[PayloadSize : PayloadSize+TagSize]
	nonce := raw[PayloadSize+TagSize:]

	// crypto/cipher expects ciphertext||tag
	var sealed [PayloadSize + TagSize]byte
	copy(sealed[:], ciphertext)
	copy(sealed[PayloadSize:], tag)

	plain, err := c.aead.Open(p[:0], nonce, sealed[:], c.aad)
	if err != nil {
		return Payload{}, ErrAuthentication
	}
	if len(plain) != PayloadSize {
		return Payload{}, ErrAuthentication
	}
	return p, nil
}

// Seal encrypts a payload under the given nonce and returns the wire frame
func (c *Codec) Seal(p Payload, nonce []byte) ([Size]byte, error) {
	var raw [Size]byte
	if len(nonce) != NonceSize {
		return raw, fmt.Errorf("nonce must be %d bytes, got %d", NonceSize, len(nonce))
	}

	sealed := c.aead.Seal(raw[:0], nonce, p[:], c.aad)
	if len(sealed) != PayloadSize+TagSize {
		return raw, fmt.Errorf("unexpected sealed length %d", len(sealed))
	}
	copy(raw[PayloadSize+TagSize:], nonce)
	return raw, nil
}

// SealRandom seals a payload under a fresh nonce read from rand
func (c *Codec) SealRandom(p Payload, rand io.Reader) ([Size]byte, error) {
	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand, nonce); err != nil {
		return [Size]byte{}, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return c.Seal(p, nonce)
}
