// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package host implements the host side of the Ember update protocol:
// secrets handling, bundling a firmware image into sealed frames, and
// driving a device through an update.
package host

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"os"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/pbkdf2"

	"github.com/Thermoquad/ember/pkg/frame"
)

// Key derivation parameters
const (
	SaltSize         = 16
	DeriveIterations = 210000
)

// Secrets is the pre-shared key material of one device build. It is stored
// as a CBOR map with integer keys.
type Secrets struct {
	Key  []byte `cbor:"1,keyasint"`
	AAD  []byte `cbor:"2,keyasint"`
	Salt []byte `cbor:"3,keyasint,omitempty"`
}

// GenerateSecrets draws a fresh key and associated data from rnd.
// A nil rnd uses crypto/rand.
func GenerateSecrets(rnd io.Reader) (*Secrets, error) {
	if rnd == nil {
		rnd = rand.Reader
	}
	s := &Secrets{
		Key: make([]byte, frame.KeySize),
		AAD: make([]byte, frame.AADSize),
	}
	if _, err := io.ReadFull(rnd, s.Key); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	if _, err := io.ReadFull(rnd, s.AAD); err != nil {
		return nil, fmt.Errorf("failed to generate associated data: %w", err)
	}
	return s, nil
}

// DeriveSecrets stretches a passphrase into key and associated data with
// PBKDF2-SHA256. The same passphrase and salt always give the same secrets.
func DeriveSecrets(passphrase, salt []byte) (*Secrets, error) {
	if len(passphrase) == 0 {
		return nil, fmt.Errorf("empty passphrase")
	}
	if len(salt) != SaltSize {
		return nil, fmt.Errorf("salt must be %d bytes, got %d", SaltSize, len(salt))
	}
	out := pbkdf2.Key(passphrase, salt, DeriveIterations, frame.KeySize+frame.AADSize, sha256.New)
	return &Secrets{
		Key:  out[:frame.KeySize],
		AAD:  out[frame.KeySize:],
		Salt: append([]byte(nil), salt...),
	}, nil
}

// Validate checks the key material sizes
func (s *Secrets) Validate() error {
	if len(s.Key) != frame.KeySize {
		return &ValidationError{Field: "key", Message: fmt.Sprintf("must be %d bytes, got %d", frame.KeySize, len(s.Key))}
	}
	if len(s.AAD) != frame.AADSize {
		return &ValidationError{Field: "aad", Message: fmt.Sprintf("must be %d bytes, got %d", frame.AADSize, len(s.AAD))}
	}
	return nil
}

// Codec returns a frame codec for these secrets
func (s *Secrets) Codec() (*frame.Codec, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return frame.NewCodec(s.Key, s.AAD)
}

// Marshal encodes the secrets as CBOR
func (s *Secrets) Marshal() ([]byte, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return cbor.Marshal(s)
}

// ParseSecrets decodes CBOR-encoded secrets
func ParseSecrets(data []byte) (*Secrets, error) {
	var s Secrets
	if err := cbor.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to decode secrets: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// LoadSecrets reads a secrets file
func LoadSecrets(path string) (*Secrets, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseSecrets(data)
}

// Save writes the secrets to path, readable by the owner only
func (s *Secrets) Save(path string) error {
	data, err := s.Marshal()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
