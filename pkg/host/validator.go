// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package host

import (
	"bytes"
	"fmt"
	"math"

	"github.com/Thermoquad/ember/pkg/flash"
)

// MaxImageSize is the room between the firmware base and the end of the
// reference flash
const MaxImageSize = int(flash.DefaultSize - flash.FirmwareBase)

// ValidationError represents an image that cannot be bundled
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface
func (v *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", v.Field, v.Message)
}

// ValidateImage checks that an image fits the wire format and the flash.
// Returns a slice of validation errors (empty if the image is valid).
func ValidateImage(img Image) []ValidationError {
	errors := []ValidationError{}

	if len(img.Firmware) > math.MaxUint16 {
		errors = append(errors, ValidationError{
			Field:   "firmware",
			Message: fmt.Sprintf("%d bytes exceeds the %d byte size field", len(img.Firmware), math.MaxUint16),
		})
	}

	if bytes.IndexByte([]byte(img.Message), 0) >= 0 {
		errors = append(errors, ValidationError{
			Field:   "message",
			Message: "contains a NUL byte",
		})
	}
	if len(img.Message)+1 > math.MaxUint16 {
		errors = append(errors, ValidationError{
			Field:   "message",
			Message: fmt.Sprintf("%d bytes exceeds the %d byte size field", len(img.Message)+1, math.MaxUint16),
		})
	}

	if total := len(img.Firmware) + len(img.Message) + 1; total > MaxImageSize {
		errors = append(errors, ValidationError{
			Field:   "image",
			Message: fmt.Sprintf("%d bytes does not fit the %d byte image region", total, MaxImageSize),
		})
	}

	return errors
}
