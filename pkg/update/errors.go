// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package update

import (
	"errors"
	"fmt"
)

// Errors
var (
	// ErrProtocolViolation marks an authentic frame of the wrong type for the
	// current phase
	ErrProtocolViolation = errors.New("unexpected frame type")

	// ErrVersionRejected marks a start frame that would roll the firmware back
	ErrVersionRejected = errors.New("version rejected")

	// ErrRetryBudgetExceeded is returned by Session.Run after a phase hit its
	// failure threshold and the device was reset
	ErrRetryBudgetExceeded = errors.New("retry budget exceeded")
)

// RejectError describes a frame that was negatively acknowledged. The
// session stays in the same phase and waits for the host to resend.
type RejectError struct {
	Phase  string
	Reason string
	Err    error
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Phase, e.Reason, e.Err)
}

func (e *RejectError) Unwrap() error {
	return e.Err
}
