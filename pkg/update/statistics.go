// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package update

import (
	"errors"
	"fmt"
	"time"

	"github.com/Thermoquad/ember/pkg/flash"
	"github.com/Thermoquad/ember/pkg/frame"
)

// Statistics tracks frame outcomes for one update session
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	TotalFrames        uint64
	AcceptedFrames     uint64
	AuthFailures       uint64
	ProtocolViolations uint64
	VersionRejections  uint64
	WriteFailures      uint64
	OtherFailures      uint64

	// Bytes committed per stream
	FirmwareBytes uint64
	MessageBytes  uint64

	// Rates (calculated)
	FrameRate float64 // frames/sec
	ByteRate  float64 // bytes/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
	}
}

// Update records the outcome of one frame. A nil err counts as accepted.
func (s *Statistics) Update(err error) {
	s.TotalFrames++
	s.LastUpdateTime = time.Now()

	var werr *flash.WriteError
	switch {
	case err == nil:
		s.AcceptedFrames++
	case errors.Is(err, frame.ErrAuthentication):
		s.AuthFailures++
	case errors.Is(err, ErrProtocolViolation):
		s.ProtocolViolations++
	case errors.Is(err, ErrVersionRejected):
		s.VersionRejections++
	case errors.As(err, &werr):
		s.WriteFailures++
	default:
		s.OtherFailures++
	}
}

// Rejected returns the number of negatively acknowledged frames
func (s *Statistics) Rejected() uint64 {
	return s.TotalFrames - s.AcceptedFrames
}

// CalculateRates calculates frame and byte rates
func (s *Statistics) CalculateRates() {
	elapsed := s.LastUpdateTime.Sub(s.StartTime).Seconds()
	if elapsed > 0 {
		s.FrameRate = float64(s.TotalFrames) / elapsed
		s.ByteRate = float64(s.FirmwareBytes+s.MessageBytes) / elapsed
	}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.CalculateRates()

	var acceptedPercent float64
	if s.TotalFrames > 0 {
		acceptedPercent = float64(s.AcceptedFrames) * 100.0 / float64(s.TotalFrames)
	}

	elapsed := s.LastUpdateTime.Sub(s.StartTime)

	result := fmt.Sprintf("=== Session Statistics (%.1f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Total Frames:    %8d\n", s.TotalFrames)
	result += fmt.Sprintf("Accepted Frames: %8d (%.1f%%)\n", s.AcceptedFrames, acceptedPercent)

	if s.AuthFailures > 0 {
		result += fmt.Sprintf("Auth Failures:   %8d\n", s.AuthFailures)
	}
	if s.ProtocolViolations > 0 {
		result += fmt.Sprintf("Wrong Type:      %8d\n", s.ProtocolViolations)
	}
	if s.VersionRejections > 0 {
		result += fmt.Sprintf("Rollbacks:       %8d\n", s.VersionRejections)
	}
	if s.WriteFailures > 0 {
		result += fmt.Sprintf("Write Failures:  %8d\n", s.WriteFailures)
	}
	if s.OtherFailures > 0 {
		result += fmt.Sprintf("Other Failures:  %8d\n", s.OtherFailures)
	}

	result += fmt.Sprintf("Firmware Bytes:  %8d\n", s.FirmwareBytes)
	result += fmt.Sprintf("Message Bytes:   %8d\n", s.MessageBytes)
	result += fmt.Sprintf("Frame Rate:      %8.1f frames/sec\n", s.FrameRate)
	result += "========================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	*s = *NewStatistics()
}
