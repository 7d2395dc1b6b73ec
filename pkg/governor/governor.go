// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package governor counts consecutive failures within a protocol phase and
// decides when retrying has to give way to a fatal abort.
package governor

// DefaultThreshold is the number of consecutive failures that aborts a session
const DefaultThreshold = 10

// Governor tracks consecutive failures for one phase
type Governor struct {
	threshold int
	failures  int
}

// New creates a governor. A threshold below 1 uses DefaultThreshold.
func New(threshold int) *Governor {
	if threshold < 1 {
		threshold = DefaultThreshold
	}
	return &Governor{threshold: threshold}
}

// Record notes the outcome of one attempt. Success clears the count.
func (g *Governor) Record(success bool) {
	if success {
		g.failures = 0
		return
	}
	g.failures++
}

// ShouldAbort reports whether the failure count has reached the threshold
func (g *Governor) ShouldAbort() bool {
	return g.failures >= g.threshold
}

// Failures returns the current consecutive failure count
func (g *Governor) Failures() int {
	return g.failures
}

// Threshold returns the configured abort threshold
func (g *Governor) Threshold() int {
	return g.threshold
}

// Reset clears the count at a phase boundary
func (g *Governor) Reset() {
	g.failures = 0
}
