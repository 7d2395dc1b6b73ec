// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package governor

import "testing"

func TestGovernor(t *testing.T) {
	tests := []struct {
		name      string
		threshold int
		outcomes  []bool
		wantAbort bool
		wantCount int
	}{
		{name: "no attempts", threshold: 10, outcomes: nil, wantAbort: false, wantCount: 0},
		{name: "nine failures", threshold: 10, outcomes: repeat(false, 9), wantAbort: false, wantCount: 9},
		{name: "ten failures", threshold: 10, outcomes: repeat(false, 10), wantAbort: true, wantCount: 10},
		{
			name:      "success resets the count",
			threshold: 10,
			outcomes:  append([]bool{false, false, true}, repeat(false, 9)...),
			wantAbort: false,
			wantCount: 9,
		},
		{
			name:      "success after abort threshold",
			threshold: 3,
			outcomes:  []bool{false, false, false, true},
			wantAbort: false,
			wantCount: 0,
		},
		{name: "threshold of one", threshold: 1, outcomes: []bool{false}, wantAbort: true, wantCount: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := New(tt.threshold)
			for _, ok := range tt.outcomes {
				g.Record(ok)
			}
			if g.ShouldAbort() != tt.wantAbort {
				t.Errorf("ShouldAbort() = %v, want %v", g.ShouldAbort(), tt.wantAbort)
			}
			if g.Failures() != tt.wantCount {
				t.Errorf("Failures() = %d, want %d", g.Failures(), tt.wantCount)
			}
		})
	}
}

func TestGovernor_AbortsExactlyAtThreshold(t *testing.T) {
	g := New(DefaultThreshold)
	for i := 1; i <= DefaultThreshold; i++ {
		g.Record(false)
		if got, want := g.ShouldAbort(), i == DefaultThreshold; got != want {
			t.Fatalf("after %d failures ShouldAbort() = %v", i, got)
		}
	}
}

func TestGovernor_DefaultThreshold(t *testing.T) {
	if g := New(0); g.Threshold() != DefaultThreshold {
		t.Errorf("Threshold() = %d, want %d", g.Threshold(), DefaultThreshold)
	}
}

func TestGovernor_Reset(t *testing.T) {
	g := New(2)
	g.Record(false)
	g.Record(false)
	g.Reset()
	if g.ShouldAbort() || g.Failures() != 0 {
		t.Error("Reset did not clear the count")
	}
}

func repeat(v bool, n int) []bool {
	out := make([]bool, n)
	for i := range out {
		out[i] = v
	}
	return out
}
