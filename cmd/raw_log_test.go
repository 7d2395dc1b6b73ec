// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"reflect"
	"testing"
)

func decodeAll(input []byte) []string {
	var d deviceDecoder
	var out []string
	for _, b := range input {
		if s, ok := d.DecodeByte(b); ok {
			out = append(out, s)
		}
	}
	return out
}

func TestDeviceDecoder(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
		want  []string
	}{
		{
			name:  "update echo and acks",
			input: []byte{'U', 0x04, 0x00, 0x04, 0x01, 0x04, 0x02},
			want:  []string{`ECHO 'U'`, "ACK OK", "ACK ERROR", "ACK END"},
		},
		{
			name:  "boot echo and release message",
			input: []byte("BHello, Ember!\r\n"),
			want:  []string{`ECHO 'B'`, `TEXT "Hello, Ember!"`},
		},
		{
			name:  "text starting with a command letter",
			input: []byte("\nUpdated\n"),
			want:  []string{`ECHO 'U'`, `TEXT "pdated"`},
		},
		{
			name:  "text interrupted by an ack",
			input: []byte{'h', 'i', 0x04, 0x00},
			want:  []string{`TEXT "hi"`, "ACK OK"},
		},
		{
			name:  "unknown ack status",
			input: []byte{0x04, 0x42},
			want:  []string{"ACK UNKNOWN(0x42)"},
		},
		{
			name:  "blank lines are dropped",
			input: []byte("\n\n"),
			want:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := decodeAll(tt.input)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}
