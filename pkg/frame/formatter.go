// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package frame

import (
	"fmt"
	"strings"
)

// FormatType returns the human-readable name for a frame type
func FormatType(t Type) string {
	switch t {
	case TypeStart:
		return "START"
	case TypeData:
		return "DATA"
	case TypeEnd:
		return "END"
	default:
		return "UNKNOWN"
	}
}

// FormatAck returns the human-readable name for an acknowledgement status
func FormatAck(status byte) string {
	switch status {
	case AckOK:
		return "OK"
	case AckError:
		return "ERROR"
	case AckEnd:
		return "END"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02X)", status)
	}
}

// FormatPayload formats a decrypted payload into a human-readable string
func FormatPayload(p Payload) string {
	result := fmt.Sprintf("%s (0x%02X)\n", FormatType(p.Type()), uint8(p.Type()))

	switch p.Type() {
	case TypeStart:
		s, _ := ParseStart(p)
		result += fmt.Sprintf("  Version: %d, Firmware: %d bytes, Release message: %d bytes\n",
			s.Version, s.FirmwareSize, s.MessageSize)
	case TypeData:
		result += "  Data: " + FormatHex(p.Data(), 11)
	case TypeEnd:
		result += "  (no data)\n"
	default:
		result += "  Payload: " + FormatHex(p[:], 11)
	}

	return result
}

// FormatHex renders bytes as a hex dump, 16 bytes per line. Continuation
// lines are indented by indent spaces.
func FormatHex(data []byte, indent int) string {
	var b strings.Builder
	for i, v := range data {
		if i > 0 && i%16 == 0 {
			b.WriteString("\n")
			b.WriteString(strings.Repeat(" ", indent))
		}
		fmt.Fprintf(&b, "%02X ", v)
	}
	b.WriteString("\n")
	return b.String()
}
