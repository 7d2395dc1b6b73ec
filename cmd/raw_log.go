// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/ember/pkg/frame"
)

var rawLogCmd = &cobra.Command{
	Use:   "raw_log",
	Short: "Display raw bootloader output in human-readable format",
	Long: `Continuously decode and display what the bootloader sends as it arrives:
command echoes, frame acknowledgements and console text such as the release
message printed at boot.

Useful next to a host running "ember update" on a shared line, or to watch a
device reset back into the bootloader.

Supports both serial and WebSocket connections.`,
	RunE: runRawLog,
}

func init() {
	rootCmd.AddCommand(rawLogCmd)
}

// deviceDecoder splits the device byte stream into acknowledgements, command
// echoes and lines of console text
type deviceDecoder struct {
	inAck bool
	line  []byte
}

// DecodeByte feeds one byte and returns a description when an item is complete
func (d *deviceDecoder) DecodeByte(b byte) (string, bool) {
	if d.inAck {
		d.inAck = false
		return "ACK " + frame.FormatAck(b), true
	}

	switch {
	case b == frame.AckType:
		d.inAck = true
		return d.flushLine()
	case len(d.line) == 0 && (b == frame.CommandUpdate || b == frame.CommandBoot):
		return fmt.Sprintf("ECHO %q", b), true
	case b == '\n':
		return d.flushLine()
	case b == '\r':
		return "", false
	default:
		d.line = append(d.line, b)
		return "", false
	}
}

func (d *deviceDecoder) flushLine() (string, bool) {
	if len(d.line) == 0 {
		return "", false
	}
	out := fmt.Sprintf("TEXT %q", d.line)
	d.line = d.line[:0]
	return out, true
}

func runRawLog(cmd *cobra.Command, args []string) error {
	// Open connection (serial or WebSocket)
	conn, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}
	defer conn.Close()

	fmt.Printf("Ember - Raw Device Log\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	var decoder deviceDecoder
	buf := make([]byte, 128)

	for {
		n, err := conn.Read(buf)
		if err != nil {
			// For WebSocket connections, a read error usually means
			// the connection is permanently closed - exit gracefully
			if errors.Is(err, ErrConnectionClosed) || errors.Is(err, io.EOF) {
				log.Printf("Connection closed")
				return nil
			}
			log.Printf("Read error: %v", err)
			continue
		}

		for i := 0; i < n; i++ {
			if out, ok := decoder.DecodeByte(buf[i]); ok {
				fmt.Printf("[%s] %s\n", time.Now().Format("15:04:05.000"), out)
			}
		}
	}
}
