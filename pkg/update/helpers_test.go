// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package update

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/Thermoquad/ember/pkg/flash"
	"github.com/Thermoquad/ember/pkg/frame"
)

// ============================================================
// Test Helpers
// ============================================================

var (
	testKey = []byte("0123456789abcdef")
	testAAD = []byte("ember-frame-aad!")
)

func newTestCodec(t *testing.T) *frame.Codec {
	t.Helper()
	c, err := frame.NewCodec(testKey, testAAD)
	if err != nil {
		t.Fatalf("NewCodec failed: %v", err)
	}
	return c
}

// testHost seals frames the way the host tool does, with a counter nonce
type testHost struct {
	t     *testing.T
	codec *frame.Codec
	n     uint64
}

func newTestHost(t *testing.T) *testHost {
	return &testHost{t: t, codec: newTestCodec(t)}
}

func (h *testHost) seal(p frame.Payload) []byte {
	h.t.Helper()
	nonce := make([]byte, frame.NonceSize)
	binary.BigEndian.PutUint64(nonce[8:], h.n)
	h.n++
	raw, err := h.codec.Seal(p, nonce)
	if err != nil {
		h.t.Fatalf("Seal failed: %v", err)
	}
	return raw[:]
}

func (h *testHost) start(version, firmwareSize, messageSize uint16) []byte {
	h.t.Helper()
	p, err := frame.NewStartPayload(frame.Start{
		Version:      version,
		FirmwareSize: firmwareSize,
		MessageSize:  messageSize,
	}, nil)
	if err != nil {
		h.t.Fatal(err)
	}
	return h.seal(p)
}

func (h *testHost) data(chunk []byte) []byte {
	h.t.Helper()
	p, err := frame.NewDataPayload(chunk, bytes.NewReader(bytes.Repeat([]byte{0xA5}, frame.DataSize)))
	if err != nil {
		h.t.Fatal(err)
	}
	return h.seal(p)
}

func (h *testHost) end() []byte {
	h.t.Helper()
	p, err := frame.NewEndPayload(nil)
	if err != nil {
		h.t.Fatal(err)
	}
	return h.seal(p)
}

func (h *testHost) chunks(b []byte) [][]byte {
	var frames [][]byte
	for len(b) > 0 {
		n := min(frame.DataSize, len(b))
		frames = append(frames, h.data(b[:n]))
		b = b[n:]
	}
	return frames
}

// stream returns the complete frame sequence for one update
func (h *testHost) stream(version uint16, firmware []byte, message string) [][]byte {
	msg := append([]byte(message), 0)
	frames := [][]byte{h.start(version, uint16(len(firmware)), uint16(len(msg)))}
	frames = append(frames, h.chunks(firmware)...)
	frames = append(frames, h.chunks(msg)...)
	return append(frames, h.end())
}

// tamper flips one tag bit of a frame copy
func tamper(f []byte) []byte {
	c := append([]byte(nil), f...)
	c[frame.PayloadSize+3] ^= 0x10
	return c
}

func repeatFrame(f []byte, n int) [][]byte {
	out := make([][]byte, n)
	for i := range out {
		out[i] = f
	}
	return out
}

func join(parts ...[][]byte) []byte {
	var b []byte
	for _, p := range parts {
		for _, f := range p {
			b = append(b, f...)
		}
	}
	return b
}

// scriptedLink replays a fixed input and records everything written
type scriptedLink struct {
	in  *bytes.Reader
	out bytes.Buffer
}

func newScriptedLink(input []byte) *scriptedLink {
	return &scriptedLink{in: bytes.NewReader(input)}
}

func (l *scriptedLink) Read(p []byte) (int, error) {
	return l.in.Read(p)
}

func (l *scriptedLink) Write(p []byte) (int, error) {
	return l.out.Write(p)
}

// acks returns the status bytes of the recorded acknowledgements
func acks(t *testing.T, out []byte) []byte {
	t.Helper()
	if len(out)%frame.AckLength != 0 {
		t.Fatalf("output is not a sequence of acks: % X", out)
	}
	var status []byte
	for i := 0; i < len(out); i += frame.AckLength {
		if out[i] != frame.AckType {
			t.Fatalf("ack %d has type 0x%02X", i/2, out[i])
		}
		status = append(status, out[i+1])
	}
	return status
}

func okAcks(n int) []byte {
	return bytes.Repeat([]byte{frame.AckOK}, n)
}

func newTestFlash() *flash.Memory {
	return flash.NewMemory(flash.DefaultSize, flash.PageSize)
}

func readFlash(t *testing.T, mem *flash.Memory, addr uint32, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	if err := mem.Read(addr, b); err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	return b
}

func firmwareImage(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*13 + 1)
	}
	return b
}

type resetCounter struct {
	resets int
}

func (r *resetCounter) Reset() {
	r.resets++
}
