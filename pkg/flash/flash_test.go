// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package flash

import (
	"bytes"
	"errors"
	"testing"
)

// ============================================================
// Test Helpers
// ============================================================

const testBase uint32 = 0x10000

func newTestWriter(t *testing.T) (*Memory, *Writer) {
	t.Helper()
	mem := NewMemory(DefaultSize, PageSize)
	w, err := NewWriter(mem, testBase, PageSize)
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}
	return mem, w
}

func pattern(n int, seed byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = seed + byte(i*7)
	}
	return b
}

func appendChunks(t *testing.T, w *Writer, data []byte, chunk int, end bool) {
	t.Helper()
	for len(data) > 0 {
		n := min(chunk, len(data))
		last := n == len(data)
		if err := w.Append(data[:n], end && last); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
		data = data[n:]
	}
}

func readFlash(t *testing.T, mem *Memory, addr uint32, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	if err := mem.Read(addr, b); err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	return b
}

// ============================================================
// Memory Tests
// ============================================================

func TestMemory_StartsErased(t *testing.T) {
	mem := NewMemory(4*PageSize, PageSize)
	got := readFlash(t, mem, 0, 4*PageSize)
	if !bytes.Equal(got, bytes.Repeat([]byte{Erased}, 4*PageSize)) {
		t.Error("new memory is not erased")
	}
}

func TestMemory_ProgramClearsBitsOnly(t *testing.T) {
	mem := NewMemory(PageSize, PageSize)
	if err := mem.Program(0, []byte{0xF0, 0x0F, 0xAA, 0x55}); err != nil {
		t.Fatal(err)
	}
	if err := mem.Program(0, []byte{0xFF, 0xFF, 0x0F, 0xFF}); err != nil {
		t.Fatal(err)
	}
	want := []byte{0xF0, 0x0F, 0x0A, 0x55}
	if got := readFlash(t, mem, 0, 4); !bytes.Equal(got, want) {
		t.Errorf("got % X, want % X", got, want)
	}
}

func TestMemory_Alignment(t *testing.T) {
	mem := NewMemory(PageSize, PageSize)
	tests := []struct {
		name string
		addr uint32
		data []byte
	}{
		{name: "unaligned address", addr: 2, data: make([]byte, 4)},
		{name: "unaligned length", addr: 0, data: make([]byte, 3)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := mem.Program(tt.addr, tt.data); !errors.Is(err, ErrAlignment) {
				t.Errorf("expected ErrAlignment, got %v", err)
			}
		})
	}
}

func TestMemory_OutOfRange(t *testing.T) {
	mem := NewMemory(PageSize, PageSize)
	if err := mem.Program(PageSize-4, make([]byte, 8)); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("Program: expected ErrOutOfRange, got %v", err)
	}
	if err := mem.Read(PageSize, make([]byte, 1)); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("Read: expected ErrOutOfRange, got %v", err)
	}
	if err := mem.ErasePage(PageSize); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("ErasePage: expected ErrOutOfRange, got %v", err)
	}
}

func TestMemory_SaveLoad(t *testing.T) {
	mem := NewMemory(2*PageSize, PageSize)
	if err := mem.Program(PageSize, []byte{1, 2, 3, 4}); err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := mem.Save(&buf); err != nil {
		t.Fatal(err)
	}

	other := NewMemory(2*PageSize, PageSize)
	if err := other.Load(&buf); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(other.Snapshot(), mem.Snapshot()) {
		t.Error("loaded image differs from saved image")
	}

	if err := other.Load(bytes.NewReader(make([]byte, 10))); err == nil {
		t.Error("expected error for short image")
	}
}

// ============================================================
// Layout Tests
// ============================================================

func TestLayout_Validate(t *testing.T) {
	if err := DefaultLayout().Validate(); err != nil {
		t.Errorf("default layout invalid: %v", err)
	}

	tests := []struct {
		name   string
		layout Layout
	}{
		{name: "unaligned metadata", layout: Layout{MetadataBase: 0xFC01, FirmwareBase: FirmwareBase, PageSize: PageSize}},
		{name: "unaligned firmware", layout: Layout{MetadataBase: MetadataBase, FirmwareBase: 0x10002, PageSize: PageSize}},
		{name: "odd page size", layout: Layout{MetadataBase: 0, FirmwareBase: 0x1000, PageSize: 6}},
		{name: "overlap", layout: Layout{MetadataBase: FirmwareBase, FirmwareBase: FirmwareBase, PageSize: PageSize}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.layout.Validate(); err == nil {
				t.Error("expected error")
			}
		})
	}
}

// ============================================================
// Writer Tests
// ============================================================

func TestNewWriter_UnalignedBase(t *testing.T) {
	mem := NewMemory(DefaultSize, PageSize)
	if _, err := NewWriter(mem, testBase+4, PageSize); !errors.Is(err, ErrAlignment) {
		t.Errorf("expected ErrAlignment, got %v", err)
	}
}

func TestWriter_FullPageFlushesOnce(t *testing.T) {
	chunkSizes := []int{1, 4, 15, 16, 1000, PageSize}
	for _, size := range chunkSizes {
		mem, w := newTestWriter(t)
		data := pattern(PageSize, byte(size))

		// Feed everything except the final byte: nothing reaches flash yet
		appendChunks(t, w, data[:PageSize-1], size, false)
		if mem.Erases() != 0 {
			t.Fatalf("chunk %d: %d erases before the page was full", size, mem.Erases())
		}

		if err := w.Append(data[PageSize-1:], false); err != nil {
			t.Fatal(err)
		}
		if mem.Erases() != 1 || mem.Programs() != 1 || w.Pages() != 1 {
			t.Errorf("chunk %d: erases=%d programs=%d pages=%d, want 1/1/1",
				size, mem.Erases(), mem.Programs(), w.Pages())
		}
		if !bytes.Equal(readFlash(t, mem, testBase, PageSize), data) {
			t.Errorf("chunk %d: page contents differ", size)
		}
		if w.Address() != testBase+PageSize || w.Buffered() != 0 {
			t.Errorf("chunk %d: address=0x%X buffered=%d", size, w.Address(), w.Buffered())
		}
	}
}

func TestWriter_PartialPageIsPadded(t *testing.T) {
	tests := []int{1, 2, 3, 4, 9, 15, 32, PageSize - 1}
	for _, n := range tests {
		mem, w := newTestWriter(t)
		data := pattern(n, 0x10)
		appendChunks(t, w, data, 15, true)

		if mem.Erases() != 1 {
			t.Errorf("n=%d: erases=%d, want 1", n, mem.Erases())
		}
		got := readFlash(t, mem, testBase, PageSize)
		if !bytes.Equal(got[:n], data) {
			t.Errorf("n=%d: data mismatch", n)
		}
		if !bytes.Equal(got[n:], bytes.Repeat([]byte{Erased}, PageSize-n)) {
			t.Errorf("n=%d: tail is not erased fill", n)
		}
	}
}

func TestWriter_StraddlingChunk(t *testing.T) {
	mem, w := newTestWriter(t)
	data := pattern(PageSize+20, 3)
	appendChunks(t, w, data, 15, true)

	if mem.Erases() != 2 {
		t.Errorf("erases=%d, want 2", mem.Erases())
	}
	if !bytes.Equal(readFlash(t, mem, testBase, len(data)), data) {
		t.Error("contents differ across page boundary")
	}
	if w.Address() != testBase+uint32(len(data)) {
		t.Errorf("address=0x%X", w.Address())
	}
}

func TestWriter_SharedTailPage(t *testing.T) {
	mem, w := newTestWriter(t)
	firmware := pattern(32, 0x40)
	message := []byte("hi there\x00")

	appendChunks(t, w, firmware, 15, true)
	appendChunks(t, w, message, 15, true)

	// Firmware flush and message flush both hit the same page
	if mem.Erases() != 2 {
		t.Errorf("erases=%d, want 2", mem.Erases())
	}
	got := readFlash(t, mem, testBase, 32+len(message))
	if !bytes.Equal(got[:32], firmware) {
		t.Error("firmware overwritten by message flush")
	}
	if !bytes.Equal(got[32:], message) {
		t.Errorf("message = %q", got[32:])
	}
}

func TestWriter_EndOnPageBoundary(t *testing.T) {
	mem, w := newTestWriter(t)
	appendChunks(t, w, pattern(PageSize, 1), 16, true)
	if mem.Erases() != 1 {
		t.Errorf("erases=%d, want 1", mem.Erases())
	}
	if err := w.Flush(); err != nil {
		t.Fatal(err)
	}
	if mem.Erases() != 1 {
		t.Errorf("empty flush touched flash: erases=%d", mem.Erases())
	}
}

func TestWriter_ProgramFailureRollsBack(t *testing.T) {
	mem, w := newTestWriter(t)
	data := pattern(PageSize, 9)
	appendChunks(t, w, data[:PageSize-10], 10, false)

	mem.FailPrograms(1)
	err := w.Append(data[PageSize-10:], false)
	var werr *WriteError
	if !errors.As(err, &werr) || werr.Op != "program" || !errors.Is(err, ErrInjected) {
		t.Fatalf("expected program WriteError, got %v", err)
	}
	if w.Buffered() != PageSize-10 || w.Address() != testBase+PageSize-10 {
		t.Fatalf("writer not rolled back: buffered=%d", w.Buffered())
	}

	// Retrying the same chunk succeeds and lands exactly once
	if err := w.Append(data[PageSize-10:], false); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(readFlash(t, mem, testBase, PageSize), data) {
		t.Error("page contents differ after retry")
	}
}

func TestWriter_VerifyFailure(t *testing.T) {
	mem, w := newTestWriter(t)
	mem.CorruptPrograms(1)

	err := w.Append([]byte{1, 2, 3}, true)
	if !errors.Is(err, ErrVerify) {
		t.Fatalf("expected ErrVerify, got %v", err)
	}
	if w.Buffered() != 0 {
		t.Errorf("buffered=%d after failed append, want 0", w.Buffered())
	}

	if err := w.Append([]byte{1, 2, 3}, true); err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if got := readFlash(t, mem, testBase, 4); !bytes.Equal(got, []byte{1, 2, 3, Erased}) {
		t.Errorf("got % X", got)
	}
}

func TestWriter_RollbackAcrossCompletedPage(t *testing.T) {
	mem, w := newTestWriter(t)
	data := pattern(PageSize+5, 2)
	appendChunks(t, w, data[:PageSize-5], 15, false)

	// The first flush succeeds, the end-of-stream flush of the next page fails
	w.drv = &failingDriver{Driver: mem, failAt: 2}

	if err := w.Append(data[PageSize-5:], true); err == nil {
		t.Fatal("expected failure")
	}
	if w.Address() != testBase+PageSize-5 {
		t.Fatalf("address=0x%X, want rollback to 0x%X", w.Address(), testBase+PageSize-5)
	}

	w.drv = mem
	if err := w.Append(data[PageSize-5:], true); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(readFlash(t, mem, testBase, len(data)), data) {
		t.Error("contents differ after retry")
	}
}

// failingDriver fails the Program call with sequence number failAt
type failingDriver struct {
	Driver
	calls  int
	failAt int
}

func (f *failingDriver) Program(addr uint32, data []byte) error {
	f.calls++
	if f.calls == f.failAt {
		return ErrInjected
	}
	return f.Driver.Program(addr, data)
}
