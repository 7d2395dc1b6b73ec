// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package flash

import (
	"bytes"
	"fmt"
)

// Writer stages a byte stream into a one-page buffer and commits it to
// flash a page at a time. A page is erased, programmed and verified when the
// buffer fills, or when the caller marks the end of a logical stream.
//
// After an end-of-stream flush the page stays open: further appends
// continue in the same buffer and the page is erased and programmed again
// on the next flush. This lets a second stream share the tail page of the
// first.
type Writer struct {
	drv      Driver
	pageSize int

	addr uint32 // base of the page held in buf
	buf  []byte
	n    int

	pages int

	// rollback snapshot
	savedAddr uint32
	savedBuf  []byte
	savedN    int
}

// NewWriter creates a writer that starts at base, which must be page aligned
func NewWriter(drv Driver, base uint32, pageSize int) (*Writer, error) {
	if pageSize <= 0 || pageSize%WordSize != 0 {
		return nil, fmt.Errorf("page size %d must be a positive multiple of %d", pageSize, WordSize)
	}
	if base%uint32(pageSize) != 0 {
		return nil, fmt.Errorf("writer base 0x%05X: %w", base, ErrAlignment)
	}
	return &Writer{
		drv:      drv,
		pageSize: pageSize,
		addr:     base,
		buf:      make([]byte, pageSize),
		savedBuf: make([]byte, pageSize),
	}, nil
}

// Address returns the flash address the next appended byte will land at
func (w *Writer) Address() uint32 {
	return w.addr + uint32(w.n)
}

// Buffered returns the number of bytes held in the open page
func (w *Writer) Buffered() int {
	return w.n
}

// Pages returns the number of completed erase/program/verify cycles
func (w *Writer) Pages() int {
	return w.pages
}

// Append adds p to the page buffer, flushing whenever the page fills. When
// end is set the remaining partial page is flushed as well.
//
// Append is atomic: if any flush fails the writer is restored to its state
// before the call, so the same bytes can be appended again.
func (w *Writer) Append(p []byte, end bool) error {
	if w.n+len(p) >= w.pageSize || end {
		w.save()
	}

	for len(p) > 0 {
		c := copy(w.buf[w.n:], p)
		w.n += c
		p = p[c:]

		if w.n == w.pageSize {
			if err := w.flush(); err != nil {
				w.restore()
				return err
			}
			w.addr += uint32(w.pageSize)
			w.n = 0
		}
	}

	if end && w.n > 0 {
		if err := w.flush(); err != nil {
			w.restore()
			return err
		}
	}
	return nil
}

// Flush programs the open partial page without closing it
func (w *Writer) Flush() error {
	return w.Append(nil, true)
}

func (w *Writer) save() {
	w.savedAddr = w.addr
	w.savedN = w.n
	copy(w.savedBuf, w.buf[:w.n])
}

func (w *Writer) restore() {
	w.addr = w.savedAddr
	w.n = w.savedN
	copy(w.buf, w.savedBuf[:w.n])
}

// flush erases the current page and programs buf[:n], padding the trailing
// partial word with Erased, then reads it back.
func (w *Writer) flush() error {
	size := (w.n + WordSize - 1) / WordSize * WordSize
	image := w.buf[:size]
	for i := w.n; i < size; i++ {
		image[i] = Erased
	}

	if err := w.drv.ErasePage(w.addr); err != nil {
		return &WriteError{Op: "erase", Addr: w.addr, Err: err}
	}
	if err := w.drv.Program(w.addr, image); err != nil {
		return &WriteError{Op: "program", Addr: w.addr, Err: err}
	}

	readback := make([]byte, size)
	if err := w.drv.Read(w.addr, readback); err != nil {
		return &WriteError{Op: "read", Addr: w.addr, Err: err}
	}
	if !bytes.Equal(readback, image) {
		return &WriteError{Op: "verify", Addr: w.addr, Err: ErrVerify}
	}

	w.pages++
	return nil
}
