package bitpack

import (
	"fmt"
	"io"
)

// Writer writes LSB-first bit fields to a byte stream. Complete bytes are
// flushed as they fill; a trailing partial byte is zero-padded by Flush.
type Writer struct {
	dst     io.Writer
	current byte
	bitIdx  uint // 0-7, next free bit within current
	total   uint64
}

// NewWriter returns a Writer over dst.
func NewWriter(dst io.Writer) *Writer {
	return &Writer{dst: dst}
}

// WriteBits writes the low n bits of value, 0 <= n <= 32, LSB first.
func (w *Writer) WriteBits(value uint32, n uint) error {
	if n > 32 {
		return fmt.Errorf("%d bits: %w", n, ErrBadWidth)
	}

	for i := uint(0); i < n; i++ {
		if value&(1<<i) != 0 {
			w.current |= 1 << w.bitIdx
		}

		w.bitIdx++
		w.total++

		if w.bitIdx > 7 {
			if err := w.flushByte(); err != nil {
				return err
			}
		}
	}

	return nil
}

// WriteBit writes a single bit.
func (w *Writer) WriteBit(value uint32) error {
	return w.WriteBits(value, 1)
}

// Flush zero-pads any partial byte and writes it out.
func (w *Writer) Flush() error {
	if w.bitIdx == 0 {
		return nil
	}

	return w.flushByte()
}

// TotalBits returns the number of bits written so far, not counting padding.
func (w *Writer) TotalBits() uint64 {
	return w.total
}

func (w *Writer) flushByte() error {
	if _, err := w.dst.Write([]byte{w.current}); err != nil {
		return fmt.Errorf("writing bitstream: %w", err)
	}

	w.current = 0
	w.bitIdx = 0

	return nil
}
