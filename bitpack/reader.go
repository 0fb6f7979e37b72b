// Package bitpack implements the Vorbis bitpacking convention: variable-width
// fields packed LSB-first within each byte. This is the opposite bit order of
// most general-purpose bit readers, which is why the codec packages carry
// their own instead of an off-the-shelf one.
package bitpack

import (
	"errors"
	"fmt"
	"io"
)

var (
	// ErrTruncated is returned when a read runs past the end of the source.
	ErrTruncated = errors.New("bitstream truncated")
	// ErrBadWidth is returned for field widths outside 0..32.
	ErrBadWidth = errors.New("bit width out of range")
)

// Reader reads LSB-first bit fields from a byte stream.
type Reader struct {
	src     io.Reader
	current byte
	bitIdx  uint // 0-7, next bit within current
	total   uint64
}

// NewReader returns a Reader over src.
func NewReader(src io.Reader) *Reader {
	return &Reader{src: src, bitIdx: 8}
}

// ReadBits reads an n-bit field, 0 <= n <= 32, and returns it right-aligned.
func (r *Reader) ReadBits(n uint) (uint32, error) {
	if n > 32 {
		return 0, fmt.Errorf("%d bits: %w", n, ErrBadWidth)
	}

	var value uint32

	for i := uint(0); i < n; i++ {
		if r.bitIdx > 7 {
			var buf [1]byte
			if _, err := io.ReadFull(r.src, buf[:]); err != nil {
				return 0, fmt.Errorf("%w: %w", ErrTruncated, err)
			}

			r.current = buf[0]
			r.bitIdx = 0
		}

		if r.current&(1<<r.bitIdx) != 0 {
			value |= 1 << i
		}

		r.bitIdx++
		r.total++
	}

	return value, nil
}

// ReadBit reads a single bit.
func (r *Reader) ReadBit() (uint32, error) {
	return r.ReadBits(1)
}

// TotalBits returns the number of bits consumed so far.
func (r *Reader) TotalBits() uint64 {
	return r.total
}

// ILog returns the number of bits needed to represent value, the Vorbis
// "ilog" function: ILog(0) == 0, ILog(1) == 1, ILog(7) == 3.
func ILog(value uint32) uint {
	var bits uint
	for value != 0 {
		bits++
		value >>= 1
	}

	return bits
}
