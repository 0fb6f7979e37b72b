package codebook

import (
	"fmt"

	"github.com/mycophonic/spore/bitpack"
)

// Rebuild parses one packed codebook from br and re-emits it in canonical
// encoding: the 24-bit sync pattern, 16-bit dimension count, 24-bit entry
// count, 5-bit codeword lengths and a 4-bit lookup type, where the packed
// form uses 4/14-bit counts, a variable length width and a 1-bit lookup
// type. declaredSize is the packed entry's byte length when known (bank
// mode), or 0 to skip the size check (inline mode).
func Rebuild(br *bitpack.Reader, declaredSize uint32, out BitWriter) error {
	dimensions, err := br.ReadBits(4)
	if err != nil {
		return err
	}

	entries, err := br.ReadBits(14)
	if err != nil {
		return err
	}

	if err := out.WriteBits(syncPattern, 24); err != nil {
		return err
	}

	if err := out.WriteBits(dimensions, 16); err != nil {
		return err
	}

	if err := out.WriteBits(entries, 24); err != nil {
		return err
	}

	if err := rebuildLengths(br, out, entries); err != nil {
		return err
	}

	if err := rebuildLookup(br, out, dimensions, entries); err != nil {
		return err
	}

	if declaredSize != 0 {
		// The packed entry carries one trailing marker byte past the
		// bitpacked payload.
		consumed := uint32((br.TotalBits()+7)/8) + 1
		if consumed != declaredSize {
			return fmt.Errorf("parsed %d bytes, expected %d: %w", consumed, declaredSize, ErrSizeMismatch)
		}
	}

	return nil
}

func rebuildLengths(br *bitpack.Reader, out BitWriter, entries uint32) error {
	ordered, err := br.ReadBit()
	if err != nil {
		return err
	}

	if err := out.WriteBits(ordered, 1); err != nil {
		return err
	}

	if ordered != 0 {
		return copyOrderedLengths(br, out, entries)
	}

	lengthWidth, err := br.ReadBits(3)
	if err != nil {
		return err
	}

	if lengthWidth == 0 || lengthWidth > 5 {
		return fmt.Errorf("%d: %w", lengthWidth, ErrBadLengthWidth)
	}

	sparse, err := br.ReadBit()
	if err != nil {
		return err
	}

	if err := out.WriteBits(sparse, 1); err != nil {
		return err
	}

	for i := uint32(0); i < entries; i++ {
		present := true

		if sparse != 0 {
			presentBit, err := br.ReadBit()
			if err != nil {
				return err
			}

			if err := out.WriteBits(presentBit, 1); err != nil {
				return err
			}

			present = presentBit != 0
		}

		if !present {
			continue
		}

		length, err := br.ReadBits(uint(lengthWidth))
		if err != nil {
			return err
		}

		if err := out.WriteBits(length, 5); err != nil {
			return err
		}
	}

	return nil
}

// copyOrderedLengths passes the ordered run-length scheme through; its
// field widths are the same on both sides.
func copyOrderedLengths(br *bitpack.Reader, out BitWriter, entries uint32) error {
	initialLength, err := br.ReadBits(5)
	if err != nil {
		return err
	}

	if err := out.WriteBits(initialLength, 5); err != nil {
		return err
	}

	for current := uint32(0); current < entries; {
		number, err := br.ReadBits(bitpack.ILog(entries - current))
		if err != nil {
			return err
		}

		if err := out.WriteBits(number, bitpack.ILog(entries-current)); err != nil {
			return err
		}

		if number == 0 {
			return fmt.Errorf("empty run at %d: %w", current, ErrEntryOutOfRange)
		}

		current += number

		if current > entries {
			return fmt.Errorf("%d of %d: %w", current, entries, ErrEntryOutOfRange)
		}
	}

	return nil
}

func rebuildLookup(br *bitpack.Reader, out BitWriter, dimensions, entries uint32) error {
	lookupType, err := br.ReadBit()
	if err != nil {
		return err
	}

	if err := out.WriteBits(lookupType, 4); err != nil {
		return err
	}

	if lookupType == 0 {
		return nil
	}

	// The packed form's 1-bit type field can only express lookup 0 or 1;
	// type 2 never occurs packed and is rejected on the canonical side.
	return copyLookup1(br, out, dimensions, entries)
}

// copyLookup1 transfers a type-1 lookup table. Widths are identical on both
// sides; the quantized value count is not stored but re-derived from the
// entry and dimension counts.
func copyLookup1(br *bitpack.Reader, out BitWriter, dimensions, entries uint32) error {
	var valueWidth uint32

	// minimum, delta, value width minus one, sequence flag.
	for _, width := range []uint{32, 32, 4, 1} {
		value, err := br.ReadBits(width)
		if err != nil {
			return err
		}

		if err := out.WriteBits(value, width); err != nil {
			return err
		}

		if width == 4 {
			valueWidth = value + 1
		}
	}

	quantvals := maptype1Quantvals(entries, dimensions)

	for i := uint32(0); i < quantvals; i++ {
		value, err := br.ReadBits(uint(valueWidth))
		if err != nil {
			return err
		}

		if err := out.WriteBits(value, uint(valueWidth)); err != nil {
			return err
		}
	}

	return nil
}

// maptype1Quantvals computes the number of quantized values in a type-1
// lookup table, the libvorbis closed form: the largest v with
// v^dimensions <= entries.
func maptype1Quantvals(entries, dimensions uint32) uint32 {
	if dimensions == 0 {
		return 0
	}

	bits := uint32(bitpack.ILog(entries))
	vals := entries >> ((bits - 1) * (dimensions - 1) / dimensions)

	for {
		acc := uint64(1)
		acc1 := uint64(1)

		for i := uint32(0); i < dimensions; i++ {
			acc *= uint64(vals)
			acc1 *= uint64(vals) + 1
		}

		if acc <= uint64(entries) && acc1 > uint64(entries) {
			return vals
		}

		if acc > uint64(entries) {
			vals--
		} else {
			vals++
		}
	}
}
