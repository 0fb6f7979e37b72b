package codebook

import (
	"fmt"

	"github.com/mycophonic/spore/bitpack"
)

// Copy streams one canonical codebook from br to out unchanged. It is used
// when a stream's setup packet embeds full, non-packed codebooks; the parse
// exists only to know how many bits belong to the codebook.
func Copy(br *bitpack.Reader, out BitWriter) error {
	identifier, err := br.ReadBits(24)
	if err != nil {
		return err
	}

	if identifier != syncPattern {
		return fmt.Errorf("0x%06X: %w", identifier, ErrBadIdentifier)
	}

	dimensions, err := br.ReadBits(16)
	if err != nil {
		return err
	}

	entries, err := br.ReadBits(24)
	if err != nil {
		return err
	}

	if err := out.WriteBits(identifier, 24); err != nil {
		return err
	}

	if err := out.WriteBits(dimensions, 16); err != nil {
		return err
	}

	if err := out.WriteBits(entries, 24); err != nil {
		return err
	}

	if err := copyCanonicalLengths(br, out, entries); err != nil {
		return err
	}

	lookupType, err := br.ReadBits(4)
	if err != nil {
		return err
	}

	if err := out.WriteBits(lookupType, 4); err != nil {
		return err
	}

	switch lookupType {
	case 0:
		return nil
	case 1:
		return copyLookup1(br, out, dimensions, entries)
	default:
		return fmt.Errorf("type %d: %w", lookupType, ErrUnsupportedLookup)
	}
}

func copyCanonicalLengths(br *bitpack.Reader, out BitWriter, entries uint32) error {
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

	sparse, err := br.ReadBit()
	if err != nil {
		return err
	}

	if err := out.WriteBits(sparse, 1); err != nil {
		return err
	}

	for i := uint32(0); i < entries; i++ {
		if sparse != 0 {
			presentBit, err := br.ReadBit()
			if err != nil {
				return err
			}

			if err := out.WriteBits(presentBit, 1); err != nil {
				return err
			}

			if presentBit == 0 {
				continue
			}
		}

		length, err := br.ReadBits(5)
		if err != nil {
			return err
		}

		if err := out.WriteBits(length, 5); err != nil {
			return err
		}
	}

	return nil
}
