package vorbis

import (
	"fmt"

	"github.com/mycophonic/spore/bitpack"
	"github.com/mycophonic/spore/ogg"
	"github.com/mycophonic/spore/wem"
)

// transfer reads an n-bit field from the packed stream and re-emits it at
// the same width. Most setup fields survive unchanged; only counts, types
// and codeword widths differ between the packed and canonical encodings.
func transfer(br *bitpack.Reader, out *ogg.Stream, n uint) (uint32, error) {
	value, err := br.ReadBits(n)
	if err != nil {
		return 0, err
	}

	return value, out.WriteBits(value, n)
}

// rebuildSetupBody re-derives the floor, residue, mapping and mode sections
// from their packed forms, returning the mode table audio reconstruction
// needs.
func rebuildSetupBody(br *bitpack.Reader, out *ogg.Stream, f *wem.File, codebookCount uint32) (*ModeTable, error) {
	floorCount, err := rebuildFloors(br, out, codebookCount)
	if err != nil {
		return nil, fmt.Errorf("floors: %w", err)
	}

	residueCount, err := rebuildResidues(br, out, codebookCount)
	if err != nil {
		return nil, fmt.Errorf("residues: %w", err)
	}

	mappingCount, err := rebuildMappings(br, out, f, floorCount, residueCount)
	if err != nil {
		return nil, fmt.Errorf("mappings: %w", err)
	}

	modes, err := rebuildModes(br, out, mappingCount)
	if err != nil {
		return nil, fmt.Errorf("modes: %w", err)
	}

	if err := out.WriteBits(1, 1); err != nil { // framing
		return nil, err
	}

	return modes, nil
}

// rebuildFloors handles floor type 1, the only type the packed format can
// express; the type field itself is not stored and is emitted as a
// constant.
func rebuildFloors(br *bitpack.Reader, out *ogg.Stream, codebookCount uint32) (uint32, error) {
	floorCountLess1, err := transfer(br, out, 6)
	if err != nil {
		return 0, err
	}

	floorCount := floorCountLess1 + 1

	for i := uint32(0); i < floorCount; i++ {
		if err := out.WriteBits(1, 16); err != nil { // floor type
			return 0, err
		}

		partitions, err := transfer(br, out, 5)
		if err != nil {
			return 0, err
		}

		classList := make([]uint32, partitions)
		maxClass := uint32(0)

		for j := range classList {
			classList[j], err = transfer(br, out, 4)
			if err != nil {
				return 0, err
			}

			if classList[j] > maxClass {
				maxClass = classList[j]
			}
		}

		classDimensions := make([]uint32, maxClass+1)

		for j := range classDimensions {
			dimensionsLess1, err := transfer(br, out, 3)
			if err != nil {
				return 0, err
			}

			classDimensions[j] = dimensionsLess1 + 1

			subclasses, err := transfer(br, out, 2)
			if err != nil {
				return 0, err
			}

			if subclasses != 0 {
				masterbook, err := transfer(br, out, 8)
				if err != nil {
					return 0, err
				}

				if masterbook >= codebookCount {
					return 0, fmt.Errorf("floor %d masterbook %d of %d codebooks: %w", i, masterbook, codebookCount, ErrBadReference)
				}
			}

			for k := uint32(0); k < 1<<subclasses; k++ {
				// Subclass books are stored plus one; zero means unused.
				if _, err := transfer(br, out, 8); err != nil {
					return 0, err
				}
			}
		}

		if _, err := transfer(br, out, 2); err != nil { // multiplier less one
			return 0, err
		}

		rangebits, err := transfer(br, out, 4)
		if err != nil {
			return 0, err
		}

		for _, class := range classList {
			for k := uint32(0); k < classDimensions[class]; k++ {
				if _, err := transfer(br, out, uint(rangebits)); err != nil { // X value
					return 0, err
				}
			}
		}
	}

	return floorCount, nil
}

func rebuildResidues(br *bitpack.Reader, out *ogg.Stream, codebookCount uint32) (uint32, error) {
	residueCountLess1, err := transfer(br, out, 6)
	if err != nil {
		return 0, err
	}

	residueCount := residueCountLess1 + 1

	for i := uint32(0); i < residueCount; i++ {
		// The packed form stores the residue type in 2 bits; canonical uses 16.
		residueType, err := br.ReadBits(2)
		if err != nil {
			return 0, err
		}

		if residueType > 2 {
			return 0, fmt.Errorf("residue %d type %d: %w", i, residueType, ErrBadResidueType)
		}

		if err := out.WriteBits(residueType, 16); err != nil {
			return 0, err
		}

		// begin, end, partition size less one.
		for range 3 {
			if _, err := transfer(br, out, 24); err != nil {
				return 0, err
			}
		}

		classificationsLess1, err := transfer(br, out, 6)
		if err != nil {
			return 0, err
		}

		classifications := classificationsLess1 + 1

		classbook, err := transfer(br, out, 8)
		if err != nil {
			return 0, err
		}

		if classbook >= codebookCount {
			return 0, fmt.Errorf("residue %d classbook %d of %d codebooks: %w", i, classbook, codebookCount, ErrBadReference)
		}

		cascade := make([]uint32, classifications)

		for j := range cascade {
			lowBits, err := transfer(br, out, 3)
			if err != nil {
				return 0, err
			}

			flag, err := transfer(br, out, 1)
			if err != nil {
				return 0, err
			}

			highBits := uint32(0)

			if flag != 0 {
				highBits, err = transfer(br, out, 5)
				if err != nil {
					return 0, err
				}
			}

			cascade[j] = highBits*8 + lowBits
		}

		for _, bits := range cascade {
			for j := uint32(0); j < 8; j++ {
				if bits&(1<<j) == 0 {
					continue
				}

				book, err := transfer(br, out, 8)
				if err != nil {
					return 0, err
				}

				if book >= codebookCount {
					return 0, fmt.Errorf("residue %d book %d of %d codebooks: %w", i, book, codebookCount, ErrBadReference)
				}
			}
		}
	}

	return residueCount, nil
}

// rebuildMappings handles mapping type 0, the only type the packed format
// can express; the type field is emitted as a constant.
func rebuildMappings(br *bitpack.Reader, out *ogg.Stream, f *wem.File, floorCount, residueCount uint32) (uint32, error) {
	mappingCountLess1, err := transfer(br, out, 6)
	if err != nil {
		return 0, err
	}

	mappingCount := mappingCountLess1 + 1
	channels := uint32(f.Channels)

	for i := uint32(0); i < mappingCount; i++ {
		if err := out.WriteBits(0, 16); err != nil { // mapping type
			return 0, err
		}

		submapsFlag, err := transfer(br, out, 1)
		if err != nil {
			return 0, err
		}

		submaps := uint32(1)

		if submapsFlag != 0 {
			submapsLess1, err := transfer(br, out, 4)
			if err != nil {
				return 0, err
			}

			submaps = submapsLess1 + 1
		}

		squarePolar, err := transfer(br, out, 1)
		if err != nil {
			return 0, err
		}

		if squarePolar != 0 {
			couplingStepsLess1, err := transfer(br, out, 8)
			if err != nil {
				return 0, err
			}

			couplingBits := bitpack.ILog(channels - 1)

			for j := uint32(0); j <= couplingStepsLess1; j++ {
				magnitude, err := transfer(br, out, couplingBits)
				if err != nil {
					return 0, err
				}

				angle, err := transfer(br, out, couplingBits)
				if err != nil {
					return 0, err
				}

				if angle == magnitude || magnitude >= channels || angle >= channels {
					return 0, fmt.Errorf("mapping %d coupling %d/%d over %d channels: %w", i, magnitude, angle, channels, ErrBadMapping)
				}
			}
		}

		reserved, err := transfer(br, out, 2)
		if err != nil {
			return 0, err
		}

		if reserved != 0 {
			return 0, fmt.Errorf("mapping %d reserved field %d: %w", i, reserved, ErrBadMapping)
		}

		if submaps > 1 {
			for j := uint32(0); j < channels; j++ {
				mux, err := transfer(br, out, 4)
				if err != nil {
					return 0, err
				}

				if mux >= submaps {
					return 0, fmt.Errorf("mapping %d channel %d mux %d of %d submaps: %w", i, j, mux, submaps, ErrBadReference)
				}
			}
		}

		for j := uint32(0); j < submaps; j++ {
			// Time configuration: discarded by decoders but carried through.
			if _, err := transfer(br, out, 8); err != nil {
				return 0, err
			}

			floorNumber, err := transfer(br, out, 8)
			if err != nil {
				return 0, err
			}

			if floorNumber >= floorCount {
				return 0, fmt.Errorf("mapping %d floor %d of %d: %w", i, floorNumber, floorCount, ErrBadReference)
			}

			residueNumber, err := transfer(br, out, 8)
			if err != nil {
				return 0, err
			}

			if residueNumber >= residueCount {
				return 0, fmt.Errorf("mapping %d residue %d of %d: %w", i, residueNumber, residueCount, ErrBadReference)
			}
		}
	}

	return mappingCount, nil
}

func rebuildModes(br *bitpack.Reader, out *ogg.Stream, mappingCount uint32) (*ModeTable, error) {
	modeCountLess1, err := transfer(br, out, 6)
	if err != nil {
		return nil, err
	}

	modeCount := modeCountLess1 + 1
	modes := &ModeTable{
		BlockFlags: make([]bool, modeCount),
		Bits:       bitpack.ILog(modeCount - 1),
	}

	for i := uint32(0); i < modeCount; i++ {
		blockFlag, err := transfer(br, out, 1)
		if err != nil {
			return nil, err
		}

		modes.BlockFlags[i] = blockFlag != 0

		// Window type and transform type: only type 0 exists.
		if err := out.WriteBits(0, 16); err != nil {
			return nil, err
		}

		if err := out.WriteBits(0, 16); err != nil {
			return nil, err
		}

		mapping, err := transfer(br, out, 8)
		if err != nil {
			return nil, err
		}

		if mapping >= mappingCount {
			return nil, fmt.Errorf("mode %d mapping %d of %d: %w", i, mapping, mappingCount, ErrBadReference)
		}
	}

	return modes, nil
}
