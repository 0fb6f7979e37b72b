package testutils

import (
	"bytes"
	"encoding/binary"

	"github.com/mycophonic/spore/bitpack"
)

// Synthetic Wwise containers for black-box tests: a minimal mono 48 kHz
// stream of 128 silent samples, small enough to verify every layer of the
// conversion by decoding the result.

type field struct {
	value uint32
	width uint
}

func packBits(fields []field) []byte {
	var buf bytes.Buffer

	w := bitpack.NewWriter(&buf)

	for _, f := range fields {
		// The in-memory writer cannot fail.
		_ = w.WriteBits(f.value, f.width)
	}

	_ = w.Flush()

	return buf.Bytes()
}

func scalarCodebook() []field {
	return []field{
		{1, 4},  // dimensions
		{2, 14}, // entries
		{0, 1},  // not ordered
		{3, 3},  // codeword length width
		{0, 1},  // not sparse
		{0, 3},  // entry 0 length less one
		{0, 3},  // entry 1 length less one
		{0, 1}, // no lookup table
	}
}

func setupBody() []field {
	return []field{
		{0, 6}, {1, 5}, {0, 4}, // one floor, one partition of class 0
		{0, 3}, {0, 2}, {0, 8}, // class 0: one dimension, no subclass book
		{0, 2}, {1, 4}, {1, 1}, // multiplier 1, rangebits 1, X value 1
		{0, 6}, {2, 2}, // one residue, type 2
		{0, 24}, {8, 24}, {7, 24}, // begin 0, end 8, partition size 8
		{1, 6}, {0, 8}, // two classifications over codebook 0
		{0, 3}, {0, 1}, {0, 3}, {0, 1}, // empty cascades
		{0, 6}, {0, 1}, {0, 1}, {0, 2}, // one mapping, one submap, no coupling
		{0, 8}, {0, 8}, {0, 8}, // submap 0: floor 0, residue 0
		{0, 6}, {0, 1}, {0, 8}, // one short-window mode over mapping 0
	}
}

func buildContainer(chunks ...[2][]byte) []byte {
	var body []byte

	for _, c := range chunks {
		header := make([]byte, 8)
		copy(header[0:4], c[0])
		binary.LittleEndian.PutUint32(header[4:8], uint32(len(c[1])))

		body = append(body, header...)
		body = append(body, c[1]...)
	}

	blob := make([]byte, 12)
	copy(blob[0:4], "RIFF")
	binary.LittleEndian.PutUint32(blob[4:8], uint32(4+len(body)))
	copy(blob[8:12], "WAVE")

	return append(blob, body...)
}

func fmtChunk() []byte {
	b := make([]byte, 0x18)
	binary.LittleEndian.PutUint16(b[0:2], 0xFFFF) // codec
	binary.LittleEndian.PutUint16(b[2:4], 1)      // channels
	binary.LittleEndian.PutUint32(b[4:8], 48000)  // sample rate
	binary.LittleEndian.PutUint32(b[8:12], 6000)  // avg bytes per second
	binary.LittleEndian.PutUint16(b[16:18], 6)    // extra length

	return b
}

func packet6(payload []byte, granule uint32) []byte {
	b := make([]byte, 6, 6+len(payload))
	binary.LittleEndian.PutUint16(b[0:2], uint16(len(payload)))
	binary.LittleEndian.PutUint32(b[2:6], granule)

	return append(b, payload...)
}

// SyntheticWwise builds a complete Wwise container in the 0x34 vorb revision
// with an inline packed codebook. Convert it with inline codebooks enabled;
// the result decodes to 128 silent mono samples at 48 kHz.
func SyntheticWwise() []byte {
	fields := []field{{0, 8}}
	fields = append(fields, scalarCodebook()...)
	fields = append(fields, setupBody()...)

	return assemble(packBits(fields))
}

// SyntheticWwiseBankRef is SyntheticWwise with the codebook stored as a
// 10-bit bank reference instead of inline; pair it with SyntheticBank.
func SyntheticWwiseBankRef() []byte {
	fields := []field{{0, 8}, {0, 10}}
	fields = append(fields, setupBody()...)

	return assemble(packBits(fields))
}

// SyntheticBank builds a codebook bank holding the single codebook
// SyntheticWwiseBankRef references as id 0.
func SyntheticBank() []byte {
	entry := append(packBits(scalarCodebook()), 0) // trailing marker byte

	blob := append([]byte{}, entry...)
	blob = binary.LittleEndian.AppendUint32(blob, 0)
	blob = binary.LittleEndian.AppendUint32(blob, uint32(len(entry)))

	return blob
}

func assemble(setup []byte) []byte {
	var data []byte
	data = append(data, packet6(setup, 0)...)

	firstAudio := len(data)
	data = append(data, packet6([]byte{0x00}, 0)...)
	data = append(data, packet6([]byte{0x00}, 128)...)

	vorb := make([]byte, 0x34)
	binary.LittleEndian.PutUint32(vorb[0:4], 128) // sample count
	binary.LittleEndian.PutUint32(vorb[0x18:0x1C], 0)
	binary.LittleEndian.PutUint32(vorb[0x1C:0x20], uint32(firstAudio))
	vorb[0x30] = 8 // blocksize exponents
	vorb[0x31] = 8

	return buildContainer(
		[2][]byte{[]byte("fmt "), fmtChunk()},
		[2][]byte{[]byte("vorb"), vorb},
		[2][]byte{[]byte("data"), data},
	)
}
