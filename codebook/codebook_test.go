package codebook_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/mycophonic/spore/bitpack"
	"github.com/mycophonic/spore/codebook"
)

type field struct {
	value uint32
	width uint
}

// packBits assembles an LSB-first bit sequence and returns the padded bytes.
func packBits(t *testing.T, fields []field) []byte {
	t.Helper()

	var buf bytes.Buffer

	w := bitpack.NewWriter(&buf)

	for _, f := range fields {
		if err := w.WriteBits(f.value, f.width); err != nil {
			t.Fatalf("packing: %v", err)
		}
	}

	if err := w.Flush(); err != nil {
		t.Fatalf("packing: %v", err)
	}

	return buf.Bytes()
}

// packedEntry builds a bank entry: the bitpacked payload plus the trailing
// marker byte the bank format carries per codebook.
func packedEntry(t *testing.T, fields []field) []byte {
	t.Helper()

	return append(packBits(t, fields), 0)
}

// buildBank assembles a bank blob from packed entries: concatenated data,
// an offset table, and the trailing pointer to the table.
func buildBank(entries ...[]byte) []byte {
	var blob []byte

	offsets := make([]uint32, 0, len(entries))

	for _, e := range entries {
		offsets = append(offsets, uint32(len(blob)))
		blob = append(blob, e...)
	}

	tableOffset := uint32(len(blob))

	for _, off := range offsets {
		blob = binary.LittleEndian.AppendUint32(blob, off)
	}

	return binary.LittleEndian.AppendUint32(blob, tableOffset)
}

// scalarCodebook is the smallest useful packed codebook: one dimension, two
// entries with one-bit codewords, no lookup table.
func scalarCodebook(t *testing.T) []byte {
	t.Helper()

	return packedEntry(t, []field{
		{1, 4},  // dimensions
		{2, 14}, // entries
		{0, 1},  // not ordered
		{3, 3},  // codeword length width
		{0, 1},  // not sparse
		{0, 3},  // length of entry 0, stored less one
		{0, 3},  // length of entry 1, stored less one
		{0, 1},  // no lookup table
	})
}

func expectFields(t *testing.T, r *bitpack.Reader, fields []field) {
	t.Helper()

	for i, f := range fields {
		got, err := r.ReadBits(f.width)
		if err != nil {
			t.Fatalf("field %d: %v", i, err)
		}

		if got != f.value {
			t.Errorf("field %d: got 0x%X, want 0x%X", i, got, f.value)
		}
	}
}

func TestRebuildScalar(t *testing.T) {
	t.Parallel()

	packed := scalarCodebook(t)

	var buf bytes.Buffer

	out := bitpack.NewWriter(&buf)

	br := bitpack.NewReader(bytes.NewReader(packed))
	if err := codebook.Rebuild(br, uint32(len(packed)), out); err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	if err := out.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	expectFields(t, bitpack.NewReader(bytes.NewReader(buf.Bytes())), []field{
		{0x564342, 24}, // sync pattern
		{1, 16},        // dimensions
		{2, 24},        // entries
		{0, 1},         // not ordered
		{0, 1},         // not sparse
		{0, 5},         // length of entry 0, stored less one
		{0, 5},         // length of entry 1, stored less one
		{0, 4},         // no lookup table
	})
}

func TestRebuildOrdered(t *testing.T) {
	t.Parallel()

	packed := packedEntry(t, []field{
		{1, 4},  // dimensions
		{4, 14}, // entries
		{1, 1},  // ordered
		{2, 5},  // initial length
		{4, 3},  // run covers all four entries, ilog(4) bits
		{0, 1},  // no lookup table
	})

	var buf bytes.Buffer

	out := bitpack.NewWriter(&buf)

	br := bitpack.NewReader(bytes.NewReader(packed))
	if err := codebook.Rebuild(br, uint32(len(packed)), out); err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	if err := out.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	expectFields(t, bitpack.NewReader(bytes.NewReader(buf.Bytes())), []field{
		{0x564342, 24},
		{1, 16},
		{4, 24},
		{1, 1}, // ordered
		{2, 5}, // initial length
		{4, 3}, // run length
		{0, 4},
	})
}

func TestRebuildSparse(t *testing.T) {
	t.Parallel()

	packed := packedEntry(t, []field{
		{1, 4},  // dimensions
		{3, 14}, // entries
		{0, 1},  // not ordered
		{2, 3},  // codeword length width
		{1, 1},  // sparse
		{1, 1},  // entry 0 present
		{1, 2},  // length of entry 0
		{0, 1},  // entry 1 absent
		{1, 1},  // entry 2 present
		{2, 2},  // length of entry 2
		{0, 1},  // no lookup table
	})

	var buf bytes.Buffer

	out := bitpack.NewWriter(&buf)

	br := bitpack.NewReader(bytes.NewReader(packed))
	if err := codebook.Rebuild(br, uint32(len(packed)), out); err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	if err := out.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	expectFields(t, bitpack.NewReader(bytes.NewReader(buf.Bytes())), []field{
		{0x564342, 24},
		{1, 16},
		{3, 24},
		{0, 1}, // not ordered
		{1, 1}, // sparse
		{1, 1},
		{1, 5},
		{0, 1},
		{1, 1},
		{2, 5},
		{0, 4},
	})
}

func TestRebuildLookup1(t *testing.T) {
	t.Parallel()

	// Two dimensions over four entries yields two quantized values.
	packed := packedEntry(t, []field{
		{2, 4},     // dimensions
		{4, 14},    // entries
		{0, 1},     // not ordered
		{2, 3},     // codeword length width
		{0, 1},     // not sparse
		{2, 2},     // lengths
		{2, 2},
		{2, 2},
		{2, 2},
		{1, 1},     // lookup table present
		{0x80, 32}, // minimum value
		{0x40, 32}, // delta value
		{2, 4},     // value width minus one
		{0, 1},     // sequence flag
		{5, 3},     // quantized value 0
		{3, 3},     // quantized value 1
	})

	var buf bytes.Buffer

	out := bitpack.NewWriter(&buf)

	br := bitpack.NewReader(bytes.NewReader(packed))
	if err := codebook.Rebuild(br, uint32(len(packed)), out); err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	if err := out.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	expectFields(t, bitpack.NewReader(bytes.NewReader(buf.Bytes())), []field{
		{0x564342, 24},
		{2, 16},
		{4, 24},
		{0, 1},
		{0, 1},
		{2, 5},
		{2, 5},
		{2, 5},
		{2, 5},
		{1, 4}, // lookup type 1
		{0x80, 32},
		{0x40, 32},
		{2, 4},
		{0, 1},
		{5, 3},
		{3, 3},
	})
}

func TestRebuildBadLengthWidth(t *testing.T) {
	t.Parallel()

	for _, width := range []uint32{0, 6} {
		packed := packBits(t, []field{
			{1, 4},
			{2, 14},
			{0, 1},
			{width, 3},
		})

		br := bitpack.NewReader(bytes.NewReader(packed))

		err := codebook.Rebuild(br, 0, bitpack.NewWriter(&bytes.Buffer{}))
		if !errors.Is(err, codebook.ErrBadLengthWidth) {
			t.Errorf("width %d: got %v, want ErrBadLengthWidth", width, err)
		}
	}
}

func TestRebuildOrderedOverrun(t *testing.T) {
	t.Parallel()

	packed := packBits(t, []field{
		{1, 4},
		{3, 14}, // entries
		{1, 1},  // ordered
		{1, 5},  // initial length
		{0, 2},  // empty run, ilog(3) bits
	})

	br := bitpack.NewReader(bytes.NewReader(packed))

	err := codebook.Rebuild(br, 0, bitpack.NewWriter(&bytes.Buffer{}))
	if !errors.Is(err, codebook.ErrEntryOutOfRange) {
		t.Errorf("got %v, want ErrEntryOutOfRange", err)
	}
}

func TestLibraryRebuild(t *testing.T) {
	t.Parallel()

	lib, err := codebook.New(buildBank(scalarCodebook(t), scalarCodebook(t)))
	if err != nil {
		t.Fatalf("parsing bank: %v", err)
	}

	if lib.Count() != 2 {
		t.Fatalf("count: got %d, want 2", lib.Count())
	}

	var buf bytes.Buffer

	out := bitpack.NewWriter(&buf)

	if err := lib.Rebuild(1, out); err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	if err := out.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	if len(buf.Bytes()) == 0 {
		t.Error("rebuild produced no output")
	}
}

func TestLibraryUnknownID(t *testing.T) {
	t.Parallel()

	lib, err := codebook.New(buildBank(scalarCodebook(t)))
	if err != nil {
		t.Fatalf("parsing bank: %v", err)
	}

	if _, err := lib.Codebook(1); !errors.Is(err, codebook.ErrUnknownID) {
		t.Errorf("index 1: got %v, want ErrUnknownID", err)
	}

	if _, err := lib.Codebook(-1); !errors.Is(err, codebook.ErrUnknownID) {
		t.Errorf("index -1: got %v, want ErrUnknownID", err)
	}
}

func TestLibrarySizeMismatch(t *testing.T) {
	t.Parallel()

	// Pad the entry so its declared size disagrees with the bits parsed.
	entry := append(scalarCodebook(t), 0, 0)

	lib, err := codebook.New(buildBank(entry))
	if err != nil {
		t.Fatalf("parsing bank: %v", err)
	}

	err = lib.Rebuild(0, bitpack.NewWriter(&bytes.Buffer{}))
	if !errors.Is(err, codebook.ErrSizeMismatch) {
		t.Errorf("got %v, want ErrSizeMismatch", err)
	}
}

func TestLibraryBadBank(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		blob []byte
	}{
		{"too short", []byte{0x01, 0x02}},
		{"pointer past end", binary.LittleEndian.AppendUint32(nil, 100)},
		{"misaligned table", append([]byte{0, 0, 0}, binary.LittleEndian.AppendUint32(nil, 0)...)},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()

			if _, err := codebook.New(c.blob); !errors.Is(err, codebook.ErrBadBank) {
				t.Errorf("got %v, want ErrBadBank", err)
			}
		})
	}
}

func TestCopyRoundTrip(t *testing.T) {
	t.Parallel()

	canonical := []field{
		{0x564342, 24},
		{1, 16},
		{2, 24},
		{0, 1}, // not ordered
		{0, 1}, // not sparse
		{1, 5},
		{1, 5},
		{0, 4}, // no lookup table
	}

	packed := packBits(t, canonical)

	var buf bytes.Buffer

	out := bitpack.NewWriter(&buf)

	br := bitpack.NewReader(bytes.NewReader(packed))
	if err := codebook.Copy(br, out); err != nil {
		t.Fatalf("copy: %v", err)
	}

	if err := out.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	if !bytes.Equal(buf.Bytes(), packed) {
		t.Errorf("copy altered the codebook:\ngot  % X\nwant % X", buf.Bytes(), packed)
	}
}

func TestCopyBadIdentifier(t *testing.T) {
	t.Parallel()

	packed := packBits(t, []field{{0x123456, 24}})

	br := bitpack.NewReader(bytes.NewReader(packed))

	err := codebook.Copy(br, bitpack.NewWriter(&bytes.Buffer{}))
	if !errors.Is(err, codebook.ErrBadIdentifier) {
		t.Errorf("got %v, want ErrBadIdentifier", err)
	}
}

func TestCopyUnsupportedLookup(t *testing.T) {
	t.Parallel()

	packed := packBits(t, []field{
		{0x564342, 24},
		{1, 16},
		{1, 24},
		{0, 1}, // not ordered
		{0, 1}, // not sparse
		{1, 5},
		{2, 4}, // lookup type 2
	})

	br := bitpack.NewReader(bytes.NewReader(packed))

	err := codebook.Copy(br, bitpack.NewWriter(&bytes.Buffer{}))
	if !errors.Is(err, codebook.ErrUnsupportedLookup) {
		t.Errorf("got %v, want ErrUnsupportedLookup", err)
	}
}
