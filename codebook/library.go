// Package codebook rebuilds packed Vorbis codebooks into their canonical
// encoding. Packed codebooks come either from an external bank shared by
// many streams (addressed by index) or inline from a stream's own setup
// packet.
package codebook

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/mycophonic/spore/bitpack"
)

var (
	ErrUnknownID         = errors.New("unknown codebook id")
	ErrSizeMismatch      = errors.New("codebook size mismatch")
	ErrBadBank           = errors.New("malformed codebook bank")
	ErrBadIdentifier     = errors.New("invalid codebook identifier")
	ErrBadLengthWidth    = errors.New("nonsense codeword length width")
	ErrEntryOutOfRange   = errors.New("ordered entry count out of range")
	ErrUnsupportedLookup = errors.New("unsupported codebook lookup type")
)

// syncPattern is the canonical codebook identifier ("BCV" packed LSB-first).
const syncPattern = 0x564342

// BitWriter is the output surface a codebook is re-emitted to. Both
// bitpack.Writer and the Ogg packet writer satisfy it.
type BitWriter interface {
	WriteBits(value uint32, n uint) error
}

// Library is an immutable bank of packed codebooks addressed by a dense
// index. It is loaded once and may be shared by concurrent conversions.
type Library struct {
	data    []byte
	offsets []uint32
}

// New parses a codebook bank blob: concatenated packed codebooks, a table
// of 4-byte little-endian offsets into the data region, and a final 4-byte
// little-endian pointer to where that table begins. The table's own start
// offset doubles as the end-of-data sentinel.
func New(blob []byte) (*Library, error) {
	if len(blob) < 4 {
		return nil, fmt.Errorf("%w: %d bytes", ErrBadBank, len(blob))
	}

	tableOffset := binary.LittleEndian.Uint32(blob[len(blob)-4:])
	if int64(tableOffset) > int64(len(blob)-4) || (len(blob)-int(tableOffset))%4 != 0 {
		return nil, fmt.Errorf("%w: bad offset table pointer", ErrBadBank)
	}

	entryCount := (len(blob) - int(tableOffset)) / 4
	offsets := make([]uint32, entryCount)

	for i := range offsets {
		offsets[i] = binary.LittleEndian.Uint32(blob[int(tableOffset)+i*4:])

		if offsets[i] > tableOffset || (i > 0 && offsets[i] < offsets[i-1]) {
			return nil, fmt.Errorf("%w: bad offset table entry %d", ErrBadBank, i)
		}
	}

	return &Library{data: blob, offsets: offsets}, nil
}

//nolint:gochecknoglobals // Process-wide cache; banks are immutable once loaded.
var (
	cacheMu sync.Mutex
	cache   = map[string]*Library{}
)

// Load reads a codebook bank from path. Banks are cached per path for the
// remainder of the process; the two tuning presets are simply two files.
func Load(path string) (*Library, error) {
	cacheMu.Lock()
	defer cacheMu.Unlock()

	if lib, ok := cache[path]; ok {
		return lib, nil
	}

	blob, err := os.ReadFile(path) //nolint:gosec // Bank path is caller-chosen configuration.
	if err != nil {
		return nil, fmt.Errorf("reading codebook bank: %w", err)
	}

	lib, err := New(blob)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	cache[path] = lib

	return lib, nil
}

// Count returns the number of codebooks in the bank.
func (l *Library) Count() int {
	if len(l.offsets) == 0 {
		return 0
	}

	return len(l.offsets) - 1
}

// Codebook returns the packed byte range for index i.
func (l *Library) Codebook(i int) ([]byte, error) {
	if i < 0 || i >= l.Count() {
		return nil, fmt.Errorf("0x%X: %w", i, ErrUnknownID)
	}

	return l.data[l.offsets[i]:l.offsets[i+1]], nil
}

// Rebuild looks codebook i up in the bank and re-emits it in canonical
// encoding. The packed entry's byte length is checked against the bits
// actually consumed; a mismatch almost always means the wrong bank preset
// was selected.
func (l *Library) Rebuild(i int, out BitWriter) error {
	packed, err := l.Codebook(i)
	if err != nil {
		return err
	}

	br := bitpack.NewReader(bytes.NewReader(packed))
	if err := Rebuild(br, uint32(len(packed)), out); err != nil {
		return fmt.Errorf("codebook 0x%X: %w", i, err)
	}

	return nil
}
