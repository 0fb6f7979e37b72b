// Package wem parses Audiokinetic Wwise RIFF/RIFX audio containers carrying
// packed Vorbis streams. Parsing produces a metadata snapshot (chunk layout,
// format info, packed-Vorbis setup info) that the reconstruction pipeline
// consumes; the audio payload itself stays in the source and is addressed by
// offset.
package wem

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

var (
	ErrNotWwise       = errors.New("not a Wwise RIFF/RIFX file")
	ErrNoFmtChunk     = errors.New("missing fmt chunk")
	ErrNoDataChunk    = errors.New("missing data chunk")
	ErrNoVorbChunk    = errors.New("expected vorb chunk or 0x42 fmt chunk")
	ErrBadCodecID     = errors.New("bad codec id")
	ErrBadFmtChunk    = errors.New("bad fmt chunk")
	ErrBadVorbSize    = errors.New("bad vorb chunk size")
	ErrBadLoopCount   = errors.New("expected one loop")
	ErrLoopOutOfRange = errors.New("loops out of range")
	ErrChunkTruncated = errors.New("chunk header truncated")
)

// codecPackedVorbis is the codec tag Wwise uses for its packed Vorbis
// streams ("compressed, extensible"). Anything else is another codec.
const codecPackedVorbis = 0xFFFF

// extensibleSignature is the subformat GUID Wwise writes in 0x28-byte fmt
// chunks. It is the WAVEFORMATEXTENSIBLE PCM GUID, kept verbatim.
var extensibleSignature = [16]byte{
	0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x10, 0x00,
	0x80, 0x00, 0x00, 0xAA, 0x00, 0x38, 0x9B, 0x71,
}

// Standard-packet sentinels: a 0x2A vorb chunk whose mod-signal field equals
// one of these carries standard Vorbis packet framing; any other value means
// the first audio byte was stripped down to a bare mode index.
func isStandardSignal(signal uint32) bool {
	switch signal {
	case 0x4A, 0x4B, 0x69, 0x70:
		return true
	default:
		return false
	}
}

// Layout records where the recognized chunks sit in the container.
// Offsets are absolute; a chunk that is absent has offset -1.
type Layout struct {
	ByteOrder binary.ByteOrder
	RIFFSize  int64

	FmtOffset, FmtSize   int64
	CueOffset, CueSize   int64
	SmplOffset, SmplSize int64
	VorbOffset, VorbSize int64
	DataOffset, DataSize int64
}

// Format holds the fmt chunk fields.
type Format struct {
	Channels          uint16
	SampleRate        uint32
	AvgBytesPerSecond uint32
	ExtUnknown        uint16
	Subtype           uint32
}

// Setup holds the packed-Vorbis setup info from the vorb chunk (or its
// embedded equivalent inside a 0x42 fmt chunk).
type Setup struct {
	SampleCount            uint32
	SetupPacketOffset      uint32 // relative to the data chunk
	FirstAudioPacketOffset uint32 // relative to the data chunk
	UID                    uint32
	Blocksize0Pow          uint8
	Blocksize1Pow          uint8

	// Format revision flags, derived from the vorb chunk size.
	NoGranule        bool // packet headers omit the granule field
	ModPackets       bool // first audio byte is stripped to a mode index
	OldPacketHeaders bool // 8-byte packet framing
	HeaderTriad      bool // full Vorbis header packets stored verbatim
}

// Loop holds the smpl chunk loop region, already adjusted to half-open
// sample counts. Count is zero when no smpl chunk is present.
type Loop struct {
	Count uint32
	Start uint32
	End   uint32
}

// File is the parse result for one container.
type File struct {
	Layout
	Format
	Setup
	Loop

	CuePointCount uint32

	// Prefetch is set when the data chunk's declared size ran past the end
	// of the file and was clamped.
	Prefetch bool
}

// Parse reads the container metadata from rs. It runs once at open time;
// the audio payload is not touched beyond the chunk walk.
func Parse(rs io.ReadSeeker) (*File, error) {
	fileSize, err := rs.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, fmt.Errorf("sizing input: %w", err)
	}

	f := &File{}
	f.FmtOffset, f.CueOffset, f.SmplOffset, f.VorbOffset, f.DataOffset = -1, -1, -1, -1, -1

	if err := f.parseChunks(rs, fileSize); err != nil {
		return nil, err
	}

	if f.FmtOffset == -1 {
		return nil, ErrNoFmtChunk
	}

	if f.DataOffset == -1 {
		return nil, ErrNoDataChunk
	}

	// A 0x42 fmt chunk embeds the vorb chunk at offset 0x18.
	implicitVorb := false

	if f.VorbOffset == -1 {
		if f.FmtSize != 0x42 {
			return nil, ErrNoVorbChunk
		}

		f.VorbOffset = f.FmtOffset + 0x18
		f.VorbSize = -1
		implicitVorb = true
	}

	if !implicitVorb {
		switch f.VorbSize {
		case 0x28, 0x2A, 0x2C, 0x32, 0x34:
		default:
			return nil, fmt.Errorf("0x%X: %w", f.VorbSize, ErrBadVorbSize)
		}
	}

	if err := f.parseFmt(rs); err != nil {
		return nil, err
	}

	if f.CueOffset != -1 {
		if err := f.parseCue(rs); err != nil {
			return nil, err
		}
	}

	if f.SmplOffset != -1 {
		if err := f.parseSmpl(rs); err != nil {
			return nil, err
		}
	}

	// Prefetch files declare more data than the file holds: clamp, and
	// remember the declared size so the sample count can be rescaled.
	declaredDataSize := f.DataSize
	if f.DataOffset+f.DataSize > fileSize {
		f.DataSize = fileSize - f.DataOffset
		f.Prefetch = true
	}

	if err := f.parseVorb(rs, implicitVorb); err != nil {
		return nil, err
	}

	if f.Prefetch && declaredDataSize > 0 {
		f.SampleCount = uint32(uint64(f.SampleCount) * uint64(f.DataSize) / uint64(declaredDataSize))
	}

	if err := f.validateLoop(); err != nil {
		return nil, err
	}

	return f, nil
}

func (f *File) parseChunks(rs io.ReadSeeker, fileSize int64) error {
	var riffHeader [12]byte
	if err := readAt(rs, 0, riffHeader[:]); err != nil {
		return fmt.Errorf("reading RIFF header: %w", err)
	}

	switch string(riffHeader[0:4]) {
	case "RIFF":
		f.ByteOrder = binary.LittleEndian
	case "RIFX":
		f.ByteOrder = binary.BigEndian
	default:
		return ErrNotWwise
	}

	if string(riffHeader[8:12]) != "WAVE" {
		return ErrNotWwise
	}

	f.RIFFSize = int64(f.ByteOrder.Uint32(riffHeader[4:8])) + 8

	limit := min(f.RIFFSize, fileSize)

	// Walk sibling chunks by (id, size). Sizes are taken as exact; the
	// packer applies no word-alignment padding.
	for chunkOffset := int64(12); chunkOffset < limit; {
		if chunkOffset+8 > limit {
			return ErrChunkTruncated
		}

		var chunkHeader [8]byte
		if err := readAt(rs, chunkOffset, chunkHeader[:]); err != nil {
			return fmt.Errorf("reading chunk header: %w", err)
		}

		chunkID := string(chunkHeader[0:4])
		chunkSize := int64(f.ByteOrder.Uint32(chunkHeader[4:8]))

		switch chunkID {
		case "fmt ":
			f.FmtOffset, f.FmtSize = chunkOffset+8, chunkSize
		case "cue ":
			f.CueOffset, f.CueSize = chunkOffset+8, chunkSize
		case "smpl":
			f.SmplOffset, f.SmplSize = chunkOffset+8, chunkSize
		case "vorb":
			f.VorbOffset, f.VorbSize = chunkOffset+8, chunkSize
		case "data":
			f.DataOffset, f.DataSize = chunkOffset+8, chunkSize
		default:
			// Unknown chunks (LIST, akd , ...) are skipped.
		}

		chunkOffset += 8 + chunkSize
	}

	return nil
}

func (f *File) parseFmt(rs io.ReadSeeker) error {
	switch f.FmtSize {
	case 0x12, 0x18, 0x28, 0x42:
	default:
		return fmt.Errorf("size 0x%X: %w", f.FmtSize, ErrBadFmtChunk)
	}

	buf := make([]byte, f.FmtSize)
	if err := readAt(rs, f.FmtOffset, buf); err != nil {
		return fmt.Errorf("reading fmt chunk: %w", err)
	}

	if f.ByteOrder.Uint16(buf[0:2]) != codecPackedVorbis {
		return fmt.Errorf("0x%04X: %w", f.ByteOrder.Uint16(buf[0:2]), ErrBadCodecID)
	}

	f.Channels = f.ByteOrder.Uint16(buf[2:4])
	f.SampleRate = f.ByteOrder.Uint32(buf[4:8])
	f.AvgBytesPerSecond = f.ByteOrder.Uint32(buf[8:12])

	if f.ByteOrder.Uint16(buf[12:14]) != 0 {
		return fmt.Errorf("%w: bad block align", ErrBadFmtChunk)
	}

	if f.ByteOrder.Uint16(buf[14:16]) != 0 {
		return fmt.Errorf("%w: expected 0 bps", ErrBadFmtChunk)
	}

	if int64(f.ByteOrder.Uint16(buf[16:18])) != f.FmtSize-0x12 {
		return fmt.Errorf("%w: bad extra fmt length", ErrBadFmtChunk)
	}

	if f.FmtSize-0x12 >= 2 {
		f.ExtUnknown = f.ByteOrder.Uint16(buf[18:20])

		if f.FmtSize-0x12 >= 6 {
			f.Subtype = f.ByteOrder.Uint32(buf[20:24])
		}
	}

	if f.FmtSize == 0x28 {
		var signature [16]byte

		copy(signature[:], buf[24:40])

		if signature != extensibleSignature {
			return fmt.Errorf("%w: bad extensible signature", ErrBadFmtChunk)
		}
	}

	return nil
}

func (f *File) parseCue(rs io.ReadSeeker) error {
	var buf [4]byte
	if err := readAt(rs, f.CueOffset, buf[:]); err != nil {
		return fmt.Errorf("reading cue chunk: %w", err)
	}

	f.CuePointCount = f.ByteOrder.Uint32(buf[:])

	return nil
}

func (f *File) parseSmpl(rs io.ReadSeeker) error {
	var buf [4]byte
	if err := readAt(rs, f.SmplOffset+0x1C, buf[:]); err != nil {
		return fmt.Errorf("reading smpl chunk: %w", err)
	}

	f.Loop.Count = f.ByteOrder.Uint32(buf[:])

	if f.Loop.Count != 1 {
		return fmt.Errorf("%d: %w", f.Loop.Count, ErrBadLoopCount)
	}

	var loop [8]byte
	if err := readAt(rs, f.SmplOffset+0x2C, loop[:]); err != nil {
		return fmt.Errorf("reading smpl loop: %w", err)
	}

	f.Loop.Start = f.ByteOrder.Uint32(loop[0:4])
	f.Loop.End = f.ByteOrder.Uint32(loop[4:8])

	return nil
}

func (f *File) parseVorb(rs io.ReadSeeker, implicit bool) error {
	size := f.VorbSize
	if implicit {
		size = 0x2A
	}

	buf := make([]byte, size)
	if err := readAt(rs, f.VorbOffset, buf); err != nil {
		return fmt.Errorf("reading vorb chunk: %w", err)
	}

	f.SampleCount = f.ByteOrder.Uint32(buf[0:4])

	offsetsAt := int64(0x18)

	if size == 0x2A {
		f.NoGranule = true

		signal := f.ByteOrder.Uint32(buf[4:8])
		if !isStandardSignal(signal) {
			f.ModPackets = true
		}

		offsetsAt = 0x10
	}

	f.SetupPacketOffset = f.ByteOrder.Uint32(buf[offsetsAt : offsetsAt+4])
	f.FirstAudioPacketOffset = f.ByteOrder.Uint32(buf[offsetsAt+4 : offsetsAt+8])

	switch size {
	case 0x2A:
		f.readUIDBlocksizes(buf, 0x24)
	case 0x32, 0x34:
		f.readUIDBlocksizes(buf, 0x2C)
	case 0x28, 0x2C:
		// The oldest revisions: standard framing, header packets stored
		// verbatim, uid and blocksizes not recorded.
		f.HeaderTriad = true
		f.OldPacketHeaders = true
	}

	return nil
}

func (f *File) readUIDBlocksizes(buf []byte, at int64) {
	f.UID = f.ByteOrder.Uint32(buf[at : at+4])
	f.Blocksize0Pow = buf[at+4]
	f.Blocksize1Pow = buf[at+5]
}

func (f *File) validateLoop() error {
	if f.Loop.Count == 0 {
		return nil
	}

	// The stored end is inclusive; zero means "to end of stream".
	if f.Loop.End == 0 {
		f.Loop.End = f.SampleCount
	} else {
		f.Loop.End++
	}

	if f.Loop.Start > f.Loop.End || f.Loop.End > f.SampleCount {
		return fmt.Errorf("start %d end %d samples %d: %w",
			f.Loop.Start, f.Loop.End, f.SampleCount, ErrLoopOutOfRange)
	}

	return nil
}

func readAt(rs io.ReadSeeker, offset int64, buf []byte) error {
	if _, err := rs.Seek(offset, io.SeekStart); err != nil {
		return err
	}

	if _, err := io.ReadFull(rs, buf); err != nil {
		return err
	}

	return nil
}
