// Package vorbis synthesizes standard Vorbis header packets from the packed
// setup representation Wwise stores, and reconstructs the audio packets that
// follow. Header synthesis must run first: it produces the mode table that
// audio packet reconstruction depends on.
package vorbis

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/mycophonic/spore/bitpack"
	"github.com/mycophonic/spore/codebook"
	"github.com/mycophonic/spore/ogg"
	"github.com/mycophonic/spore/version"
	"github.com/mycophonic/spore/wem"
)

var (
	ErrNoLibrary      = errors.New("no codebook bank supplied")
	ErrBadReference   = errors.New("reference out of range")
	ErrBadPacketType  = errors.New("unexpected header packet type")
	ErrBadResidueType = errors.New("unsupported residue type")
	ErrBadMapping     = errors.New("invalid mapping")
	ErrSetupMismatch  = errors.New("first audio packet does not follow setup packet")
	ErrNoModeTable    = errors.New("mode table not loaded")
)

// PacketFormat overrides audio packet framing detection when the container's
// declared flags are known-wrong for a given producer.
type PacketFormat uint8

const (
	// PacketFormatAuto trusts the container's mod-packets detection.
	PacketFormatAuto PacketFormat = iota
	// PacketFormatModified forces stripped first-byte framing.
	PacketFormatModified
	// PacketFormatStandard forces standard Vorbis framing.
	PacketFormatStandard
)

// Options select how the setup packet's codebooks are sourced and whether
// packet framing detection is overridden.
type Options struct {
	// InlineCodebooks: the setup packet carries packed codebook bodies
	// directly instead of 10-bit bank references.
	InlineCodebooks bool
	// FullSetup: the setup packet is a complete canonical setup header and
	// is copied through after the codebooks.
	FullSetup bool

	PacketFormat PacketFormat
}

// ModeTable is the side output of header synthesis: which transform window
// each mode selects, and the bit width of a mode index in audio packets.
// Read-only once built.
type ModeTable struct {
	BlockFlags []bool
	Bits       uint
}

const packedVorbisHeaderTag = "vorbis"

// WriteHeaders synthesizes the identification, comment and setup packets
// onto out, each terminated on its own page with granule zero. The returned
// ModeTable is nil only for streams whose headers are stored verbatim
// (header triad) or copied as a full setup, where modes are never parsed.
func WriteHeaders(rs io.ReadSeeker, f *wem.File, lib *codebook.Library, out *ogg.Stream, opts Options) (*ModeTable, error) {
	if f.HeaderTriad {
		return nil, copyHeaderTriad(rs, f, out)
	}

	if err := writeIdentification(f, out); err != nil {
		return nil, fmt.Errorf("identification packet: %w", err)
	}

	if err := writeComment(f, out); err != nil {
		return nil, fmt.Errorf("comment packet: %w", err)
	}

	modes, err := writeSetup(rs, f, lib, out, opts)
	if err != nil {
		return nil, fmt.Errorf("setup packet: %w", err)
	}

	return modes, nil
}

func writePacketPreamble(out *ogg.Stream, packetType uint32) error {
	if err := out.WriteBits(packetType, 8); err != nil {
		return err
	}

	for _, c := range []byte(packedVorbisHeaderTag) {
		if err := out.WriteBits(uint32(c), 8); err != nil {
			return err
		}
	}

	return nil
}

func writeString(out *ogg.Stream, s string) error {
	if err := out.WriteBits(uint32(len(s)), 32); err != nil {
		return err
	}

	for _, c := range []byte(s) {
		if err := out.WriteBits(uint32(c), 8); err != nil {
			return err
		}
	}

	return nil
}

func writeIdentification(f *wem.File, out *ogg.Stream) error {
	out.SetGranule(0)

	if err := writePacketPreamble(out, 1); err != nil {
		return err
	}

	fields := []struct {
		value uint32
		width uint
	}{
		{0, 32}, // version
		{uint32(f.Channels), 8},
		{f.SampleRate, 32},
		{0, 32},                      // bitrate maximum
		{f.AvgBytesPerSecond * 8, 32}, // bitrate nominal
		{0, 32},                      // bitrate minimum
		{uint32(f.Blocksize0Pow), 4},
		{uint32(f.Blocksize1Pow), 4},
		{1, 1}, // framing
	}

	for _, field := range fields {
		if err := out.WriteBits(field.value, field.width); err != nil {
			return err
		}
	}

	if err := out.FinishPacket(); err != nil {
		return err
	}

	return out.FlushPage(false)
}

func writeComment(f *wem.File, out *ogg.Stream) error {
	out.SetGranule(0)

	if err := writePacketPreamble(out, 3); err != nil {
		return err
	}

	vendor := "converted from Audiokinetic Wwise by " + version.Name() + " " + version.Version()
	if err := writeString(out, vendor); err != nil {
		return err
	}

	if f.Loop.Count == 0 {
		if err := out.WriteBits(0, 32); err != nil {
			return err
		}
	} else {
		if err := out.WriteBits(2, 32); err != nil {
			return err
		}

		if err := writeString(out, fmt.Sprintf("LoopStart=%d", f.Loop.Start)); err != nil {
			return err
		}

		if err := writeString(out, fmt.Sprintf("LoopEnd=%d", f.Loop.End)); err != nil {
			return err
		}
	}

	if err := out.WriteBits(1, 1); err != nil { // framing
		return err
	}

	if err := out.FinishPacket(); err != nil {
		return err
	}

	return out.FlushPage(false)
}

func writeSetup(rs io.ReadSeeker, f *wem.File, lib *codebook.Library, out *ogg.Stream, opts Options) (*ModeTable, error) {
	readHeader, _ := packetLayout(f)

	setupPacket, err := readHeader(rs, f.DataOffset+int64(f.SetupPacketOffset))
	if err != nil {
		return nil, err
	}

	if setupPacket.next() != f.DataOffset+int64(f.FirstAudioPacketOffset) {
		return nil, ErrSetupMismatch
	}

	payload := make([]byte, setupPacket.size)
	if err := readAt(rs, setupPacket.payloadOffset, payload); err != nil {
		return nil, fmt.Errorf("reading setup packet: %w", err)
	}

	br := bitpack.NewReader(bytes.NewReader(payload))

	out.SetGranule(0)

	if err := writePacketPreamble(out, 5); err != nil {
		return nil, err
	}

	codebookCountLess1, err := br.ReadBits(8)
	if err != nil {
		return nil, err
	}

	if err := out.WriteBits(codebookCountLess1, 8); err != nil {
		return nil, err
	}

	codebookCount := codebookCountLess1 + 1

	if err := writeCodebooks(br, lib, out, opts, codebookCount); err != nil {
		return nil, err
	}

	// Time domain transforms: a legacy Vorbis section that is always empty.
	// Written as a zero count and one zero placeholder value; a stream that
	// actually used this feature cannot be expressed in the packed format.
	if err := out.WriteBits(0, 6); err != nil {
		return nil, err
	}

	if err := out.WriteBits(0, 16); err != nil {
		return nil, err
	}

	var modes *ModeTable

	if opts.FullSetup {
		// The remainder is already canonical; copy it bit for bit.
		total := uint64(len(payload)) * 8
		for br.TotalBits() < total {
			bit, err := br.ReadBit()
			if err != nil {
				return nil, err
			}

			if err := out.WriteBits(bit, 1); err != nil {
				return nil, err
			}
		}
	} else {
		modes, err = rebuildSetupBody(br, out, f, codebookCount)
		if err != nil {
			return nil, err
		}
	}

	if err := out.FinishPacket(); err != nil {
		return nil, err
	}

	if err := out.FlushPage(false); err != nil {
		return nil, err
	}

	return modes, nil
}

func writeCodebooks(br *bitpack.Reader, lib *codebook.Library, out *ogg.Stream, opts Options, count uint32) error {
	for i := uint32(0); i < count; i++ {
		switch {
		case opts.FullSetup:
			if err := codebook.Copy(br, out); err != nil {
				return fmt.Errorf("codebook %d: %w", i, err)
			}
		case opts.InlineCodebooks:
			if err := codebook.Rebuild(br, 0, out); err != nil {
				return fmt.Errorf("codebook %d: %w", i, err)
			}
		default:
			if lib == nil {
				return ErrNoLibrary
			}

			id, err := br.ReadBits(10)
			if err != nil {
				return err
			}

			if err := lib.Rebuild(int(id), out); err != nil {
				if errors.Is(err, codebook.ErrUnknownID) && id == 0x342 {
					if identifier, peekErr := br.ReadBits(14); peekErr == nil && identifier == 0x1590 {
						return fmt.Errorf("stream likely carries a full setup header, retry with full setup enabled: %w", err)
					}
				}

				return err
			}
		}
	}

	return nil
}

// copyHeaderTriad handles the oldest format revisions, where the three
// Vorbis header packets are stored verbatim in the data region with 8-byte
// framing. Nothing is synthesized; each packet is copied onto its own page.
func copyHeaderTriad(rs io.ReadSeeker, f *wem.File, out *ogg.Stream) error {
	expectedTypes := [3]uint32{1, 3, 5}

	offset := f.DataOffset + int64(f.SetupPacketOffset)

	for _, expected := range expectedTypes {
		packet, err := readPacket8(rs, offset, f.ByteOrder)
		if err != nil {
			return err
		}

		payload := make([]byte, packet.size)
		if err := readAt(rs, packet.payloadOffset, payload); err != nil {
			return fmt.Errorf("reading header packet: %w", err)
		}

		if packet.size == 0 || uint32(payload[0]) != expected {
			return fmt.Errorf("want %d: %w", expected, ErrBadPacketType)
		}

		out.SetGranule(0)

		for _, b := range payload {
			if err := out.WriteBits(uint32(b), 8); err != nil {
				return err
			}
		}

		if err := out.FinishPacket(); err != nil {
			return err
		}

		if err := out.FlushPage(false); err != nil {
			return err
		}

		offset = packet.next()
	}

	if offset != f.DataOffset+int64(f.FirstAudioPacketOffset) {
		return ErrSetupMismatch
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
