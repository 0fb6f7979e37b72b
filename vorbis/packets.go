package vorbis

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/mycophonic/spore/ogg"
	"github.com/mycophonic/spore/wem"
)

var (
	ErrTruncatedPacket = errors.New("packet header truncated")
	ErrTruncatedData   = errors.New("packet truncated")
)

// audioPacket is the logical shape both packet framings project to.
type audioPacket struct {
	payloadOffset int64
	size          uint32
	granule       uint32
}

func (p audioPacket) next() int64 {
	return p.payloadOffset + int64(p.size)
}

type packetReader func(rs io.ReadSeeker, offset int64) (audioPacket, error)

// packetLayout selects the packet framing once, per the container's format
// revision: the 8-byte legacy header, or the 2/6-byte header whose granule
// field is omitted when the revision derives granules.
func packetLayout(f *wem.File) (packetReader, int64) {
	if f.OldPacketHeaders {
		return func(rs io.ReadSeeker, offset int64) (audioPacket, error) {
			return readPacket8(rs, offset, f.ByteOrder)
		}, 8
	}

	headerSize := int64(6)
	if f.NoGranule {
		headerSize = 2
	}

	order := f.ByteOrder
	noGranule := f.NoGranule

	return func(rs io.ReadSeeker, offset int64) (audioPacket, error) {
		buf := make([]byte, headerSize)
		if err := readAt(rs, offset, buf); err != nil {
			return audioPacket{}, fmt.Errorf("at 0x%X: %w: %w", offset, ErrTruncatedPacket, err)
		}

		packet := audioPacket{
			payloadOffset: offset + headerSize,
			size:          uint32(order.Uint16(buf[0:2])),
		}

		if !noGranule {
			packet.granule = order.Uint32(buf[2:6])
		}

		return packet, nil
	}, headerSize
}

func readPacket8(rs io.ReadSeeker, offset int64, order binary.ByteOrder) (audioPacket, error) {
	var buf [8]byte
	if err := readAt(rs, offset, buf[:]); err != nil {
		return audioPacket{}, fmt.Errorf("at 0x%X: %w: %w", offset, ErrTruncatedPacket, err)
	}

	return audioPacket{
		payloadOffset: offset + 8,
		size:          order.Uint32(buf[0:4]),
		granule:       order.Uint32(buf[4:8]),
	}, nil
}

// WriteAudio walks the audio packet stream from the first audio packet to
// the end of the data chunk, emitting one canonical packet per page. modes
// is required whenever the stream needs mode lookups: stripped first bytes
// (mod packets) or derived granules.
func WriteAudio(rs io.ReadSeeker, f *wem.File, modes *ModeTable, out *ogg.Stream, opts Options) error {
	modPackets := f.ModPackets

	switch opts.PacketFormat {
	case PacketFormatModified:
		modPackets = true
	case PacketFormatStandard:
		modPackets = false
	case PacketFormatAuto:
	}

	if (modPackets || f.NoGranule) && modes == nil {
		return ErrNoModeTable
	}

	readHeader, headerSize := packetLayout(f)
	dataEnd := f.DataOffset + f.DataSize

	state := granuleState{}
	prevBlockflag := false

	for offset := f.DataOffset + int64(f.FirstAudioPacketOffset); offset < dataEnd; {
		if offset+headerSize > dataEnd {
			return fmt.Errorf("at 0x%X: %w", offset, ErrTruncatedPacket)
		}

		packet, err := readHeader(rs, offset)
		if err != nil {
			return err
		}

		if packet.next() > dataEnd {
			return fmt.Errorf("at 0x%X: %w", offset, ErrTruncatedData)
		}

		last := packet.next() == dataEnd

		if f.NoGranule {
			granule, err := state.derive(rs, f, modes, packet, modPackets, last)
			if err != nil {
				return err
			}

			out.SetGranule(granule)
		} else if packet.granule == 0xFFFFFFFF {
			// The packer's "unknown" marker; stamp the smallest valid value.
			out.SetGranule(1)
		} else {
			out.SetGranule(uint64(packet.granule))
		}

		if modPackets && packet.size > 0 {
			prevBlockflag, err = writeModifiedPacket(rs, f, modes, out, packet, readHeader, headerSize, dataEnd, prevBlockflag)
			if err != nil {
				return err
			}
		} else if err := copyBytes(rs, out, packet.payloadOffset, int64(packet.size)); err != nil {
			return err
		}

		if err := out.FinishPacket(); err != nil {
			return err
		}

		if err := out.FlushPage(last); err != nil {
			return err
		}

		offset = packet.next()
	}

	return nil
}

// granuleState accumulates derived granule positions for revisions whose
// packet headers omit them: every packet after the first contributes a
// quarter of the sum of its own and the previous packet's block sizes.
type granuleState struct {
	total         uint64
	prevBlocksize uint32
	started       bool
}

func (g *granuleState) derive(rs io.ReadSeeker, f *wem.File, modes *ModeTable, packet audioPacket, modPackets, last bool) (uint64, error) {
	mode, err := peekMode(rs, modes, packet, modPackets)
	if err != nil {
		return 0, err
	}

	blocksize := uint32(1) << f.Blocksize0Pow
	if modes.BlockFlags[mode] {
		blocksize = uint32(1) << f.Blocksize1Pow
	}

	if g.started {
		g.total += uint64(g.prevBlocksize+blocksize) / 4
	}

	g.prevBlocksize = blocksize
	g.started = true

	if last {
		// The stream's final granule must equal the declared length exactly.
		return uint64(f.SampleCount), nil
	}

	return g.total, nil
}

// peekMode extracts the mode index from a packet's first payload byte. In
// modified framing the stripped byte starts directly with the mode index
// (its low bits, LSB-first); in standard framing the index follows the
// 1-bit packet type.
func peekMode(rs io.ReadSeeker, modes *ModeTable, packet audioPacket, modPackets bool) (uint32, error) {
	if packet.size == 0 {
		return 0, fmt.Errorf("at 0x%X: empty audio packet: %w", packet.payloadOffset, ErrTruncatedData)
	}

	var buf [1]byte
	if err := readAt(rs, packet.payloadOffset, buf[:]); err != nil {
		return 0, fmt.Errorf("at 0x%X: %w: %w", packet.payloadOffset, ErrTruncatedData, err)
	}

	mask := uint32(1)<<modes.Bits - 1

	if modPackets {
		return uint32(buf[0]) & mask, nil
	}

	return uint32(buf[0]) >> 1 & mask, nil
}

// writeModifiedPacket rebuilds the canonical first byte from its stripped
// form: the 1-bit packet type is restored, and when the current mode uses
// the long window, the previous/next window flags are re-derived, the next
// flag by looking one packet ahead without disturbing the walk.
func writeModifiedPacket(
	rs io.ReadSeeker,
	f *wem.File,
	modes *ModeTable,
	out *ogg.Stream,
	packet audioPacket,
	readHeader packetReader,
	headerSize int64,
	dataEnd int64,
	prevBlockflag bool,
) (bool, error) {
	var first [1]byte
	if err := readAt(rs, packet.payloadOffset, first[:]); err != nil {
		return false, fmt.Errorf("at 0x%X: %w: %w", packet.payloadOffset, ErrTruncatedData, err)
	}

	mask := uint32(1)<<modes.Bits - 1
	mode := uint32(first[0]) & mask
	remainder := uint32(first[0]) >> modes.Bits

	if err := out.WriteBits(0, 1); err != nil { // packet type: audio
		return false, err
	}

	if err := out.WriteBits(mode, modes.Bits); err != nil {
		return false, err
	}

	if modes.BlockFlags[mode] {
		nextBlockflag := false

		if next := packet.next(); next+headerSize <= dataEnd {
			nextPacket, err := readHeader(rs, next)
			if err != nil {
				return false, err
			}

			if nextPacket.size > 0 {
				nextMode, err := peekMode(rs, modes, nextPacket, true)
				if err != nil {
					return false, err
				}

				nextBlockflag = modes.BlockFlags[nextMode]
			}
		}

		if err := out.WriteBits(boolBit(prevBlockflag), 1); err != nil {
			return false, err
		}

		if err := out.WriteBits(boolBit(nextBlockflag), 1); err != nil {
			return false, err
		}
	}

	if err := out.WriteBits(remainder, 8-modes.Bits); err != nil {
		return false, err
	}

	if err := copyBytes(rs, out, packet.payloadOffset+1, int64(packet.size)-1); err != nil {
		return false, err
	}

	return modes.BlockFlags[mode], nil
}

func boolBit(b bool) uint32 {
	if b {
		return 1
	}

	return 0
}

// copyBytes streams size bytes from offset into the packet writer. The
// writer may be mid-byte, so bytes go through the bit interface.
func copyBytes(rs io.ReadSeeker, out *ogg.Stream, offset, size int64) error {
	if size <= 0 {
		return nil
	}

	if _, err := rs.Seek(offset, io.SeekStart); err != nil {
		return err
	}

	buf := make([]byte, 4096)

	for size > 0 {
		n := int64(len(buf))
		if size < n {
			n = size
		}

		if _, err := io.ReadFull(rs, buf[:n]); err != nil {
			return fmt.Errorf("at 0x%X: %w: %w", offset, ErrTruncatedData, err)
		}

		for _, b := range buf[:n] {
			if err := out.WriteBits(uint32(b), 8); err != nil {
				return err
			}
		}

		size -= n
		offset += n
	}

	return nil
}
