// Package ogg writes Ogg pages. The writer accepts bit-granular payload in
// the Vorbis LSB-first convention, because reconstructed packets are
// assembled bit by bit; packets are byte-aligned only when finished.
package ogg

import (
	"encoding/binary"
	"fmt"
	"io"
)

const (
	headerFlagContinued = 0x1
	headerFlagFirst     = 0x2
	headerFlagLast      = 0x4

	maxSegments = 255

	// granuleUnset marks a page that ends in the middle of a packet.
	granuleUnset = ^uint64(0)
)

//nolint:gochecknoglobals // CRC table, computed once.
var crcTable = buildCRCTable()

// buildCRCTable fills the lookup table for the Ogg page checksum
// (CRC-32, polynomial 0x04C11DB7, no reflection, zero init).
func buildCRCTable() [256]uint32 {
	const poly = 0x04C11DB7

	var table [256]uint32

	for i := range table {
		r := uint32(i) << 24

		for range 8 {
			if r&0x80000000 != 0 {
				r = r<<1 ^ poly
			} else {
				r <<= 1
			}
		}

		table[i] = r
	}

	return table
}

func crcUpdate(crc uint32, data []byte) uint32 {
	for _, b := range data {
		crc = crc<<8 ^ crcTable[byte(crc>>24)^b]
	}

	return crc
}

// Stream serializes one logical Ogg bitstream. Feed packet payload with
// WriteBits, terminate each packet with FinishPacket, and force page
// boundaries with FlushPage; packets larger than one page continue across
// pages automatically.
type Stream struct {
	w      io.Writer
	serial uint32

	current byte
	bitIdx  uint
	packet  []byte

	laces   []uint8
	payload []byte

	granule   uint64
	sequence  uint32
	started   bool
	continued bool
}

// NewStream returns a Stream writing pages to w under the given serial
// number.
func NewStream(w io.Writer, serial uint32) *Stream {
	return &Stream{w: w, serial: serial}
}

// WriteBits appends the low n bits of value to the current packet,
// LSB-first.
func (s *Stream) WriteBits(value uint32, n uint) error {
	for i := uint(0); i < n; i++ {
		if value&(1<<i) != 0 {
			s.current |= 1 << s.bitIdx
		}

		s.bitIdx++

		if s.bitIdx > 7 {
			s.packet = append(s.packet, s.current)
			s.current = 0
			s.bitIdx = 0
		}
	}

	return nil
}

// SetGranule records the granule position stamped on the page that
// completes the current packet.
func (s *Stream) SetGranule(granule uint64) {
	s.granule = granule
}

// FinishPacket terminates the current packet, zero-padding its final
// partial byte, and queues it for the next page.
func (s *Stream) FinishPacket() error {
	if s.bitIdx > 0 {
		s.packet = append(s.packet, s.current)
		s.current = 0
		s.bitIdx = 0
	}

	remaining := s.packet
	for len(remaining) >= 255 {
		s.laces = append(s.laces, 255)
		remaining = remaining[255:]
	}

	// The final lacing value is < 255; a packet of exactly k*255 bytes
	// terminates with a zero lace.
	s.laces = append(s.laces, uint8(len(remaining)))

	s.payload = append(s.payload, s.packet...)
	s.packet = s.packet[:0]

	return nil
}

// FlushPage writes all queued packet data out as one or more pages. last
// marks the stream's final page.
func (s *Stream) FlushPage(last bool) error {
	for len(s.laces) > 0 {
		segments := min(len(s.laces), maxSegments)
		chunk := s.laces[:segments]

		var size int
		for _, lace := range chunk {
			size += int(lace)
		}

		// A chunk whose final lace is 255 ends mid-packet; the rest of the
		// packet continues on the next page.
		endsMidPacket := chunk[segments-1] == 255

		granule := s.granule
		if endsMidPacket {
			granule = granuleUnset
		}

		var flags byte
		if s.continued {
			flags |= headerFlagContinued
		}

		if !s.started {
			flags |= headerFlagFirst
		}

		if last && segments == len(s.laces) {
			flags |= headerFlagLast
		}

		if err := s.writePage(flags, granule, chunk, s.payload[:size]); err != nil {
			return err
		}

		s.laces = s.laces[segments:]
		s.payload = s.payload[size:]
		s.continued = endsMidPacket
		s.started = true
		s.sequence++
	}

	return nil
}

func (s *Stream) writePage(flags byte, granule uint64, laces []uint8, payload []byte) error {
	header := make([]byte, 27+len(laces))

	copy(header[0:4], "OggS")
	header[4] = 0
	header[5] = flags
	binary.LittleEndian.PutUint64(header[6:14], granule)
	binary.LittleEndian.PutUint32(header[14:18], s.serial)
	binary.LittleEndian.PutUint32(header[18:22], s.sequence)
	// checksum at 22:26 filled below
	header[26] = uint8(len(laces))
	copy(header[27:], laces)

	crc := crcUpdate(0, header)
	crc = crcUpdate(crc, payload)
	binary.LittleEndian.PutUint32(header[22:26], crc)

	if _, err := s.w.Write(header); err != nil {
		return fmt.Errorf("writing page header: %w", err)
	}

	if _, err := s.w.Write(payload); err != nil {
		return fmt.Errorf("writing page payload: %w", err)
	}

	return nil
}
