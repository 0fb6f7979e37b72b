package ogg

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

var (
	ErrCorruptPage  = errors.New("corrupt ogg page")
	ErrBadChecksum  = errors.New("ogg page checksum mismatch")
	ErrDanglingBody = errors.New("stream ends mid-packet")
)

// Packet is one reassembled logical packet and the granule position of the
// page that completed it.
type Packet struct {
	Data    []byte
	Granule uint64
	Last    bool
}

// ReadPackets parses a serialized Ogg stream back into logical packets,
// verifying page checksums and reassembling packets that span pages. It is
// the verification counterpart of Stream.
func ReadPackets(r io.Reader) ([]Packet, error) {
	var (
		packets []Packet
		pending []byte
	)

	midPacket := false

	for {
		header := make([]byte, 27)

		if _, err := io.ReadFull(r, header); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}

			return nil, fmt.Errorf("reading page header: %w", err)
		}

		if string(header[0:4]) != "OggS" || header[4] != 0 {
			return nil, ErrCorruptPage
		}

		flags := header[5]
		granule := binary.LittleEndian.Uint64(header[6:14])
		checksum := binary.LittleEndian.Uint32(header[22:26])
		segments := int(header[26])

		laces := make([]byte, segments)
		if _, err := io.ReadFull(r, laces); err != nil {
			return nil, fmt.Errorf("reading segment table: %w", err)
		}

		var size int
		for _, lace := range laces {
			size += int(lace)
		}

		body := make([]byte, size)
		if _, err := io.ReadFull(r, body); err != nil {
			return nil, fmt.Errorf("reading page body: %w", err)
		}

		header[22], header[23], header[24], header[25] = 0, 0, 0, 0

		crc := crcUpdate(0, header)
		crc = crcUpdate(crc, laces)
		crc = crcUpdate(crc, body)

		if crc != checksum {
			return nil, ErrBadChecksum
		}

		if midPacket != (flags&headerFlagContinued != 0) {
			return nil, fmt.Errorf("%w: continuation flag mismatch", ErrCorruptPage)
		}

		for _, lace := range laces {
			pending = append(pending, body[:lace]...)
			body = body[lace:]

			midPacket = lace == 255
			if midPacket {
				continue
			}

			packets = append(packets, Packet{
				Data:    pending,
				Granule: granule,
				Last:    flags&headerFlagLast != 0,
			})
			pending = nil
		}
	}

	if midPacket {
		return nil, ErrDanglingBody
	}

	return packets, nil
}
