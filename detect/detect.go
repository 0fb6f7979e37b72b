package detect

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Kind represents a recognized input container.
type Kind uint8

const (
	// Unknown indicates the file format was not recognized.
	Unknown Kind = iota
	// Wwise is a RIFF/RIFX container carrying a Wwise packed-Vorbis stream.
	Wwise
	// WAV is a plain RIFF/WAVE file carrying some other codec.
	WAV
	// Ogg is an Ogg container, i.e. already converted.
	Ogg
)

// String returns the human-readable name of the kind.
func (k Kind) String() string {
	switch k {
	case Unknown:
		return "unknown"
	case Wwise:
		return "Wwise"
	case WAV:
		return "WAV"
	case Ogg:
		return "Ogg"
	}

	return "unknown"
}

// headerSize covers the 12-byte RIFF header plus the first chunk header and
// the codec tag, enough to tell a Wwise stream from a plain WAV.
const headerSize = 22

// packedVorbisCodec is the codec tag Wwise writes for packed Vorbis.
const packedVorbisCodec = 0xFFFF

// Identify reads the header from rs and returns the detected container
// kind. The reader position is reset to the start before returning.
func Identify(rs io.ReadSeeker) (Kind, error) {
	var header [headerSize]byte

	// A short or empty source is not an error, just unrecognizable.
	n, err := io.ReadFull(rs, header[:])
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return Unknown, fmt.Errorf("reading header: %w", err)
	}

	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		return Unknown, fmt.Errorf("seeking to start: %w", err)
	}

	if n < 4 {
		return Unknown, nil
	}

	// Ogg container: first four bytes are "OggS".
	if string(header[:4]) == "OggS" {
		return Ogg, nil
	}

	var order binary.ByteOrder

	switch string(header[:4]) {
	case "RIFF":
		order = binary.LittleEndian
	case "RIFX":
		// Big-endian RIFF only occurs in Wwise console output.
		order = binary.BigEndian
	default:
		return Unknown, nil
	}

	if n < headerSize || string(header[8:12]) != "WAVE" {
		return Unknown, nil
	}

	// Wwise containers lead with the fmt chunk; its codec tag separates
	// packed Vorbis from an ordinary WAV.
	if string(header[12:16]) == "fmt " && order.Uint16(header[20:22]) == packedVorbisCodec {
		return Wwise, nil
	}

	return WAV, nil
}
