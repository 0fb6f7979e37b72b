// Package spore converts Audiokinetic Wwise packed-Vorbis containers into
// standards-compliant Ogg Vorbis streams. The packed format strips headers
// down to a handful of integers and replaces codebooks with references into
// an external bank; conversion re-derives everything the packer omitted and
// leaves the compressed audio payload untouched.
package spore

import (
	"errors"
	"fmt"
	"io"

	"github.com/mycophonic/spore/codebook"
	"github.com/mycophonic/spore/ogg"
	"github.com/mycophonic/spore/vorbis"
	"github.com/mycophonic/spore/wem"
)

// ErrNoLibrary is returned when conversion needs a codebook bank but none
// was supplied.
var ErrNoLibrary = errors.New("codebook bank required unless codebooks are inline or the setup is full")

// defaultSerial is the Ogg bitstream serial number. Converted files carry a
// single logical stream, so a fixed serial keeps output deterministic.
const defaultSerial = 1

// Options configure one conversion.
type Options struct {
	// Library is the shared codebook bank. Required unless InlineCodebooks
	// or FullSetup is set. Safe to share across concurrent conversions.
	Library *codebook.Library

	// InlineCodebooks: the stream embeds packed codebook bodies instead of
	// bank references.
	InlineCodebooks bool

	// FullSetup: the stream carries a complete canonical setup header.
	FullSetup bool

	// PacketFormat overrides audio packet framing detection.
	PacketFormat vorbis.PacketFormat

	// Serial overrides the Ogg stream serial number when nonzero.
	Serial uint32
}

// Convert reads one Wwise container from rs and writes a complete Ogg
// Vorbis stream to w. The conversion is strictly ordered: container parse,
// header synthesis, then audio packet reconstruction; the first error
// aborts, and the caller owns whatever partial output reached w.
func Convert(rs io.ReadSeeker, w io.Writer, opts Options) error {
	if opts.Library == nil && !opts.InlineCodebooks && !opts.FullSetup {
		return ErrNoLibrary
	}

	f, err := wem.Parse(rs)
	if err != nil {
		return fmt.Errorf("parsing container: %w", err)
	}

	serial := opts.Serial
	if serial == 0 {
		serial = defaultSerial
	}

	out := ogg.NewStream(w, serial)

	vorbisOpts := vorbis.Options{
		InlineCodebooks: opts.InlineCodebooks,
		FullSetup:       opts.FullSetup,
		PacketFormat:    opts.PacketFormat,
	}

	modes, err := vorbis.WriteHeaders(rs, f, opts.Library, out, vorbisOpts)
	if err != nil {
		return fmt.Errorf("synthesizing headers: %w", err)
	}

	if err := vorbis.WriteAudio(rs, f, modes, out, vorbisOpts); err != nil {
		return fmt.Errorf("reconstructing audio: %w", err)
	}

	return nil
}
