package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/mycophonic/spore"
	"github.com/mycophonic/spore/codebook"
	"github.com/mycophonic/spore/detect"
	"github.com/mycophonic/spore/vorbis"
	"github.com/mycophonic/spore/wem"
)

var (
	errUnsupportedInput = errors.New("unsupported input format")
	errAlreadyOgg       = errors.New("input is already an Ogg stream")
	errPlainWAV         = errors.New("input is a plain WAV file, not a Wwise stream")
	errBadPacketFormat  = errors.New("packet-format must be auto, modified or standard")
	errInvalidArgCount  = errors.New("expected exactly one argument: file path")
)

func convertCommand() *cli.Command {
	return &cli.Command{
		Name:      "convert",
		Usage:     "Convert a Wwise packed-Vorbis file to Ogg Vorbis",
		ArgsUsage: "<file>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Value:   "-",
				Usage:   "output file path (- for stdout)",
			},
			&cli.StringFlag{
				Name:    "codebooks",
				Aliases: []string{"c"},
				Usage:   "path to the packed codebook bank",
			},
			&cli.BoolFlag{
				Name:  "inline-codebooks",
				Usage: "codebooks are embedded in the stream, no bank needed",
			},
			&cli.BoolFlag{
				Name:  "full-setup",
				Usage: "the stream carries a complete setup header (implies inline codebooks)",
			},
			&cli.StringFlag{
				Name:  "packet-format",
				Value: "auto",
				Usage: "audio packet framing: auto, modified or standard",
			},
			&cli.BoolFlag{
				Name:    "info",
				Aliases: []string{"i"},
				Usage:   "print container info and exit without converting",
			},
		},
		Action: runConvert,
	}
}

func runConvert(_ context.Context, cmd *cli.Command) error {
	if cmd.NArg() != 1 {
		return fmt.Errorf("%w: got %d", errInvalidArgCount, cmd.NArg())
	}

	path := cmd.Args().First()

	file, err := os.Open(path) //nolint:gosec // CLI tool opens user-specified audio files
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer file.Close()

	kind, err := detect.Identify(file)
	if err != nil {
		return fmt.Errorf("detecting format: %w", err)
	}

	switch kind {
	case detect.Wwise:
	case detect.Ogg:
		return fmt.Errorf("%s: %w", path, errAlreadyOgg)
	case detect.WAV:
		return fmt.Errorf("%s: %w", path, errPlainWAV)
	case detect.Unknown:
		return fmt.Errorf("%s: %w", path, errUnsupportedInput)
	}

	if cmd.Bool("info") {
		return printInfo(file)
	}

	opts, err := buildOptions(cmd)
	if err != nil {
		return err
	}

	return writeOgg(cmd.String("output"), file, opts)
}

func buildOptions(cmd *cli.Command) (spore.Options, error) {
	opts := spore.Options{
		InlineCodebooks: cmd.Bool("inline-codebooks"),
		FullSetup:       cmd.Bool("full-setup"),
	}

	switch cmd.String("packet-format") {
	case "auto":
		opts.PacketFormat = vorbis.PacketFormatAuto
	case "modified":
		opts.PacketFormat = vorbis.PacketFormatModified
	case "standard":
		opts.PacketFormat = vorbis.PacketFormatStandard
	default:
		return opts, fmt.Errorf("%q: %w", cmd.String("packet-format"), errBadPacketFormat)
	}

	if bank := cmd.String("codebooks"); bank != "" {
		library, err := codebook.Load(bank)
		if err != nil {
			return opts, err
		}

		opts.Library = library
	}

	return opts, nil
}

func printInfo(file *os.File) error {
	f, err := wem.Parse(file)
	if err != nil {
		return fmt.Errorf("parsing container: %w", err)
	}

	endian := "little"
	if f.ByteOrder.String() == "BigEndian" {
		endian = "big"
	}

	_, _ = fmt.Fprintf(os.Stderr, "endianness:    %s\n", endian)
	_, _ = fmt.Fprintf(os.Stderr, "channels:      %d\n", f.Channels)
	_, _ = fmt.Fprintf(os.Stderr, "sample rate:   %d Hz\n", f.SampleRate)
	_, _ = fmt.Fprintf(os.Stderr, "samples:       %d\n", f.SampleCount)
	_, _ = fmt.Fprintf(os.Stderr, "blocksizes:    2^%d/2^%d\n", f.Blocksize0Pow, f.Blocksize1Pow)
	_, _ = fmt.Fprintf(os.Stderr, "mod packets:   %t\n", f.ModPackets)
	_, _ = fmt.Fprintf(os.Stderr, "granules:      %t\n", !f.NoGranule)
	_, _ = fmt.Fprintf(os.Stderr, "header triad:  %t\n", f.HeaderTriad)
	_, _ = fmt.Fprintf(os.Stderr, "prefetch:      %t\n", f.Prefetch)

	if f.Loop.Count != 0 {
		_, _ = fmt.Fprintf(os.Stderr, "loop:          %d..%d\n", f.Loop.Start, f.Loop.End)
	}

	return nil
}

func writeOgg(output string, file *os.File, opts spore.Options) error {
	var w io.Writer

	if output == "-" {
		w = os.Stdout
	} else {
		out, err := os.Create(output) //nolint:gosec // CLI tool creates user-specified output files
		if err != nil {
			return fmt.Errorf("creating output file: %w", err)
		}

		defer out.Close()

		w = out
	}

	if err := spore.Convert(file, w, opts); err != nil {
		return fmt.Errorf("converting: %w", err)
	}

	return nil
}
