package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/worldx-ucra/worldcache/internal/cache"
	"github.com/worldx-ucra/worldcache/internal/codec"
	"github.com/worldx-ucra/worldcache/internal/format"
)

var verifyPayload bool

var inspectCmd = &cobra.Command{
	Use:   "inspect FILE",
	Short: "Print the header of a cache file",
	Long: paragraph(fmt.Sprintf("\n%s the header of a cache file. FILE may be the cache file or the source it belongs to. With --verify the payload is decoded too.",
		keyword("Print"))),
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInspect(newPrinter(cmd.OutOrStdout()), resolveCachePath(args[0], cfg.Suffix), verifyPayload)
	},
}

func init() {
	inspectCmd.Flags().BoolVar(&verifyPayload, "verify", false, "decode the payload and check the block sizes")
}

// resolveCachePath maps a source path to its cache path; cache paths are
// returned unchanged.
func resolveCachePath(p, suffix string) string {
	if strings.HasSuffix(p, suffix) {
		return p
	}
	return p + suffix
}

func runInspect(p printer, cachePath string, verify bool) error {
	h, err := cache.ReadHeader(cachePath)
	if err != nil {
		return fmt.Errorf("%s: %w", cachePath, err)
	}
	st, err := os.Stat(cachePath)
	if err != nil {
		return err
	}

	row := func(label, layout string, args ...any) {
		fmt.Fprintf(p.w, "%s %s\n", p.label(label), fmt.Sprintf(layout, args...))
	}

	fmt.Fprintln(p.w, p.path(cachePath))
	row("version", "%d", h.Version)
	row("compression", "%s", compressionName(h))
	row("sample rate", "%g Hz", h.SampleRate)
	row("frame period", "%g ms", h.FramePeriodMs)
	row("frames", "%d", h.FrameCount)
	if h.FFTSize == 0 {
		row("fft size", "0")
	} else {
		row("fft size", "%d (%d bins)", h.FFTSize, h.FFTSize/2+1)
	}
	row("fingerprint", "%016x", h.Fingerprint)
	mtime := time.Unix(0, int64(h.SourceMTime)) //nolint:gosec
	row("source mtime", "%s (%s)", mtime.Format(time.RFC3339Nano), humanize.Time(mtime))
	row("spectral", "%s", humanize.Bytes(uint64(h.SpectralSize)))
	row("aperiodicity", "%s", humanize.Bytes(uint64(h.AperiodicitySize)))
	row("voiced mask", "%s", humanize.Bytes(uint64(h.VoicedMaskSize)))

	payload := h.PayloadSize()
	onDisk := uint64(st.Size()) //nolint:gosec
	if onDisk > format.HeaderSize && payload > 0 {
		row("file size", "%s (%.1f%% of payload)", humanize.Bytes(onDisk),
			100*float64(onDisk-format.HeaderSize)/float64(payload))
	} else {
		row("file size", "%s", humanize.Bytes(onDisk))
	}

	if !verify {
		return nil
	}
	buf, err := os.ReadFile(cachePath)
	if err != nil {
		return err
	}
	_, blocks, err := codec.Decode(buf)
	if err != nil {
		row("payload", "%s", p.tag("error"))
		return fmt.Errorf("%s: %w", cachePath, err)
	}
	row("payload", "ok (%s decoded)", humanize.Bytes(uint64(blocks.Len())))
	return nil
}

func compressionName(h format.Header) string {
	if !h.IsCompressed() {
		return "none"
	}
	return h.Codec().String()
}
