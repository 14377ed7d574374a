package main

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/worldx-ucra/worldcache/internal/cache"
)

var getCmd = &cobra.Command{
	Use:     "get WAV...",
	Short:   "Analyze audio files, reusing cached results",
	Example: paragraph("worldcache get voice.wav\nworldcache get --codec lz4 takes/*.wav"),
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := newManager()
		if err != nil {
			return err
		}
		return runGet(cmd.Context(), newPrinter(cmd.OutOrStdout()), m, args)
	},
}

func runGet(ctx context.Context, p printer, m *cache.Manager, paths []string) error {
	for _, src := range paths {
		lk, err := m.Lookup(ctx, src)
		if err != nil {
			fmt.Fprintf(p.w, "%s %s\n", p.tag("error"), p.path(src))
			return fmt.Errorf("%s: %w", src, err)
		}

		res := lk.Result
		fmt.Fprintf(p.w, "%s %s\n", p.tag(lk.Outcome.String()), p.path(src))
		fmt.Fprintf(p.w, "  %d frames @ %gms, fft %d, %g Hz, %s\n",
			res.FrameCount, res.FramePeriodMs, res.FFTSize, res.SampleRate,
			humanize.Bytes(uint64(res.Size())))
		if lk.PersistErr != nil {
			fmt.Fprintf(p.w, "  not cached: %v\n", lk.PersistErr)
		}
	}
	return nil
}
