package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/worldx-ucra/worldcache/internal/cache"
	"golang.org/x/sync/errgroup"
)

var warmJobs int

var warmCmd = &cobra.Command{
	Use:   "warm PATH...",
	Short: "Populate cache files for many sources in parallel",
	Long: paragraph(fmt.Sprintf("\n%s every source so later lookups are hits. Directories are searched for files with the configured extensions. Each source is analyzed at most once per run.",
		keyword("Analyze"))),
	Example: paragraph("worldcache warm -j 8 corpus/"),
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		jobs := cfg.Workers
		if cmd.Flags().Changed("jobs") {
			jobs = warmJobs
		}
		if jobs < 1 {
			return fmt.Errorf("jobs must be at least 1, got %d", jobs)
		}

		sources, err := collectSources(args, cfg.WatchExts)
		if err != nil {
			return err
		}
		m, err := newManager()
		if err != nil {
			return err
		}
		return runWarm(cmd.Context(), newPrinter(cmd.OutOrStdout()), m, sources, jobs)
	},
}

func init() {
	warmCmd.Flags().IntVarP(&warmJobs, "jobs", "j", 4, "number of sources to analyze at once (default from config)")
}

// warmSummary counts how a warm run went.
type warmSummary struct {
	outcomes map[cache.Outcome]int
	failed   int
	notSaved int
	bytes    uint64
}

// runWarm looks up every source with at most jobs lookups in flight. Sources
// must already be deduplicated: the manager does not serialize work per path.
// A failing source does not stop the others; all failures are returned.
func runWarm(ctx context.Context, p printer, m *cache.Manager, sources []string, jobs int) error {
	start := time.Now()
	lookups := make([]cache.Lookup, len(sources))
	errs := make([]error, len(sources))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(jobs)
	for i, src := range sources {
		g.Go(func() error {
			// Cancellation stops the run; analyzer failures do not.
			if err := gctx.Err(); err != nil {
				return err
			}
			lookups[i], errs[i] = m.Lookup(gctx, src)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	sum := warmSummary{outcomes: make(map[cache.Outcome]int)}
	for i, src := range sources {
		if errs[i] != nil {
			sum.failed++
			fmt.Fprintf(p.w, "%s %s: %v\n", p.tag("error"), p.path(src), errs[i])
			continue
		}
		lk := lookups[i]
		sum.outcomes[lk.Outcome]++
		sum.bytes += uint64(lk.Result.Size())
		if lk.PersistErr != nil {
			sum.notSaved++
		}
	}

	fmt.Fprintf(p.w, "%d sources, %d hit, %d analyzed, %d failed, %d not saved, %s in %s\n",
		len(sources),
		sum.outcomes[cache.OutcomeHit],
		len(sources)-sum.failed-sum.outcomes[cache.OutcomeHit],
		sum.failed, sum.notSaved,
		humanize.Bytes(sum.bytes), time.Since(start).Round(time.Millisecond))
	log.Info("warm finished", "sources", len(sources), "failed", sum.failed, "duration", time.Since(start))

	return errors.Join(errs...)
}
