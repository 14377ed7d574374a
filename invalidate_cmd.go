package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/worldx-ucra/worldcache/internal/cache"
)

var invalidateCmd = &cobra.Command{
	Use:   "invalidate WAV...",
	Short: "Remove cache files whose sources have changed",
	Long: paragraph(fmt.Sprintf("\n%s each source against its cache file and delete the cache file when the source was modified, removed, or the file is unreadable. Nothing is analyzed.",
		keyword("Check"))),
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := newManager()
		if err != nil {
			return err
		}
		return runInvalidate(cmd.Context(), newPrinter(cmd.OutOrStdout()), m, args)
	},
}

func runInvalidate(ctx context.Context, p printer, m *cache.Manager, paths []string) error {
	for _, src := range paths {
		status, err := m.InvalidateIfChanged(ctx, src)
		if err != nil {
			return fmt.Errorf("%s: %w", src, err)
		}
		fmt.Fprintf(p.w, "%s %s\n", p.tag(status.String()), p.path(src))
	}
	return nil
}
