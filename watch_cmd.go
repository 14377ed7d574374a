package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/worldx-ucra/worldcache/internal/cache"
	"golang.org/x/time/rate"
)

var watchRewarm bool

var watchCmd = &cobra.Command{
	Use:   "watch PATH...",
	Short: "Invalidate cache files as their sources change",
	Long: paragraph(fmt.Sprintf("\n%s files and directories and drop cache files whose sources are modified or removed. Checks are rate limited by watch_interval and watch_burst.",
		keyword("Watch"))),
	Example: paragraph("worldcache watch corpus/\nworldcache watch --rewarm take1.wav take2.wav"),
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := newManager()
		if err != nil {
			return err
		}

		fw, err := fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("unable to create watcher: %w", err)
		}
		defer fw.Close() //nolint:errcheck

		w := newSourceWatcher(m, newPrinter(cmd.OutOrStdout()), cfg.WatchExts,
			rate.NewLimiter(rate.Every(cfg.WatchInterval), cfg.WatchBurst))
		w.rewarm = watchRewarm
		if err := w.add(fw, args); err != nil {
			return err
		}

		// Catch up on changes made while nobody was watching.
		sources, err := collectSources(args, cfg.WatchExts)
		if err != nil {
			return err
		}
		for _, src := range sources {
			w.check(cmd.Context(), src)
		}

		return w.run(cmd.Context(), fw)
	},
}

func init() {
	watchCmd.Flags().BoolVar(&watchRewarm, "rewarm", false, "re-analyze sources after their cache file is invalidated")
}

// sourceWatcher turns filesystem events into invalidation checks.
type sourceWatcher struct {
	m       *cache.Manager
	p       printer
	exts    []string
	limiter *rate.Limiter
	rewarm  bool

	// files are watched by name; dirs match any file with a listed extension.
	files map[string]bool
	dirs  map[string]bool
}

func newSourceWatcher(m *cache.Manager, p printer, exts []string, limiter *rate.Limiter) *sourceWatcher {
	return &sourceWatcher{
		m:       m,
		p:       p,
		exts:    exts,
		limiter: limiter,
		files:   make(map[string]bool),
		dirs:    make(map[string]bool),
	}
}

// add registers paths with fw. Directories are watched recursively; a file
// is watched through its parent directory.
func (w *sourceWatcher) add(fw *fsnotify.Watcher, paths []string) error {
	for _, arg := range paths {
		abs, err := filepath.Abs(arg)
		if err != nil {
			return fmt.Errorf("unable to get absolute path: %w", err)
		}
		st, err := os.Stat(abs)
		if err != nil {
			return err
		}

		if !st.IsDir() {
			w.files[abs] = true
			if err := fw.Add(filepath.Dir(abs)); err != nil {
				return fmt.Errorf("unable to watch %s: %w", filepath.Dir(abs), err)
			}
			continue
		}

		err = filepath.WalkDir(abs, func(p string, d os.DirEntry, err error) error {
			if err != nil || !d.IsDir() {
				return err
			}
			w.dirs[p] = true
			if err := fw.Add(p); err != nil {
				return fmt.Errorf("unable to watch %s: %w", p, err)
			}
			log.Debug("fsnotify watching dir", "dir", p)
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (w *sourceWatcher) relevant(name string) bool {
	return w.files[name] || (w.dirs[filepath.Dir(name)] && hasExt(name, w.exts))
}

// run handles events until ctx is done or fw is closed.
func (w *sourceWatcher) run(ctx context.Context, fw *fsnotify.Watcher) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if err := w.handle(ctx, fw, event); err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			log.Error("fsnotify error", "error", err)
		}
	}
}

func (w *sourceWatcher) handle(ctx context.Context, fw *fsnotify.Watcher, event fsnotify.Event) error {
	// New subdirectories of a watched tree are watched too.
	if event.Has(fsnotify.Create) && w.dirs[filepath.Dir(event.Name)] {
		if st, err := os.Stat(event.Name); err == nil && st.IsDir() {
			return w.add(fw, []string{event.Name})
		}
	}

	if !w.relevant(event.Name) {
		return nil
	}
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
		!event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return nil
	}
	log.Debug("fsnotify event", "file", event.Name, "event", event.Op)

	if err := w.limiter.Wait(ctx); err != nil {
		return err
	}
	w.check(ctx, event.Name)
	return nil
}

// check invalidates src if it changed and, with rewarm, analyzes it again.
// Failures are reported and do not stop the watch.
func (w *sourceWatcher) check(ctx context.Context, src string) {
	status, err := w.m.InvalidateIfChanged(ctx, src)
	if err != nil {
		fmt.Fprintf(w.p.w, "%s %s: %v\n", w.p.tag("error"), w.p.path(src), err)
		return
	}
	if status != cache.StatusInvalidated {
		return
	}
	fmt.Fprintf(w.p.w, "%s %s\n", w.p.tag(status.String()), w.p.path(src))

	if !w.rewarm {
		return
	}
	if _, err := os.Stat(src); err != nil {
		return
	}
	lk, err := w.m.Lookup(ctx, src)
	if err != nil {
		fmt.Fprintf(w.p.w, "%s %s: %v\n", w.p.tag("error"), w.p.path(src), err)
		return
	}
	fmt.Fprintf(w.p.w, "%s %s\n", w.p.tag(lk.Outcome.String()), w.p.path(src))
}
