package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	gap "github.com/muesli/go-app-paths"
)

func getLogFilePath() (string, error) {
	dir, err := gap.NewScope(gap.User, "worldcache").CacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "worldcache.log"), nil
}

// setupLog points the default logger at path, or at the user cache dir when
// path is empty. verbose sends debug output to stderr instead.
func setupLog(path string, level log.Level, verbose bool) (func() error, error) {
	if verbose {
		log.SetOutput(os.Stderr)
		log.SetLevel(log.DebugLevel)
		return func() error { return nil }, nil
	}

	// Log to file, if set
	log.SetOutput(io.Discard)
	if path == "" {
		var err error
		path, err = getLogFilePath()
		if err != nil {
			// log disabled
			return func() error { return nil }, nil //nolint:nilerr
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil { //nolint:gosec
		return nil, fmt.Errorf("unable to create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644) //nolint:gosec
	if err != nil {
		return nil, fmt.Errorf("unable to open log file: %w", err)
	}
	log.SetOutput(f)
	log.SetLevel(level)
	return f.Close, nil
}
