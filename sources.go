package main

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// collectSources expands args into a deduplicated list of source files.
// Files named directly are taken as they are; directories are walked for
// files whose extension is in exts. Order follows the arguments.
func collectSources(args []string, exts []string) ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	add := func(p string) error {
		abs, err := filepath.Abs(p)
		if err != nil {
			return fmt.Errorf("unable to get absolute path: %w", err)
		}
		if !seen[abs] {
			seen[abs] = true
			out = append(out, abs)
		}
		return nil
	}

	for _, arg := range args {
		st, err := os.Stat(arg)
		if err != nil || !st.IsDir() {
			// Missing files are reported by the command that uses them.
			if err := add(arg); err != nil {
				return nil, err
			}
			continue
		}

		err = filepath.WalkDir(arg, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !hasExt(p, exts) {
				return nil
			}
			return add(p)
		})
		if err != nil {
			return nil, fmt.Errorf("unable to walk %s: %w", arg, err)
		}
	}
	return out, nil
}

func hasExt(p string, exts []string) bool {
	ext := strings.ToLower(filepath.Ext(p))
	for _, e := range exts {
		if e == ext {
			return true
		}
	}
	return false
}
