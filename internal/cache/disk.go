package cache

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/worldx-ucra/worldcache/internal/format"
)

// ReadHeader reads and validates the header of a cache file.
func ReadHeader(cachePath string) (format.Header, error) {
	f, err := os.Open(cachePath)
	if err != nil {
		return format.Header{}, err
	}
	defer f.Close() //nolint:errcheck

	return readHeader(f)
}

func readHeader(r io.Reader) (format.Header, error) {
	var buf [format.HeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return format.Header{}, fmt.Errorf("%w: %v", format.ErrShortHeader, err)
		}
		return format.Header{}, err
	}

	var h format.Header
	if err := h.UnmarshalBinary(buf[:]); err != nil {
		return format.Header{}, err
	}
	return h, nil
}

// writeFile replaces path with data.
func writeFile(path string, data []byte, atomic bool) error {
	if !atomic {
		return os.WriteFile(path, data, 0o644)
	}

	// Write to temp file first, then rename (atomic on most systems)
	file, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tempPath := file.Name()

	_, err = file.Write(data)
	closeErr := file.Close()

	if err != nil {
		os.Remove(tempPath) //nolint:errcheck
		return err
	}
	if closeErr != nil {
		os.Remove(tempPath) //nolint:errcheck
		return closeErr
	}
	if err := os.Chmod(tempPath, 0o644); err != nil {
		os.Remove(tempPath) //nolint:errcheck
		return err
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath) //nolint:errcheck
		return err
	}
	return nil
}

// removeFile deletes path, best effort. A missing file is not an error.
func (m *Manager) removeFile(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		m.logger.Warn("could not remove cache file", "path", path, "error", err)
	}
}
