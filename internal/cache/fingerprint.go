package cache

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/worldx-ucra/worldcache/internal/format"
)

const (
	// read buffers handed out by the manager's byte pool
	fingerprintBufSize = 64 * 1024
	fingerprintBufs    = 4
)

// Fingerprint hashes every byte of r with 64-bit xxHash, reading through buf.
// The hash is order sensitive; it is a staleness signal, not a security
// property.
func Fingerprint(r io.Reader, buf []byte) (uint64, error) {
	if len(buf) == 0 {
		buf = make([]byte, fingerprintBufSize)
	}
	d := xxhash.New()
	for {
		n, err := r.Read(buf)
		if n > 0 {
			_, _ = d.Write(buf[:n])
		}
		if errors.Is(err, io.EOF) {
			return d.Sum64(), nil
		}
		if err != nil {
			return 0, err
		}
	}
}

// freshness is the pair stored in a header to detect source changes.
type freshness struct {
	mtime       uint64
	fingerprint uint64
}

func (f freshness) matches(h format.Header) bool {
	return h.SourceMTime == f.mtime && h.Fingerprint == f.fingerprint
}

// freshness stats and hashes the source file.
func (m *Manager) freshness(sourcePath string) (freshness, error) {
	f, err := os.Open(sourcePath)
	if err != nil {
		return freshness{}, err
	}
	defer f.Close() //nolint:errcheck

	st, err := f.Stat()
	if err != nil {
		return freshness{}, err
	}

	buf := m.pool.Get()
	defer m.pool.Put(buf)

	start := time.Now()
	sum, err := Fingerprint(f, buf)
	if err != nil {
		return freshness{}, fmt.Errorf("fingerprint %s: %w", sourcePath, err)
	}
	m.logger.Debug("fingerprinted source", "path", sourcePath, "fingerprint", fmt.Sprintf("%016x", sum), "duration", time.Since(start))

	return freshness{
		mtime:       uint64(st.ModTime().UnixNano()),
		fingerprint: sum,
	}, nil
}
