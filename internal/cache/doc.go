// Package cache persists acoustic-analysis results next to their source audio
// and decides, per lookup, whether the stored file is a hit, stale, corrupt or
// missing. Freshness is the pair (source modification time, xxHash of the
// full source contents) recorded in the file header.
package cache
