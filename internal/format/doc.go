// Package format defines the on-disk layout of .worldcache files: a packed,
// little-endian 60-byte header followed by the analysis payload.
package format
