// Package chunkmodel defines the core data types shared by the client and
// server: the chunk size limits, the directory-entry record, and the
// deterministic serialization that turns a sorted entry list into the byte
// string whose hash becomes a directory's (or snapshot root's) content hash.
package chunkmodel

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

const (
	// ChunkSize is the maximum plaintext size of a single chunk.
	ChunkSize = 64 * 1024 * 1024

	// SmallSize is the inline/external storage threshold on the server: a
	// chunk body smaller than this is stored directly in the database.
	SmallSize = 16 * 1024

	// HashHexLen is the length of a bucket, chunk, or root hash once
	// rendered as lowercase hex.
	HashHexLen = 64

	// EmptyContent is the sentinel content string for zero-length files.
	EmptyContent = "empty"

	// NonceSize is the length, in bytes, of the random per-chunk nonce
	// prepended to every stored chunk's ciphertext.
	NonceSize = 12
)

// EType identifies the kind of filesystem entry a DirEnt describes.
type EType int

const (
	Dir EType = iota
	File
	Link
)

func (e EType) String() string {
	switch e {
	case Dir:
		return "dir"
	case File:
		return "file"
	case Link:
		return "link"
	default:
		return "unknown"
	}
}

// ParseEType parses the String() form back into an EType.
func ParseEType(s string) (EType, error) {
	switch s {
	case "dir":
		return Dir, nil
	case "file":
		return File, nil
	case "link":
		return Link, nil
	default:
		return 0, fmt.Errorf("chunkmodel: unknown entry type %q", s)
	}
}

// DirEnt is one record in a serialized directory (or snapshot root) listing.
// Content is a chunk hash for Dir and File entries, a symlink target for Link
// entries, and the literal EmptyContent string for zero-length files.
type DirEnt struct {
	Name    string
	EType   EType
	Content string
	Size    uint64
	Mode    uint32
	UID     uint32
	GID     uint32
	Mtime   int64
	Atime   int64
	Ctime   int64
}

// fieldSep separates fields within one record; recordSep separates records.
const fieldSep = "\x00"
const recordSep = "\x00\x00"

// SortEntries sorts entries lexicographically by name, as required before
// serialization (spec: "Entries are sorted by name").
func SortEntries(entries []DirEnt) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
}

// Serialize renders a sorted entry list into the exact byte form that is
// hashed to produce a directory's (or snapshot root's) content hash. The
// caller must have already sorted entries (SortEntries); Serialize does not
// sort itself so that callers performing the closed-form EstimateSize can
// rely on the same ordering without re-sorting.
func Serialize(entries []DirEnt) []byte {
	recs := make([]string, len(entries))
	for i, e := range entries {
		recs[i] = strings.Join([]string{
			e.Name,
			e.EType.String(),
			strconv.FormatUint(e.Size, 10),
			e.Content,
			strconv.FormatUint(uint64(e.Mode), 10),
			strconv.FormatUint(uint64(e.UID), 10),
			strconv.FormatUint(uint64(e.GID), 10),
			strconv.FormatInt(e.Mtime, 10),
			strconv.FormatInt(e.Atime, 10),
			strconv.FormatInt(e.Ctime, 10),
		}, fieldSep)
	}
	return []byte(strings.Join(recs, recordSep))
}

// EstimateSize computes the scan-pass closed-form size estimate for a
// directory's serialized form without actually serializing it: for each
// entry, len(name) + 25 (a rough fixed-field estimate) + len(content), plus
// one byte of inter-record separator overhead between entries.
func EstimateSize(entries []DirEnt) uint64 {
	var total uint64
	for i, e := range entries {
		if i != 0 {
			total++
		}
		total += uint64(len(e.Name)) + 25 + uint64(len(e.Content))
	}
	return total
}

// PlaceholderHash is the literal 32-zero-byte hash (rendered as 64 '0' hex
// characters) used in scan mode in place of a real content hash, so that
// downstream sizing is consistent without touching the network.
var PlaceholderHash = strings.Repeat("0", HashHexLen)

// IsHex64 reports whether s is exactly HashHexLen lowercase hex characters,
// the wire form required for bucket, chunk, and root hashes.
func IsHex64(s string) bool {
	if len(s) != HashHexLen {
		return false
	}
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
