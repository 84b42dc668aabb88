// Package walker recursively enumerates a directory tree, producing sorted
// DirEnt lists per directory. It never reads file bodies or talks to the
// network itself — callers supply a FileVisitor that does the chunking and
// upload, in either scan or transfer mode.
package walker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/sync/errgroup"

	"mbackup/internal/backuperr"
	"mbackup/internal/chunkmodel"
)

// FileVisitor processes one regular file, returning its DirEnt.content and
// size (the directory encoder fills in the rest of the DirEnt).
type FileVisitor func(path string, info os.FileInfo) (content string, size uint64, err error)

// DirFinisher is called after all of a directory's children have been
// visited, with the directory's sorted entry list, and returns the
// directory's own (content, size) pair.
type DirFinisher func(entries []chunkmodel.DirEnt) (content string, size uint64, err error)

// Walker traverses one or more root directories.
type Walker struct {
	VisitFile FileVisitor
	FinishDir DirFinisher
	Excludes  []string // doublestar glob patterns matched against absolute paths

	// Parallelism bounds how many of a directory's regular-file children are
	// hashed/probed concurrently via VisitFile. Zero or one keeps the walk
	// fully sequential. Subdirectories are always walked after the current
	// directory's files finish, and a directory's own entries are always
	// sorted and finished only once every child has completed — parallelism
	// only overlaps sibling file work, never directory finalization.
	Parallelism int
}

// Walk processes root (which must be a directory) and returns its DirEnt,
// named name in its parent's listing.
func (w *Walker) Walk(root, name string) (chunkmodel.DirEnt, error) {
	info, err := os.Lstat(root)
	if err != nil {
		return chunkmodel.DirEnt{}, backuperr.New(backuperr.Io, err)
	}
	return w.walkDir(root, name, info)
}

func (w *Walker) excluded(path string) bool {
	for _, pattern := range w.Excludes {
		if ok, _ := doublestar.Match(pattern, path); ok {
			return true
		}
	}
	return false
}

// childKind classifies one filtered, named child of a directory prior to
// visiting it.
type childKind int

const (
	kindFile childKind = iota
	kindDir
	kindLink
)

type child struct {
	path string
	name string
	info os.FileInfo
	kind childKind
}

func (w *Walker) walkDir(path, name string, info os.FileInfo) (chunkmodel.DirEnt, error) {
	dirents, err := os.ReadDir(path)
	if err != nil {
		return chunkmodel.DirEnt{}, backuperr.New(backuperr.Io, err)
	}

	var children []child
	for _, de := range dirents {
		childName := de.Name()
		if !utf8.ValidString(childName) || strings.ContainsRune(childName, 0) {
			return chunkmodel.DirEnt{}, backuperr.NewPath(filepath.Join(path, childName), fmt.Errorf("name is not valid UTF-8 or contains a NUL byte"))
		}
		childPath := filepath.Join(path, childName)
		if w.excluded(childPath) {
			continue
		}

		childInfo, err := de.Info()
		if err != nil {
			return chunkmodel.DirEnt{}, backuperr.New(backuperr.Io, err)
		}

		var kind childKind
		switch {
		case childInfo.Mode()&os.ModeSymlink != 0:
			kind = kindLink
		case childInfo.IsDir():
			kind = kindDir
		case childInfo.Mode().IsRegular():
			kind = kindFile
		default:
			continue // device, socket, fifo: silently skipped
		}
		children = append(children, child{path: childPath, name: childName, info: childInfo, kind: kind})
	}

	entries := make([]chunkmodel.DirEnt, len(children))

	// Regular files hash/probe independently of each other, so they can run
	// concurrently up to Parallelism. Directories and symlinks are walked
	// sequentially: a directory's own finish step needs all its children
	// done first, so nothing is gained by overlapping sibling directories
	// at this level (their own files still parallelize one level down).
	g, _ := errgroup.WithContext(context.Background())
	if w.Parallelism > 1 {
		g.SetLimit(w.Parallelism)
	} else {
		g.SetLimit(1)
	}
	for i, c := range children {
		if c.kind != kindFile {
			continue
		}
		i, c := i, c
		g.Go(func() error {
			entry, err := w.walkFile(c.path, c.name, c.info)
			if err != nil {
				return err
			}
			entries[i] = entry
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return chunkmodel.DirEnt{}, err
	}

	for i, c := range children {
		var entry chunkmodel.DirEnt
		var err error
		switch c.kind {
		case kindLink:
			entry, err = w.walkLink(c.path, c.name, c.info)
		case kindDir:
			entry, err = w.walkDir(c.path, c.name, c.info)
		default:
			continue
		}
		if err != nil {
			return chunkmodel.DirEnt{}, err
		}
		entries[i] = entry
	}

	chunkmodel.SortEntries(entries)
	content, size, err := w.FinishDir(entries)
	if err != nil {
		return chunkmodel.DirEnt{}, err
	}

	mtime, atime, ctime, uid, gid := statTimes(info)
	return chunkmodel.DirEnt{
		Name:    name,
		EType:   chunkmodel.Dir,
		Content: content,
		Size:    size,
		Mode:    uint32(info.Mode().Perm()),
		UID:     uid,
		GID:     gid,
		Mtime:   mtime,
		Atime:   atime,
		Ctime:   ctime,
	}, nil
}

func (w *Walker) walkFile(path, name string, info os.FileInfo) (chunkmodel.DirEnt, error) {
	content, size, err := w.VisitFile(path, info)
	if err != nil {
		return chunkmodel.DirEnt{}, err
	}
	mtime, atime, ctime, uid, gid := statTimes(info)
	return chunkmodel.DirEnt{
		Name:    name,
		EType:   chunkmodel.File,
		Content: content,
		Size:    size,
		Mode:    uint32(info.Mode().Perm()),
		UID:     uid,
		GID:     gid,
		Mtime:   mtime,
		Atime:   atime,
		Ctime:   ctime,
	}, nil
}

func (w *Walker) walkLink(path, name string, info os.FileInfo) (chunkmodel.DirEnt, error) {
	target, err := os.Readlink(path)
	if err != nil {
		return chunkmodel.DirEnt{}, backuperr.New(backuperr.Io, err)
	}
	mtime, atime, ctime, uid, gid := statTimes(info)
	return chunkmodel.DirEnt{
		Name:    name,
		EType:   chunkmodel.Link,
		Content: target,
		Size:    uint64(len(target)),
		Mode:    uint32(info.Mode().Perm()),
		UID:     uid,
		GID:     gid,
		Mtime:   mtime,
		Atime:   atime,
		Ctime:   ctime,
	}, nil
}

// IsDir reports whether path currently names a directory, used to skip
// configured backup roots that have disappeared or changed type.
func IsDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
