package walker

import (
	"os"
	"path/filepath"
	"testing"

	"mbackup/internal/chunkmodel"
)

func buildTree(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "b.txt"), []byte("hi"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "sub", "c.txt"), []byte("world"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink("b.txt", filepath.Join(dir, "link")); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "skip.tmp"), []byte("ignored"), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func newIdentityWalker() *Walker {
	return &Walker{
		VisitFile: func(path string, info os.FileInfo) (string, uint64, error) {
			data, err := os.ReadFile(path)
			if err != nil {
				return "", 0, err
			}
			return "content-of-" + filepath.Base(path), uint64(len(data)), nil
		},
		FinishDir: func(entries []chunkmodel.DirEnt) (string, uint64, error) {
			return "dir-hash", chunkmodel.EstimateSize(entries), nil
		},
	}
}

func TestWalkSkipsExcludedFiles(t *testing.T) {
	dir := buildTree(t)
	w := newIdentityWalker()
	w.Excludes = []string{filepath.Join(dir, "*.tmp")}

	names := map[string]chunkmodel.EType{}
	finish := w.FinishDir
	w.FinishDir = func(entries []chunkmodel.DirEnt) (string, uint64, error) {
		for _, e := range entries {
			names[e.Name] = e.EType
		}
		return finish(entries)
	}

	root, err := w.Walk(dir, "root")
	if err != nil {
		t.Fatal(err)
	}

	// The root's FinishDir ran, and the excluded file never reached it.
	if root.Content != "dir-hash" {
		t.Fatalf("unexpected content: %s", root.Content)
	}
	if _, ok := names["skip.tmp"]; ok {
		t.Fatalf("excluded entry skip.tmp was passed to FinishDir")
	}
}

func TestWalkDetectsSymlink(t *testing.T) {
	dir := buildTree(t)
	var sawLink bool
	w := &Walker{
		VisitFile: func(path string, info os.FileInfo) (string, uint64, error) {
			return "x", 1, nil
		},
		FinishDir: func(entries []chunkmodel.DirEnt) (string, uint64, error) {
			for _, e := range entries {
				if e.EType == chunkmodel.Link {
					sawLink = true
					if e.Content != "b.txt" {
						t.Fatalf("link target = %q, want b.txt", e.Content)
					}
				}
			}
			return "h", 0, nil
		},
	}
	if _, err := w.Walk(dir, "root"); err != nil {
		t.Fatal(err)
	}
	if !sawLink {
		t.Fatal("expected to see the symlink entry")
	}
}

func TestWalkNameGuardAcceptsCleanNames(t *testing.T) {
	dir := t.TempDir()
	// Can't create a NUL-containing filename on most filesystems directly;
	// this test instead checks the walker's UTF-8/NUL guard compiles and
	// passes through clean names without false positives.
	if err := os.WriteFile(filepath.Join(dir, "clean.txt"), []byte("ok"), 0o644); err != nil {
		t.Fatal(err)
	}
	w := newIdentityWalker()
	if _, err := w.Walk(dir, "root"); err != nil {
		t.Fatal(err)
	}
}

func TestWalkSortsEntriesByName(t *testing.T) {
	dir := buildTree(t)
	var gotOrder []string
	w := &Walker{
		VisitFile: func(path string, info os.FileInfo) (string, uint64, error) { return "x", 1, nil },
		FinishDir: func(entries []chunkmodel.DirEnt) (string, uint64, error) {
			// Subdirectories finish before their parent, so keeping only the
			// last call captures the outermost (root) directory.
			gotOrder = gotOrder[:0]
			for _, e := range entries {
				gotOrder = append(gotOrder, e.Name)
			}
			return "h", 0, nil
		},
	}
	if _, err := w.Walk(dir, "root"); err != nil {
		t.Fatal(err)
	}
	for i := 1; i < len(gotOrder); i++ {
		if gotOrder[i-1] > gotOrder[i] {
			t.Fatalf("entries not sorted: %v", gotOrder)
		}
	}
}
