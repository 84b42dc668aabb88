package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func TestRunTriggersInitialBackup(t *testing.T) {
	root := t.TempDir()
	var runs int32

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, Options{
			Roots:     []string{root},
			Debounce:  10 * time.Millisecond,
			RunBackup: func(context.Context) error { atomic.AddInt32(&runs, 1); return nil },
		})
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if atomic.LoadInt32(&runs) < 1 {
		t.Fatalf("expected at least one backup run, got %d", runs)
	}
}

func TestRunDebouncesWriteBurst(t *testing.T) {
	root := t.TempDir()
	var runs int32

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, Options{
			Roots:     []string{root},
			Debounce:  40 * time.Millisecond,
			RunBackup: func(context.Context) error { atomic.AddInt32(&runs, 1); return nil },
		})
	}()
	time.Sleep(20 * time.Millisecond) // let the initial run and watch setup settle

	path := filepath.Join(root, "f.txt")
	for i := 0; i < 5; i++ {
		if err := os.WriteFile(path, []byte{byte(i)}, 0o644); err != nil {
			t.Fatal(err)
		}
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(100 * time.Millisecond)
	cancel()
	<-done

	// One initial run plus one debounced run for the whole burst: not five.
	if got := atomic.LoadInt32(&runs); got < 2 || got > 3 {
		t.Fatalf("expected the write burst to coalesce into ~1 extra run, got %d total runs", got)
	}
}

func TestWalkDirsVisitsNestedDirectories(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "a", "b"), 0o755); err != nil {
		t.Fatal(err)
	}
	var seen []string
	if err := walkDirs(root, func(dir string) { seen = append(seen, dir) }); err != nil {
		t.Fatal(err)
	}
	if len(seen) != 3 {
		t.Fatalf("expected 3 directories (root, a, a/b), got %d: %v", len(seen), seen)
	}
}
