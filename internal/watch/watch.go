// Package watch implements the client's watch mode: it observes the backup
// roots for filesystem changes and triggers a new backup run shortly after
// activity settles, instead of waiting for a fixed schedule.
package watch

import (
	"context"
	"io/fs"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Options configures Run. RunBackup performs one full backup pass and
// returns only its error; Run calls it with its own ctx each time, so
// whatever else a pass needs is captured by the RunBackup closure itself.
type Options struct {
	Roots []string

	// Debounce is how long the watcher waits after the last observed event
	// before triggering a run, coalescing bursts of writes (an editor's
	// save-as-rename-and-recreate dance, a large copy) into one backup.
	// Zero uses a 2 second default.
	Debounce time.Duration

	Logger *slog.Logger

	RunBackup func(ctx context.Context) error
}

// Run watches opts.Roots until ctx is cancelled, triggering opts.RunBackup
// once up front and again after every settled burst of filesystem activity.
func Run(ctx context.Context, opts Options) error {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = 2 * time.Second
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	for _, root := range opts.Roots {
		if err := addTree(watcher, root, logger); err != nil {
			logger.Warn("failed to watch root", "root", root, "error", err)
		}
	}

	if err := opts.RunBackup(ctx); err != nil {
		logger.Error("initial backup run failed", "error", err)
	}

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Create) {
				// A newly created directory needs its own watch, and
				// everything already inside it (a moved-in tree arrives as
				// one Create on its root).
				if err := addTree(watcher, event.Name, logger); err != nil {
					logger.Debug("not a directory or already gone", "path", event.Name, "error", err)
				}
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(debounce)
			}
			timerC = timer.C

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("fsnotify error", "error", err)

		case <-timerC:
			timerC = nil
			if err := opts.RunBackup(ctx); err != nil {
				logger.Error("backup run failed", "error", err)
			}
		}
	}
}

// addTree adds a fsnotify watch on path, if it is a directory, and on every
// subdirectory beneath it; a non-directory path gets no watch. fsnotify watches are never recursive, so a fresh
// subtree (new directory, or the initial roots) must be walked explicitly.
func addTree(watcher *fsnotify.Watcher, path string, logger *slog.Logger) error {
	return walkDirs(path, func(dir string) {
		if err := watcher.Add(dir); err != nil {
			logger.Debug("failed to watch directory", "dir", dir, "error", err)
		}
	})
}

// walkDirs calls visit for path and every directory beneath it. A path that
// names a non-directory visits nothing and returns nil. A path that does not
// exist or cannot be read returns that error, which the callers log (a
// create event for an entry already gone, a root that vanished before it
// could be watched). Unreadable entries below path are skipped.
func walkDirs(path string, visit func(dir string)) error {
	return filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == path {
				return err
			}
			return nil // skip unreadable subtrees rather than aborting the whole walk
		}
		if d.IsDir() {
			visit(p)
		}
		return nil
	})
}
