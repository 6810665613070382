package engine

// watch.go - filesystem-triggered re-runs

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceWindow coalesces editor save bursts into one run.
const debounceWindow = 300 * time.Millisecond

// Watch runs once, then re-runs whenever a model file changes, until the
// context is cancelled. Each run's outcome is delivered to onRun; a failed
// run does not stop the watch.
func (e *Engine) Watch(ctx context.Context, opts RunOptions, onRun func(*RunResult, error)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := watchRecursive(watcher, e.cfg.ModelsDir); err != nil {
		return err
	}

	onRun(e.Run(ctx, opts))

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			// New subdirectories need their own watch.
			if event.Op.Has(fsnotify.Create) {
				if err := watchRecursive(watcher, event.Name); err == nil {
					e.logger.Debug("watching new directory", "path", event.Name)
				}
			}
			if !strings.HasSuffix(event.Name, ".sql") {
				continue
			}
			e.logger.Debug("model file changed", "path", event.Name, "op", event.Op.String())
			if timer == nil {
				timer = time.NewTimer(debounceWindow)
			} else {
				timer.Reset(debounceWindow)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			onRun(e.Run(ctx, opts))

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			e.logger.Warn("watch error", "error", err)
		}
	}
}

// watchRecursive adds root and every subdirectory to the watcher. Non-dirs
// are ignored.
func watchRecursive(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") && path != root {
			return filepath.SkipDir
		}
		return watcher.Add(path)
	})
}
