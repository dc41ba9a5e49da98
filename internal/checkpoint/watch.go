package checkpoint

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch calls fn with the record at path each time it is replaced, until
// ctx is done. The parent directory is watched because Save renames over
// the file, which drops watches held on the file itself.
func Watch(ctx context.Context, path string, fn func(Record)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	target := filepath.Clean(path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watching %s: %w", filepath.Dir(target), err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(evt.Name) != target {
				continue
			}
			if evt.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			r, err := Load(target)
			if err != nil {
				slog.Debug("checkpoint not readable yet", "path", target, "error", err)
				continue
			}
			fn(r)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("checkpoint watcher error", "error", err)
		}
	}
}
