package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"a2csmcp/pkg/logging"
)

// debounceDelay coalesces the burst of events editors emit per save.
const debounceDelay = 250 * time.Millisecond

// Watch reloads the config file on every change and hands the result to
// onChange. Parse failures are logged and skipped so a half-saved file never
// reaches the callback. Watch blocks until ctx is done.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Watch the directory, not the file: editors replace files on save,
	// which drops a file-level watch.
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return err
	}
	target := filepath.Clean(path)

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounceDelay)
				timerC = timer.C
			} else {
				timer.Reset(debounceDelay)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logging.Warn("Config", "watch error for %s: %v", path, err)

		case <-timerC:
			timer = nil
			timerC = nil
			cfg, err := Load(path)
			if err != nil {
				logging.Warn("Config", "reload skipped: %v", err)
				continue
			}
			onChange(cfg)
		}
	}
}
