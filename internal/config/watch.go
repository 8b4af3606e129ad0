package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/lyehe/porterminal/internal/logger"
)

const watchDebounce = 50 * time.Millisecond

// Watch reloads the config whenever its file changes on disk. The parent
// directory is watched rather than the file itself, since editors replace
// files by rename. Returns immediately when no file backs this holder.
func (l *Live) Watch(ctx context.Context) error {
	if l.path == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	dir := filepath.Dir(l.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return err
	}
	base := filepath.Base(l.path)

	go func() {
		defer watcher.Close()
		var debounce *time.Timer
		defer func() {
			if debounce != nil {
				debounce.Stop()
			}
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(ev.Name) != base {
					continue
				}
				if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
					continue
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(watchDebounce, func() {
					if _, err := l.Reload(); err != nil {
						logger.Warn("config reload failed", "path", l.path, "error", err)
						return
					}
					logger.Info("configuration reloaded", "path", l.path)
				})
			case werr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("config watcher error", "error", werr)
			}
		}
	}()
	return nil
}
