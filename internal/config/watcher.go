package config

import (
	"context"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/relaylabs/relay/internal/observability"
)

// WatchTemplates reloads the registry whenever files in its templates
// directory change. Events are debounced so editors that write in several
// syscalls trigger one reload. The watcher stops when ctx is cancelled.
func WatchTemplates(ctx context.Context, reg *TemplateRegistry, logger *observability.Logger) error {
	if reg.cfg.TemplatesDir == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(reg.cfg.TemplatesDir); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()

		var timer *time.Timer
		var timerC <-chan time.Time

		for {
			select {
			case <-ctx.Done():
				return

			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				if timer == nil {
					timer = time.NewTimer(250 * time.Millisecond)
					timerC = timer.C
				} else {
					timer.Reset(250 * time.Millisecond)
				}

			case <-timerC:
				if err := reg.Reload(); err != nil {
					logger.Warn(ctx, "template reload failed", "error", err)
				} else {
					logger.Info(ctx, "agent templates reloaded", "dir", reg.cfg.TemplatesDir)
				}

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn(ctx, "template watcher error", "error", err)
			}
		}
	}()

	return nil
}
