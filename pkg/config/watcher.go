package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce 合併編輯器連續寫入 (atomic save) 造成的多次事件
const reloadDebounce = 500 * time.Millisecond

// WatchSystemConfig watches system.json and calls apply with the freshly
// loaded settings after every debounced change. It returns when ctx is done
// or the watcher cannot be created.
func WatchSystemConfig(ctx context.Context, path string, apply func(*SystemConfig)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	absPath, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	// Watch the directory so that rename-based saves keep being observed.
	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		return err
	}
	slog.DebugContext(ctx, "Watching system config", "file", absPath)

	var timer *time.Timer
	fire := make(chan struct{}, 1)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != absPath {
				continue
			}
			if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(reloadDebounce, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})
		case <-fire:
			cfg := LoadSystemConfig(absPath)
			slog.InfoContext(ctx, "System config reloaded",
				"max_iterations", cfg.MaxIterations,
				"strict_tools", cfg.StrictTools,
				"parallel_tools", cfg.ParallelTools,
				"log_level", cfg.LogLevel)
			apply(cfg)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.ErrorContext(ctx, "Watcher encountered an error", "error", err)
		}
	}
}
