package auth

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// WatchCache monitors the token cache file and reloads it when another
// process (e.g. a second spotify-term instance sharing the cache)
// refreshes the token. It blocks until the context is cancelled. Intended
// to run in a background goroutine alongside the dashboard.
func (e *Engine) WatchCache(ctx context.Context) error {
	if !e.cache.Enabled {
		<-ctx.Done()

		return ctx.Err()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory, not the file: atomic saves replace the file by
	// rename, which drops a watch on the file itself.
	if err := watcher.Add(e.cache.Dir); err != nil {
		return fmt.Errorf("watching cache directory: %w", err)
	}

	target := e.cache.path(e.strategy.FlowID())

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("fsnotify events channel closed")
			}

			if filepath.Clean(event.Name) != target {
				continue
			}

			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}

			e.reloadFromCache()

		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("fsnotify errors channel closed")
			}

			e.logger.Debug("cache watcher error", slog.Any("error", err))
		}
	}
}

// reloadFromCache installs an externally written token if it is usable
// and differs from the one in memory. The engine's own saves rewrite the
// same value, so those loads are no-ops here.
func (e *Engine) reloadFromCache() {
	tok, err := LoadToken(e.cache, e.strategy.FlowID())
	if err != nil {
		e.logger.Debug("reloading token cache failed", slog.Any("error", err))

		return
	}

	if e.usable(tok) != nil || tok.IsExpired() {
		return
	}

	e.mu.Lock()
	same := tok.AccessToken == e.token.AccessToken
	if !same {
		e.token = tok
	}
	cb := e.onToken
	e.mu.Unlock()

	if !same {
		e.logger.Info("picked up externally refreshed token")

		if cb != nil {
			cb(tok)
		}
	}
}
