package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultDebounce is how long the watcher waits for writes to settle before reloading.
const DefaultDebounce = 500 * time.Millisecond

// ReloadFunc receives the freshly loaded file. Its error is logged.
type ReloadFunc func(src *Source) error

// Watcher reloads a variable file whenever it changes on disk.
type Watcher struct {
	loader   *Loader
	logger   zerolog.Logger
	debounce time.Duration

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	timer   *time.Timer
	closed  bool
	wg      sync.WaitGroup
}

// NewWatcher creates a watcher that reloads through loader.
func NewWatcher(loader *Loader, logger zerolog.Logger, debounce time.Duration) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		loader:   loader,
		logger:   logger.With().Str("component", "config_watcher").Logger(),
		debounce: debounce,
	}
}

// Watch starts watching path in the background. The parent directory is
// watched so that editors replacing the file are noticed. input is called
// before every reload to obtain the values predeclared for Starlark files.
func (w *Watcher) Watch(ctx context.Context, path string, input func() map[string]interface{}, reload ReloadFunc) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", path, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	w.mu.Lock()
	w.watcher = watcher
	w.mu.Unlock()

	w.wg.Add(1)
	go w.processEvents(ctx, watcher, abs, input, reload)

	w.logger.Info().Str("path", abs).Msg("Started watching config file")
	return nil
}

func (w *Watcher) processEvents(ctx context.Context, watcher *fsnotify.Watcher, path string, input func() map[string]interface{}, reload ReloadFunc) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			_ = w.Close()
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}

			w.logger.Debug().
				Str("file", event.Name).
				Str("op", event.Op.String()).
				Msg("Config file changed")
			w.schedule(ctx, path, input, reload)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}

func (w *Watcher) schedule(ctx context.Context, path string, input func() map[string]interface{}, reload ReloadFunc) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		closed := w.closed
		w.mu.Unlock()
		if closed {
			return
		}
		if err := w.reload(ctx, path, input, reload); err != nil {
			w.logger.Error().Err(err).Str("path", path).Msg("Failed to reload config")
		}
	})
}

func (w *Watcher) reload(ctx context.Context, path string, input func() map[string]interface{}, reload ReloadFunc) error {
	var vars map[string]interface{}
	if input != nil {
		vars = input()
	}

	src, err := w.loader.Load(ctx, path, vars)
	if err != nil {
		return err
	}
	if err := reload(src); err != nil {
		return fmt.Errorf("failed to apply reloaded config: %w", err)
	}

	w.logger.Info().
		Str("path", path).
		Int("variables", len(src.Values)).
		Msg("Config reloaded")
	return nil
}

// Close stops watching. Pending reloads are dropped.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	if w.timer != nil {
		w.timer.Stop()
	}
	watcher := w.watcher
	w.mu.Unlock()

	if watcher == nil {
		return nil
	}
	return watcher.Close()
}

// Wait blocks until the event loop has exited after Close or context cancellation.
func (w *Watcher) Wait() {
	w.wg.Wait()
}
