package server

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Reloadable is anything whose policy can be re-read from disk.
type Reloadable interface {
	ReloadPolicy() error
}

// DebounceInterval is how long the reloader waits after the last write.
var DebounceInterval = 500 * time.Millisecond

// Reloader watches the policy file and triggers hot-reload.
type Reloader struct {
	watcher *fsnotify.Watcher
	target  Reloadable
	file    string
	log     *zap.Logger
}

// NewReloader watches the directory holding path, so editors that
// replace the file by rename are still noticed.
func NewReloader(target Reloadable, path string, log *zap.Logger) (*Reloader, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if path == "" {
		return nil, fmt.Errorf("server: reloader: empty policy path")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("server: reloader: %w", err)
	}
	dir := filepath.Dir(abs)
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("server: reloader: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %q: %w", dir, err)
	}

	return &Reloader{
		watcher: watcher,
		target:  target,
		file:    abs,
		log:     log.Named("reload"),
	}, nil
}

// Run watches for file changes and reloads policy. Blocks until ctx is cancelled.
func (r *Reloader) Run(ctx context.Context) error {
	defer r.watcher.Close()

	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-r.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != r.file {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(DebounceInterval, r.reload)

		case err, ok := <-r.watcher.Errors:
			if !ok {
				return nil
			}
			r.log.Warn("file watcher error", zap.Error(err))
		}
	}
}

func (r *Reloader) reload() {
	if err := r.target.ReloadPolicy(); err != nil {
		r.log.Error("hot-reload failed, keeping previous policy", zap.String("path", r.file), zap.Error(err))
		return
	}
	r.log.Info("policy reloaded", zap.String("path", r.file))
}
