package policy

import (
	"context"
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher reloads a Source when its policy file changes on disk, so policy
// edits take effect without a gateway restart.
type Watcher struct {
	watcher *fsnotify.Watcher
	source  *Source
	logger  *zap.Logger
}

const reloadDebounce = 500 * time.Millisecond

// NewWatcher starts watching the file behind source. Callers must run Run
// and close it via the context.
func NewWatcher(source *Source, path string, logger *zap.Logger) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create policy watcher: %w", err)
	}
	if err := w.Add(path); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("watch %q: %w", path, err)
	}
	return &Watcher{watcher: w, source: source, logger: logger}, nil
}

// Run applies debounced file writes to the Source. Blocks until ctx is
// cancelled. A reload failure keeps the previous table and is logged, not
// fatal.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	var debounce *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.NewTimer(reloadDebounce)
				fire = debounce.C
			}

		case <-fire:
			fire = nil
			if err := w.source.Reload(); err != nil {
				w.logger.Warn("policy reload failed, previous table kept", zap.Error(err))
				continue
			}
			w.logger.Info("policy table reloaded",
				zap.Int("policies", w.source.Len()),
				zap.String("hash", w.source.Hash()))

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("policy watcher error", zap.Error(err))
		}
	}
}
