// ABOUTME: Watches a simulation log with fsnotify and re-reads progress when it changes.
// ABOUTME: A fallback ticker covers filesystems that do not deliver write events.
package progress

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultInterval is the fallback re-read period.
const DefaultInterval = 10 * time.Second

const debounce = 250 * time.Millisecond

// Watcher reports progress samples for one log file.
type Watcher struct {
	path     string
	interval time.Duration
	logger   *zap.Logger
}

// NewWatcher returns a watcher for path. interval <= 0 uses DefaultInterval.
func NewWatcher(path string, interval time.Duration, logger *zap.Logger) *Watcher {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		path:     path,
		interval: interval,
		logger:   logger.With(zap.String("component", "progress.watcher")),
	}
}

// Run blocks until ctx is done, calling emit with every new sample. Samples
// equal to the last emitted one are suppressed. Run returns nil on
// cancellation; fsnotify setup failures fall back to ticker-only polling.
func (w *Watcher) Run(ctx context.Context, emit func(Sample)) error {
	var events <-chan fsnotify.Event
	var errs <-chan error

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Warn("fsnotify unavailable, polling only", zap.String("action", "watch_fallback"), zap.Error(err))
	} else {
		defer fw.Close()
		dir := filepath.Dir(w.path)
		if mkErr := os.MkdirAll(dir, 0o755); mkErr != nil {
			w.logger.Debug("create log dir", zap.String("action", "watch_mkdir"), zap.Error(mkErr))
		}
		if addErr := fw.Add(dir); addErr != nil {
			w.logger.Warn("watch log dir failed, polling only", zap.String("action", "watch_fallback"),
				zap.String("dir", dir), zap.Error(addErr))
		} else {
			events = fw.Events
			errs = fw.Errors
		}
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	timer := time.NewTimer(debounce)
	defer timer.Stop()

	var last *Sample
	check := func() {
		res := Read(w.path)
		if !res.Available {
			return
		}
		if last != nil && *last == *res.Progress {
			return
		}
		s := *res.Progress
		last = &s
		emit(s)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				timer.Reset(debounce)
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			w.logger.Debug("watch error", zap.String("action", "watch_error"), zap.Error(err))
		case <-timer.C:
			check()
		case <-ticker.C:
			check()
		}
	}
}
