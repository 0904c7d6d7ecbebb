package config

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Logger is the minimal logging surface the watcher needs.
type Logger interface {
	Printf(format string, args ...any)
}

// Watcher reloads the config file when it changes and hands each valid
// reload to the callback. Invalid intermediate states are logged and
// skipped, so a half-written file never reaches the callback.
type Watcher struct {
	path     string
	logger   Logger
	onChange func(Config)

	fsWatcher *fsnotify.Watcher
	closeOnce sync.Once
	done      chan struct{}
}

// NewWatcher starts watching path. The directory is watched rather than
// the file itself so editors that replace the file via rename keep
// triggering reloads.
func NewWatcher(path string, logger Logger, onChange func(Config)) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsWatcher.Add(filepath.Dir(path)); err != nil {
		fsWatcher.Close()
		return nil, err
	}
	w := &Watcher{
		path:      path,
		logger:    logger,
		onChange:  onChange,
		fsWatcher: fsWatcher,
		done:      make(chan struct{}),
	}
	go w.run()
	return w, nil
}

func (w *Watcher) Close() {
	w.closeOnce.Do(func() {
		w.fsWatcher.Close()
		<-w.done
	})
}

func (w *Watcher) run() {
	defer close(w.done)
	var reloadTimer *time.Timer
	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			// Editors fire bursts of events per save; coalesce them.
			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			reloadTimer = time.AfterFunc(50*time.Millisecond, w.reload)
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logf("config watch error: %v", err)
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logf("config reload skipped: %v", err)
		return
	}
	if w.onChange != nil {
		w.onChange(cfg)
	}
}

func (w *Watcher) logf(format string, args ...any) {
	if w.logger != nil {
		w.logger.Printf(format, args...)
	}
}
