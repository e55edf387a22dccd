package config

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ReloadCallback is called with the freshly loaded config after the
// watched file changes
type ReloadCallback func(cfg *Config)

// Watcher monitors a config file and reloads it on change. Editors often
// produce several write events in quick succession, so reloads are
// debounced.
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	callback ReloadCallback
	debounce time.Duration

	timer *time.Timer
	mu    sync.Mutex
	done  chan struct{}
}

// NewWatcher creates a watcher for the given config file path
func NewWatcher(path string, callback ReloadCallback) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		path:     path,
		watcher:  fw,
		callback: callback,
		debounce: 500 * time.Millisecond,
		done:     make(chan struct{}),
	}

	return w, nil
}

// Start begins watching. Returns an error if the file's directory cannot
// be watched; a missing file itself is fine (it may be created later).
func (w *Watcher) Start() error {
	// Watch the directory, not the file: many editors replace the file
	// on save, which drops a direct file watch.
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return err
	}

	go w.loop()
	return nil
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Name != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.scheduleReload()
		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		cfg, err := Load(w.path)
		if err != nil {
			return // keep the previous config on a bad edit
		}
		w.callback(cfg)
	})
}

// Stop stops watching and releases the underlying watcher
func (w *Watcher) Stop() {
	close(w.done)
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	w.watcher.Close()
}
