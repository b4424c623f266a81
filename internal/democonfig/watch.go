package democonfig

import (
	"github.com/fsnotify/fsnotify"
)

// Watcher reports writes to a config file so an operator can be told a
// running bfalloc instance's config has drifted from disk. The heap
// ceiling an Arena reserves is fixed for that arena's whole lifetime, so
// this never hot-reloads anything — it is purely informational, the same
// way vfs.FSNotifyWatcher translates raw fsnotify events into a smaller
// named vocabulary for its callers.
type Watcher struct {
	w     *fsnotify.Watcher
	Event chan struct{}
}

// NewWatcher starts watching path for writes.
func NewWatcher(path string) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if err := w.Add(path); err != nil {
		_ = w.Close()
		return nil, err
	}

	cw := &Watcher{w: w, Event: make(chan struct{}, 1)}
	go cw.loop()

	return cw, nil
}

func (cw *Watcher) loop() {
	for ev := range cw.w.Events {
		if ev.Op&fsnotify.Write != 0 {
			select {
			case cw.Event <- struct{}{}:
			default:
			}
		}
	}
}

// Close stops the underlying fsnotify watcher.
func (cw *Watcher) Close() error {
	return cw.w.Close()
}
