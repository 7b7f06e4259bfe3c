package config

import (
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// Watcher hot-reloads the subset of Config that is safe to change at
// runtime (check-level, trace-level, stats-print) from a tuning file,
// grounded on FSNotifyWatcher in internal/runtime/vfs/watch_fsnotify.go.
// Fields outside that safe set are only ever read at process start via
// FromFile/FromEnviron/Option; Watcher never touches them.
type Watcher struct {
	path string
	w    *fsnotify.Watcher

	mu      sync.Mutex
	current Config

	closed atomic.Bool
	errC   chan error
	done   chan struct{}
}

// NewWatcher starts watching path for writes, applying reloadable keys
// from it on top of initial whenever the file changes. The returned
// Watcher owns the fsnotify handle; call Close to release it.
func NewWatcher(path string, initial Config) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if err := w.Add(path); err != nil {
		w.Close()
		return nil, err
	}

	watcher := &Watcher{
		path:    path,
		w:       w,
		current: initial,
		errC:    make(chan error, 1),
		done:    make(chan struct{}),
	}

	go watcher.loop()

	return watcher, nil
}

func (w *Watcher) loop() {
	defer close(w.done)

	for {
		select {
		case ev, ok := <-w.w.Events:
			if !ok {
				return
			}

			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			w.reload()

		case err, ok := <-w.w.Errors:
			if !ok {
				return
			}

			select {
			case w.errC <- err:
			default:
			}
		}
	}
}

func (w *Watcher) reload() {
	w.mu.Lock()
	defer w.mu.Unlock()

	reloaded, err := FromFile(w.current, w.path)
	if err != nil {
		select {
		case w.errC <- err:
		default:
		}

		return
	}

	// Only the keys FromFile/applyKV marked reloadable are allowed to
	// have changed; every other field is carried over from the live
	// Config untouched, so a malformed or partial tuning file can never
	// silently mutate a field that must stay fixed for a heap's
	// lifetime (e.g. DirectMapThreshold).
	next := w.current
	next.CheckLevel = reloaded.CheckLevel
	next.TraceLevel = reloaded.TraceLevel
	next.StatsPrint = reloaded.StatsPrint
	w.current = next
}

// Current returns the most recently reloaded Config.
func (w *Watcher) Current() Config {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.current
}

// Errors returns a non-blocking channel that receives watch errors.
func (w *Watcher) Errors() <-chan error { return w.errC }

// Close stops the watcher and releases its fsnotify handle.
func (w *Watcher) Close() error {
	if !w.closed.CompareAndSwap(false, true) {
		return nil
	}

	err := w.w.Close()
	<-w.done

	return err
}

// ReloadableKeys returns a copy of the set of keys FromFile/Watcher ever
// apply at runtime without a restart, for callers validating a tuning
// file.
func ReloadableKeys() map[string]bool {
	out := make(map[string]bool, len(reloadableKeys))
	for k, v := range reloadableKeys {
		out[k] = v
	}

	return out
}
