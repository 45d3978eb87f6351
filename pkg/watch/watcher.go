// Package watch re-runs an extraction whenever a watched trace changes.
package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the quiet period after the last write before a
// change is reported. Simulators write traces in bursts.
const DefaultDebounce = 500 * time.Millisecond

// Watcher monitors trace files for changes and triggers updates.
type Watcher struct {
	watcher  *fsnotify.Watcher
	files    map[string]*fileState
	mu       sync.RWMutex
	debounce time.Duration

	// OnChange is called with the absolute path of a changed trace.
	// Calls for one path never overlap.
	OnChange func(ctx context.Context, path string) error

	// OnError receives watcher and OnChange errors. path is empty for
	// watcher-level errors.
	OnError func(path string, err error)
}

type fileState struct {
	path         string
	lastModified time.Time
	size         int64
	processing   bool
}

// NewWatcher creates a new file watcher. A non-positive debounce uses
// DefaultDebounce.
func NewWatcher(debounce time.Duration) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	return &Watcher{
		watcher:  fsWatcher,
		files:    make(map[string]*fileState),
		debounce: debounce,
	}, nil
}

// Watch starts watching a trace file. The file must exist.
func (w *Watcher) Watch(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	stat, err := os.Stat(absPath)
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}

	w.mu.Lock()
	w.files[absPath] = &fileState{
		path:         absPath,
		lastModified: stat.ModTime(),
		size:         stat.Size(),
	}
	w.mu.Unlock()

	// Watch the directory so rename-on-save editors and simulators that
	// recreate the file are still seen.
	if err := w.watcher.Add(filepath.Dir(absPath)); err != nil {
		return fmt.Errorf("failed to watch directory: %w", err)
	}

	return nil
}

// Paths returns the watched files, absolute.
func (w *Watcher) Paths() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]string, 0, len(w.files))
	for p := range w.files {
		out = append(out, p)
	}
	return out
}

// Run starts the watch loop. Blocks until context is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	debounceTimers := make(map[string]*time.Timer)
	var timerMu sync.Mutex

	defer func() {
		timerMu.Lock()
		for _, t := range debounceTimers {
			t.Stop()
		}
		timerMu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			w.watcher.Close()
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}

			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			absPath, err := filepath.Abs(event.Name)
			if err != nil {
				continue
			}

			w.mu.RLock()
			state, isWatched := w.files[absPath]
			w.mu.RUnlock()

			if !isWatched {
				continue
			}

			// Debounce rapid changes
			timerMu.Lock()
			if timer, exists := debounceTimers[absPath]; exists {
				timer.Stop()
			}
			debounceTimers[absPath] = time.AfterFunc(w.debounce, func() {
				w.handleChange(ctx, state)
			})
			timerMu.Unlock()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			if w.OnError != nil {
				w.OnError("", err)
			}
		}
	}
}

func (w *Watcher) handleChange(ctx context.Context, state *fileState) {
	if ctx.Err() != nil {
		return
	}

	w.mu.Lock()
	if state.processing {
		w.mu.Unlock()
		return
	}
	state.processing = true
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		state.processing = false
		w.mu.Unlock()
	}()

	stat, err := os.Stat(state.path)
	if err != nil {
		if w.OnError != nil {
			w.OnError(state.path, err)
		}
		return
	}

	w.mu.Lock()
	unchanged := stat.ModTime().Equal(state.lastModified) && stat.Size() == state.size
	if !unchanged {
		state.lastModified = stat.ModTime()
		state.size = stat.Size()
	}
	w.mu.Unlock()

	if unchanged {
		return
	}

	if w.OnChange != nil {
		if err := w.OnChange(ctx, state.path); err != nil && w.OnError != nil {
			w.OnError(state.path, err)
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
