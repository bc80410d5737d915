// Package watcher reports changes to a data source's backing file or
// directory tree, debounced, so the tree grid can refresh.
package watcher

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/vanderheijden86/treegrid/pkg/debug"
)

// Common errors.
var (
	ErrFileRemoved    = errors.New("watched file was removed")
	ErrAlreadyStarted = errors.New("watcher already started")
)

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounceDuration sets the debounce duration.
func WithDebounceDuration(d time.Duration) Option {
	return func(w *Watcher) {
		w.debounceDuration = d
	}
}

// WithOnChange sets the callback invoked with the changed directories,
// relative to the watched root and slash-separated ("" is the root itself).
func WithOnChange(fn func(dirs []string)) Option {
	return func(w *Watcher) {
		w.onChange = fn
	}
}

// WithOnError sets the callback invoked on errors.
func WithOnError(fn func(error)) Option {
	return func(w *Watcher) {
		w.onError = fn
	}
}

// WithSkip hides directories from a recursive watch.
func WithSkip(fn func(name string) bool) Option {
	return func(w *Watcher) {
		w.skip = fn
	}
}

// Watcher monitors a file, or a directory tree recursively, using fsnotify.
type Watcher struct {
	path             string
	dir              bool
	debounceDuration time.Duration
	onChange         func([]string)
	onError          func(error)
	skip             func(string) bool

	fsWatcher *fsnotify.Watcher
	debouncer *Debouncer

	mu       sync.Mutex
	pending  map[string]struct{}
	cancel   context.CancelFunc
	started  bool
	changeCh chan []string
}

// NewWatcher creates a watcher for path. Directories are watched
// recursively.
func NewWatcher(path string, opts ...Option) (*Watcher, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		path:     absPath,
		dir:      info.IsDir(),
		onChange: func([]string) {},
		onError:  func(error) {},
		skip:     func(name string) bool { return name == ".git" },
		pending:  make(map[string]struct{}),
		changeCh: make(chan []string, 1),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.debouncer = NewDebouncer(w.debounceDuration)
	return w, nil
}

// Start begins watching.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.started {
		return ErrAlreadyStarted
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if w.dir {
		err = w.addTree(fsw, w.path)
	} else {
		// Watch the directory containing the file; atomic writes replace it.
		err = fsw.Add(filepath.Dir(w.path))
	}
	if err != nil {
		fsw.Close()
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	w.fsWatcher, w.cancel, w.started = fsw, cancel, true
	go w.loop(ctx, fsw)
	return nil
}

func (w *Watcher) addTree(fsw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && w.skip(d.Name()) {
			return filepath.SkipDir
		}
		return fsw.Add(path)
	})
}

// Stop stops watching. The Changed channel is left open.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.started {
		return
	}
	w.cancel()
	w.fsWatcher.Close()
	w.fsWatcher = nil
	w.debouncer.Cancel()
	w.started = false
}

// IsStarted returns true if the watcher is running.
func (w *Watcher) IsStarted() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.started
}

// Changed delivers the changed directories of each settled burst. Bursts
// not yet received are merged.
func (w *Watcher) Changed() <-chan []string {
	return w.changeCh
}

// Path returns the watched path.
func (w *Watcher) Path() string {
	return w.path
}

func (w *Watcher) loop(ctx context.Context, fsw *fsnotify.Watcher) {
	target := filepath.Base(w.path)
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			if !w.dir {
				if filepath.Base(event.Name) != target {
					continue
				}
				if event.Op&fsnotify.Remove != 0 {
					w.onError(ErrFileRemoved)
					continue
				}
				w.record("")
				continue
			}

			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() && !w.skip(info.Name()) {
					if err := w.addTree(fsw, event.Name); err != nil {
						w.onError(err)
					}
				}
			}
			if w.skip(filepath.Base(event.Name)) {
				continue
			}
			rel, err := filepath.Rel(w.path, filepath.Dir(event.Name))
			if err != nil {
				continue
			}
			if rel == "." {
				rel = ""
			}
			w.record(filepath.ToSlash(rel))

		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.onError(err)
		}
	}
}

func (w *Watcher) record(dir string) {
	w.mu.Lock()
	w.pending[dir] = struct{}{}
	w.mu.Unlock()
	w.debouncer.Trigger(w.flush)
}

func (w *Watcher) flush() {
	w.mu.Lock()
	if !w.started || len(w.pending) == 0 {
		w.mu.Unlock()
		return
	}
	dirs := make([]string, 0, len(w.pending))
	for d := range w.pending {
		dirs = append(dirs, d)
	}
	clear(w.pending)
	w.mu.Unlock()

	slices.Sort(dirs)
	debug.Log("watcher: %d changed dirs under %s", len(dirs), w.path)
	w.onChange(dirs)

	// Merge with a burst the consumer has not picked up yet.
	for {
		select {
		case w.changeCh <- dirs:
			return
		default:
		}
		select {
		case older := <-w.changeCh:
			dirs = mergeDirs(older, dirs)
		default:
		}
	}
}

func mergeDirs(a, b []string) []string {
	out := slices.Concat(a, b)
	slices.Sort(out)
	return slices.Compact(out)
}
