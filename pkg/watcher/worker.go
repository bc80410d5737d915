package watcher

import (
	"context"
	"fmt"
	"log"
	"runtime/debug"
	"sync"
	"time"

	tgdebug "github.com/vanderheijden86/treegrid/pkg/debug"
)

// WorkerState represents the current state of a RefreshWorker.
type WorkerState int

const (
	// WorkerIdle means the worker is waiting for changes.
	WorkerIdle WorkerState = iota
	// WorkerProcessing means the worker is reloading the source.
	WorkerProcessing
	// WorkerStopped means the worker has been stopped.
	WorkerStopped
)

func (s WorkerState) String() string {
	switch s {
	case WorkerIdle:
		return "idle"
	case WorkerProcessing:
		return "processing"
	case WorkerStopped:
		return "stopped"
	}
	return fmt.Sprintf("WorkerState(%d)", int(s))
}

// WorkerError wraps errors with phase and retry context.
type WorkerError struct {
	Phase   string // "reload" or "refresh"
	Cause   error
	Time    time.Time
	Retries int // consecutive failures, including this one
}

func (e *WorkerError) Error() string {
	return fmt.Sprintf("%s failed: %v (retries: %d)", e.Phase, e.Cause, e.Retries)
}

func (e *WorkerError) Unwrap() error {
	return e.Cause
}

// WorkerConfig configures a RefreshWorker.
type WorkerConfig struct {
	// Changes delivers batches of changed directories, usually
	// Watcher.Changed(). It may be nil when refreshes are only triggered
	// by hand.
	Changes <-chan []string
	// Reload drops whatever the source cached for dirs. Optional.
	Reload func(ctx context.Context, dirs []string) error
	// Refresh re-fetches the expanded rows of every grid.
	Refresh func(ctx context.Context) error
	// OnResult is called after every run with nil or the *WorkerError.
	OnResult func(err error)
}

// RefreshWorker turns source changes into grid refreshes off the caller's
// goroutine. Changes arriving during a run are coalesced into one more run.
type RefreshWorker struct {
	cfg WorkerConfig

	mu         sync.RWMutex
	state      WorkerState
	dirty      bool
	pending    []string
	started    bool
	runs       int
	lastError  *WorkerError
	errorCount int

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	wg     sync.WaitGroup
}

// NewRefreshWorker creates a worker. Refresh is required.
func NewRefreshWorker(cfg WorkerConfig) (*RefreshWorker, error) {
	if cfg.Refresh == nil {
		return nil, fmt.Errorf("refresh worker needs a Refresh func")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &RefreshWorker{
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}, nil
}

// Start begins consuming Changes. Start is idempotent.
func (w *RefreshWorker) Start() {
	w.mu.Lock()
	if w.started || w.state == WorkerStopped {
		w.mu.Unlock()
		return
	}
	w.started = true
	w.mu.Unlock()

	if w.cfg.Changes == nil {
		close(w.done)
		return
	}
	go w.processLoop()
}

// Stop cancels any run in progress and waits briefly for it to finish.
// Stop is idempotent.
func (w *RefreshWorker) Stop() {
	w.mu.Lock()
	if w.state == WorkerStopped {
		w.mu.Unlock()
		return
	}
	w.state = WorkerStopped
	wasStarted := w.started
	w.mu.Unlock()

	w.cancel()
	if wasStarted {
		select {
		case <-w.done:
		case <-time.After(2 * time.Second):
		}
	}
	waited := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-time.After(2 * time.Second):
	}
}

// TriggerRefresh schedules a run for dirs. It has no effect once stopped.
func (w *RefreshWorker) TriggerRefresh(dirs []string) {
	w.mu.Lock()
	if w.state == WorkerStopped {
		w.mu.Unlock()
		return
	}
	w.pending = mergeDirs(w.pending, dirs)
	if w.state == WorkerProcessing {
		w.dirty = true
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.process()
	}()
}

// State returns the current worker state.
func (w *RefreshWorker) State() WorkerState {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

// Runs returns the number of completed runs.
func (w *RefreshWorker) Runs() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.runs
}

// LastError returns the error of the most recent run, nil if it succeeded.
func (w *RefreshWorker) LastError() *WorkerError {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.lastError
}

func (w *RefreshWorker) processLoop() {
	defer close(w.done)
	for {
		select {
		case <-w.ctx.Done():
			return
		case dirs, ok := <-w.cfg.Changes:
			if !ok {
				return
			}
			w.mu.Lock()
			w.pending = mergeDirs(w.pending, dirs)
			w.mu.Unlock()
			w.process()
		}
	}
}

func (w *RefreshWorker) process() {
	w.mu.Lock()
	if w.state != WorkerIdle {
		if w.state == WorkerProcessing {
			w.dirty = true
		}
		w.mu.Unlock()
		return
	}
	w.state = WorkerProcessing
	w.dirty = false
	dirs := w.pending
	w.pending = nil
	w.mu.Unlock()

	err := w.run(dirs)
	w.recordError(err)
	if err != nil {
		log.Printf("warning: %v", err)
	}

	w.mu.Lock()
	if w.state == WorkerStopped {
		w.mu.Unlock()
		return
	}
	w.runs++
	wasDirty := w.dirty
	w.state = WorkerIdle
	w.mu.Unlock()

	if w.cfg.OnResult != nil {
		var result error // avoid a typed nil
		if err != nil {
			result = err
		}
		w.cfg.OnResult(result)
	}
	if wasDirty {
		w.process()
	}
}

func (w *RefreshWorker) run(dirs []string) *WorkerError {
	start := time.Now()
	if w.cfg.Reload != nil {
		if err := w.safeCompute("reload", func() error { return w.cfg.Reload(w.ctx, dirs) }); err != nil {
			return err
		}
	}
	if err := w.safeCompute("refresh", func() error { return w.cfg.Refresh(w.ctx) }); err != nil {
		return err
	}
	tgdebug.Log("refreshed %d changed dirs in %s", len(dirs), time.Since(start))
	return nil
}

// safeCompute executes fn and recovers from any panics.
func (w *RefreshWorker) safeCompute(phase string, fn func() error) (result *WorkerError) {
	defer func() {
		if r := recover(); r != nil {
			result = &WorkerError{
				Phase: phase,
				Cause: fmt.Errorf("panic: %v\n%s", r, debug.Stack()),
				Time:  time.Now(),
			}
		}
	}()
	if err := fn(); err != nil {
		return &WorkerError{Phase: phase, Cause: err, Time: time.Now()}
	}
	return nil
}

func (w *RefreshWorker) recordError(err *WorkerError) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lastError = err
	if err != nil {
		w.errorCount++
		err.Retries = w.errorCount
	} else {
		w.errorCount = 0
	}
}
