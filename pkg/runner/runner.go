// Package runner executes long-running tasks in the background and hands
// the caller a handle for progress lines, cancellation, and completion.
// Tasks are keyed; starting a task whose key is already running joins the
// existing run instead of launching a second one.
package runner

import (
	"context"
	"sync"

	"github.com/neuroforge/labmirror/pkg/plog"
)

// Task is a unit of background work. It reports human-readable progress
// through sink and must return promptly once ctx is canceled.
type Task func(ctx context.Context, sink func(line string)) error

// lineBufferSize bounds the progress channel. A slow or absent consumer
// drops lines rather than stalling the task.
const lineBufferSize = 64

// Handle represents one running (or finished) task.
type Handle struct {
	key    string
	lines  chan string
	done   chan struct{}
	cancel context.CancelFunc

	// err is written exactly once, before done is closed.
	err error
}

// Lines returns the task's progress line stream. The channel is closed
// when the task finishes.
func (h *Handle) Lines() <-chan string {
	return h.lines
}

// Done returns a channel closed when the task has finished.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Err returns the task's result. Only valid after Done is closed.
func (h *Handle) Err() error {
	return h.err
}

// Cancel asks the task to stop. The task is finished only once Done
// is closed.
func (h *Handle) Cancel() {
	h.cancel()
}

// emit delivers a progress line without ever blocking the task.
func (h *Handle) emit(line string) {
	select {
	case h.lines <- line:
	default:
		// Consumer is not keeping up. Progress lines are advisory,
		// dropping beats stalling the copy.
	}
}

// Runner tracks running tasks by key.
type Runner struct {
	mu      sync.Mutex
	running map[string]*Handle
	wg      sync.WaitGroup
}

// New returns an empty Runner.
func New() *Runner {
	return &Runner{running: make(map[string]*Handle)}
}

// Run starts task under the given key, or joins the run already active
// for that key. The boolean reports whether an existing run was joined.
// A joined caller shares the original run's handle, including its line
// stream and cancellation.
func (r *Runner) Run(ctx context.Context, key string, task Task) (*Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.running[key]; ok {
		plog.Debug("Joining active run", "key", key)
		return h, true
	}

	taskCtx, cancel := context.WithCancel(ctx)
	h := &Handle{
		key:    key,
		lines:  make(chan string, lineBufferSize),
		done:   make(chan struct{}),
		cancel: cancel,
	}
	r.running[key] = h

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer cancel()

		err := task(taskCtx, h.emit)

		r.mu.Lock()
		delete(r.running, key)
		r.mu.Unlock()

		h.err = err
		close(h.lines)
		close(h.done)

		if err != nil {
			plog.Warn("Background run failed", "key", key, "error", err)
		} else {
			plog.Debug("Background run finished", "key", key)
		}
	}()

	plog.Debug("Started background run", "key", key)
	return h, false
}

// Active reports whether a run with the given key is currently active.
func (r *Runner) Active(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.running[key]
	return ok
}

// Close cancels every active run and waits for all tasks to finish.
func (r *Runner) Close() {
	r.mu.Lock()
	for _, h := range r.running {
		h.cancel()
	}
	r.mu.Unlock()

	r.wg.Wait()
}
