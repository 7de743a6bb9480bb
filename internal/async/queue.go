// Package async runs pipeline jobs in the background.
//
// Watch mode feeds it: each stable PDF dropped in the inbox becomes a
// Task, and the Queue executes tasks serially in arrival order so
// concurrent indexing runs never compete for the embedding budget. An
// optional lock file keeps a second watcher from processing the same
// inbox; the lock is advisory and releases automatically when the
// owning process dies.
package async

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"

	conerrors "github.com/jepras/ConstructionRAG-sub001/internal/errors"
)

// Task is one queued unit of work.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// Config configures a Queue.
type Config struct {
	// LockPath, when set, is acquired with a file lock on Start so
	// only one queue processes an inbox at a time.
	LockPath string
}

// Snapshot is the queue state at a point in time.
type Snapshot struct {
	Running   bool   `json:"running"`
	Current   string `json:"current,omitempty"`
	Pending   int    `json:"pending"`
	Processed int    `json:"processed"`
	Failed    int    `json:"failed"`
	LastError string `json:"last_error,omitempty"`
}

// Queue executes tasks one at a time in a background goroutine. Start
// begins the worker, Enqueue appends work, Stop cancels the in-flight
// task and waits for the worker to exit.
type Queue struct {
	cfg  Config
	lock *flock.Flock

	mu        sync.Mutex
	tasks     []Task
	running   bool
	current   string
	processed int
	failed    int
	lastErr   error

	notifyCh chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
	doneCh   chan struct{}
}

// NewQueue creates a queue. Call Start to begin processing.
func NewQueue(cfg Config) *Queue {
	return &Queue{
		cfg:      cfg,
		notifyCh: make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the background worker. When a lock path is configured
// the lock is acquired first; a held lock means another watcher already
// owns the inbox and Start returns a conflict.
func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	if q.running {
		q.mu.Unlock()
		return nil
	}
	q.running = true
	q.mu.Unlock()

	if q.cfg.LockPath != "" {
		if err := q.acquireLock(); err != nil {
			q.mu.Lock()
			q.running = false
			q.mu.Unlock()
			return err
		}
	}

	go q.run(ctx)
	return nil
}

func (q *Queue) acquireLock() error {
	if err := os.MkdirAll(filepath.Dir(q.cfg.LockPath), 0755); err != nil {
		return conerrors.Internal("failed to create lock directory", err)
	}
	fl := flock.New(q.cfg.LockPath)
	locked, err := fl.TryLock()
	if err != nil {
		return conerrors.Internal("failed to acquire watch lock", err)
	}
	if !locked {
		return conerrors.Conflict("another watcher is already processing this inbox")
	}
	q.lock = fl
	return nil
}

// Enqueue appends a task and wakes the worker.
func (q *Queue) Enqueue(task Task) {
	q.mu.Lock()
	q.tasks = append(q.tasks, task)
	pending := len(q.tasks)
	q.mu.Unlock()

	slog.Debug("task_enqueued", "task", task.Name, "pending", pending)

	select {
	case q.notifyCh <- struct{}{}:
	default:
	}
}

// Stop cancels the in-flight task and blocks until the worker exits.
// Queued tasks that have not started are discarded.
func (q *Queue) Stop() {
	q.mu.Lock()
	running := q.running
	q.mu.Unlock()
	if !running {
		return
	}
	q.stopOnce.Do(func() { close(q.stopCh) })
	<-q.doneCh
}

// Wait blocks until the worker exits and returns the last task error.
func (q *Queue) Wait() error {
	<-q.doneCh
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lastErr
}

// IsRunning reports whether the worker goroutine is active.
func (q *Queue) IsRunning() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running
}

// Snapshot returns the current queue state.
func (q *Queue) Snapshot() Snapshot {
	q.mu.Lock()
	defer q.mu.Unlock()
	snap := Snapshot{
		Running:   q.running,
		Current:   q.current,
		Pending:   len(q.tasks),
		Processed: q.processed,
		Failed:    q.failed,
	}
	if q.lastErr != nil {
		snap.LastError = q.lastErr.Error()
	}
	return snap
}

func (q *Queue) run(ctx context.Context) {
	defer close(q.doneCh)
	defer func() {
		if q.lock != nil {
			if err := q.lock.Unlock(); err != nil {
				slog.Warn("watch_lock_release_failed", "path", q.cfg.LockPath, "error", err)
			}
		}
		q.mu.Lock()
		q.running = false
		q.current = ""
		q.mu.Unlock()
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-q.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		task, ok := q.next()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-q.notifyCh:
				continue
			}
		}

		q.mu.Lock()
		q.current = task.Name
		q.mu.Unlock()

		err := task.Run(ctx)
		q.finish(task.Name, err)

		if ctx.Err() != nil {
			return
		}
	}
}

func (q *Queue) next() (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.tasks) == 0 {
		return Task{}, false
	}
	task := q.tasks[0]
	q.tasks = q.tasks[1:]
	return task, true
}

func (q *Queue) finish(name string, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.current = ""
	if err != nil {
		q.failed++
		q.lastErr = err
		slog.Error("task_failed", "task", name, "error", err)
		return
	}
	q.processed++
	slog.Info("task_complete", "task", name)
}
