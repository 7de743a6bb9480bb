package async

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	conerrors "github.com/jepras/ConstructionRAG-sub001/internal/errors"
)

func TestNewQueue(t *testing.T) {
	// Given: an empty queue
	q := NewQueue(Config{})

	// Then: it is idle with nothing pending
	require.NotNil(t, q)
	assert.False(t, q.IsRunning())
	snap := q.Snapshot()
	assert.Equal(t, 0, snap.Pending)
	assert.Equal(t, 0, snap.Processed)
}

func TestQueue_ProcessesTasksInOrder(t *testing.T) {
	// Given: three tasks recording their execution order
	q := NewQueue(Config{})

	var mu sync.Mutex
	var order []string
	for i := 1; i <= 3; i++ {
		name := fmt.Sprintf("task-%d", i)
		q.Enqueue(Task{Name: name, Run: func(ctx context.Context) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		}})
	}
	assert.Equal(t, 3, q.Snapshot().Pending)

	// When: starting the worker
	require.NoError(t, q.Start(context.Background()))

	// Then: tasks run serially in arrival order
	require.Eventually(t, func() bool {
		return q.Snapshot().Processed == 3
	}, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []string{"task-1", "task-2", "task-3"}, order)
	mu.Unlock()

	q.Stop()
	assert.False(t, q.IsRunning())
}

func TestQueue_EnqueueWhileRunning(t *testing.T) {
	// Given: a running queue
	q := NewQueue(Config{})
	require.NoError(t, q.Start(context.Background()))

	// When: work arrives after the worker started
	var ran atomic.Bool
	q.Enqueue(Task{Name: "late", Run: func(ctx context.Context) error {
		ran.Store(true)
		return nil
	}})

	// Then: the worker wakes up and runs it
	require.Eventually(t, func() bool {
		return ran.Load()
	}, 2*time.Second, 5*time.Millisecond)

	q.Stop()
}

func TestQueue_RecordsFailures(t *testing.T) {
	// Given: a failing task followed by a healthy one
	q := NewQueue(Config{})

	q.Enqueue(Task{Name: "broken", Run: func(ctx context.Context) error {
		return fmt.Errorf("embedding failed")
	}})
	var ran atomic.Bool
	q.Enqueue(Task{Name: "healthy", Run: func(ctx context.Context) error {
		ran.Store(true)
		return nil
	}})

	// When: processing both
	require.NoError(t, q.Start(context.Background()))
	require.Eventually(t, func() bool {
		return q.Snapshot().Processed == 1 && q.Snapshot().Failed == 1
	}, 2*time.Second, 5*time.Millisecond)

	// Then: the failure is recorded and the queue keeps going
	assert.True(t, ran.Load())
	snap := q.Snapshot()
	assert.Contains(t, snap.LastError, "embedding failed")

	q.Stop()
}

func TestQueue_StopCancelsInFlightTask(t *testing.T) {
	// Given: a task that blocks until cancelled
	q := NewQueue(Config{})

	var cancelled atomic.Bool
	started := make(chan struct{})
	q.Enqueue(Task{Name: "slow", Run: func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		cancelled.Store(true)
		return ctx.Err()
	}})

	// When: stopping mid-task
	require.NoError(t, q.Start(context.Background()))
	<-started
	q.Stop()

	// Then: the task saw the cancellation and the worker exited
	assert.True(t, cancelled.Load())
	assert.False(t, q.IsRunning())
	assert.ErrorIs(t, q.Wait(), context.Canceled)
}

func TestQueue_ContextCancellationStopsWorker(t *testing.T) {
	// Given: a worker bound to a cancellable context
	q := NewQueue(Config{})
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, q.Start(ctx))

	// When: the context is cancelled
	cancel()

	// Then: the worker shuts down on its own
	_ = q.Wait()
	assert.False(t, q.IsRunning())
}

func TestQueue_LockPreventsSecondWatcher(t *testing.T) {
	// Given: two queues sharing a lock path
	lockPath := filepath.Join(t.TempDir(), "locks", "watch.lock")
	first := NewQueue(Config{LockPath: lockPath})
	require.NoError(t, first.Start(context.Background()))

	// When: a second queue tries to start
	second := NewQueue(Config{LockPath: lockPath})
	err := second.Start(context.Background())

	// Then: it is rejected as a conflict until the first stops
	require.Error(t, err)
	assert.True(t, conerrors.IsKind(err, conerrors.KindConflict))
	assert.False(t, second.IsRunning())

	first.Stop()

	third := NewQueue(Config{LockPath: lockPath})
	require.NoError(t, third.Start(context.Background()))
	third.Stop()
}

func TestQueue_SnapshotTracksCurrentTask(t *testing.T) {
	// Given: a task that holds the worker
	q := NewQueue(Config{})

	started := make(chan struct{})
	release := make(chan struct{})
	q.Enqueue(Task{Name: "inbox/kloakplan.pdf", Run: func(ctx context.Context) error {
		close(started)
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	}})

	// When: the task is in flight
	require.NoError(t, q.Start(context.Background()))
	<-started

	// Then: the snapshot names it
	snap := q.Snapshot()
	assert.Equal(t, "inbox/kloakplan.pdf", snap.Current)
	assert.True(t, snap.Running)

	close(release)
	require.Eventually(t, func() bool {
		return q.Snapshot().Processed == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, q.Snapshot().Current)

	q.Stop()
}

func TestQueue_StartTwiceIsNoop(t *testing.T) {
	// Given: a started queue
	q := NewQueue(Config{})
	require.NoError(t, q.Start(context.Background()))

	// When: starting again
	err := q.Start(context.Background())

	// Then: the second call is a no-op
	require.NoError(t, err)
	q.Stop()
}
