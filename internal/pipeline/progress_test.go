package pipeline

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackerCountsConcurrentAdvances(t *testing.T) {
	const workers = 8
	const perWorker = 25

	var mu sync.Mutex
	var calls int
	var lastDone int
	monotonic := true

	tr := NewTracker(workers*perWorker, func(done, total int, detail string) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if done <= lastDone {
			monotonic = false
		}
		lastDone = done
	})

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				tr.Advance("doc")
			}
		}()
	}
	wg.Wait()

	done, total := tr.Done()
	assert.Equal(t, workers*perWorker, done)
	assert.Equal(t, workers*perWorker, total)
	assert.Equal(t, workers*perWorker, calls)
	assert.True(t, monotonic, "notify must observe strictly increasing counts")
	assert.Equal(t, workers*perWorker, lastDone)
}

func TestTrackerNilNotify(t *testing.T) {
	tr := NewTracker(2, nil)
	require.NotPanics(t, func() {
		tr.Advance("a")
		tr.Advance("b")
	})
	done, total := tr.Done()
	assert.Equal(t, 2, done)
	assert.Equal(t, 2, total)
}

func TestTrackerClampsNegativeTotal(t *testing.T) {
	tr := NewTracker(-3, nil)
	_, total := tr.Done()
	assert.Equal(t, 0, total)
}
