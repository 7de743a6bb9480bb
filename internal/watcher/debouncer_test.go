package watcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDebouncer_SingleEvent_PassesThrough(t *testing.T) {
	// Given: a debouncer with a short window
	d := NewDebouncer(50 * time.Millisecond)
	defer d.Stop()

	// When: a single event is added
	d.Add(FileEvent{
		Path:      "kloakplan.pdf",
		Operation: OpCreate,
		Timestamp: time.Now(),
	})

	// Then: the event passes through after the debounce window
	select {
	case events := <-d.Output():
		require.Len(t, events, 1)
		assert.Equal(t, "kloakplan.pdf", events[0].Path)
		assert.Equal(t, OpCreate, events[0].Operation)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timeout waiting for debounced event")
	}
}

func TestDebouncer_SlowCopy_EmitsOnce(t *testing.T) {
	// Given: a debouncer with a window longer than the write gaps
	d := NewDebouncer(100 * time.Millisecond)
	defer d.Stop()

	// When: a file keeps receiving writes, like a PDF mid-copy
	d.Add(FileEvent{Path: "brandstrategi.pdf", Operation: OpCreate, Timestamp: time.Now()})
	for i := 0; i < 4; i++ {
		time.Sleep(10 * time.Millisecond)
		d.Add(FileEvent{Path: "brandstrategi.pdf", Operation: OpModify, Timestamp: time.Now()})
	}

	// Then: a single CREATE comes out once the writes settle
	select {
	case events := <-d.Output():
		require.Len(t, events, 1)
		assert.Equal(t, "brandstrategi.pdf", events[0].Path)
		assert.Equal(t, OpCreate, events[0].Operation)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for debounced events")
	}
}

func TestDebouncer_CreateThenDelete_NoEvent(t *testing.T) {
	// Given: a debouncer with a short window
	d := NewDebouncer(50 * time.Millisecond)
	defer d.Stop()

	// When: CREATE followed by DELETE for the same file
	d.Add(FileEvent{Path: "temp.pdf", Operation: OpCreate, Timestamp: time.Now()})
	d.Add(FileEvent{Path: "temp.pdf", Operation: OpDelete, Timestamp: time.Now()})

	// Then: nothing is emitted, the file never really arrived
	select {
	case events := <-d.Output():
		assert.Empty(t, events)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestDebouncer_ModifyThenDelete_DeleteWins(t *testing.T) {
	// Given: a debouncer with a short window
	d := NewDebouncer(50 * time.Millisecond)
	defer d.Stop()

	// When: MODIFY followed by DELETE
	d.Add(FileEvent{Path: "tilbudsliste.pdf", Operation: OpModify, Timestamp: time.Now()})
	d.Add(FileEvent{Path: "tilbudsliste.pdf", Operation: OpDelete, Timestamp: time.Now()})

	// Then: only the DELETE survives
	select {
	case events := <-d.Output():
		require.Len(t, events, 1)
		assert.Equal(t, OpDelete, events[0].Operation)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timeout waiting for debounced event")
	}
}

func TestDebouncer_DeleteThenCreate_BecomesModify(t *testing.T) {
	// Given: a debouncer with a short window
	d := NewDebouncer(50 * time.Millisecond)
	defer d.Stop()

	// When: a file is replaced within the window
	d.Add(FileEvent{Path: "myndighedsplan.pdf", Operation: OpDelete, Timestamp: time.Now()})
	d.Add(FileEvent{Path: "myndighedsplan.pdf", Operation: OpCreate, Timestamp: time.Now()})

	// Then: it surfaces as a MODIFY
	select {
	case events := <-d.Output():
		require.Len(t, events, 1)
		assert.Equal(t, OpModify, events[0].Operation)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timeout waiting for debounced event")
	}
}

func TestDebouncer_DistinctPaths_BatchedTogether(t *testing.T) {
	// Given: a debouncer with a short window
	d := NewDebouncer(50 * time.Millisecond)
	defer d.Stop()

	// When: two different files arrive within the window
	d.Add(FileEvent{Path: "a/kloakplan.pdf", Operation: OpCreate, Timestamp: time.Now()})
	d.Add(FileEvent{Path: "b/elinstallation.pdf", Operation: OpCreate, Timestamp: time.Now()})

	// Then: both come out in one batch
	select {
	case events := <-d.Output():
		require.Len(t, events, 2)
		paths := []string{events[0].Path, events[1].Path}
		assert.ElementsMatch(t, []string{"a/kloakplan.pdf", "b/elinstallation.pdf"}, paths)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timeout waiting for debounced events")
	}
}

func TestDebouncer_Stop_ClosesOutput(t *testing.T) {
	// Given: a debouncer with a pending event
	d := NewDebouncer(time.Hour)
	d.Add(FileEvent{Path: "kloakplan.pdf", Operation: OpCreate, Timestamp: time.Now()})

	// When: stopping before the window elapses
	d.Stop()
	d.Stop()

	// Then: the output channel closes and late adds are ignored
	_, ok := <-d.Output()
	assert.False(t, ok)
	d.Add(FileEvent{Path: "late.pdf", Operation: OpCreate, Timestamp: time.Now()})
}
