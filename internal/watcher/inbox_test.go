package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startInbox(t *testing.T, dir string) (*InboxWatcher, <-chan error) {
	t.Helper()

	w, err := NewInbox(Options{DebounceWindow: 100 * time.Millisecond})
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		errCh <- w.Start(context.Background(), dir)
	}()
	t.Cleanup(func() { _ = w.Stop() })

	// Give the watch registration a moment before touching files.
	time.Sleep(200 * time.Millisecond)
	return w, errCh
}

func waitForBatch(t *testing.T, w *InboxWatcher) []FileEvent {
	t.Helper()
	select {
	case events, ok := <-w.Events():
		require.True(t, ok, "event channel closed unexpectedly")
		return events
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for inbox events")
		return nil
	}
}

func TestInboxWatcher_DetectsNewPDF(t *testing.T) {
	// Given: a watched inbox
	dir := t.TempDir()
	w, _ := startInbox(t, dir)

	// When: a PDF lands
	path := filepath.Join(dir, "kloakplan.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4"), 0644))

	// Then: a CREATE event surfaces after the debounce window
	events := waitForBatch(t, w)
	require.Len(t, events, 1)
	assert.Equal(t, "kloakplan.pdf", events[0].Path)
	assert.Equal(t, OpCreate, events[0].Operation)
	assert.False(t, events[0].IsDir)
}

func TestInboxWatcher_IgnoresOtherFiles(t *testing.T) {
	// Given: a watched inbox
	dir := t.TempDir()
	w, _ := startInbox(t, dir)

	// When: noise lands alongside a real document
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".partial.pdf"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "~lock.pdf"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "brandstrategi.pdf"), []byte("%PDF-1.4"), 0644))

	// Then: only the PDF is reported
	events := waitForBatch(t, w)
	require.Len(t, events, 1)
	assert.Equal(t, "brandstrategi.pdf", events[0].Path)
}

func TestInboxWatcher_WatchesNewSubdirectories(t *testing.T) {
	// Given: a watched inbox
	dir := t.TempDir()
	w, _ := startInbox(t, dir)

	// When: a project folder appears and a PDF lands inside it
	sub := filepath.Join(dir, "etape-2")
	require.NoError(t, os.Mkdir(sub, 0755))
	time.Sleep(300 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(sub, "tilbudsliste.pdf"), []byte("%PDF-1.4"), 0644))

	// Then: the nested PDF is reported relative to the inbox root
	events := waitForBatch(t, w)
	require.Len(t, events, 1)
	assert.Equal(t, filepath.Join("etape-2", "tilbudsliste.pdf"), events[0].Path)
	assert.Equal(t, OpCreate, events[0].Operation)
}

func TestInboxWatcher_ReportsDeletes(t *testing.T) {
	// Given: an inbox that already holds a PDF
	dir := t.TempDir()
	path := filepath.Join(dir, "myndighedsplan.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4"), 0644))
	w, _ := startInbox(t, dir)

	// When: the PDF is removed
	require.NoError(t, os.Remove(path))

	// Then: a DELETE event surfaces
	events := waitForBatch(t, w)
	require.Len(t, events, 1)
	assert.Equal(t, "myndighedsplan.pdf", events[0].Path)
	assert.Equal(t, OpDelete, events[0].Operation)
}

func TestInboxWatcher_StartRejectsBadPath(t *testing.T) {
	w, err := NewInbox(Options{})
	require.NoError(t, err)
	defer func() { _ = w.Stop() }()

	err = w.Start(context.Background(), filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)

	file := filepath.Join(t.TempDir(), "plain.pdf")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0644))
	w2, err := NewInbox(Options{})
	require.NoError(t, err)
	defer func() { _ = w2.Stop() }()
	err = w2.Start(context.Background(), file)
	require.ErrorContains(t, err, "not a directory")
}

func TestInboxWatcher_ContextCancelStopsStart(t *testing.T) {
	// Given: a running watcher
	dir := t.TempDir()
	w, err := NewInbox(Options{DebounceWindow: 50 * time.Millisecond})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- w.Start(ctx, dir)
	}()
	time.Sleep(100 * time.Millisecond)

	// When: the context is cancelled
	cancel()

	// Then: Start returns and the event channel closes
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for Start to return")
	}
	_, ok := <-w.Events()
	assert.False(t, ok)
}

func TestInboxWatcher_StopIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	w, errCh := startInbox(t, dir)

	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for Start to return")
	}
	assert.Equal(t, uint64(0), w.DroppedBatches())
}
