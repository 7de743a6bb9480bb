package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// InboxWatcher watches an inbox directory for dropped construction
// documents using fsnotify. Raw notifications run through a Debouncer
// so a file is only reported once its writes have settled, which is
// the signal that a slow copy of a large PDF has finished.
type InboxWatcher struct {
	fsWatcher      *fsnotify.Watcher
	debouncer      *Debouncer
	events         chan []FileEvent
	errors         chan error
	stopCh         chan struct{}
	root           string
	opts           Options
	mu             sync.RWMutex
	stopped        bool
	droppedBatches atomic.Uint64
}

// NewInbox creates an inbox watcher with the given options.
func NewInbox(opts Options) (*InboxWatcher, error) {
	opts = opts.WithDefaults()

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	return &InboxWatcher{
		fsWatcher: fsw,
		debouncer: NewDebouncer(opts.DebounceWindow),
		events:    make(chan []FileEvent, opts.EventBufferSize),
		errors:    make(chan error, 10),
		stopCh:    make(chan struct{}),
		opts:      opts,
	}, nil
}

// Start begins watching the inbox directory and its subdirectories.
// It blocks until Stop is called or the context is cancelled.
func (w *InboxWatcher) Start(ctx context.Context, path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve inbox path: %w", err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return fmt.Errorf("stat inbox path: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("inbox path %s is not a directory", absPath)
	}
	w.root = absPath

	if err := w.addRecursive(absPath); err != nil {
		return fmt.Errorf("watch inbox directories: %w", err)
	}

	go w.forwardDebouncedEvents(ctx)

	slog.Info("inbox_watch_started", "path", absPath, "debounce", w.opts.DebounceWindow.String())

	for {
		select {
		case <-ctx.Done():
			_ = w.Stop()
			return ctx.Err()
		case <-w.stopCh:
			return nil
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event)
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return nil
			}
			w.emitError(err)
		}
	}
}

// handleEvent converts and filters a raw fsnotify notification.
func (w *InboxWatcher) handleEvent(event fsnotify.Event) {
	relPath, err := filepath.Rel(w.root, event.Name)
	if err != nil {
		relPath = event.Name
	}
	if relPath == "." || relPath == "" {
		return
	}

	isDir := false
	if info, err := os.Stat(event.Name); err == nil {
		isDir = info.IsDir()
	}

	var op Operation
	switch {
	case event.Op&fsnotify.Create != 0:
		op = OpCreate
		// New subdirectories need their own watch.
		if isDir {
			_ = w.fsWatcher.Add(event.Name)
		}
	case event.Op&fsnotify.Write != 0:
		op = OpModify
	case event.Op&fsnotify.Remove != 0:
		op = OpDelete
	case event.Op&fsnotify.Rename != 0:
		op = OpRename
	default:
		// Chmod and other noise.
		return
	}

	if isDir || !w.wantsFile(relPath) {
		return
	}

	w.debouncer.Add(FileEvent{
		Path:      relPath,
		Operation: op,
		IsDir:     false,
		Timestamp: time.Now(),
	})
}

// wantsFile reports whether a file should be surfaced. Hidden files,
// editor backups and partial downloads are skipped; everything else is
// filtered by extension.
func (w *InboxWatcher) wantsFile(relPath string) bool {
	base := filepath.Base(relPath)
	if strings.HasPrefix(base, ".") || strings.HasPrefix(base, "~") {
		return false
	}
	ext := strings.ToLower(filepath.Ext(base))
	for _, want := range w.opts.Extensions {
		if ext == want {
			return true
		}
	}
	return false
}

func (w *InboxWatcher) forwardDebouncedEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case events, ok := <-w.debouncer.Output():
			if !ok {
				return
			}
			if len(events) == 0 {
				continue
			}
			w.emitEvents(events)
		}
	}
}

// addRecursive adds the inbox root and all subdirectories to the
// fsnotify watch set.
func (w *InboxWatcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return w.fsWatcher.Add(path)
	})
}

func (w *InboxWatcher) emitEvents(events []FileEvent) {
	w.mu.RLock()
	stopped := w.stopped
	w.mu.RUnlock()
	if stopped {
		return
	}

	select {
	case w.events <- events:
	default:
		count := w.droppedBatches.Add(1)
		slog.Warn("inbox_event_buffer_full",
			"batch_size", len(events),
			"total_dropped_batches", count)
	}
}

func (w *InboxWatcher) emitError(err error) {
	w.mu.RLock()
	stopped := w.stopped
	w.mu.RUnlock()
	if stopped {
		return
	}

	select {
	case w.errors <- err:
	default:
	}
}

// Stop stops the watcher and releases resources.
// Safe to call multiple times.
func (w *InboxWatcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return nil
	}
	w.stopped = true
	close(w.stopCh)

	w.debouncer.Stop()
	_ = w.fsWatcher.Close()

	close(w.events)
	close(w.errors)
	return nil
}

// Events returns the channel of debounced event batches.
// The channel is closed when the watcher stops.
func (w *InboxWatcher) Events() <-chan []FileEvent {
	return w.events
}

// Errors returns the channel of non-fatal watcher errors.
// The channel is closed when the watcher stops.
func (w *InboxWatcher) Errors() <-chan error {
	return w.errors
}

// DroppedBatches returns the number of event batches dropped because
// the event buffer was full.
func (w *InboxWatcher) DroppedBatches() uint64 {
	return w.droppedBatches.Load()
}

// Root returns the absolute inbox path being watched.
func (w *InboxWatcher) Root() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.root
}
