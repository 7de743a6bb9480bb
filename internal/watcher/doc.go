// Package watcher provides inbox watching for dropped construction
// documents, with debouncing so slow copies settle before anything
// reacts.
//
// fsnotify delivers raw notifications; the Debouncer coalesces them per
// path (a CREATE followed by a stream of WRITEs is one CREATE) and only
// emits once a file has been quiet for the debounce window. Watch mode
// turns each surfaced PDF into an indexing job.
//
// Usage:
//
//	w, err := watcher.NewInbox(watcher.DefaultOptions())
//	if err != nil {
//	    return err
//	}
//	defer w.Stop()
//
//	go func() {
//	    for batch := range w.Events() {
//	        for _, event := range batch {
//	            if event.Operation == watcher.OpCreate {
//	                // Queue the new document for indexing.
//	            }
//	        }
//	    }
//	}()
//
//	if err := w.Start(ctx, "/path/to/inbox"); err != nil {
//	    return err
//	}
package watcher
