package orchestrator

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"

	conerrors "github.com/jepras/ConstructionRAG-sub001/internal/errors"
)

// lockManager hands out per-run file locks so concurrent processes
// (CLI, watch daemon, MCP server) never drive the same run twice. The
// held map catches double-acquire inside one process, the flock file
// catches it across processes.
type lockManager struct {
	dir  string
	mu   sync.Mutex
	held map[string]*flock.Flock
}

func newLockManager(dir string) *lockManager {
	return &lockManager{dir: dir, held: make(map[string]*flock.Flock)}
}

// acquire takes the lock for one job kind and run pair. The returned
// release must be called exactly once.
func (m *lockManager) acquire(kind JobKind, runID string) (func(), error) {
	key := fmt.Sprintf("%s-%s", kind, runID)

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.held[key]; ok {
		return nil, conerrors.Conflict(fmt.Sprintf("a %s job for run %s is already in progress", kind, runID))
	}
	if err := os.MkdirAll(m.dir, 0755); err != nil {
		return nil, conerrors.Internal("failed to create lock directory", err)
	}
	fl := flock.New(filepath.Join(m.dir, key+".lock"))
	locked, err := fl.TryLock()
	if err != nil {
		return nil, conerrors.Internal("failed to acquire run lock", err)
	}
	if !locked {
		return nil, conerrors.Conflict(fmt.Sprintf("a %s job for run %s is already in progress", kind, runID))
	}
	m.held[key] = fl

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if err := fl.Unlock(); err != nil {
			slog.Warn("run_lock_not_released",
				slog.String("key", key), slog.String("error", err.Error()))
		}
		delete(m.held, key)
	}, nil
}
