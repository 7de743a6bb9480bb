package cmd

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	conerrors "github.com/jepras/ConstructionRAG-sub001/internal/errors"
	"github.com/jepras/ConstructionRAG-sub001/internal/store"
)

// seedRun inserts one indexing run into the project database at root.
func seedRun(t *testing.T, root, id string, status store.RunStatus, startedAt time.Time) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".conrag"), 0755))
	st, err := store.NewSQLiteStore(filepath.Join(root, ".conrag", "conrag.db"))
	require.NoError(t, err)
	defer func() { _ = st.Close() }()

	require.NoError(t, st.CreateIndexingRun(context.Background(), &store.IndexingRun{
		ID:         id,
		UploadKind: store.UploadKindProject,
		Status:     status,
		StartedAt:  startedAt,
	}))
}

func runExists(t *testing.T, root, id string) bool {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(root, ".conrag", "conrag.db"))
	require.NoError(t, err)
	defer func() { _ = st.Close() }()

	_, err = st.GetIndexingRun(context.Background(), id)
	if err != nil {
		require.True(t, conerrors.IsKind(err, conerrors.KindNotFound), "unexpected error: %v", err)
		return false
	}
	return true
}

func TestCleanupCmd_RequiresCriteria(t *testing.T) {
	// Given: a clean root
	root := t.TempDir()

	// When: running cleanup without criteria
	_, err := execRoot(t, "cleanup", "--root", root)

	// Then: it should refuse to delete everything by accident
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nothing selected")
}

func TestCleanupCmd_DeletesFailedRuns(t *testing.T) {
	// Given: one failed and one completed run
	root := t.TempDir()
	seedRun(t, root, "11111111-aaaa-4bbb-8ccc-000000000001", store.RunStatusFailed, time.Now().Add(-time.Hour))
	seedRun(t, root, "22222222-aaaa-4bbb-8ccc-000000000002", store.RunStatusCompleted, time.Now().Add(-time.Hour))

	// When: cleaning up failed runs
	output, err := execRoot(t, "cleanup", "--failed", "--root", root)

	// Then: only the failed run is gone
	require.NoError(t, err)
	assert.Contains(t, output, "Deleted 1")
	assert.False(t, runExists(t, root, "11111111-aaaa-4bbb-8ccc-000000000001"), "Failed run should be deleted")
	assert.True(t, runExists(t, root, "22222222-aaaa-4bbb-8ccc-000000000002"), "Completed run should survive")
}

func TestCleanupCmd_DryRunKeepsEverything(t *testing.T) {
	// Given: a failed run
	root := t.TempDir()
	seedRun(t, root, "11111111-aaaa-4bbb-8ccc-000000000001", store.RunStatusFailed, time.Now().Add(-time.Hour))

	// When: previewing with --dry-run
	output, err := execRoot(t, "cleanup", "--failed", "--dry-run", "--root", root)

	// Then: nothing is deleted
	require.NoError(t, err)
	assert.Contains(t, output, "Would delete")
	assert.True(t, runExists(t, root, "11111111-aaaa-4bbb-8ccc-000000000001"), "Dry run must not delete")
}

func TestCleanupCmd_OlderThan(t *testing.T) {
	// Given: an old and a fresh completed run
	root := t.TempDir()
	seedRun(t, root, "11111111-aaaa-4bbb-8ccc-000000000001", store.RunStatusCompleted, time.Now().Add(-100*24*time.Hour))
	seedRun(t, root, "22222222-aaaa-4bbb-8ccc-000000000002", store.RunStatusCompleted, time.Now().Add(-time.Hour))

	// When: cleaning up runs older than 30 days
	_, err := execRoot(t, "cleanup", "--older-than", "720h", "--root", root)

	// Then: only the old run is gone
	require.NoError(t, err)
	assert.False(t, runExists(t, root, "11111111-aaaa-4bbb-8ccc-000000000001"), "Old run should be deleted")
	assert.True(t, runExists(t, root, "22222222-aaaa-4bbb-8ccc-000000000002"), "Fresh run should survive")
}

func TestCleanupCmd_BothCriteriaAnd(t *testing.T) {
	// Given: an old failed run and a fresh failed run
	root := t.TempDir()
	seedRun(t, root, "11111111-aaaa-4bbb-8ccc-000000000001", store.RunStatusFailed, time.Now().Add(-100*24*time.Hour))
	seedRun(t, root, "22222222-aaaa-4bbb-8ccc-000000000002", store.RunStatusFailed, time.Now().Add(-time.Hour))

	// When: combining --failed and --older-than
	_, err := execRoot(t, "cleanup", "--failed", "--older-than", "720h", "--root", root)

	// Then: only runs matching both criteria are gone
	require.NoError(t, err)
	assert.False(t, runExists(t, root, "11111111-aaaa-4bbb-8ccc-000000000001"), "Old failed run should be deleted")
	assert.True(t, runExists(t, root, "22222222-aaaa-4bbb-8ccc-000000000002"), "Fresh failed run should survive")
}

func TestCleanupCmd_NoMatches(t *testing.T) {
	// Given: only a completed run
	root := t.TempDir()
	seedRun(t, root, "11111111-aaaa-4bbb-8ccc-000000000001", store.RunStatusCompleted, time.Now().Add(-time.Hour))

	// When: cleaning up failed runs
	output, err := execRoot(t, "cleanup", "--failed", "--root", root)

	// Then: it reports no matches
	require.NoError(t, err)
	assert.Contains(t, output, "No runs matched")
}
