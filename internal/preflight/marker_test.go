package preflight

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNeedsCheckWhenMarkerMissing(t *testing.T) {
	dataDir := t.TempDir()

	assert.True(t, NeedsCheck(dataDir))
}

func TestMarkPassedCreatesMarker(t *testing.T) {
	dataDir := filepath.Join(t.TempDir(), "nested", ".conrag")

	require.NoError(t, MarkPassed(dataDir))

	assert.False(t, NeedsCheck(dataDir))

	content, err := os.ReadFile(filepath.Join(dataDir, MarkerFile))
	require.NoError(t, err)
	_, err = time.Parse(time.RFC3339, string(content))
	assert.NoError(t, err)
}

func TestClearMarker(t *testing.T) {
	dataDir := t.TempDir()
	require.NoError(t, MarkPassed(dataDir))

	require.NoError(t, ClearMarker(dataDir))
	assert.True(t, NeedsCheck(dataDir))

	// Clearing an absent marker is not an error.
	assert.NoError(t, ClearMarker(dataDir))
}

func TestMarkerAge(t *testing.T) {
	dataDir := t.TempDir()

	assert.Zero(t, MarkerAge(dataDir))

	require.NoError(t, MarkPassed(dataDir))
	age := MarkerAge(dataDir)
	assert.GreaterOrEqual(t, age, time.Duration(0))
	assert.Less(t, age, time.Minute)
}

func TestMarkerAgeIgnoresCorruptContent(t *testing.T) {
	dataDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, MarkerFile), []byte("not a timestamp"), 0644))

	assert.Zero(t, MarkerAge(dataDir))
}
