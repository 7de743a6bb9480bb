package cmd

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChecklistCmd_MissingFileFails(t *testing.T) {
	// Given: a checklist path that does not exist
	root := t.TempDir()

	// When: running the analysis
	_, err := execRoot(t, "checklist", filepath.Join(root, "krav.md"), "--root", root)

	// Then: the read error is reported before any wiring
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read checklist")
}
