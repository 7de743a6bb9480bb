package cmd

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jepras/ConstructionRAG-sub001/pkg/version"
)

func TestVersionCmd_DefaultOutput(t *testing.T) {
	// When: executing version without flags
	output, err := execRoot(t, "version")

	// Then: it should output the full version string
	require.NoError(t, err)
	assert.Contains(t, output, "conrag", "Output should contain program name")
	assert.Contains(t, output, version.Version, "Output should contain version")
	assert.Contains(t, output, "commit", "Output should contain commit info")
}

func TestVersionCmd_ShortOutput(t *testing.T) {
	// When: executing with --short
	output, err := execRoot(t, "version", "--short")

	// Then: it should output only the version number
	require.NoError(t, err)
	assert.Equal(t, version.Version, strings.TrimSpace(output), "Short output should be just version")
}

func TestVersionCmd_JSONOutput(t *testing.T) {
	// When: executing with --json
	output, err := execRoot(t, "version", "--json")

	// Then: it should output valid JSON with all fields
	require.NoError(t, err)

	var info map[string]string
	require.NoError(t, json.Unmarshal([]byte(output), &info), "Output should be valid JSON")

	assert.Equal(t, version.Version, info["version"], "JSON should contain version")
	assert.Contains(t, info, "commit", "JSON should contain commit field")
	assert.Contains(t, info, "date", "JSON should contain date field")
	assert.Contains(t, info, "go_version", "JSON should contain go_version field")
	assert.Contains(t, info, "os", "JSON should contain os field")
	assert.Contains(t, info, "arch", "JSON should contain arch field")
}
