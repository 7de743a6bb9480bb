package scanner

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeFile creates a file with parent directories and n bytes of
// filler content.
func writeFile(t *testing.T, root, rel string, n int) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, make([]byte, n), 0o644))
}

func scanPaths(t *testing.T, opts Options) []string {
	t.Helper()
	s := New()
	ch, err := s.Scan(context.Background(), opts)
	require.NoError(t, err)
	files, err := Collect(ch)
	require.NoError(t, err)
	var paths []string
	for _, f := range files {
		paths = append(paths, f.Path)
	}
	sort.Strings(paths)
	return paths
}

func TestScanFindsOnlyPDFs(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "K07_fundamentsplan.pdf", 10)
	writeFile(t, root, "drawings/E01_el.pdf", 10)
	writeFile(t, root, "notes.txt", 10)
	writeFile(t, root, "report.docx", 10)

	paths := scanPaths(t, Options{Root: root})
	assert.Equal(t, []string{"K07_fundamentsplan.pdf", "drawings/E01_el.pdf"}, paths)
}

func TestScanSkipsHiddenDirectories(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "ok.pdf", 10)
	writeFile(t, root, ".conrag/objects/runs/x/source.pdf", 10)
	writeFile(t, root, ".git/blob.pdf", 10)

	paths := scanPaths(t, Options{Root: root})
	assert.Equal(t, []string{"ok.pdf"}, paths)
}

func TestScanHonorsIncludeExclude(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "drawings/K07.pdf", 10)
	writeFile(t, root, "drafts/old.pdf", 10)
	writeFile(t, root, "K01.pdf", 10)

	paths := scanPaths(t, Options{
		Root:    root,
		Include: []string{"drawings/**", "*.pdf"},
		Exclude: []string{"drafts/**"},
	})
	assert.Equal(t, []string{"K01.pdf", "drawings/K07.pdf"}, paths)
}

func TestScanSkipsOversizedFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "small.pdf", 100)
	writeFile(t, root, "big.pdf", 5000)

	paths := scanPaths(t, Options{Root: root, MaxFileSize: 1000})
	assert.Equal(t, []string{"small.pdf"}, paths)
}

func TestScanRequiresDirectoryRoot(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.pdf", 10)
	s := New()

	_, err := s.Scan(context.Background(), Options{Root: filepath.Join(root, "a.pdf")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a directory")

	_, err = s.Scan(context.Background(), Options{})
	require.Error(t, err)
}

func TestScanCancellation(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < 50; i++ {
		writeFile(t, root, filepath.Join("docs", string(rune('a'+i%26))+".pdf"), 10)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := New()
	ch, err := s.Scan(ctx, Options{Root: root})
	require.NoError(t, err)
	files, _ := Collect(ch)
	// The walk stops promptly; a cancelled context yields few or no files.
	assert.LessOrEqual(t, len(files), 16)
}

func TestStatValidatesExplicitFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "doc.pdf", 42)
	writeFile(t, root, "doc.txt", 42)

	s := New()
	fi, err := s.Stat(filepath.Join(root, "doc.pdf"))
	require.NoError(t, err)
	assert.Equal(t, "doc.pdf", fi.Path)
	assert.Equal(t, int64(42), fi.Size)

	_, err = s.Stat(filepath.Join(root, "doc.txt"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a PDF")

	_, err = s.Stat(root)
	require.Error(t, err)
}

func TestMatchGlob(t *testing.T) {
	tests := []struct {
		rel     string
		pattern string
		want    bool
	}{
		{"a/b/c.pdf", "**/*.pdf", true},
		{"c.pdf", "**/*.pdf", true},
		{"a/b/c.txt", "**/*.pdf", false},
		{"drafts/x.pdf", "drafts/**", true},
		{"drafts/deep/x.pdf", "drafts/**", true},
		{"final/x.pdf", "drafts/**", false},
		{"a/.cache/x.pdf", "**/.*/**", true},
		{"a/cache/x.pdf", "**/.*/**", false},
		{"K07.pdf", "K*.pdf", true},
		{"sub/K07.pdf", "K*.pdf", true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, matchGlob(tt.rel, tt.pattern), "%s vs %s", tt.rel, tt.pattern)
	}
}
