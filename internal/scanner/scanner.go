// Package scanner discovers PDF documents for ingestion. Discovery
// walks a directory tree applying include/exclude globs and a size
// cap; hidden directories are never entered, which keeps the data
// directory and version control out of every scan.
package scanner

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultMaxFileSize caps PDFs at 200 MB unless configured otherwise.
const DefaultMaxFileSize = 200 << 20

// FileInfo describes one discovered PDF.
type FileInfo struct {
	// Path is relative to the scan root, slash-separated.
	Path    string
	AbsPath string
	Size    int64
	ModTime time.Time
}

// Result streams either a discovered file or a traversal error.
type Result struct {
	File *FileInfo
	Err  error
}

// Options controls a scan.
type Options struct {
	// Root is the directory to walk. Required.
	Root string
	// Include globs select files. Empty defaults to every .pdf.
	Include []string
	// Exclude globs drop files after include matching.
	Exclude []string
	// MaxFileSize in bytes. Zero or negative uses DefaultMaxFileSize.
	MaxFileSize int64
}

// Scanner discovers PDFs under a root directory.
type Scanner struct{}

// New creates a Scanner.
func New() *Scanner {
	return &Scanner{}
}

// Scan walks the root and streams matching PDFs. The channel closes
// when the walk finishes or the context is cancelled. Oversized files
// are skipped with a warning rather than surfaced as errors.
func (s *Scanner) Scan(ctx context.Context, opts Options) (<-chan Result, error) {
	if opts.Root == "" {
		return nil, fmt.Errorf("scan root is required")
	}
	absRoot, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve scan root: %w", err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("stat scan root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("scan root is not a directory: %s", absRoot)
	}

	maxSize := opts.MaxFileSize
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}

	results := make(chan Result, 16)
	go func() {
		defer close(results)
		err := filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, walkErr error) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			if walkErr != nil {
				// Unreadable entries are skipped, not fatal.
				return nil
			}

			rel, err := filepath.Rel(absRoot, path)
			if err != nil || rel == "." {
				return nil
			}
			rel = filepath.ToSlash(rel)

			if d.IsDir() {
				if strings.HasPrefix(d.Name(), ".") {
					return filepath.SkipDir
				}
				return nil
			}
			if !d.Type().IsRegular() {
				return nil
			}
			if !matchesPDF(rel, opts.Include) || excluded(rel, opts.Exclude) {
				return nil
			}

			fi, err := d.Info()
			if err != nil {
				return nil
			}
			if fi.Size() > maxSize {
				slog.Warn("pdf_skipped_too_large",
					"path", rel,
					"size_bytes", fi.Size(),
					"max_bytes", maxSize)
				return nil
			}

			select {
			case results <- Result{File: &FileInfo{
				Path:    rel,
				AbsPath: path,
				Size:    fi.Size(),
				ModTime: fi.ModTime(),
			}}:
			case <-ctx.Done():
				return ctx.Err()
			}
			return nil
		})
		if err != nil && err != context.Canceled {
			select {
			case results <- Result{Err: err}:
			case <-ctx.Done():
			}
		}
	}()
	return results, nil
}

// Stat validates one explicitly named PDF, for `conrag index` calls
// that pass files instead of a directory.
func (s *Scanner) Stat(path string) (*FileInfo, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory, expected a PDF", path)
	}
	if !strings.EqualFold(filepath.Ext(abs), ".pdf") {
		return nil, fmt.Errorf("%s is not a PDF", path)
	}
	return &FileInfo{
		Path:    filepath.Base(abs),
		AbsPath: abs,
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}, nil
}

// Collect drains a scan channel into a slice, stopping at the first
// traversal error.
func Collect(ch <-chan Result) ([]*FileInfo, error) {
	var files []*FileInfo
	for r := range ch {
		if r.Err != nil {
			return files, r.Err
		}
		files = append(files, r.File)
	}
	return files, nil
}

// matchesPDF reports whether rel matches the include globs. Without
// globs any .pdf matches.
func matchesPDF(rel string, include []string) bool {
	if len(include) == 0 {
		return strings.EqualFold(filepath.Ext(rel), ".pdf")
	}
	for _, pattern := range include {
		if matchGlob(rel, pattern) {
			return true
		}
	}
	return false
}

func excluded(rel string, exclude []string) bool {
	for _, pattern := range exclude {
		if matchGlob(rel, pattern) {
			return true
		}
	}
	return false
}

// matchGlob matches slash-separated paths against the small glob
// dialect the config uses: a leading **/ matches any directory depth,
// a trailing /** matches a whole subtree, and the remainder goes
// through path.Match semantics on the base name or full path.
func matchGlob(rel, pattern string) bool {
	pattern = filepath.ToSlash(pattern)

	if strings.HasPrefix(pattern, "**/") && strings.HasSuffix(pattern, "/**") {
		part := strings.TrimSuffix(strings.TrimPrefix(pattern, "**/"), "/**")
		for _, seg := range strings.Split(rel, "/") {
			if ok, _ := filepath.Match(part, seg); ok {
				return true
			}
		}
		return false
	}

	if strings.HasPrefix(pattern, "**/") {
		suffix := strings.TrimPrefix(pattern, "**/")
		if ok, _ := filepath.Match(suffix, filepath.Base(rel)); ok {
			return true
		}
		// Also allow the suffix to span the tail of the path.
		if strings.HasSuffix(rel, "/"+suffix) || rel == suffix {
			return true
		}
		return false
	}

	if strings.HasSuffix(pattern, "/**") {
		prefix := strings.TrimSuffix(pattern, "/**")
		return rel == prefix || strings.HasPrefix(rel, prefix+"/")
	}

	if ok, _ := filepath.Match(pattern, rel); ok {
		return true
	}
	ok, _ := filepath.Match(pattern, filepath.Base(rel))
	return ok
}
