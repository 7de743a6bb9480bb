// Package objstore stores run artifacts: source PDFs, extracted page
// and table images, and generated wiki markdown. Backends are MinIO
// (S3-compatible) for deployments and a local directory for tests and
// single-machine installs.
package objstore

import (
	"context"
	"fmt"
	"io"
	"time"
)

// Store is the object store surface the pipelines use.
type Store interface {
	// EnsureBucket creates the bucket if it does not exist.
	EnsureBucket(ctx context.Context) error
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	PutBytes(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	GetBytes(ctx context.Context, key string) ([]byte, error)
	Stat(ctx context.Context, key string) (*ObjectInfo, error)
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	// RemovePrefix deletes every object under prefix.
	RemovePrefix(ctx context.Context, prefix string) error
	// SignedURL returns a time-limited download URL. The filesystem
	// backend returns a file:// URL and ignores the TTL.
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
	Health(ctx context.Context) error
	Close() error
}

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
	ContentType  string
	ETag         string
}

// Config selects and configures the backend.
type Config struct {
	// Backend is "minio" or "fs".
	Backend string `yaml:"backend" json:"backend"`

	// MinIO settings.
	Endpoint  string `yaml:"endpoint" json:"endpoint"`
	AccessKey string `yaml:"access_key" json:"-"`
	SecretKey string `yaml:"secret_key" json:"-"`
	Bucket    string `yaml:"bucket" json:"bucket"`
	UseSSL    bool   `yaml:"use_ssl" json:"use_ssl"`
	Region    string `yaml:"region" json:"region"`
	PartSize  int64  `yaml:"part_size" json:"part_size"`

	// BaseDir is the filesystem backend's root.
	BaseDir string `yaml:"base_dir" json:"base_dir"`
}

// DefaultConfig returns the filesystem backend rooted at baseDir.
// Deployments switch to MinIO through configuration.
func DefaultConfig(baseDir string) Config {
	return Config{
		Backend:  BackendFS,
		BaseDir:  baseDir,
		Bucket:   "conrag",
		Region:   "us-east-1",
		PartSize: 16 * 1024 * 1024,
	}
}

// Validate checks backend-specific required fields.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendFS:
		if c.BaseDir == "" {
			return fmt.Errorf("base_dir is required for the fs backend")
		}
	case BackendMinIO:
		if c.Endpoint == "" {
			return fmt.Errorf("endpoint is required for the minio backend")
		}
		if c.AccessKey == "" {
			return fmt.Errorf("access_key is required for the minio backend")
		}
		if c.SecretKey == "" {
			return fmt.Errorf("secret_key is required for the minio backend")
		}
		if c.Bucket == "" {
			return fmt.Errorf("bucket is required for the minio backend")
		}
	default:
		return fmt.Errorf("unknown object store backend: %q", c.Backend)
	}
	return nil
}

// Backends.
const (
	BackendMinIO = "minio"
	BackendFS    = "fs"
)

// New creates the configured backend.
func New(config Config) (Store, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid object store config: %w", err)
	}
	switch config.Backend {
	case BackendMinIO:
		return NewMinIOStore(config)
	case BackendFS:
		return NewFSStore(config.BaseDir)
	default:
		return nil, fmt.Errorf("unknown object store backend: %q", config.Backend)
	}
}

// Object key layout. Every artifact of a run lives under its run
// prefix so deleting a run is one prefix removal.

// SourcePDFKey is the stored upload for a document in a run.
func SourcePDFKey(runID, documentID string) string {
	return fmt.Sprintf("runs/%s/documents/%s/source.pdf", runID, documentID)
}

// PageImageKey is a rendered full-page image.
func PageImageKey(runID, documentID string, pageNumber int) string {
	return fmt.Sprintf("runs/%s/documents/%s/pages/page_%d.png", runID, documentID, pageNumber)
}

// TableImageKey is a rendered table region image.
func TableImageKey(runID, documentID, tableID string) string {
	return fmt.Sprintf("runs/%s/documents/%s/tables/table_%s.png", runID, documentID, tableID)
}

// RunPrefix covers every artifact of an indexing run.
func RunPrefix(runID string) string {
	return fmt.Sprintf("runs/%s/", runID)
}

// WikiPageKey is a generated wiki page's markdown.
func WikiPageKey(wikiRunID string, order int) string {
	return fmt.Sprintf("wiki/%s/page-%d.md", wikiRunID, order)
}

// WikiPrefix covers every page of a wiki run.
func WikiPrefix(wikiRunID string) string {
	return fmt.Sprintf("wiki/%s/", wikiRunID)
}
