package store

import (
	"database/sql"
	"fmt"
	"path/filepath"
)

// Keyword index backends.
const (
	KeywordBackendSQLite = "sqlite"
	KeywordBackendBleve  = "bleve"
)

// NewKeywordIndex creates the configured keyword backend. The SQLite
// backend shares the metadata database handle; the Bleve backend lives
// in its own directory under dataDir.
func NewKeywordIndex(db *sql.DB, dataDir string, config KeywordConfig) (KeywordIndex, error) {
	backend := config.Backend
	if backend == "" {
		backend = KeywordBackendSQLite
	}
	switch backend {
	case KeywordBackendSQLite:
		return NewSQLiteKeywordIndex(db, config)
	case KeywordBackendBleve:
		path := ""
		if dataDir != "" {
			path = filepath.Join(dataDir, "keyword.bleve")
		}
		return NewBleveKeywordIndex(path, config)
	default:
		return nil, fmt.Errorf("unknown keyword backend: %q (expected %q or %q)",
			backend, KeywordBackendSQLite, KeywordBackendBleve)
	}
}
