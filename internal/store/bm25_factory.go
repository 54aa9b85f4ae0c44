package store

import (
	"fmt"
	"os"
	"path/filepath"
)

// BM25Backend names a keyword index implementation.
type BM25Backend string

const (
	// BM25BackendBleve uses Bleve v2 with the CJK bigram analyzer (default).
	// BoltDB holds an exclusive file lock, so only one process may open it.
	BM25BackendBleve BM25Backend = "bleve"

	// BM25BackendSQLite uses SQLite FTS5 in WAL mode, which allows
	// concurrent readers across processes.
	BM25BackendSQLite BM25Backend = "sqlite"
)

// NewBM25IndexWithBackend creates a BM25Index for backend.
// basePath has no extension; ".bleve" or ".db" is appended.
// An empty basePath creates an in-memory index.
func NewBM25IndexWithBackend(basePath string, config BM25Config, backend string) (BM25Index, error) {
	switch BM25Backend(backend) {
	case BM25BackendBleve, "":
		var path string
		if basePath != "" {
			path = basePath + ".bleve"
		}
		return NewBleveBM25Index(path, config)

	case BM25BackendSQLite:
		var path string
		if basePath != "" {
			path = basePath + ".db"
		}
		return NewSQLiteBM25Index(path, config)

	default:
		return nil, fmt.Errorf("unknown BM25 backend: %s (valid options: bleve, sqlite)", backend)
	}
}

// DetectBM25Backend reports which backend an existing index at basePath
// uses, or "" when none exists.
func DetectBM25Backend(basePath string) BM25Backend {
	if dirExists(basePath + ".bleve") {
		return BM25BackendBleve
	}
	if fileExists(basePath + ".db") {
		return BM25BackendSQLite
	}
	return ""
}

// BM25BasePath returns the keyword index base path inside dataDir.
func BM25BasePath(dataDir string) string {
	return filepath.Join(dataDir, "bm25")
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
