package mcp

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/Aman-CERP/fundrag/internal/index"
)

// CorpusInfo describes the documents directory the index was built from.
type CorpusInfo struct {
	Name         string `json:"name"`
	DocumentsDir string `json:"documents_dir"`
	HasManifest  bool   `json:"has_manifest"`
	Entries      int    `json:"entries"`
	Error        string `json:"error,omitempty"`
}

// CorpusDetector inspects a documents directory.
type CorpusDetector struct {
	dir    string
	logger *slog.Logger
}

// NewCorpusDetector creates a detector for dir.
func NewCorpusDetector(dir string, logger *slog.Logger) *CorpusDetector {
	if logger == nil {
		logger = slog.Default()
	}
	return &CorpusDetector{dir: dir, logger: logger}
}

// Detect reads the manifest. Problems are reported in Error rather than
// failing the status call.
func (d *CorpusDetector) Detect() *CorpusInfo {
	info := &CorpusInfo{Name: filepath.Base(d.dir), DocumentsDir: d.dir}
	if d.dir == "" {
		info.Name = ""
		return info
	}
	if _, err := os.Stat(filepath.Join(d.dir, index.ManifestFile)); err == nil {
		info.HasManifest = true
	}

	m, err := index.LoadManifest(d.dir)
	if err != nil {
		d.logger.Debug("corpus manifest unreadable",
			slog.String("dir", d.dir),
			slog.String("error", err.Error()))
		info.Error = err.Error()
		return info
	}
	info.Entries = len(m.Documents)
	return info
}
