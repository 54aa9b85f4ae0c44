package index

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	frerrors "github.com/Aman-CERP/fundrag/internal/errors"
	"github.com/Aman-CERP/fundrag/internal/retrieval"
)

// ManifestFile lists the documents of a documents directory.
const ManifestFile = "documents.yaml"

// documentExtensions are picked up when a directory has no manifest.
var documentExtensions = []string{".md", ".markdown", ".txt"}

// ManifestEntry describes one document. File is relative to the documents
// directory; it defaults to the first of <id>.md, <id>.markdown, <id>.txt
// that exists.
type ManifestEntry struct {
	ID          string `yaml:"id"`
	File        string `yaml:"file,omitempty"`
	Title       string `yaml:"title,omitempty"`
	Kind        string `yaml:"kind,omitempty"`
	FundCode    string `yaml:"fund_code,omitempty"`
	PublishedAt string `yaml:"published_at,omitempty"`
}

// Published parses PublishedAt. An empty value is the zero time.
func (e ManifestEntry) Published() (time.Time, error) {
	if e.PublishedAt == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{"2006-01-02", time.RFC3339} {
		if t, err := time.Parse(layout, e.PublishedAt); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid published_at %q (want YYYY-MM-DD)", e.PublishedAt)
}

// Manifest is the parsed documents.yaml.
type Manifest struct {
	Documents []ManifestEntry `yaml:"documents"`
}

// LoadManifest reads dir/documents.yaml. Without one, every document file in
// dir becomes an entry whose id is the file name without extension.
func LoadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	var m Manifest
	switch {
	case errors.Is(err, os.ErrNotExist):
		m, err = discover(dir)
		if err != nil {
			return nil, err
		}
	case err != nil:
		return nil, fmt.Errorf("read manifest: %w", err)
	default:
		if err := yaml.Unmarshal(data, &m); err != nil {
			return nil, frerrors.New(frerrors.ErrCodeConfigInvalid, "invalid "+ManifestFile, err).
				WithDetail("dir", dir)
		}
	}

	if err := m.resolve(dir); err != nil {
		return nil, err
	}
	return &m, nil
}

func discover(dir string) (Manifest, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return Manifest{}, frerrors.New(frerrors.ErrCodeDocumentNotFound, "cannot read documents directory", err).
			WithDetail("dir", dir).
			WithSuggestion("Set paths.documents_dir or pass --dir")
	}
	var m Manifest
	for _, e := range entries {
		if e.IsDir() || !hasDocumentExt(e.Name()) {
			continue
		}
		id := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		m.Documents = append(m.Documents, ManifestEntry{ID: id, File: e.Name()})
	}
	sort.Slice(m.Documents, func(i, j int) bool { return m.Documents[i].ID < m.Documents[j].ID })
	return m, nil
}

// AffectsManifest reports whether a change to the file name in a documents
// directory can change what LoadManifest returns.
func AffectsManifest(name string) bool {
	return name == ManifestFile || hasDocumentExt(name)
}

func hasDocumentExt(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range documentExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

// resolve validates entries and fills in default file names.
func (m *Manifest) resolve(dir string) error {
	seen := make(map[string]bool, len(m.Documents))
	for i := range m.Documents {
		e := &m.Documents[i]
		e.ID = strings.TrimSpace(e.ID)
		invalid := func(msg string) error {
			return frerrors.ValidationError(msg, nil).WithDetail("document_id", e.ID).WithDetail("index", fmt.Sprint(i))
		}

		switch {
		case e.ID == "":
			return invalid("document id is required")
		case strings.Contains(e.ID, "#"):
			return invalid("document id must not contain '#'")
		case seen[e.ID]:
			return invalid("duplicate document id")
		}
		seen[e.ID] = true

		if _, err := retrieval.ParseDocumentKind(e.Kind); err != nil {
			return invalid(err.Error())
		}
		if _, err := e.Published(); err != nil {
			return invalid(err.Error())
		}

		if e.File == "" {
			for _, ext := range documentExtensions {
				if _, err := os.Stat(filepath.Join(dir, e.ID+ext)); err == nil {
					e.File = e.ID + ext
					break
				}
			}
			if e.File == "" {
				return invalid("no file for document")
			}
		}
	}
	return nil
}
