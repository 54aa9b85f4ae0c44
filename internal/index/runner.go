// Package index ingests disclosure documents: it reads the documents
// manifest, parses each file into chunks and sections, and indexes them
// through the search engine.
package index

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/fundrag/internal/chunk"
	"github.com/Aman-CERP/fundrag/internal/search"
	"github.com/Aman-CERP/fundrag/internal/store"
	"github.com/Aman-CERP/fundrag/internal/ui"
)

// DefaultWorkers is the number of documents indexed concurrently.
const DefaultWorkers = 4

// RunnerConfig configures an ingest run.
type RunnerConfig struct {
	// DocumentsDir holds documents.yaml and the document files.
	DocumentsDir string

	// DataDir holds the stores; the ingest lock is taken there.
	DataDir string

	// Force reindexes documents whose content has not changed.
	Force bool

	// Prune deletes indexed documents missing from the manifest.
	Prune bool
}

// RunnerResult is the outcome of an ingest run.
type RunnerResult struct {
	Documents int // indexed this run
	Skipped   int // unchanged
	Removed   int
	Chunks    int
	Sections  int
	Errors    int
	Duration  time.Duration
}

// RunnerDependencies are the collaborators of a Runner.
type RunnerDependencies struct {
	// Renderer for progress display (required).
	Renderer ui.Renderer

	// Engine indexes into the stores (required).
	Engine *search.Engine

	// Parser splits documents; defaults to chunk.DefaultChunkSize.
	Parser *chunk.Parser

	// Workers bounds concurrent documents; defaults to DefaultWorkers.
	Workers int

	Logger *slog.Logger
}

// Runner executes ingest runs.
type Runner struct {
	renderer ui.Renderer
	engine   *search.Engine
	parser   *chunk.Parser
	workers  int
	logger   *slog.Logger
}

// NewRunner creates a Runner.
func NewRunner(deps RunnerDependencies) (*Runner, error) {
	if deps.Renderer == nil {
		return nil, fmt.Errorf("renderer is required")
	}
	if deps.Engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	r := &Runner{
		renderer: deps.Renderer,
		engine:   deps.Engine,
		parser:   deps.Parser,
		workers:  deps.Workers,
		logger:   deps.Logger,
	}
	if r.parser == nil {
		r.parser = chunk.NewParser(chunk.Options{})
	}
	if r.workers <= 0 {
		r.workers = DefaultWorkers
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r, nil
}

// docOutcome is what happened to one manifest entry.
type docOutcome struct {
	skipped  bool
	chunks   int
	sections int
}

// Run ingests every document in the manifest. Failures of single documents
// are reported to the renderer and counted; only cancellation, the lock and
// the manifest abort the run.
func (r *Runner) Run(ctx context.Context, cfg RunnerConfig) (*RunnerResult, error) {
	start := time.Now()

	lock := store.NewFileLock(cfg.DataDir)
	if err := lock.TryLock(); err != nil {
		return nil, err
	}
	defer func() { _ = lock.Unlock() }()

	r.renderer.UpdateProgress(ui.ProgressEvent{Stage: ui.StageManifest, Message: "Reading " + filepath.Join(cfg.DocumentsDir, ManifestFile)})
	manifest, err := LoadManifest(cfg.DocumentsDir)
	if err != nil {
		return nil, err
	}
	r.logger.Info("ingest_started",
		slog.String("dir", cfg.DocumentsDir),
		slog.Int("documents", len(manifest.Documents)),
		slog.Bool("force", cfg.Force))

	result := &RunnerResult{}
	var mu sync.Mutex
	total := len(manifest.Documents)
	done := 0
	r.renderer.UpdateProgress(ui.ProgressEvent{Stage: ui.StageIndexing, Total: total})

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for _, entry := range manifest.Documents {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			out, err := r.ingestOne(gctx, cfg, entry)

			mu.Lock()
			defer mu.Unlock()
			done++
			switch {
			case err != nil && gctx.Err() != nil:
				return gctx.Err()
			case err != nil:
				result.Errors++
				r.renderer.AddError(ui.ErrorEvent{Document: entry.ID, Err: err})
				r.logger.Warn("ingest_document_failed",
					slog.String("document_id", entry.ID),
					slog.String("error", err.Error()))
			case out.skipped:
				result.Skipped++
			default:
				result.Documents++
				result.Chunks += out.chunks
				result.Sections += out.sections
			}
			r.renderer.UpdateProgress(ui.ProgressEvent{Stage: ui.StageIndexing, Current: done, Total: total, Document: entry.ID})
			return nil
		})
	}
	err = g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		r.logger.Info("ingest_interrupted", slog.Int("done", done), slog.Int("total", total))
		return nil, fmt.Errorf("ingest interrupted at %d/%d documents: %w", done, total, err)
	}

	if cfg.Prune {
		removed, err := r.prune(ctx, manifest)
		if err != nil {
			return nil, err
		}
		result.Removed = removed
	}

	r.renderer.UpdateProgress(ui.ProgressEvent{Stage: ui.StageSaving, Message: "Saving vector index"})
	if err := r.engine.Persist(); err != nil {
		return nil, err
	}
	if err := r.engine.Metadata().SetState(ctx, store.StateKeyLastIngest, time.Now().UTC().Format(time.RFC3339)); err != nil {
		r.logger.Warn("failed to record ingest time", slog.String("error", err.Error()))
	}

	result.Duration = time.Since(start)
	stats, _ := r.engine.Stats(ctx)
	r.renderer.Complete(ui.CompletionStats{
		Documents: result.Documents,
		Skipped:   result.Skipped,
		Removed:   result.Removed,
		Chunks:    result.Chunks,
		Sections:  result.Sections,
		Errors:    result.Errors,
		Duration:  result.Duration,
		Embedder:  ui.EmbedderInfo{Model: stats.EmbedderModel, Dimensions: stats.Dimensions},
	})
	r.logger.Info("ingest_complete",
		slog.Int("documents", result.Documents),
		slog.Int("skipped", result.Skipped),
		slog.Int("removed", result.Removed),
		slog.Int("chunks", result.Chunks),
		slog.Int("sections", result.Sections),
		slog.Int("errors", result.Errors),
		slog.Int64("duration_ms", result.Duration.Milliseconds()))
	return result, nil
}

// ingestOne parses and indexes one document, unless its content and
// manifest entry are unchanged since the last run.
func (r *Runner) ingestOne(ctx context.Context, cfg RunnerConfig, e ManifestEntry) (docOutcome, error) {
	path := filepath.Join(cfg.DocumentsDir, e.File)
	content, err := os.ReadFile(path)
	if err != nil {
		return docOutcome{}, fmt.Errorf("read %s: %w", e.File, err)
	}

	published, _ := e.Published()
	kind := e.Kind
	if kind == "" {
		kind = chunk.InferKind(e.Title, e.File)
	}
	title := e.Title
	if title == "" {
		title = e.ID
	}
	doc := &store.Document{
		ID:          e.ID,
		Title:       title,
		Kind:        kind,
		FundCode:    e.FundCode,
		PublishedAt: published,
		SourcePath:  path,
		ContentHash: contentHash(content, r.parser.ChunkSize()),
	}

	if !cfg.Force {
		existing, err := r.engine.Metadata().GetDocument(ctx, e.ID)
		if err == nil && unchanged(existing, doc) {
			return docOutcome{skipped: true}, nil
		}
	}

	parsed := r.parser.Parse(string(content))
	if len(parsed.Pieces) == 0 {
		return docOutcome{}, errors.New("document has no text")
	}

	chunks := make([]*store.Chunk, len(parsed.Pieces))
	for i, p := range parsed.Pieces {
		chunks[i] = &store.Chunk{
			ID:         store.ChunkID(e.ID, p.Seq),
			DocumentID: e.ID,
			Seq:        p.Seq,
			Content:    p.Text,
			PageRef:    p.PageRef,
		}
	}
	sections := make([]*store.Section, len(parsed.Sections))
	for i, s := range parsed.Sections {
		sections[i] = &store.Section{
			DocumentID: e.ID,
			ID:         s.ID,
			Ordinal:    s.Ordinal,
			Title:      s.Title,
			Content:    s.Content,
		}
	}

	if err := r.engine.IndexDocument(ctx, search.IndexedDocument{Document: doc, Chunks: chunks, Sections: sections}); err != nil {
		return docOutcome{}, err
	}
	return docOutcome{chunks: len(chunks), sections: len(sections)}, nil
}

// prune deletes indexed documents that the manifest no longer lists.
func (r *Runner) prune(ctx context.Context, m *Manifest) (int, error) {
	listed := make(map[string]bool, len(m.Documents))
	for _, e := range m.Documents {
		listed[e.ID] = true
	}
	indexed, err := r.engine.Metadata().ListDocuments(ctx, store.DocumentFilter{})
	if err != nil {
		return 0, fmt.Errorf("list documents: %w", err)
	}

	var stale []string
	for _, d := range indexed {
		if !listed[d.ID] {
			stale = append(stale, d.ID)
		}
	}
	for i, id := range stale {
		r.renderer.UpdateProgress(ui.ProgressEvent{Stage: ui.StagePruning, Current: i + 1, Total: len(stale), Document: id})
		if err := r.engine.DeleteDocument(ctx, id); err != nil {
			return i, err
		}
		r.logger.Info("ingest_document_removed", slog.String("document_id", id))
	}
	return len(stale), nil
}

func unchanged(old, cur *store.Document) bool {
	return old != nil &&
		old.ContentHash == cur.ContentHash &&
		old.Title == cur.Title &&
		old.Kind == cur.Kind &&
		old.FundCode == cur.FundCode &&
		old.PublishedAt.Equal(cur.PublishedAt)
}

// contentHash covers the chunk size too: a new size must re-chunk.
func contentHash(content []byte, chunkSize int) string {
	h := sha256.New()
	_, _ = fmt.Fprintf(h, "%d\x00", chunkSize)
	h.Write(content)
	return hex.EncodeToString(h.Sum(nil))
}
