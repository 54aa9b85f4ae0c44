package cmd

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/fundrag/internal/app"
	"github.com/Aman-CERP/fundrag/internal/config"
	"github.com/Aman-CERP/fundrag/internal/index"
	"github.com/Aman-CERP/fundrag/internal/output"
	"github.com/Aman-CERP/fundrag/internal/profiling"
	"github.com/Aman-CERP/fundrag/internal/search"
	"github.com/Aman-CERP/fundrag/internal/store"
)

// StatusInfo is the index status, also the JSON output of status.
type StatusInfo struct {
	DataDir      string             `json:"data_dir"`
	DocumentsDir string             `json:"documents_dir"`
	Index        search.EngineStats `json:"index"`
	LastIngest   string             `json:"last_ingest,omitempty"`

	// Manifest counts; Pending are listed but not indexed.
	Listed   int    `json:"listed"`
	Pending  int    `json:"pending"`
	Manifest string `json:"manifest_error,omitempty"`

	KeywordBackend string `json:"keyword_backend"`
	MetadataBytes  int64  `json:"metadata_bytes"`
	KeywordBytes   int64  `json:"keyword_bytes"`
	VectorBytes    int64  `json:"vector_bytes"`
}

func newStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show index health and status",
		Long: `Display the state of the index: document, chunk and vector counts, the
last ingest, the embedder in use, storage sizes, and how many manifest
documents are not indexed yet.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd.Context(), cmd, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runStatus(ctx context.Context, cmd *cobra.Command, jsonOutput bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := openApp(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	info, err := collectStatus(ctx, cfg, a)
	if err != nil {
		return fmt.Errorf("failed to collect status: %w", err)
	}
	if jsonOutput {
		return writeJSON(cmd.OutOrStdout(), info)
	}
	printStatus(output.New(cmd.OutOrStdout()), info)
	return nil
}

func collectStatus(ctx context.Context, cfg *config.Config, a *app.App) (StatusInfo, error) {
	stats, err := a.Engine.Stats(ctx)
	if err != nil {
		return StatusInfo{}, err
	}
	info := StatusInfo{
		DataDir:        cfg.Paths.DataDir,
		DocumentsDir:   cfg.Paths.DocumentsDir,
		Index:          stats,
		KeywordBackend: cfg.Search.KeywordBackend,
	}
	info.LastIngest, _ = a.Engine.Metadata().GetState(ctx, store.StateKeyLastIngest)

	if m, err := index.LoadManifest(cfg.Paths.DocumentsDir); err != nil {
		info.Manifest = err.Error()
	} else {
		info.Listed = len(m.Documents)
		for _, e := range m.Documents {
			if d, err := a.Engine.Metadata().GetDocument(ctx, e.ID); err == nil && d == nil {
				info.Pending++
			}
		}
	}

	info.MetadataBytes = fileSize(app.MetadataPath(cfg.Paths.DataDir))
	info.VectorBytes = fileSize(app.VectorPath(cfg.Paths.DataDir)) + fileSize(app.VectorPath(cfg.Paths.DataDir)+".meta")
	keyword := app.KeywordPath(cfg.Paths.DataDir)
	if cfg.Search.KeywordBackend == string(store.BM25BackendSQLite) {
		info.KeywordBytes = fileSize(keyword + ".db")
	} else {
		info.KeywordBytes = dirSize(keyword + ".bleve")
	}
	return info, nil
}

func printStatus(out *output.Writer, info StatusInfo) {
	out.Heading("Index")
	out.Field("Documents", strconv.Itoa(info.Index.Documents))
	out.Field("Chunks", strconv.Itoa(info.Index.Chunks))
	out.Field("Sections", strconv.Itoa(info.Index.Sections))
	out.Field("Vectors", strconv.Itoa(info.Index.Vectors))
	out.Field("Keyword entries", fmt.Sprintf("%d (%s)", info.Index.KeywordDocs, info.KeywordBackend))
	out.Field("Last ingest", formatIngestTime(info.LastIngest))
	out.Newline()

	out.Heading("Embedder")
	out.Field("Model", info.Index.EmbedderModel)
	out.Field("Dimensions", strconv.Itoa(info.Index.Dimensions))
	if info.Index.EmbedderModel == "static" {
		out.Dim("Static hashing embeddings: semantic quality is low, keyword search carries recall.")
	}
	out.Newline()

	out.Heading("Documents directory")
	out.Field("Path", info.DocumentsDir)
	if info.Manifest != "" {
		out.Warning(info.Manifest)
	} else {
		out.Field("Listed", strconv.Itoa(info.Listed))
		if info.Pending > 0 {
			out.Warningf("%d documents not indexed; run 'fundrag ingest'", info.Pending)
		}
	}
	out.Newline()

	out.Heading("Storage")
	out.Field("Path", info.DataDir)
	out.Field("Metadata", profiling.FormatBytes(uint64(info.MetadataBytes)))
	out.Field("Keyword", profiling.FormatBytes(uint64(info.KeywordBytes)))
	out.Field("Vectors", profiling.FormatBytes(uint64(info.VectorBytes)))
	out.Field("Total", profiling.FormatBytes(uint64(info.MetadataBytes+info.KeywordBytes+info.VectorBytes)))
}

func formatIngestTime(s string) string {
	if s == "" {
		return "never"
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return s
	}
	return fmt.Sprintf("%s (%s ago)", t.Local().Format("2006-01-02 15:04"), time.Since(t).Round(time.Minute))
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}

func dirSize(path string) int64 {
	var size int64
	_ = filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			if info, err := d.Info(); err == nil {
				size += info.Size()
			}
		}
		return nil
	})
	return size
}
