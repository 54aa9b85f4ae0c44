package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/fundrag/internal/app"
	"github.com/Aman-CERP/fundrag/internal/chunk"
	"github.com/Aman-CERP/fundrag/internal/index"
	"github.com/Aman-CERP/fundrag/internal/output"
	"github.com/Aman-CERP/fundrag/internal/ui"
	"github.com/Aman-CERP/fundrag/internal/watcher"
)

// ingestOptions holds CLI flags for ingest.
type ingestOptions struct {
	documentsDir string
	force        bool
	prune        bool
	plain        bool
	noColor      bool
	watch        bool
	poll         bool
}

func newIngestCmd() *cobra.Command {
	var opts ingestOptions

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Index the documents directory",
		Long: `Index the disclosure documents listed in documents.yaml.

Without a manifest every .md, .markdown and .txt file in the directory is
indexed, its id taken from the file name. Unchanged documents are skipped;
use --force to rebuild them and --prune to drop documents that are no
longer listed. --watch keeps the index current as files are added or
edited; combine it with --prune to also drop deleted files.

Examples:
  fundrag ingest
  fundrag ingest --documents ./disclosures --prune
  fundrag ingest --force --plain
  fundrag ingest --watch --prune`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runIngest(cmd.Context(), cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.documentsDir, "documents", "", "Documents directory (default: paths.documents_dir)")
	cmd.Flags().BoolVar(&opts.force, "force", false, "Reindex documents even when unchanged")
	cmd.Flags().BoolVar(&opts.prune, "prune", false, "Remove indexed documents missing from the manifest")
	cmd.Flags().BoolVar(&opts.plain, "plain", false, "Plain progress output instead of the interactive display")
	cmd.Flags().BoolVar(&opts.noColor, "no-color", false, "Disable colours")
	cmd.Flags().BoolVarP(&opts.watch, "watch", "w", false, "Keep running and reingest when documents change")
	cmd.Flags().BoolVar(&opts.poll, "poll", false, "With --watch, poll the directory instead of using file notifications")

	return cmd
}

func runIngest(ctx context.Context, cmd *cobra.Command, opts ingestOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if opts.documentsDir != "" {
		if cfg.Paths.DocumentsDir, err = filepath.Abs(opts.documentsDir); err != nil {
			return fmt.Errorf("resolve documents directory: %w", err)
		}
	}

	a, err := openApp(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	err = ingestOnce(ctx, cmd.OutOrStdout(), a, opts)
	if !opts.watch {
		return err
	}
	if err != nil {
		slog.Warn("initial ingest incomplete", slog.String("error", err.Error()))
		output.New(cmd.ErrOrStderr()).Warning(err.Error())
	}
	return watchDocuments(ctx, cmd.OutOrStdout(), a, opts, nil)
}

// ingestOnce runs one ingest pass over the documents directory.
func ingestOnce(ctx context.Context, w io.Writer, a *app.App, opts ingestOptions) error {
	cfg := a.Config
	renderer := ui.NewRenderer(ui.NewConfig(w,
		ui.WithForcePlain(opts.plain),
		ui.WithNoColor(opts.noColor),
		ui.WithDocumentsDir(cfg.Paths.DocumentsDir)))
	if err := renderer.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = renderer.Stop() }()

	runner, err := index.NewRunner(index.RunnerDependencies{
		Renderer: renderer,
		Engine:   a.Engine,
		Parser:   chunk.NewParser(chunk.Options{ChunkSize: cfg.Ingest.ChunkSize}),
		Workers:  cfg.Ingest.Workers,
		Logger:   slog.Default().With(slog.String("component", "ingest")),
	})
	if err != nil {
		return err
	}

	result, err := runner.Run(ctx, index.RunnerConfig{
		DocumentsDir: cfg.Paths.DocumentsDir,
		DataDir:      cfg.Paths.DataDir,
		Force:        opts.force,
		Prune:        opts.prune,
	})
	if err != nil {
		return err
	}
	a.Resolver.Invalidate()

	if result.Errors > 0 {
		return fmt.Errorf("%d of %d documents failed to index; see %s",
			result.Errors, result.Documents+result.Skipped+result.Errors, "fundrag logs --level warn")
	}
	return nil
}

// watchDocuments reingests whenever the documents directory changes, until
// ctx is cancelled. Later passes use plain output and never force. after,
// when set, runs after every pass.
func watchDocuments(ctx context.Context, w io.Writer, a *app.App, opts ingestOptions, after func(context.Context)) error {
	dir := a.Config.Paths.DocumentsDir
	dw, err := watcher.New(dir, watcher.Options{
		Poll:   opts.poll,
		Filter: index.AffectsManifest,
		Logger: slog.Default().With(slog.String("component", "watcher")),
	})
	if err != nil {
		return err
	}
	defer func() { _ = dw.Close() }()

	out := output.New(w)
	out.Dim(fmt.Sprintf("Watching %s for changes (Ctrl+C to stop)", dir))

	rerun := opts
	rerun.force = false
	rerun.plain = true
	return dw.Run(ctx, func(ctx context.Context, names []string) error {
		out.Statusf("~", "Changed: %s", strings.Join(names, ", "))
		err := ingestOnce(ctx, w, a, rerun)
		if after != nil {
			after(ctx)
		}
		return err
	})
}
