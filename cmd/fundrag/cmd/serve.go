package cmd

import (
	"context"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/fundrag/internal/mcp"
)

func newServeCmd() *cobra.Command {
	var transport, addr string
	var watch, poll bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server",
		Long: `Start the MCP server for AI assistants.

The server exposes the retrieve, list_documents and index_status tools,
every indexed document as a fundrag://documents/<id> resource, and
retrieval metrics as fundrag://metrics.

With the stdio transport nothing but protocol messages is written to
stdout; logs go to the log file only (see 'fundrag logs').

--watch reingests the documents directory in the background whenever it
changes, pruning deleted documents. Use it instead of running
'fundrag ingest --watch' next to the server: the keyword index allows one
process at a time.

Examples:
  fundrag serve
  fundrag serve --watch
  fundrag serve --transport http --addr 127.0.0.1:8765`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), transport, addr, watch, poll)
		},
	}

	cmd.Flags().StringVar(&transport, "transport", "", "Transport: stdio, http (default: server.transport)")
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address for http (default: server.addr)")
	cmd.Flags().BoolVar(&watch, "watch", false, "Reingest in the background when documents change")
	cmd.Flags().BoolVar(&poll, "poll", false, "With --watch, poll the directory instead of using file notifications")

	return cmd
}

func runServe(ctx context.Context, transport, addr string, watch, poll bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if transport == "" {
		transport = cfg.Server.Transport
	}
	if addr == "" {
		addr = cfg.Server.Addr
	}
	if !debugMode {
		if err := setupLogging(cfg.Server.LogLevel); err != nil {
			return err
		}
	}

	a, err := openApp(ctx, cfg, true)
	if err != nil {
		slog.Error("serve_failed", slog.String("error", err.Error()))
		return err
	}
	defer func() { _ = a.Close() }()

	orchestrator, err := a.Retriever()
	if err != nil {
		return err
	}

	srv, err := mcp.NewServer(orchestrator, a.Engine, cfg)
	if err != nil {
		return err
	}
	srv.SetLogger(slog.Default().With(slog.String("component", "mcp")))
	srv.SetMetrics(a.Metrics())
	if err := srv.RegisterResources(ctx); err != nil {
		slog.Warn("document resources not registered", slog.String("error", err.Error()))
	}

	if watch {
		watchCtx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})
		defer func() {
			cancel()
			<-done
		}()
		go func() {
			defer close(done)
			opts := ingestOptions{plain: true, noColor: true, prune: true, poll: poll}
			refresh := func(ctx context.Context) {
				if err := srv.RegisterResources(ctx); err != nil {
					slog.Warn("document resources not refreshed", slog.String("error", err.Error()))
				}
			}
			if err := watchDocuments(watchCtx, io.Discard, a, opts, refresh); err != nil {
				slog.Error("watch_failed", slog.String("error", err.Error()))
			}
		}()
	}

	slog.Info("serve_started",
		slog.String("transport", transport),
		slog.String("addr", addr),
		slog.Bool("watch", watch))
	return srv.Serve(ctx, transport, addr)
}
