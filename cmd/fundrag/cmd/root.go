// Package cmd provides the CLI commands for fundrag.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/Aman-CERP/fundrag/internal/app"
	"github.com/Aman-CERP/fundrag/internal/config"
	frerrors "github.com/Aman-CERP/fundrag/internal/errors"
	"github.com/Aman-CERP/fundrag/internal/logging"
	"github.com/Aman-CERP/fundrag/internal/profiling"
	"github.com/Aman-CERP/fundrag/pkg/version"
)

// Persistent flags.
var (
	projectDir   string
	debugMode    bool
	profileCPU   string
	profileMem   string
	profileTrace string
)

// Hook state, released by PersistentPostRunE.
var (
	profiler       = profiling.NewProfiler()
	cpuCleanup     func()
	traceCleanup   func()
	loggingCleanup func()
)

// NewRootCmd creates the root command of the fundrag CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fundrag",
		Short: "Question answering over Chinese fund disclosure documents",
		Long: `fundrag answers questions about fund prospectuses, announcements and
periodic reports. It fuses vector search, keyword search, whole-document
reading and section classification, and only answers from text an LLM
judged relevant.

Typical use:
  fundrag ingest                 index the documents directory
  fundrag ask "管理费率是多少？"     ask a question
  fundrag serve                  expose retrieval to MCP clients`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	cmd.SetVersionTemplate("fundrag version {{.Version}}\n")

	cmd.PersistentFlags().StringVarP(&projectDir, "dir", "C", ".", "Project directory holding .fundrag.yaml")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Log at debug level to "+logging.DefaultLogPath())
	cmd.PersistentFlags().StringVar(&profileCPU, "profile-cpu", "", "Write a CPU profile to file")
	cmd.PersistentFlags().StringVar(&profileMem, "profile-mem", "", "Write a heap profile to file on exit")
	cmd.PersistentFlags().StringVar(&profileTrace, "profile-trace", "", "Write an execution trace to file")

	cmd.PersistentPreRunE = startCommand
	cmd.PersistentPostRunE = stopCommand

	cmd.AddCommand(newAskCmd())
	cmd.AddCommand(newIngestCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newDocumentsCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newStatsCmd())
	cmd.AddCommand(newDoctorCmd())
	cmd.AddCommand(newEvalCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newLogsCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command until it finishes or the process is
// interrupted.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := NewRootCmd().ExecuteContext(ctx)
	if err != nil {
		fmt.Fprint(os.Stderr, frerrors.FormatForCLI(err))
	}
	return err
}

// startCommand loads .env, starts file logging and any requested profiles.
func startCommand(_ *cobra.Command, _ []string) error {
	if err := loadDotEnv(projectDir); err != nil {
		return err
	}

	level := "info"
	if debugMode {
		level = "debug"
	}
	if err := setupLogging(level); err != nil {
		return err
	}

	var err error
	if profileCPU != "" {
		if cpuCleanup, err = profiler.StartCPU(profileCPU); err != nil {
			return err
		}
	}
	if profileTrace != "" {
		if traceCleanup, err = profiler.StartTrace(profileTrace); err != nil {
			return err
		}
	}
	return nil
}

// stopCommand stops profiling and closes the log file.
func stopCommand(_ *cobra.Command, _ []string) error {
	if cpuCleanup != nil {
		cpuCleanup()
		cpuCleanup = nil
	}
	if traceCleanup != nil {
		traceCleanup()
		traceCleanup = nil
	}
	var err error
	if profileMem != "" {
		err = profiler.WriteHeap(profileMem)
	}
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
	return err
}

// loadDotEnv reads dir/.env into the environment. Variables already set
// win, and a missing file is not an error.
func loadDotEnv(dir string) error {
	err := godotenv.Load(filepath.Join(dir, ".env"))
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return frerrors.ConfigError("failed to read .env", err).WithDetail("dir", dir)
}

// setupLogging (re)installs the default logger. Logs go to the log file
// only: the stdio transport owns stdout, and CLI output owns the terminal.
func setupLogging(level string) error {
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
	cleanup, err := logging.SetupDefault(logging.ServeConfig(level))
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	loggingCleanup = cleanup
	slog.Debug("logging_started", slog.String("level", level), slog.String("version", version.Version))
	return nil
}

// loadConfig loads the configuration of the project directory.
func loadConfig() (*config.Config, error) {
	dir, err := filepath.Abs(projectDir)
	if err != nil {
		return nil, fmt.Errorf("resolve project directory: %w", err)
	}
	return config.Load(dir)
}

// openApp opens the index of cfg. When requireIndex is set, a missing index
// is an error that tells the user to ingest first.
func openApp(ctx context.Context, cfg *config.Config, requireIndex bool) (*app.App, error) {
	if requireIndex && !app.IndexExists(cfg.Paths.DataDir) {
		return nil, frerrors.New(frerrors.ErrCodeDocumentNotFound, "no index found", nil).
			WithDetail("data_dir", cfg.Paths.DataDir).
			WithSuggestion("Run 'fundrag ingest' first")
	}
	return app.Open(ctx, cfg, app.WithLogger(slog.Default()))
}
