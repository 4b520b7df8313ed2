package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/schaermu/groksyncd/internal/config"
	"github.com/schaermu/groksyncd/internal/fetch"
	"github.com/schaermu/groksyncd/internal/grok"
	"github.com/schaermu/groksyncd/internal/reconcile"
	"github.com/schaermu/groksyncd/internal/retry"
	"github.com/schaermu/groksyncd/internal/spec"
	"github.com/schaermu/groksyncd/internal/store"
	"github.com/spf13/cobra"
)

var (
	// Set by goreleaser
	version = "dev"
	commit  = "none"
	date    = "unknown"

	// Global flags
	cfgFile   string
	logLevel  string
	logFormat string

	// Sync command flags
	reindexRetries int
	dryRun         bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "groksyncd",
	Short: "Reconcile OpenGrok projects against a declared project set",
	Long: `groksyncd keeps the projects registered with an OpenGrok server in sync
with a declared set of project specifications.

It reads the desired project set as JSON from standard input, acquires or
refreshes each project's source tree from its git or archive origin, and
adds, deletes or reindexes projects so that the server converges on the
declared state. Projects whose source did not change are left alone.`,
	SilenceUsage: true,
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one reconciliation pass from standard input",
	Long: `Sync reads the desired project set from standard input as JSON:

  {"projects": [{"name": "...", "git": {...}}, {"name": "...", "archive": {...}}]}

Each project declares exactly one origin. Registered projects missing from
the input are deleted; projects whose source changed are reindexed; new or
drifted projects are recreated.`,
	RunE: runSync,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("groksyncd %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is /etc/groksyncd/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")

	// Sync command flags
	syncCmd.Flags().IntVar(&reindexRetries, "reindex-retries", 0, "number of attempts for the reindex step (default from config, 3)")
	syncCmd.Flags().BoolVar(&dryRun, "dry-run", false, "show what would be done without making changes")

	// Add commands
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(versionCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	// Setup logger
	logger := setupLogger()

	// Load configuration
	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if reindexRetries > 0 {
		cfg.Reindex.Retries = reindexRetries
	}

	// Read the desired project set
	desired, err := spec.Parse(os.Stdin)
	if err != nil {
		return err
	}

	// Create dependencies
	recordStore := store.New(cfg, logger)
	fetcher := fetch.NewEngine(cfg, logger)
	apiClient := grok.NewClient(cfg.Server.URL)
	tools := grok.NewShellTools(cfg, logger)
	policy := retry.New(cfg.Reindex.Retries, grok.IsExitError)

	// Create reconciliation engine
	engine := reconcile.NewEngine(cfg, recordStore, fetcher, apiClient, tools, policy, logger, dryRun)

	if err := engine.Run(ctx, desired); err != nil {
		logger.Error("reconciliation failed", "error", err)
		return err
	}

	return nil
}

func setupLogger() *slog.Logger {
	// Parse log level
	var level slog.Level
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	// Create handler based on format
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if logFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

func loadConfig(logger *slog.Logger) (*config.Config, error) {
	configPath := cfgFile
	if configPath == "" {
		configPath = "/etc/groksyncd/config.yaml"
	}

	logger.Debug("loading configuration", "path", configPath)

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger.Debug("configuration loaded",
		"server", cfg.Server.URL,
		"src_dir", cfg.Paths.SrcDir,
		"data_dir", cfg.Paths.DataDir)

	return cfg, nil
}

func setupSignalHandler() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		cancel()
	}()

	return ctx, cancel
}
