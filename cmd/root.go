package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sageagent/sage/internal/agent"
	"github.com/sageagent/sage/internal/config"
	"github.com/sageagent/sage/internal/embedder"
	"github.com/sageagent/sage/internal/providers"
	"github.com/sageagent/sage/internal/scheduler"
	sagesignal "github.com/sageagent/sage/internal/signal"
	"github.com/sageagent/sage/internal/store"
	"github.com/sageagent/sage/internal/store/pg"
	"github.com/sageagent/sage/internal/store/sqlite"
	"github.com/sageagent/sage/internal/supervisor"
	"github.com/sageagent/sage/internal/telemetry"
)

// Version is set at build time via -ldflags "-X github.com/sageagent/sage/cmd.Version=v1.0.0"
var Version = "dev"

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "sage",
	Short: "Sage — a private, multi-tenant conversational agent over Signal",
	Long:  "Sage exchanges end-to-end encrypted messages with users over a Signal gateway, maintains durable per-user memory, and invokes tools to fulfill requests. Running sage with no subcommand starts the Supervisor: the Signal inbound loop, the scheduler, and the health endpoint.",
	Run: func(cmd *cobra.Command, args []string) {
		run()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: env-only, no file)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(migrateCmd())
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("sage %s\n", Version)
		},
	}
}

func resolveConfigPath() string {
	return config.ResolvePath(cfgFile)
}

// Execute runs the root cobra command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// run loads configuration, wires every component per SPEC_FULL.md §4, and
// blocks in the Supervisor until SIGINT/SIGTERM.
func run() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		slog.Error("sage: failed to load config", "error", err)
		os.Exit(1)
	}
	if lvl, ok := parseLogLevel(cfg.LogLevel); ok {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTelemetry, err := telemetry.Init(ctx, cfg.Otel.OTLPEndpoint, Version)
	if err != nil {
		slog.Error("sage: failed to init telemetry", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTelemetry(context.Background()) }()

	st, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		slog.Error("sage: failed to open store", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	llm := providers.NewClient(cfg.Maple.APIURL, cfg.Maple.APIKey)
	emb := embedder.New(llm, cfg.Maple.EmbeddingModel)

	mgr := agent.NewManager(cfg, st, llm, emb)
	sched := scheduler.New(st, mgr)

	liveCfg, err := config.Watch(ctx, resolveConfigPath(), cfg)
	if err != nil {
		slog.Error("sage: failed to start config watcher", "error", err)
		os.Exit(1)
	}

	dial := func(ctx context.Context) (sagesignal.Transport, error) {
		if cfg.Signal.Subprocess() {
			return sagesignal.DialSubprocess(ctx, cfg.Signal.CLISubprocess, cfg.Signal.PhoneNumber)
		}
		return sagesignal.DialTCP(ctx, cfg.Signal.CLIHost, cfg.Signal.CLIPort)
	}
	gw := sagesignal.NewGateway(dial, func(sender string) bool {
		return liveCfg.Current().Signal.Allowed(sender)
	})
	mgr.SetSender(gw)

	sup := supervisor.New(cfg, gw, mgr, sched, st, emb)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("sage: shutdown initiated", "signal", sig)
		cancel()
	}()

	slog.Info("sage: starting", "version", Version, "workspace", cfg.Workspace, "health_port", cfg.Health.Port)
	if err := sup.Run(ctx); err != nil {
		slog.Error("sage: supervisor exited with error", "error", err)
		os.Exit(1)
	}
}

// openStore picks the Postgres-backed production store or the SQLite
// standalone/dev-mode store depending on which of DATABASE_URL /
// SAGE_SQLITE_PATH is configured. SQLite is preferred when both are set,
// since its presence is an explicit opt-in for local/dev use.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, func(), error) {
	if cfg.Database.SQLitePath != "" {
		st, err := sqlite.Open(ctx, cfg.Database.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return st, st.Close, nil
	}
	st, err := pg.Open(ctx, cfg.Database.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("open pg store: %w", err)
	}
	return st, st.Close, nil
}

func parseLogLevel(s string) (slog.Level, bool) {
	switch s {
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "trace":
		return slog.LevelDebug - 4, true
	default:
		return slog.LevelInfo, false
	}
}
