package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/mogad0n/oraserv/internal/config"
	"github.com/mogad0n/oraserv/internal/irc"
	"github.com/mogad0n/oraserv/internal/logging"
	"github.com/mogad0n/oraserv/internal/storage"
	"github.com/spf13/cobra"
)

// Version information - set at build time via ldflags
var (
	version   = "dev"
	buildDate = "unknown"
	gitCommit = "unknown"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		foreground  bool
		configPath  string
		showVersion bool
	)

	root := &cobra.Command{
		Use:          "oraserv",
		Short:        "IRC operator bot for banning and suspending users on an Ergo network",
		SilenceUsage: true,
		RunE: func(_ *cobra.Command, _ []string) error {
			if showVersion {
				printVersion()
				return nil
			}

			// Set version info in irc package
			irc.Version = version
			irc.BuildDate = buildDate
			irc.GitCommit = gitCommit

			// Daemonize unless -x flag is set
			if !foreground {
				return daemonize()
			}

			// Write PID file
			if err := writePIDFile(); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: could not write PID file: %v\n", err)
			}

			return run(configPath)
		},
	}

	root.Flags().BoolVarP(&foreground, "foreground", "x", false, "Run in foreground (don't daemonize)")
	root.Flags().StringVarP(&configPath, "config", "c", "./config.yaml", "Path to configuration file")
	root.Flags().BoolVarP(&showVersion, "version", "v", false, "Show version information and exit")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(_ *cobra.Command, _ []string) {
			printVersion()
		},
	})

	return root
}

func printVersion() {
	fmt.Printf("oraserv version %s\n", version)
	fmt.Printf("Built: %s\n", buildDate)
	fmt.Printf("Commit: %s\n", gitCommit)
}

// daemonize re-executes the binary detached from the terminal, twice, the
// second time with -x so the grandchild runs the bot.
func daemonize() error {
	args := os.Args

	if os.Getenv("ORASERV_DAEMON") == "1" {
		fmt.Printf("Now becoming a daemon\nMy pid is %d\n", os.Getpid())

		cmd := exec.Command(args[0], append(args[1:], "-x")...)
		cmd.Env = os.Environ()

		if err := cmd.Start(); err != nil {
			return fmt.Errorf("failed to start daemon: %w", err)
		}

		return nil
	}

	// First fork
	cmd := exec.Command(args[0], args[1:]...)
	cmd.Env = append(os.Environ(), "ORASERV_DAEMON=1")

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to fork: %w", err)
	}

	return nil
}

func writePIDFile() error {
	pid := os.Getpid()
	return os.WriteFile("pid.txt", []byte(fmt.Sprintf("%d\n", pid)), 0o644)
}

func openLedger(ctx context.Context, cfg *config.Config) (*storage.Ledger, error) {
	var persister storage.Persister

	switch cfg.Store.Backend {
	case "sqlite":
		db, err := storage.OpenSQLite(ctx, cfg.DataDir)
		if err != nil {
			return nil, err
		}
		persister = db
	default:
		persister = storage.NewYAMLFile(cfg.DataDir)
	}

	return storage.OpenLedger(ctx, persister)
}

func run(configPath string) error {
	// Make config path absolute
	if !filepath.IsAbs(configPath) {
		wd, _ := os.Getwd()
		configPath = filepath.Join(wd, configPath)
	}

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	closeLog := logging.MustSetDefault(cfg.Log.Level, cfg.Log.File)
	defer closeLog()

	// Create data directory if it doesn't exist
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	ctx := context.Background()

	ledger, err := openLedger(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to load ban ledger: %w", err)
	}

	// Create IRC client
	client, err := irc.NewClient(cfg, ledger)
	if err != nil {
		return fmt.Errorf("failed to create IRC client: %w", err)
	}

	shutdown := func(reason string) {
		client.Quit(reason)
		if errClose := ledger.Close(ctx); errClose != nil {
			slog.Error("Failed to flush ban ledger on shutdown", slog.String("error", errClose.Error()))
		}
		closeLog()
		os.Exit(0)
	}

	client.OnShutdown = func() {
		shutdown("Shutdown requested")
	}

	client.OnRestart = func() {
		client.Quit("Restarting")
		if errClose := ledger.Close(ctx); errClose != nil {
			slog.Error("Failed to flush ban ledger on restart", slog.String("error", errClose.Error()))
		}

		// Remove any -x flag so we daemonize again
		var newArgs []string
		for _, arg := range os.Args {
			if arg != "-x" {
				newArgs = append(newArgs, arg)
			}
		}

		if execErr := syscall.Exec(newArgs[0], newArgs, os.Environ()); execErr != nil {
			slog.Error("Failed to restart", slog.String("error", execErr.Error()))
			os.Exit(1)
		}
	}

	// Signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		slog.Info("Received signal, shutting down", slog.String("signal", sig.String()))
		shutdown("Received shutdown signal")
	}()

	// Connect and run
	slog.Info("Connecting", slog.String("server", cfg.Server), slog.Int("port", cfg.Port))
	if err := client.Connect(); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	slog.Info("Connected, entering main loop")
	client.Loop()

	if errClose := ledger.Close(ctx); errClose != nil {
		slog.Error("Failed to flush ban ledger on exit", slog.String("error", errClose.Error()))
	}

	return nil
}
