package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/gofrs/flock"
	"github.com/schaermu/vcpkgsync/internal/bootstrap"
	"github.com/schaermu/vcpkgsync/internal/config"
	"github.com/schaermu/vcpkgsync/internal/git"
	"github.com/schaermu/vcpkgsync/internal/sync"
	"github.com/spf13/cobra"
)

// defaultConfigFile is looked up in the working directory and may be absent
const defaultConfigFile = "vcpkgsync.yaml"

var (
	// Set by goreleaser
	version = "dev"
	commit  = "none"
	date    = "unknown"

	// Global flags
	cfgFile   string
	logLevel  string
	logFormat string

	// Root command flags
	manifestPath string
	buildDir     string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "vcpkgsync",
	Short: "Check out and bootstrap vcpkg at the pinned baseline",
	Long: `vcpkgsync makes sure a local vcpkg checkout exists at the revision pinned by
the "builtin-baseline" field of vcpkg.json, then runs the vcpkg bootstrap script.

Run it without arguments from the project root before configuring the build.
A checkout that is already at the pinned revision and bootstrapped is left
untouched.`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runSync,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("vcpkgsync %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./"+defaultConfigFile+" when present)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")

	// Sync flags
	rootCmd.Flags().StringVar(&manifestPath, "manifest", "", "manifest holding the pinned revision (overrides paths.manifest)")
	rootCmd.Flags().StringVar(&buildDir, "build-dir", "", "build output directory (overrides paths.build_dir)")

	// Add commands
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

	// Concurrent runs against one checkout are not supported by the engine
	unlock, err := acquireLock(cfg.LockFilePath())
	if err != nil {
		return err
	}
	defer unlock()

	// Create dependencies
	gitClient := git.NewShellClient(cfg.Auth.SSHKeyFile, cfg.Auth.HTTPSTokenFile)
	runner := bootstrap.NewScriptRunner(cfg.Bootstrap.Script, cfg.Bootstrap.Args, os.Stdout, os.Stderr)

	// Create sync engine
	engine := sync.NewEngine(cfg, gitClient, runner, logger)

	// Run sync
	logger.Info("starting sync operation")
	outcome, err := engine.Run(ctx)
	if err != nil {
		logger.Error("sync failed", "error", err)
		return err
	}

	logger.Info("sync finished", "result", outcome.Result.String(), "commit", outcome.Commit)
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
	// An explicit config file must exist; the default one is optional
	configPath := cfgFile
	optional := false
	if configPath == "" {
		configPath = defaultConfigFile
		optional = true
	}

	logger.Info("loading configuration", "path", configPath, "optional", optional)

	cfg, err := config.Load(configPath, optional)
	if err != nil {
		return nil, err
	}

	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get working directory: %w", err)
	}
	if manifestPath != "" {
		cfg.Paths.Manifest = absFrom(wd, manifestPath)
	}
	if buildDir != "" {
		cfg.Paths.BuildDir = absFrom(wd, buildDir)
	}

	logger.Debug("configuration loaded",
		"repo", cfg.Repo.URL,
		"manifest", cfg.ManifestPath(),
		"checkout_dir", cfg.CheckoutDir(),
		"auth", cfg.AuthMethod())

	return cfg, nil
}

// absFrom anchors flag paths at the working directory rather than the config file
func absFrom(wd, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(wd, p)
}

// acquireLock takes an exclusive lock next to the checkout and fails fast if
// another run holds it.
func acquireLock(path string) (func(), error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create build directory: %w", err)
	}

	lock := flock.New(path)
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to lock %s: %w", path, err)
	}
	if !locked {
		return nil, fmt.Errorf("another vcpkgsync run holds %s", path)
	}

	return func() {
		_ = lock.Unlock()
	}, nil
}

var (
	fatalTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	fatalBoxStyle   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("9")).
			Padding(0, 1)
)

// printError reports a failed run. A revision missing from the remote gets an
// actionable banner since retrying cannot fix it.
func printError(w io.Writer, err error) {
	var notFound *sync.RevisionNotFoundError
	if errors.As(err, &notFound) {
		body := fmt.Sprintf("%s\n\nremote:   %s\nrevision: %s\n\nUpdate the pinned revision (builtin-baseline in vcpkg.json)\nor set repo.url to a fork that contains it.",
			fatalTitleStyle.Render("Pinned vcpkg revision not found"),
			notFound.Remote,
			notFound.Revision)
		_, _ = fmt.Fprintln(w, fatalBoxStyle.Render(body))
		return
	}
	_, _ = fmt.Fprintf(w, "Error: %v\n", err)
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
