package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/tendant/simple-objectstore/pkg/objectstore"
	"github.com/tendant/simple-objectstore/pkg/objectstore/config"
	"github.com/tendant/simple-objectstore/pkg/objectstore/workflow"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := NewRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", describe(err))
		os.Exit(1)
	}
}

// describe prefixes the failing step and kind so scripts can grep for them
func describe(err error) string {
	var stepErr *workflow.StepError
	if errors.As(err, &stepErr) {
		return fmt.Sprintf("[%s/%s] %v", stepErr.Step, stepErr.Kind, err)
	}
	var oe *objectstore.Error
	if errors.As(err, &oe) {
		return fmt.Sprintf("[%s] %v", oe.Kind, err)
	}
	return err.Error()
}

// DefaultStorageURL keeps containers on disk between invocations
const DefaultStorageURL = "file://./data/store"

// globalFlags holds flags shared by every command
type globalFlags struct {
	storageURL string
	logLevel   string
	logFormat  string
	pageSize   int
	retries    int
	verbose    bool
}

func NewRootCommand() *cobra.Command {
	flags := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:   "objectstore",
		Short: "Object storage container lifecycle CLI",
		Long: `Object storage container lifecycle CLI

Creates, inspects and deletes containers and the objects in them on any
configured backend. The backend is chosen with --storage-url or the
OBJECTSTORE_STORAGE_URL environment variable (default: ` + DefaultStorageURL + `).
A memory:// store lives only for a single command.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flags.storageURL, "storage-url", "", "backend connection string (memory://, file://, s3://, minio://, postgres://, http://)")
	pf.StringVar(&flags.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	pf.StringVar(&flags.logFormat, "log-format", "", "log format (text, json)")
	pf.IntVar(&flags.pageSize, "page-size", 0, "listing page size")
	pf.IntVar(&flags.retries, "retries", -1, "retries of idempotent operations on transient errors")
	pf.BoolVarP(&flags.verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(NewWalkthroughCommand(flags))
	rootCmd.AddCommand(NewContainerCommand(flags))
	rootCmd.AddCommand(NewObjectCommand(flags))

	return rootCmd
}

// loadConfig applies the environment first and flags on top
func (f *globalFlags) loadConfig() (*config.Config, error) {
	opts := []config.Option{config.WithStorageURL(DefaultStorageURL), config.WithEnv()}
	if f.storageURL != "" {
		opts = append(opts, config.WithStorageURL(f.storageURL))
	}
	if f.pageSize > 0 {
		opts = append(opts, config.WithPageSize(f.pageSize))
	}
	if f.retries >= 0 {
		policy := objectstore.DefaultRetryPolicy
		policy.MaxRetries = f.retries
		opts = append(opts, config.WithRetry(policy))
	}
	level := f.logLevel
	if f.verbose {
		level = "debug"
	}
	opts = append(opts, config.WithLog(level, f.logFormat))

	return config.Load(opts...)
}

// newClient builds the client for a command. Logs go to stderr so command
// output stays parseable.
func (f *globalFlags) newClient(cmd *cobra.Command) (*objectstore.Client, *slog.Logger, func(), error) {
	cfg, err := f.loadConfig()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := cfg.NewLogger(cmd.ErrOrStderr())
	client, release, err := cfg.BuildClient(cmd.Context(), logger)
	if err != nil {
		return nil, nil, nil, err
	}

	logger.Debug("Client ready", "backend", cfg.Backend)
	if cfg.Backend == config.BackendMemory && cmd.Name() != "walkthrough" {
		logger.Warn("Memory backend selected; nothing is kept after this command exits")
	}
	return client, logger, release, nil
}
