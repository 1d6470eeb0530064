package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Kocoro-lab/deepresearch/internal/app"
	"github.com/Kocoro-lab/deepresearch/internal/config"
)

var (
	// Global flags
	configPath string
	verbose    bool

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "research",
	Short: "Run and inspect deep research jobs from the terminal",
	Long: `research drives the deep research engine without the API server.

Jobs run in this process against the same database, model and evidence
configuration the server uses, so their history shows up in the API.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zc := zap.NewProductionConfig()
		zc.Encoding = "console"
		zc.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
		if verbose {
			zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zc.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to the research config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(runCmd, questionsCmd, migrateCmd, historyCmd, ingestCmd, replayCmd)
}

func defaultConfigPath() string {
	if p := os.Getenv("RESEARCH_CONFIG"); p != "" {
		return p
	}
	if _, err := os.Stat("config/research.yaml"); err == nil {
		return "config/research.yaml"
	}
	return ""
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// buildApp loads configuration and wires the engine for one command.
func buildApp(ctx context.Context, opts app.Options) (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	lg := logger
	if lg == nil {
		lg = zap.NewNop()
	}
	return app.Build(ctx, cfg, lg, opts)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
