// Package cmd defines the crawl-ingest CLI.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-ingest/internal/app"
	"github.com/JakeFAU/crawl-ingest/internal/config"
	"github.com/JakeFAU/crawl-ingest/internal/logging"
)

type runtimeKeyType struct{}

var runtimeKey runtimeKeyType

// runtime is what the root command prepares for its subcommands.
type runtime struct {
	cfg    config.Config
	logger *zap.Logger
}

// newApp builds the application. Tests swap it out.
var newApp = app.Build

func newRootCmd() *cobra.Command {
	var (
		cfgFile  string
		logLevel string
		dev      bool
	)
	cmd := &cobra.Command{
		Use:   "crawl-ingest",
		Short: "Ingest crawl records into the link graph and inverted indexes.",
		Long: `crawl-ingest buffers crawl records and writes them to the pages, images,
page_tokens and image_tokens collections, merging duplicates and
accumulating token counts across batches.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("log-level") {
				cfg.Logging.Level = logLevel
			}
			if cmd.Flags().Changed("dev") {
				cfg.Logging.Development = dev
			}
			logger, err := logging.New(logging.Options{
				Development: cfg.Logging.Development,
				Level:       cfg.Logging.Level,
			})
			if err != nil {
				return fmt.Errorf("logger init failed: %w", err)
			}
			zap.ReplaceGlobals(logger)
			cmd.SetContext(context.WithValue(cmd.Context(), runtimeKey, &runtime{cfg: cfg, logger: logger}))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if rt, err := fromContext(cmd.Context()); err == nil {
				_ = rt.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, TOML or JSON)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging.level")
	cmd.PersistentFlags().BoolVar(&dev, "dev", false, "use the development logger")

	cmd.AddCommand(newIngestCmd(), newStatsCmd(), newMigrateCmd())
	return cmd
}

func fromContext(ctx context.Context) (*runtime, error) {
	rt, ok := ctx.Value(runtimeKey).(*runtime)
	if !ok || rt == nil {
		return nil, errors.New("configuration not loaded")
	}
	return rt, nil
}

// Execute runs the root command.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
