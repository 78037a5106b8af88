package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/crawl-ingest/internal/report"
	"github.com/JakeFAU/crawl-ingest/internal/source"
	"github.com/JakeFAU/crawl-ingest/internal/source/jsonl"
)

type ingestOptions struct {
	serve           bool
	parallel        int
	shutdownTimeout time.Duration
}

func newIngestCmd() *cobra.Command {
	opts := ingestOptions{}
	cmd := &cobra.Command{
		Use:   "ingest [file.jsonl ...]",
		Short: "Run one ingestion pass",
		Long: `Reads crawl records (one JSON object per line) from the given files, or
from stdin when no file is given and no subscription is configured, and
writes them to the store. With a Pub/Sub subscription or --serve the run
stays open until SIGINT or SIGTERM. The run summary is printed on exit.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd, args, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.serve, "serve", false, "keep the run open after files are read")
	cmd.Flags().IntVar(&opts.parallel, "parallel", 4, "files read concurrently")
	cmd.Flags().DurationVar(&opts.shutdownTimeout, "shutdown-timeout", 2*time.Minute,
		"time allowed for the final drain and flush")
	return cmd
}

func runIngest(cmd *cobra.Command, files []string, opts ingestOptions) error {
	rt, err := fromContext(cmd.Context())
	if err != nil {
		return err
	}
	logger := rt.logger

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, rt.cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer a.Close()

	sub, err := a.Subscriber(ctx)
	if err != nil {
		return err
	}

	// Workers outlive the signal; Stop drains them.
	if err := a.Start(context.WithoutCancel(ctx)); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	if sub != nil {
		g.Go(func() error { return sub.Run(gctx) })
	}
	if opts.serve && sub == nil {
		g.Go(func() error {
			<-gctx.Done()
			return nil
		})
	}
	g.Go(func() error {
		var readers errgroup.Group
		if opts.parallel > 0 {
			readers.SetLimit(opts.parallel)
		}
		for _, name := range files {
			readers.Go(func() error {
				return ingestFile(gctx, name, a.Submitter(), logger)
			})
		}
		if len(files) == 0 && sub == nil && !opts.serve {
			readers.Go(func() error {
				return ingestStdin(gctx, cmd, a.Submitter(), logger)
			})
		}
		return readers.Wait()
	})

	runErr := g.Wait()
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}
	if ctx.Err() != nil {
		logger.Info("signal received, stopping run")
	}

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), opts.shutdownTimeout)
	defer cancel()
	summary, stopErr := a.Stop(stopCtx)
	if summary.RunID != "" {
		fmt.Fprint(cmd.OutOrStdout(), report.FormatText(summary))
	}
	return errors.Join(runErr, stopErr)
}

func ingestFile(ctx context.Context, name string, submit source.Submitter, logger *zap.Logger) error {
	f, err := os.Open(name)
	if err != nil {
		return fmt.Errorf("open %s: %w", name, err)
	}
	defer f.Close()
	stats, err := jsonl.Read(ctx, name, f, submit, logger)
	logger.Info("finished reading file",
		zap.String("file", name),
		zap.Int64("records", stats.Records),
		zap.Int64("rejected", stats.Rejected),
	)
	return err
}

// ingestStdin returns on ctx cancel even while the scanner is blocked on a
// terminal.
func ingestStdin(ctx context.Context, cmd *cobra.Command, submit source.Submitter, logger *zap.Logger) error {
	done := make(chan error, 1)
	go func() {
		stats, err := jsonl.Read(ctx, "stdin", cmd.InOrStdin(), submit, logger)
		logger.Info("finished reading stdin",
			zap.Int64("records", stats.Records),
			zap.Int64("rejected", stats.Rejected),
		)
		done <- err
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
