package cli

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cloo-solutions/corpora/internal/pipeline"
	"github.com/cloo-solutions/corpora/internal/repository"
	"github.com/cloo-solutions/corpora/internal/retry"
)

// WorkerCmd returns the worker command
func WorkerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the annotation and indexing pipeline continuously",
		Long: `Poll the database for units that still need annotation or indexing and
process them in batches until interrupted. The worker does not scan
sources; pair it with periodic runs of the run command.`,
		RunE: runWorker,
	}

	cmd.Flags().Duration("poll-interval", 30*time.Second, "How often to poll for eligible units")
	cmd.Flags().Int("batch-size", 0, "Units per pipeline batch (default from config)")
	cmd.Flags().Int("max-workers", 0, "Concurrent pipeline workers (default from config)")
	cmd.Flags().Bool("no-migrate", false, "Skip automatic database migrations on startup")

	return cmd
}

func runWorker(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	noMigrate, _ := cmd.Flags().GetBool("no-migrate")
	d, err := buildDeps(ctx, noMigrate, "")
	if err != nil {
		return err
	}
	defer d.close()

	units := repository.NewUnitRepository(d.pool)
	retrier := retry.New(retry.DefaultConfig())
	driver := pipeline.New(units, d.classifier, d.index, retrier, driverConfig(cmd, d))

	pollInterval, _ := cmd.Flags().GetDuration("poll-interval")
	if pollInterval <= 0 {
		return fmt.Errorf("poll-interval must be positive")
	}
	worker := pipeline.NewWorker(driver, pollInterval)
	go worker.Start(ctx)
	log.Printf("worker started, polling every %s", pollInterval)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("received %s, shutting down", sig)

	cancel()
	worker.Stop()
	return nil
}
