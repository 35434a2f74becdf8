package cli

import (
	"context"
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/cloo-solutions/corpora/internal/pipeline"
	"github.com/cloo-solutions/corpora/internal/repository"
	"github.com/cloo-solutions/corpora/internal/retry"
	"github.com/cloo-solutions/corpora/internal/scanner"
	"github.com/cloo-solutions/corpora/internal/sections"
	"github.com/cloo-solutions/corpora/internal/telemetry"
)

// RunCmd returns the run command
func RunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Scan the source tree and process pending units once",
		Long: `Run one full ingestion pass: scan the configured source tree for new
or modified items, persist them as pending units, then drive every
eligible unit through annotation and indexing.

Per-unit failures are reported in the summary and do not fail the run;
only an unreachable database or source aborts it.`,
		RunE: runRun,
	}

	cmd.Flags().Int("batch-size", 0, "Units per pipeline batch (default from config)")
	cmd.Flags().Int("max-workers", 0, "Concurrent pipeline workers (default from config)")
	cmd.Flags().Bool("skip-annotation", false, "Mark annotation skipped instead of calling the labeler")
	cmd.Flags().Bool("skip-indexing", false, "Mark indexing skipped instead of submitting to the index")
	cmd.Flags().Bool("dry-run", false, "Compute everything but persist and submit nothing")
	cmd.Flags().Bool("force-reprocess", false, "Drop sync state for the source so everything is rescanned")
	cmd.Flags().StringSlice("reprocess-item", nil, "Source item IDs whose units return to pending before the run")
	cmd.Flags().String("source", "", "Source tree to scan: local, gdrive or s3 (overrides config)")
	cmd.Flags().String("root", "", "Root container to scan (overrides config)")
	cmd.Flags().StringSlice("essential-short-labels", nil, "Section labels exempt from short-section merging")
	cmd.Flags().Bool("no-migrate", false, "Skip automatic database migrations on startup")

	return cmd
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	noMigrate, _ := cmd.Flags().GetBool("no-migrate")
	sourceOverride, _ := cmd.Flags().GetString("source")
	d, err := buildDeps(ctx, noMigrate, sourceOverride)
	if err != nil {
		return err
	}
	defer d.close()

	dryRun, _ := cmd.Flags().GetBool("dry-run")
	forceReprocess, _ := cmd.Flags().GetBool("force-reprocess")
	root, _ := cmd.Flags().GetString("root")
	if root == "" {
		root = d.cfg.RootContainerID
	}

	units := repository.NewUnitRepository(d.pool)
	syncRepo := repository.NewSyncRepository(d.pool)
	retrier := retry.New(retry.DefaultConfig())

	if forceReprocess && !dryRun {
		origin := d.provider.Origin()
		reset, err := units.ResetOrigin(ctx, origin)
		if err != nil {
			return fmt.Errorf("failed to reset units for %s: %w", origin, err)
		}
		forgotten, err := syncRepo.ForgetOrigin(ctx, origin)
		if err != nil {
			return fmt.Errorf("failed to reset sync state for %s: %w", origin, err)
		}
		log.Printf("force-reprocess: reset %d units, forgot %d processed items for %s", reset, forgotten, origin)
	}

	reprocessItems, _ := cmd.Flags().GetStringSlice("reprocess-item")
	if len(reprocessItems) > 0 && !dryRun {
		for _, itemID := range reprocessItems {
			reset, err := units.ResetSourceItem(ctx, itemID)
			if err != nil {
				return fmt.Errorf("failed to reset units for item %s: %w", itemID, err)
			}
			if err := syncRepo.ForgetItem(ctx, itemID); err != nil {
				return fmt.Errorf("failed to forget item %s: %w", itemID, err)
			}
			log.Printf("reprocess: reset %d units for item %s", reset, itemID)
		}
	}

	scanCfg := scanner.DefaultConfig()
	scanCfg.DryRun = dryRun
	scanCfg.Consolidation = consolidationConfig(cmd, d)

	s := scanner.New(d.provider, syncRepo, units, d.segmenter, d.transcriber, retrier, scanCfg)

	spanCtx, span := telemetry.StartSpan(ctx, "pipeline.run", telemetry.SpanAttributes{Origin: d.provider.Origin()})
	defer span.End()

	scanSummary, err := s.Scan(spanCtx, root)
	if err != nil {
		span.SetError(err)
		return fmt.Errorf("scan failed: %w", err)
	}
	log.Printf("scan: %d containers, %d items processed, %d skipped, %d units created, %d failed",
		scanSummary.ContainersScanned, scanSummary.ItemsProcessed, scanSummary.ItemsSkipped,
		scanSummary.UnitsCreated, len(scanSummary.Failures))
	for _, f := range scanSummary.Failures {
		log.Printf("scan: failed item %s (%s): %v", f.ItemID, f.Name, f.Err)
		telemetry.CaptureError(f.Err)
	}

	driver := pipeline.New(units, d.classifier, d.index, retrier, driverConfig(cmd, d))
	runSummary, err := driver.Run(spanCtx)
	if err != nil {
		span.SetError(err)
		return fmt.Errorf("pipeline failed: %w", err)
	}
	reportRun(runSummary)

	// Unit failures are not a fatal outcome: the pipeline converges
	// across repeated runs.
	return nil
}

func driverConfig(cmd *cobra.Command, d *deps) pipeline.Config {
	cfg := pipeline.DefaultConfig()
	cfg.BatchSize = d.cfg.BatchSize
	cfg.MaxWorkers = d.cfg.MaxWorkers
	cfg.IndexOnSkippedAnnotation = d.cfg.IndexOnSkippedAnnotation

	if v, _ := cmd.Flags().GetInt("batch-size"); v > 0 {
		cfg.BatchSize = v
	}
	if v, _ := cmd.Flags().GetInt("max-workers"); v > 0 {
		cfg.MaxWorkers = v
	}
	cfg.SkipAnnotation, _ = cmd.Flags().GetBool("skip-annotation")
	cfg.SkipIndexing, _ = cmd.Flags().GetBool("skip-indexing")
	cfg.DryRun, _ = cmd.Flags().GetBool("dry-run")
	return cfg
}

func consolidationConfig(cmd *cobra.Command, d *deps) sections.Config {
	cfg := sections.Config{MinLength: d.cfg.MinSectionLength}
	labels, _ := cmd.Flags().GetStringSlice("essential-short-labels")
	if len(labels) > 0 {
		cfg.EssentialShortLabels = make(map[string]bool, len(labels))
		for _, l := range labels {
			cfg.EssentialShortLabels[l] = true
		}
	}
	return cfg
}

func reportRun(s *pipeline.RunSummary) {
	log.Printf("pipeline: %d units selected, annotated %d (skipped %d, failed %d), indexed %d (skipped %d, failed %d)",
		s.UnitsSelected, s.Annotated, s.AnnotationSkipped, s.AnnotationFailed,
		s.Indexed, s.IndexingSkipped, s.IndexingFailed)
	for _, id := range s.FailedUnitIDs {
		log.Printf("pipeline: failed unit %s", id)
	}
}
