package pipeline

import (
	"context"
	"fmt"
	"log"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/cloo-solutions/corpora/internal/domain"
	"github.com/cloo-solutions/corpora/internal/indexer"
	"github.com/cloo-solutions/corpora/internal/labeler"
	"github.com/cloo-solutions/corpora/internal/retry"
)

const (
	DefaultBatchSize  = 100
	DefaultMaxWorkers = 4
)

// UnitStore is the persistence surface the driver needs: batch selection
// plus per-stage status writes.
type UnitStore interface {
	Create(ctx context.Context, u *domain.ContentUnit) (bool, error)
	GetAnnotationEligible(ctx context.Context, limit int) ([]*domain.ContentUnit, error)
	GetIndexingEligible(ctx context.Context, limit int, indexOnSkippedAnnotation bool) ([]*domain.ContentUnit, error)
	SetAnnotation(ctx context.Context, id string, status domain.Status, keep domain.Keep, tags []string, reason string) error
	SetIndexing(ctx context.Context, id string, status domain.Status) error
}

// Config controls batch sizing, concurrency, and stage policies.
type Config struct {
	BatchSize  int
	MaxWorkers int
	// SkipAnnotation marks eligible units' annotation stage skipped
	// instead of calling the labeler.
	SkipAnnotation bool
	// SkipIndexing marks eligible units' indexing stage skipped instead
	// of submitting to the index service.
	SkipIndexing bool
	// IndexOnSkippedAnnotation lets units whose annotation was skipped
	// pass through to indexing without a keep verdict.
	IndexOnSkippedAnnotation bool
	// DryRun computes transitions but writes no statuses and submits
	// nothing.
	DryRun bool
}

func DefaultConfig() Config {
	return Config{
		BatchSize:                DefaultBatchSize,
		MaxWorkers:               DefaultMaxWorkers,
		IndexOnSkippedAnnotation: true,
	}
}

// RunSummary reports what one driver pass did, by stage.
type RunSummary struct {
	UnitsSelected     int
	Annotated         int
	AnnotationSkipped int
	AnnotationFailed  int
	Indexed           int
	IndexingSkipped   int
	IndexingFailed    int
	FailedUnitIDs     []string
}

// Driver advances eligible units through the annotate and index stages
// under a bounded worker pool. Units are independent rows; one unit's
// failure never blocks another.
type Driver struct {
	store      UnitStore
	classifier labeler.Classifier
	index      indexer.Client
	retrier    *retry.Executor
	cfg        Config
}

func New(store UnitStore, classifier labeler.Classifier, index indexer.Client, retrier *retry.Executor, cfg Config) *Driver {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = DefaultMaxWorkers
	}
	if retrier == nil {
		retrier = retry.New(retry.DefaultConfig())
	}
	if classifier == nil && !cfg.SkipAnnotation {
		log.Println("pipeline: no labeler configured, annotation will be skipped")
	}
	if index == nil && !cfg.SkipIndexing {
		log.Println("pipeline: no index service configured, indexing will be skipped")
	}
	return &Driver{
		store:      store,
		classifier: classifier,
		index:      index,
		retrier:    retrier,
		cfg:        cfg,
	}
}

// Run selects one batch of eligible units and drives each through its
// remaining stages. Only a failure to read the work queue is returned as
// an error; per-unit failures land in the summary.
func (d *Driver) Run(ctx context.Context) (*RunSummary, error) {
	units, err := d.selectBatch(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to select batch: %w", err)
	}

	summary := &RunSummary{UnitsSelected: len(units)}
	if len(units) == 0 {
		return summary, nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.MaxWorkers)
	for _, unit := range units {
		g.Go(func() error {
			d.processUnit(gctx, unit, summary, &mu)
			return nil
		})
	}
	_ = g.Wait()

	log.Printf("pipeline: batch done: %d selected, %d annotated, %d indexed, %d failed",
		summary.UnitsSelected, summary.Annotated, summary.Indexed, len(summary.FailedUnitIDs))
	return summary, nil
}

// selectBatch unions annotation-eligible and indexing-eligible units so
// one pass both annotates fresh units and resumes half-finished ones.
func (d *Driver) selectBatch(ctx context.Context) ([]*domain.ContentUnit, error) {
	annotate, err := d.store.GetAnnotationEligible(ctx, d.cfg.BatchSize)
	if err != nil {
		return nil, err
	}
	index, err := d.store.GetIndexingEligible(ctx, d.cfg.BatchSize, d.cfg.IndexOnSkippedAnnotation)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(annotate))
	units := make([]*domain.ContentUnit, 0, len(annotate)+len(index))
	for _, u := range append(annotate, index...) {
		if seen[u.ID] {
			continue
		}
		seen[u.ID] = true
		units = append(units, u)
		if len(units) == d.cfg.BatchSize {
			break
		}
	}
	return units, nil
}

// ProcessUnits drives externally constructed units through the pipeline,
// creating any that are not yet durable. Used when callers hand the
// driver freshly scanned units instead of a store query.
func (d *Driver) ProcessUnits(ctx context.Context, units []*domain.ContentUnit) (*RunSummary, error) {
	summary := &RunSummary{UnitsSelected: len(units)}
	if len(units) == 0 {
		return summary, nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.MaxWorkers)
	for _, unit := range units {
		g.Go(func() error {
			d.processUnit(gctx, unit, summary, &mu)
			return nil
		})
	}
	_ = g.Wait()
	return summary, nil
}

// processUnit runs one unit's full annotate then index sequence on a
// single worker. Every transition is written back immediately so a crash
// leaves the unit resumable.
func (d *Driver) processUnit(ctx context.Context, u *domain.ContentUnit, summary *RunSummary, mu *sync.Mutex) {
	failed := false

	// The row must exist before any status write; units constructed in
	// memory are created on first sight.
	if !d.cfg.DryRun {
		if _, err := d.store.Create(ctx, u); err != nil {
			log.Printf("pipeline: unit %s (item %s): ensure failed: %v", u.ID, u.SourceItemID, err)
			d.recordFailure(summary, mu, u.ID)
			return
		}
	}

	if err := d.annotate(ctx, u); err != nil {
		log.Printf("pipeline: unit %s (item %s): annotation failed (annotation=%s indexing=%s): %v",
			u.ID, u.SourceItemID, u.AnnotationStatus, u.IndexingStatus, err)
		failed = true
	}
	if err := d.indexUnit(ctx, u); err != nil {
		log.Printf("pipeline: unit %s (item %s): indexing failed (annotation=%s indexing=%s): %v",
			u.ID, u.SourceItemID, u.AnnotationStatus, u.IndexingStatus, err)
		failed = true
	}

	mu.Lock()
	defer mu.Unlock()
	switch u.AnnotationStatus {
	case domain.StatusDone:
		summary.Annotated++
	case domain.StatusSkipped:
		summary.AnnotationSkipped++
	case domain.StatusError:
		summary.AnnotationFailed++
	}
	switch u.IndexingStatus {
	case domain.StatusDone:
		summary.Indexed++
	case domain.StatusSkipped:
		summary.IndexingSkipped++
	case domain.StatusError:
		summary.IndexingFailed++
	}
	if failed {
		summary.FailedUnitIDs = append(summary.FailedUnitIDs, u.ID)
	}
}

func (d *Driver) annotate(ctx context.Context, u *domain.ContentUnit) error {
	if !u.AnnotationEligible() {
		return nil
	}

	if d.cfg.SkipAnnotation || d.classifier == nil {
		// Capability unavailable or disabled: the whole stage degrades to
		// skipped, keep is left as provided.
		return d.writeAnnotation(ctx, u, domain.StatusSkipped, u.Keep, u.Tags, u.Reason)
	}

	var annotation *labeler.Annotation
	err := d.retrier.Do(ctx, "labeler.classify", func() error {
		var err error
		annotation, err = d.classifier.Classify(ctx, u.Content, u.Metadata)
		return err
	})
	if err != nil {
		// Fail closed: unreviewed content is never indexed.
		if werr := d.writeAnnotation(ctx, u, domain.StatusError, domain.KeepNo, u.Tags, u.Reason); werr != nil {
			return werr
		}
		return err
	}

	keep := domain.KeepNo
	if annotation.Keep {
		keep = domain.KeepYes
	}
	return d.writeAnnotation(ctx, u, domain.StatusDone, keep, annotation.Tags, annotation.Reason)
}

func (d *Driver) indexUnit(ctx context.Context, u *domain.ContentUnit) error {
	if !u.IndexingStatus.Eligible() {
		return nil
	}

	if d.cfg.SkipIndexing || d.index == nil {
		return d.writeIndexing(ctx, u, domain.StatusSkipped)
	}

	if !u.IndexingEligible(d.cfg.IndexOnSkippedAnnotation) {
		// A definite keep=no verdict closes the indexing stage explicitly.
		// An errored or still-pending annotation leaves indexing pending
		// so the unit stays resumable once annotation succeeds.
		if u.AnnotationStatus == domain.StatusDone && u.Keep == domain.KeepNo {
			return d.writeIndexing(ctx, u, domain.StatusSkipped)
		}
		if u.AnnotationStatus == domain.StatusSkipped && !d.cfg.IndexOnSkippedAnnotation {
			return d.writeIndexing(ctx, u, domain.StatusSkipped)
		}
		return nil
	}

	// A dry run computes the verdicts but submits nothing downstream.
	if d.cfg.DryRun {
		u.IndexingStatus = domain.StatusDone
		return nil
	}

	err := d.retrier.Do(ctx, "index.submit", func() error {
		return d.index.Submit(ctx, u.ID, []string{u.Content}, u.Metadata)
	})
	if err != nil {
		if werr := d.writeIndexing(ctx, u, domain.StatusError); werr != nil {
			return werr
		}
		return err
	}
	return d.writeIndexing(ctx, u, domain.StatusDone)
}

func (d *Driver) writeAnnotation(ctx context.Context, u *domain.ContentUnit, status domain.Status, keep domain.Keep, tags []string, reason string) error {
	if !d.cfg.DryRun {
		if err := d.store.SetAnnotation(ctx, u.ID, status, keep, tags, reason); err != nil {
			return fmt.Errorf("failed to write annotation status: %w", err)
		}
	}
	u.AnnotationStatus = status
	u.Keep = keep
	u.Tags = tags
	u.Reason = reason
	return nil
}

func (d *Driver) writeIndexing(ctx context.Context, u *domain.ContentUnit, status domain.Status) error {
	if !d.cfg.DryRun {
		if err := d.store.SetIndexing(ctx, u.ID, status); err != nil {
			return fmt.Errorf("failed to write indexing status: %w", err)
		}
	}
	u.IndexingStatus = status
	return nil
}

func (d *Driver) recordFailure(summary *RunSummary, mu *sync.Mutex, unitID string) {
	mu.Lock()
	defer mu.Unlock()
	summary.FailedUnitIDs = append(summary.FailedUnitIDs, unitID)
}
