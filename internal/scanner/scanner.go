package scanner

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cloo-solutions/corpora/internal/chunker"
	"github.com/cloo-solutions/corpora/internal/domain"
	"github.com/cloo-solutions/corpora/internal/labeler"
	"github.com/cloo-solutions/corpora/internal/retry"
	"github.com/cloo-solutions/corpora/internal/sections"
	"github.com/cloo-solutions/corpora/internal/source"
	"github.com/cloo-solutions/corpora/internal/transcribe"
)

// SyncCache tracks which containers and items have already been ingested.
type SyncCache interface {
	GetContainer(ctx context.Context, containerID string) (*domain.ContainerRecord, error)
	MarkContainerProcessed(ctx context.Context, containerID, origin, displayName string, processedAt time.Time) error
	RecordItemProcessed(ctx context.Context, itemID, origin string) error
	IsItemProcessed(ctx context.Context, itemID string) (bool, error)
}

// UnitStore persists the units carved out of one source item.
type UnitStore interface {
	CreateBatch(ctx context.Context, units []*domain.ContentUnit) (int, error)
}

// Config controls which items a scan ignores and whether writes happen.
type Config struct {
	IgnoredNames      map[string]bool
	IgnoredExtensions map[string]bool
	SkipHiddenFiles   bool
	DryRun            bool
	Consolidation     sections.Config
	Chunking          chunker.Config
}

func DefaultConfig() Config {
	return Config{
		IgnoredNames: map[string]bool{
			".DS_Store":   true,
			"Thumbs.db":   true,
			"desktop.ini": true,
		},
		IgnoredExtensions: map[string]bool{
			".tmp":  true,
			".lock": true,
			".lnk":  true,
		},
		SkipHiddenFiles: true,
		Chunking:        chunker.DefaultConfig(),
	}
}

// ItemFailure records one item the scan could not process.
type ItemFailure struct {
	ItemID string
	Name   string
	Err    error
}

// Summary reports what one scan pass did.
type Summary struct {
	ContainersScanned int
	ItemsProcessed    int
	ItemsSkipped      int
	UnitsCreated      int
	Failures          []ItemFailure
}

// Scanner walks a source tree, skips anything the sync cache already
// covers, and persists new content as pending units.
type Scanner struct {
	provider    source.Provider
	cache       SyncCache
	units       UnitStore
	segmenter   labeler.Segmenter
	splitter    *chunker.Splitter
	transcriber transcribe.Transcriber
	retrier     *retry.Executor
	cfg         Config

	// visited containers within one Scan call; a tree with repeated
	// references to the same container is walked once.
	visited map[string]bool
}

func New(provider source.Provider, cache SyncCache, units UnitStore, segmenter labeler.Segmenter, transcriber transcribe.Transcriber, retrier *retry.Executor, cfg Config) *Scanner {
	if retrier == nil {
		retrier = retry.New(retry.DefaultConfig())
	}
	return &Scanner{
		provider:    provider,
		cache:       cache,
		units:       units,
		segmenter:   segmenter,
		splitter:    chunker.NewSplitter(cfg.Chunking, cfg.Consolidation.FallbackLabelSuffix),
		transcriber: transcriber,
		retrier:     retrier,
		cfg:         cfg,
	}
}

// Scan walks the tree rooted at rootContainerID and ingests every new or
// modified item. Per-item failures are collected in the summary, not
// returned as errors; only an unusable source or store aborts the scan.
func (s *Scanner) Scan(ctx context.Context, rootContainerID string) (*Summary, error) {
	s.visited = make(map[string]bool)
	summary := &Summary{}
	if err := s.scanContainer(ctx, rootContainerID, summary); err != nil {
		return summary, err
	}
	return summary, nil
}

func (s *Scanner) scanContainer(ctx context.Context, containerID string, summary *Summary) error {
	if s.visited[containerID] {
		return nil
	}
	s.visited[containerID] = true
	summary.ContainersScanned++

	modifiedAfter := s.lookupCutoff(ctx, containerID)

	// The listing filter is built once per container and reused across
	// every page of the listing.
	filter := s.provider.CompileFilter(containerID, modifiedAfter)

	// Marking with the pass start time means items that change while the
	// pass runs are picked up again next time.
	startedAt := time.Now().UTC()
	clean := true

	pageToken := ""
	for {
		page, err := s.listPage(ctx, filter, pageToken)
		if err != nil {
			return fmt.Errorf("failed to list container %s: %w", containerID, err)
		}

		for _, item := range page.Items {
			if item.Kind == source.KindContainer {
				if err := s.scanContainer(ctx, item.ID, summary); err != nil {
					return err
				}
				continue
			}
			if s.shouldIgnore(item) {
				summary.ItemsSkipped++
				continue
			}
			if s.alreadyProcessed(ctx, item.ID) {
				summary.ItemsSkipped++
				continue
			}
			if err := s.processItem(ctx, item, containerID, summary); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				log.Printf("scan: item %s (%s) failed: %v", item.ID, item.Name, err)
				summary.Failures = append(summary.Failures, ItemFailure{ItemID: item.ID, Name: item.Name, Err: err})
				clean = false
				continue
			}
			summary.ItemsProcessed++
		}

		if page.NextToken == "" {
			break
		}
		pageToken = page.NextToken
	}

	// The timestamp only advances once every item in this pass has been
	// durably persisted; a failed item leaves it stale so the next run
	// revisits the container.
	if clean && !s.cfg.DryRun {
		name, err := s.provider.ContainerName(ctx, containerID)
		if err != nil {
			name = ""
		}
		if err := s.cache.MarkContainerProcessed(ctx, containerID, s.provider.Origin(), name, startedAt); err != nil {
			return fmt.Errorf("failed to mark container %s processed: %w", containerID, err)
		}
	}
	return nil
}

// lookupCutoff returns the incremental cutoff for a container, or nil
// for a full scan. A cache that cannot be read also means full scan:
// fail open toward re-scanning, never toward dropping new content.
func (s *Scanner) lookupCutoff(ctx context.Context, containerID string) *time.Time {
	rec, err := s.cache.GetContainer(ctx, containerID)
	if err != nil {
		if !errors.Is(err, domain.ErrContainerNotFound) {
			log.Printf("scan: container %s lookup failed, forcing full scan: %v", containerID, err)
		}
		return nil
	}
	t := rec.LastFullyProcessedAt
	return &t
}

func (s *Scanner) listPage(ctx context.Context, filter source.Filter, pageToken string) (*source.Page, error) {
	var page *source.Page
	err := s.retrier.Do(ctx, "source.list", func() error {
		var err error
		page, err = s.provider.List(ctx, filter, pageToken)
		return err
	})
	return page, err
}

func (s *Scanner) alreadyProcessed(ctx context.Context, itemID string) bool {
	seen, err := s.cache.IsItemProcessed(ctx, itemID)
	if err != nil {
		// Fail open: process the item again rather than risk skipping it.
		log.Printf("scan: processed lookup for %s failed, reprocessing: %v", itemID, err)
		return false
	}
	return seen
}

func (s *Scanner) shouldIgnore(item source.Item) bool {
	if s.cfg.IgnoredNames[item.Name] {
		return true
	}
	if s.cfg.SkipHiddenFiles && strings.HasPrefix(item.Name, ".") {
		return true
	}
	ext := strings.ToLower(path.Ext(item.Name))
	if s.cfg.IgnoredExtensions[ext] {
		return true
	}
	return item.Kind == source.KindOther
}

func (s *Scanner) processItem(ctx context.Context, item source.Item, containerID string, summary *Summary) error {
	if item.ID == "" {
		return domain.ErrMissingSourceItemID
	}

	text, err := s.fetchContent(ctx, item)
	if err != nil {
		return err
	}
	if strings.TrimSpace(text) == "" {
		// Nothing to ingest; still record the item so it is not refetched.
		if !s.cfg.DryRun {
			return s.cache.RecordItemProcessed(ctx, item.ID, s.provider.Origin())
		}
		return nil
	}

	secs, err := s.segment(ctx, text)
	if err != nil {
		return err
	}
	secs = sections.Consolidate(secs, s.cfg.Consolidation)

	units := s.buildUnits(item, containerID, secs)
	if s.cfg.DryRun {
		summary.UnitsCreated += len(units)
		return nil
	}

	created, err := s.units.CreateBatch(ctx, units)
	if err != nil {
		return fmt.Errorf("failed to persist units for %s: %w", item.ID, err)
	}
	summary.UnitsCreated += created

	// Recorded only after every unit is durable; a crash in between
	// means the item is re-ingested, and insert-if-absent keeps the
	// rerun from duplicating units.
	if err := s.cache.RecordItemProcessed(ctx, item.ID, s.provider.Origin()); err != nil {
		return fmt.Errorf("failed to record item %s: %w", item.ID, err)
	}
	return nil
}

func (s *Scanner) fetchContent(ctx context.Context, item source.Item) (string, error) {
	if item.Kind == source.KindMedia {
		return s.transcribeMedia(ctx, item)
	}
	var text string
	err := s.retrier.Do(ctx, "source.fetch", func() error {
		var err error
		text, err = s.provider.FetchText(ctx, item)
		return err
	})
	return text, err
}

func (s *Scanner) transcribeMedia(ctx context.Context, item source.Item) (string, error) {
	if s.transcriber == nil {
		return "", domain.ErrTranscriberUnavailable
	}
	dir, err := os.MkdirTemp("", "corpora-media-")
	if err != nil {
		return "", fmt.Errorf("failed to create scratch dir: %w", err)
	}
	defer os.RemoveAll(dir)

	var localPath string
	err = s.retrier.Do(ctx, "source.download", func() error {
		var err error
		localPath, err = s.provider.Download(ctx, item, dir)
		return err
	})
	if err != nil {
		return "", err
	}

	var text string
	err = s.retrier.Do(ctx, "transcribe", func() error {
		var err error
		text, err = s.transcriber.Transcribe(ctx, localPath)
		return err
	})
	return text, err
}

// segment asks the labeler for section boundaries and falls back to the
// size-based splitter when no labeler is wired or its call fails.
func (s *Scanner) segment(ctx context.Context, text string) ([]domain.Section, error) {
	origin := s.provider.Origin()
	if s.segmenter != nil {
		var secs []domain.Section
		err := s.retrier.Do(ctx, "labeler.segment", func() error {
			var err error
			secs, err = s.segmenter.Segment(ctx, text, origin)
			return err
		})
		if err == nil {
			return secs, nil
		}
		log.Printf("scan: segmenter failed, using size-based split: %v", err)
	}
	return s.splitter.Segment(ctx, text, origin)
}

func (s *Scanner) buildUnits(item source.Item, containerID string, secs []domain.Section) []*domain.ContentUnit {
	// Sections below the consolidation minimum were already merged;
	// oversized ones still need to be cut down to chunk size.
	type piece struct {
		label   string
		content string
	}
	var pieces []piece
	for _, sec := range secs {
		for _, chunk := range chunker.Split(sec.Content, s.cfg.Chunking) {
			pieces = append(pieces, piece{label: sec.Label, content: chunk})
		}
	}

	units := make([]*domain.ContentUnit, 0, len(pieces))
	for i, p := range pieces {
		metadata := domain.UnitMetadata{
			Origin:       s.provider.Origin(),
			SourceName:   item.Name,
			SourcePath:   item.Path,
			ContainerID:  containerID,
			MimeType:     item.MimeType,
			SizeBytes:    item.Size,
			SectionLabel: p.label,
			SectionIndex: i,
			TotalUnits:   len(pieces),
		}
		if !item.ModifiedAt.IsZero() {
			metadata.ModifiedTime = item.ModifiedAt.UTC().Format(time.RFC3339)
		}
		units = append(units, domain.NewContentUnit(unitID(item.ID, i), item.ID, p.content, metadata))
	}
	return units
}

// unitID derives a stable identifier from the item and chunk position so
// re-ingesting the same item never duplicates rows.
func unitID(itemID string, index int) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("%s#%d", itemID, index))).String()
}
