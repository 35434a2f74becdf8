package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cloo-solutions/corpora/internal/domain"
)

// SyncRepository backs incremental sync: which items have ever been
// ingested, and when each container was last fully walked.
type SyncRepository struct {
	db dbtx
}

func NewSyncRepository(pool *pgxpool.Pool) *SyncRepository {
	return &SyncRepository{db: pool}
}

func NewSyncRepositoryWithTx(tx pgx.Tx) *SyncRepository {
	return &SyncRepository{db: tx}
}

// GetContainer returns the sync record for a container, or
// domain.ErrContainerNotFound when it has never completed a pass.
func (r *SyncRepository) GetContainer(ctx context.Context, containerID string) (*domain.ContainerRecord, error) {
	var rec domain.ContainerRecord
	var displayName pgtype.Text
	err := r.db.QueryRow(ctx,
		`SELECT container_id, display_name, last_fully_processed_at
		 FROM processed_containers WHERE container_id = $1`,
		containerID,
	).Scan(&rec.ContainerID, &displayName, &rec.LastFullyProcessedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrContainerNotFound
		}
		return nil, err
	}
	if displayName.Valid {
		rec.DisplayName = displayName.String
	}
	return &rec, nil
}

// MarkContainerProcessed upserts the container's last-fully-processed
// timestamp. The stored timestamp never moves backwards, so a slow
// concurrent pass cannot undo a newer one.
func (r *SyncRepository) MarkContainerProcessed(ctx context.Context, containerID, origin, displayName string, processedAt time.Time) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO processed_containers (container_id, origin, display_name, last_fully_processed_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (container_id) DO UPDATE
		 SET display_name = EXCLUDED.display_name,
		     last_fully_processed_at = GREATEST(processed_containers.last_fully_processed_at, EXCLUDED.last_fully_processed_at)`,
		containerID, origin, nullableString(displayName), processedAt.UTC(),
	)
	return err
}

// RecordItemProcessed appends an item to the processed set. Recording the
// same item twice is a no-op; the set only ever grows.
func (r *SyncRepository) RecordItemProcessed(ctx context.Context, itemID, origin string) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO processed_items (item_id, origin, processed_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (item_id) DO NOTHING`,
		itemID, origin, time.Now().UTC(),
	)
	return err
}

// IsItemProcessed reports whether an item has ever been ingested.
func (r *SyncRepository) IsItemProcessed(ctx context.Context, itemID string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM processed_items WHERE item_id = $1)`,
		itemID,
	).Scan(&exists)
	return exists, err
}

// ForgetItem removes one item from the processed set so the next pass
// over its container re-ingests it.
func (r *SyncRepository) ForgetItem(ctx context.Context, itemID string) error {
	_, err := r.db.Exec(ctx,
		`DELETE FROM processed_items WHERE item_id = $1`,
		itemID,
	)
	return err
}

// ForgetOrigin drops all sync state for one origin so the next pass
// rescans everything from scratch.
func (r *SyncRepository) ForgetOrigin(ctx context.Context, origin string) (int, error) {
	cmdTag, err := r.db.Exec(ctx,
		`DELETE FROM processed_items WHERE origin = $1`,
		origin,
	)
	if err != nil {
		return 0, err
	}
	if _, err := r.db.Exec(ctx,
		`DELETE FROM processed_containers WHERE origin = $1`,
		origin,
	); err != nil {
		return int(cmdTag.RowsAffected()), err
	}
	return int(cmdTag.RowsAffected()), nil
}
