package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cloo-solutions/corpora/internal/domain"
)

const unitColumns = `id, source_item_id, content, metadata, annotation_status, annotated_at,
	 keep, tags, reason, indexing_status, indexed_at, created_at`

// UnitRepository persists content units and their per-stage statuses.
type UnitRepository struct {
	db dbtx
}

func NewUnitRepository(pool *pgxpool.Pool) *UnitRepository {
	return &UnitRepository{db: pool}
}

func NewUnitRepositoryWithTx(tx pgx.Tx) *UnitRepository {
	return &UnitRepository{db: tx}
}

// Create inserts a unit unless one with the same id already exists. An
// existing row keeps its statuses; re-inserting after a partial run must
// never reset progress. It reports whether the row was inserted.
func (r *UnitRepository) Create(ctx context.Context, u *domain.ContentUnit) (bool, error) {
	if u.SourceItemID == "" {
		return false, domain.ErrMissingSourceItemID
	}
	metadata, err := json.Marshal(u.Metadata)
	if err != nil {
		return false, fmt.Errorf("failed to encode unit metadata: %w", err)
	}
	cmdTag, err := r.db.Exec(ctx,
		`INSERT INTO units (id, source_item_id, content, metadata, annotation_status, annotated_at,
		                    keep, tags, reason, indexing_status, indexed_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 ON CONFLICT (id) DO NOTHING`,
		u.ID, u.SourceItemID, u.Content, metadata, u.AnnotationStatus, u.AnnotatedAt,
		string(u.Keep), u.Tags, u.Reason, u.IndexingStatus, u.IndexedAt, u.CreatedAt,
	)
	if err != nil {
		return false, err
	}
	return cmdTag.RowsAffected() > 0, nil
}

// CreateBatch inserts all units, skipping ids that already exist. It
// returns the number of rows actually inserted.
func (r *UnitRepository) CreateBatch(ctx context.Context, units []*domain.ContentUnit) (int, error) {
	inserted := 0
	for _, u := range units {
		ok, err := r.Create(ctx, u)
		if err != nil {
			return inserted, err
		}
		if ok {
			inserted++
		}
	}
	return inserted, nil
}

func (r *UnitRepository) GetByID(ctx context.Context, id string) (*domain.ContentUnit, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+unitColumns+` FROM units WHERE id = $1`,
		id,
	)
	u, err := scanUnit(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrUnitNotFound
		}
		return nil, err
	}
	return u, nil
}

// GetAnnotationEligible returns up to limit units whose annotation stage
// is still pending or previously errored, oldest first.
func (r *UnitRepository) GetAnnotationEligible(ctx context.Context, limit int) ([]*domain.ContentUnit, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.Query(ctx,
		`SELECT `+unitColumns+`
		 FROM units
		 WHERE annotation_status IN ($1, $2)
		 ORDER BY created_at ASC, id ASC
		 LIMIT $3`,
		domain.StatusPending, domain.StatusError, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanUnitRows(rows)
}

// GetIndexingEligible returns up to limit units ready to be indexed:
// indexing still pending or errored, and annotation either done with a
// keep verdict or skipped when pass-through is allowed.
func (r *UnitRepository) GetIndexingEligible(ctx context.Context, limit int, indexOnSkippedAnnotation bool) ([]*domain.ContentUnit, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + unitColumns + `
		 FROM units
		 WHERE indexing_status IN ($1, $2)
		   AND (annotation_status = $3 AND keep = $4`
	args := []any{domain.StatusPending, domain.StatusError, domain.StatusDone, string(domain.KeepYes)}
	if indexOnSkippedAnnotation {
		query += ` OR annotation_status = $5`
		args = append(args, domain.StatusSkipped)
	}
	query += `)
		 ORDER BY created_at ASC, id ASC
		 LIMIT $` + fmt.Sprint(len(args)+1)
	args = append(args, limit)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanUnitRows(rows)
}

// ListBySourceItem returns all units carved from one source item, in
// section order.
func (r *UnitRepository) ListBySourceItem(ctx context.Context, sourceItemID string) ([]*domain.ContentUnit, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+unitColumns+`
		 FROM units
		 WHERE source_item_id = $1
		 ORDER BY (metadata->>'section_index')::int ASC, id ASC`,
		sourceItemID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanUnitRows(rows)
}

// CountBySourceItem reports how many units exist for a source item.
func (r *UnitRepository) CountBySourceItem(ctx context.Context, sourceItemID string) (int, error) {
	var n int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM units WHERE source_item_id = $1`,
		sourceItemID,
	).Scan(&n)
	return n, err
}

// SetAnnotation records the outcome of one annotation attempt. The write
// happens immediately after the attempt so a crash never loses a verdict.
func (r *UnitRepository) SetAnnotation(ctx context.Context, id string, status domain.Status, keep domain.Keep, tags []string, reason string) error {
	if !status.IsValid() {
		return domain.ErrInvalidStatus
	}
	var annotatedAt *time.Time
	if status == domain.StatusDone || status == domain.StatusSkipped {
		now := time.Now().UTC()
		annotatedAt = &now
	}
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE units
		 SET annotation_status = $1, keep = $2, tags = $3, reason = $4, annotated_at = $5
		 WHERE id = $6`,
		status, string(keep), tags, reason, annotatedAt, id,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrUnitNotFound
	}
	return nil
}

// SetIndexing records the outcome of one indexing attempt.
func (r *UnitRepository) SetIndexing(ctx context.Context, id string, status domain.Status) error {
	if !status.IsValid() {
		return domain.ErrInvalidStatus
	}
	var indexedAt *time.Time
	if status == domain.StatusDone {
		now := time.Now().UTC()
		indexedAt = &now
	}
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE units SET indexing_status = $1, indexed_at = $2 WHERE id = $3`,
		status, indexedAt, id,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrUnitNotFound
	}
	return nil
}

// ResetOrigin reverts every unit from one origin back to the initial
// pending state so a forced reprocess revisits them. It returns the
// number of units reset.
func (r *UnitRepository) ResetOrigin(ctx context.Context, origin string) (int, error) {
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE units
		 SET annotation_status = $1, annotated_at = NULL, keep = '', tags = NULL, reason = '',
		     indexing_status = $1, indexed_at = NULL
		 WHERE metadata->>'origin' = $2`,
		domain.StatusPending, origin,
	)
	if err != nil {
		return 0, err
	}
	return int(cmdTag.RowsAffected()), nil
}

// ResetSourceItem reverts every unit belonging to one source item back
// to the initial pending state. It returns the number of units reset.
func (r *UnitRepository) ResetSourceItem(ctx context.Context, sourceItemID string) (int, error) {
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE units
		 SET annotation_status = $1, annotated_at = NULL, keep = '', tags = NULL, reason = '',
		     indexing_status = $1, indexed_at = NULL
		 WHERE source_item_id = $2`,
		domain.StatusPending, sourceItemID,
	)
	if err != nil {
		return 0, err
	}
	return int(cmdTag.RowsAffected()), nil
}

func scanUnit(row pgx.Row) (*domain.ContentUnit, error) {
	var u domain.ContentUnit
	var metadata []byte
	var keep string
	var tags []string
	var reason pgtype.Text
	err := row.Scan(
		&u.ID, &u.SourceItemID, &u.Content, &metadata, &u.AnnotationStatus, &u.AnnotatedAt,
		&keep, &tags, &reason, &u.IndexingStatus, &u.IndexedAt, &u.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &u.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode unit metadata: %w", err)
		}
	}
	u.Keep = domain.Keep(keep)
	u.Tags = tags
	if reason.Valid {
		u.Reason = reason.String
	}
	return &u, nil
}

func scanUnitRows(rows pgx.Rows) ([]*domain.ContentUnit, error) {
	var results []*domain.ContentUnit
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, u)
	}
	return results, rows.Err()
}
