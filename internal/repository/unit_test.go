//go:build integration

package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/corpora/internal/domain"
	"github.com/cloo-solutions/corpora/internal/testutil"
)

func newTestUnit(sourceItemID string, idx int) *domain.ContentUnit {
	u := domain.NewContentUnit(uuid.NewString(), sourceItemID, "some section content", domain.UnitMetadata{
		Origin:       "gdrive",
		SourceName:   "report.pdf",
		ContainerID:  "folder-1",
		SectionLabel: "report_body",
		SectionIndex: idx,
		TotalUnits:   1,
	})
	u.CreatedAt = time.Now().UTC().Truncate(time.Microsecond)
	return u
}

func TestUnitRepository_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	repo := NewUnitRepository(pool)

	unit := newTestUnit("item-1", 0)
	inserted, err := repo.Create(ctx, unit)
	require.NoError(t, err)
	assert.True(t, inserted)

	retrieved, err := repo.GetByID(ctx, unit.ID)
	require.NoError(t, err)
	assert.Equal(t, unit.ID, retrieved.ID)
	assert.Equal(t, "item-1", retrieved.SourceItemID)
	assert.Equal(t, domain.StatusPending, retrieved.AnnotationStatus)
	assert.Equal(t, domain.StatusPending, retrieved.IndexingStatus)
	assert.Equal(t, domain.KeepUnknown, retrieved.Keep)
	assert.Equal(t, "gdrive", retrieved.Metadata.Origin)
	assert.Equal(t, "report_body", retrieved.Metadata.SectionLabel)
	assert.Nil(t, retrieved.AnnotatedAt)
	assert.Nil(t, retrieved.IndexedAt)
}

func TestUnitRepository_CreateDoesNotResetExisting(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	repo := NewUnitRepository(pool)

	unit := newTestUnit("item-1", 0)
	_, err := repo.Create(ctx, unit)
	require.NoError(t, err)
	require.NoError(t, repo.SetAnnotation(ctx, unit.ID, domain.StatusDone, domain.KeepYes, []string{"finance"}, "quarterly numbers"))

	// Re-inserting the same id after a partial run must keep progress.
	inserted, err := repo.Create(ctx, newTestUnit("item-1", 0))
	require.NoError(t, err)
	assert.False(t, inserted)

	again := duplicateWithID(unit)
	inserted, err = repo.Create(ctx, again)
	require.NoError(t, err)
	assert.False(t, inserted)

	retrieved, err := repo.GetByID(ctx, unit.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDone, retrieved.AnnotationStatus)
	assert.Equal(t, domain.KeepYes, retrieved.Keep)
	assert.Equal(t, []string{"finance"}, retrieved.Tags)
	assert.Equal(t, "quarterly numbers", retrieved.Reason)
}

func duplicateWithID(u *domain.ContentUnit) *domain.ContentUnit {
	dup := domain.NewContentUnit(u.ID, u.SourceItemID, u.Content, u.Metadata)
	dup.CreatedAt = u.CreatedAt
	return dup
}

func TestUnitRepository_CreateMissingSourceItemID(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	repo := NewUnitRepository(pool)

	unit := newTestUnit("", 0)
	_, err := repo.Create(ctx, unit)
	assert.ErrorIs(t, err, domain.ErrMissingSourceItemID)
}

func TestUnitRepository_GetAnnotationEligible(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	repo := NewUnitRepository(pool)

	pending := newTestUnit("item-1", 0)
	errored := newTestUnit("item-2", 0)
	done := newTestUnit("item-3", 0)
	skipped := newTestUnit("item-4", 0)
	for _, u := range []*domain.ContentUnit{pending, errored, done, skipped} {
		_, err := repo.Create(ctx, u)
		require.NoError(t, err)
	}
	require.NoError(t, repo.SetAnnotation(ctx, errored.ID, domain.StatusError, domain.KeepUnknown, nil, ""))
	require.NoError(t, repo.SetAnnotation(ctx, done.ID, domain.StatusDone, domain.KeepYes, nil, ""))
	require.NoError(t, repo.SetAnnotation(ctx, skipped.ID, domain.StatusSkipped, domain.KeepYes, nil, ""))

	eligible, err := repo.GetAnnotationEligible(ctx, 10)
	require.NoError(t, err)

	ids := make(map[string]bool)
	for _, u := range eligible {
		ids[u.ID] = true
	}
	assert.Len(t, eligible, 2)
	assert.True(t, ids[pending.ID], "pending units are retried")
	assert.True(t, ids[errored.ID], "errored units are retried")
	assert.False(t, ids[done.ID])
	assert.False(t, ids[skipped.ID], "skipped units stay skipped")
}

func TestUnitRepository_GetIndexingEligible(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	repo := NewUnitRepository(pool)

	keepYes := newTestUnit("item-1", 0)
	keepNo := newTestUnit("item-2", 0)
	annotationPending := newTestUnit("item-3", 0)
	annotationSkipped := newTestUnit("item-4", 0)
	alreadyIndexed := newTestUnit("item-5", 0)
	for _, u := range []*domain.ContentUnit{keepYes, keepNo, annotationPending, annotationSkipped, alreadyIndexed} {
		_, err := repo.Create(ctx, u)
		require.NoError(t, err)
	}
	require.NoError(t, repo.SetAnnotation(ctx, keepYes.ID, domain.StatusDone, domain.KeepYes, nil, ""))
	require.NoError(t, repo.SetAnnotation(ctx, keepNo.ID, domain.StatusDone, domain.KeepNo, nil, ""))
	require.NoError(t, repo.SetAnnotation(ctx, annotationSkipped.ID, domain.StatusSkipped, domain.KeepUnknown, nil, ""))
	require.NoError(t, repo.SetAnnotation(ctx, alreadyIndexed.ID, domain.StatusDone, domain.KeepYes, nil, ""))
	require.NoError(t, repo.SetIndexing(ctx, alreadyIndexed.ID, domain.StatusDone))

	eligible, err := repo.GetIndexingEligible(ctx, 10, true)
	require.NoError(t, err)
	ids := make(map[string]bool)
	for _, u := range eligible {
		ids[u.ID] = true
	}
	assert.Len(t, eligible, 2)
	assert.True(t, ids[keepYes.ID])
	assert.True(t, ids[annotationSkipped.ID], "skipped annotation passes through when policy allows")
	assert.False(t, ids[keepNo.ID], "keep=no is never indexed")
	assert.False(t, ids[annotationPending.ID], "indexing waits for annotation")
	assert.False(t, ids[alreadyIndexed.ID])

	// Without pass-through the skipped unit is excluded too.
	eligible, err = repo.GetIndexingEligible(ctx, 10, false)
	require.NoError(t, err)
	require.Len(t, eligible, 1)
	assert.Equal(t, keepYes.ID, eligible[0].ID)
}

func TestUnitRepository_SetIndexingTimestamps(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	repo := NewUnitRepository(pool)

	unit := newTestUnit("item-1", 0)
	_, err := repo.Create(ctx, unit)
	require.NoError(t, err)

	require.NoError(t, repo.SetIndexing(ctx, unit.ID, domain.StatusError))
	retrieved, err := repo.GetByID(ctx, unit.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusError, retrieved.IndexingStatus)
	assert.Nil(t, retrieved.IndexedAt)

	require.NoError(t, repo.SetIndexing(ctx, unit.ID, domain.StatusDone))
	retrieved, err = repo.GetByID(ctx, unit.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDone, retrieved.IndexingStatus)
	assert.NotNil(t, retrieved.IndexedAt)
}

func TestUnitRepository_SetAnnotationNotFound(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	repo := NewUnitRepository(pool)

	err := repo.SetAnnotation(ctx, uuid.NewString(), domain.StatusDone, domain.KeepYes, nil, "")
	assert.ErrorIs(t, err, domain.ErrUnitNotFound)
}

func TestUnitRepository_ListBySourceItem(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	repo := NewUnitRepository(pool)

	second := newTestUnit("item-1", 1)
	first := newTestUnit("item-1", 0)
	other := newTestUnit("item-2", 0)
	_, err := repo.CreateBatch(ctx, []*domain.ContentUnit{second, first, other})
	require.NoError(t, err)

	units, err := repo.ListBySourceItem(ctx, "item-1")
	require.NoError(t, err)
	require.Len(t, units, 2)
	assert.Equal(t, 0, units[0].Metadata.SectionIndex)
	assert.Equal(t, 1, units[1].Metadata.SectionIndex)

	n, err := repo.CountBySourceItem(ctx, "item-1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestUnitRepository_ResetOrigin(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	repo := NewUnitRepository(pool)

	unit := newTestUnit("item-1", 0)
	_, err := repo.Create(ctx, unit)
	require.NoError(t, err)
	require.NoError(t, repo.SetAnnotation(ctx, unit.ID, domain.StatusDone, domain.KeepYes, []string{"x"}, "kept"))
	require.NoError(t, repo.SetIndexing(ctx, unit.ID, domain.StatusDone))

	n, err := repo.ResetOrigin(ctx, "gdrive")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	retrieved, err := repo.GetByID(ctx, unit.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, retrieved.AnnotationStatus)
	assert.Equal(t, domain.StatusPending, retrieved.IndexingStatus)
	assert.Equal(t, domain.KeepUnknown, retrieved.Keep)
	assert.Empty(t, retrieved.Tags)
	assert.Empty(t, retrieved.Reason)
	assert.Nil(t, retrieved.AnnotatedAt)
	assert.Nil(t, retrieved.IndexedAt)

	n, err = repo.ResetOrigin(ctx, "local")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestUnitRepository_ResetSourceItem(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	repo := NewUnitRepository(pool)

	target := newTestUnit("item-1", 0)
	other := newTestUnit("item-2", 0)
	_, err := repo.Create(ctx, target)
	require.NoError(t, err)
	_, err = repo.Create(ctx, other)
	require.NoError(t, err)
	require.NoError(t, repo.SetAnnotation(ctx, target.ID, domain.StatusDone, domain.KeepYes, []string{"x"}, "kept"))
	require.NoError(t, repo.SetIndexing(ctx, target.ID, domain.StatusDone))
	require.NoError(t, repo.SetAnnotation(ctx, other.ID, domain.StatusDone, domain.KeepNo, nil, "noise"))

	n, err := repo.ResetSourceItem(ctx, "item-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	retrieved, err := repo.GetByID(ctx, target.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, retrieved.AnnotationStatus)
	assert.Equal(t, domain.StatusPending, retrieved.IndexingStatus)
	assert.Equal(t, domain.KeepUnknown, retrieved.Keep)

	untouched, err := repo.GetByID(ctx, other.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDone, untouched.AnnotationStatus)
	assert.Equal(t, domain.KeepNo, untouched.Keep)
}
