package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/corpora/internal/domain"
	"github.com/cloo-solutions/corpora/internal/labeler"
	"github.com/cloo-solutions/corpora/internal/retry"
)

// memStore is an in-memory UnitStore that tracks transitions.
type memStore struct {
	mu        sync.Mutex
	units     map[string]*domain.ContentUnit
	selectErr error
	writes    []string
}

func newMemStore() *memStore {
	return &memStore{units: make(map[string]*domain.ContentUnit)}
}

func (s *memStore) add(u *domain.ContentUnit) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.units[u.ID] = u
}

func (s *memStore) get(id string) domain.ContentUnit {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.units[id]
}

func (s *memStore) Create(_ context.Context, u *domain.ContentUnit) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.units[u.ID]; exists {
		return false, nil
	}
	clone := *u
	s.units[u.ID] = &clone
	return true, nil
}

func (s *memStore) GetAnnotationEligible(_ context.Context, limit int) ([]*domain.ContentUnit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selectErr != nil {
		return nil, s.selectErr
	}
	var out []*domain.ContentUnit
	for _, u := range s.units {
		if u.AnnotationStatus.Eligible() && len(out) < limit {
			clone := *u
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (s *memStore) GetIndexingEligible(_ context.Context, limit int, indexOnSkippedAnnotation bool) ([]*domain.ContentUnit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selectErr != nil {
		return nil, s.selectErr
	}
	var out []*domain.ContentUnit
	for _, u := range s.units {
		if u.IndexingEligible(indexOnSkippedAnnotation) && len(out) < limit {
			clone := *u
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (s *memStore) SetAnnotation(_ context.Context, id string, status domain.Status, keep domain.Keep, tags []string, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.units[id]
	if !ok {
		return domain.ErrUnitNotFound
	}
	u.AnnotationStatus = status
	u.Keep = keep
	u.Tags = tags
	u.Reason = reason
	s.writes = append(s.writes, fmt.Sprintf("annotation:%s:%s", id, status))
	return nil
}

func (s *memStore) SetIndexing(_ context.Context, id string, status domain.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.units[id]
	if !ok {
		return domain.ErrUnitNotFound
	}
	u.IndexingStatus = status
	s.writes = append(s.writes, fmt.Sprintf("indexing:%s:%s", id, status))
	return nil
}

// MockClassifier is a mock implementation of labeler.Classifier
type MockClassifier struct {
	mock.Mock
}

func (m *MockClassifier) Classify(ctx context.Context, content string, metadata domain.UnitMetadata) (*labeler.Annotation, error) {
	args := m.Called(ctx, content, metadata)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*labeler.Annotation), args.Error(1)
}

// MockIndexClient is a mock implementation of indexer.Client
type MockIndexClient struct {
	mock.Mock
}

func (m *MockIndexClient) Submit(ctx context.Context, itemID string, chunks []string, metadata domain.UnitMetadata) error {
	args := m.Called(ctx, itemID, chunks, metadata)
	return args.Error(0)
}

func fastRetrier() *retry.Executor {
	return retry.New(retry.Config{
		MaxRetries:    0,
		InitialDelay:  time.Millisecond,
		MaxDelay:      time.Millisecond,
		BackoffFactor: 1.0,
	})
}

func pendingUnit(id string) *domain.ContentUnit {
	return domain.NewContentUnit(id, "item-"+id, "unit content for "+id, domain.UnitMetadata{
		Origin: "fake", SourceName: id + ".txt",
	})
}

func TestRun_AnnotateThenIndex(t *testing.T) {
	store := newMemStore()
	store.add(pendingUnit("u1"))

	classifier := new(MockClassifier)
	classifier.On("Classify", mock.Anything, mock.Anything, mock.Anything).
		Return(&labeler.Annotation{Keep: true, Tags: []string{"report"}, Reason: "substantive"}, nil)
	index := new(MockIndexClient)
	index.On("Submit", mock.Anything, "u1", mock.Anything, mock.Anything).Return(nil)

	d := New(store, classifier, index, fastRetrier(), DefaultConfig())
	summary, err := d.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, summary.UnitsSelected)
	assert.Equal(t, 1, summary.Annotated)
	assert.Equal(t, 1, summary.Indexed)
	assert.Empty(t, summary.FailedUnitIDs)

	u := store.get("u1")
	assert.Equal(t, domain.StatusDone, u.AnnotationStatus)
	assert.Equal(t, domain.KeepYes, u.Keep)
	assert.Equal(t, []string{"report"}, u.Tags)
	assert.Equal(t, domain.StatusDone, u.IndexingStatus)

	// The annotation verdict is durable before indexing starts.
	assert.Equal(t, []string{"annotation:u1:done", "indexing:u1:done"}, store.writes)
	classifier.AssertExpectations(t)
	index.AssertExpectations(t)
}

func TestRun_KeepNoIsNeverIndexed(t *testing.T) {
	store := newMemStore()
	store.add(pendingUnit("u1"))

	classifier := new(MockClassifier)
	classifier.On("Classify", mock.Anything, mock.Anything, mock.Anything).
		Return(&labeler.Annotation{Keep: false, Reason: "boilerplate"}, nil)
	index := new(MockIndexClient)

	d := New(store, classifier, index, fastRetrier(), DefaultConfig())
	summary, err := d.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, summary.Annotated)
	assert.Equal(t, 0, summary.Indexed)
	assert.Equal(t, 1, summary.IndexingSkipped)

	u := store.get("u1")
	assert.Equal(t, domain.KeepNo, u.Keep)
	assert.Equal(t, domain.StatusSkipped, u.IndexingStatus, "a definite keep=no closes the indexing stage")
	index.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRun_ClassifierFailureFailsClosed(t *testing.T) {
	store := newMemStore()
	store.add(pendingUnit("u1"))

	classifier := new(MockClassifier)
	classifier.On("Classify", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("malformed output"))
	index := new(MockIndexClient)

	d := New(store, classifier, index, fastRetrier(), DefaultConfig())
	summary, err := d.Run(context.Background())

	require.NoError(t, err, "per-unit failures are reported, not fatal")
	assert.Equal(t, 1, summary.AnnotationFailed)
	assert.Equal(t, []string{"u1"}, summary.FailedUnitIDs)

	u := store.get("u1")
	assert.Equal(t, domain.StatusError, u.AnnotationStatus)
	assert.Equal(t, domain.KeepNo, u.Keep, "unreviewed content is never indexable")
	assert.Equal(t, domain.StatusPending, u.IndexingStatus,
		"indexing stays pending so a later successful annotation can still index")
	index.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRun_IndexFailureLeavesErrorStatus(t *testing.T) {
	store := newMemStore()
	store.add(pendingUnit("u1"))

	classifier := new(MockClassifier)
	classifier.On("Classify", mock.Anything, mock.Anything, mock.Anything).
		Return(&labeler.Annotation{Keep: true}, nil)
	index := new(MockIndexClient)
	index.On("Submit", mock.Anything, "u1", mock.Anything, mock.Anything).
		Return(errors.New("index rejected document"))

	d := New(store, classifier, index, fastRetrier(), DefaultConfig())
	summary, err := d.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, summary.Annotated)
	assert.Equal(t, 1, summary.IndexingFailed)
	assert.Equal(t, []string{"u1"}, summary.FailedUnitIDs)

	u := store.get("u1")
	assert.Equal(t, domain.StatusDone, u.AnnotationStatus, "the annotation verdict survives an indexing failure")
	assert.Equal(t, domain.StatusError, u.IndexingStatus)
}

func TestRun_NoClassifierSkipsAnnotation(t *testing.T) {
	store := newMemStore()
	store.add(pendingUnit("u1"))

	index := new(MockIndexClient)
	index.On("Submit", mock.Anything, "u1", mock.Anything, mock.Anything).Return(nil)

	cfg := DefaultConfig() // IndexOnSkippedAnnotation: true
	d := New(store, nil, index, fastRetrier(), cfg)
	summary, err := d.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, summary.AnnotationSkipped)
	assert.Equal(t, 1, summary.Indexed)

	u := store.get("u1")
	assert.Equal(t, domain.StatusSkipped, u.AnnotationStatus)
	assert.Equal(t, domain.KeepUnknown, u.Keep, "skipping leaves keep as provided")
	assert.Equal(t, domain.StatusDone, u.IndexingStatus)
}

func TestRun_SkippedAnnotationBlockedWithoutPassThrough(t *testing.T) {
	store := newMemStore()
	store.add(pendingUnit("u1"))

	index := new(MockIndexClient)

	cfg := DefaultConfig()
	cfg.IndexOnSkippedAnnotation = false
	d := New(store, nil, index, fastRetrier(), cfg)
	summary, err := d.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, summary.AnnotationSkipped)
	assert.Equal(t, 1, summary.IndexingSkipped)
	assert.Equal(t, domain.StatusSkipped, store.get("u1").IndexingStatus)
	index.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRun_SkipFlags(t *testing.T) {
	store := newMemStore()
	store.add(pendingUnit("u1"))

	classifier := new(MockClassifier)
	index := new(MockIndexClient)

	cfg := DefaultConfig()
	cfg.SkipAnnotation = true
	cfg.SkipIndexing = true
	d := New(store, classifier, index, fastRetrier(), cfg)
	summary, err := d.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, summary.AnnotationSkipped)
	assert.Equal(t, 1, summary.IndexingSkipped)
	classifier.AssertNotCalled(t, "Classify", mock.Anything, mock.Anything, mock.Anything)
	index.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRun_ResumesHalfFinishedUnit(t *testing.T) {
	store := newMemStore()
	u := pendingUnit("u1")
	u.AnnotationStatus = domain.StatusDone
	u.Keep = domain.KeepYes
	store.add(u)

	classifier := new(MockClassifier)
	index := new(MockIndexClient)
	index.On("Submit", mock.Anything, "u1", mock.Anything, mock.Anything).Return(nil)

	d := New(store, classifier, index, fastRetrier(), DefaultConfig())
	summary, err := d.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, summary.UnitsSelected)
	assert.Equal(t, 1, summary.Indexed)
	assert.Equal(t, domain.StatusDone, store.get("u1").IndexingStatus)
	classifier.AssertNotCalled(t, "Classify", mock.Anything, mock.Anything, mock.Anything,
		"a completed annotation is not redone")
}

func TestRun_PerUnitFailureIsolation(t *testing.T) {
	store := newMemStore()
	store.add(pendingUnit("good"))
	store.add(pendingUnit("bad"))

	classifier := new(MockClassifier)
	classifier.On("Classify", mock.Anything, "unit content for good", mock.Anything).
		Return(&labeler.Annotation{Keep: true}, nil)
	classifier.On("Classify", mock.Anything, "unit content for bad", mock.Anything).
		Return(nil, errors.New("labeler rejected input"))
	index := new(MockIndexClient)
	index.On("Submit", mock.Anything, "good", mock.Anything, mock.Anything).Return(nil)

	d := New(store, classifier, index, fastRetrier(), DefaultConfig())
	summary, err := d.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, summary.Annotated)
	assert.Equal(t, 1, summary.AnnotationFailed)
	assert.Equal(t, 1, summary.Indexed)
	assert.Equal(t, []string{"bad"}, summary.FailedUnitIDs)
	assert.Equal(t, domain.StatusDone, store.get("good").IndexingStatus)
}

func TestRun_BoundedConcurrency(t *testing.T) {
	store := newMemStore()
	for i := 0; i < 10; i++ {
		store.add(pendingUnit(fmt.Sprintf("u%d", i)))
	}

	var mu sync.Mutex
	inFlight, peak := 0, 0
	classifier := new(MockClassifier)
	classifier.On("Classify", mock.Anything, mock.Anything, mock.Anything).
		Run(func(mock.Arguments) {
			mu.Lock()
			inFlight++
			if inFlight > peak {
				peak = inFlight
			}
			mu.Unlock()
			time.Sleep(10 * time.Millisecond)
			mu.Lock()
			inFlight--
			mu.Unlock()
		}).
		Return(&labeler.Annotation{Keep: false}, nil)

	cfg := DefaultConfig()
	cfg.MaxWorkers = 2
	d := New(store, classifier, nil, fastRetrier(), cfg)
	summary, err := d.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 10, summary.Annotated)
	assert.LessOrEqual(t, peak, 2)
	assert.Greater(t, peak, 0)
}

func TestRun_SelectionFailureIsFatal(t *testing.T) {
	store := newMemStore()
	store.selectErr = errors.New("connection refused")

	d := New(store, nil, nil, fastRetrier(), DefaultConfig())
	_, err := d.Run(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to select batch")
}

func TestRun_BatchSizeCapsSelection(t *testing.T) {
	store := newMemStore()
	for i := 0; i < 10; i++ {
		store.add(pendingUnit(fmt.Sprintf("u%d", i)))
	}

	cfg := DefaultConfig()
	cfg.BatchSize = 3
	cfg.SkipAnnotation = true
	cfg.SkipIndexing = true
	d := New(store, nil, nil, fastRetrier(), cfg)
	summary, err := d.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 3, summary.UnitsSelected)
}

func TestRun_DryRunWritesNothing(t *testing.T) {
	store := newMemStore()
	store.add(pendingUnit("u1"))

	classifier := new(MockClassifier)
	classifier.On("Classify", mock.Anything, mock.Anything, mock.Anything).
		Return(&labeler.Annotation{Keep: true}, nil)
	index := new(MockIndexClient)

	cfg := DefaultConfig()
	cfg.DryRun = true
	d := New(store, classifier, index, fastRetrier(), cfg)
	summary, err := d.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, summary.Annotated)
	assert.Empty(t, store.writes)
	assert.Equal(t, domain.StatusPending, store.get("u1").AnnotationStatus)
	index.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestProcessUnits_CreatesMissingRows(t *testing.T) {
	store := newMemStore()

	cfg := DefaultConfig()
	cfg.SkipAnnotation = true
	cfg.SkipIndexing = true
	d := New(store, nil, nil, fastRetrier(), cfg)

	fresh := pendingUnit("fresh")
	summary, err := d.ProcessUnits(context.Background(), []*domain.ContentUnit{fresh})

	require.NoError(t, err)
	assert.Equal(t, 1, summary.UnitsSelected)
	u := store.get("fresh")
	assert.Equal(t, domain.StatusSkipped, u.AnnotationStatus)
	assert.Equal(t, domain.StatusSkipped, u.IndexingStatus)
}
