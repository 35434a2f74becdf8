package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
)

// MockBatchRunner is a mock implementation of BatchRunner
type MockBatchRunner struct {
	mock.Mock
}

func (m *MockBatchRunner) Run(ctx context.Context) (*RunSummary, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*RunSummary), args.Error(1)
}

// TestWorker_StartStop tests the worker start and stop functionality
func TestWorker_StartStop(t *testing.T) {
	mockRunner := new(MockBatchRunner)
	mockRunner.On("Run", mock.Anything).Return(&RunSummary{}, nil)

	worker := NewWorker(mockRunner, 50*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		worker.Start(ctx)
	}()

	// Let it run for a bit
	time.Sleep(150 * time.Millisecond)

	worker.Stop()
	wg.Wait()

	mockRunner.AssertCalled(t, "Run", mock.Anything)
}

// TestWorker_ContextCancellation tests worker stops on context cancellation
func TestWorker_ContextCancellation(t *testing.T) {
	mockRunner := new(MockBatchRunner)
	mockRunner.On("Run", mock.Anything).Return(&RunSummary{}, nil)

	worker := NewWorker(mockRunner, 50*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		worker.Start(ctx)
	}()

	time.Sleep(120 * time.Millisecond)

	cancel()
	wg.Wait()

	mockRunner.AssertCalled(t, "Run", mock.Anything)
}

// TestWorker_KeepsPollingAfterBatchError tests that a failed batch does not
// stop the polling loop
func TestWorker_KeepsPollingAfterBatchError(t *testing.T) {
	mockRunner := new(MockBatchRunner)
	mockRunner.On("Run", mock.Anything).Return(nil, errors.New("database gone")).Once()
	mockRunner.On("Run", mock.Anything).Return(&RunSummary{UnitsSelected: 1, Indexed: 1}, nil)

	worker := NewWorker(mockRunner, 30*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		worker.Start(ctx)
	}()

	time.Sleep(150 * time.Millisecond)

	worker.Stop()
	wg.Wait()

	// At least two polls happened: the failing one and a successful one.
	if len(mockRunner.Calls) < 2 {
		t.Fatalf("expected worker to keep polling after an error, got %d calls", len(mockRunner.Calls))
	}
}
