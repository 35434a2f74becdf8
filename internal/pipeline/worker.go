package pipeline

import (
	"context"
	"log"
	"time"
)

// BatchRunner is the surface the worker polls; Driver implements it.
type BatchRunner interface {
	Run(ctx context.Context) (*RunSummary, error)
}

// Worker polls the driver for eligible work at a fixed interval.
type Worker struct {
	runner       BatchRunner
	pollInterval time.Duration
	stopChan     chan struct{}
	doneChan     chan struct{}
}

// NewWorker creates a new Worker instance
func NewWorker(runner BatchRunner, pollInterval time.Duration) *Worker {
	return &Worker{
		runner:       runner,
		pollInterval: pollInterval,
		stopChan:     make(chan struct{}),
		doneChan:     make(chan struct{}),
	}
}

// Start begins the worker's polling loop
func (w *Worker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	defer close(w.doneChan)

	log.Printf("Worker started with poll interval: %v", w.pollInterval)

	for {
		select {
		case <-ctx.Done():
			log.Println("Worker stopped: context cancelled")
			return
		case <-w.stopChan:
			log.Println("Worker stopped: stop signal received")
			return
		case <-ticker.C:
			summary, err := w.runner.Run(ctx)
			if err != nil {
				log.Printf("Error running pipeline batch: %v", err)
				continue
			}
			if summary.UnitsSelected > 0 {
				log.Printf("Pipeline batch: %d units, %d annotated, %d indexed, %d failed",
					summary.UnitsSelected, summary.Annotated, summary.Indexed, len(summary.FailedUnitIDs))
			}
		}
	}
}

// Stop gracefully stops the worker
func (w *Worker) Stop() {
	close(w.stopChan)
	<-w.doneChan
	log.Println("Worker shutdown complete")
}
