// Package labeler defines the external text-understanding capability: a
// classifier that decides keep/discard plus tags for a chunk, and a
// segmenter that structures a whole document into labeled sections. The
// pipeline only consumes these interfaces; which implementation is wired in
// (LLM-backed, rule-based, canned) is a construction-time decision.
package labeler

import (
	"context"

	"github.com/cloo-solutions/corpora/internal/domain"
)

// Annotation is the classifier's verdict for one unit of content.
type Annotation struct {
	Keep   bool
	Tags   []string
	Reason string
}

// Classifier evaluates a single chunk of content.
type Classifier interface {
	Classify(ctx context.Context, content string, metadata domain.UnitMetadata) (*Annotation, error)
}

// Segmenter structures a whole document into an ordered sequence of
// labeled sections.
type Segmenter interface {
	Segment(ctx context.Context, document, sourceType string) ([]domain.Section, error)
}
