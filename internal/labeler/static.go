package labeler

import (
	"context"

	"github.com/cloo-solutions/corpora/internal/domain"
)

// Static is a deterministic Classifier returning canned annotations keyed
// by exact content. Anything unkeyed gets the Default annotation. Intended
// for tests and dry runs; the pipeline behaves identically regardless of
// which Classifier is wired in.
type Static struct {
	Annotations map[string]Annotation
	Default     Annotation
}

// NewStatic creates a Static classifier whose default verdict is keep with
// no tags.
func NewStatic() *Static {
	return &Static{
		Annotations: make(map[string]Annotation),
		Default:     Annotation{Keep: true, Reason: "static default"},
	}
}

// Classify implements Classifier.
func (s *Static) Classify(_ context.Context, content string, _ domain.UnitMetadata) (*Annotation, error) {
	if a, ok := s.Annotations[content]; ok {
		out := a
		return &out, nil
	}
	out := s.Default
	return &out, nil
}
