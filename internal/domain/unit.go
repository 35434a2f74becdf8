package domain

import "time"

// Status represents the state of one processing stage for a content unit.
// Annotation and indexing each carry their own Status and advance
// independently.
type Status string

const (
	StatusPending Status = "pending"
	StatusDone    Status = "done"
	StatusError   Status = "error"
	StatusSkipped Status = "skipped"
)

// IsValid reports whether the status is one of the known values.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusDone, StatusError, StatusSkipped:
		return true
	}
	return false
}

// Eligible reports whether a stage in this status should be (re)attempted.
func (s Status) Eligible() bool {
	return s == "" || s == StatusPending || s == StatusError
}

// Keep is the tri-state annotation verdict for a unit. It stays unknown
// until the annotation stage runs.
type Keep string

const (
	KeepUnknown Keep = ""
	KeepYes     Keep = "yes"
	KeepNo      Keep = "no"
)

// ContentUnit is the atomic persisted processing unit: one section-sized
// chunk of one source item.
type ContentUnit struct {
	ID               string
	SourceItemID     string
	Content          string
	Metadata         UnitMetadata
	AnnotationStatus Status
	AnnotatedAt      *time.Time
	Keep             Keep
	Tags             []string
	Reason           string
	IndexingStatus   Status
	IndexedAt        *time.Time
	CreatedAt        time.Time
}

// NewContentUnit creates a unit in the initial pending/pending state.
func NewContentUnit(id, sourceItemID, content string, metadata UnitMetadata) *ContentUnit {
	return &ContentUnit{
		ID:               id,
		SourceItemID:     sourceItemID,
		Content:          content,
		Metadata:         metadata,
		AnnotationStatus: StatusPending,
		Keep:             KeepUnknown,
		IndexingStatus:   StatusPending,
		CreatedAt:        time.Now().UTC(),
	}
}

// AnnotationEligible reports whether the annotation stage should run.
func (u *ContentUnit) AnnotationEligible() bool {
	return u.AnnotationStatus.Eligible()
}

// IndexingEligible reports whether the indexing stage should run.
// Indexing may only leave pending once annotation is done with keep=yes,
// or once annotation was explicitly skipped and policy allows pass-through.
func (u *ContentUnit) IndexingEligible(indexOnSkippedAnnotation bool) bool {
	if !u.IndexingStatus.Eligible() {
		return false
	}
	switch u.AnnotationStatus {
	case StatusDone:
		return u.Keep == KeepYes
	case StatusSkipped:
		return indexOnSkippedAnnotation
	}
	return false
}
