package domain

// Section is one labeled span of text produced by a segmenter. Sections
// are ephemeral: they exist between segmentation and unit creation, and
// their label and position are folded into UnitMetadata once finalized.
type Section struct {
	Label    string
	Content  string
	Position int
	// Character offsets into the original document. Cleared (nil) once a
	// merge makes the content non-contiguous.
	StartOffset *int
	EndOffset   *int
}
