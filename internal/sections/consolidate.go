// Package sections consolidates machine-segmented text sections into a
// final, well-sized sequence. The segmenters (LLM or rule-based) tend to
// over-fragment: undersized fragments and runs of the same label are merged
// here before units are persisted.
package sections

import (
	"strings"

	"github.com/cloo-solutions/corpora/internal/domain"
)

const (
	// DefaultMinLength is the character count below which a section is
	// considered too short to stand alone.
	DefaultMinLength = 600
	// DefaultFallbackSuffix marks labels assigned by the generic fallback
	// segmenter. Fallback-labeled runs are never merged together.
	DefaultFallbackSuffix = "_body"

	separator = "\n\n"
)

// Config controls consolidation. The zero value gets the package defaults.
type Config struct {
	MinLength int
	// EssentialShortLabels are labels allowed to stay short (signatures,
	// PS lines, headers) and never merged away.
	EssentialShortLabels map[string]bool
	FallbackLabelSuffix  string
}

func (c Config) withDefaults() Config {
	if c.MinLength <= 0 {
		c.MinLength = DefaultMinLength
	}
	if c.FallbackLabelSuffix == "" {
		c.FallbackLabelSuffix = DefaultFallbackSuffix
	}
	return c
}

// Consolidate returns a new section sequence satisfying the size and
// grouping invariants. It is pure: the input slice and its sections are
// not modified, order is preserved, and no content is dropped.
func Consolidate(sections []domain.Section, cfg Config) []domain.Section {
	if len(sections) == 0 {
		return nil
	}
	cfg = cfg.withDefaults()

	work := make([]domain.Section, len(sections))
	copy(work, sections)

	merged := mergeShort(work, cfg)
	merged = mergeSameLabel(merged, cfg)

	for i := range merged {
		merged[i].Position = i
	}
	return merged
}

// mergeShort is the first pass: each undersized, non-essential section is
// folded into its following neighbor (the neighbor's label wins), or into
// the previously emitted section when it is the last one. A sole short
// section is kept as is.
func mergeShort(sections []domain.Section, cfg Config) []domain.Section {
	out := make([]domain.Section, 0, len(sections))
	i := 0
	for i < len(sections) {
		cur := sections[i]
		short := len(strings.TrimSpace(cur.Content)) < cfg.MinLength
		essential := cfg.EssentialShortLabels[cur.Label]

		switch {
		case !short || essential:
			out = append(out, cur)
			i++
		case i+1 < len(sections):
			next := sections[i+1]
			next.Content = cur.Content + separator + next.Content
			next.StartOffset = nil
			next.EndOffset = nil
			out = append(out, next)
			i += 2
		case len(out) > 0:
			prev := &out[len(out)-1]
			prev.Content = prev.Content + separator + cur.Content
			prev.StartOffset = nil
			prev.EndOffset = nil
			i++
		default:
			// Sole section: nothing to merge into.
			out = append(out, cur)
			i++
		}
	}
	return out
}

// mergeSameLabel is the second pass: consecutive sections sharing a label
// are concatenated, except when the accumulated section carries a fallback
// label, which always forces a boundary.
func mergeSameLabel(sections []domain.Section, cfg Config) []domain.Section {
	if len(sections) == 0 {
		return nil
	}

	out := make([]domain.Section, 0, len(sections))
	acc := sections[0]
	for _, next := range sections[1:] {
		fallback := strings.Contains(acc.Label, cfg.FallbackLabelSuffix)
		if next.Label == acc.Label && !fallback {
			acc.Content = acc.Content + separator + next.Content
			acc.StartOffset = nil
			acc.EndOffset = nil
			continue
		}
		out = append(out, acc)
		acc = next
	}
	return append(out, acc)
}
