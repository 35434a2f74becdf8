// Package chunker splits raw text into size-bounded pieces. It is the
// generic fallback used when no labeler segmentation is available: split on
// paragraph boundaries first, pack paragraphs up to the size budget, and
// break oversized paragraphs at whitespace.
package chunker

import (
	"context"
	"strings"
	"unicode"

	"github.com/cloo-solutions/corpora/internal/domain"
)

// Config controls chunk sizing.
type Config struct {
	MaxChars  int
	MinChars  int
	MaxChunks int
}

// DefaultConfig provides sane defaults for chunking.
func DefaultConfig() Config {
	return Config{
		MaxChars:  3200,
		MinChars:  400,
		MaxChunks: 200,
	}
}

// Split divides text into chunks of at most cfg.MaxChars characters,
// preferring paragraph boundaries and falling back to whitespace breaks
// inside oversized paragraphs. Empty input yields nil.
func Split(text string, cfg Config) []string {
	clean := strings.TrimSpace(text)
	if clean == "" {
		return nil
	}
	if cfg.MaxChars <= 0 {
		cfg = DefaultConfig()
	}
	if len([]rune(clean)) <= cfg.MaxChars {
		return []string{clean}
	}

	paragraphs := strings.Split(clean, "\n\n")

	chunks := make([]string, 0, 8)
	var current []string
	currentLen := 0
	flush := func() {
		if len(current) == 0 {
			return
		}
		chunk := strings.TrimSpace(strings.Join(current, "\n\n"))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		current = current[:0]
		currentLen = 0
	}

	for _, p := range paragraphs {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if cfg.MaxChunks > 0 && len(chunks) >= cfg.MaxChunks {
			break
		}

		plen := len([]rune(p))
		if plen > cfg.MaxChars {
			flush()
			for _, piece := range splitOversized(p, cfg) {
				chunks = append(chunks, piece)
			}
			continue
		}

		if currentLen > 0 && currentLen+plen+2 > cfg.MaxChars {
			flush()
		}
		current = append(current, p)
		currentLen += plen + 2
	}
	flush()

	if cfg.MaxChunks > 0 && len(chunks) > cfg.MaxChunks {
		chunks = chunks[:cfg.MaxChunks]
	}
	return chunks
}

// splitOversized breaks a single long paragraph at whitespace, scanning
// backward from the size limit to avoid cutting mid-word.
func splitOversized(text string, cfg Config) []string {
	runes := []rune(text)
	pieces := make([]string, 0, 4)
	start := 0
	for start < len(runes) {
		end := start + cfg.MaxChars
		if end >= len(runes) {
			end = len(runes)
		} else {
			cut := end
			minCut := start + cfg.MinChars
			if minCut > end {
				minCut = start
			}
			for i := end; i > minCut; i-- {
				if unicode.IsSpace(runes[i-1]) {
					cut = i
					break
				}
			}
			end = cut
		}
		if end <= start {
			break
		}
		piece := strings.TrimSpace(string(runes[start:end]))
		if piece != "" {
			pieces = append(pieces, piece)
		}
		start = end
	}
	return pieces
}

// Splitter adapts Split to the segmenter capability: every chunk gets the
// generic fallback label for the source type, so downstream consolidation
// knows these boundaries are mechanical, not semantic.
type Splitter struct {
	cfg            Config
	fallbackSuffix string
}

// NewSplitter creates a fallback segmenter. fallbackSuffix is appended to
// the source type to form the section label.
func NewSplitter(cfg Config, fallbackSuffix string) *Splitter {
	if cfg.MaxChars <= 0 {
		cfg = DefaultConfig()
	}
	return &Splitter{cfg: cfg, fallbackSuffix: fallbackSuffix}
}

// Segment implements the labeler segmenter interface. It never fails and
// ignores ctx: the work is pure CPU.
func (s *Splitter) Segment(_ context.Context, document, sourceType string) ([]domain.Section, error) {
	chunks := Split(document, s.cfg)
	sections := make([]domain.Section, 0, len(chunks))
	label := sourceType + s.fallbackSuffix
	for i, c := range chunks {
		sections = append(sections, domain.Section{
			Label:    label,
			Content:  c,
			Position: i,
		})
	}
	return sections, nil
}
