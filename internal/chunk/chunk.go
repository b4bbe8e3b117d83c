// Package chunk splits canonical item text into overlapping segments.
package chunk

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/tmc/langchaingo/textsplitter"
)

// Defaults, measured in runes.
const (
	DefaultSize    = 1000
	DefaultOverlap = 200
)

// Separators are tried in order: paragraphs, lines, sentence ends, words,
// then a hard cut.
var Separators = []string{"\n\n", "\n", "。", ". ", "! ", "? ", " ", ""}

// Splitter is a deterministic, stateless recursive splitter.
type Splitter struct {
	size    int
	overlap int
	inner   textsplitter.RecursiveCharacter
}

// New returns a Splitter. size must be positive and overlap smaller than size.
func New(size, overlap int) (*Splitter, error) {
	if size <= 0 || overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("invalid chunk size %d / overlap %d", size, overlap)
	}
	return &Splitter{
		size:    size,
		overlap: overlap,
		inner: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(size),
			textsplitter.WithChunkOverlap(overlap),
			textsplitter.WithSeparators(Separators),
			textsplitter.WithLenFunc(utf8.RuneCountInString),
		),
	}, nil
}

// Default returns a Splitter with DefaultSize and DefaultOverlap.
func Default() *Splitter {
	s, _ := New(DefaultSize, DefaultOverlap)
	return s
}

// Split returns the ordered chunks of text. Blank input yields none.
func (s *Splitter) Split(text string) ([]string, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	parts, err := s.inner.SplitText(text)
	if err != nil {
		return nil, fmt.Errorf("splitting text: %w", err)
	}

	out := parts[:0]
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	return out, nil
}

// Size is the target chunk size in runes.
func (s *Splitter) Size() int { return s.size }
