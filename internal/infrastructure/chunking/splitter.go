package chunking

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/kirillkom/witness-retrieval/internal/core/domain"
)

const (
	defaultTargetWords = 180
	defaultMaxWords    = 320
)

// Splitter groups whole paragraphs into chunks of roughly TargetWords words.
// A paragraph is never split; a single paragraph longer than MaxWords becomes its own chunk.
type Splitter struct {
	TargetWords int
	MaxWords    int
}

func NewSplitter(targetWords, maxWords int) *Splitter {
	if targetWords <= 0 {
		targetWords = defaultTargetWords
	}
	if maxWords <= 0 {
		maxWords = defaultMaxWords
	}
	if maxWords < targetWords {
		maxWords = targetWords
	}
	return &Splitter{
		TargetWords: targetWords,
		MaxWords:    maxWords,
	}
}

// Split returns drafts referenced as "ref:n" for one paragraph or "ref:a-b" for a range.
// altParagraphs are aligned by index with paragraphs; missing entries are treated as empty.
func (s *Splitter) Split(ref string, paragraphs, altParagraphs []string) []domain.ChunkDraft {
	out := make([]domain.ChunkDraft, 0, len(paragraphs)/2+1)

	var (
		texts, alts []string
		first       int
		words       int
	)
	flush := func(last int) {
		if len(texts) == 0 {
			return
		}
		text := strings.Join(texts, "\n\n")
		out = append(out, domain.ChunkDraft{
			Ref:            paragraphRef(ref, first, last),
			Text:           text,
			AltText:        strings.TrimSpace(strings.Join(alts, "\n\n")),
			FirstParagraph: first,
			LastParagraph:  last,
			WordCount:      words,
			CharCount:      utf8.RuneCountInString(text),
		})
		texts, alts, words = nil, nil, 0
	}

	last := 0
	for i, raw := range paragraphs {
		paragraph := strings.TrimSpace(raw)
		if paragraph == "" {
			continue
		}
		n := i + 1
		count := len(strings.Fields(paragraph))

		if len(texts) > 0 && (words >= s.TargetWords || words+count > s.MaxWords) {
			flush(last)
		}
		if len(texts) == 0 {
			first = n
		}
		texts = append(texts, paragraph)
		if i < len(altParagraphs) {
			if alt := strings.TrimSpace(altParagraphs[i]); alt != "" {
				alts = append(alts, alt)
			}
		}
		words += count
		last = n
	}
	flush(last)
	return out
}

func paragraphRef(ref string, first, last int) string {
	if first == last {
		return fmt.Sprintf("%s:%d", ref, first)
	}
	return fmt.Sprintf("%s:%d-%d", ref, first, last)
}
