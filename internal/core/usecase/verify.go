package usecase

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/kirillkom/witness-retrieval/internal/core/domain"
	"github.com/kirillkom/witness-retrieval/internal/core/ports"
)

const (
	warningMarker     = "⚠️"
	warningPrefix     = warningMarker + " "
	needsSourceSuffix = " (Needs source)"
)

var parentheticalPattern = regexp.MustCompile(`\(([^()]*)\)`)

// CitationVerifier flags answer sentences whose parenthetical citations do not name a
// retrieved witness. Matching is exact and case-sensitive.
type CitationVerifier struct {
	observer ports.RetrievalObserver
}

func NewCitationVerifier(observer ports.RetrievalObserver) *CitationVerifier {
	if observer == nil {
		observer = noopObserver{}
	}
	return &CitationVerifier{observer: observer}
}

func (v *CitationVerifier) Verify(answer string, witnesses []domain.Witness) domain.VerificationResult {
	sentences := splitSentences(answer)
	if len(sentences) == 0 {
		v.observer.ObserveVerification(0, 0)
		return domain.VerificationResult{VerifiedText: answer, Sentences: []domain.SentenceVerdict{}}
	}

	refs := make(map[string]struct{}, len(witnesses))
	for _, w := range witnesses {
		refs[w.Ref] = struct{}{}
	}

	result := domain.VerificationResult{
		Sentences:      make([]domain.SentenceVerdict, 0, len(sentences)),
		TotalSentences: len(sentences),
	}
	rewritten := make([]string, 0, len(sentences))
	for _, sentence := range sentences {
		body, flagged := unwrapFlagged(sentence)
		sourced := citesWitness(body, refs)
		result.Sentences = append(result.Sentences, domain.SentenceVerdict{Text: body, Sourced: sourced})

		switch {
		case sourced:
			rewritten = append(rewritten, body)
		case flagged:
			result.UnsourcedSentences++
			rewritten = append(rewritten, sentence)
		default:
			result.UnsourcedSentences++
			rewritten = append(rewritten, warningPrefix+sentence+needsSourceSuffix)
		}
	}
	result.VerifiedText = strings.Join(rewritten, " ")

	v.observer.ObserveVerification(result.TotalSentences, result.UnsourcedSentences)
	return result
}

func citesWitness(sentence string, refs map[string]struct{}) bool {
	for _, match := range parentheticalPattern.FindAllStringSubmatch(sentence, -1) {
		if _, ok := refs[match[1]]; ok {
			return true
		}
	}
	return false
}

// unwrapFlagged strips the marker and suffix added by a previous verification pass.
func unwrapFlagged(sentence string) (string, bool) {
	if !strings.HasPrefix(sentence, warningPrefix) || !strings.HasSuffix(sentence, needsSourceSuffix) {
		return sentence, false
	}
	body := strings.TrimSuffix(strings.TrimPrefix(sentence, warningPrefix), needsSourceSuffix)
	return strings.TrimSpace(body), true
}

// splitSentences breaks text after terminal punctuation that is followed by whitespace
// and an uppercase letter or a warning marker. A needs-source suffix right after the
// punctuation stays with its sentence.
func splitSentences(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	out := make([]string, 0, 8)
	start, i := 0, 0
	for i < len(text) {
		switch text[i] {
		case '.', '!', '?':
		default:
			i++
			continue
		}

		end := closeSentence(text, i+1)
		next := end
		for next < len(text) {
			r, size := utf8.DecodeRuneInString(text[next:])
			if !unicode.IsSpace(r) {
				break
			}
			next += size
		}
		if next == end || next >= len(text) || !startsSentence(text[next:]) {
			i = end
			continue
		}

		out = append(out, strings.TrimSpace(text[start:end]))
		start, i = next, next
	}
	if tail := strings.TrimSpace(text[start:]); tail != "" {
		out = append(out, tail)
	}
	return out
}

// closeSentence consumes trailing punctuation, closing quotes and a needs-source suffix.
func closeSentence(text string, end int) int {
	for end < len(text) {
		switch {
		case strings.IndexByte(".!?\"'", text[end]) >= 0:
			end++
		case strings.HasPrefix(text[end:], "”"):
			end += len("”")
		case strings.HasPrefix(text[end:], "’"):
			end += len("’")
		default:
			if strings.HasPrefix(text[end:], needsSourceSuffix) {
				end += len(needsSourceSuffix)
			}
			return end
		}
	}
	return end
}

func startsSentence(s string) bool {
	if strings.HasPrefix(s, warningMarker) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(s)
	return unicode.IsUpper(r)
}
