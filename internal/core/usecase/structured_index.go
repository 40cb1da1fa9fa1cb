package usecase

import (
	"sort"
	"strings"

	"github.com/kirillkom/witness-retrieval/internal/core/domain"
)

const (
	maxMatchedWorks  = 3
	maxSelectedRefs  = 8
	maxExpandedRefs  = 12
	maxScoredChapter = 4
	adjacentWindow   = 2

	weightWorkTitle    = 10
	weightWorkAltTitle = 8
	weightWorkKeyword  = 3
	weightWorkTopic    = 2

	weightChapterTitle = 15
	weightChapterTopic = 10

	flatOpeningChapters = 3
	partsOpening        = 2
	partOpeningChapters = 2
)

// StructuredIndexMatcher walks the hand-authored catalog. It is deterministic:
// plain lowercase substring matching, no stemming, stable ordering on ties.
type StructuredIndexMatcher struct {
	catalog domain.Catalog
}

func NewStructuredIndexMatcher(catalog domain.Catalog) *StructuredIndexMatcher {
	return &StructuredIndexMatcher{catalog: catalog}
}

type scoredWork struct {
	work  domain.Work
	score int
}

// MatchWorks returns at most three works ordered by descending score, catalog order on ties.
func (m *StructuredIndexMatcher) MatchWorks(question string) []domain.Work {
	q := strings.ToLower(question)

	scored := make([]scoredWork, 0, len(m.catalog.Works))
	for _, work := range m.catalog.Works {
		if score := scoreWork(work, q); score > 0 {
			scored = append(scored, scoredWork{work: work, score: score})
		}
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].score > scored[j].score
	})
	if len(scored) > maxMatchedWorks {
		scored = scored[:maxMatchedWorks]
	}

	out := make([]domain.Work, 0, len(scored))
	for _, s := range scored {
		out = append(out, s.work)
	}
	return out
}

func scoreWork(work domain.Work, q string) int {
	score := 0
	if containsFold(q, work.Title) {
		score += weightWorkTitle
	}
	for _, alt := range work.AltTitles {
		if containsFold(q, alt) {
			score += weightWorkAltTitle
		}
	}
	for _, kw := range work.Keywords {
		if containsFold(q, kw) {
			score += weightWorkKeyword
		}
	}
	for _, ch := range work.AllChapters() {
		for _, topic := range ch.Topics {
			if containsFold(q, topic) {
				score += weightWorkTopic
			}
		}
	}
	return score
}

// SelectReferences picks up to eight distinct references from the matched works.
func (m *StructuredIndexMatcher) SelectReferences(works []domain.Work, question string) []string {
	q := strings.ToLower(question)
	refs := newRefSet(maxSelectedRefs)

	for _, work := range works {
		switch work.Structure {
		case domain.StructureFlat:
			selected := relevantChapters(work.Chapters, q)
			if len(selected) == 0 {
				selected = openingFlat(work)
			}
			refs.addAll(selected)
		case domain.StructureParts:
			selected := relevantChapters(work.AllChapters(), q)
			if len(selected) == 0 {
				selected = openingParts(work)
			}
			refs.addAll(selected)
		case domain.StructureSingle:
			refs.add(work.Ref)
		}
		if refs.full() {
			break
		}
	}
	return refs.list()
}

// ExpandAdjacent adds up to two neighbouring chapters on either side of every base
// reference that belongs to a flat work. Base references come first; result is capped at twelve.
func (m *StructuredIndexMatcher) ExpandAdjacent(base []string, works []domain.Work) []string {
	refs := newRefSet(maxExpandedRefs)
	refs.addAll(base)

	type position struct {
		chapters []domain.Chapter
		index    int
	}
	positions := make(map[string]position)
	for _, work := range works {
		if work.Structure != domain.StructureFlat {
			continue
		}
		for i, ch := range work.Chapters {
			if _, seen := positions[ch.Ref]; !seen {
				positions[ch.Ref] = position{chapters: work.Chapters, index: i}
			}
		}
	}

	for _, ref := range base {
		pos, ok := positions[ref]
		if !ok {
			continue
		}
		for i := pos.index - adjacentWindow; i <= pos.index+adjacentWindow; i++ {
			if i < 0 || i >= len(pos.chapters) || i == pos.index {
				continue
			}
			refs.add(pos.chapters[i].Ref)
		}
		if refs.full() {
			break
		}
	}
	return refs.list()
}

// Plan runs match, select and expand. When nothing matches, the catalog's
// flagship works are used from their opening chapters.
func (m *StructuredIndexMatcher) Plan(question string) domain.ReferencePlan {
	works := m.MatchWorks(question)
	plan := domain.ReferencePlan{}

	if len(works) == 0 {
		works = m.catalog.Defaults()
		plan.Fallback = true
		refs := newRefSet(maxSelectedRefs)
		for _, work := range works {
			refs.addAll(openingReferences(work))
		}
		plan.Base = refs.list()
	} else {
		plan.Base = m.SelectReferences(works, question)
	}

	plan.Works = works
	plan.WorkIDs = make([]string, 0, len(works))
	for _, w := range works {
		plan.WorkIDs = append(plan.WorkIDs, w.ID)
	}
	plan.Expanded = m.ExpandAdjacent(plan.Base, works)
	return plan
}

type scoredChapter struct {
	ref   string
	score int
}

func relevantChapters(chapters []domain.Chapter, q string) []string {
	scored := make([]scoredChapter, 0, len(chapters))
	for _, ch := range chapters {
		score := 0
		if containsFold(q, ch.Title) {
			score += weightChapterTitle
		}
		for _, topic := range ch.Topics {
			if containsFold(q, topic) {
				score += weightChapterTopic
			}
		}
		if score > 0 {
			scored = append(scored, scoredChapter{ref: ch.Ref, score: score})
		}
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].score > scored[j].score
	})
	if len(scored) > maxScoredChapter {
		scored = scored[:maxScoredChapter]
	}

	out := make([]string, 0, len(scored))
	for _, s := range scored {
		out = append(out, s.ref)
	}
	return out
}

func openingReferences(work domain.Work) []string {
	switch work.Structure {
	case domain.StructureFlat:
		return openingFlat(work)
	case domain.StructureParts:
		return openingParts(work)
	case domain.StructureSingle:
		if work.Ref == "" {
			return nil
		}
		return []string{work.Ref}
	default:
		return nil
	}
}

func openingFlat(work domain.Work) []string {
	n := min(flatOpeningChapters, len(work.Chapters))
	out := make([]string, 0, n)
	for _, ch := range work.Chapters[:n] {
		out = append(out, ch.Ref)
	}
	return out
}

func openingParts(work domain.Work) []string {
	out := make([]string, 0, partsOpening*partOpeningChapters)
	for _, part := range work.Parts[:min(partsOpening, len(work.Parts))] {
		for _, ch := range part.Chapters[:min(partOpeningChapters, len(part.Chapters))] {
			out = append(out, ch.Ref)
		}
	}
	return out
}

// containsFold reports whether the lowercased question contains needle.
// Empty needles never match.
func containsFold(lowerQuestion, needle string) bool {
	needle = strings.ToLower(strings.TrimSpace(needle))
	if needle == "" {
		return false
	}
	return strings.Contains(lowerQuestion, needle)
}

// refSet is an insertion-ordered, capped set of references.
type refSet struct {
	limit int
	seen  map[string]struct{}
	order []string
}

func newRefSet(limit int) *refSet {
	return &refSet{
		limit: limit,
		seen:  make(map[string]struct{}, limit),
		order: make([]string, 0, limit),
	}
}

func (s *refSet) add(ref string) {
	if ref == "" || s.full() {
		return
	}
	if _, ok := s.seen[ref]; ok {
		return
	}
	s.seen[ref] = struct{}{}
	s.order = append(s.order, ref)
}

func (s *refSet) addAll(refs []string) {
	for _, ref := range refs {
		s.add(ref)
	}
}

func (s *refSet) full() bool {
	return len(s.order) >= s.limit
}

func (s *refSet) list() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}
