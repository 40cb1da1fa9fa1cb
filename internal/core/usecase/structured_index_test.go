package usecase

import (
	"fmt"
	"reflect"
	"testing"

	"github.com/kirillkom/witness-retrieval/internal/core/domain"
)

func flatWork(id, title string, n int, keywords ...string) domain.Work {
	chapters := make([]domain.Chapter, 0, n)
	for i := 1; i <= n; i++ {
		chapters = append(chapters, domain.Chapter{
			Title: fmt.Sprintf("Chapter %d", i),
			Ref:   fmt.Sprintf("%s %d", title, i),
		})
	}
	return domain.Work{ID: id, Title: title, Keywords: keywords, Structure: domain.StructureFlat, Chapters: chapters}
}

func testCatalog() domain.Catalog {
	path := flatWork("path", "Path of the Just", 10, "character", "virtue")
	path.AltTitles = []string{"Mesillat Yesharim"}
	path.Chapters[1].Title = "On Watchfulness"
	path.Chapters[1].Topics = []string{"watchfulness", "vigilance"}
	path.Chapters[5].Title = "On Zeal"
	path.Chapters[5].Topics = []string{"zeal"}

	way := domain.Work{
		ID:        "way",
		Title:     "The Way of God",
		Structure: domain.StructureParts,
		Parts: []domain.Part{
			{Title: "Part One", Chapters: []domain.Chapter{
				{Title: "On the Creator", Ref: "Way, Part One, Chapter 1", Topics: []string{"creator"}},
				{Title: "On the Purpose of Creation", Ref: "Way, Part One, Chapter 2", Topics: []string{"purpose"}},
				{Title: "On Mankind", Ref: "Way, Part One, Chapter 3"},
			}},
			{Title: "Part Two", Chapters: []domain.Chapter{
				{Title: "On Providence in General", Ref: "Way, Part Two, Chapter 1", Topics: []string{"providence"}},
				{Title: "On Individual Providence", Ref: "Way, Part Two, Chapter 2", Topics: []string{"providence", "individual"}},
			}},
			{Title: "Part Three", Chapters: []domain.Chapter{
				{Title: "On Prophecy", Ref: "Way, Part Three, Chapter 1", Topics: []string{"prophecy"}},
			}},
		},
	}

	providence := domain.Work{
		ID:        "providence",
		Title:     "On Providence",
		Keywords:  []string{"providence"},
		Structure: domain.StructureSingle,
		Ref:       "On Providence",
	}

	return domain.Catalog{
		Author:       "Test Author",
		DefaultWorks: []string{"path", "way"},
		Works:        []domain.Work{path, way, providence},
	}
}

func TestMatchWorksRanksByScore(t *testing.T) {
	catalog := domain.Catalog{Works: []domain.Work{
		{ID: "other", Title: "Letters", Structure: domain.StructureSingle, Ref: "Letters"},
		{ID: "providence", Title: "On Providence", Keywords: []string{"providence"}, Structure: domain.StructureSingle, Ref: "On Providence"},
	}}
	matcher := NewStructuredIndexMatcher(catalog)

	works := matcher.MatchWorks("What does the text say about divine providence?")
	if len(works) != 1 {
		t.Fatalf("expected 1 matched work, got %d", len(works))
	}
	if works[0].ID != "providence" {
		t.Fatalf("expected providence first, got %s", works[0].ID)
	}
}

func TestMatchWorksOrdersDescendingAndKeepsCatalogOrderOnTies(t *testing.T) {
	matcher := NewStructuredIndexMatcher(testCatalog())

	// "The Way of God" title (10) + two providence topics (4) beats "On Providence" keyword (3).
	works := matcher.MatchWorks("The Way of God on providence")
	got := workIDs(works)
	want := []string{"way", "providence"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}

	tied := NewStructuredIndexMatcher(domain.Catalog{Works: []domain.Work{
		{ID: "a", Title: "A", Keywords: []string{"grace"}, Structure: domain.StructureSingle, Ref: "A"},
		{ID: "b", Title: "B", Keywords: []string{"grace"}, Structure: domain.StructureSingle, Ref: "B"},
	}})
	if got := workIDs(tied.MatchWorks("on grace")); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Fatalf("expected catalog order on ties, got %v", got)
	}
}

func TestMatchWorksKeepsTopThree(t *testing.T) {
	works := make([]domain.Work, 0, 5)
	for i := 0; i < 5; i++ {
		works = append(works, domain.Work{
			ID:        fmt.Sprintf("w%d", i),
			Title:     fmt.Sprintf("Work %d", i),
			Keywords:  []string{"soul"},
			Structure: domain.StructureSingle,
			Ref:       fmt.Sprintf("Work %d", i),
		})
	}
	matcher := NewStructuredIndexMatcher(domain.Catalog{Works: works})
	if got := matcher.MatchWorks("the soul"); len(got) != 3 {
		t.Fatalf("expected 3 works, got %d", len(got))
	}
}

func TestMatchWorksExcludesZeroScores(t *testing.T) {
	matcher := NewStructuredIndexMatcher(testCatalog())
	if got := matcher.MatchWorks("nothing relevant here"); len(got) != 0 {
		t.Fatalf("expected no matches, got %v", workIDs(got))
	}
}

func TestSelectReferencesFlatPrefersRelevantChapters(t *testing.T) {
	catalog := testCatalog()
	matcher := NewStructuredIndexMatcher(catalog)
	path, _ := catalog.WorkByID("path")

	refs := matcher.SelectReferences([]domain.Work{path}, "How does one acquire zeal and watchfulness?")
	want := []string{"Path of the Just 2", "Path of the Just 6"}
	if !reflect.DeepEqual(refs, want) {
		t.Fatalf("expected %v, got %v", want, refs)
	}
}

func TestSelectReferencesFlatFallsBackToOpeningChapters(t *testing.T) {
	catalog := testCatalog()
	matcher := NewStructuredIndexMatcher(catalog)
	path, _ := catalog.WorkByID("path")

	refs := matcher.SelectReferences([]domain.Work{path}, "virtue")
	want := []string{"Path of the Just 1", "Path of the Just 2", "Path of the Just 3"}
	if !reflect.DeepEqual(refs, want) {
		t.Fatalf("expected %v, got %v", want, refs)
	}

	short := flatWork("short", "Short", 2)
	refs = matcher.SelectReferences([]domain.Work{short}, "anything")
	if len(refs) != 2 {
		t.Fatalf("expected min(3, 2)=2 opening chapters, got %v", refs)
	}
}

func TestSelectReferencesPartsScoresAcrossParts(t *testing.T) {
	catalog := testCatalog()
	matcher := NewStructuredIndexMatcher(catalog)
	way, _ := catalog.WorkByID("way")

	refs := matcher.SelectReferences([]domain.Work{way}, "individual providence")
	want := []string{"Way, Part Two, Chapter 2", "Way, Part Two, Chapter 1"}
	if !reflect.DeepEqual(refs, want) {
		t.Fatalf("expected %v, got %v", want, refs)
	}
}

func TestSelectReferencesPartsFallback(t *testing.T) {
	catalog := testCatalog()
	matcher := NewStructuredIndexMatcher(catalog)
	way, _ := catalog.WorkByID("way")

	refs := matcher.SelectReferences([]domain.Work{way}, "unrelated")
	want := []string{
		"Way, Part One, Chapter 1",
		"Way, Part One, Chapter 2",
		"Way, Part Two, Chapter 1",
		"Way, Part Two, Chapter 2",
	}
	if !reflect.DeepEqual(refs, want) {
		t.Fatalf("expected %v, got %v", want, refs)
	}
}

func TestSelectReferencesIsCappedAndDeduplicated(t *testing.T) {
	works := make([]domain.Work, 0, 4)
	for i := 0; i < 4; i++ {
		w := flatWork(fmt.Sprintf("w%d", i), fmt.Sprintf("Work %d", i), 6)
		for c := range w.Chapters {
			w.Chapters[c].Topics = []string{"soul"}
		}
		works = append(works, w)
	}
	works = append(works, works[0])
	matcher := NewStructuredIndexMatcher(domain.Catalog{Works: works})

	refs := matcher.SelectReferences(works, "the soul")
	if len(refs) > maxSelectedRefs {
		t.Fatalf("expected at most %d refs, got %d", maxSelectedRefs, len(refs))
	}
	assertUnique(t, refs)
}

func TestExpandAdjacentWindow(t *testing.T) {
	work := flatWork("w", "Work", 10)
	matcher := NewStructuredIndexMatcher(domain.Catalog{Works: []domain.Work{work}})

	cases := []struct {
		index int
		want  []int
	}{
		{index: 0, want: []int{0, 1, 2}},
		{index: 1, want: []int{1, 0, 2, 3}},
		{index: 5, want: []int{5, 3, 4, 6, 7}},
		{index: 9, want: []int{9, 7, 8}},
	}
	for _, tc := range cases {
		base := []string{work.Chapters[tc.index].Ref}
		got := matcher.ExpandAdjacent(base, []domain.Work{work})
		want := make([]string, 0, len(tc.want))
		for _, i := range tc.want {
			want = append(want, work.Chapters[i].Ref)
		}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("index %d: expected %v, got %v", tc.index, want, got)
		}
	}
}

func TestExpandAdjacentIgnoresNonFlatAndCaps(t *testing.T) {
	catalog := testCatalog()
	matcher := NewStructuredIndexMatcher(catalog)
	way, _ := catalog.WorkByID("way")

	base := []string{"Way, Part Two, Chapter 1"}
	got := matcher.ExpandAdjacent(base, []domain.Work{way})
	if !reflect.DeepEqual(got, base) {
		t.Fatalf("expected parts work refs untouched, got %v", got)
	}

	big := flatWork("big", "Big", 40)
	bigBase := make([]string, 0, 8)
	for i := 0; i < 40; i += 5 {
		bigBase = append(bigBase, big.Chapters[i].Ref)
	}
	expanded := NewStructuredIndexMatcher(domain.Catalog{Works: []domain.Work{big}}).ExpandAdjacent(bigBase, []domain.Work{big})
	if len(expanded) != maxExpandedRefs {
		t.Fatalf("expected cap %d, got %d", maxExpandedRefs, len(expanded))
	}
	assertUnique(t, expanded)
	if !reflect.DeepEqual(expanded[:len(bigBase)], bigBase) {
		t.Fatalf("expected base refs first, got %v", expanded)
	}
}

func TestPlanFallsBackToDefaultWorks(t *testing.T) {
	matcher := NewStructuredIndexMatcher(testCatalog())

	plan := matcher.Plan("completely unrelated question")
	if !plan.Fallback {
		t.Fatalf("expected fallback plan")
	}
	if !reflect.DeepEqual(plan.WorkIDs, []string{"path", "way"}) {
		t.Fatalf("expected default works, got %v", plan.WorkIDs)
	}
	wantBase := []string{
		"Path of the Just 1", "Path of the Just 2", "Path of the Just 3",
		"Way, Part One, Chapter 1", "Way, Part One, Chapter 2",
		"Way, Part Two, Chapter 1", "Way, Part Two, Chapter 2",
	}
	if !reflect.DeepEqual(plan.Base, wantBase) {
		t.Fatalf("expected base %v, got %v", wantBase, plan.Base)
	}
	if len(plan.Expanded) > maxExpandedRefs {
		t.Fatalf("expanded exceeds cap: %d", len(plan.Expanded))
	}
}

func TestPlanIsDeterministic(t *testing.T) {
	matcher := NewStructuredIndexMatcher(testCatalog())
	question := "What is said about watchfulness and providence?"

	first := matcher.Plan(question)
	for i := 0; i < 20; i++ {
		next := matcher.Plan(question)
		if !reflect.DeepEqual(first.Expanded, next.Expanded) || !reflect.DeepEqual(first.Base, next.Base) {
			t.Fatalf("plan changed between calls: %v vs %v", first.Expanded, next.Expanded)
		}
	}
}

func workIDs(works []domain.Work) []string {
	out := make([]string, 0, len(works))
	for _, w := range works {
		out = append(out, w.ID)
	}
	return out
}

func assertUnique(t *testing.T, refs []string) {
	t.Helper()
	seen := make(map[string]struct{}, len(refs))
	for _, ref := range refs {
		if _, ok := seen[ref]; ok {
			t.Fatalf("duplicate ref %q in %v", ref, refs)
		}
		seen[ref] = struct{}{}
	}
}
