package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kirillkom/witness-retrieval/internal/core/domain"
	"github.com/kirillkom/witness-retrieval/internal/core/ports"
)

type ReconcileConfig struct {
	Limit                int
	MinSimilarity        float64
	MinSemanticWitnesses int
	Language             domain.Language
	HybridEnabled        bool
}

func DefaultReconcileConfig() ReconcileConfig {
	return ReconcileConfig{
		Limit:                domain.DefaultSearchLimit,
		MinSimilarity:        0.1,
		MinSemanticWitnesses: 2,
		Language:             domain.LanguageEnglish,
		HybridEnabled:        true,
	}
}

// ReconcileUseCase resolves a question into witnesses, trying hybrid search first
// and falling back to the structured index walk when it returns too little.
type ReconcileUseCase struct {
	searcher ports.Searcher
	planner  ports.ReferencePlanner
	fetcher  ports.ReferenceFetcher
	observer ports.RetrievalObserver
	cfg      ReconcileConfig
}

func NewReconcileUseCase(
	searcher ports.Searcher,
	planner ports.ReferencePlanner,
	fetcher ports.ReferenceFetcher,
	observer ports.RetrievalObserver,
	cfg ReconcileConfig,
) *ReconcileUseCase {
	defaults := DefaultReconcileConfig()
	if cfg.Limit <= 0 {
		cfg.Limit = defaults.Limit
	}
	if cfg.MinSimilarity < 0 {
		cfg.MinSimilarity = 0
	}
	if cfg.MinSemanticWitnesses <= 0 {
		cfg.MinSemanticWitnesses = defaults.MinSemanticWitnesses
	}
	if !cfg.Language.Valid() {
		cfg.Language = defaults.Language
	}
	if observer == nil {
		observer = noopObserver{}
	}
	return &ReconcileUseCase{
		searcher: searcher,
		planner:  planner,
		fetcher:  fetcher,
		observer: observer,
		cfg:      cfg,
	}
}

func (uc *ReconcileUseCase) Resolve(ctx context.Context, question string) (*domain.Resolution, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "resolve", errors.New("question is required"))
	}

	resolution := &domain.Resolution{}

	semantic, analytics, semanticErr := uc.semanticWitnesses(ctx, question)
	if analytics != nil {
		resolution.Analytics = analytics
		resolution.Warnings = append(resolution.Warnings, analytics.Warnings...)
	}
	if semanticErr == nil && len(semantic) >= uc.cfg.MinSemanticWitnesses {
		resolution.Witnesses = semantic
		resolution.Source = domain.SourceSemantic
		uc.observer.ObserveResolution(resolution.Source, len(semantic))
		return resolution, nil
	}
	if semanticErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		slog.Warn("semantic_retrieval_failed", "error", semanticErr)
		resolution.Warnings = append(resolution.Warnings, "semantic retrieval unavailable: "+semanticErr.Error())
	}

	legacy, legacyErr := uc.legacyWitnesses(ctx, question)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}

	switch {
	case semanticErr != nil && legacyErr != nil:
		return nil, fmt.Errorf("resolve witnesses: %w", errors.Join(semanticErr, legacyErr))
	case semanticErr != nil:
		resolution.Witnesses = legacy
		resolution.Source = domain.SourceLegacy
	case len(semantic) > 0 && len(legacy) > 0:
		resolution.Witnesses = mergeWitnesses(semantic, legacy)
		resolution.Source = domain.SourceHybrid
	case len(semantic) > 0:
		resolution.Witnesses = semantic
		resolution.Source = domain.SourceSemantic
	case len(legacy) > 0:
		resolution.Witnesses = legacy
		resolution.Source = domain.SourceLegacy
	default:
		resolution.Witnesses = []domain.Witness{}
		resolution.Source = domain.SourceNone
	}
	if legacyErr != nil {
		resolution.Warnings = append(resolution.Warnings, "structured index fetch failed: "+legacyErr.Error())
	}
	if resolution.Witnesses == nil {
		resolution.Witnesses = []domain.Witness{}
	}
	if len(resolution.Witnesses) == 0 {
		resolution.Source = domain.SourceNone
	}

	uc.observer.ObserveResolution(resolution.Source, len(resolution.Witnesses))
	return resolution, nil
}

func (uc *ReconcileUseCase) semanticWitnesses(ctx context.Context, question string) ([]domain.Witness, *domain.SearchAnalytics, error) {
	mode := domain.SearchModeHybrid
	if !uc.cfg.HybridEnabled {
		mode = domain.SearchModeVector
	}
	resp, err := uc.searcher.Search(ctx, question, domain.SearchOptions{
		Limit:         uc.cfg.Limit,
		MinSimilarity: uc.cfg.MinSimilarity,
		Language:      uc.cfg.Language,
		Mode:          mode,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("hybrid search: %w", err)
	}

	alt := uc.cfg.Language.Alternate()
	witnesses := make([]domain.Witness, 0, len(resp.Results))
	for _, r := range resp.Results {
		text := r.Chunk.Text(uc.cfg.Language)
		if strings.TrimSpace(text) == "" {
			continue
		}
		witnesses = append(witnesses, domain.Witness{
			Ref:        r.Chunk.Ref,
			Text:       text,
			AltText:    r.Chunk.Text(alt),
			Score:      r.Similarity,
			Provenance: domain.ProvenanceForMatch(r.MatchType),
		})
	}
	analytics := resp.Analytics
	return witnesses, &analytics, nil
}

// legacyWitnesses walks the structured index plan and fetches each reference in turn.
// Individual failures are skipped; an error is returned only when no reference could be
// fetched and at least one failed for a reason other than not-found.
func (uc *ReconcileUseCase) legacyWitnesses(ctx context.Context, question string) ([]domain.Witness, error) {
	plan := uc.planner.Plan(question)
	slog.Debug("structured_index_plan",
		"works", plan.WorkIDs,
		"fallback", plan.Fallback,
		"base_refs", len(plan.Base),
		"expanded_refs", len(plan.Expanded),
	)

	witnesses := make([]domain.Witness, 0, len(plan.Expanded))
	seen := make(map[string]struct{}, len(plan.Expanded))
	var (
		answered int
		failures []error
	)
	for _, ref := range plan.Expanded {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		text, err := uc.fetcher.FetchText(ctx, ref, domain.FetchOptions{Language: uc.cfg.Language})
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			if errors.Is(err, domain.ErrReferenceNotFound) {
				slog.Debug("reference_not_found", "ref", ref)
				answered++
				continue
			}
			slog.Warn("reference_fetch_failed", "ref", ref, "error", err)
			failures = append(failures, err)
			continue
		}
		answered++

		resolved := text.Ref
		if resolved == "" {
			resolved = ref
		}
		if strings.TrimSpace(text.Text) == "" {
			continue
		}
		if _, dup := seen[resolved]; dup {
			continue
		}
		seen[resolved] = struct{}{}
		witnesses = append(witnesses, domain.Witness{
			Ref:        resolved,
			Text:       text.Text,
			AltText:    text.AltText,
			Provenance: domain.ProvenanceStructuredIndex,
		})
	}

	if answered == 0 && len(failures) > 0 {
		return nil, fmt.Errorf("fetch structured index references: %w", errors.Join(failures...))
	}
	return witnesses, nil
}

// mergeWitnesses keeps every semantic witness and appends legacy witnesses with new refs.
func mergeWitnesses(semantic, legacy []domain.Witness) []domain.Witness {
	out := make([]domain.Witness, 0, len(semantic)+len(legacy))
	seen := make(map[string]struct{}, len(semantic)+len(legacy))
	for _, w := range semantic {
		seen[w.Ref] = struct{}{}
		out = append(out, w)
	}
	for _, w := range legacy {
		if _, ok := seen[w.Ref]; ok {
			continue
		}
		seen[w.Ref] = struct{}{}
		out = append(out, w)
	}
	return out
}
