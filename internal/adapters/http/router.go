package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/kirillkom/witness-retrieval/internal/config"
	"github.com/kirillkom/witness-retrieval/internal/core/domain"
	"github.com/kirillkom/witness-retrieval/internal/core/ports"
	"github.com/kirillkom/witness-retrieval/internal/observability/logging"
)

// ChunkCounter reports stored chunks per work for the works listing.
type ChunkCounter interface {
	CountByWork(ctx context.Context) (map[string]int, error)
}

// MetricsRecorder exposes HTTP metrics collection and the scrape endpoint.
type MetricsRecorder interface {
	Handler() http.Handler
	Middleware(service string, next http.Handler) http.Handler
}

type Services struct {
	Resolver ports.WitnessResolver
	Searcher ports.Searcher
	Verifier ports.CitationVerifier
	Ingestor ports.WorkIngestor
	Catalog  domain.Catalog
	Chunks   ChunkCounter
	Metrics  MetricsRecorder
}

type Router struct {
	cfg      config.Config
	services Services
}

func NewRouter(cfg config.Config, services Services) *Router {
	return &Router{cfg: cfg, services: services}
}

func (rt *Router) Handler() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("POST /v1/witnesses", rt.resolveWitnesses)
	api.HandleFunc("POST /v1/search", rt.search)
	api.HandleFunc("POST /v1/verify", rt.verify)
	api.HandleFunc("GET /v1/works", rt.listWorks)
	api.HandleFunc("GET /v1/works/{id}", rt.getWork)
	api.HandleFunc("POST /v1/works/{id}/ingest", rt.ingestWork)

	var v1 http.Handler = api
	v1 = bodyLimitMiddleware(v1, rt.cfg.APIMaxRequestBytes)
	v1 = backpressureMiddleware(v1, rt.cfg.APIMaxInFlight, rt.cfg.APIBackpressureWait)
	v1 = rateLimitMiddleware(v1, rt.cfg.APIRateLimitRPS, rt.cfg.APIRateLimitBurst)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	if rt.services.Metrics != nil {
		mux.Handle("GET /metrics", rt.services.Metrics.Handler())
	}
	mux.Handle("/v1/", v1)

	var root http.Handler = mux
	if rt.services.Metrics != nil {
		root = rt.services.Metrics.Middleware("api", root)
	}
	return requestIDMiddleware(accessLogMiddleware(root))
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) resolveWitnesses(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Question string `json:"question"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeJSON(w, http.StatusBadRequest, errorBody(r, "question is required"))
		return
	}

	res, err := rt.services.Resolver.Resolve(r.Context(), req.Question)
	if err != nil {
		writeError(w, r, "resolve witnesses", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type searchRequest struct {
	Query         string   `json:"query"`
	Limit         int      `json:"limit"`
	MinSimilarity *float64 `json:"min_similarity"`
	WorkIDs       []string `json:"work_ids"`
	Language      string   `json:"language"`
	Mode          string   `json:"mode"`
}

func (rt *Router) search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	opts, err := rt.searchOptions(req)
	if err != nil {
		writeError(w, r, "search", err)
		return
	}

	res, err := rt.services.Searcher.Search(r.Context(), req.Query, opts)
	if err != nil {
		writeError(w, r, "search", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (rt *Router) searchOptions(req searchRequest) (domain.SearchOptions, error) {
	if strings.TrimSpace(req.Query) == "" {
		return domain.SearchOptions{}, domain.WrapError(domain.ErrInvalidInput, "search", errors.New("query is required"))
	}
	if req.Limit < 0 || req.Limit > 100 {
		return domain.SearchOptions{}, domain.WrapError(domain.ErrInvalidInput, "search", fmt.Errorf("limit %d out of range 1..100", req.Limit))
	}

	opts := domain.SearchOptions{
		Limit:         req.Limit,
		MinSimilarity: rt.cfg.SearchMinSimilarity,
		WorkIDs:       req.WorkIDs,
		Language:      domain.Language(rt.cfg.SearchLanguage),
		Mode:          domain.SearchModeHybrid,
	}
	if opts.Limit == 0 {
		opts.Limit = rt.cfg.SearchLimit
	}
	if req.MinSimilarity != nil {
		if *req.MinSimilarity < 0 || *req.MinSimilarity > 1 {
			return domain.SearchOptions{}, domain.WrapError(domain.ErrInvalidInput, "search", errors.New("min_similarity must be within 0..1"))
		}
		opts.MinSimilarity = *req.MinSimilarity
	}
	if req.Language != "" {
		opts.Language = domain.Language(req.Language)
		if !opts.Language.Valid() {
			return domain.SearchOptions{}, domain.WrapError(domain.ErrInvalidInput, "search", fmt.Errorf("unsupported language %q", req.Language))
		}
	}
	switch domain.SearchMode(req.Mode) {
	case "":
		if !rt.cfg.SearchHybridEnabled {
			opts.Mode = domain.SearchModeVector
		}
	case domain.SearchModeHybrid, domain.SearchModeVector:
		opts.Mode = domain.SearchMode(req.Mode)
	default:
		return domain.SearchOptions{}, domain.WrapError(domain.ErrInvalidInput, "search", fmt.Errorf("unsupported mode %q", req.Mode))
	}
	for _, id := range req.WorkIDs {
		if _, ok := rt.services.Catalog.WorkByID(id); !ok {
			return domain.SearchOptions{}, domain.WrapError(domain.ErrWorkNotFound, "search", fmt.Errorf("unknown work %q", id))
		}
	}
	return opts, nil
}

type verifyRequest struct {
	Answer    string           `json:"answer"`
	Witnesses []domain.Witness `json:"witnesses"`
	Refs      []string         `json:"refs"`
	Question  string           `json:"question"`
}

type verifyResponse struct {
	domain.VerificationResult
	Witnesses []domain.Witness `json:"witnesses,omitempty"`
}

// verify checks an answer against explicit witnesses, bare refs, or the witnesses
// resolved for question, in that order of preference.
func (rt *Router) verify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Answer) == "" {
		writeJSON(w, http.StatusBadRequest, errorBody(r, "answer is required"))
		return
	}

	witnesses := req.Witnesses
	var resolved bool
	if len(witnesses) == 0 {
		for _, ref := range req.Refs {
			witnesses = append(witnesses, domain.Witness{Ref: ref})
		}
	}
	if len(witnesses) == 0 && strings.TrimSpace(req.Question) != "" {
		res, err := rt.services.Resolver.Resolve(r.Context(), req.Question)
		if err != nil {
			writeError(w, r, "verify", err)
			return
		}
		witnesses = res.Witnesses
		resolved = true
	}

	out := verifyResponse{VerificationResult: rt.services.Verifier.Verify(req.Answer, witnesses)}
	if resolved {
		out.Witnesses = witnesses
	}
	writeJSON(w, http.StatusOK, out)
}

type workSummary struct {
	ID          string               `json:"id"`
	Title       string               `json:"title"`
	AltTitles   []string             `json:"alt_titles,omitempty"`
	Description string               `json:"description,omitempty"`
	Structure   domain.StructureKind `json:"structure"`
	References  int                  `json:"references"`
	Chunks      *int                 `json:"chunks,omitempty"`
	Default     bool                 `json:"default"`
}

func (rt *Router) listWorks(w http.ResponseWriter, r *http.Request) {
	var counts map[string]int
	if rt.services.Chunks != nil {
		c, err := rt.services.Chunks.CountByWork(r.Context())
		if err != nil {
			slog.Warn("chunk_count_failed", "request_id", requestIDFromContext(r.Context()), "error", err)
		} else {
			counts = c
		}
	}

	defaults := make(map[string]bool, len(rt.services.Catalog.DefaultWorks))
	for _, id := range rt.services.Catalog.DefaultWorks {
		defaults[id] = true
	}

	out := make([]workSummary, 0, len(rt.services.Catalog.Works))
	for _, work := range rt.services.Catalog.Works {
		summary := workSummary{
			ID:          work.ID,
			Title:       work.Title,
			AltTitles:   work.AltTitles,
			Description: work.Description,
			Structure:   work.Structure,
			References:  len(work.Locations()),
			Default:     defaults[work.ID],
		}
		if counts != nil {
			n := counts[work.ID]
			summary.Chunks = &n
		}
		out = append(out, summary)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"author": rt.services.Catalog.Author,
		"works":  out,
	})
}

func (rt *Router) getWork(w http.ResponseWriter, r *http.Request) {
	work, ok := rt.services.Catalog.WorkByID(r.PathValue("id"))
	if !ok {
		writeError(w, r, "get work", domain.WrapError(domain.ErrWorkNotFound, "get work", fmt.Errorf("unknown work %q", r.PathValue("id"))))
		return
	}
	refs := make([]string, 0, len(work.Locations()))
	for _, loc := range work.Locations() {
		refs = append(refs, loc.Ref)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"work":       work,
		"references": refs,
	})
}

func (rt *Router) ingestWork(w http.ResponseWriter, r *http.Request) {
	workID := r.PathValue("id")
	if err := rt.services.Ingestor.Enqueue(r.Context(), workID); err != nil {
		writeError(w, r, "ingest work", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"work_id": workID,
		"status":  "queued",
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorBody(r, "request body too large"))
			return false
		}
		writeJSON(w, http.StatusBadRequest, errorBody(r, "invalid json"))
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := mapErrorToHTTPStatus(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		slog.Error("request_failed", append([]any{"request_id", requestIDFromContext(r.Context()), "op", op}, logging.ErrorAttrs(err)...)...)
		message = "internal error"
	}
	writeJSON(w, status, errorBody(r, message))
}

func errorBody(r *http.Request, message string) map[string]string {
	body := map[string]string{"error": message}
	if id := requestIDFromContext(r.Context()); id != "" {
		body["request_id"] = id
	}
	return body
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
