// Package textfetch resolves canonical references against the public texts API.
package textfetch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"

	"github.com/kirillkom/witness-retrieval/internal/core/domain"
	"github.com/kirillkom/witness-retrieval/internal/infrastructure/resilience"
)

const (
	defaultCacheSize = 512
	defaultCacheTTL  = time.Hour
	defaultRate      = 2.0
)

type Options struct {
	RatePerSecond      float64
	CacheSize          int
	CacheTTL           time.Duration
	Timeout            time.Duration
	ResilienceExecutor *resilience.Executor
}

// Client fetches passages sequentially through a shared rate limiter and memoizes
// successful answers in a time-boxed LRU.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	cache      *expirable.LRU[string, domain.FetchedText]
	executor   *resilience.Executor
}

func New(baseURL string, options Options) *Client {
	perSecond := options.RatePerSecond
	if perSecond <= 0 {
		perSecond = defaultRate
	}
	size := options.CacheSize
	if size <= 0 {
		size = defaultCacheSize
	}
	ttl := options.CacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	timeout := options.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(perSecond), 1),
		cache:      expirable.NewLRU[string, domain.FetchedText](size, nil, ttl),
		executor:   options.ResilienceExecutor,
	}
}

type textsResponse struct {
	Ref               string             `json:"ref"`
	Versions          *[]textVersion     `json:"versions"`
	AvailableVersions []availableVersion `json:"available_versions"`
	Error             string             `json:"error"`
}

type textVersion struct {
	Language     string          `json:"language"`
	VersionTitle string          `json:"versionTitle"`
	Text         json.RawMessage `json:"text"`
}

type availableVersion struct {
	Language     string `json:"language"`
	VersionTitle string `json:"versionTitle"`
}

func (c *Client) FetchText(ctx context.Context, ref string, opts domain.FetchOptions) (*domain.FetchedText, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "fetch text", errors.New("reference is required"))
	}
	if !opts.Language.Valid() {
		opts.Language = domain.LanguageEnglish
	}

	key := ref + "|" + string(opts.Language) + "|" + opts.Version
	if cached, ok := c.cache.Get(key); ok {
		return cloneFetched(cached), nil
	}

	payload, err := resilience.Call(ctx, c.executor, "texts.fetch", func(ctx context.Context) ([]byte, error) {
		return c.get(ctx, ref, opts)
	}, resilience.ClassifyHTTPError)
	if err != nil {
		return nil, c.classify(ref, err)
	}

	fetched, err := decodeTexts(ref, payload, opts.Language)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, *fetched)
	slog.Debug("texts_fetched", "ref", ref, "resolved_ref", fetched.Ref, "segments", len(fetched.Segments))
	return cloneFetched(*fetched), nil
}

func (c *Client) get(ctx context.Context, ref string, opts domain.FetchOptions) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	primary := languageName(opts.Language)
	if opts.Version != "" {
		primary += "|" + opts.Version
	}
	query := url.Values{}
	query.Add("version", primary)
	query.Add("version", languageName(opts.Language.Alternate()))
	endpoint := c.baseURL + "/api/v3/texts/" + url.PathEscape(ref) + "?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create texts request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("texts request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, resilience.NewHTTPStatusError("texts", "fetch", resp)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, fmt.Errorf("read texts response: %w", err)
	}
	return buf.Bytes(), nil
}

func (c *Client) classify(ref string, err error) error {
	var statusErr *resilience.HTTPStatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
		return domain.WrapError(domain.ErrReferenceNotFound, "fetch "+ref, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return resilience.WrapTemporary("fetch "+ref, err, resilience.ClassifyHTTPError)
}

func decodeTexts(ref string, payload []byte, lang domain.Language) (*domain.FetchedText, error) {
	var resp textsResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, domain.WrapError(domain.ErrMalformedResponse, "decode "+ref, err)
	}
	if resp.Error != "" {
		return nil, domain.WrapError(domain.ErrReferenceNotFound, "fetch "+ref, errors.New(resp.Error))
	}
	if resp.Versions == nil {
		return nil, domain.WrapError(domain.ErrMalformedResponse, "decode "+ref, errors.New("response has no versions field"))
	}

	out := &domain.FetchedText{Ref: resp.Ref}
	if out.Ref == "" {
		out.Ref = ref
	}
	alt := lang.Alternate()
	var primaryFound, altFound bool
	for _, v := range *resp.Versions {
		switch {
		case !primaryFound && v.Language == string(lang):
			segments, err := flattenText(v.Text)
			if err != nil {
				return nil, domain.WrapError(domain.ErrMalformedResponse, "decode "+ref, err)
			}
			out.Segments = segments
			primaryFound = true
		case !altFound && v.Language == string(alt):
			segments, err := flattenText(v.Text)
			if err != nil {
				return nil, domain.WrapError(domain.ErrMalformedResponse, "decode "+ref, err)
			}
			out.AltSegments = segments
			altFound = true
		}
	}
	out.Text = strings.Join(out.Segments, "\n")
	out.AltText = strings.Join(out.AltSegments, "\n")

	for _, v := range resp.AvailableVersions {
		if v.VersionTitle != "" {
			out.AvailableVersions = append(out.AvailableVersions, v.VersionTitle)
		}
	}
	return out, nil
}

// flattenText accepts a string or arbitrarily nested string arrays and returns the
// non-empty cleaned segments in document order.
func flattenText(raw json.RawMessage) ([]string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		if cleaned := stripMarkup(s); cleaned != "" {
			return []string{cleaned}, nil
		}
		return nil, nil
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, err
		}
		var out []string
		for _, item := range items {
			segments, err := flattenText(item)
			if err != nil {
				return nil, err
			}
			out = append(out, segments...)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unexpected text value %.20q", string(raw))
	}
}

func languageName(lang domain.Language) string {
	if lang == domain.LanguageHebrew {
		return "hebrew"
	}
	return "english"
}

func cloneFetched(in domain.FetchedText) *domain.FetchedText {
	out := in
	out.Segments = append([]string(nil), in.Segments...)
	out.AltSegments = append([]string(nil), in.AltSegments...)
	out.AvailableVersions = append([]string(nil), in.AvailableVersions...)
	return &out
}
