package domain

// Provenance names the retrieval path that produced a witness.
type Provenance string

const (
	ProvenanceVector          Provenance = "vector"
	ProvenanceFulltext        Provenance = "fulltext"
	ProvenanceHybrid          Provenance = "hybrid"
	ProvenanceStructuredIndex Provenance = "structured_index"
)

func ProvenanceForMatch(mt MatchType) Provenance {
	switch mt {
	case MatchHybrid:
		return ProvenanceHybrid
	case MatchFulltext:
		return ProvenanceFulltext
	default:
		return ProvenanceVector
	}
}

type Witness struct {
	Ref        string     `json:"ref"`
	Text       string     `json:"text"`
	AltText    string     `json:"alt_text,omitempty"`
	Score      float64    `json:"score"`
	Provenance Provenance `json:"provenance"`
}

// ResolutionSource tags which retrieval paths contributed to a witness list.
type ResolutionSource string

const (
	SourceSemantic ResolutionSource = "semantic"
	SourceLegacy   ResolutionSource = "legacy"
	SourceHybrid   ResolutionSource = "hybrid"
	SourceNone     ResolutionSource = "none"
)

type Resolution struct {
	Witnesses []Witness        `json:"witnesses"`
	Source    ResolutionSource `json:"source"`
	Analytics *SearchAnalytics `json:"analytics,omitempty"`
	Warnings  []string         `json:"warnings,omitempty"`
}

type FetchOptions struct {
	Language Language
	Version  string
}

// FetchedText is the reference fetcher's answer. Segments are the passage's paragraphs
// in the requested language, AltSegments the aligned alternate-language paragraphs.
type FetchedText struct {
	Ref               string   `json:"ref"`
	Text              string   `json:"text"`
	AltText           string   `json:"alt_text,omitempty"`
	Segments          []string `json:"segments,omitempty"`
	AltSegments       []string `json:"alt_segments,omitempty"`
	AvailableVersions []string `json:"available_versions,omitempty"`
}

type SentenceVerdict struct {
	Text    string `json:"text"`
	Sourced bool   `json:"sourced"`
}

type VerificationResult struct {
	VerifiedText       string            `json:"verified_text"`
	Sentences          []SentenceVerdict `json:"sentences"`
	UnsourcedSentences int               `json:"unsourced_sentences"`
	TotalSentences     int               `json:"total_sentences"`
}
