package domain

// StructureKind describes how a work's text is laid out in the catalog.
type StructureKind string

const (
	StructureFlat   StructureKind = "flat"
	StructureParts  StructureKind = "parts"
	StructureSingle StructureKind = "single"
)

func (k StructureKind) Valid() bool {
	switch k {
	case StructureFlat, StructureParts, StructureSingle:
		return true
	default:
		return false
	}
}

type Chapter struct {
	Title  string   `yaml:"title" json:"title"`
	Ref    string   `yaml:"ref" json:"ref"`
	Topics []string `yaml:"topics" json:"topics,omitempty"`
}

type Part struct {
	Title    string    `yaml:"title" json:"title"`
	Chapters []Chapter `yaml:"chapters" json:"chapters"`
}

// Work is one entry of the hand-authored structured index.
// Flat works carry Chapters, multi-part works carry Parts, single works carry Ref.
type Work struct {
	ID          string        `yaml:"id" json:"id"`
	Title       string        `yaml:"title" json:"title"`
	AltTitles   []string      `yaml:"alt_titles" json:"alt_titles,omitempty"`
	Description string        `yaml:"description" json:"description,omitempty"`
	Keywords    []string      `yaml:"keywords" json:"keywords,omitempty"`
	Structure   StructureKind `yaml:"structure" json:"structure"`
	Ref         string        `yaml:"ref" json:"ref,omitempty"`
	Chapters    []Chapter     `yaml:"chapters" json:"chapters,omitempty"`
	Parts       []Part        `yaml:"parts" json:"parts,omitempty"`
}

// AllChapters returns the chapters of a flat work, or every part's chapters in order.
func (w Work) AllChapters() []Chapter {
	switch w.Structure {
	case StructureFlat:
		return w.Chapters
	case StructureParts:
		out := make([]Chapter, 0, len(w.Parts)*4)
		for _, part := range w.Parts {
			out = append(out, part.Chapters...)
		}
		return out
	default:
		return nil
	}
}

// Location is a fetchable reference together with its position inside the work.
type Location struct {
	Ref     string
	Part    int
	Chapter int
}

// Locations lists every reference of the work in reading order with 1-based positions.
func (w Work) Locations() []Location {
	switch w.Structure {
	case StructureFlat:
		out := make([]Location, 0, len(w.Chapters))
		for i, ch := range w.Chapters {
			out = append(out, Location{Ref: ch.Ref, Chapter: i + 1})
		}
		return out
	case StructureParts:
		out := make([]Location, 0, len(w.Parts)*4)
		for p, part := range w.Parts {
			for c, ch := range part.Chapters {
				out = append(out, Location{Ref: ch.Ref, Part: p + 1, Chapter: c + 1})
			}
		}
		return out
	case StructureSingle:
		if w.Ref == "" {
			return nil
		}
		return []Location{{Ref: w.Ref}}
	default:
		return nil
	}
}

// Catalog is the immutable structured index for one author.
type Catalog struct {
	Author       string   `yaml:"author" json:"author"`
	DefaultWorks []string `yaml:"default_works" json:"default_works"`
	Works        []Work   `yaml:"works" json:"works"`
}

func (c Catalog) WorkByID(id string) (Work, bool) {
	for _, w := range c.Works {
		if w.ID == id {
			return w, true
		}
	}
	return Work{}, false
}

// Defaults resolves the flagship works used when a question matches nothing.
func (c Catalog) Defaults() []Work {
	out := make([]Work, 0, len(c.DefaultWorks))
	for _, id := range c.DefaultWorks {
		if w, ok := c.WorkByID(id); ok {
			out = append(out, w)
		}
	}
	return out
}

// ReferencePlan is the structured index's answer for one question.
type ReferencePlan struct {
	Works    []Work   `json:"-"`
	WorkIDs  []string `json:"work_ids"`
	Fallback bool     `json:"fallback"`
	Base     []string `json:"base"`
	Expanded []string `json:"expanded"`
}
