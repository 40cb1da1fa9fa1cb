// Package catalog loads the hand-authored structured index of works.
package catalog

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kirillkom/witness-retrieval/internal/core/domain"
)

//go:embed catalog.yaml
var builtin []byte

// Unmatched questions fall back to the default works, so there must be a few of them.
const (
	minDefaultWorks = 2
	maxDefaultWorks = 3
)

// Load reads and validates the catalog at path. An empty path loads the built-in catalog.
func Load(path string) (domain.Catalog, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return Parse(builtin)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return domain.Catalog{}, fmt.Errorf("read catalog %s: %w", path, err)
	}
	cat, err := Parse(raw)
	if err != nil {
		return domain.Catalog{}, fmt.Errorf("catalog %s: %w", path, err)
	}
	return cat, nil
}

// Parse decodes a YAML catalog, rejecting unknown fields, and validates it.
func Parse(raw []byte) (domain.Catalog, error) {
	var cat domain.Catalog
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cat); err != nil {
		return domain.Catalog{}, domain.WrapError(domain.ErrInvalidInput, "decode catalog", err)
	}
	if err := Validate(cat); err != nil {
		return domain.Catalog{}, err
	}
	return cat, nil
}

// Validate checks structural consistency: unique ids and refs, content matching the
// declared structure, and two or three defaults that name existing works.
func Validate(cat domain.Catalog) error {
	var problems []error
	if len(cat.Works) == 0 {
		problems = append(problems, errors.New("catalog has no works"))
	}

	ids := make(map[string]struct{}, len(cat.Works))
	refs := make(map[string]string)
	for i, work := range cat.Works {
		label := fmt.Sprintf("works[%d]", i)
		if strings.TrimSpace(work.ID) == "" {
			problems = append(problems, fmt.Errorf("%s: id is required", label))
		} else {
			label = work.ID
			if _, dup := ids[work.ID]; dup {
				problems = append(problems, fmt.Errorf("%s: duplicate work id", label))
			}
			ids[work.ID] = struct{}{}
		}
		if strings.TrimSpace(work.Title) == "" {
			problems = append(problems, fmt.Errorf("%s: title is required", label))
		}
		problems = append(problems, validateStructure(label, work)...)

		for _, loc := range work.Locations() {
			if strings.TrimSpace(loc.Ref) == "" {
				problems = append(problems, fmt.Errorf("%s: empty reference", label))
				continue
			}
			if owner, dup := refs[loc.Ref]; dup {
				problems = append(problems, fmt.Errorf("%s: reference %q already used by %s", label, loc.Ref, owner))
				continue
			}
			refs[loc.Ref] = label
		}
	}

	if n := len(cat.DefaultWorks); n < minDefaultWorks || n > maxDefaultWorks {
		problems = append(problems, fmt.Errorf("catalog needs %d to %d default works, has %d", minDefaultWorks, maxDefaultWorks, n))
	}
	for _, id := range cat.DefaultWorks {
		if _, ok := ids[id]; !ok {
			problems = append(problems, fmt.Errorf("default work %q is not in the catalog", id))
		}
	}

	if len(problems) > 0 {
		return domain.WrapError(domain.ErrInvalidInput, "validate catalog", errors.Join(problems...))
	}
	return nil
}

func validateStructure(label string, work domain.Work) []error {
	var problems []error
	switch work.Structure {
	case domain.StructureFlat:
		if len(work.Chapters) == 0 {
			problems = append(problems, fmt.Errorf("%s: flat work needs chapters", label))
		}
		if len(work.Parts) > 0 || work.Ref != "" {
			problems = append(problems, fmt.Errorf("%s: flat work may only carry chapters", label))
		}
	case domain.StructureParts:
		if len(work.Parts) == 0 {
			problems = append(problems, fmt.Errorf("%s: multi-part work needs parts", label))
		}
		for i, part := range work.Parts {
			if len(part.Chapters) == 0 {
				problems = append(problems, fmt.Errorf("%s: part %d has no chapters", label, i+1))
			}
		}
		if len(work.Chapters) > 0 || work.Ref != "" {
			problems = append(problems, fmt.Errorf("%s: multi-part work may only carry parts", label))
		}
	case domain.StructureSingle:
		if strings.TrimSpace(work.Ref) == "" {
			problems = append(problems, fmt.Errorf("%s: single work needs ref", label))
		}
		if len(work.Chapters) > 0 || len(work.Parts) > 0 {
			problems = append(problems, fmt.Errorf("%s: single work may only carry ref", label))
		}
	default:
		problems = append(problems, fmt.Errorf("%s: unknown structure %q", label, work.Structure))
	}
	return problems
}
