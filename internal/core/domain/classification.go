package domain

import (
	"encoding/json"
	"strings"
)

// CategoryKind selects exactly one of the three classification forms:
// a fixed high-level category, a free-form specific type name, or the
// reserved unclassified form with a short description.
type CategoryKind int

const (
	CategoryStandard CategoryKind = iota
	CategorySpecific
	CategoryUnclassified
)

func (k CategoryKind) String() string {
	switch k {
	case CategoryStandard:
		return "standard"
	case CategorySpecific:
		return "specific"
	case CategoryUnclassified:
		return "unclassified"
	default:
		return "unknown"
	}
}

// UnclassifiedPrefix marks the catch-all form in the wire representation.
const UnclassifiedPrefix = "OTHER_"

// StandardCategories is the closed high-priority category set.
var StandardCategories = []string{
	"Medical Report",
	"Injury Report",
	"Claim Form",
	"Deposition",
	"Expert Witness Report",
	"Settlement Agreement",
	"Court Order",
	"Insurance Correspondence",
	"Wage Statement",
	"Vocational Report",
	"IME Report",
	"Surveillance Report",
	"Subpoena",
	"Motion",
	"Brief",
	"Other",
}

var standardCategorySet = func() map[string]struct{} {
	set := make(map[string]struct{}, len(StandardCategories))
	for _, name := range StandardCategories {
		set[name] = struct{}{}
	}
	return set
}()

// Category is the tagged three-form classification result. The zero value is
// not valid; construct through one of the constructors below.
type Category struct {
	Kind        CategoryKind
	Name        string
	Description string
}

func StandardCategory(name string) (Category, bool) {
	if _, ok := standardCategorySet[name]; !ok {
		return Category{}, false
	}
	return Category{Kind: CategoryStandard, Name: name}, true
}

func SpecificCategory(name string) Category {
	return Category{Kind: CategorySpecific, Name: name}
}

func UnclassifiedCategory(description string) Category {
	return Category{Kind: CategoryUnclassified, Description: description}
}

// ParseCategory maps a wire document-type string into exactly one form.
func ParseCategory(raw string) Category {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, UnclassifiedPrefix) {
		return UnclassifiedCategory(strings.TrimPrefix(raw, UnclassifiedPrefix))
	}
	if cat, ok := StandardCategory(raw); ok {
		return cat
	}
	return SpecificCategory(raw)
}

// Label renders the category for filenames and log records. It is never
// empty for a Category built through a constructor.
func (c Category) Label() string {
	if c.Kind == CategoryUnclassified {
		return UnclassifiedPrefix + c.Description
	}
	return c.Name
}

// Identifier is one extracted key/value pair. Order of appearance in the
// classifier response is preserved so the naming engine can append leftover
// identifiers deterministically.
type Identifier struct {
	Key   string
	Value string
}

// Classification is the structured output of one classifier call.
type Classification struct {
	Category    Category
	Confidence  float64
	Identifiers []Identifier
	Raw         json.RawMessage
}

// Identifier returns the value for key and whether it was present.
func (c Classification) Identifier(key string) (string, bool) {
	for _, id := range c.Identifiers {
		if id.Key == key {
			return id.Value, true
		}
	}
	return "", false
}
