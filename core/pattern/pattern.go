// Package pattern defines the canonical in-memory representation of a
// corpus pattern and the validator that guards it. Every codec in this
// module encodes from and decodes to the types in this package; none of
// them mutate a Pattern in place.
package pattern

import (
	"encoding/json"
	"regexp"
)

// Category classifies a pattern record.
type Category string

const (
	CategoryConcept Category = "concept"
	CategoryPattern Category = "pattern"
	CategoryFlow    Category = "flow"
)

// Valid reports whether c is a member of the category enumeration.
func (c Category) Valid() bool {
	switch c {
	case CategoryConcept, CategoryPattern, CategoryFlow:
		return true
	}
	return false
}

// Status is the lifecycle state of a pattern record.
type Status string

const (
	StatusStable       Status = "stable"
	StatusDraft        Status = "draft"
	StatusExperimental Status = "experimental"
	StatusDeprecated   Status = "deprecated"
)

// Valid reports whether s is a member of the status enumeration.
func (s Status) Valid() bool {
	switch s {
	case StatusStable, StatusDraft, StatusExperimental, StatusDeprecated:
		return true
	}
	return false
}

// Complexity is an optional coarse difficulty rating.
type Complexity string

const (
	ComplexityLow    Complexity = "low"
	ComplexityMedium Complexity = "medium"
	ComplexityHigh   Complexity = "high"
)

// Valid reports whether c is a member of the complexity enumeration.
func (c Complexity) Valid() bool {
	switch c {
	case ComplexityLow, ComplexityMedium, ComplexityHigh:
		return true
	}
	return false
}

// DefaultFormat is the format tag assumed for formal notation when the
// source payload does not carry an explicit one.
const DefaultFormat = "latex"

// FormattedText is a formal notation payload together with the format it
// is written in. The content is opaque to this module; the format tag is
// part of the wire contract and must survive every round trip.
type FormattedText struct {
	Content string `json:"content"`
	Format  string `json:"format"`
}

// Text builds a FormattedText in the default format.
func Text(content string) FormattedText {
	return FormattedText{Content: content, Format: DefaultFormat}
}

// IsDefault reports whether the payload uses the corpus default format.
func (t FormattedText) IsDefault() bool {
	return t.Format == DefaultFormat
}

// Metadata carries the descriptive fields of a pattern.
type Metadata struct {
	Name        string     `json:"name"`
	Category    Category   `json:"category"`
	Status      Status     `json:"status"`
	Complexity  Complexity `json:"complexity,omitempty"`
	Domains     []string   `json:"domains,omitempty"`
	LastUpdated string     `json:"last_updated,omitempty"`
}

// Component is a named element of a pattern's formal tuple.
type Component struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Notation    string `json:"notation,omitempty"`
	Description string `json:"description"`
}

// TypeDef introduces a custom type used by a pattern's formal text.
type TypeDef struct {
	Name        string        `json:"name"`
	Definition  FormattedText `json:"definition"`
	Description string        `json:"description,omitempty"`
}

// Definition is the formal definition block of a pattern.
type Definition struct {
	TupleNotation   FormattedText `json:"tuple_notation"`
	Components      []Component   `json:"components,omitempty"`
	TypeDefinitions []TypeDef     `json:"type_definitions,omitempty"`
	Description     string        `json:"description,omitempty"`
}

// Property is a formally specified property of a pattern. IDs must be
// unique within the owning pattern.
type Property struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	FormalSpec  FormattedText   `json:"formal_spec"`
	Description string          `json:"description,omitempty"`
	Invariants  []FormattedText `json:"invariants,omitempty"`
}

// Operation describes a behavior a pattern supports.
type Operation struct {
	Name             string          `json:"name"`
	Signature        string          `json:"signature"`
	FormalDefinition FormattedText   `json:"formal_definition"`
	Preconditions    []FormattedText `json:"preconditions,omitempty"`
	Postconditions   []FormattedText `json:"postconditions,omitempty"`
	Effects          []string        `json:"effects,omitempty"`
	Complexity       string          `json:"complexity,omitempty"`
}

// Dependencies relates a pattern to others by identifier. The four
// relations are sets; order carries no meaning.
type Dependencies struct {
	Requires      []string `json:"requires,omitempty"`
	Uses          []string `json:"uses,omitempty"`
	Specializes   []string `json:"specializes,omitempty"`
	SpecializedBy []string `json:"specialized_by,omitempty"`
}

// Empty reports whether no relation holds any reference.
func (d Dependencies) Empty() bool {
	return len(d.Requires) == 0 && len(d.Uses) == 0 &&
		len(d.Specializes) == 0 && len(d.SpecializedBy) == 0
}

// Manifestation names a real-world occurrence of a pattern.
type Manifestation struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Pattern is the root catalog entity. Components, type definitions,
// properties, operations and manifestations are ordered lists and keep
// their insertion order through every encode/decode cycle.
type Pattern struct {
	ID             string          `json:"id"`
	Version        string          `json:"version"`
	Metadata       Metadata        `json:"metadata"`
	Definition     Definition      `json:"definition"`
	Properties     []Property      `json:"properties,omitempty"`
	Operations     []Operation     `json:"operations,omitempty"`
	Dependencies   *Dependencies   `json:"dependencies,omitempty"`
	Manifestations []Manifestation `json:"manifestations,omitempty"`
}

// idPattern is the lexical form of pattern identifiers: a category
// prefix (C/P/F) followed by a numeric or dotted suffix, e.g. C1, P35,
// F1.1.
var idPattern = regexp.MustCompile(`^[CPF][0-9]+(\.[0-9]+)?$`)

// ValidID reports whether id matches the identifier lexical pattern.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}

// CategoryForID returns the category implied by an identifier's prefix,
// or false when the prefix is not a known one.
func CategoryForID(id string) (Category, bool) {
	if id == "" {
		return "", false
	}
	switch id[0] {
	case 'C':
		return CategoryConcept, true
	case 'F':
		return CategoryFlow, true
	case 'P':
		return CategoryPattern, true
	}
	return "", false
}

// MarshalCanonical renders the pattern as canonical JSON, the encoding
// stored by the repository and served on the full JSON surface.
func (p *Pattern) MarshalCanonical() ([]byte, error) {
	return json.Marshal(p)
}

// UnmarshalCanonical parses canonical JSON produced by MarshalCanonical.
// It does not validate; callers decode then validate.
func UnmarshalCanonical(data []byte) (*Pattern, error) {
	var p Pattern
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return &p, nil
}
