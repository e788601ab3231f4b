package pattern

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// ValidateOptions tunes validation strictness.
type ValidateOptions struct {
	// AllowMissingIdentity permits an absent pattern id and metadata
	// name. Used when decoding legacy XML documents whose id attribute
	// or name element is empty; those decode to absent values rather
	// than failing the whole document.
	AllowMissingIdentity bool
}

var datePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// placeholderContent lists formal-text values that mark template records
// which were never filled in. Historically such records made it into the
// corpus through bulk patch scripts; they are rejected here outright.
var placeholderContent = map[string]bool{
	"":            true,
	"tbd":         true,
	"todo":        true,
	"...":         true,
	"n/a":         true,
	"placeholder": true,
}

// Validate checks p against the full rule set and returns nil or a
// *ValidationError whose first issue names the offending field path.
// Warning-severity issues alone do not fail validation.
func Validate(p *Pattern) error {
	return ValidateWith(p, ValidateOptions{})
}

// ValidateWith is Validate with explicit options.
func ValidateWith(p *Pattern, opts ValidateOptions) error {
	issues := Check(p, opts)
	for _, issue := range issues {
		if issue.Severity != "warning" {
			return &ValidationError{Issues: issues}
		}
	}
	return nil
}

func (v *validator) run(p *Pattern) []Issue {
	v.checkIdentity(p)
	v.checkMetadata(&p.Metadata, p.ID)
	v.checkDefinition(&p.Definition)
	v.checkProperties(p.Properties)
	v.checkOperations(p.Operations)
	v.checkDependencies(p.Dependencies)
	v.checkManifestations(p.Manifestations)
	return v.issues
}

// Check runs every validation rule and returns all issues found,
// warnings included. An empty result means the pattern is fully clean.
func Check(p *Pattern, opts ValidateOptions) []Issue {
	v := &validator{opts: opts}
	return v.run(p)
}

// FromDocument builds a validated Pattern from an untyped JSON tree,
// the entry point for payloads arriving over the canonical JSON surface.
func FromDocument(doc map[string]any) (*Pattern, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal document: %w", err)
	}
	return FromJSON(raw)
}

// FromJSON parses canonical JSON and validates the result. A malformed
// payload yields a DecodeError; invalid content yields a ValidationError.
func FromJSON(data []byte) (*Pattern, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	var p Pattern
	if err := dec.Decode(&p); err != nil {
		return nil, &DecodeError{Format: "json", Reason: "malformed canonical payload", Err: err}
	}
	if err := Validate(&p); err != nil {
		return nil, err
	}
	return &p, nil
}

type validator struct {
	opts   ValidateOptions
	issues []Issue
}

func (v *validator) add(code, message, path string) {
	v.issues = append(v.issues, Issue{Code: code, Message: message, Path: path, Severity: "error"})
}

func (v *validator) warn(code, message, path string) {
	v.issues = append(v.issues, Issue{Code: code, Message: message, Path: path, Severity: "warning"})
}

func (v *validator) checkIdentity(p *Pattern) {
	if p.ID == "" {
		if !v.opts.AllowMissingIdentity {
			v.add(CodeRequiredFieldMissing, "Required field 'id' is missing", "id")
		}
	} else if !ValidID(p.ID) {
		v.add(CodeIDPatternViolation,
			fmt.Sprintf("Pattern id %q must match [CPF][0-9]+(.[0-9]+)?", p.ID), "id")
	}
	if p.Version == "" {
		v.add(CodeRequiredFieldMissing, "Required field 'version' is missing", "version")
	}
}

func (v *validator) checkMetadata(m *Metadata, id string) {
	if m.Name == "" && !v.opts.AllowMissingIdentity {
		v.add(CodeRequiredFieldMissing, "Required field 'metadata.name' is missing", "metadata.name")
	}
	if m.Category == "" {
		v.add(CodeRequiredFieldMissing, "Required field 'metadata.category' is missing", "metadata.category")
	} else if !m.Category.Valid() {
		v.add(CodeEnumViolation,
			fmt.Sprintf("Category must be one of concept, pattern, flow; got %q", m.Category), "metadata.category")
	}
	if m.Status == "" {
		v.add(CodeRequiredFieldMissing, "Required field 'metadata.status' is missing", "metadata.status")
	} else if !m.Status.Valid() {
		v.add(CodeEnumViolation,
			fmt.Sprintf("Status must be one of stable, draft, experimental, deprecated; got %q", m.Status), "metadata.status")
	}
	if m.Complexity != "" && !m.Complexity.Valid() {
		v.add(CodeEnumViolation,
			fmt.Sprintf("Complexity must be one of low, medium, high; got %q", m.Complexity), "metadata.complexity")
	}
	if m.LastUpdated != "" && !datePattern.MatchString(m.LastUpdated) {
		v.add(CodeMalformedDate, "last_updated must be an ISO date (YYYY-MM-DD)", "metadata.last_updated")
	}

	// A documented corpus inconsistency: some records carry a category
	// that contradicts their id prefix. The stored value is preserved
	// verbatim and only flagged, never repaired.
	if id != "" && m.Category.Valid() {
		if implied, ok := CategoryForID(id); ok && implied != m.Category {
			v.warn(CodeCategoryMismatch,
				fmt.Sprintf("Id prefix implies category %q but record declares %q", implied, m.Category), "metadata.category")
		}
	}
}

func (v *validator) checkFormatted(t FormattedText, path string) {
	if t.Format == "" {
		v.add(CodeMissingFormat, "Formal text must declare its format", path)
	}
	if placeholderContent[strings.ToLower(strings.TrimSpace(t.Content))] {
		v.add(CodePlaceholderContent, "Formal text is empty or template content", path)
	}
}

func (v *validator) checkDefinition(d *Definition) {
	v.checkFormatted(d.TupleNotation, "definition.tuple_notation")
	for i, c := range d.Components {
		base := fmt.Sprintf("definition.components[%d]", i)
		if c.Name == "" {
			v.add(CodeRequiredFieldMissing, "Component name is required", base+".name")
		}
		if c.Type == "" {
			v.add(CodeRequiredFieldMissing, "Component type is required", base+".type")
		}
	}
	for i, td := range d.TypeDefinitions {
		base := fmt.Sprintf("definition.type_definitions[%d]", i)
		if td.Name == "" {
			v.add(CodeRequiredFieldMissing, "Type definition name is required", base+".name")
		}
		v.checkFormatted(td.Definition, base+".definition")
	}
}

func (v *validator) checkProperties(props []Property) {
	seen := make(map[string]int, len(props))
	for i, p := range props {
		base := fmt.Sprintf("properties[%d]", i)
		if p.ID == "" {
			v.add(CodeRequiredFieldMissing, "Property id is required", base+".id")
		} else if prev, dup := seen[p.ID]; dup {
			v.add(CodeDuplicatePropertyID,
				fmt.Sprintf("Property id %q duplicates properties[%d]", p.ID, prev), base+".id")
		} else {
			seen[p.ID] = i
		}
		if p.Name == "" {
			v.add(CodeRequiredFieldMissing, "Property name is required", base+".name")
		}
		v.checkFormatted(p.FormalSpec, base+".formal_spec")
		for j, inv := range p.Invariants {
			v.checkFormatted(inv, fmt.Sprintf("%s.invariants[%d]", base, j))
		}
	}
}

func (v *validator) checkOperations(ops []Operation) {
	for i, op := range ops {
		base := fmt.Sprintf("operations[%d]", i)
		if op.Name == "" {
			v.add(CodeRequiredFieldMissing, "Operation name is required", base+".name")
		}
		if op.Signature == "" {
			v.add(CodeRequiredFieldMissing, "Operation signature is required", base+".signature")
		}
		v.checkFormatted(op.FormalDefinition, base+".formal_definition")
		for j, cond := range op.Preconditions {
			v.checkFormatted(cond, fmt.Sprintf("%s.preconditions[%d]", base, j))
		}
		for j, cond := range op.Postconditions {
			v.checkFormatted(cond, fmt.Sprintf("%s.postconditions[%d]", base, j))
		}
		for j, fx := range op.Effects {
			if strings.TrimSpace(fx) == "" {
				v.add(CodePlaceholderContent, "Effect must not be empty", fmt.Sprintf("%s.effects[%d]", base, j))
			}
		}
	}
}

func (v *validator) checkDependencies(d *Dependencies) {
	if d == nil {
		return
	}
	check := func(refs []string, name string) {
		for i, ref := range refs {
			if !ValidID(ref) {
				v.add(CodeIDPatternViolation,
					fmt.Sprintf("Reference %q must match [CPF][0-9]+(.[0-9]+)?", ref),
					fmt.Sprintf("dependencies.%s[%d]", name, i))
			}
		}
	}
	check(d.Requires, "requires")
	check(d.Uses, "uses")
	check(d.Specializes, "specializes")
	check(d.SpecializedBy, "specialized_by")
}

func (v *validator) checkManifestations(ms []Manifestation) {
	for i, m := range ms {
		if m.Name == "" {
			v.add(CodeRequiredFieldMissing, "Manifestation name is required",
				fmt.Sprintf("manifestations[%d].name", i))
		}
	}
}
