// Package compact implements the token-reduced JSON encoding of
// patterns. Field names are shortened through fixed alias tables, the
// default notation format is elided, and nested collections flatten to
// arrays of short-keyed objects. Compaction is lossless:
// Expand(Compact(p)) returns p for every valid pattern.
package compact

import (
	"fmt"

	"github.com/universal-corpus/patterns/core/pattern"
)

// Doc is a compact-form document, the unit of the compact JSON wire
// format (one Doc per JSON-Lines row).
type Doc map[string]any

// keymap maps canonical field names to their short aliases. Each scope
// has exactly one table; the expand direction is derived mechanically so
// the two directions cannot drift.
type keymap map[string]string

// inverted returns the short→long view of the table.
func (k keymap) inverted() map[string]string {
	inv := make(map[string]string, len(k))
	for long, short := range k {
		inv[short] = long
	}
	return inv
}

// Alias tables, one per entity scope. These are part of the wire
// contract and must not be renamed or extended without versioning the
// format.
var (
	patternKeys = keymap{
		"id":               "id",
		"version":          "v",
		"name":             "name",
		"category":         "cat",
		"status":           "status",
		"complexity":       "cx",
		"domains":          "domains",
		"last_updated":     "updated",
		"tuple_notation":   "def",
		"description":      "desc",
		"components":       "comps",
		"type_definitions": "types",
		"properties":       "props",
		"operations":       "ops",
		"dependencies":     "deps",
		"manifestations":   "manif",
	}
	componentKeys = keymap{
		"name":        "n",
		"type":        "t",
		"notation":    "nota",
		"description": "d",
	}
	typeDefKeys = keymap{
		"name":        "n",
		"definition":  "def",
		"description": "d",
	}
	propertyKeys = keymap{
		"id":          "id",
		"name":        "n",
		"formal_spec": "spec",
		"description": "d",
		"invariants":  "inv",
	}
	operationKeys = keymap{
		"name":              "n",
		"signature":         "sig",
		"formal_definition": "def",
		"preconditions":     "pre",
		"postconditions":    "post",
		"effects":           "fx",
		"complexity":        "cx",
	}
	dependencyKeys = keymap{
		"requires":       "req",
		"uses":           "use",
		"specializes":    "spec",
		"specialized_by": "by",
	}
	manifestationKeys = keymap{
		"name":        "n",
		"description": "d",
	}
)

var (
	patternShort       = patternKeys.inverted()
	componentShort     = componentKeys.inverted()
	typeDefShort       = typeDefKeys.inverted()
	propertyShort      = propertyKeys.inverted()
	operationShort     = operationKeys.inverted()
	dependencyShort    = dependencyKeys.inverted()
	manifestationShort = manifestationKeys.inverted()
)

// compactText elides the default format: default-format payloads become
// bare strings, any other format keeps an explicit override object.
func compactText(t pattern.FormattedText) any {
	if t.IsDefault() {
		return t.Content
	}
	return map[string]any{"content": t.Content, "fmt": t.Format}
}

func compactTexts(ts []pattern.FormattedText) []any {
	out := make([]any, len(ts))
	for i, t := range ts {
		out[i] = compactText(t)
	}
	return out
}

// Compact projects p into its compact form. The pattern is not mutated.
func Compact(p *pattern.Pattern) Doc {
	doc := Doc{
		"id":     p.ID,
		"v":      p.Version,
		"name":   p.Metadata.Name,
		"cat":    string(p.Metadata.Category),
		"status": string(p.Metadata.Status),
	}
	if p.Metadata.Complexity != "" {
		doc["cx"] = string(p.Metadata.Complexity)
	}
	if len(p.Metadata.Domains) > 0 {
		doc["domains"] = append([]string(nil), p.Metadata.Domains...)
	}
	if p.Metadata.LastUpdated != "" {
		doc["updated"] = p.Metadata.LastUpdated
	}

	doc["def"] = compactText(p.Definition.TupleNotation)
	if p.Definition.Description != "" {
		doc["desc"] = p.Definition.Description
	}

	comps := make([]any, len(p.Definition.Components))
	for i, c := range p.Definition.Components {
		m := map[string]any{"n": c.Name, "t": c.Type, "d": c.Description}
		if c.Notation != "" {
			m["nota"] = c.Notation
		}
		comps[i] = m
	}
	doc["comps"] = comps

	if len(p.Definition.TypeDefinitions) > 0 {
		types := make([]any, len(p.Definition.TypeDefinitions))
		for i, td := range p.Definition.TypeDefinitions {
			m := map[string]any{"n": td.Name, "def": compactText(td.Definition)}
			if td.Description != "" {
				m["d"] = td.Description
			}
			types[i] = m
		}
		doc["types"] = types
	}

	props := make([]any, len(p.Properties))
	for i, prop := range p.Properties {
		m := map[string]any{"id": prop.ID, "n": prop.Name, "spec": compactText(prop.FormalSpec)}
		if prop.Description != "" {
			m["d"] = prop.Description
		}
		if len(prop.Invariants) > 0 {
			m["inv"] = compactTexts(prop.Invariants)
		}
		props[i] = m
	}
	doc["props"] = props

	ops := make([]any, len(p.Operations))
	for i, op := range p.Operations {
		m := map[string]any{"n": op.Name, "sig": op.Signature, "def": compactText(op.FormalDefinition)}
		if len(op.Preconditions) > 0 {
			m["pre"] = compactTexts(op.Preconditions)
		}
		if len(op.Postconditions) > 0 {
			m["post"] = compactTexts(op.Postconditions)
		}
		if len(op.Effects) > 0 {
			m["fx"] = append([]string(nil), op.Effects...)
		}
		if op.Complexity != "" {
			m["cx"] = op.Complexity
		}
		ops[i] = m
	}
	doc["ops"] = ops

	if p.Dependencies != nil && !p.Dependencies.Empty() {
		deps := map[string]any{}
		if len(p.Dependencies.Requires) > 0 {
			deps["req"] = append([]string(nil), p.Dependencies.Requires...)
		}
		if len(p.Dependencies.Uses) > 0 {
			deps["use"] = append([]string(nil), p.Dependencies.Uses...)
		}
		if len(p.Dependencies.Specializes) > 0 {
			deps["spec"] = append([]string(nil), p.Dependencies.Specializes...)
		}
		if len(p.Dependencies.SpecializedBy) > 0 {
			deps["by"] = append([]string(nil), p.Dependencies.SpecializedBy...)
		}
		doc["deps"] = deps
	}

	if len(p.Manifestations) > 0 {
		manif := make([]any, len(p.Manifestations))
		for i, m := range p.Manifestations {
			mm := map[string]any{"n": m.Name}
			if m.Description != "" {
				mm["d"] = m.Description
			}
			manif[i] = mm
		}
		doc["manif"] = manif
	}

	return doc
}

// decodeErr builds the package's uniform structural error.
func decodeErr(where, reason string) error {
	return &pattern.DecodeError{Format: "compact", Where: where, Reason: reason}
}

// checkKeys rejects any key not present in the scope's alias table.
// Silently dropping an unrecognized key is exactly the defect this
// format exists to prevent, so it is a hard error.
func checkKeys(m map[string]any, known map[string]string, where string) error {
	for k := range m {
		if _, ok := known[k]; !ok {
			return decodeErr(where, fmt.Sprintf("unknown key %q", k))
		}
	}
	return nil
}

// Expand reconstructs a full Pattern from its compact form, reinstating
// elided defaults, and validates the result.
func Expand(doc Doc) (*pattern.Pattern, error) {
	if err := checkKeys(doc, patternShort, "$"); err != nil {
		return nil, err
	}

	p := &pattern.Pattern{}
	var err error
	if p.ID, err = optString(doc, "id", "id"); err != nil {
		return nil, err
	}
	if p.Version, err = optString(doc, "v", "v"); err != nil {
		return nil, err
	}
	if p.Metadata.Name, err = optString(doc, "name", "name"); err != nil {
		return nil, err
	}
	cat, err := optString(doc, "cat", "cat")
	if err != nil {
		return nil, err
	}
	p.Metadata.Category = pattern.Category(cat)
	status, err := optString(doc, "status", "status")
	if err != nil {
		return nil, err
	}
	p.Metadata.Status = pattern.Status(status)
	cx, err := optString(doc, "cx", "cx")
	if err != nil {
		return nil, err
	}
	p.Metadata.Complexity = pattern.Complexity(cx)
	if p.Metadata.Domains, err = optStrings(doc, "domains", "domains"); err != nil {
		return nil, err
	}
	if p.Metadata.LastUpdated, err = optString(doc, "updated", "updated"); err != nil {
		return nil, err
	}

	if raw, ok := doc["def"]; ok {
		if p.Definition.TupleNotation, err = expandText(raw, "def"); err != nil {
			return nil, err
		}
	}
	if p.Definition.Description, err = optString(doc, "desc", "desc"); err != nil {
		return nil, err
	}
	if p.Definition.Components, err = expandComponents(doc); err != nil {
		return nil, err
	}
	if p.Definition.TypeDefinitions, err = expandTypeDefs(doc); err != nil {
		return nil, err
	}
	if p.Properties, err = expandProperties(doc); err != nil {
		return nil, err
	}
	if p.Operations, err = expandOperations(doc); err != nil {
		return nil, err
	}
	if p.Dependencies, err = expandDependencies(doc); err != nil {
		return nil, err
	}
	if p.Manifestations, err = expandManifestations(doc); err != nil {
		return nil, err
	}

	if err := pattern.Validate(p); err != nil {
		return nil, err
	}
	return p, nil
}

// expandText reinstates the default format for bare strings and keeps
// explicit overrides intact.
func expandText(v any, where string) (pattern.FormattedText, error) {
	switch t := v.(type) {
	case string:
		return pattern.Text(t), nil
	case map[string]any:
		for k := range t {
			if k != "content" && k != "fmt" {
				return pattern.FormattedText{}, decodeErr(where, fmt.Sprintf("unknown key %q", k))
			}
		}
		content, ok := t["content"].(string)
		if !ok {
			return pattern.FormattedText{}, decodeErr(where, "formatted text needs a string 'content'")
		}
		format := pattern.DefaultFormat
		if f, ok := t["fmt"]; ok {
			fs, ok := f.(string)
			if !ok {
				return pattern.FormattedText{}, decodeErr(where, "'fmt' must be a string")
			}
			format = fs
		}
		return pattern.FormattedText{Content: content, Format: format}, nil
	default:
		return pattern.FormattedText{}, decodeErr(where, fmt.Sprintf("expected string or object, got %T", v))
	}
}

func expandTexts(doc map[string]any, key, where string) ([]pattern.FormattedText, error) {
	items, err := optList(doc, key, where)
	if err != nil || len(items) == 0 {
		return nil, err
	}
	out := make([]pattern.FormattedText, len(items))
	for i, item := range items {
		t, err := expandText(item, fmt.Sprintf("%s[%d]", where, i))
		if err != nil {
			return nil, err
		}
		out[i] = t
	}
	return out, nil
}

func expandComponents(doc Doc) ([]pattern.Component, error) {
	items, err := optList(doc, "comps", "comps")
	if err != nil || len(items) == 0 {
		return nil, err
	}
	out := make([]pattern.Component, len(items))
	for i, item := range items {
		where := fmt.Sprintf("comps[%d]", i)
		m, err := asObject(item, where)
		if err != nil {
			return nil, err
		}
		if err := checkKeys(m, componentShort, where); err != nil {
			return nil, err
		}
		c := pattern.Component{}
		if c.Name, err = optString(m, "n", where+".n"); err != nil {
			return nil, err
		}
		if c.Type, err = optString(m, "t", where+".t"); err != nil {
			return nil, err
		}
		if c.Notation, err = optString(m, "nota", where+".nota"); err != nil {
			return nil, err
		}
		if c.Description, err = optString(m, "d", where+".d"); err != nil {
			return nil, err
		}
		out[i] = c
	}
	return out, nil
}

func expandTypeDefs(doc Doc) ([]pattern.TypeDef, error) {
	items, err := optList(doc, "types", "types")
	if err != nil || len(items) == 0 {
		return nil, err
	}
	out := make([]pattern.TypeDef, len(items))
	for i, item := range items {
		where := fmt.Sprintf("types[%d]", i)
		m, err := asObject(item, where)
		if err != nil {
			return nil, err
		}
		if err := checkKeys(m, typeDefShort, where); err != nil {
			return nil, err
		}
		td := pattern.TypeDef{}
		if td.Name, err = optString(m, "n", where+".n"); err != nil {
			return nil, err
		}
		if raw, ok := m["def"]; ok {
			if td.Definition, err = expandText(raw, where+".def"); err != nil {
				return nil, err
			}
		}
		if td.Description, err = optString(m, "d", where+".d"); err != nil {
			return nil, err
		}
		out[i] = td
	}
	return out, nil
}

func expandProperties(doc Doc) ([]pattern.Property, error) {
	items, err := optList(doc, "props", "props")
	if err != nil || len(items) == 0 {
		return nil, err
	}
	out := make([]pattern.Property, len(items))
	for i, item := range items {
		where := fmt.Sprintf("props[%d]", i)
		m, err := asObject(item, where)
		if err != nil {
			return nil, err
		}
		if err := checkKeys(m, propertyShort, where); err != nil {
			return nil, err
		}
		p := pattern.Property{}
		if p.ID, err = optString(m, "id", where+".id"); err != nil {
			return nil, err
		}
		if p.Name, err = optString(m, "n", where+".n"); err != nil {
			return nil, err
		}
		if raw, ok := m["spec"]; ok {
			if p.FormalSpec, err = expandText(raw, where+".spec"); err != nil {
				return nil, err
			}
		}
		if p.Description, err = optString(m, "d", where+".d"); err != nil {
			return nil, err
		}
		if p.Invariants, err = expandTexts(m, "inv", where+".inv"); err != nil {
			return nil, err
		}
		out[i] = p
	}
	return out, nil
}

func expandOperations(doc Doc) ([]pattern.Operation, error) {
	items, err := optList(doc, "ops", "ops")
	if err != nil || len(items) == 0 {
		return nil, err
	}
	out := make([]pattern.Operation, len(items))
	for i, item := range items {
		where := fmt.Sprintf("ops[%d]", i)
		m, err := asObject(item, where)
		if err != nil {
			return nil, err
		}
		if err := checkKeys(m, operationShort, where); err != nil {
			return nil, err
		}
		op := pattern.Operation{}
		if op.Name, err = optString(m, "n", where+".n"); err != nil {
			return nil, err
		}
		if op.Signature, err = optString(m, "sig", where+".sig"); err != nil {
			return nil, err
		}
		if raw, ok := m["def"]; ok {
			if op.FormalDefinition, err = expandText(raw, where+".def"); err != nil {
				return nil, err
			}
		}
		if op.Preconditions, err = expandTexts(m, "pre", where+".pre"); err != nil {
			return nil, err
		}
		if op.Postconditions, err = expandTexts(m, "post", where+".post"); err != nil {
			return nil, err
		}
		if op.Effects, err = optStrings(m, "fx", where+".fx"); err != nil {
			return nil, err
		}
		if op.Complexity, err = optString(m, "cx", where+".cx"); err != nil {
			return nil, err
		}
		out[i] = op
	}
	return out, nil
}

func expandDependencies(doc Doc) (*pattern.Dependencies, error) {
	raw, ok := doc["deps"]
	if !ok {
		return nil, nil
	}
	m, err := asObject(raw, "deps")
	if err != nil {
		return nil, err
	}
	if err := checkKeys(m, dependencyShort, "deps"); err != nil {
		return nil, err
	}
	d := &pattern.Dependencies{}
	if d.Requires, err = optStrings(m, "req", "deps.req"); err != nil {
		return nil, err
	}
	if d.Uses, err = optStrings(m, "use", "deps.use"); err != nil {
		return nil, err
	}
	if d.Specializes, err = optStrings(m, "spec", "deps.spec"); err != nil {
		return nil, err
	}
	if d.SpecializedBy, err = optStrings(m, "by", "deps.by"); err != nil {
		return nil, err
	}
	if d.Empty() {
		return nil, nil
	}
	return d, nil
}

func expandManifestations(doc Doc) ([]pattern.Manifestation, error) {
	items, err := optList(doc, "manif", "manif")
	if err != nil || len(items) == 0 {
		return nil, err
	}
	out := make([]pattern.Manifestation, len(items))
	for i, item := range items {
		where := fmt.Sprintf("manif[%d]", i)
		m, err := asObject(item, where)
		if err != nil {
			return nil, err
		}
		if err := checkKeys(m, manifestationShort, where); err != nil {
			return nil, err
		}
		mf := pattern.Manifestation{}
		if mf.Name, err = optString(m, "n", where+".n"); err != nil {
			return nil, err
		}
		if mf.Description, err = optString(m, "d", where+".d"); err != nil {
			return nil, err
		}
		out[i] = mf
	}
	return out, nil
}

func asObject(v any, where string) (map[string]any, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, decodeErr(where, fmt.Sprintf("expected object, got %T", v))
	}
	return m, nil
}

func optString(m map[string]any, key, where string) (string, error) {
	v, ok := m[key]
	if !ok {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", decodeErr(where, fmt.Sprintf("expected string, got %T", v))
	}
	return s, nil
}

func optList(m map[string]any, key, where string) ([]any, error) {
	v, ok := m[key]
	if !ok {
		return nil, nil
	}
	switch items := v.(type) {
	case []any:
		return items, nil
	case []string:
		// Docs built by Compact hold typed string slices; docs decoded
		// from JSON hold []any. Both shapes are legitimate inputs.
		out := make([]any, len(items))
		for i, s := range items {
			out[i] = s
		}
		return out, nil
	}
	return nil, decodeErr(where, fmt.Sprintf("expected array, got %T", v))
}

func optStrings(m map[string]any, key, where string) ([]string, error) {
	items, err := optList(m, key, where)
	if err != nil || len(items) == 0 {
		return nil, err
	}
	out := make([]string, len(items))
	for i, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, decodeErr(fmt.Sprintf("%s[%d]", where, i), fmt.Sprintf("expected string, got %T", item))
		}
		out[i] = s
	}
	return out, nil
}
