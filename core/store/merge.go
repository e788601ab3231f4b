package store

import (
	"encoding/json"
	"fmt"

	"github.com/universal-corpus/patterns/core/pattern"
)

// replaceMarker, when present and true inside an update object, makes
// that object replace the stored value outright instead of merging.
const replaceMarker = "__replace__"

// listMergeKeys maps canonical list fields to the member field that
// identifies an element. Elements of these lists merge by identity;
// every other list is replaced wholesale.
var listMergeKeys = map[string]string{
	"components":       "name",
	"properties":       "id",
	"operations":       "name",
	"type_definitions": "name",
	"manifestations":   "name",
}

// ApplyPatch merges a partial update into a pattern and validates the
// result. The input pattern is not modified.
func ApplyPatch(base *pattern.Pattern, update map[string]any) (*pattern.Pattern, error) {
	doc, err := patternToDocument(base)
	if err != nil {
		return nil, fmt.Errorf("flatten pattern %s: %w", base.ID, err)
	}
	merged := DeepMerge(doc, update)
	return pattern.FromDocument(merged)
}

// patternToDocument round-trips a pattern through its canonical JSON
// form to get a plain document the merge can walk.
func patternToDocument(p *pattern.Pattern) (map[string]any, error) {
	raw, err := p.MarshalCanonical()
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// DeepMerge recursively merges update into base and returns a new
// document. Nested objects merge key by key. Lists named in
// listMergeKeys merge element-wise by identity, with one exception:
// when no update element matches an existing one the whole list is
// replaced, which is how a caller reorders or rewrites a section.
// All other lists and scalars are replaced.
func DeepMerge(base, update map[string]any) map[string]any {
	result := make(map[string]any, len(base)+len(update))
	for k, v := range base {
		result[k] = v
	}

	for key, value := range update {
		if key == replaceMarker {
			continue
		}
		if obj, ok := value.(map[string]any); ok {
			if marker, _ := obj[replaceMarker].(bool); marker {
				clean := make(map[string]any, len(obj))
				for k, v := range obj {
					if k != replaceMarker {
						clean[k] = v
					}
				}
				result[key] = clean
				continue
			}
			if baseObj, ok := result[key].(map[string]any); ok {
				result[key] = DeepMerge(baseObj, obj)
				continue
			}
		}
		if list, ok := value.([]any); ok {
			if baseList, ok := result[key].([]any); ok {
				result[key] = mergeLists(key, baseList, list)
				continue
			}
		}
		result[key] = value
	}
	return result
}

func mergeLists(field string, base, update []any) []any {
	idKey, ok := listMergeKeys[field]
	if !ok {
		return update
	}

	byID := make(map[string]map[string]any, len(base))
	var anonymous []any
	for _, item := range base {
		obj, ok := item.(map[string]any)
		if !ok {
			anonymous = append(anonymous, item)
			continue
		}
		id, ok := obj[idKey].(string)
		if !ok {
			anonymous = append(anonymous, item)
			continue
		}
		byID[id] = obj
	}

	overlap := false
	for _, item := range update {
		if obj, ok := item.(map[string]any); ok {
			if id, ok := obj[idKey].(string); ok {
				if _, exists := byID[id]; exists {
					overlap = true
					break
				}
			}
		}
	}
	if !overlap && len(byID) > 0 {
		return update
	}

	var out []any
	touched := make(map[string]bool, len(update))
	for _, item := range update {
		obj, ok := item.(map[string]any)
		if !ok {
			out = append(out, item)
			continue
		}
		id, ok := obj[idKey].(string)
		if !ok {
			out = append(out, item)
			continue
		}
		touched[id] = true
		if existing, exists := byID[id]; exists {
			out = append(out, any(DeepMerge(existing, obj)))
		} else {
			out = append(out, item)
		}
	}
	// Preserve original order for untouched base elements.
	for _, item := range base {
		if obj, ok := item.(map[string]any); ok {
			if id, ok := obj[idKey].(string); ok {
				if !touched[id] {
					out = append(out, item)
				}
				continue
			}
		}
	}
	out = append(out, anonymous...)
	return out
}
