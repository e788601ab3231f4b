// Package tabular implements the two CSV table shapes of the catalog.
// The compact shape is round-trippable: every list field is rendered
// both as a pipe-joined human-readable summary column and as a detail
// column holding the list's compact JSON encoding. Decode reconstructs
// patterns exclusively from the detail columns; summaries are write-only
// derived data. The simple shape replaces details with counts and is
// encode-only.
package tabular

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/universal-corpus/patterns/core/compact"
	"github.com/universal-corpus/patterns/core/pattern"
)

// compactColumns is the compact-shape header. It is part of the wire
// contract: the set, names, and order must match on both directions.
var compactColumns = []string{
	"id",
	"version",
	"name",
	"category",
	"status",
	"complexity",
	"domains",
	"last_updated",
	"tuple_notation",
	"definition_desc",
	"components",
	"properties",
	"operations",
	"type_definitions",
	"manifestations",
	"requires",
	"uses",
	"specializes",
	"specialized_by",
	"components_detail",
	"properties_detail",
	"operations_detail",
	"type_definitions_detail",
	"manifestations_detail",
}

// simpleColumns is the header of the one-way summary shape.
var simpleColumns = []string{
	"id",
	"version",
	"name",
	"category",
	"status",
	"complexity",
	"domains",
	"last_updated",
	"tuple_notation",
	"definition_desc",
	"num_components",
	"num_properties",
	"num_operations",
	"num_type_definitions",
	"num_manifestations",
	"component_names",
	"property_names",
	"operation_names",
	"requires",
	"uses",
	"specializes",
	"specialized_by",
	"manifestation_names",
}

// quoteElement escapes one summary element before pipe-joining. Values
// holding the pipe delimiter, a comma, or a double quote get standard
// CSV quoting so the joined cell stays unambiguous. Detail columns
// never pass through here: their JSON escaping already covers these
// characters, and mixing the two schemes is how corruption starts.
func quoteElement(s string) string {
	if strings.ContainsAny(s, "|,\"") {
		return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
	}
	return s
}

func joinSummary(elems []string) string {
	quoted := make([]string, len(elems))
	for i, e := range elems {
		quoted[i] = quoteElement(e)
	}
	return strings.Join(quoted, "|")
}

// notationCell renders tuple notation for a scalar column. Default
// format payloads are written bare; a non-default format is carried as
// the compact JSON object form so the override survives the round trip.
func notationCell(t pattern.FormattedText) (string, error) {
	if t.IsDefault() {
		return t.Content, nil
	}
	raw, err := json.Marshal(map[string]any{"content": t.Content, "fmt": t.Format})
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func detailCell(doc compact.Doc, key string) (string, error) {
	v, ok := doc[key]
	if !ok {
		return "", nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// compactRow flattens one pattern into the compact-shape column values.
// Both summary and detail cells derive from the same compact document,
// never from each other.
func compactRow(p *pattern.Pattern) ([]string, error) {
	doc := compact.Compact(p)

	notation, err := notationCell(p.Definition.TupleNotation)
	if err != nil {
		return nil, err
	}

	compSummary := make([]string, len(p.Definition.Components))
	for i, c := range p.Definition.Components {
		compSummary[i] = c.Name + ":" + c.Type
	}
	propSummary := make([]string, len(p.Properties))
	for i, pr := range p.Properties {
		propSummary[i] = pr.ID + ":" + pr.Name
	}
	opSummary := make([]string, len(p.Operations))
	for i, op := range p.Operations {
		opSummary[i] = op.Name
	}
	typeSummary := make([]string, len(p.Definition.TypeDefinitions))
	for i, td := range p.Definition.TypeDefinitions {
		typeSummary[i] = td.Name
	}
	manifSummary := make([]string, len(p.Manifestations))
	for i, m := range p.Manifestations {
		manifSummary[i] = m.Name
	}

	deps := pattern.Dependencies{}
	if p.Dependencies != nil {
		deps = *p.Dependencies
	}

	details := make(map[string]string, 5)
	for col, key := range map[string]string{
		"components_detail":       "comps",
		"properties_detail":       "props",
		"operations_detail":       "ops",
		"type_definitions_detail": "types",
		"manifestations_detail":   "manif",
	} {
		cell, err := detailCell(doc, key)
		if err != nil {
			return nil, fmt.Errorf("encode %s for %s: %w", col, p.ID, err)
		}
		details[col] = cell
	}

	return []string{
		p.ID,
		p.Version,
		p.Metadata.Name,
		string(p.Metadata.Category),
		string(p.Metadata.Status),
		string(p.Metadata.Complexity),
		joinSummary(p.Metadata.Domains),
		p.Metadata.LastUpdated,
		notation,
		p.Definition.Description,
		joinSummary(compSummary),
		joinSummary(propSummary),
		joinSummary(opSummary),
		joinSummary(typeSummary),
		joinSummary(manifSummary),
		strings.Join(deps.Requires, "|"),
		strings.Join(deps.Uses, "|"),
		strings.Join(deps.Specializes, "|"),
		strings.Join(deps.SpecializedBy, "|"),
		details["components_detail"],
		details["properties_detail"],
		details["operations_detail"],
		details["type_definitions_detail"],
		details["manifestations_detail"],
	}, nil
}

// simpleRow flattens one pattern into the summary-plus-counts column
// values of the simple shape.
func simpleRow(p *pattern.Pattern) ([]string, error) {
	notation, err := notationCell(p.Definition.TupleNotation)
	if err != nil {
		return nil, err
	}
	compNames := make([]string, len(p.Definition.Components))
	for i, c := range p.Definition.Components {
		compNames[i] = c.Name
	}
	propNames := make([]string, len(p.Properties))
	for i, pr := range p.Properties {
		propNames[i] = pr.Name
	}
	opNames := make([]string, len(p.Operations))
	for i, op := range p.Operations {
		opNames[i] = op.Name
	}
	manifNames := make([]string, len(p.Manifestations))
	for i, m := range p.Manifestations {
		manifNames[i] = m.Name
	}
	deps := pattern.Dependencies{}
	if p.Dependencies != nil {
		deps = *p.Dependencies
	}
	return []string{
		p.ID,
		p.Version,
		p.Metadata.Name,
		string(p.Metadata.Category),
		string(p.Metadata.Status),
		string(p.Metadata.Complexity),
		joinSummary(p.Metadata.Domains),
		p.Metadata.LastUpdated,
		notation,
		p.Definition.Description,
		strconv.Itoa(len(p.Definition.Components)),
		strconv.Itoa(len(p.Properties)),
		strconv.Itoa(len(p.Operations)),
		strconv.Itoa(len(p.Definition.TypeDefinitions)),
		strconv.Itoa(len(p.Manifestations)),
		joinSummary(compNames),
		joinSummary(propNames),
		joinSummary(opNames),
		strings.Join(deps.Requires, "|"),
		strings.Join(deps.Uses, "|"),
		strings.Join(deps.Specializes, "|"),
		strings.Join(deps.SpecializedBy, "|"),
		joinSummary(manifNames),
	}, nil
}

// Writer writes patterns one row at a time, for callers that stream
// rows as they are produced instead of materializing a batch. The
// header goes out when the Writer is constructed.
type Writer struct {
	cw     *csv.Writer
	simple bool
}

// NewWriter starts a compact-shape CSV stream on w.
func NewWriter(w io.Writer) (*Writer, error) {
	cw := csv.NewWriter(w)
	if err := cw.Write(compactColumns); err != nil {
		return nil, err
	}
	return &Writer{cw: cw}, nil
}

// NewSimpleWriter starts a simple-shape CSV stream on w. The simple
// shape is documented as lossy and cannot be decoded.
func NewSimpleWriter(w io.Writer) (*Writer, error) {
	cw := csv.NewWriter(w)
	if err := cw.Write(simpleColumns); err != nil {
		return nil, err
	}
	return &Writer{cw: cw, simple: true}, nil
}

// Write appends one pattern row.
func (sw *Writer) Write(p *pattern.Pattern) error {
	var row []string
	var err error
	if sw.simple {
		row, err = simpleRow(p)
	} else {
		row, err = compactRow(p)
	}
	if err != nil {
		return err
	}
	if err := sw.cw.Write(row); err != nil {
		return fmt.Errorf("write row for %s: %w", p.ID, err)
	}
	return nil
}

// Flush drains buffered rows and reports any deferred write error.
func (sw *Writer) Flush() error {
	sw.cw.Flush()
	return sw.cw.Error()
}

// WriteCSV writes patterns to w in the round-trippable compact shape.
func WriteCSV(w io.Writer, ps []*pattern.Pattern) error {
	sw, err := NewWriter(w)
	if err != nil {
		return err
	}
	for _, p := range ps {
		if err := sw.Write(p); err != nil {
			return err
		}
	}
	return sw.Flush()
}

// WriteCSVSimple writes patterns to w in the summary-plus-counts shape.
func WriteCSVSimple(w io.Writer, ps []*pattern.Pattern) error {
	sw, err := NewSimpleWriter(w)
	if err != nil {
		return err
	}
	for _, p := range ps {
		if err := sw.Write(p); err != nil {
			return err
		}
	}
	return sw.Flush()
}

// ReadCSV decodes a compact-shape CSV payload back into patterns,
// reconstructing each record from its scalar and detail columns only.
// A single malformed row aborts the whole batch with its row number.
// Feeding it the simple shape returns ErrNonInvertibleFormat.
func ReadCSV(r io.Reader) ([]*pattern.Pattern, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		return nil, &pattern.DecodeError{Format: "csv", Where: "row 1", Reason: "missing header", Err: err}
	}

	index := make(map[string]int, len(header))
	for i, col := range header {
		index[strings.TrimSpace(col)] = i
	}
	if _, simple := index["num_components"]; simple {
		return nil, fmt.Errorf("simple csv shape: %w", pattern.ErrNonInvertibleFormat)
	}
	for _, col := range compactColumns {
		if _, ok := index[col]; !ok {
			return nil, &pattern.DecodeError{Format: "csv", Where: "row 1",
				Reason: fmt.Sprintf("missing column %q", col)}
		}
	}

	var out []*pattern.Pattern
	rowNum := 1
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		rowNum++
		if err != nil {
			return nil, &pattern.DecodeError{Format: "csv",
				Where: fmt.Sprintf("row %d", rowNum), Reason: "malformed row", Err: err}
		}
		p, err := decodeRow(record, index, rowNum)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func decodeRow(record []string, index map[string]int, rowNum int) (*pattern.Pattern, error) {
	where := fmt.Sprintf("row %d", rowNum)
	cell := func(col string) string { return record[index[col]] }

	doc := compact.Doc{
		"id":     cell("id"),
		"v":      cell("version"),
		"name":   cell("name"),
		"cat":    cell("category"),
		"status": cell("status"),
	}
	if v := cell("complexity"); v != "" {
		doc["cx"] = v
	}
	if v := cell("domains"); v != "" {
		doc["domains"] = splitSummary(v)
	}
	if v := cell("last_updated"); v != "" {
		doc["updated"] = v
	}
	doc["def"] = parseNotationCell(cell("tuple_notation"))
	if v := cell("definition_desc"); v != "" {
		doc["desc"] = v
	}

	for col, key := range map[string]string{
		"components_detail":       "comps",
		"properties_detail":       "props",
		"operations_detail":       "ops",
		"type_definitions_detail": "types",
		"manifestations_detail":   "manif",
	} {
		raw := cell(col)
		if raw == "" {
			continue
		}
		var items []any
		if err := json.Unmarshal([]byte(raw), &items); err != nil {
			return nil, &pattern.DecodeError{Format: "csv",
				Where: fmt.Sprintf("%s, column %s", where, col), Reason: "malformed detail JSON", Err: err}
		}
		doc[key] = items
	}

	deps := map[string]any{}
	for col, key := range map[string]string{
		"requires":       "req",
		"uses":           "use",
		"specializes":    "spec",
		"specialized_by": "by",
	} {
		if v := cell(col); v != "" {
			deps[key] = splitRefs(v)
		}
	}
	if len(deps) > 0 {
		doc["deps"] = deps
	}

	p, err := compact.Expand(doc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", where, err)
	}
	return p, nil
}

// parseNotationCell is the inverse of notationCell: a cell that parses
// as exactly the two-key override object notationCell writes keeps its
// explicit format, anything else is a bare default-format string. The
// exact-shape check keeps literal JSON content in a default-format
// notation from being mistaken for an override.
func parseNotationCell(cellValue string) any {
	trimmed := strings.TrimSpace(cellValue)
	if strings.HasPrefix(trimmed, "{") {
		var obj map[string]any
		if err := json.Unmarshal([]byte(trimmed), &obj); err == nil && len(obj) == 2 {
			_, hasContent := obj["content"].(string)
			_, hasFormat := obj["fmt"].(string)
			if hasContent && hasFormat {
				return obj
			}
		}
	}
	return cellValue
}

// splitRefs splits a pipe-joined identifier list. Identifiers cannot
// contain the delimiter (enforced by their lexical pattern), so an
// unquoted split is safe here.
func splitRefs(s string) []any {
	parts := strings.Split(s, "|")
	out := make([]any, len(parts))
	for i, p := range parts {
		out[i] = strings.TrimSpace(p)
	}
	return out
}

// splitSummary is the inverse of joinSummary: it splits on unquoted
// pipes and strips the element quoting applied on encode. Used for the
// domains column, whose values are free text.
func splitSummary(s string) []any {
	var out []any
	var cur strings.Builder
	inQuotes := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case inQuotes:
			if c == '"' {
				if i+1 < len(s) && s[i+1] == '"' {
					cur.WriteByte('"')
					i++
				} else {
					inQuotes = false
				}
			} else {
				cur.WriteByte(c)
			}
		case c == '"' && cur.Len() == 0:
			inQuotes = true
		case c == '|':
			out = append(out, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	out = append(out, cur.String())
	return out
}
