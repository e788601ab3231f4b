// Package xmlcodec renders patterns as namespaced XML documents and
// parses them back. Element order follows the published schema, and
// the encoder never emits an empty optional element. The decoder is
// tolerant on identity: archived documents sometimes carry a blank id
// attribute or name element, so identity checks are relaxed and the
// rest of the document is still validated.
package xmlcodec

import (
	"fmt"
	"strings"

	"github.com/beevik/etree"

	"github.com/universal-corpus/patterns/core/pattern"
)

// Namespace is the schema namespace carried on every document root.
const Namespace = "http://universal-corpus.org/schema/v1"

// Marshal renders one pattern as an indented XML document.
func Marshal(p *pattern.Pattern) ([]byte, error) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	root := doc.CreateElement("pattern")
	root.CreateAttr("xmlns", Namespace)
	if p.ID != "" {
		root.CreateAttr("id", p.ID)
	}
	root.CreateAttr("version", p.Version)

	meta := root.CreateElement("metadata")
	if p.Metadata.Name != "" {
		meta.CreateElement("name").SetText(p.Metadata.Name)
	}
	meta.CreateElement("category").SetText(string(p.Metadata.Category))
	meta.CreateElement("status").SetText(string(p.Metadata.Status))
	if p.Metadata.Complexity != "" {
		meta.CreateElement("complexity").SetText(string(p.Metadata.Complexity))
	}
	if len(p.Metadata.Domains) > 0 {
		domains := meta.CreateElement("domains")
		for _, d := range p.Metadata.Domains {
			domains.CreateElement("domain").SetText(d)
		}
	}
	if p.Metadata.LastUpdated != "" {
		meta.CreateElement("last-updated").SetText(p.Metadata.LastUpdated)
	}

	def := root.CreateElement("definition")
	writeFormatted(def, "tuple-notation", p.Definition.TupleNotation)
	comps := def.CreateElement("components")
	for _, c := range p.Definition.Components {
		ce := comps.CreateElement("component")
		ce.CreateElement("name").SetText(c.Name)
		ce.CreateElement("type").SetText(c.Type)
		if c.Notation != "" {
			ce.CreateElement("notation").SetText(c.Notation)
		}
		ce.CreateElement("description").SetText(c.Description)
	}
	if p.Definition.Description != "" {
		def.CreateElement("description").SetText(p.Definition.Description)
	}

	if len(p.Definition.TypeDefinitions) > 0 {
		tds := root.CreateElement("type-definitions")
		for _, td := range p.Definition.TypeDefinitions {
			te := tds.CreateElement("type-def")
			te.CreateElement("name").SetText(td.Name)
			writeFormatted(te, "definition", td.Definition)
			if td.Description != "" {
				te.CreateElement("description").SetText(td.Description)
			}
		}
	}

	props := root.CreateElement("properties")
	for _, pr := range p.Properties {
		pe := props.CreateElement("property")
		pe.CreateAttr("id", pr.ID)
		pe.CreateElement("name").SetText(pr.Name)
		writeFormatted(pe, "formal-spec", pr.FormalSpec)
		if pr.Description != "" {
			pe.CreateElement("description").SetText(pr.Description)
		}
		if len(pr.Invariants) > 0 {
			invs := pe.CreateElement("invariants")
			for _, inv := range pr.Invariants {
				writeFormatted(invs, "invariant", inv)
			}
		}
	}

	ops := root.CreateElement("operations")
	for _, op := range p.Operations {
		oe := ops.CreateElement("operation")
		oe.CreateElement("name").SetText(op.Name)
		oe.CreateElement("signature").SetText(op.Signature)
		writeFormatted(oe, "formal-definition", op.FormalDefinition)
		if len(op.Preconditions) > 0 {
			pre := oe.CreateElement("preconditions")
			for _, c := range op.Preconditions {
				writeFormatted(pre, "condition", c)
			}
		}
		if len(op.Postconditions) > 0 {
			post := oe.CreateElement("postconditions")
			for _, c := range op.Postconditions {
				writeFormatted(post, "condition", c)
			}
		}
		if len(op.Effects) > 0 {
			effs := oe.CreateElement("effects")
			for _, e := range op.Effects {
				effs.CreateElement("effect").SetText(e)
			}
		}
		if op.Complexity != "" {
			oe.CreateElement("complexity").SetText(op.Complexity)
		}
	}

	if p.Dependencies != nil && !p.Dependencies.Empty() {
		deps := root.CreateElement("dependencies")
		writeRefs(deps, "requires", p.Dependencies.Requires)
		writeRefs(deps, "uses", p.Dependencies.Uses)
		writeRefs(deps, "specializes", p.Dependencies.Specializes)
		writeRefs(deps, "specialized-by", p.Dependencies.SpecializedBy)
	}

	if len(p.Manifestations) > 0 {
		manifs := root.CreateElement("manifestations")
		for _, m := range p.Manifestations {
			me := manifs.CreateElement("manifestation")
			me.CreateElement("name").SetText(m.Name)
			if m.Description != "" {
				me.CreateElement("description").SetText(m.Description)
			}
		}
	}

	doc.Indent(2)
	return doc.WriteToBytes()
}

func writeFormatted(parent *etree.Element, tag string, t pattern.FormattedText) {
	e := parent.CreateElement(tag)
	e.SetText(t.Content)
	format := t.Format
	if format == "" {
		format = pattern.DefaultFormat
	}
	e.CreateAttr("format", format)
}

func writeRefs(parent *etree.Element, tag string, refs []string) {
	if len(refs) == 0 {
		return
	}
	group := parent.CreateElement(tag)
	for _, ref := range refs {
		group.CreateElement("pattern-ref").SetText(ref)
	}
}

// Unmarshal parses a pattern document. Structural problems surface as
// DecodeError values carrying the offending element path; content
// problems come back as ValidationError after the tree is extracted.
func Unmarshal(data []byte) (*pattern.Pattern, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, &pattern.DecodeError{Format: "xml", Where: "document", Reason: "malformed XML", Err: err}
	}
	root := doc.Root()
	if root == nil {
		return nil, &pattern.DecodeError{Format: "xml", Where: "document", Reason: "empty document"}
	}
	if root.Tag != "pattern" {
		return nil, &pattern.DecodeError{Format: "xml", Where: root.Tag,
			Reason: fmt.Sprintf("unexpected root element %q", root.Tag)}
	}
	if ns := root.NamespaceURI(); ns != Namespace {
		return nil, &pattern.DecodeError{Format: "xml", Where: "pattern",
			Reason: fmt.Sprintf("document namespace %q is not %s", ns, Namespace)}
	}

	d := decoder{}
	p := &pattern.Pattern{
		ID:      strings.TrimSpace(root.SelectAttrValue("id", "")),
		Version: strings.TrimSpace(root.SelectAttrValue("version", "")),
	}

	if meta := d.child(root, "pattern", "metadata"); meta != nil {
		p.Metadata = pattern.Metadata{
			Name:        d.text(meta, "name"),
			Category:    pattern.Category(d.text(meta, "category")),
			Status:      pattern.Status(d.text(meta, "status")),
			Complexity:  pattern.Complexity(d.text(meta, "complexity")),
			LastUpdated: d.text(meta, "last-updated"),
		}
		if domains := childElement(meta, "domains"); domains != nil {
			for _, de := range children(domains, "domain") {
				p.Metadata.Domains = append(p.Metadata.Domains, trimmed(de))
			}
		}
	}

	if def := d.child(root, "pattern", "definition"); def != nil {
		p.Definition.TupleNotation = d.formatted(def, "pattern/definition", "tuple-notation")
		p.Definition.Description = d.text(def, "description")
		if comps := childElement(def, "components"); comps != nil {
			for i, ce := range children(comps, "component") {
				path := fmt.Sprintf("pattern/definition/components/component[%d]", i+1)
				p.Definition.Components = append(p.Definition.Components, pattern.Component{
					Name:        d.requiredText(ce, path, "name"),
					Type:        d.requiredText(ce, path, "type"),
					Notation:    d.text(ce, "notation"),
					Description: d.text(ce, "description"),
				})
			}
		}
	}

	if tds := childElement(root, "type-definitions"); tds != nil {
		for i, te := range children(tds, "type-def") {
			path := fmt.Sprintf("pattern/type-definitions/type-def[%d]", i+1)
			p.Definition.TypeDefinitions = append(p.Definition.TypeDefinitions, pattern.TypeDef{
				Name:        d.requiredText(te, path, "name"),
				Definition:  d.formatted(te, path, "definition"),
				Description: d.text(te, "description"),
			})
		}
	}

	if props := childElement(root, "properties"); props != nil {
		for i, pe := range children(props, "property") {
			path := fmt.Sprintf("pattern/properties/property[%d]", i+1)
			prop := pattern.Property{
				ID:          strings.TrimSpace(pe.SelectAttrValue("id", "")),
				Name:        d.text(pe, "name"),
				FormalSpec:  d.formatted(pe, path, "formal-spec"),
				Description: d.text(pe, "description"),
			}
			if invs := childElement(pe, "invariants"); invs != nil {
				for _, ie := range children(invs, "invariant") {
					prop.Invariants = append(prop.Invariants, readFormatted(ie))
				}
			}
			p.Properties = append(p.Properties, prop)
		}
	}

	if ops := childElement(root, "operations"); ops != nil {
		for i, oe := range children(ops, "operation") {
			path := fmt.Sprintf("pattern/operations/operation[%d]", i+1)
			op := pattern.Operation{
				Name:             d.requiredText(oe, path, "name"),
				Signature:        d.requiredText(oe, path, "signature"),
				FormalDefinition: d.formatted(oe, path, "formal-definition"),
				Complexity:       d.text(oe, "complexity"),
			}
			if pre := childElement(oe, "preconditions"); pre != nil {
				for _, ce := range children(pre, "condition") {
					op.Preconditions = append(op.Preconditions, readFormatted(ce))
				}
			}
			if post := childElement(oe, "postconditions"); post != nil {
				for _, ce := range children(post, "condition") {
					op.Postconditions = append(op.Postconditions, readFormatted(ce))
				}
			}
			if effs := childElement(oe, "effects"); effs != nil {
				for _, ee := range children(effs, "effect") {
					op.Effects = append(op.Effects, trimmed(ee))
				}
			}
			p.Operations = append(p.Operations, op)
		}
	}

	if deps := childElement(root, "dependencies"); deps != nil {
		dep := &pattern.Dependencies{
			Requires:      readRefs(deps, "requires"),
			Uses:          readRefs(deps, "uses"),
			Specializes:   readRefs(deps, "specializes"),
			SpecializedBy: readRefs(deps, "specialized-by"),
		}
		if !dep.Empty() {
			p.Dependencies = dep
		}
	}

	if manifs := childElement(root, "manifestations"); manifs != nil {
		for i, me := range children(manifs, "manifestation") {
			path := fmt.Sprintf("pattern/manifestations/manifestation[%d]", i+1)
			p.Manifestations = append(p.Manifestations, pattern.Manifestation{
				Name:        d.requiredText(me, path, "name"),
				Description: d.text(me, "description"),
			})
		}
	}

	if d.err != nil {
		return nil, d.err
	}
	if err := pattern.ValidateWith(p, pattern.ValidateOptions{AllowMissingIdentity: true}); err != nil {
		return nil, err
	}
	return p, nil
}

// decoder accumulates the first structural error while extraction keeps
// walking, so helpers can stay expression-shaped.
type decoder struct {
	err error
}

func (d *decoder) fail(path, reason string) {
	if d.err == nil {
		d.err = &pattern.DecodeError{Format: "xml", Where: path, Reason: reason}
	}
}

func (d *decoder) child(parent *etree.Element, path, tag string) *etree.Element {
	e := childElement(parent, tag)
	if e == nil {
		d.fail(path, fmt.Sprintf("missing %s element", tag))
	}
	return e
}

func (d *decoder) text(parent *etree.Element, tag string) string {
	if e := childElement(parent, tag); e != nil {
		return trimmed(e)
	}
	return ""
}

func (d *decoder) requiredText(parent *etree.Element, path, tag string) string {
	e := childElement(parent, tag)
	if e == nil {
		d.fail(path, fmt.Sprintf("missing %s element", tag))
		return ""
	}
	return trimmed(e)
}

func (d *decoder) formatted(parent *etree.Element, path, tag string) pattern.FormattedText {
	e := childElement(parent, tag)
	if e == nil {
		d.fail(path, fmt.Sprintf("missing %s element", tag))
		return pattern.FormattedText{}
	}
	return readFormatted(e)
}

func readFormatted(e *etree.Element) pattern.FormattedText {
	format := e.SelectAttrValue("format", "")
	if format == "" {
		format = pattern.DefaultFormat
	}
	return pattern.FormattedText{Content: trimmed(e), Format: format}
}

func readRefs(parent *etree.Element, tag string) []string {
	group := childElement(parent, tag)
	if group == nil {
		return nil
	}
	var refs []string
	for _, re := range children(group, "pattern-ref") {
		refs = append(refs, trimmed(re))
	}
	return refs
}

// childElement matches on the local tag name so documents using a
// namespace prefix and documents using the default namespace both parse.
func childElement(parent *etree.Element, tag string) *etree.Element {
	for _, c := range parent.ChildElements() {
		if c.Tag == tag {
			return c
		}
	}
	return nil
}

func children(parent *etree.Element, tag string) []*etree.Element {
	var out []*etree.Element
	for _, c := range parent.ChildElements() {
		if c.Tag == tag {
			out = append(out, c)
		}
	}
	return out
}

func trimmed(e *etree.Element) string {
	return strings.TrimSpace(e.Text())
}
