package xmlcodec

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/universal-corpus/patterns/core/pattern"
)

func fullPattern() *pattern.Pattern {
	return &pattern.Pattern{
		ID:      "P7",
		Version: "1.2.0",
		Metadata: pattern.Metadata{
			Name:        "Bounded Queue",
			Category:    pattern.CategoryPattern,
			Status:      pattern.StatusStable,
			Complexity:  pattern.ComplexityMedium,
			Domains:     []string{"distributed systems", "messaging"},
			LastUpdated: "2025-11-04",
		},
		Definition: pattern.Definition{
			TupleNotation: pattern.Text(`Q = \langle E, n, \sigma \rangle`),
			Components: []pattern.Component{
				{Name: "E", Type: "set", Notation: `E \subseteq \Sigma`, Description: "element universe"},
				{Name: "n", Type: "integer", Description: "capacity bound"},
			},
			TypeDefinitions: []pattern.TypeDef{
				{
					Name:        "Slot",
					Definition:  pattern.FormattedText{Content: "Slot ::= Empty | Full(e)", Format: "bnf"},
					Description: "cell state",
				},
			},
			Description: "A FIFO queue with a fixed capacity bound.",
		},
		Properties: []pattern.Property{
			{
				ID:          "bounded",
				Name:        "Boundedness",
				FormalSpec:  pattern.Text(`\forall t: |\sigma_t| \le n`),
				Description: "the queue never exceeds its capacity",
				Invariants: []pattern.FormattedText{
					pattern.Text(`\lambda_n \le n`),
					{Content: "len(q) <= cap(q)", Format: "pseudocode"},
				},
			},
		},
		Operations: []pattern.Operation{
			{
				Name:             "enqueue",
				Signature:        `enqueue: Q \times E \to Q`,
				FormalDefinition: pattern.Text(`enq(\sigma, e) = \sigma \cdot e`),
				Preconditions:    []pattern.FormattedText{pattern.Text(`|\sigma| < n`)},
				Postconditions:   []pattern.FormattedText{pattern.Text(`|\sigma'| = |\sigma| + 1`)},
				Effects:          []string{"appends e to the tail"},
				Complexity:       "O(1)",
			},
		},
		Dependencies: &pattern.Dependencies{
			Requires:      []string{"C1"},
			Uses:          []string{"P3"},
			Specializes:   []string{"P1.1"},
			SpecializedBy: []string{"P7.2"},
		},
		Manifestations: []pattern.Manifestation{
			{Name: "Go channels", Description: "buffered channel semantics"},
			{Name: "AMQP queues"},
		},
	}
}

func minimalPattern() *pattern.Pattern {
	return &pattern.Pattern{
		ID:      "C1",
		Version: "1.0.0",
		Metadata: pattern.Metadata{
			Name:     "State",
			Category: pattern.CategoryConcept,
			Status:   pattern.StatusDraft,
		},
		Definition: pattern.Definition{
			TupleNotation: pattern.Text(`S = \langle V \rangle`),
		},
	}
}

func TestXMLRoundTrip(t *testing.T) {
	original := fullPattern()
	doc, err := Marshal(original)
	require.NoError(t, err)

	decoded, err := Unmarshal(doc)
	require.NoError(t, err)
	assert.Equal(t, original, decoded)
}

func TestXMLRoundTripMinimal(t *testing.T) {
	original := minimalPattern()
	doc, err := Marshal(original)
	require.NoError(t, err)

	decoded, err := Unmarshal(doc)
	require.NoError(t, err)
	assert.Equal(t, original, decoded)
}

func TestMarshalDocumentShape(t *testing.T) {
	doc, err := Marshal(fullPattern())
	require.NoError(t, err)
	s := string(doc)

	assert.Contains(t, s, `xmlns="`+Namespace+`"`)
	assert.Contains(t, s, `id="P7"`)
	assert.Contains(t, s, `version="1.2.0"`)
	assert.Contains(t, s, `<tuple-notation format="latex">`)
	assert.Contains(t, s, `<definition format="bnf">`)
	assert.Contains(t, s, "<last-updated>2025-11-04</last-updated>")
	assert.Contains(t, s, "<specialized-by>")
	assert.Contains(t, s, "<pattern-ref>C1</pattern-ref>")
}

func TestMarshalOmitsEmptyOptionals(t *testing.T) {
	doc, err := Marshal(minimalPattern())
	require.NoError(t, err)
	s := string(doc)

	assert.NotContains(t, s, "<complexity>")
	assert.NotContains(t, s, "<domains>")
	assert.NotContains(t, s, "<last-updated>")
	assert.NotContains(t, s, "<type-definitions>")
	assert.NotContains(t, s, "<dependencies>")
	assert.NotContains(t, s, "<manifestations>")
}

func TestUnmarshalToleratesEmptyIdentity(t *testing.T) {
	doc, err := Marshal(minimalPattern())
	require.NoError(t, err)

	relaxed := strings.Replace(string(doc), `id="C1"`, `id=""`, 1)
	relaxed = strings.Replace(relaxed, "<name>State</name>", "<name></name>", 1)

	p, err := Unmarshal([]byte(relaxed))
	require.NoError(t, err)
	assert.Equal(t, "", p.ID)
	assert.Equal(t, "", p.Metadata.Name)
}

func TestUnmarshalRejectsForeignNamespace(t *testing.T) {
	doc, err := Marshal(minimalPattern())
	require.NoError(t, err)

	foreign := strings.Replace(string(doc), Namespace, "http://example.com/other-schema", 1)
	_, err = Unmarshal([]byte(foreign))
	require.Error(t, err)
	derr, ok := pattern.AsDecode(err)
	require.True(t, ok)
	assert.Equal(t, "pattern", derr.Where)
	assert.Contains(t, derr.Reason, "namespace")

	unqualified := strings.Replace(string(doc), ` xmlns="`+Namespace+`"`, "", 1)
	_, err = Unmarshal([]byte(unqualified))
	require.Error(t, err)
	_, ok = pattern.AsDecode(err)
	assert.True(t, ok)
}

func TestMarshalOmitsEmptyIdentity(t *testing.T) {
	doc, err := Marshal(minimalPattern())
	require.NoError(t, err)
	relaxed := strings.Replace(string(doc), `id="C1"`, `id=""`, 1)
	relaxed = strings.Replace(relaxed, "<name>State</name>", "<name></name>", 1)

	p, err := Unmarshal([]byte(relaxed))
	require.NoError(t, err)

	// A legacy document with blank identity re-encodes without the
	// empty attribute and element rather than echoing them back.
	reencoded, err := Marshal(p)
	require.NoError(t, err)
	s := string(reencoded)
	assert.NotContains(t, s, `id=""`)
	assert.NotContains(t, s, "<name>")
	assert.NotContains(t, s, "<name/>")
}

func TestUnmarshalDefaultsMissingFormat(t *testing.T) {
	doc, err := Marshal(minimalPattern())
	require.NoError(t, err)

	stripped := strings.Replace(string(doc),
		`<tuple-notation format="latex">`, "<tuple-notation>", 1)
	p, err := Unmarshal([]byte(stripped))
	require.NoError(t, err)
	assert.Equal(t, pattern.DefaultFormat, p.Definition.TupleNotation.Format)
}

func TestUnmarshalMalformed(t *testing.T) {
	_, err := Unmarshal([]byte("<pattern><unclosed>"))
	require.Error(t, err)
	_, ok := pattern.AsDecode(err)
	assert.True(t, ok)
}

func TestUnmarshalWrongRoot(t *testing.T) {
	_, err := Unmarshal([]byte("<catalog></catalog>"))
	require.Error(t, err)
	derr, ok := pattern.AsDecode(err)
	require.True(t, ok)
	assert.Contains(t, derr.Reason, "catalog")
}

func TestUnmarshalMissingDefinition(t *testing.T) {
	payload := `<pattern xmlns="` + Namespace + `" id="C1" version="1.0.0">
  <metadata><name>State</name><category>concept</category><status>draft</status></metadata>
</pattern>`
	_, err := Unmarshal([]byte(payload))
	require.Error(t, err)
	derr, ok := pattern.AsDecode(err)
	require.True(t, ok)
	assert.Equal(t, "pattern", derr.Where)
	assert.Contains(t, derr.Reason, "definition")
}

func TestUnmarshalInvalidContent(t *testing.T) {
	doc, err := Marshal(minimalPattern())
	require.NoError(t, err)

	bad := strings.Replace(string(doc), "<status>draft</status>", "<status>retired</status>", 1)
	_, err = Unmarshal([]byte(bad))
	require.Error(t, err)
	_, ok := pattern.AsValidation(err)
	assert.True(t, ok)
}

func TestUnmarshalPrefixedNamespace(t *testing.T) {
	payload := `<uc:pattern xmlns:uc="` + Namespace + `" id="C1" version="1.0.0">
  <uc:metadata>
    <uc:name>State</uc:name>
    <uc:category>concept</uc:category>
    <uc:status>draft</uc:status>
  </uc:metadata>
  <uc:definition>
    <uc:tuple-notation format="latex">S = \langle V \rangle</uc:tuple-notation>
    <uc:components></uc:components>
  </uc:definition>
</uc:pattern>`
	p, err := Unmarshal([]byte(payload))
	require.NoError(t, err)
	assert.Equal(t, "C1", p.ID)
	assert.Equal(t, "State", p.Metadata.Name)
}
