package pattern

import (
	"errors"
	"fmt"
	"strings"
)

// Issue describes a single validation finding. Path is a dot-separated
// field path with bracketed indices, e.g. "properties[1].id".
type Issue struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Path     string `json:"path,omitempty"`
	Severity string `json:"severity,omitempty"`
}

// Issue codes produced by the validator.
const (
	CodeRequiredFieldMissing = "REQUIRED_FIELD_MISSING"
	CodeEnumViolation        = "ENUM_VIOLATION"
	CodeIDPatternViolation   = "ID_PATTERN_VIOLATION"
	CodeDuplicatePropertyID  = "DUPLICATE_PROPERTY_ID"
	CodeMissingFormat        = "MISSING_FORMAT"
	CodePlaceholderContent   = "PLACEHOLDER_CONTENT"
	CodeMalformedDate        = "MALFORMED_DATE"
	CodeCategoryMismatch     = "CATEGORY_PREFIX_MISMATCH"
)

// ValidationError reports that a payload's content is semantically
// invalid. It always carries at least one error-severity issue, the
// first of which names the offending field path.
type ValidationError struct {
	Issues []Issue
}

func (e *ValidationError) Error() string {
	n := 0
	var first *Issue
	for i := range e.Issues {
		if e.Issues[i].Severity != "warning" {
			if first == nil {
				first = &e.Issues[i]
			}
			n++
		}
	}
	if first == nil {
		return "validation failed"
	}
	loc := ""
	if first.Path != "" {
		loc = " at " + first.Path
	}
	if n > 1 {
		return fmt.Sprintf("validation failed%s: %s (and %d more issues)", loc, first.Message, n-1)
	}
	return fmt.Sprintf("validation failed%s: %s", loc, first.Message)
}

// DecodeError reports that a wire payload is structurally malformed,
// as opposed to carrying semantically invalid content. Where identifies
// the failure positionally: a field path, a row number, or an element
// path, depending on the format.
type DecodeError struct {
	Format string
	Where  string
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	var b strings.Builder
	b.WriteString(e.Format)
	b.WriteString(" decode failed")
	if e.Where != "" {
		b.WriteString(" at ")
		b.WriteString(e.Where)
	}
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *DecodeError) Unwrap() error { return e.Err }

// ErrNonInvertibleFormat is returned when decode is attempted on a
// format that is declared one-way (the simple CSV shape). This flags a
// caller programming error, not bad data.
var ErrNonInvertibleFormat = errors.New("format is not invertible: encode-only")

// AsValidation extracts a *ValidationError from an error chain.
func AsValidation(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

// AsDecode extracts a *DecodeError from an error chain.
func AsDecode(err error) (*DecodeError, bool) {
	var de *DecodeError
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}
