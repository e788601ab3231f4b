package compact

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/universal-corpus/patterns/core/pattern"
)

// MarshalLine renders one pattern as a single compact JSON line, the
// row unit of the compact JSON-Lines export.
func MarshalLine(p *pattern.Pattern) ([]byte, error) {
	return json.Marshal(Compact(p))
}

// ExpandJSON decodes one compact JSON document and expands it.
func ExpandJSON(data []byte) (*pattern.Pattern, error) {
	var doc Doc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &pattern.DecodeError{Format: "compact", Reason: "malformed JSON", Err: err}
	}
	return Expand(doc)
}

// WriteJSONL streams patterns to w as compact JSON-Lines, one record
// per line, without buffering the whole export.
func WriteJSONL(w io.Writer, ps []*pattern.Pattern) error {
	bw := bufio.NewWriter(w)
	for _, p := range ps {
		line, err := MarshalLine(p)
		if err != nil {
			return fmt.Errorf("marshal pattern %s: %w", p.ID, err)
		}
		if _, err := bw.Write(line); err != nil {
			return err
		}
		if err := bw.WriteByte('\n'); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// ReadJSONL decodes a compact JSON-Lines payload. A single malformed or
// invalid line aborts the whole batch; the returned error carries the
// offending line number. Blank lines are skipped.
func ReadJSONL(r io.Reader) ([]*pattern.Pattern, error) {
	var out []*pattern.Pattern
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		p, err := ExpandJSON([]byte(line))
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNum, err)
		}
		out = append(out, p)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read jsonl: %w", err)
	}
	return out, nil
}
