package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/universal-corpus/patterns/core/compact"
	"github.com/universal-corpus/patterns/core/pattern"
	"github.com/universal-corpus/patterns/core/store"
	"github.com/universal-corpus/patterns/core/tabular"
	"github.com/universal-corpus/patterns/core/xmlcodec"
)

const maxBodyBytes = 32 << 20

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	p, err := readPatternBody(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.repo.Create(r.Context(), p); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	f, err := filterFromQuery(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	patterns, err := s.repo.List(r.Context(), f)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if patterns == nil {
		patterns = []*pattern.Pattern{}
	}
	writeJSON(w, http.StatusOK, patterns)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	p, err := s.repo.Get(r.Context(), chi.URLParam(r, "patternID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleReplace(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "patternID")
	p, err := readPatternBody(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if p.ID != id {
		s.writeError(w, r, &pattern.DecodeError{Format: "json", Where: "id",
			Reason: fmt.Sprintf("body id %q does not match path id %q", p.ID, id)})
		return
	}
	if err := s.repo.Replace(r.Context(), p); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handlePatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "patternID")
	var update map[string]any
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&update); err != nil {
		s.writeError(w, r, &pattern.DecodeError{Format: "json", Where: "body",
			Reason: "malformed JSON", Err: err})
		return
	}
	merged, err := s.repo.Patch(r.Context(), id, update)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, merged)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.repo.Delete(r.Context(), chi.URLParam(r, "patternID")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetXML(w http.ResponseWriter, r *http.Request) {
	p, err := s.repo.Get(r.Context(), chi.URLParam(r, "patternID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	doc, err := xmlcodec.Marshal(p)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	w.Write(doc)
}

func (s *Server) handleGetDependencies(w http.ResponseWriter, r *http.Request) {
	p, err := s.repo.Get(r.Context(), chi.URLParam(r, "patternID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if p.Dependencies == nil {
		writeJSON(w, http.StatusOK, map[string]any{})
		return
	}
	writeJSON(w, http.StatusOK, p.Dependencies)
}

// exportPageSize bounds how many rows an export holds in memory at
// once; rows are written out as each page arrives.
const exportPageSize = 500

// forEachPattern pages through the repository in id order, passing
// every matching pattern to write.
func (s *Server) forEachPattern(ctx context.Context, f store.Filter, write func(*pattern.Pattern) error) error {
	f.Limit = exportPageSize
	f.Offset = 0
	for {
		batch, err := s.repo.List(ctx, f)
		if err != nil {
			return err
		}
		for _, p := range batch {
			if err := write(p); err != nil {
				return err
			}
		}
		if len(batch) < exportPageSize {
			return nil
		}
		f.Offset += exportPageSize
	}
}

func (s *Server) handleExportJSONL(w http.ResponseWriter, r *http.Request) {
	f, err := filterFromQuery(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	format := r.URL.Query().Get("format")
	if format == "" {
		format = "full"
	}
	var encode func(*pattern.Pattern) ([]byte, error)
	switch format {
	case "compact":
		encode = compact.MarshalLine
	case "full":
		encode = func(p *pattern.Pattern) ([]byte, error) { return p.MarshalCanonical() }
	default:
		s.writeError(w, r, &pattern.DecodeError{Format: "jsonl", Where: "query",
			Reason: fmt.Sprintf("unknown export format %q", format)})
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Content-Disposition", "attachment; filename=patterns.jsonl")

	bw := bufio.NewWriter(w)
	err = s.forEachPattern(r.Context(), f, func(p *pattern.Pattern) error {
		raw, err := encode(p)
		if err != nil {
			return fmt.Errorf("encode %s: %w", p.ID, err)
		}
		if _, err := bw.Write(raw); err != nil {
			return err
		}
		return bw.WriteByte('\n')
	})
	if err != nil {
		s.logger.Error("jsonl export aborted", zap.Error(err))
		return
	}
	if err := bw.Flush(); err != nil {
		s.logger.Error("jsonl export aborted", zap.Error(err))
	}
}

func (s *Server) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	f, err := filterFromQuery(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	format := r.URL.Query().Get("format")
	if format == "" {
		format = "compact"
	}
	if format != "compact" && format != "simple" {
		s.writeError(w, r, &pattern.DecodeError{Format: "csv", Where: "query",
			Reason: fmt.Sprintf("unknown export format %q", format)})
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", "attachment; filename=patterns.csv")

	var cw *tabular.Writer
	if format == "simple" {
		cw, err = tabular.NewSimpleWriter(w)
	} else {
		cw, err = tabular.NewWriter(w)
	}
	if err != nil {
		s.logger.Error("csv export aborted", zap.Error(err))
		return
	}
	if err := s.forEachPattern(r.Context(), f, cw.Write); err != nil {
		s.logger.Error("csv export aborted", zap.Error(err))
		return
	}
	if err := cw.Flush(); err != nil {
		s.logger.Error("csv export aborted", zap.Error(err))
	}
}

func (s *Server) handleImportJSONL(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "full"
	}
	body := io.LimitReader(r.Body, maxBodyBytes)

	var patterns []*pattern.Pattern
	var err error
	switch format {
	case "compact":
		patterns, err = compact.ReadJSONL(body)
	case "full":
		patterns, err = readFullJSONL(body)
	default:
		err = &pattern.DecodeError{Format: "jsonl", Where: "query",
			Reason: fmt.Sprintf("unknown import format %q", format)}
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.importPatterns(w, r, patterns)
}

func (s *Server) handleImportCSV(w http.ResponseWriter, r *http.Request) {
	patterns, err := tabular.ReadCSV(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.importPatterns(w, r, patterns)
}

// importPatterns upserts a decoded batch. Decoding already validated
// every document, so a failure here is a storage problem and aborts
// with the progress made so far.
func (s *Server) importPatterns(w http.ResponseWriter, r *http.Request, patterns []*pattern.Pattern) {
	created, updated := 0, 0
	for _, p := range patterns {
		err := s.repo.Create(r.Context(), p)
		if errors.Is(err, store.ErrExists) {
			if err = s.repo.Replace(r.Context(), p); err == nil {
				updated++
				continue
			}
		} else if err == nil {
			created++
			continue
		}
		s.writeError(w, r, fmt.Errorf("import %s: %w", p.ID, err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"imported": created + updated,
		"created":  created,
		"updated":  updated,
	})
}

func readPatternBody(r *http.Request) (*pattern.Pattern, error) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, &pattern.DecodeError{Format: "json", Where: "body",
			Reason: "failed to read request body", Err: err}
	}
	return pattern.FromJSON(raw)
}

func readFullJSONL(r io.Reader) ([]*pattern.Pattern, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16<<20)

	var out []*pattern.Pattern
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		p, err := pattern.FromJSON(raw)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, p)
	}
	if err := scanner.Err(); err != nil {
		return nil, &pattern.DecodeError{Format: "jsonl", Where: fmt.Sprintf("line %d", line),
			Reason: "read failed", Err: err}
	}
	return out, nil
}

func filterFromQuery(r *http.Request) (store.Filter, error) {
	q := r.URL.Query()
	f := store.Filter{
		Category:   pattern.Category(q.Get("category")),
		Status:     pattern.Status(q.Get("status")),
		Complexity: pattern.Complexity(q.Get("complexity")),
	}
	if f.Category != "" && !f.Category.Valid() {
		return f, &pattern.DecodeError{Format: "query", Where: "category",
			Reason: fmt.Sprintf("unknown category %q", f.Category)}
	}
	if f.Status != "" && !f.Status.Valid() {
		return f, &pattern.DecodeError{Format: "query", Where: "status",
			Reason: fmt.Sprintf("unknown status %q", f.Status)}
	}
	if f.Complexity != "" && !f.Complexity.Valid() {
		return f, &pattern.DecodeError{Format: "query", Where: "complexity",
			Reason: fmt.Sprintf("unknown complexity %q", f.Complexity)}
	}
	for param, dest := range map[string]*int{"limit": &f.Limit, "offset": &f.Offset} {
		if v := q.Get(param); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				return f, &pattern.DecodeError{Format: "query", Where: param,
					Reason: fmt.Sprintf("invalid %s %q", param, v)}
			}
			*dest = n
		}
	}
	return f, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps taxonomy errors to status codes: validation failures
// are 422 with the issue list attached, decode failures 400, missing
// patterns 404, id conflicts 409, everything else 500.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if verr, ok := pattern.AsValidation(err); ok {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"detail": verr.Error(),
			"issues": verr.Issues,
		})
		return
	}
	if derr, ok := pattern.AsDecode(err); ok {
		writeJSON(w, http.StatusBadRequest, map[string]any{"detail": derr.Error()})
		return
	}
	switch {
	case errors.Is(err, pattern.ErrNonInvertibleFormat):
		writeJSON(w, http.StatusBadRequest, map[string]any{"detail": err.Error()})
	case errors.Is(err, store.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]any{"detail": err.Error()})
	case errors.Is(err, store.ErrExists):
		writeJSON(w, http.StatusConflict, map[string]any{"detail": err.Error()})
	default:
		s.logger.Error("request failed",
			zap.String("requestId", RequestID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{"detail": "internal server error"})
	}
}
