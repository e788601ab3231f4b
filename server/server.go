// Package server exposes the catalog over HTTP. Routing is handled by
// chi; every response body is JSON except the XML document view and
// the CSV and JSONL export streams.
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/universal-corpus/patterns/core/store"
)

// Version is reported by the root endpoint.
const Version = "1.0.0"

// Server wires the repository to the HTTP surface.
type Server struct {
	repo   store.Repository
	logger *zap.Logger
}

// New builds a server over the given repository. A nil logger disables
// request logging.
func New(repo store.Repository, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{repo: repo, logger: logger}
}

// Router assembles the route table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(logRequests(s.logger))
	r.Use(recoverPanics(s.logger))

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)
	r.Get("/statistics", s.handleStatistics)

	r.Route("/patterns", func(r chi.Router) {
		r.Post("/", s.handleCreate)
		r.Get("/", s.handleList)
		r.Route("/{patternID}", func(r chi.Router) {
			r.Get("/", s.handleGet)
			r.Put("/", s.handleReplace)
			r.Patch("/", s.handlePatch)
			r.Delete("/", s.handleDelete)
			r.Get("/xml", s.handleGetXML)
			r.Get("/dependencies", s.handleGetDependencies)
		})
	})

	r.Get("/export/jsonl", s.handleExportJSONL)
	r.Get("/export/csv", s.handleExportCSV)
	r.Post("/import/jsonl", s.handleImportJSONL)
	r.Post("/import/csv", s.handleImportCSV)

	return r
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"api":     "Universal Corpus Pattern API",
		"version": Version,
		"endpoints": map[string]string{
			"create_pattern":         "POST /patterns",
			"list_patterns":          "GET /patterns",
			"get_pattern":            "GET /patterns/{pattern_id}",
			"get_pattern_xml":        "GET /patterns/{pattern_id}/xml",
			"update_pattern":         "PUT /patterns/{pattern_id}",
			"partial_update_pattern": "PATCH /patterns/{pattern_id}",
			"delete_pattern":         "DELETE /patterns/{pattern_id}",
			"get_dependencies":       "GET /patterns/{pattern_id}/dependencies",
			"export_jsonl":           "GET /export/jsonl",
			"export_csv":             "GET /export/csv",
			"import_jsonl":           "POST /import/jsonl",
			"import_csv":             "POST /import/csv",
			"statistics":             "GET /statistics",
			"health":                 "GET /health",
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	count, err := s.repo.Count(r.Context(), store.Filter{})
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "unhealthy",
			"detail": err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "healthy",
		"patterns_count": count,
	})
}

func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := s.repo.Stats(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
