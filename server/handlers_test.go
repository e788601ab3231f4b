package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/universal-corpus/patterns/core/pattern"
	"github.com/universal-corpus/patterns/sqlite"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	repo, err := sqlite.Open(filepath.Join(t.TempDir(), "patterns.db"), zap.NewNop(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	ts := httptest.NewServer(New(repo, zap.NewNop()).Router())
	t.Cleanup(ts.Close)
	return ts
}

func patternJSON(id string) string {
	return fmt.Sprintf(`{
		"id": %q,
		"version": "1.0.0",
		"metadata": {
			"name": "Pattern %s",
			"category": "pattern",
			"status": "stable",
			"complexity": "low"
		},
		"definition": {
			"tuple_notation": {"content": "P = \\langle a \\rangle", "format": "latex"}
		},
		"properties": [
			{"id": "p1", "name": "Totality", "formal_spec": {"content": "\\forall x", "format": "latex"}}
		],
		"dependencies": {"requires": ["C1"]}
	}`, id, id)
}

func do(t *testing.T, ts *httptest.Server, method, path, body string) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body == "" {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader([]byte(body))
	}
	req, err := http.NewRequest(method, ts.URL+path, reader)
	require.NoError(t, err)
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestCreateGetDelete(t *testing.T) {
	ts := newTestServer(t)

	resp := do(t, ts, http.MethodPost, "/patterns", patternJSON("P1"))
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = do(t, ts, http.MethodGet, "/patterns/P1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got pattern.Pattern
	decodeBody(t, resp, &got)
	assert.Equal(t, "P1", got.ID)
	assert.Equal(t, "Pattern P1", got.Metadata.Name)

	resp = do(t, ts, http.MethodDelete, "/patterns/P1", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = do(t, ts, http.MethodGet, "/patterns/P1", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCreateConflict(t *testing.T) {
	ts := newTestServer(t)

	resp := do(t, ts, http.MethodPost, "/patterns", patternJSON("P1"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = do(t, ts, http.MethodPost, "/patterns", patternJSON("P1"))
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestCreateValidationFailure(t *testing.T) {
	ts := newTestServer(t)

	body := `{"id": "P1", "version": "", "metadata": {"name": "X", "category": "pattern", "status": "stable"}, "definition": {"tuple_notation": {"content": "t", "format": "latex"}}}`
	resp := do(t, ts, http.MethodPost, "/patterns", body)
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	var errBody struct {
		Detail string          `json:"detail"`
		Issues []pattern.Issue `json:"issues"`
	}
	decodeBody(t, resp, &errBody)
	assert.NotEmpty(t, errBody.Issues)
}

func TestCreateMalformedJSON(t *testing.T) {
	ts := newTestServer(t)
	resp := do(t, ts, http.MethodPost, "/patterns", "{not json")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestReplaceIDMismatch(t *testing.T) {
	ts := newTestServer(t)

	resp := do(t, ts, http.MethodPost, "/patterns", patternJSON("P1"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = do(t, ts, http.MethodPut, "/patterns/P1", patternJSON("P2"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPatchMergesMetadata(t *testing.T) {
	ts := newTestServer(t)

	resp := do(t, ts, http.MethodPost, "/patterns", patternJSON("P1"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = do(t, ts, http.MethodPatch, "/patterns/P1", `{"metadata": {"status": "deprecated"}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got pattern.Pattern
	decodeBody(t, resp, &got)
	assert.Equal(t, pattern.StatusDeprecated, got.Metadata.Status)
	assert.Equal(t, "Pattern P1", got.Metadata.Name)
}

func TestListWithFilters(t *testing.T) {
	ts := newTestServer(t)

	for _, id := range []string{"P1", "P2"} {
		resp := do(t, ts, http.MethodPost, "/patterns", patternJSON(id))
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}

	resp := do(t, ts, http.MethodGet, "/patterns?category=pattern", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var listed []*pattern.Pattern
	decodeBody(t, resp, &listed)
	assert.Len(t, listed, 2)

	resp = do(t, ts, http.MethodGet, "/patterns?category=bogus", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = do(t, ts, http.MethodGet, "/patterns?status=draft", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	listed = nil
	decodeBody(t, resp, &listed)
	assert.Empty(t, listed)
}

func TestGetDependencies(t *testing.T) {
	ts := newTestServer(t)

	resp := do(t, ts, http.MethodPost, "/patterns", patternJSON("P1"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = do(t, ts, http.MethodGet, "/patterns/P1/dependencies", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var deps pattern.Dependencies
	decodeBody(t, resp, &deps)
	assert.Equal(t, []string{"C1"}, deps.Requires)
}

func TestGetXML(t *testing.T) {
	ts := newTestServer(t)

	resp := do(t, ts, http.MethodPost, "/patterns", patternJSON("P1"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = do(t, ts, http.MethodGet, "/patterns/P1/xml", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/xml; charset=utf-8", resp.Header.Get("Content-Type"))

	var buf bytes.Buffer
	_, err := buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `xmlns="http://universal-corpus.org/schema/v1"`)
	assert.Contains(t, buf.String(), `id="P1"`)
}

func TestExportImportJSONLRoundTrip(t *testing.T) {
	ts := newTestServer(t)

	for _, id := range []string{"P1", "P2"} {
		resp := do(t, ts, http.MethodPost, "/patterns", patternJSON(id))
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}

	resp := do(t, ts, http.MethodGet, "/export/jsonl", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/x-ndjson", resp.Header.Get("Content-Type"))
	var buf bytes.Buffer
	_, err := buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 2)

	// Re-import into a fresh catalog.
	fresh := newTestServer(t)
	resp = do(t, fresh, http.MethodPost, "/import/jsonl", buf.String())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var result map[string]int
	decodeBody(t, resp, &result)
	assert.Equal(t, 2, result["imported"])
	assert.Equal(t, 2, result["created"])
	assert.Equal(t, 0, result["updated"])

	// Importing again counts as updates.
	resp = do(t, fresh, http.MethodPost, "/import/jsonl", buf.String())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeBody(t, resp, &result)
	assert.Equal(t, 2, result["updated"])
}

func TestExportImportCompactJSONL(t *testing.T) {
	ts := newTestServer(t)

	resp := do(t, ts, http.MethodPost, "/patterns", patternJSON("P1"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = do(t, ts, http.MethodGet, "/export/jsonl?format=compact", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var buf bytes.Buffer
	_, err := buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `"cat":"pattern"`)

	fresh := newTestServer(t)
	resp = do(t, fresh, http.MethodPost, "/import/jsonl?format=compact", buf.String())
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = do(t, fresh, http.MethodGet, "/patterns/P1", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestExportImportCSV(t *testing.T) {
	ts := newTestServer(t)

	resp := do(t, ts, http.MethodPost, "/patterns", patternJSON("P1"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = do(t, ts, http.MethodGet, "/export/csv", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/csv; charset=utf-8", resp.Header.Get("Content-Type"))
	var buf bytes.Buffer
	_, err := buf.ReadFrom(resp.Body)
	require.NoError(t, err)

	fresh := newTestServer(t)
	resp = do(t, fresh, http.MethodPost, "/import/csv", buf.String())
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = do(t, fresh, http.MethodGet, "/patterns/P1", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestExportCoversCatalogBeyondOnePage(t *testing.T) {
	repo, err := sqlite.Open(filepath.Join(t.TempDir(), "patterns.db"), zap.NewNop(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	ctx := context.Background()
	const total = exportPageSize + 10
	for i := 1; i <= total; i++ {
		var p pattern.Pattern
		require.NoError(t, json.Unmarshal([]byte(patternJSON(fmt.Sprintf("P%d", i))), &p))
		require.NoError(t, repo.Create(ctx, &p))
	}

	ts := httptest.NewServer(New(repo, zap.NewNop()).Router())
	t.Cleanup(ts.Close)

	resp := do(t, ts, http.MethodGet, "/export/jsonl", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(buf.String()), "\n"), total)

	resp = do(t, ts, http.MethodGet, "/export/csv", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	buf.Reset()
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)

	// Header row plus one row per pattern.
	assert.Len(t, strings.Split(strings.TrimSpace(buf.String()), "\n"), total+1)
}

func TestImportSimpleCSVRejected(t *testing.T) {
	ts := newTestServer(t)

	// Export the simple shape, which drops detail and is not decodable.
	resp := do(t, ts, http.MethodPost, "/patterns", patternJSON("P1"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp = do(t, ts, http.MethodGet, "/export/csv?format=simple", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var buf bytes.Buffer
	_, err := buf.ReadFrom(resp.Body)
	require.NoError(t, err)

	resp = do(t, ts, http.MethodPost, "/import/csv", buf.String())
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealthAndStatistics(t *testing.T) {
	ts := newTestServer(t)

	resp := do(t, ts, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var health map[string]any
	decodeBody(t, resp, &health)
	assert.Equal(t, "healthy", health["status"])

	resp = do(t, ts, http.MethodPost, "/patterns", patternJSON("P1"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = do(t, ts, http.MethodGet, "/statistics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var stats struct {
		TotalPatterns int            `json:"total_patterns"`
		ByCategory    map[string]int `json:"by_category"`
	}
	decodeBody(t, resp, &stats)
	assert.Equal(t, 1, stats.TotalPatterns)
	assert.Equal(t, 1, stats.ByCategory["pattern"])
}

func TestRootListsEndpoints(t *testing.T) {
	ts := newTestServer(t)

	resp := do(t, ts, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var root map[string]any
	decodeBody(t, resp, &root)
	assert.Equal(t, Version, root["version"])
	assert.Contains(t, root, "endpoints")
}
