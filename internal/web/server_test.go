package web

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/tablextract/internal/config"
	"github.com/JonMunkholm/tablextract/internal/core"
	"github.com/JonMunkholm/tablextract/internal/history"
	"github.com/JonMunkholm/tablextract/internal/spreadsheet"
	"github.com/JonMunkholm/tablextract/internal/storage"
)

// minimalPDF builds a valid PDF with the given number of blank pages.
func minimalPDF(pages int) []byte {
	objects := []string{"<< /Type /Catalog /Pages 2 0 R >>"}

	kids := make([]string, pages)
	for i := range kids {
		kids[i] = fmt.Sprintf("%d 0 R", i+3)
	}
	objects = append(objects, fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), pages))
	for i := 0; i < pages; i++ {
		objects = append(objects, "<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] >>")
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(objects)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return buf.Bytes()
}

// fixedPages finds one table on page 1, nothing on page 2 and fails on page 3.
var fixedPages = core.PageExtractorFunc(func(ctx context.Context, doc core.Document, page int, mode core.DetectionMode) ([]core.Table, error) {
	switch page {
	case 1:
		return []core.Table{{Page: 1, Rows: [][]string{{"Item", "Amount"}, {"Widget", "12.50"}}}}, nil
	case 3:
		return nil, errors.New("broken content stream")
	default:
		return nil, nil
	}
})

type testEnv struct {
	srv     *Server
	docs    *storage.Store
	sheets  *spreadsheet.Writer
	history *history.MemoryStore
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Server.RequestTimeout = time.Minute
	cfg.Storage.MaxFileSize = 1 << 20
	cfg.Security.CORSAllowedOrigins = []string{"*"}
	return cfg
}

func newTestEnv(t *testing.T, cfg *config.Config) *testEnv {
	t.Helper()
	root := t.TempDir()

	docs, err := storage.NewStore(filepath.Join(root, "uploads"), cfg.Storage.MaxFileSize)
	require.NoError(t, err)
	sheets, err := spreadsheet.NewWriter(filepath.Join(root, "artifacts"))
	require.NoError(t, err)
	hist := history.NewMemoryStore(0)

	svc := core.NewService(docs, fixedPages, sheets,
		core.NewSessionIndex(os.DirFS(sheets.Dir())), hist,
		core.Options{ProgressInterval: time.Millisecond, MaxConcurrent: 2, BatchWorkers: 2})

	srv := NewServer(Deps{
		Service:   svc,
		Documents: docs,
		Artifacts: sheets,
		History:   hist,
		Emitter:   &core.Emitter{Heartbeat: 50 * time.Millisecond, Now: time.Now},
	}, cfg)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		svc.Shutdown(ctx)
		srv.Shutdown(ctx)
	})

	return &testEnv{srv: srv, docs: docs, sheets: sheets, history: hist}
}

// store saves a three page document directly.
func (e *testEnv) store(t *testing.T) core.Document {
	t.Helper()
	doc, err := e.docs.Save("report.pdf", bytes.NewReader(minimalPDF(3)))
	require.NoError(t, err)
	return doc
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.srv.Router().ServeHTTP(rec, req)
	return rec
}

func multipartBody(t *testing.T, field, filename string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func formRequest(path string, values url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestUpload(t *testing.T) {
	env := newTestEnv(t, testConfig())

	body, contentType := multipartBody(t, "file", "report.pdf", minimalPDF(3))
	req := httptest.NewRequest(http.MethodPost, "/upload-pdf", body)
	req.Header.Set("Content-Type", contentType)

	rec := env.do(req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[UploadResponse](t, rec)
	assert.True(t, resp.Success)
	assert.True(t, strings.HasSuffix(resp.Filename, "_report.pdf"), resp.Filename)
	assert.Equal(t, "PDF uploaded successfully", resp.Message)
	assert.Equal(t, "http://example.com/pdf/"+url.PathEscape(resp.Filename), resp.DocumentURL)
	assert.Equal(t, 3, resp.TotalPages)

	rec = env.do(httptest.NewRequest(http.MethodGet, "/pdf/"+resp.Filename, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Disposition"), "inline"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF-")))
}

func TestUpload_Rejects(t *testing.T) {
	env := newTestEnv(t, testConfig())

	tests := []struct {
		name     string
		field    string
		filename string
		data     []byte
		status   int
		code     string
	}{
		{"wrong extension", "file", "notes.txt", []byte("hello"), http.StatusBadRequest, "DOC004"},
		{"not a pdf", "file", "fake.pdf", []byte("plain text"), http.StatusBadRequest, "DOC004"},
		{"unreadable pdf", "file", "broken.pdf", []byte("%PDF-1.4\ngarbage"), http.StatusUnprocessableEntity, "DOC002"},
		{"too large", "file", "big.pdf", append([]byte("%PDF-1.4\n"), make([]byte, 2<<20)...), http.StatusRequestEntityTooLarge, "DOC003"},
		{"missing file field", "other", "report.pdf", minimalPDF(1), http.StatusBadRequest, "DOC005"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, contentType := multipartBody(t, tt.field, tt.filename, tt.data)
			req := httptest.NewRequest(http.MethodPost, "/upload-pdf", body)
			req.Header.Set("Content-Type", contentType)

			rec := env.do(req)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())

			resp := decode[ErrorResponse](t, rec)
			assert.False(t, resp.Success)
			assert.Equal(t, tt.code, resp.Code)
			assert.NotEmpty(t, resp.Message)
		})
	}

	entries, err := os.ReadDir(env.docs.Dir())
	require.NoError(t, err)
	assert.Empty(t, entries, "rejected uploads leave nothing behind")
}

func TestUpload_NotMultipart(t *testing.T) {
	env := newTestEnv(t, testConfig())

	req := httptest.NewRequest(http.MethodPost, "/upload-pdf", strings.NewReader("{}"))
	req.Header.Set("Content-Type", "application/json")

	rec := env.do(req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "DOC005", decode[ErrorResponse](t, rec).Code)
}

func TestExtractTables(t *testing.T) {
	env := newTestEnv(t, testConfig())
	doc := env.store(t)

	rec := env.do(formRequest("/extract-tables", url.Values{"filename": {doc.Name}, "pages": {"1"}}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[ExtractionResponse](t, rec)
	assert.True(t, resp.Success)
	assert.Equal(t, "Tables extracted successfully", resp.Message)
	assert.Equal(t, 1, resp.NumberOfTables)
	assert.Equal(t, core.ModeLattice, resp.Flavor)
	assert.Equal(t, "http://example.com/excel/"+url.PathEscape(doc.BaseName()), resp.TablesURL)
	require.Len(t, resp.Artifacts, 1)
	assert.Equal(t, core.ArtifactName(resp.Session, doc.BaseName(), 0), resp.Artifacts[0])

	table, err := env.sheets.ReadTable(resp.Artifacts[0])
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"Item", "Amount"}, {"Widget", "12.50"}}, table.Rows)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	assert.Contains(t, raw, "number of tables")
	assert.Contains(t, raw, "tablesURL")
}

func TestExtractTables_Outcomes(t *testing.T) {
	env := newTestEnv(t, testConfig())
	doc := env.store(t)

	tests := []struct {
		name   string
		values url.Values
		status int
		code   string
	}{
		{"no tables", url.Values{"filename": {doc.Name}, "pages": {"2"}}, http.StatusOK, ""},
		{"page fails", url.Values{"filename": {doc.Name}, "pages": {"1-end"}}, http.StatusUnprocessableEntity, "EXT001"},
		{"malformed pages", url.Values{"filename": {doc.Name}, "pages": {"one"}}, http.StatusBadRequest, "SEL001"},
		{"page out of range", url.Values{"filename": {doc.Name}, "pages": {"9"}}, http.StatusBadRequest, "SEL002"},
		{"bad flavor", url.Values{"filename": {doc.Name}, "flavor": {"grid"}}, http.StatusBadRequest, "EXT002"},
		{"unknown document", url.Values{"filename": {"missing.pdf"}}, http.StatusNotFound, "DOC001"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(formRequest("/extract-tables", tt.values))
			require.Equal(t, tt.status, rec.Code, rec.Body.String())

			var resp struct {
				Success        bool   `json:"success"`
				Message        string `json:"message"`
				Code           string `json:"code"`
				NumberOfTables int    `json:"number of tables"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.code, resp.Code)
			assert.Equal(t, tt.status == http.StatusOK, resp.Success)

			if tt.status == http.StatusOK {
				assert.Equal(t, core.NoTablesMessage, resp.Message)
				assert.Zero(t, resp.NumberOfTables)
			}
		})
	}
}

func TestListSpreadsheetsAndDownload(t *testing.T) {
	env := newTestEnv(t, testConfig())
	doc := env.store(t)

	rec := env.do(formRequest("/extract-tables", url.Values{"filename": {doc.Name}, "pages": {"1,2"}}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	run := decode[ExtractionResponse](t, rec)

	for _, name := range []string{doc.Name, doc.BaseName()} {
		rec = env.do(httptest.NewRequest(http.MethodGet, "/excel/"+name, nil))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		list := decode[SpreadsheetList](t, rec)
		assert.Equal(t, run.Artifacts, list.Files)
		require.Len(t, list.URLs, 1)
		assert.Equal(t, "http://example.com/download/"+url.PathEscape(run.Artifacts[0]), list.URLs[0])
	}

	rec = env.do(httptest.NewRequest(http.MethodGet, "/download/"+run.Artifacts[0], nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, xlsxContentType, rec.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Disposition"), "attachment"))
	assert.NotZero(t, rec.Body.Len())
}

func TestListSpreadsheets_NotFound(t *testing.T) {
	env := newTestEnv(t, testConfig())

	tests := []struct {
		name string
		path string
	}{
		{"no spreadsheets", "/excel/20240101000000_nothing.pdf"},
		{"unknown download", "/download/20240101000000_nothing.xlsx"},
		{"hidden download", "/download/..xlsx"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, http.StatusNotFound, rec.Code)
			assert.Equal(t, "ART001", decode[ErrorResponse](t, rec).Code)
		})
	}
}

// readEvents reads SSE frames until a terminal event or the deadline.
func readEvents(t *testing.T, resp *http.Response) []core.ProgressEvent {
	t.Helper()

	var events []core.ProgressEvent
	done := make(chan struct{})
	go func() {
		defer close(done)
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			data, ok := strings.CutPrefix(scanner.Text(), "data: ")
			if !ok {
				continue
			}
			var ev core.ProgressEvent
			if err := json.Unmarshal([]byte(data), &ev); err != nil {
				continue
			}
			events = append(events, ev)
			if ev.Type == core.EventCompletion || ev.Type == core.EventError {
				return
			}
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		resp.Body.Close()
		<-done
		t.Fatal("no terminal event")
	}
	return events
}

func TestAsyncExtractionWithProgress(t *testing.T) {
	env := newTestEnv(t, testConfig())
	doc := env.store(t)

	ts := httptest.NewServer(env.srv.Router())
	defer ts.Close()

	resp, err := http.PostForm(ts.URL+"/api/extractions", url.Values{"filename": {doc.Name}, "pages": {"1-2"}})
	require.NoError(t, err)
	var started ExtractionStarted
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&started))
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.True(t, started.Success)
	assert.Equal(t, ts.URL+"/api/extractions/"+started.Session+"/progress", started.ProgressURL)

	stream, err := http.Get(started.ProgressURL)
	require.NoError(t, err)
	defer stream.Body.Close()
	assert.Equal(t, "text/event-stream", stream.Header.Get("Content-Type"))

	events := readEvents(t, stream)
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, core.EventCompletion, last.Type)
	require.NotNil(t, last.Tables)
	assert.Equal(t, 1, *last.Tables)
	assert.Equal(t, 100.0, last.Percentage)

	resp, err = http.Get(started.ResultURL)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var result ExtractionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.Equal(t, started.Session, result.Session)
	assert.Equal(t, 1, result.NumberOfTables)
}

func TestLegacyProgressFollowsNextRun(t *testing.T) {
	env := newTestEnv(t, testConfig())
	doc := env.store(t)

	ts := httptest.NewServer(env.srv.Router())
	defer ts.Close()

	stream, err := http.Get(ts.URL + "/extraction-progress")
	require.NoError(t, err)
	defer stream.Body.Close()
	require.Equal(t, http.StatusOK, stream.StatusCode)

	time.Sleep(20 * time.Millisecond)
	resp, err := http.PostForm(ts.URL+"/extract-tables", url.Values{"filename": {doc.Name}, "pages": {"3"}})
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	events := readEvents(t, stream)
	require.NotEmpty(t, events)
	assert.Equal(t, core.EventError, events[len(events)-1].Type)
}

func TestProgress_UnknownSession(t *testing.T) {
	env := newTestEnv(t, testConfig())

	rec := env.do(httptest.NewRequest(http.MethodGet, "/api/extractions/nope/progress", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "RUN002", decode[ErrorResponse](t, rec).Code)

	rec = env.do(httptest.NewRequest(http.MethodGet, "/extraction-progress?session=nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(httptest.NewRequest(http.MethodPost, "/api/extractions/nope/cancel", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBatch(t *testing.T) {
	env := newTestEnv(t, testConfig())
	doc := env.store(t)

	rec := env.do(formRequest("/api/batch", url.Values{"filename": {doc.Name}, "flavor": {"stream"}}))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var started struct {
		Success   bool   `json:"success"`
		JobID     string `json:"jobId"`
		ResultURL string `json:"resultURL"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &started))
	assert.True(t, started.Success)
	require.NotEmpty(t, started.JobID)

	rec = env.do(httptest.NewRequest(http.MethodGet, "/api/batch/"+started.JobID, nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[BatchResponse](t, rec)
	assert.True(t, resp.Success)
	assert.Equal(t, core.ModeStream, resp.Mode)
	assert.Equal(t, 1, resp.TableCount)
	assert.Equal(t, []int{3}, resp.FailedPages)
	assert.Equal(t, []int{2}, resp.EmptyPages)
	require.NotEmpty(t, resp.Artifact)
	assert.Equal(t, "http://example.com/download/"+url.PathEscape(resp.Artifact), resp.DownloadURL)

	rec = env.do(httptest.NewRequest(http.MethodGet, "/api/batch/unknown", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthAndDashboard(t *testing.T) {
	env := newTestEnv(t, testConfig())
	doc := env.store(t)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	health := decode[HealthResponse](t, rec)
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, 2, health.MaxConcurrent)
	assert.Equal(t, 2, health.Available)

	rec = env.do(httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "No extractions yet.")
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))

	rec = env.do(formRequest("/extract-tables", url.Values{"filename": {doc.Name}, "pages": {"1"}}))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), doc.Name)
	assert.Contains(t, rec.Body.String(), "/download/")

	rec = env.do(httptest.NewRequest(http.MethodGet, "/api/history?limit=5", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var hist struct {
		Success bool           `json:"success"`
		Runs    []HistoryEntry `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &hist))
	require.Len(t, hist.Runs, 1)
	assert.Equal(t, doc.Name, hist.Runs[0].Document)
	assert.Equal(t, "1", hist.Runs[0].Selection)
	assert.True(t, hist.Runs[0].Success)
}

func TestAPIKeyRequired(t *testing.T) {
	cfg := testConfig()
	cfg.Security.RequireAPIKey = true
	cfg.Security.APIKeys = []string{"secret"}
	env := newTestEnv(t, cfg)

	tests := []struct {
		name   string
		path   string
		key    string
		status int
	}{
		{"missing key", "/api/status", "", http.StatusUnauthorized},
		{"wrong key", "/api/status", "guess", http.StatusForbidden},
		{"valid key", "/api/status", "secret", http.StatusOK},
		{"stream requires key", "/api/extractions/x/progress", "", http.StatusUnauthorized},
		{"browser routes stay open", "/healthz", "", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.key != "" {
				req.Header.Set("X-API-Key", tt.key)
			}
			assert.Equal(t, tt.status, env.do(req).Code)
		})
	}
}

func TestHeavyRouteRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Rate.Enabled = true
	cfg.Rate.RequestsPerMinute = 100
	cfg.Rate.UploadLimit = 1
	env := newTestEnv(t, cfg)

	send := func() *httptest.ResponseRecorder {
		body, contentType := multipartBody(t, "file", "notes.txt", []byte("x"))
		req := httptest.NewRequest(http.MethodPost, "/upload-pdf", body)
		req.Header.Set("Content-Type", contentType)
		return env.do(req)
	}

	assert.Equal(t, http.StatusBadRequest, send().Code)

	rec := send()
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "RATE001", decode[ErrorResponse](t, rec).Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))

	rec = env.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code, "other routes keep their own budget")
}

func TestStatusForCode(t *testing.T) {
	tests := []struct {
		code   string
		status int
	}{
		{"SEL001", http.StatusBadRequest},
		{"DOC001", http.StatusNotFound},
		{"DOC002", http.StatusUnprocessableEntity},
		{"DOC003", http.StatusRequestEntityTooLarge},
		{"RUN001", http.StatusServiceUnavailable},
		{"RUN003", statusClientClosedRequest},
		{"RUN004", http.StatusGatewayTimeout},
		{"GEN001", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.status, statusForCode(tt.code))
		})
	}
}
