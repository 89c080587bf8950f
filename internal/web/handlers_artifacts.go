package web

import (
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/tablextract/internal/core"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// SpreadsheetList is returned by GET /excel/{filename}.
type SpreadsheetList struct {
	Success bool     `json:"success"`
	Files   []string `json:"files"`
	URLs    []string `json:"urls"`
}

// baseName maps a stored document name to the base its spreadsheets are
// grouped under. A base passed in already is returned unchanged.
func baseName(name string) string {
	return core.Document{Name: name}.BaseName()
}

// handleListSpreadsheets lists the spreadsheets of the newest extraction of
// a document. The path takes either the stored document name or its base.
func (s *Server) handleListSpreadsheets(w http.ResponseWriter, r *http.Request) {
	base := baseName(chi.URLParam(r, "filename"))

	files, err := s.service.ResolveLatest(base)
	if err != nil {
		respondError(w, r, err)
		return
	}

	origin := s.baseURL(r)
	urls := make([]string, len(files))
	for i, f := range files {
		urls[i] = origin + "/download/" + url.PathEscape(f)
	}
	writeJSON(w, http.StatusOK, SpreadsheetList{Success: true, Files: files, URLs: urls})
}

// handleDownload serves one generated spreadsheet.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "filename")

	path, err := s.artifacts.Path(name)
	if err != nil {
		respondError(w, r, core.ErrArtifactsNotFound)
		return
	}

	serveFile(w, r, path, name, xlsxContentType, "attachment", core.ErrArtifactsNotFound)
}
