package web

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/tablextract/internal/core"
	"github.com/JonMunkholm/tablextract/internal/logging"
	"github.com/JonMunkholm/tablextract/internal/storage"
)

// multipartOverhead is the allowance for multipart framing on top of the
// file size limit.
const multipartOverhead = 1 << 20

// UploadResponse is returned by POST /upload-pdf.
type UploadResponse struct {
	Success     bool   `json:"success"`
	Filename    string `json:"filename"`
	Message     string `json:"message"`
	DocumentURL string `json:"documentURL"`
	TotalPages  int    `json:"totalPages"`
}

// handleUpload stores a PDF sent as the multipart field "file". The file is
// streamed to disk without buffering the whole request.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.documents.MaxFileSize()+multipartOverhead)

	mr, err := r.MultipartReader()
	if err != nil {
		respondError(w, r, uploadError(err))
		return
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			respondError(w, r, storage.ErrNoFile)
			return
		}
		if err != nil {
			respondError(w, r, uploadError(err))
			return
		}

		if part.FormName() != "file" {
			part.Close()
			continue
		}

		doc, err := s.documents.Save(part.FileName(), part)
		part.Close()
		if err != nil {
			respondError(w, r, uploadError(err))
			return
		}

		logging.WithFields(r.Context(), "document", doc.Name, "pages", doc.PageCount).Info("pdf uploaded")

		writeJSON(w, http.StatusOK, UploadResponse{
			Success:     true,
			Filename:    doc.Name,
			Message:     "PDF uploaded successfully",
			DocumentURL: s.baseURL(r) + "/pdf/" + url.PathEscape(doc.Name),
			TotalPages:  doc.PageCount,
		})
		return
	}
}

// handleGetPDF serves a stored upload for display in the browser.
func (s *Server) handleGetPDF(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "filename")

	path, err := s.documents.Path(name)
	if err != nil {
		respondError(w, r, err)
		return
	}

	serveFile(w, r, path, name, "application/pdf", "inline", core.ErrDocumentNotFound)
}

// serveFile streams the file at path, reporting a missing file as notFound.
func serveFile(w http.ResponseWriter, r *http.Request, path, name, contentType, disposition string, notFound error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			err = notFound
		}
		respondError(w, r, err)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		respondError(w, r, notFound)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType(disposition, map[string]string{"filename": name}))
	http.ServeContent(w, r, name, info.ModTime(), f)
}
