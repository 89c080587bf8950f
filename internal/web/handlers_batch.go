package web

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/tablextract/internal/core"
)

// BatchResponse is the envelope of a finished batch job.
type BatchResponse struct {
	core.BatchSummary
	DownloadURL string `json:"downloadURL,omitempty"`
	Message     string `json:"message"`
	Action      string `json:"action,omitempty"`
}

// handleStartBatch starts a whole-document batch job.
func (s *Server) handleStartBatch(w http.ResponseWriter, r *http.Request) {
	jobID, err := s.service.StartBatch(withRequestMetadata(r.Context(), r), r.FormValue("filename"), r.FormValue("flavor"))
	if err != nil {
		respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"success":   true,
		"jobId":     jobID,
		"resultURL": s.baseURL(r) + "/api/batch/" + url.PathEscape(jobID),
	})
}

// handleBatchResult waits for a batch job and returns its envelope.
func (s *Server) handleBatchResult(w http.ResponseWriter, r *http.Request) {
	summary, err := s.service.BatchResult(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		respondError(w, r, err)
		return
	}

	resp := BatchResponse{BatchSummary: summary}
	if resp.FailedPages == nil {
		resp.FailedPages = []int{}
	}
	if resp.EmptyPages == nil {
		resp.EmptyPages = []int{}
	}

	if !summary.Success {
		msg := core.MessageForCode(summary.Code)
		resp.Message = msg.Message
		resp.Action = msg.Action
		resp.Code = msg.Code
		logError(r, errors.New(summary.Error), msg, http.StatusUnprocessableEntity)
		writeJSON(w, http.StatusUnprocessableEntity, resp)
		return
	}

	if summary.Artifact == "" {
		resp.Message = core.NoTablesMessage
	} else {
		resp.Message = "Tables extracted successfully"
		resp.DownloadURL = s.baseURL(r) + "/download/" + url.PathEscape(summary.Artifact)
	}
	writeJSON(w, http.StatusOK, resp)
}
