package web

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/tablextract/internal/core"
	"github.com/JonMunkholm/tablextract/internal/logging"
)

// ExtractionResponse is the envelope of a finished interactive run.
//
// "number of tables" and tablesURL keep the field names the browser
// frontend reads.
type ExtractionResponse struct {
	Success        bool               `json:"success"`
	Filename       string             `json:"filename"`
	Session        string             `json:"session"`
	Pages          string             `json:"pages"`
	Flavor         core.DetectionMode `json:"flavor"`
	Message        string             `json:"message"`
	TablesURL      string             `json:"tablesURL,omitempty"`
	NumberOfTables int                `json:"number of tables"`
	Artifacts      []string           `json:"artifacts"`
	Error          string             `json:"error,omitempty"`
	Action         string             `json:"action,omitempty"`
	Code           string             `json:"code,omitempty"`
}

// ExtractionStarted is returned when a run is accepted for background
// processing.
type ExtractionStarted struct {
	Success     bool   `json:"success"`
	Session     string `json:"session"`
	ProgressURL string `json:"progressURL"`
	ResultURL   string `json:"resultURL"`
}

func extractionRequest(r *http.Request) core.ExtractionRequest {
	return core.ExtractionRequest{
		Document: r.FormValue("filename"),
		Pages:    r.FormValue("pages"),
		Flavor:   r.FormValue("flavor"),
	}
}

// handleExtractTables runs an extraction and answers when it has finished.
// Progress can be followed meanwhile on /extraction-progress.
func (s *Server) handleExtractTables(w http.ResponseWriter, r *http.Request) {
	req := extractionRequest(r)

	summary, err := s.service.RunInteractive(withRequestMetadata(r.Context(), r), req)
	if err != nil {
		respondError(w, r, err)
		return
	}
	s.respondSummary(w, r, summary)
}

// handleStartExtraction starts an extraction and returns its session id.
func (s *Server) handleStartExtraction(w http.ResponseWriter, r *http.Request) {
	req := extractionRequest(r)

	session, err := s.service.StartInteractive(withRequestMetadata(r.Context(), r), req)
	if err != nil {
		respondError(w, r, err)
		return
	}

	logging.WithFields(r.Context(), "session", session, "document", req.Document).Info("extraction accepted")

	base := s.baseURL(r) + "/api/extractions/" + url.PathEscape(session)
	writeJSON(w, http.StatusAccepted, ExtractionStarted{
		Success:     true,
		Session:     session,
		ProgressURL: base + "/progress",
		ResultURL:   base + "/result",
	})
}

// handleExtractionResult waits for a run and returns its envelope.
func (s *Server) handleExtractionResult(w http.ResponseWriter, r *http.Request) {
	summary, err := s.service.Result(r.Context(), chi.URLParam(r, "session"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	s.respondSummary(w, r, summary)
}

// handleCancelExtraction stops a run. Its subscribers receive an error event.
func (s *Server) handleCancelExtraction(w http.ResponseWriter, r *http.Request) {
	session := chi.URLParam(r, "session")
	if err := s.service.Cancel(session); err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "session": session, "status": "cancelled"})
}

// respondSummary writes a run summary as 200 on success and 422 with the
// failure details otherwise. A run that found no tables is a success.
func (s *Server) respondSummary(w http.ResponseWriter, r *http.Request, summary core.RunSummary) {
	resp := ExtractionResponse{
		Success:        summary.Success,
		Filename:       summary.Document,
		Session:        summary.Session,
		Pages:          summary.Selection,
		Flavor:         summary.Mode,
		NumberOfTables: summary.TableCount,
		Artifacts:      summary.Artifacts,
	}
	if resp.Artifacts == nil {
		resp.Artifacts = []string{}
	}

	if !summary.Success {
		msg := core.MessageForCode(summary.Code)
		resp.Message = msg.Message
		resp.Error = summary.Error
		resp.Action = msg.Action
		resp.Code = msg.Code

		logError(r, errors.New(summary.Error), msg, http.StatusUnprocessableEntity)
		writeJSON(w, http.StatusUnprocessableEntity, resp)
		return
	}

	switch summary.TableCount {
	case 0:
		resp.Message = core.NoTablesMessage
	default:
		resp.Message = "Tables extracted successfully"
		resp.TablesURL = s.baseURL(r) + "/excel/" + url.PathEscape(baseName(summary.Document))
	}
	writeJSON(w, http.StatusOK, resp)
}
