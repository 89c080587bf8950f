package web

import (
	"net/http"
	"strconv"

	"github.com/JonMunkholm/tablextract/internal/history"
	"github.com/JonMunkholm/tablextract/internal/logging"
	"github.com/JonMunkholm/tablextract/internal/web/templates"
)

// HealthResponse is returned by GET /healthz.
type HealthResponse struct {
	Status        string `json:"status"`
	ActiveRuns    int    `json:"activeRuns"`
	Available     int    `json:"available"`
	MaxConcurrent int    `json:"maxConcurrent"`
}

// handleHealth reports liveness and run slot usage.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.service.Status()
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:        "ok",
		ActiveRuns:    status.Active,
		Available:     status.Available,
		MaxConcurrent: status.MaxConcurrent,
	})
}

// handleDashboard renders recent runs. A history failure is shown on the
// page rather than failing it.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status := s.service.Status()

	params := templates.DashboardParams{
		ActiveRuns:    status.Active,
		MaxConcurrent: status.MaxConcurrent,
	}

	if s.history != nil {
		records, err := s.history.Recent(ctx, history.DefaultRecentLimit)
		if err != nil {
			logging.FromContext(ctx).Warn("load run history", "error", err)
			params.HistoryError = "could not load recent runs"
		}
		params.Runs = toRunRows(records)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := templates.Dashboard(params).Render(ctx, w); err != nil {
		respondErrorHTML(w, r, err)
	}
}

// HistoryEntry is one record in GET /api/history.
type HistoryEntry struct {
	Kind       string   `json:"kind"`
	Ref        string   `json:"ref"`
	Document   string   `json:"filename"`
	Mode       string   `json:"flavor"`
	Selection  string   `json:"pages"`
	TableCount int      `json:"tableCount"`
	Artifacts  []string `json:"artifacts"`
	Success    bool     `json:"success"`
	Error      string   `json:"error,omitempty"`
	StartedAt  string   `json:"startedAt"`
	DurationMS int64    `json:"durationMs"`
}

// handleHistory returns recent runs as JSON. ?limit= caps the list.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := history.DefaultRecentLimit
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = v
	}

	entries := []HistoryEntry{}
	if s.history != nil {
		records, err := s.history.Recent(r.Context(), limit)
		if err != nil {
			respondError(w, r, err)
			return
		}
		for _, rec := range records {
			entries = append(entries, HistoryEntry{
				Kind:       string(rec.Kind),
				Ref:        rec.Ref,
				Document:   rec.Document,
				Mode:       string(rec.Mode),
				Selection:  rec.Selection,
				TableCount: rec.TableCount,
				Artifacts:  rec.Artifacts,
				Success:    rec.Success,
				Error:      rec.Error,
				StartedAt:  rec.StartedAt.UTC().Format("2006-01-02T15:04:05Z"),
				DurationMS: rec.Duration.Milliseconds(),
			})
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "runs": entries})
}

func toRunRows(records []history.Record) []templates.RunRow {
	rows := make([]templates.RunRow, len(records))
	for i, rec := range records {
		rows[i] = templates.RunRow{
			Kind:       string(rec.Kind),
			Ref:        rec.Ref,
			Document:   rec.Document,
			Mode:       string(rec.Mode),
			Selection:  rec.Selection,
			TableCount: rec.TableCount,
			Artifacts:  rec.Artifacts,
			Success:    rec.Success,
			Error:      rec.Error,
			StartedAt:  rec.StartedAt,
			Duration:   rec.Duration,
		}
	}
	return rows
}
