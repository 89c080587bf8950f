// Package history records terminal summaries of extraction runs and batch
// jobs for the dashboard.
//
// Two stores are provided: Postgres (via pgx) when a database is configured,
// and a bounded in-memory store otherwise.
package history

import (
	"context"
	"time"

	"github.com/JonMunkholm/tablextract/internal/core"
)

// Kind distinguishes interactive runs from batch jobs.
type Kind string

const (
	KindRun   Kind = "run"
	KindBatch Kind = "batch"
)

// Record is one finished run or batch job.
type Record struct {
	Kind       Kind
	Ref        string // session id or batch job id
	Document   string
	Mode       core.DetectionMode
	Selection  string
	TableCount int
	Artifacts  []string
	Success    bool
	Error      string
	ClientIP   string
	UserAgent  string
	StartedAt  time.Time
	Duration   time.Duration
}

// Store persists records and lists the newest ones first.
type Store interface {
	core.RunRecorder
	Recent(ctx context.Context, limit int) ([]Record, error)
}

// DefaultRecentLimit is the page size of the dashboard's history table.
const DefaultRecentLimit = 50

// FromRun converts an interactive run summary.
func FromRun(run core.RunSummary) Record {
	return Record{
		Kind:       KindRun,
		Ref:        run.Session,
		Document:   run.Document,
		Mode:       run.Mode,
		Selection:  run.Selection,
		TableCount: run.TableCount,
		Artifacts:  run.Artifacts,
		Success:    run.Success,
		Error:      run.Error,
		ClientIP:   run.ClientIP,
		UserAgent:  run.UserAgent,
		StartedAt:  run.StartedAt,
		Duration:   run.Duration,
	}
}

// FromBatch converts a batch job summary. Batch jobs always cover every page.
func FromBatch(job core.BatchSummary) Record {
	var artifacts []string
	if job.Artifact != "" {
		artifacts = []string{job.Artifact}
	}
	return Record{
		Kind:       KindBatch,
		Ref:        job.JobID,
		Document:   job.Document,
		Mode:       job.Mode,
		Selection:  "all",
		TableCount: job.TableCount,
		Artifacts:  artifacts,
		Success:    job.Success,
		Error:      job.Error,
		ClientIP:   job.ClientIP,
		StartedAt:  job.StartedAt,
		Duration:   job.Duration,
	}
}
