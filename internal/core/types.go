// Package core provides the business logic for PDF table extraction.
// This package has no transport dependencies and can be used by any frontend.
package core

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// DetectionMode selects how the table detector finds cell boundaries.
type DetectionMode string

const (
	// ModeLattice detects tables from ruling lines drawn on the page.
	ModeLattice DetectionMode = "lattice"
	// ModeStream detects tables from whitespace alignment between text runs.
	ModeStream DetectionMode = "stream"
)

// ParseDetectionMode converts a request flavor into a DetectionMode.
// An empty flavor yields the fallback mode.
func ParseDetectionMode(flavor string, fallback DetectionMode) (DetectionMode, error) {
	switch strings.ToLower(strings.TrimSpace(flavor)) {
	case "":
		return fallback, nil
	case string(ModeLattice):
		return ModeLattice, nil
	case string(ModeStream):
		return ModeStream, nil
	default:
		return "", fmt.Errorf("invalid detection mode %q: must be lattice or stream", flavor)
	}
}

// Document is the handle passed to a PageExtractor.
type Document struct {
	Name      string // Stored file name, e.g. "20240101120000_report.pdf"
	Path      string // Absolute or working-directory relative path
	PageCount int
}

// BaseName returns the document name without its extension.
// Artifacts produced from the document are grouped under this name.
func (d Document) BaseName() string {
	if ext := filepath.Ext(d.Name); strings.EqualFold(ext, ".pdf") {
		return d.Name[:len(d.Name)-len(ext)]
	}
	return d.Name
}

// Table is one rectangular grid of extracted cell text attributed to a page.
type Table struct {
	Page int
	Rows [][]string
}

// Width returns the widest row length.
func (t Table) Width() int {
	w := 0
	for _, row := range t.Rows {
		if len(row) > w {
			w = len(row)
		}
	}
	return w
}

// Normalize pads ragged rows so every row has Width() cells.
func (t Table) Normalize() Table {
	w := t.Width()
	rows := make([][]string, len(t.Rows))
	for i, row := range t.Rows {
		if len(row) == w {
			rows[i] = row
			continue
		}
		padded := make([]string, w)
		copy(padded, row)
		rows[i] = padded
	}
	return Table{Page: t.Page, Rows: rows}
}

// PageExtractor runs table detection on one page of a document.
//
// A page without tables returns an empty slice and a nil error. A page the
// detector cannot process returns an *ExtractionError.
type PageExtractor interface {
	ExtractPage(ctx context.Context, doc Document, page int, mode DetectionMode) ([]Table, error)
}

// PageExtractorFunc adapts a function to the PageExtractor interface.
type PageExtractorFunc func(ctx context.Context, doc Document, page int, mode DetectionMode) ([]Table, error)

// ExtractPage calls f.
func (f PageExtractorFunc) ExtractPage(ctx context.Context, doc Document, page int, mode DetectionMode) ([]Table, error) {
	return f(ctx, doc, page, mode)
}

// EventType tags a ProgressEvent.
type EventType string

const (
	EventProgress   EventType = "progress"
	EventCompletion EventType = "completion"
	EventError      EventType = "error"
	EventKeepalive  EventType = "keepalive"
	EventCleanup    EventType = "cleanup"
)

// IsTerminal reports whether the event ends a run's event sequence.
func (t EventType) IsTerminal() bool {
	return t == EventCompletion || t == EventError
}

// ProgressEvent is one message on a run's progress feed.
// Optional fields are pointers so they are omitted from the wire shape
// unless the event kind carries them.
type ProgressEvent struct {
	Type               EventType `json:"type"`
	Message            string    `json:"message"`
	Percentage         float64   `json:"percentage"`
	Processed          int       `json:"processed"`
	Total              int       `json:"total"`
	Timestamp          time.Time `json:"timestamp"`
	ExtractionComplete *bool     `json:"extractionComplete,omitempty"`
	Tables             *int      `json:"tables,omitempty"`
}

func percentage(processed, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(processed) / float64(total) * 100
}

// NewProgressEvent builds a progress event for processed of total pages.
func NewProgressEvent(msg string, processed, total int, at time.Time) ProgressEvent {
	return ProgressEvent{
		Type:       EventProgress,
		Message:    msg,
		Percentage: percentage(processed, total),
		Processed:  processed,
		Total:      total,
		Timestamp:  at,
	}
}

// NewCompletionEvent builds the successful terminal event.
func NewCompletionEvent(msg string, tables, processed, total int, at time.Time) ProgressEvent {
	done := true
	return ProgressEvent{
		Type:               EventCompletion,
		Message:            msg,
		Percentage:         percentage(processed, total),
		Processed:          processed,
		Total:              total,
		Timestamp:          at,
		ExtractionComplete: &done,
		Tables:             &tables,
	}
}

// NewErrorEvent builds the failing terminal event.
func NewErrorEvent(msg string, processed, total int, at time.Time) ProgressEvent {
	return ProgressEvent{
		Type:       EventError,
		Message:    msg,
		Percentage: percentage(processed, total),
		Processed:  processed,
		Total:      total,
		Timestamp:  at,
	}
}

// KeepaliveEvent is the synthetic heartbeat sent when no real event is ready.
func KeepaliveEvent(at time.Time) ProgressEvent {
	return ProgressEvent{Type: EventKeepalive, Timestamp: at}
}

// CleanupEvent signals an attached emitter that the run's channel is retired.
func CleanupEvent(at time.Time) ProgressEvent {
	return ProgressEvent{Type: EventCleanup, Timestamp: at}
}

// RunSummary is the terminal summary of an interactive extraction run.
type RunSummary struct {
	Session    string        `json:"session"`
	Document   string        `json:"filename"`
	Selection  string        `json:"pages"`
	Mode       DetectionMode `json:"flavor"`
	Artifacts  []string      `json:"artifacts"`
	TableCount int           `json:"tableCount"`
	Success    bool          `json:"success"`
	Error      string        `json:"error,omitempty"`
	Code       string        `json:"code,omitempty"`
	StartedAt  time.Time     `json:"startedAt"`
	Duration   time.Duration `json:"-"`
	ClientIP   string        `json:"-"`
	UserAgent  string        `json:"-"`
}

// BatchSummary is the terminal summary of an offline batch job.
type BatchSummary struct {
	JobID       string        `json:"jobId"`
	Document    string        `json:"filename"`
	Mode        DetectionMode `json:"flavor"`
	Artifact    string        `json:"artifact,omitempty"`
	TableCount  int           `json:"tableCount"`
	RowCount    int           `json:"rowCount"`
	FailedPages []int         `json:"failedPages"`
	EmptyPages  []int         `json:"emptyPages"`
	Success     bool          `json:"success"`
	Error       string        `json:"error,omitempty"`
	Code        string        `json:"code,omitempty"`
	StartedAt   time.Time     `json:"startedAt"`
	Duration    time.Duration `json:"-"`
	ClientIP    string        `json:"-"`
}
