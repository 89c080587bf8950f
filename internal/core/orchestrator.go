package core

// orchestrator.go drives one interactive extraction run.
//
// Pages are extracted one at a time in ascending order so that the percentage
// reported to a live subscriber only ever grows. Progress is published to the
// run's ProgressChannel through a throttle; the terminal event is always
// published and is always the last event of the run.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// DefaultProgressInterval is the minimum spacing between progress publishes.
const DefaultProgressInterval = 5 * time.Second

// NoTablesMessage is the completion message for a run that found nothing.
const NoTablesMessage = "No tables found in the selected pages"

// PersistFunc stores the tables of a finished run and returns the names of
// the artifacts it wrote. It runs before the completion event is published.
type PersistFunc func(ctx context.Context, doc Document, tables []Table) ([]string, error)

// RunOutcome is what an orchestrated run produced.
type RunOutcome struct {
	Tables    []Table
	Artifacts []string
	Processed int
	Total     int
	Err       error
}

// Orchestrator runs sequential, progress-reporting extractions.
type Orchestrator struct {
	extractor PageExtractor
	interval  time.Duration
	now       func() time.Time
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithProgressInterval overrides DefaultProgressInterval.
func WithProgressInterval(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) { o.interval = d }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) OrchestratorOption {
	return func(o *Orchestrator) { o.now = now }
}

// NewOrchestrator creates an Orchestrator over extractor.
func NewOrchestrator(extractor PageExtractor, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		extractor: extractor,
		interval:  DefaultProgressInterval,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run extracts pages from doc in order and reports progress on ch.
//
// The first ExtractionError stops the run and publishes an error event.
// Cancellation of ctx between pages is reported the same way. A nil persist
// skips artifact writing.
func (o *Orchestrator) Run(ctx context.Context, ch *ProgressChannel, doc Document, pages []int, mode DetectionMode, persist PersistFunc) RunOutcome {
	logger := slog.With("document", doc.Name, "mode", mode)
	throttle := newPublishThrottle(o.interval, o.now)
	total := len(pages)

	publish := func(ev ProgressEvent) {
		if throttle.allow(ev) {
			ch.Publish(ev)
		}
	}

	fail := func(out RunOutcome, err error) RunOutcome {
		out.Err = err
		logger.Warn("extraction run failed", "processed", out.Processed, "total", total, "error", err)
		publish(NewErrorEvent(err.Error(), out.Processed, total, o.now()))
		return out
	}

	out := RunOutcome{Total: total}
	publish(NewProgressEvent(fmt.Sprintf("Starting extraction of %d page(s)", total), 0, total, o.now()))

	for _, page := range pages {
		if err := ctx.Err(); err != nil {
			return fail(out, err)
		}

		tables, err := extractPage(ctx, o.extractor, doc, page, mode)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return fail(out, err)
			}
			return fail(out, asExtractionError(page, err))
		}

		for _, t := range tables {
			if len(t.Rows) == 0 {
				continue
			}
			t.Page = page
			out.Tables = append(out.Tables, CleanTable(t))
		}
		out.Processed++

		publish(NewProgressEvent(fmt.Sprintf("Processed page %d (%d of %d)", page, out.Processed, total), out.Processed, total, o.now()))
	}

	if len(out.Tables) == 0 {
		publish(NewCompletionEvent(NoTablesMessage, 0, out.Processed, total, o.now()))
		return out
	}

	if persist != nil {
		artifacts, err := persist(ctx, doc, out.Tables)
		if err != nil {
			return fail(out, fmt.Errorf("save spreadsheets: %w", err))
		}
		out.Artifacts = artifacts
	}

	msg := fmt.Sprintf("Extraction complete: %d table(s) from %d page(s)", len(out.Tables), total)
	publish(NewCompletionEvent(msg, len(out.Tables), out.Processed, total, o.now()))
	logger.Info("extraction run complete", "tables", len(out.Tables), "pages", total)
	return out
}

// publishThrottle admits the first event, every terminal event, and at most
// one other event per interval. It never reorders; it only drops.
type publishThrottle struct {
	interval time.Duration
	now      func() time.Time
	last     time.Time
	started  bool
}

func newPublishThrottle(interval time.Duration, now func() time.Time) *publishThrottle {
	return &publishThrottle{interval: interval, now: now}
}

func (t *publishThrottle) allow(ev ProgressEvent) bool {
	at := t.now()
	if !t.started || ev.Type.IsTerminal() || at.Sub(t.last) >= t.interval {
		t.started = true
		t.last = at
		return true
	}
	return false
}
