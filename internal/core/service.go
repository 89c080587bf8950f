package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DocumentSource resolves stored uploads by name.
//
// Open returns ErrDocumentNotFound for unknown names and ErrDocumentUnreadable
// for files that cannot be parsed or report no pages.
type DocumentSource interface {
	Open(name string) (Document, error)
}

// SpreadsheetWriter persists one table as a named spreadsheet in the
// artifact directory. Remove deletes a spreadsheet; a missing name is not an
// error.
type SpreadsheetWriter interface {
	WriteTable(ctx context.Context, name string, table Table) error
	Remove(name string) error
}

// RunRecorder stores terminal summaries for the dashboard and audit trail.
type RunRecorder interface {
	RecordRun(ctx context.Context, run RunSummary) error
	RecordBatch(ctx context.Context, job BatchSummary) error
}

// Options tunes a Service. Zero values fall back to package defaults.
type Options struct {
	DefaultMode      DetectionMode
	ProgressInterval time.Duration
	MaxConcurrent    int
	MaxWait          time.Duration
	RunTimeout       time.Duration
	ChannelTTL       time.Duration
	BatchWorkers     int
}

// DefaultRunTimeout bounds a single run, interactive or batch.
const DefaultRunTimeout = 30 * time.Minute

// DefaultChannelTTL is how long a finished run stays subscribable.
const DefaultChannelTTL = 5 * time.Minute

func (o Options) withDefaults() Options {
	if o.DefaultMode == "" {
		o.DefaultMode = ModeLattice
	}
	if o.ProgressInterval <= 0 {
		o.ProgressInterval = DefaultProgressInterval
	}
	if o.RunTimeout <= 0 {
		o.RunTimeout = DefaultRunTimeout
	}
	if o.ChannelTTL <= 0 {
		o.ChannelTTL = DefaultChannelTTL
	}
	return o
}

// ExtractionRequest is the caller-facing input of an interactive run.
type ExtractionRequest struct {
	Document string // stored upload name
	Pages    string // page selection, "all" when empty
	Flavor   string // detection mode, Options.DefaultMode when empty
}

// Service coordinates extraction runs. It is safe for concurrent use.
type Service struct {
	docs     DocumentSource
	sheets   SpreadsheetWriter
	recorder RunRecorder
	opts     Options

	sessions     *SessionIndex
	channels     *ChannelRegistry
	limiter      *RunLimiter
	orchestrator *Orchestrator
	batch        *BatchEngine

	mu   sync.RWMutex
	runs map[string]*activeRun
	jobs map[string]*batchJob
}

type activeRun struct {
	Session  string
	Cancel   context.CancelFunc
	Summary  RunSummary
	Finished time.Time
	Done     chan struct{}
}

type batchJob struct {
	ID      string
	Cancel  context.CancelFunc
	Summary BatchSummary
	Done    chan struct{}
}

// NewService creates a Service. recorder may be nil.
func NewService(docs DocumentSource, extractor PageExtractor, sheets SpreadsheetWriter, sessions *SessionIndex, recorder RunRecorder, opts Options) *Service {
	opts = opts.withDefaults()

	return &Service{
		docs:         docs,
		sheets:       sheets,
		recorder:     recorder,
		opts:         opts,
		sessions:     sessions,
		channels:     NewChannelRegistry(),
		limiter:      NewRunLimiter(opts.MaxConcurrent, opts.MaxWait),
		orchestrator: NewOrchestrator(extractor, WithProgressInterval(opts.ProgressInterval)),
		batch:        NewBatchEngine(extractor, opts.BatchWorkers),
		runs:         make(map[string]*activeRun),
		jobs:         make(map[string]*batchJob),
	}
}

// StartInteractive validates req, reserves a run slot and starts the run in
// the background. Malformed selections, unknown documents and selections
// beyond the document's last page are reported here and no run is started.
// Use Subscribe for progress and Result for the summary.
func (s *Service) StartInteractive(ctx context.Context, req ExtractionRequest) (string, error) {
	mode, err := ParseDetectionMode(req.Flavor, s.opts.DefaultMode)
	if err != nil {
		return "", err
	}

	sel, err := ParseSelection(req.Pages)
	if err != nil {
		return "", err
	}

	doc, err := s.docs.Open(req.Document)
	if err != nil {
		return "", err
	}

	pages, err := sel.Resolve(doc.PageCount)
	if err != nil {
		return "", err
	}

	if err := s.limiter.Acquire(ctx); err != nil {
		return "", err
	}

	session := s.sessions.NewSession()
	ch := s.channels.Open(session)
	runCtx, cancel := context.WithTimeout(context.Background(), s.opts.RunTimeout)

	run := &activeRun{
		Session: session,
		Cancel:  cancel,
		Summary: RunSummary{
			Session:   session,
			Document:  doc.Name,
			Selection: sel.String(),
			Mode:      mode,
			StartedAt: time.Now(),
			ClientIP:  ClientIPFromContext(ctx),
			UserAgent: UserAgentFromContext(ctx),
		},
		Done: make(chan struct{}),
	}

	s.mu.Lock()
	s.runs[session] = run
	s.mu.Unlock()

	slog.Info("extraction run started",
		"session", session,
		"document", doc.Name,
		"pages", len(pages),
		"mode", mode,
	)

	go s.processRun(runCtx, run, ch, doc, pages, mode)

	return session, nil
}

func (s *Service) processRun(ctx context.Context, run *activeRun, ch *ProgressChannel, doc Document, pages []int, mode DetectionMode) {
	defer run.Cancel()

	out := s.orchestrator.Run(ctx, ch, doc, pages, mode, s.persistTables(run.Session))
	s.limiter.Release()

	summary := run.Summary
	summary.Artifacts = out.Artifacts
	summary.TableCount = len(out.Tables)
	summary.Success = out.Err == nil
	if out.Err != nil {
		summary.Error = out.Err.Error()
		summary.Code = MapError(out.Err).Code
	}
	summary.Duration = time.Since(summary.StartedAt)

	s.record(func(ctx context.Context) error { return s.recorder.RecordRun(ctx, summary) })

	s.mu.Lock()
	run.Summary = summary
	run.Finished = time.Now()
	s.mu.Unlock()
	close(run.Done)

	s.cleanupRun(run.Session, s.opts.ChannelTTL)
}

// persistTables writes a single table to the canonical artifact name and
// several tables to numbered names, one spreadsheet per table. When a write
// fails, the spreadsheets already written for the session are removed so a
// failed run never shadows an earlier successful one.
func (s *Service) persistTables(session string) PersistFunc {
	return func(ctx context.Context, doc Document, tables []Table) ([]string, error) {
		if s.sheets == nil {
			return nil, nil
		}

		base := doc.BaseName()
		if len(tables) == 1 {
			name := ArtifactName(session, base, 0)
			if err := s.sheets.WriteTable(ctx, name, tables[0]); err != nil {
				return nil, err
			}
			return []string{name}, nil
		}

		names := make([]string, 0, len(tables))
		for i, t := range tables {
			name := ArtifactName(session, base, i+1)
			if err := s.sheets.WriteTable(ctx, name, t); err != nil {
				s.removeArtifacts(session, names)
				return nil, err
			}
			names = append(names, name)
		}
		return names, nil
	}
}

func (s *Service) removeArtifacts(session string, names []string) {
	for _, name := range names {
		if err := s.sheets.Remove(name); err != nil {
			slog.Warn("remove partial spreadsheet", "session", session, "name", name, "error", err)
		}
	}
}

// Subscribe returns the progress channel of a run.
func (s *Service) Subscribe(session string) (*ProgressChannel, error) {
	ch, ok := s.channels.Lookup(session)
	if !ok {
		return nil, fmt.Errorf("session %s: %w", session, ErrRunNotFound)
	}
	return ch, nil
}

// Latest returns the newest run that can still be subscribed to.
func (s *Service) Latest() (string, bool) {
	return s.channels.Latest()
}

// AwaitLatest returns the newest run that is still in progress or finished
// at or after since, waiting for one to start if there is none yet. Runs
// that finished before since are skipped so a late subscriber never attaches
// to an earlier run's leftover events.
func (s *Service) AwaitLatest(ctx context.Context, since time.Time) (string, error) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		if session, ok := s.latestSince(since); ok {
			return session, nil
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Service) latestSince(since time.Time) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest string
	for session, run := range s.runs {
		if !run.Finished.IsZero() && run.Finished.Before(since) {
			continue
		}
		if _, ok := s.channels.Lookup(session); !ok {
			continue
		}
		if session > latest {
			latest = session
		}
	}
	return latest, latest != ""
}

// Result waits for a run to finish and returns its summary.
func (s *Service) Result(ctx context.Context, session string) (RunSummary, error) {
	s.mu.RLock()
	run, ok := s.runs[session]
	s.mu.RUnlock()

	if !ok {
		return RunSummary{}, fmt.Errorf("session %s: %w", session, ErrRunNotFound)
	}

	select {
	case <-run.Done:
	case <-ctx.Done():
		return RunSummary{}, ctx.Err()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return run.Summary, nil
}

// RunInteractive starts a run and waits for its summary.
func (s *Service) RunInteractive(ctx context.Context, req ExtractionRequest) (RunSummary, error) {
	session, err := s.StartInteractive(ctx, req)
	if err != nil {
		return RunSummary{}, err
	}
	return s.Result(ctx, session)
}

// Cancel stops an in-progress run. Its terminal event is an error event.
func (s *Service) Cancel(session string) error {
	s.mu.RLock()
	run, ok := s.runs[session]
	s.mu.RUnlock()

	if !ok {
		return fmt.Errorf("session %s: %w", session, ErrRunNotFound)
	}

	run.Cancel()
	return nil
}

// StartBatch starts a whole-document batch job and returns its id. The job
// writes one spreadsheet holding every table in page order.
func (s *Service) StartBatch(ctx context.Context, document, flavor string) (string, error) {
	mode, err := ParseDetectionMode(flavor, s.opts.DefaultMode)
	if err != nil {
		return "", err
	}

	doc, err := s.docs.Open(document)
	if err != nil {
		return "", err
	}

	jobID := uuid.New().String()
	jobCtx, cancel := context.WithTimeout(context.Background(), s.opts.RunTimeout)

	job := &batchJob{
		ID:     jobID,
		Cancel: cancel,
		Summary: BatchSummary{
			JobID:     jobID,
			Document:  doc.Name,
			Mode:      mode,
			StartedAt: time.Now(),
			ClientIP:  ClientIPFromContext(ctx),
		},
		Done: make(chan struct{}),
	}

	s.mu.Lock()
	s.jobs[jobID] = job
	s.mu.Unlock()

	slog.Info("batch job started", "job_id", jobID, "document", doc.Name, "pages", doc.PageCount, "mode", mode)

	go s.processBatch(jobCtx, job, doc, mode)

	return jobID, nil
}

func (s *Service) processBatch(ctx context.Context, job *batchJob, doc Document, mode DetectionMode) {
	defer job.Cancel()

	summary := s.executeBatch(ctx, job.Summary, doc, mode)

	s.record(func(ctx context.Context) error { return s.recorder.RecordBatch(ctx, summary) })

	s.mu.Lock()
	job.Summary = summary
	s.mu.Unlock()
	close(job.Done)

	s.cleanupJob(job.ID, s.opts.ChannelTTL)
}

func (s *Service) executeBatch(ctx context.Context, summary BatchSummary, doc Document, mode DetectionMode) BatchSummary {
	defer func() { summary.Duration = time.Since(summary.StartedAt) }()

	res, err := s.batch.Run(ctx, doc, mode)
	if err != nil {
		summary.Error = err.Error()
		summary.Code = MapError(err).Code
		return summary
	}

	summary.TableCount = len(res.Tables)
	summary.RowCount = res.RowCount()
	summary.FailedPages = res.Failed
	summary.EmptyPages = res.Empty
	summary.Success = true

	if len(res.Tables) == 0 || s.sheets == nil {
		return summary
	}

	name := ArtifactName(s.sessions.NewSession(), doc.BaseName(), 0)
	if err := s.sheets.WriteTable(ctx, name, res.Combined()); err != nil {
		summary.Success = false
		summary.Error = fmt.Sprintf("save spreadsheet: %v", err)
		summary.Code = MapError(err).Code
		return summary
	}
	summary.Artifact = name
	return summary
}

// RunBatch extracts a whole document and waits for the summary. It does not
// take a run slot; batch parallelism is bounded by Options.BatchWorkers.
func (s *Service) RunBatch(ctx context.Context, document, flavor string) (BatchSummary, error) {
	jobID, err := s.StartBatch(ctx, document, flavor)
	if err != nil {
		return BatchSummary{}, err
	}
	return s.BatchResult(ctx, jobID)
}

// BatchResult waits for a batch job to finish and returns its summary.
func (s *Service) BatchResult(ctx context.Context, jobID string) (BatchSummary, error) {
	s.mu.RLock()
	job, ok := s.jobs[jobID]
	s.mu.RUnlock()

	if !ok {
		return BatchSummary{}, fmt.Errorf("job %s: %w", jobID, ErrRunNotFound)
	}

	select {
	case <-job.Done:
	case <-ctx.Done():
		return BatchSummary{}, ctx.Err()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return job.Summary, nil
}

// ResolveLatest returns the spreadsheets of the newest session for base.
func (s *Service) ResolveLatest(base string) ([]string, error) {
	return s.sessions.ResolveLatest(base)
}

// Status reports run slot usage.
func (s *Service) Status() RunLimiterStatus {
	return s.limiter.Status()
}

// Shutdown cancels every in-progress run and batch job and waits for run
// slots to drain.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.RLock()
	for _, run := range s.runs {
		run.Cancel()
	}
	for _, job := range s.jobs {
		job.Cancel()
	}
	s.mu.RUnlock()

	if err := s.limiter.WaitForDrain(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("wait for runs: %w", err)
	}
	return nil
}

func (s *Service) record(fn func(ctx context.Context) error) {
	if s.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := fn(ctx); err != nil {
		slog.Warn("record run history", "error", err)
	}
}

// cleanupRun retires the run's channel and forgets the run after delay.
func (s *Service) cleanupRun(session string, delay time.Duration) {
	time.AfterFunc(delay, func() {
		s.channels.Retire(session, 0)
		s.mu.Lock()
		delete(s.runs, session)
		s.mu.Unlock()
	})
}

// cleanupJob forgets a batch job after delay.
func (s *Service) cleanupJob(jobID string, delay time.Duration) {
	time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.jobs, jobID)
		s.mu.Unlock()
	})
}
