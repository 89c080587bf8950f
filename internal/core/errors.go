package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

var (
	// ErrTooManyRuns is returned when all run slots are occupied and the
	// wait timeout expires. Clients should retry after a short delay.
	ErrTooManyRuns = errors.New("too many concurrent extractions, please try again later")

	// ErrRunNotFound is returned for an unknown or expired session or job id.
	ErrRunNotFound = errors.New("extraction run not found")

	// ErrDocumentNotFound is returned when the named upload does not exist.
	ErrDocumentNotFound = errors.New("document not found")

	// ErrDocumentUnreadable is returned when the document cannot be opened
	// or reports no pages. It propagates synchronously to the caller.
	ErrDocumentUnreadable = errors.New("document unreadable")

	// ErrArtifactsNotFound is returned when no spreadsheet exists for a base name.
	ErrArtifactsNotFound = errors.New("no matching spreadsheet files found")
)

// SelectionError reports a malformed page specification.
type SelectionError struct {
	Input  string
	Reason string
}

func (e *SelectionError) Error() string {
	return fmt.Sprintf("invalid page selection %q: %s", e.Input, e.Reason)
}

// ExtractionError reports that the table detector failed on one page.
type ExtractionError struct {
	Page int
	Err  error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction failed on page %d: %v", e.Page, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// asExtractionError wraps err as an *ExtractionError for page unless it
// already is one.
func asExtractionError(page int, err error) *ExtractionError {
	var ee *ExtractionError
	if errors.As(err, &ee) {
		return ee
	}
	return &ExtractionError{Page: page, Err: err}
}

// extractPage calls the extractor for one page. A panic inside the extractor
// is recovered and reported as an *ExtractionError for that page.
func extractPage(ctx context.Context, extractor PageExtractor, doc Document, page int, mode DetectionMode) (tables []Table, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("page extractor panicked", "document", doc.Name, "page", page, "panic", r)
			tables, err = nil, &ExtractionError{Page: page, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	return extractor.ExtractPage(ctx, doc, page, mode)
}
