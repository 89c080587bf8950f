package core

// batch.go extracts every page of a document concurrently.
//
// Each page gets a pre-allocated result slot, so workers never share state and
// the final dataset comes out in page order whatever order the workers finish
// in. A page that fails is logged and skipped; it never cancels the others.

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// BatchResult is the outcome of a fan-out run over a whole document.
type BatchResult struct {
	Tables []Table // non-empty pages, ascending page order
	Failed []int   // pages the extractor failed on
	Empty  []int   // pages with no tables
}

// Combined flattens every table into a single grid in page order, as one
// sheet of the batch spreadsheet.
func (r BatchResult) Combined() Table {
	var rows [][]string
	for _, t := range r.Tables {
		rows = append(rows, t.Rows...)
	}
	return Table{Rows: rows}.Normalize()
}

// RowCount returns the total number of rows across all tables.
func (r BatchResult) RowCount() int {
	n := 0
	for _, t := range r.Tables {
		n += len(t.Rows)
	}
	return n
}

type pageSlot struct {
	tables []Table
	err    error
}

// BatchEngine runs PageExtractor over all pages of a document with a bounded
// worker pool.
type BatchEngine struct {
	extractor PageExtractor
	workers   int
}

// NewBatchEngine creates a BatchEngine. A non-positive workers value uses
// runtime.NumCPU().
func NewBatchEngine(extractor PageExtractor, workers int) *BatchEngine {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &BatchEngine{extractor: extractor, workers: workers}
}

// Run extracts pages 1..doc.PageCount. Only an unusable document is an error;
// per-page failures end up in BatchResult.Failed.
func (b *BatchEngine) Run(ctx context.Context, doc Document, mode DetectionMode) (BatchResult, error) {
	if doc.PageCount < 1 {
		return BatchResult{}, fmt.Errorf("%s: %w", doc.Name, ErrDocumentUnreadable)
	}

	slots := make([]pageSlot, doc.PageCount)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.workers)

	for i := range slots {
		page := i + 1
		g.Go(func() error {
			tables, err := extractPage(gctx, b.extractor, doc, page, mode)
			if err != nil {
				slog.Warn("batch page failed", "document", doc.Name, "page", page, "error", err)
				slots[i].err = asExtractionError(page, err)
				return nil
			}
			slots[i].tables = tables
			return nil
		})
	}

	// Workers never return errors, so Wait only reports completion.
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return BatchResult{}, err
	}

	var res BatchResult
	for i, slot := range slots {
		page := i + 1
		switch {
		case slot.err != nil:
			res.Failed = append(res.Failed, page)
		case !hasRows(slot.tables):
			res.Empty = append(res.Empty, page)
		default:
			for _, t := range slot.tables {
				if len(t.Rows) == 0 {
					continue
				}
				t.Page = page
				res.Tables = append(res.Tables, CleanTable(t))
			}
		}
	}

	slog.Info("batch extraction finished",
		"document", doc.Name,
		"pages", doc.PageCount,
		"tables", len(res.Tables),
		"failed_pages", len(res.Failed),
		"empty_pages", len(res.Empty),
	)
	return res, nil
}

func hasRows(tables []Table) bool {
	for _, t := range tables {
		if len(t.Rows) > 0 {
			return true
		}
	}
	return false
}
