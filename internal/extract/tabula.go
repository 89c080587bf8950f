// Package extract implements core.PageExtractor on top of the tabula PDF
// library.
//
// Lattice mode feeds the page's ruling lines and rectangles to the detector
// and keeps only tables with a visible grid. Stream mode ignores drawn lines
// and detects tables from text alignment alone.
package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/tsawler/tabula/graphicsstate"
	"github.com/tsawler/tabula/model"
	"github.com/tsawler/tabula/pages"
	"github.com/tsawler/tabula/reader"
	"github.com/tsawler/tabula/tables"
	"github.com/tsawler/tabula/text"

	pdfcore "github.com/tsawler/tabula/core"

	"github.com/JonMunkholm/tablextract/internal/core"
)

// Config tunes table detection.
type Config struct {
	MinRows            int
	MinCols            int
	MinConfidence      float64
	MaxCellGap         float64
	AlignmentTolerance float64
}

// DefaultConfig mirrors tabula's defaults.
func DefaultConfig() Config {
	d := tables.DefaultConfig()
	return Config{
		MinRows:            d.MinRows,
		MinCols:            d.MinCols,
		MinConfidence:      d.MinConfidence,
		MaxCellGap:         d.MaxCellGap,
		AlignmentTolerance: d.AlignmentTolerance,
	}
}

func (c Config) detectorConfig(mode core.DetectionMode) tables.Config {
	return tables.Config{
		MinRows:            c.MinRows,
		MinCols:            c.MinCols,
		MinConfidence:      c.MinConfidence,
		UseLines:           mode == core.ModeLattice,
		UseWhitespace:      mode == core.ModeStream,
		MaxCellGap:         c.MaxCellGap,
		AlignmentTolerance: c.AlignmentTolerance,
		DetectMergedCells:  mode == core.ModeLattice,
	}
}

// Extractor detects tables on single PDF pages. It is safe for concurrent
// use; every call opens its own reader.
type Extractor struct {
	cfg Config
}

// New creates an Extractor.
func New(cfg Config) *Extractor {
	return &Extractor{cfg: cfg}
}

// ExtractPage implements core.PageExtractor. page is 1-based.
func (e *Extractor) ExtractPage(ctx context.Context, doc core.Document, page int, mode core.DetectionMode) ([]core.Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r, err := reader.Open(doc.Path)
	if err != nil {
		return nil, &core.ExtractionError{Page: page, Err: fmt.Errorf("open %s: %w", doc.Name, err)}
	}
	defer r.Close()

	p, err := r.GetPage(page - 1)
	if err != nil {
		return nil, &core.ExtractionError{Page: page, Err: err}
	}

	mp, err := buildPage(r, p, page, mode)
	if err != nil {
		return nil, &core.ExtractionError{Page: page, Err: err}
	}
	if len(mp.RawText) == 0 {
		return nil, nil
	}

	detector := tables.NewGeometricDetector()
	if err := detector.Configure(e.cfg.detectorConfig(mode)); err != nil {
		return nil, &core.ExtractionError{Page: page, Err: err}
	}

	found, err := detector.Detect(mp)
	if err != nil {
		return nil, &core.ExtractionError{Page: page, Err: err}
	}

	out := make([]core.Table, 0, len(found))
	for _, t := range found {
		if mode == core.ModeLattice && !t.HasGrid {
			continue
		}
		if tbl, ok := toCoreTable(page, t); ok {
			out = append(out, tbl)
		}
	}
	return out, nil
}

func buildPage(r *reader.Reader, p *pages.Page, number int, mode core.DetectionMode) (*model.Page, error) {
	width, err := p.Width()
	if err != nil {
		return nil, fmt.Errorf("page width: %w", err)
	}
	height, err := p.Height()
	if err != nil {
		return nil, fmt.Errorf("page height: %w", err)
	}

	mp := model.NewPage(width, height)
	mp.Number = number

	fragments, err := r.ExtractTextFragments(p)
	if err != nil {
		return nil, err
	}
	mp.RawText = toModelFragments(fragments)

	if mode == core.ModeLattice {
		lines, err := rulingLines(p)
		if err != nil {
			return nil, err
		}
		mp.RawLines = lines
	}
	return mp, nil
}

// rulingLines returns the lines and rectangle edges drawn on the page.
func rulingLines(p *pages.Page) ([]model.Line, error) {
	contents, err := p.Contents()
	if err != nil {
		return nil, fmt.Errorf("page contents: %w", err)
	}

	var data []byte
	for _, obj := range contents {
		stream, ok := obj.(*pdfcore.Stream)
		if !ok {
			continue
		}
		decoded, err := stream.Decode()
		if err != nil {
			return nil, fmt.Errorf("decode content stream: %w", err)
		}
		data = append(data, decoded...)
	}
	if len(data) == 0 {
		return nil, nil
	}

	ge := graphicsstate.NewGraphicsExtractor()
	if err := ge.ExtractFromBytes(data); err != nil {
		return nil, fmt.Errorf("read graphics: %w", err)
	}

	lines := ge.ToModelLines()
	return append(lines, ge.ToModelRectangles()...), nil
}

func toModelFragments(fragments []text.TextFragment) []model.TextFragment {
	out := make([]model.TextFragment, 0, len(fragments))
	for _, f := range fragments {
		if strings.TrimSpace(f.Text) == "" {
			continue
		}
		out = append(out, model.TextFragment{
			Text:     f.Text,
			BBox:     model.BBox{X: f.X, Y: f.Y, Width: f.Width, Height: f.Height},
			FontSize: f.FontSize,
			FontName: f.FontName,
		})
	}
	return out
}

func toCoreTable(page int, t *model.Table) (core.Table, bool) {
	if t == nil || len(t.Rows) == 0 {
		return core.Table{}, false
	}

	rows := make([][]string, len(t.Rows))
	for i, row := range t.Rows {
		cells := make([]string, len(row))
		for j, cell := range row {
			cells[j] = cell.Text
		}
		rows[i] = cells
	}
	return core.Table{Page: page, Rows: rows}, true
}
