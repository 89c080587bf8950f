package extract

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsawler/tabula/model"
	"github.com/tsawler/tabula/text"

	"github.com/JonMunkholm/tablextract/internal/core"
)

func TestDetectorConfigByMode(t *testing.T) {
	cfg := DefaultConfig()

	lattice := cfg.detectorConfig(core.ModeLattice)
	assert.True(t, lattice.UseLines)
	assert.False(t, lattice.UseWhitespace)

	stream := cfg.detectorConfig(core.ModeStream)
	assert.False(t, stream.UseLines)
	assert.True(t, stream.UseWhitespace)
	assert.Equal(t, cfg.MinRows, stream.MinRows)
}

func TestToModelFragmentsSkipsBlank(t *testing.T) {
	got := toModelFragments([]text.TextFragment{
		{Text: "Name", X: 10, Y: 700, Width: 30, Height: 12, FontSize: 12, FontName: "Helvetica"},
		{Text: "   "},
		{Text: "Qty", X: 200, Y: 700, Width: 20, Height: 12},
	})

	require.Len(t, got, 2)
	assert.Equal(t, "Name", got[0].Text)
	assert.Equal(t, model.BBox{X: 10, Y: 700, Width: 30, Height: 12}, got[0].BBox)
	assert.Equal(t, "Helvetica", got[0].FontName)
	assert.Equal(t, "Qty", got[1].Text)
}

func TestToCoreTable(t *testing.T) {
	mt := &model.Table{Rows: [][]model.Cell{
		{{Text: "a"}, {Text: "b"}},
		{{Text: "c"}, {Text: "d"}},
	}}

	got, ok := toCoreTable(4, mt)
	require.True(t, ok)
	assert.Equal(t, 4, got.Page)
	assert.Equal(t, [][]string{{"a", "b"}, {"c", "d"}}, got.Rows)

	_, ok = toCoreTable(1, &model.Table{})
	assert.False(t, ok)
	_, ok = toCoreTable(1, nil)
	assert.False(t, ok)
}

func TestExtractPage_MissingFile(t *testing.T) {
	e := New(DefaultConfig())
	doc := core.Document{Name: "missing.pdf", Path: filepath.Join(t.TempDir(), "missing.pdf"), PageCount: 1}

	_, err := e.ExtractPage(context.Background(), doc, 1, core.ModeLattice)

	var ee *core.ExtractionError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, 1, ee.Page)
}

func TestExtractPage_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(DefaultConfig()).ExtractPage(ctx, core.Document{Name: "x.pdf"}, 1, core.ModeStream)
	assert.ErrorIs(t, err, context.Canceled)
}
