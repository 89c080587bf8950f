package spreadsheet

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/tablextract/internal/core"
)

func TestWriter_RoundTrip(t *testing.T) {
	w, err := NewWriter(filepath.Join(t.TempDir(), "artifacts"))
	require.NoError(t, err)

	table := core.Table{Rows: [][]string{
		{"Item", "Qty"},
		{"Bolts", "12"},
		{"سالم", "3"},
	}}

	name := core.ArtifactName("20240301100000.000000", "report", 0)
	require.NoError(t, w.WriteTable(context.Background(), name, table))

	_, err = os.Stat(filepath.Join(w.Dir(), ".tmp-"+name))
	assert.True(t, os.IsNotExist(err), "temp file must be renamed away")

	got, err := w.ReadTable(name)
	require.NoError(t, err)
	assert.Equal(t, table.Rows, got.Rows)
}

func TestWriter_RejectsBadNames(t *testing.T) {
	w, err := NewWriter(t.TempDir())
	require.NoError(t, err)

	for _, name := range []string{"", "../escape.xlsx", "sub/dir.xlsx", ".hidden.xlsx", "report.csv"} {
		t.Run(name, func(t *testing.T) {
			err := w.WriteTable(context.Background(), name, core.Table{})
			assert.True(t, errors.Is(err, ErrInvalidName), "got %v", err)

			_, err = w.Path(name)
			assert.ErrorIs(t, err, ErrInvalidName)
		})
	}
}

func TestWriter_ReadMissing(t *testing.T) {
	w, err := NewWriter(t.TempDir())
	require.NoError(t, err)

	_, err = w.ReadTable("nope.xlsx")
	assert.ErrorIs(t, err, core.ErrArtifactsNotFound)
}

func TestWriter_CancelledContext(t *testing.T) {
	w, err := NewWriter(t.TempDir())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, w.WriteTable(ctx, "a.xlsx", core.Table{}), context.Canceled)
}

func TestWriter_Remove(t *testing.T) {
	w, err := NewWriter(t.TempDir())
	require.NoError(t, err)

	name := core.ArtifactName("20240301100000.000000", "report", 1)
	require.NoError(t, w.WriteTable(context.Background(), name, core.Table{Rows: [][]string{{"a"}}}))
	require.NoError(t, w.Remove(name))

	_, err = w.ReadTable(name)
	assert.ErrorIs(t, err, core.ErrArtifactsNotFound)

	assert.NoError(t, w.Remove(name), "removing a missing spreadsheet is not an error")
	assert.ErrorIs(t, w.Remove("../escape.xlsx"), ErrInvalidName)
}
