// Package spreadsheet writes extracted tables as .xlsx files.
package spreadsheet

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/JonMunkholm/tablextract/internal/core"
)

// SheetName is the name of the single worksheet in every file.
const SheetName = "Sheet1"

// ErrInvalidName is returned for artifact names that are not plain .xlsx
// file names.
var ErrInvalidName = errors.New("invalid spreadsheet name")

// Writer stores spreadsheets in one directory.
type Writer struct {
	dir string
}

// NewWriter creates a Writer for dir, creating the directory if needed.
func NewWriter(dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	return &Writer{dir: dir}, nil
}

// Dir returns the artifact directory.
func (w *Writer) Dir() string {
	return w.dir
}

// WriteTable implements core.SpreadsheetWriter. Rows are written as-is with
// no header row; the first extracted row usually is the header.
func (w *Writer) WriteTable(ctx context.Context, name string, table core.Table) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkName(name); err != nil {
		return err
	}

	f := excelize.NewFile()
	defer f.Close()

	for i, row := range table.Rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		values := make([]interface{}, len(row))
		for j, v := range row {
			values[j] = v
		}
		if err := f.SetSheetRow(SheetName, cell, &values); err != nil {
			return fmt.Errorf("write row %d: %w", i+1, err)
		}
	}

	// Write to a hidden temp name first so readers never see a partial file.
	// The temp name keeps the .xlsx extension; excelize checks it on save.
	final := filepath.Join(w.dir, name)
	tmp := filepath.Join(w.dir, ".tmp-"+name)
	if err := f.SaveAs(tmp); err != nil {
		return fmt.Errorf("save %s: %w", name, err)
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("save %s: %w", name, err)
	}
	return nil
}

// Remove implements core.SpreadsheetWriter.
func (w *Writer) Remove(name string) error {
	path, err := w.Path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", name, err)
	}
	return nil
}

// Path returns the on-disk path of an artifact, rejecting names that would
// escape the directory.
func (w *Writer) Path(name string) (string, error) {
	if err := checkName(name); err != nil {
		return "", err
	}
	return filepath.Join(w.dir, name), nil
}

// ReadTable loads the first worksheet of an artifact.
func (w *Writer) ReadTable(name string) (core.Table, error) {
	path, err := w.Path(name)
	if err != nil {
		return core.Table{}, err
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return core.Table{}, fmt.Errorf("%s: %w", name, core.ErrArtifactsNotFound)
		}
		return core.Table{}, err
	}
	defer f.Close()

	rows, err := f.GetRows(SheetName)
	if err != nil {
		return core.Table{}, err
	}
	return core.Table{Rows: rows}, nil
}

func checkName(name string) error {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return fmt.Errorf("%q: %w", name, ErrInvalidName)
	}
	if !strings.EqualFold(filepath.Ext(name), core.ArtifactExt) {
		return fmt.Errorf("%q: %w", name, ErrInvalidName)
	}
	return nil
}
