package core

import (
	"regexp"
	"strings"

	"github.com/tsawler/tabula/text"
	"golang.org/x/text/unicode/norm"
)

var (
	dateCell   = regexp.MustCompile(`^\d{1,2}[-/]\d{1,2}[-/]\d{2,4}$`)
	numberCell = regexp.MustCompile(`^\d+(\.\d+)?$`)
)

// CleanCell normalizes one cell of extracted text.
//
// Text is trimmed and put in Unicode NFC form. PDF content streams store
// right-to-left runs (Arabic, Hebrew) in visual order, so a cell whose
// dominant direction is RTL is reversed back to logical order. Dates and
// plain numbers are never reversed.
func CleanCell(s string) string {
	s = norm.NFC.String(strings.TrimSpace(s))
	if s == "" || dateCell.MatchString(s) || numberCell.MatchString(s) {
		return s
	}
	if text.DetectDirection(s) != text.RTL {
		return s
	}
	return reverseRunes(s)
}

func reverseRunes(s string) string {
	r := []rune(s)
	for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
		r[i], r[j] = r[j], r[i]
	}
	return string(r)
}

// CleanTable applies CleanCell to every cell and pads ragged rows.
func CleanTable(t Table) Table {
	rows := make([][]string, len(t.Rows))
	for i, row := range t.Rows {
		cleaned := make([]string, len(row))
		for j, cell := range row {
			cleaned[j] = CleanCell(cell)
		}
		rows[i] = cleaned
	}
	return Table{Page: t.Page, Rows: rows}.Normalize()
}
