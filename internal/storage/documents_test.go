package storage

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/tablextract/internal/core"
)

// minimalPDF builds a valid PDF with the given number of blank pages and a
// correct cross-reference table.
func minimalPDF(pages int) []byte {
	var objects []string
	objects = append(objects, "<< /Type /Catalog /Pages 2 0 R >>")

	kids := make([]string, pages)
	for i := range kids {
		kids[i] = fmt.Sprintf("%d 0 R", i+3)
	}
	objects = append(objects, fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), pages))
	for i := 0; i < pages; i++ {
		objects = append(objects, "<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] >>")
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(objects)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return buf.Bytes()
}

func newTestStore(t *testing.T, maxSize int64) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "uploads"), maxSize)
	require.NoError(t, err)
	s.now = func() time.Time { return time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC) }
	return s
}

func TestStore_SaveAndOpen(t *testing.T) {
	s := newTestStore(t, 0)

	doc, err := s.Save("report.pdf", bytes.NewReader(minimalPDF(3)))
	require.NoError(t, err)

	assert.Equal(t, "20240301100000_report.pdf", doc.Name)
	assert.Equal(t, 3, doc.PageCount)
	assert.Equal(t, filepath.Join(s.Dir(), doc.Name), doc.Path)
	assert.Equal(t, "20240301100000_report", doc.BaseName())

	reopened, err := s.Open(doc.Name)
	require.NoError(t, err)
	assert.Equal(t, doc, reopened)
}

func TestStore_SaveSameSecondGetsNextName(t *testing.T) {
	s := newTestStore(t, 0)

	first, err := s.Save("report.pdf", bytes.NewReader(minimalPDF(1)))
	require.NoError(t, err)
	second, err := s.Save("report.pdf", bytes.NewReader(minimalPDF(2)))
	require.NoError(t, err)

	assert.Equal(t, "20240301100000_report.pdf", first.Name)
	assert.Equal(t, "20240301100001_report.pdf", second.Name)
	assert.Equal(t, 2, second.PageCount)
}

func TestStore_SaveAvoidsSharedArtifactBase(t *testing.T) {
	tests := []struct {
		name   string
		first  string
		second string
		want   string
	}{
		{"numbered after plain", "report.pdf", "report_1.pdf", "20240301100001_report_1.pdf"},
		{"plain after numbered", "report_1.pdf", "report.pdf", "20240301100001_report.pdf"},
		{"extension case only", "report.pdf", "report.PDF", "20240301100001_report.PDF"},
		{"unrelated suffix", "report.pdf", "report_final.pdf", "20240301100000_report_final.pdf"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore(t, 0)

			_, err := s.Save(tt.first, bytes.NewReader(minimalPDF(1)))
			require.NoError(t, err)
			second, err := s.Save(tt.second, bytes.NewReader(minimalPDF(1)))
			require.NoError(t, err)
			assert.Equal(t, tt.want, second.Name)
		})
	}
}

func TestStore_SaveStripsClientPath(t *testing.T) {
	s := newTestStore(t, 0)

	doc, err := s.Save(`C:\Users\me\scan.PDF`, bytes.NewReader(minimalPDF(1)))
	require.NoError(t, err)
	assert.Equal(t, "20240301100000_scan.PDF", doc.Name)
	assert.Equal(t, "20240301100000_scan", doc.BaseName())
}

func TestStore_SaveRejects(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		body     []byte
		maxSize  int64
		want     error
	}{
		{name: "wrong extension", filename: "report.docx", body: minimalPDF(1), want: ErrNotPDF},
		{name: "wrong header", filename: "report.pdf", body: []byte("PK\x03\x04 not a pdf"), want: ErrNotPDF},
		{name: "empty body", filename: "report.pdf", body: nil, want: ErrNoFile},
		{name: "no name", filename: "", body: minimalPDF(1), want: ErrNoFile},
		{name: "too large", filename: "report.pdf", body: minimalPDF(2), maxSize: 64, want: ErrFileTooLarge},
		{name: "unparseable", filename: "report.pdf", body: []byte("%PDF-1.4\ngarbage"), want: core.ErrDocumentUnreadable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore(t, tt.maxSize)

			_, err := s.Save(tt.filename, bytes.NewReader(tt.body))
			assert.ErrorIs(t, err, tt.want)

			entries, err := os.ReadDir(s.Dir())
			require.NoError(t, err)
			assert.Empty(t, entries, "rejected uploads must not stay on disk")
		})
	}
}

func TestStore_RejectionMessagesMapToCodes(t *testing.T) {
	s := newTestStore(t, 64)

	_, err := s.Save("report.txt", bytes.NewReader(nil))
	assert.Equal(t, "DOC004", core.MapError(err).Code)

	_, err = s.Save("report.pdf", bytes.NewReader(minimalPDF(2)))
	assert.Equal(t, "DOC003", core.MapError(err).Code)
}

func TestStore_OpenUnknownAndTraversal(t *testing.T) {
	s := newTestStore(t, 0)

	for _, name := range []string{"missing.pdf", "../etc/passwd", "a/b.pdf", ".hidden.pdf", ""} {
		t.Run(name, func(t *testing.T) {
			_, err := s.Open(name)
			assert.ErrorIs(t, err, core.ErrDocumentNotFound)
		})
	}
}

func TestCountPages(t *testing.T) {
	path := filepath.Join(t.TempDir(), "five.pdf")
	require.NoError(t, os.WriteFile(path, minimalPDF(5), 0o644))

	n, err := CountPages(path)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	_, err = CountPages(filepath.Join(t.TempDir(), "missing.pdf"))
	assert.Error(t, err)
}
