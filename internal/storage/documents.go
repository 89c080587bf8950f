// Package storage keeps uploaded PDF documents on local disk.
//
// Stored names carry an upload timestamp prefix so two uploads of the same
// file never collide:
//
//	{YYYYMMDDhhmmss}_{original}.pdf
package storage

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"

	"github.com/JonMunkholm/tablextract/internal/core"
)

// TimestampLayout is the layout of the upload prefix.
const TimestampLayout = "20060102150405"

// DefaultMaxFileSize caps a single upload.
const DefaultMaxFileSize = 50 << 20

const maxNameAttempts = 60

var (
	// ErrNotPDF is returned for uploads without a .pdf extension or PDF header.
	ErrNotPDF = errors.New("only pdf files are allowed")

	// ErrFileTooLarge is returned when an upload exceeds the store's limit.
	ErrFileTooLarge = errors.New("file too large")

	// ErrNoFile is returned for an upload with no name or no content.
	ErrNoFile = errors.New("no file provided")
)

var pdfMagic = []byte("%PDF-")

// Store saves uploads into one directory and opens them for extraction.
// It implements core.DocumentSource.
type Store struct {
	dir     string
	maxSize int64
	now     func() time.Time
}

// NewStore creates a Store for dir, creating the directory if needed.
// A non-positive maxSize uses DefaultMaxFileSize.
func NewStore(dir string, maxSize int64) (*Store, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &Store{dir: dir, maxSize: maxSize, now: time.Now}, nil
}

// Dir returns the upload directory.
func (s *Store) Dir() string {
	return s.dir
}

// MaxFileSize returns the upload size limit in bytes.
func (s *Store) MaxFileSize() int64 {
	return s.maxSize
}

// Save writes an upload under a timestamped name and returns the stored
// document with its page count. Files that are not readable PDFs are removed
// again and reported as errors.
func (s *Store) Save(filename string, r io.Reader) (core.Document, error) {
	original := filepath.Base(strings.ReplaceAll(filename, `\`, "/"))
	if original == "" || original == "." || original == "/" {
		return core.Document{}, ErrNoFile
	}
	if !strings.EqualFold(filepath.Ext(original), ".pdf") {
		return core.Document{}, fmt.Errorf("%s: %w", original, ErrNotPDF)
	}

	f, name, err := s.create(original)
	if err != nil {
		return core.Document{}, err
	}
	path := f.Name()

	written, err := copyPDF(f, r, s.maxSize)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && written == 0 {
		err = ErrNoFile
	}
	if err != nil {
		os.Remove(path)
		return core.Document{}, err
	}

	doc, err := s.Open(name)
	if err != nil {
		os.Remove(path)
		return core.Document{}, err
	}
	return doc, nil
}

// create opens a new file for original under the current timestamp. A name
// already taken within the same second, or one whose spreadsheet base would
// clash with a stored document, moves to the next free second.
func (s *Store) create(original string) (*os.File, string, error) {
	at := s.now()
	for i := 0; i < maxNameAttempts; i++ {
		name := fmt.Sprintf("%s_%s", at.Format(TimestampLayout), original)
		clash, err := s.baseClash(name)
		if err != nil {
			return nil, "", err
		}
		if clash {
			at = at.Add(time.Second)
			continue
		}
		f, err := os.OpenFile(filepath.Join(s.dir, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return f, name, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, "", fmt.Errorf("create %s: %w", name, err)
		}
		at = at.Add(time.Second)
	}
	return nil, "", fmt.Errorf("create %s: no free name after %d attempts", original, maxNameAttempts)
}

// baseClash reports whether name's spreadsheet base equals the base of a
// stored document or differs from it only by a "_<digits>" suffix. Such
// bases share artifact names: X_1 canonical is X numbered 1.
func (s *Store) baseClash(name string) (bool, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return false, fmt.Errorf("list uploads: %w", err)
	}

	base := core.Document{Name: name}.BaseName()
	for _, e := range entries {
		if e.IsDir() || e.Name() == name || !strings.EqualFold(filepath.Ext(e.Name()), ".pdf") {
			continue
		}
		other := core.Document{Name: e.Name()}.BaseName()
		if other == base || numberedOf(base, other) || numberedOf(other, base) {
			return true, nil
		}
	}
	return false, nil
}

// numberedOf reports whether stem is base followed by "_" and digits.
func numberedOf(stem, base string) bool {
	suffix, ok := strings.CutPrefix(stem, base+"_")
	if !ok || suffix == "" {
		return false
	}
	for _, r := range suffix {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// copyPDF copies at most limit bytes and checks the PDF header on the way.
func copyPDF(dst io.Writer, src io.Reader, limit int64) (int64, error) {
	lr := &io.LimitedReader{R: src, N: limit + 1}

	head := make([]byte, len(pdfMagic))
	n, err := io.ReadFull(lr, head)
	if n == 0 && (err == io.EOF || err == io.ErrUnexpectedEOF) {
		return 0, nil
	}
	if err != nil && err != io.ErrUnexpectedEOF {
		return 0, fmt.Errorf("read upload: %w", err)
	}
	if !bytes.Equal(head[:n], pdfMagic) {
		return 0, ErrNotPDF
	}
	if _, err := dst.Write(head[:n]); err != nil {
		return 0, err
	}

	rest, err := io.Copy(dst, lr)
	if err != nil {
		return 0, fmt.Errorf("write upload: %w", err)
	}
	total := int64(n) + rest
	if total > limit {
		return 0, fmt.Errorf("%w: limit is %d bytes", ErrFileTooLarge, limit)
	}
	return total, nil
}

// Open implements core.DocumentSource.
func (s *Store) Open(name string) (core.Document, error) {
	path, err := s.Path(name)
	if err != nil {
		return core.Document{}, err
	}

	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return core.Document{}, fmt.Errorf("%s: %w", name, core.ErrDocumentNotFound)
	}

	pages, err := CountPages(path)
	if err != nil {
		return core.Document{}, fmt.Errorf("%s: %w: %v", name, core.ErrDocumentUnreadable, err)
	}
	if pages < 1 {
		return core.Document{}, fmt.Errorf("%s: %w: no pages", name, core.ErrDocumentUnreadable)
	}

	return core.Document{Name: name, Path: path, PageCount: pages}, nil
}

// Path returns the on-disk path of a stored document. Names that are not
// plain file names are reported as not found.
func (s *Store) Path(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("%q: %w", name, core.ErrDocumentNotFound)
	}
	return filepath.Join(s.dir, name), nil
}

// CountPages returns the number of pages in the PDF at path.
func CountPages(path string) (pages int, err error) {
	// The parser panics on some malformed cross-reference tables.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("parse pdf: %v", r)
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	return r.NumPage(), nil
}
