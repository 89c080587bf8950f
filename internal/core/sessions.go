package core

// sessions.go names extraction runs and the spreadsheets they produce.
//
// A session id is a microsecond timestamp, so lexical order is creation order.
// Every artifact of a run starts with its session id:
//
//	{session}_{base}.xlsx      canonical, single spreadsheet
//	{session}_{base}_{i}.xlsx  numbered, i = 1, 2, ...
//
// ResolveLatest picks the newest session for a base name by listing the
// artifact directory, so it works across process restarts.

import (
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"sync"
	"time"
)

// SessionLayout is the time layout of a session id.
const SessionLayout = "20060102150405.000000"

// ArtifactExt is the extension of every generated spreadsheet.
const ArtifactExt = ".xlsx"

// SessionIndex issues session ids and resolves artifact names.
type SessionIndex struct {
	fsys fs.FS
	now  func() time.Time

	mu   sync.Mutex
	last time.Time
}

// NewSessionIndex creates an index over the artifact directory fsys.
func NewSessionIndex(fsys fs.FS) *SessionIndex {
	return &SessionIndex{fsys: fsys, now: time.Now}
}

// NewSession returns a session id strictly greater than any id this index
// has issued before. Ids that would collide are bumped by one microsecond.
func (x *SessionIndex) NewSession() string {
	x.mu.Lock()
	defer x.mu.Unlock()

	t := x.now().UTC().Truncate(time.Microsecond)
	if !t.After(x.last) {
		t = x.last.Add(time.Microsecond)
	}
	x.last = t
	return t.Format(SessionLayout)
}

// ArtifactName returns the file name for the index-th spreadsheet of a
// session. Index 0 is the canonical, unnumbered name.
func ArtifactName(session, base string, index int) string {
	if index <= 0 {
		return fmt.Sprintf("%s_%s%s", session, base, ArtifactExt)
	}
	return fmt.Sprintf("%s_%s_%d%s", session, base, index, ArtifactExt)
}

// ResolveLatest returns the spreadsheets of the newest session that produced
// artifacts for base. The canonical file wins when present; otherwise the
// numbered files are probed from 1 and the probe stops at the first gap.
func (x *SessionIndex) ResolveLatest(base string) ([]string, error) {
	entries, err := fs.ReadDir(x.fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}

	names := make(map[string]bool)
	var sessions []string
	seen := make(map[string]bool)

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		session, ok := artifactSession(name, base)
		if !ok {
			continue
		}
		names[name] = true
		if !seen[session] {
			seen[session] = true
			sessions = append(sessions, session)
		}
	}

	if len(sessions) == 0 {
		return nil, fmt.Errorf("%s: %w", base, ErrArtifactsNotFound)
	}

	sort.Strings(sessions)
	latest := sessions[len(sessions)-1]

	if canonical := ArtifactName(latest, base, 0); names[canonical] {
		return []string{canonical}, nil
	}

	var files []string
	for i := 1; ; i++ {
		name := ArtifactName(latest, base, i)
		if !names[name] {
			break
		}
		files = append(files, name)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%s: %w", base, ErrArtifactsNotFound)
	}
	return files, nil
}

// artifactSession extracts the session id from an artifact name belonging to
// base. Names for other bases, including bases that merely share a prefix,
// do not match.
func artifactSession(name, base string) (string, bool) {
	if !strings.HasSuffix(name, ArtifactExt) || len(name) <= len(SessionLayout)+1 {
		return "", false
	}

	session := name[:len(SessionLayout)]
	if _, err := time.Parse(SessionLayout, session); err != nil {
		return "", false
	}
	if name[len(SessionLayout)] != '_' {
		return "", false
	}

	rest := strings.TrimSuffix(name[len(SessionLayout)+1:], ArtifactExt)
	if rest == base {
		return session, true
	}

	suffix, ok := strings.CutPrefix(rest, base+"_")
	if !ok || suffix == "" {
		return "", false
	}
	for _, r := range suffix {
		if r < '0' || r > '9' {
			return "", false
		}
	}
	return session, true
}
