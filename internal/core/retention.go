package core

// retention.go removes uploaded documents and generated spreadsheets once
// they are older than the retention window.
//
// The sweep runs once on start and then on a cron schedule. A failure to
// remove one file is logged and does not stop the sweep.

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultRetention is how long uploads and artifacts are kept.
const DefaultRetention = 24 * time.Hour

// RetentionTarget is one directory swept by the janitor. Only files with
// extension Ext are considered; an empty Ext matches every regular file.
type RetentionTarget struct {
	Dir string
	Ext string
}

// Janitor deletes expired files on a schedule.
type Janitor struct {
	targets []RetentionTarget
	maxAge  time.Duration
	now     func() time.Time
	cron    *cron.Cron
}

// NewJanitor creates a janitor that sweeps targets on schedule, a cron spec
// such as "@every 1h" or "0 * * * *".
func NewJanitor(schedule string, maxAge time.Duration, targets ...RetentionTarget) (*Janitor, error) {
	if maxAge <= 0 {
		maxAge = DefaultRetention
	}

	j := &Janitor{
		targets: targets,
		maxAge:  maxAge,
		now:     time.Now,
		cron:    cron.New(),
	}

	if _, err := j.cron.AddFunc(schedule, func() { j.Sweep() }); err != nil {
		return nil, fmt.Errorf("invalid retention schedule %q: %w", schedule, err)
	}
	return j, nil
}

// Run sweeps immediately, then on schedule until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) {
	slog.Info("retention janitor started", "max_age", j.maxAge.String(), "targets", len(j.targets))

	j.Sweep()
	j.cron.Start()

	<-ctx.Done()
	<-j.cron.Stop().Done()
	slog.Info("retention janitor stopped")
}

// Sweep deletes every expired file in the targets and returns how many it
// removed.
func (j *Janitor) Sweep() int {
	start := j.now()
	cutoff := start.Add(-j.maxAge)
	removed := 0

	for _, target := range j.targets {
		n, err := sweepDir(target, cutoff)
		removed += n
		if err != nil {
			slog.Error("retention sweep failed", "dir", target.Dir, "error", err)
		}
	}

	slog.Info("retention sweep completed",
		"files_removed", removed,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return removed
}

func sweepDir(target RetentionTarget, cutoff time.Time) (int, error) {
	entries, err := os.ReadDir(target.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	removed := 0
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if target.Ext != "" && !strings.EqualFold(filepath.Ext(e.Name()), target.Ext) {
			continue
		}

		info, err := e.Info()
		if err != nil {
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}

		path := filepath.Join(target.Dir, e.Name())
		if err := os.Remove(path); err != nil {
			slog.Warn("remove expired file", "path", path, "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}
