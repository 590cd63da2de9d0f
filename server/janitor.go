package server

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
)

// Janitor deletes artifacts older than the retention window on a cron
// schedule. Retention is an operator choice; without one nothing is removed.
type Janitor struct {
	dir       string
	retention time.Duration
	cron      *cron.Cron
	now       func() time.Time
}

func NewJanitor(dir string, retention time.Duration) *Janitor {
	return &Janitor{
		dir:       dir,
		retention: retention,
		cron:      cron.New(),
		now:       time.Now,
	}
}

func (j *Janitor) Start(schedule string) error {
	if _, err := j.cron.AddFunc(schedule, func() {
		n, err := j.Sweep()
		if err != nil {
			slog.Warn("sweep outputs", "dir", j.dir, "error", err)
			return
		}
		slog.Info("swept outputs", "dir", j.dir, "removed", n)
	}); err != nil {
		return fmt.Errorf("schedule %q: %w", schedule, err)
	}
	j.cron.Start()
	return nil
}

func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
}

// Sweep removes regular files older than the retention and returns how many
// were deleted.
func (j *Janitor) Sweep() (int, error) {
	entries, err := os.ReadDir(j.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	cutoff := j.now().Add(-j.retention)
	removed := 0
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(j.dir, e.Name())); err != nil && !os.IsNotExist(err) {
			return removed, err
		}
		removed++
	}
	return removed, nil
}
