package auth

import (
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
)

// usageSnapshotMaxAge is how long a usage snapshot stays relevant. Beyond
// this every reset window it could describe has long passed.
const usageSnapshotMaxAge = 14 * 24 * time.Hour

// debugLogMaxAge bounds retention of files under debug_logs/.
const debugLogMaxAge = 7 * 24 * time.Hour

// sweepSchedule runs the maintenance sweep once a day, off the busy minutes.
const sweepSchedule = "17 3 * * *"

// Sweeper periodically prunes stale usage snapshots and old debug logs from
// the state root. One sweeper runs per worker process.
type Sweeper struct {
	home string
	cron *cron.Cron
}

// NewSweeper creates a sweeper for the given state root.
func NewSweeper(home string) *Sweeper {
	return &Sweeper{home: home, cron: cron.New()}
}

// Start runs an immediate sweep, then schedules the daily one. Returns an
// error only when the schedule itself is invalid.
func (s *Sweeper) Start() error {
	s.SweepOnce(time.Now())
	if _, err := s.cron.AddFunc(sweepSchedule, func() {
		s.SweepOnce(time.Now())
	}); err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop halts the schedule; a sweep in progress finishes.
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// SweepOnce removes snapshots and logs older than their retention windows.
// Best effort: unreadable entries are skipped.
func (s *Sweeper) SweepOnce(now time.Time) {
	pruneOlderThan(filepath.Join(s.home, usageDirName), now.Add(-usageSnapshotMaxAge))
	pruneOlderThan(filepath.Join(s.home, "debug_logs"), now.Add(-debugLogMaxAge))
}

func pruneOlderThan(dir string, cutoff time.Time) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			_ = os.Remove(filepath.Join(dir, entry.Name()))
		}
	}
}
