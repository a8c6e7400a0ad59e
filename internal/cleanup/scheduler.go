// Package cleanup removes stale files from the upload directory on a
// schedule, covering uploads whose session never started or was lost.
package cleanup

import (
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// Scheduler periodically deletes upload files older than maxAge.
type Scheduler struct {
	dir      string
	interval time.Duration
	maxAge   time.Duration
	stop     chan struct{}
	log      zerolog.Logger
}

// NewScheduler creates a scheduler over the given directory.
func NewScheduler(dir string, interval, maxAge time.Duration, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		dir:      dir,
		interval: interval,
		maxAge:   maxAge,
		stop:     make(chan struct{}),
		log:      log,
	}
}

// Start runs one sweep immediately and then sweeps on the interval.
func (s *Scheduler) Start() {
	s.sweep()

	ticker := time.NewTicker(s.interval)
	go func() {
		for {
			select {
			case <-ticker.C:
				s.sweep()
			case <-s.stop:
				ticker.Stop()
				return
			}
		}
	}()

	s.log.Info().Str("dir", s.dir).Dur("interval", s.interval).
		Dur("max_age", s.maxAge).Msg("cleanup scheduler started")
}

// Stop halts the sweep loop.
func (s *Scheduler) Stop() {
	close(s.stop)
}

func (s *Scheduler) sweep() {
	now := time.Now()
	var deleted int
	var freed int64

	err := filepath.Walk(s.dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		if now.Sub(info.ModTime()) <= s.maxAge {
			return nil
		}
		size := info.Size()
		if rmErr := os.Remove(path); rmErr != nil {
			s.log.Warn().Err(rmErr).Str("file", path).Msg("stale file not removed")
			return nil
		}
		deleted++
		freed += size
		return nil
	})
	if err != nil {
		s.log.Warn().Err(err).Msg("cleanup sweep failed")
	}
	if deleted > 0 {
		s.log.Info().Int("files", deleted).Int64("bytes", freed).Msg("stale uploads removed")
	}
}
