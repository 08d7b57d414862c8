package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ThunderOpsAI/product-automation-engine/internal/pipeline"
)

const reconcileInterval = 5 * time.Minute

// scheduler runs the standing background jobs while the server is up:
// the stale task sweep and the daily digest at the configured UTC hour.
type scheduler struct {
	runner pipeline.Runner
	log    *slog.Logger

	mu       sync.Mutex
	lastSent string
	stop     chan struct{}
	stopOnce sync.Once
}

// StartScheduler launches the background jobs. Call Stop on shutdown.
func StartScheduler(runner pipeline.Runner) *scheduler {
	log := runner.Log
	if log == nil {
		log = slog.Default()
	}
	s := &scheduler{
		runner: runner,
		log:    log,
		stop:   make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *scheduler) run() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	reconcile := time.NewTicker(reconcileInterval)
	defer reconcile.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-reconcile.C:
			s.sweepStale()
		case now := <-ticker.C:
			s.maybeSendDigest(now.UTC())
		}
	}
}

func (s *scheduler) sweepStale() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	failed, err := s.runner.Engine.ReconcileStale(ctx)
	if err != nil {
		s.log.Warn("stale task sweep failed", "err", err)
		return
	}
	if len(failed) > 0 {
		s.log.Info("failed stale tasks", "count", len(failed))
	}
}

// maybeSendDigest sends at most one digest per day, at or after the
// configured hour.
func (s *scheduler) maybeSendDigest(now time.Time) {
	hour := 6
	if s.runner.Config != nil {
		hour = s.runner.Config.Notify.DigestHourUTC
	}
	if now.Hour() < hour {
		return
	}
	day := now.Format("2006-01-02")
	s.mu.Lock()
	if s.lastSent == day {
		s.mu.Unlock()
		return
	}
	s.lastSent = day
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if _, err := s.runner.DailySummary(ctx); err != nil {
		s.log.Warn("daily summary failed", "err", err)
	}
}
