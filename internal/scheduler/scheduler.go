// Package scheduler runs the periodic retention sweeps. Manual triggers
// share the same service entry points, so everything here is pacing.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	rcron "github.com/robfig/cron/v3"

	"github.com/dugoutlabs/clubkeeper/internal/retention"
)

type Scheduler struct {
	svc      *retention.Service
	interval time.Duration

	mu     sync.Mutex
	cron   *rcron.Cron
	cancel context.CancelFunc
}

func New(svc *retention.Service, interval time.Duration) *Scheduler {
	return &Scheduler{svc: svc, interval: interval}
}

// Start schedules one sweep job per tracked category. Each job runs every
// interval; a sweep that fails (including a fatal inventory error) is
// simply retried at the next tick.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return fmt.Errorf("scheduler already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.cron = rcron.New()

	for _, category := range s.svc.Categories() {
		s.cron.Schedule(rcron.Every(s.interval), rcron.FuncJob(func() {
			s.runSweep(runCtx, category)
		}))
	}

	s.cron.Start()
	log.Printf("[scheduler] started: %d categories every %s", len(s.svc.Categories()), s.interval)
	return nil
}

func (s *Scheduler) runSweep(ctx context.Context, category string) {
	if ctx.Err() != nil {
		return
	}
	stats, err := s.svc.Cleanup(ctx, category, retention.DefaultCleanupParams())
	switch {
	case errors.Is(err, context.Canceled):
		log.Printf("[scheduler] sweep on %q canceled", category)
	case errors.Is(err, retention.ErrInventory):
		log.Printf("[scheduler] sweep on %q failed, retrying next interval: %v", category, err)
	case err != nil:
		log.Printf("[scheduler] sweep on %q error: %v", category, err)
	default:
		log.Printf("[scheduler] sweep on %q: deleted=%d preserved=%d errors=%d", category, stats.Deleted, stats.Preserved, stats.Errors)
	}
}

// Stop cancels in-flight sweeps and waits for running jobs to wind down.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cron := s.cron
	cancel := s.cancel
	s.cron = nil
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if cron != nil {
		stopCtx := cron.Stop()
		select {
		case <-stopCtx.Done():
		case <-time.After(5 * time.Second):
			log.Printf("[scheduler] stop timeout waiting for running sweeps")
		}
	}
	log.Printf("[scheduler] stopped")
}
