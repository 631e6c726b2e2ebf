package retention

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dugoutlabs/clubkeeper/internal/config"
)

// ErrValidation marks bad manual-trigger parameters. Surfaced to the
// caller immediately, before any platform call.
var ErrValidation = errors.New("invalid parameters")

// Reporter receives finalized sweep stats. The notify package implements
// it; tests plug in a recorder.
type Reporter interface {
	Report(ctx context.Context, stats SweepStats)
}

// CleanupParams are the manual-trigger knobs. Zero DaysOld means the
// configured default.
type CleanupParams struct {
	DaysOld        int  `json:"daysOld"`
	PreserveActive bool `json:"preserveActive"`
	PreservePinned bool `json:"preservePinned"`
	DryRun         bool `json:"dryRun"`
}

func DefaultCleanupParams() CleanupParams {
	return CleanupParams{PreserveActive: true, PreservePinned: true}
}

// Service owns the full sweep critical path for every tracked category.
// Sweeps on one category are serialized by a per-category lock; distinct
// categories sweep concurrently. All sweep state is rebuilt from the
// platform at sweep start and discarded at sweep end.
type Service struct {
	cfg      config.RetentionConfig
	inv      *Inventory
	exec     *Executor
	capacity *CapacityEnforcer
	reporter Reporter
	now      func() time.Time

	mu        sync.Mutex
	locks     map[string]*sync.Mutex
	stages    map[string]Stage
	lastSweep map[string]SweepStats
}

func NewService(api PlatformAPI, cfg config.RetentionConfig, reporter Reporter) *Service {
	exec := NewExecutor(api, ExecutorConfig{
		BatchSize:      cfg.BatchSize,
		BatchDelay:     time.Duration(cfg.BatchDelaySeconds * float64(time.Second)),
		PerItemDelay:   time.Duration(cfg.PerItemDelaySeconds * float64(time.Second)),
		MaxRetries:     3,
		BackoffInitial: 1 * time.Second,
		BackoffMax:     30 * time.Second,
	})
	return &Service{
		cfg:       cfg,
		inv:       NewInventory(api),
		exec:      exec,
		capacity:  NewCapacityEnforcer(exec),
		reporter:  reporter,
		now:       time.Now,
		locks:     make(map[string]*sync.Mutex),
		stages:    make(map[string]Stage),
		lastSweep: make(map[string]SweepStats),
	}
}

// Categories returns the tracked category list.
func (s *Service) Categories() []string {
	out := make([]string, len(s.cfg.Categories))
	copy(out, s.cfg.Categories)
	return out
}

func (s *Service) tracked(category string) bool {
	for _, c := range s.cfg.Categories {
		if c == category {
			return true
		}
	}
	return false
}

func (s *Service) categoryLock(category string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[category]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[category] = lock
	}
	return lock
}

func (s *Service) setStage(category string, stage Stage) {
	s.mu.Lock()
	s.stages[category] = stage
	s.mu.Unlock()
}

// Stage reports where the current (or last) sweep of a category is.
func (s *Service) Stage(category string) Stage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stages[category]
}

// LastSweep returns the finalized stats of the most recent sweep.
func (s *Service) LastSweep(category string) (SweepStats, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats, ok := s.lastSweep[category]
	return stats, ok
}

// LastSweeps returns the most recent stats for every swept category.
func (s *Service) LastSweeps() map[string]SweepStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]SweepStats, len(s.lastSweep))
	for k, v := range s.lastSweep {
		out[k] = v
	}
	return out
}

// Cleanup runs one retention sweep over a category. Both the scheduler
// and the admin surface land here.
func (s *Service) Cleanup(ctx context.Context, category string, params CleanupParams) (SweepStats, error) {
	if err := s.validate(category, params); err != nil {
		return SweepStats{}, err
	}
	if params.DaysOld == 0 {
		params.DaysOld = s.cfg.RetentionDays
	}
	policy := Policy{
		RetentionDays:  params.DaysOld,
		PreserveActive: params.PreserveActive,
		PreservePinned: params.PreservePinned,
	}
	return s.sweep(ctx, category, policy, params.DryRun, true)
}

// EnforceCapacity trims a category to its ceiling without a retention
// pass. With priorityRetention, Preserve-scored channels survive even if
// the ceiling stays exceeded.
func (s *Service) EnforceCapacity(ctx context.Context, category string, priorityRetention, dryRun bool) (SweepStats, error) {
	if !s.tracked(category) {
		return SweepStats{}, fmt.Errorf("%w: unknown category %q", ErrValidation, category)
	}

	lock := s.categoryLock(category)
	lock.Lock()
	defer lock.Unlock()

	now := s.now()
	stats := SweepStats{
		SweepID:   uuid.NewString(),
		Category:  category,
		StartedAt: now,
		DryRun:    dryRun,
	}

	s.setStage(category, StageScanning)
	defer s.setStage(category, StageIdle)

	channels, enrichErrors, err := s.inv.List(ctx, category)
	if err != nil {
		stats.RecordError(err.Error())
		s.finish(ctx, category, &stats)
		return stats, err
	}
	for i := 0; i < enrichErrors; i++ {
		stats.RecordError("activity enrichment failed")
	}
	stats.Processed = len(channels)

	s.setStage(category, StageScoring)
	decisions := decisionIndex(EvaluateAll(channels, DefaultPolicy(s.cfg.RetentionDays), now))

	s.setStage(category, StageCapacityCheck)
	deleted, failures, exceeded, err := s.capacity.Enforce(ctx, channels, decisions, s.cfg.MaxSizeFor(category), priorityRetention, dryRun)
	stats.Deleted = len(deleted)
	stats.Preserved = stats.Processed - stats.Deleted
	stats.CeilingExceeded = exceeded
	for _, f := range failures {
		stats.RecordError(fmt.Sprintf("%s: %s", f.ChannelID, f.Reason))
	}

	s.finish(ctx, category, &stats)
	if err != nil {
		return stats, err
	}
	return stats, nil
}

func (s *Service) validate(category string, params CleanupParams) error {
	if params.DaysOld < 0 {
		return fmt.Errorf("%w: daysOld must be >= 0", ErrValidation)
	}
	if !s.tracked(category) {
		return fmt.Errorf("%w: unknown category %q", ErrValidation, category)
	}
	return nil
}

// sweep is the shared retention pass. State machine:
// Idle -> Scanning -> Scoring -> Evicting -> CapacityCheck -> Reporting -> Idle.
// Per-channel failures stay inside their stage; only a fatal inventory
// listing failure aborts the sweep, and it does so before any deletion.
func (s *Service) sweep(ctx context.Context, category string, policy Policy, dryRun, capacityCheck bool) (SweepStats, error) {
	lock := s.categoryLock(category)
	lock.Lock()
	defer lock.Unlock()

	now := s.now()
	stats := SweepStats{
		SweepID:   uuid.NewString(),
		Category:  category,
		StartedAt: now,
		DryRun:    dryRun,
	}

	s.setStage(category, StageScanning)
	defer s.setStage(category, StageIdle)

	log.Printf("[retention] sweep %s starting on %q (retentionDays=%d dryRun=%v)", stats.SweepID, category, policy.RetentionDays, dryRun)

	channels, enrichErrors, err := s.inv.List(ctx, category)
	if err != nil {
		// Fatal: no decisions, no deletions. The next scheduled tick
		// retries.
		stats.RecordError(err.Error())
		log.Printf("[retention] sweep %s aborted: %v", stats.SweepID, err)
		s.finish(ctx, category, &stats)
		return stats, err
	}
	for i := 0; i < enrichErrors; i++ {
		stats.RecordError("activity enrichment failed")
	}
	stats.Processed = len(channels)

	s.setStage(category, StageScoring)
	decisions := EvaluateAll(channels, policy, now)
	index := decisionIndex(decisions)

	evict := make([]Channel, 0, len(channels))
	for i, d := range decisions {
		if d.Action == Evict {
			evict = append(evict, channels[i])
		} else {
			stats.Preserved++
		}
	}

	s.setStage(category, StageEvicting)
	deleted, failures, execErr := s.exec.Execute(ctx, evict, dryRun)
	stats.Deleted = len(deleted)
	for _, f := range failures {
		stats.RecordError(fmt.Sprintf("%s: %s", f.ChannelID, f.Reason))
	}
	if execErr != nil {
		// Canceled between batches; finalize what happened so far.
		s.finish(ctx, category, &stats)
		return stats, execErr
	}

	if capacityCheck {
		s.setStage(category, StageCapacityCheck)
		remaining := remainingAfter(channels, deleted)
		capDeleted, capFailures, exceeded, capErr := s.capacity.Enforce(ctx, remaining, index, s.cfg.MaxSizeFor(category), true, dryRun)
		stats.Deleted += len(capDeleted)
		stats.CeilingExceeded = exceeded
		for _, f := range capFailures {
			stats.RecordError(fmt.Sprintf("%s: %s", f.ChannelID, f.Reason))
		}
		if capErr != nil {
			s.finish(ctx, category, &stats)
			return stats, capErr
		}
	}

	s.finish(ctx, category, &stats)
	return stats, nil
}

// finish runs the Reporting stage: finalize, store, notify.
func (s *Service) finish(ctx context.Context, category string, stats *SweepStats) {
	s.setStage(category, StageReporting)
	stats.FinishedAt = s.now()

	s.mu.Lock()
	s.lastSweep[category] = *stats
	s.mu.Unlock()

	log.Printf("[retention] sweep %s done: processed=%d deleted=%d preserved=%d errors=%d (%.1fs)",
		stats.SweepID, stats.Processed, stats.Deleted, stats.Preserved, stats.Errors,
		stats.Duration().Seconds())

	if s.reporter != nil {
		s.reporter.Report(ctx, *stats)
	}
}

func decisionIndex(decisions []Decision) map[string]Decision {
	index := make(map[string]Decision, len(decisions))
	for _, d := range decisions {
		index[d.ChannelID] = d
	}
	return index
}

func remainingAfter(channels []Channel, deleted []string) []Channel {
	gone := make(map[string]bool, len(deleted))
	for _, id := range deleted {
		gone[id] = true
	}
	remaining := make([]Channel, 0, len(channels))
	for _, ch := range channels {
		if !gone[ch.ID] {
			remaining = append(remaining, ch)
		}
	}
	return remaining
}
