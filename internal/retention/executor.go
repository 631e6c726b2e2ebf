package retention

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand/v2"
	"time"

	"github.com/dugoutlabs/clubkeeper/internal/platform"
)

// ExecutorConfig paces deletions to stay under platform rate limits.
type ExecutorConfig struct {
	BatchSize      int
	BatchDelay     time.Duration
	PerItemDelay   time.Duration
	MaxRetries     int           // rate-limit retries per channel
	BackoffInitial time.Duration // used when the server gives no hint
	BackoffMax     time.Duration
}

func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		BatchSize:      10,
		BatchDelay:     2 * time.Second,
		PerItemDelay:   500 * time.Millisecond,
		MaxRetries:     3,
		BackoffInitial: 1 * time.Second,
		BackoffMax:     30 * time.Second,
	}
}

// EvictionFailure records one channel that could not be deleted.
type EvictionFailure struct {
	ChannelID string
	Reason    string
}

// Executor drives batched deletion of an evict set. Cancellation is
// honored between batches, never mid-delete.
type Executor struct {
	api   PlatformAPI
	cfg   ExecutorConfig
	sleep func(ctx context.Context, d time.Duration) error
}

func NewExecutor(api PlatformAPI, cfg ExecutorConfig) *Executor {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = 1 * time.Second
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 30 * time.Second
	}
	return &Executor{api: api, cfg: cfg, sleep: sleepCtx}
}

// Execute deletes the evict set in order. With dryRun it walks the same
// batches and reports every channel as would-be deleted without touching
// the platform. The returned error is non-nil only when the context is
// canceled; per-channel failures land in the failure list.
func (e *Executor) Execute(ctx context.Context, evict []Channel, dryRun bool) ([]string, []EvictionFailure, error) {
	var deleted []string
	var failures []EvictionFailure

	for start := 0; start < len(evict); start += e.cfg.BatchSize {
		if start > 0 && !dryRun {
			if err := e.sleep(ctx, e.cfg.BatchDelay); err != nil {
				return deleted, failures, err
			}
		}
		if err := ctx.Err(); err != nil {
			return deleted, failures, err
		}

		end := min(start+e.cfg.BatchSize, len(evict))
		for i, ch := range evict[start:end] {
			if dryRun {
				deleted = append(deleted, ch.ID)
				continue
			}
			if i > 0 {
				if err := e.sleep(ctx, e.cfg.PerItemDelay); err != nil {
					return deleted, failures, err
				}
			}
			if ok, reason := e.deleteWithRetry(ctx, ch); ok {
				deleted = append(deleted, ch.ID)
			} else {
				failures = append(failures, EvictionFailure{ChannelID: ch.ID, Reason: reason})
			}
		}
	}

	return deleted, failures, nil
}

// deleteWithRetry attempts one channel, retrying rate-limited and
// transient responses up to MaxRetries times. The server's retryAfter
// hint wins; without one the wait doubles per attempt from
// BackoffInitial, capped at BackoffMax, plus jitter.
func (e *Executor) deleteWithRetry(ctx context.Context, ch Channel) (bool, string) {
	for attempt := 0; ; attempt++ {
		res, err := e.api.DeleteChannel(ctx, ch.ID)
		switch {
		case err == nil && res.Deleted:
			return true, ""

		case err == nil && res.RateLimited:
			if attempt >= e.cfg.MaxRetries {
				return false, fmt.Sprintf("rate limited after %d retries", attempt)
			}
			wait := res.RetryAfter
			if wait <= 0 {
				wait = e.backoffDelay(attempt)
			}
			log.Printf("[executor] rate limited deleting %s, waiting %s (attempt %d)", ch.ID, wait, attempt+1)
			if serr := e.sleep(ctx, wait); serr != nil {
				return false, "canceled while rate limited"
			}

		case err != nil && errors.Is(err, platform.ErrUnavailable):
			// Breaker open or platform down; skip and report rather
			// than hammer it.
			return false, err.Error()

		case err != nil && platform.IsTransient(err):
			if attempt >= e.cfg.MaxRetries {
				return false, err.Error()
			}
			wait := e.backoffDelay(attempt)
			log.Printf("[executor] transient error deleting %s, retrying in %s: %v", ch.ID, wait, err)
			if serr := e.sleep(ctx, wait); serr != nil {
				return false, "canceled during retry"
			}

		default:
			// Permission or validation: retrying will not help.
			return false, err.Error()
		}
	}
}

func (e *Executor) backoffDelay(attempt int) time.Duration {
	d := e.cfg.BackoffInitial
	for i := 0; i < attempt && d < e.cfg.BackoffMax; i++ {
		d *= 2
	}
	if d > e.cfg.BackoffMax {
		d = e.cfg.BackoffMax
	}
	return d + rand.N(d/2+1)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
