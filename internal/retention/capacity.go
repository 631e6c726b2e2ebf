package retention

import (
	"context"
	"log"
	"sort"
)

// CapacityEnforcer trims a category down to its hard ceiling after a
// retention pass, evicting the lowest-scoring non-pinned channels first.
type CapacityEnforcer struct {
	exec *Executor
}

func NewCapacityEnforcer(exec *Executor) *CapacityEnforcer {
	return &CapacityEnforcer{exec: exec}
}

// Enforce evicts channels until the category is at or under maxSize.
// Pinned channels are never touched. With priorityRetention set,
// Preserve-scored channels are also off limits, so the ceiling can be
// knowingly exceeded; that case is reported through the exceeded return
// rather than forced.
func (c *CapacityEnforcer) Enforce(ctx context.Context, channels []Channel, decisions map[string]Decision, maxSize int, priorityRetention, dryRun bool) (deleted []string, failures []EvictionFailure, exceeded bool, err error) {
	overflow := len(channels) - maxSize
	if overflow <= 0 {
		return nil, nil, false, nil
	}

	candidates := make([]Channel, 0, len(channels))
	for _, ch := range channels {
		if ch.HasPinned {
			continue
		}
		if priorityRetention && decisions[ch.ID].Action == Preserve {
			continue
		}
		candidates = append(candidates, ch)
	}

	// Lowest score goes first; ties fall back to oldest so repeated runs
	// pick the same victims.
	sort.SliceStable(candidates, func(a, b int) bool {
		sa, sb := decisions[candidates[a].ID].Score, decisions[candidates[b].ID].Score
		if sa != sb {
			return sa < sb
		}
		return candidates[a].CreatedAt.Before(candidates[b].CreatedAt)
	})

	if len(candidates) > overflow {
		candidates = candidates[:overflow]
	}

	if len(candidates) < overflow {
		log.Printf("[capacity] ceiling exceeded: %d over limit but only %d evictable", overflow, len(candidates))
	}

	deleted, failures, err = c.exec.Execute(ctx, candidates, dryRun)
	remaining := len(channels) - len(deleted)
	return deleted, failures, remaining > maxSize, err
}
