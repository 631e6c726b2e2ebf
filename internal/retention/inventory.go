package retention

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/dugoutlabs/clubkeeper/internal/platform"
)

// ErrInventory marks a failure to list a category at all. It aborts the
// sweep before any deletion; per-channel enrichment failures do not.
var ErrInventory = errors.New("category listing failed")

// PlatformAPI is the slice of the platform client the engine needs.
// Narrowed to an interface so tests can stand in a fake.
type PlatformAPI interface {
	ListChannels(ctx context.Context, category string) ([]platform.ChannelMeta, error)
	GetActivity(ctx context.Context, channelID string) (*platform.Activity, error)
	DeleteChannel(ctx context.Context, channelID string) (platform.DeleteResult, error)
}

const enrichConcurrency = 4

// Inventory lists a category and enriches each channel with activity and
// pin metadata.
type Inventory struct {
	api PlatformAPI
}

func NewInventory(api PlatformAPI) *Inventory {
	return &Inventory{api: api}
}

// List returns the enriched channels of a category, oldest first. A
// channel whose activity lookup fails is kept with no activity or pin
// data, leaving it eligible for eviction only by age. The enrichment
// failure count is returned so the sweep can record it.
func (inv *Inventory) List(ctx context.Context, category string) ([]Channel, int, error) {
	metas, err := inv.api.ListChannels(ctx, category)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrInventory, err)
	}

	channels := make([]Channel, len(metas))
	var mu sync.Mutex
	enrichErrors := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(enrichConcurrency)
	for i, meta := range metas {
		g.Go(func() error {
			ch := Channel{
				ID:        meta.ID,
				Category:  meta.Category,
				Name:      meta.Name,
				CreatedAt: meta.CreatedAt,
				EventTime: meta.EventTime,
			}
			act, err := inv.api.GetActivity(gctx, meta.ID)
			if err != nil {
				log.Printf("[inventory] activity lookup failed for %s (%s): %v", meta.ID, meta.Name, err)
				mu.Lock()
				enrichErrors++
				mu.Unlock()
			} else {
				ch.LastActivityAt = act.LastActivityAt
				ch.HasPinned = act.HasPinned
				ch.MessageCount = act.MessageCount
			}
			channels[i] = ch
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, enrichErrors, err
	}

	// Oldest first so repeated sweeps over unchanged state evaluate and
	// evict in the same order.
	sort.Slice(channels, func(a, b int) bool {
		if channels[a].CreatedAt.Equal(channels[b].CreatedAt) {
			return channels[a].ID < channels[b].ID
		}
		return channels[a].CreatedAt.Before(channels[b].CreatedAt)
	})

	return channels, enrichErrors, nil
}
