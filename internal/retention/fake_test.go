package retention

import (
	"context"
	"sync"
	"time"

	"github.com/dugoutlabs/clubkeeper/internal/platform"
)

// deleteOutcome is one scripted response for a channel's delete call.
type deleteOutcome struct {
	res platform.DeleteResult
	err error
}

// fakePlatform is an in-memory PlatformAPI. Deletions mutate the channel
// set so back-to-back sweeps observe real state changes.
type fakePlatform struct {
	mu          sync.Mutex
	channels    map[string][]platform.ChannelMeta
	activities  map[string]platform.Activity
	listErr     error
	activityErr map[string]error
	scripted    map[string][]deleteOutcome
	deleteCalls []string
	listCalls   int
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		channels:    make(map[string][]platform.ChannelMeta),
		activities:  make(map[string]platform.Activity),
		activityErr: make(map[string]error),
		scripted:    make(map[string][]deleteOutcome),
	}
}

func (f *fakePlatform) addChannel(category string, meta platform.ChannelMeta, act platform.Activity) {
	f.mu.Lock()
	defer f.mu.Unlock()
	meta.Category = category
	f.channels[category] = append(f.channels[category], meta)
	f.activities[meta.ID] = act
}

func (f *fakePlatform) scriptDelete(id string, outcomes ...deleteOutcome) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripted[id] = append(f.scripted[id], outcomes...)
}

func (f *fakePlatform) ListChannels(ctx context.Context, category string) ([]platform.ChannelMeta, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]platform.ChannelMeta, len(f.channels[category]))
	copy(out, f.channels[category])
	return out, nil
}

func (f *fakePlatform) GetActivity(ctx context.Context, channelID string) (*platform.Activity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.activityErr[channelID]; err != nil {
		return nil, err
	}
	act := f.activities[channelID]
	return &act, nil
}

func (f *fakePlatform) DeleteChannel(ctx context.Context, channelID string) (platform.DeleteResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteCalls = append(f.deleteCalls, channelID)

	if queued := f.scripted[channelID]; len(queued) > 0 {
		next := queued[0]
		f.scripted[channelID] = queued[1:]
		if next.err == nil && next.res.Deleted {
			f.removeLocked(channelID)
		}
		return next.res, next.err
	}

	f.removeLocked(channelID)
	return platform.DeleteResult{Deleted: true}, nil
}

func (f *fakePlatform) removeLocked(channelID string) {
	for category, metas := range f.channels {
		for i, meta := range metas {
			if meta.ID == channelID {
				f.channels[category] = append(metas[:i], metas[i+1:]...)
				return
			}
		}
	}
}

func (f *fakePlatform) deleteCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.deleteCalls)
}

// recordedSleep captures requested delays instead of waiting.
type recordedSleep struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordedSleep) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err()
}

func (r *recordedSleep) total() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	var sum time.Duration
	for _, d := range r.delays {
		sum += d
	}
	return sum
}
