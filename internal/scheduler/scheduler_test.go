package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dugoutlabs/clubkeeper/internal/config"
	"github.com/dugoutlabs/clubkeeper/internal/platform"
	"github.com/dugoutlabs/clubkeeper/internal/retention"
)

type fakeBackend struct {
	mu       sync.Mutex
	channels []platform.ChannelMeta
	deletes  int
}

func (f *fakeBackend) ListChannels(ctx context.Context, category string) ([]platform.ChannelMeta, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]platform.ChannelMeta, len(f.channels))
	copy(out, f.channels)
	return out, nil
}

func (f *fakeBackend) GetActivity(ctx context.Context, channelID string) (*platform.Activity, error) {
	return &platform.Activity{}, nil
}

func (f *fakeBackend) DeleteChannel(ctx context.Context, channelID string) (platform.DeleteResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes++
	for i, meta := range f.channels {
		if meta.ID == channelID {
			f.channels = append(f.channels[:i], f.channels[i+1:]...)
			break
		}
	}
	return platform.DeleteResult{Deleted: true}, nil
}

func (f *fakeBackend) deleteCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deletes
}

func newTestScheduler(backend *fakeBackend, interval time.Duration) *Scheduler {
	cfg := config.RetentionConfig{
		RetentionDays:   3,
		MaxCategorySize: 50,
		BatchSize:       10,
		Categories:      []string{"gameday"},
	}
	svc := retention.NewService(backend, cfg, nil)
	return New(svc, interval)
}

func TestScheduler_RunsSweepOnTick(t *testing.T) {
	backend := &fakeBackend{channels: []platform.ChannelMeta{
		{ID: "stale-0", Category: "gameday", Name: "gameday-old", CreatedAt: time.Now().Add(-10 * 24 * time.Hour)},
	}}
	s := newTestScheduler(backend, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	defer s.Stop()

	deadline := time.After(3 * time.Second)
	for backend.deleteCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("no sweep ran within 3s")
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func TestScheduler_DoubleStart(t *testing.T) {
	s := newTestScheduler(&fakeBackend{}, time.Hour)
	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	defer s.Stop()
	if err := s.Start(ctx); err == nil {
		t.Error("second Start succeeded")
	}
}

func TestScheduler_StopIdempotent(t *testing.T) {
	s := newTestScheduler(&fakeBackend{}, time.Hour)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	s.Stop()
	s.Stop() // no-op
}

func TestScheduler_StopCancelsContext(t *testing.T) {
	backend := &fakeBackend{}
	s := newTestScheduler(backend, time.Second)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	s.Stop()

	before := backend.deleteCount()
	time.Sleep(1200 * time.Millisecond)
	if got := backend.deleteCount(); got != before {
		t.Errorf("sweeps kept running after Stop: %d -> %d", before, got)
	}
}
