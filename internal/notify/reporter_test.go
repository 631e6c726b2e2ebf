package notify

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/dugoutlabs/clubkeeper/internal/config"
	"github.com/dugoutlabs/clubkeeper/internal/platform"
	"github.com/dugoutlabs/clubkeeper/internal/retention"
)

type fakeSink struct {
	channels map[string][]platform.ChannelMeta
	listErr  error
	posts    []struct {
		channelID string
		content   string
	}
	postErr error
}

func (f *fakeSink) ListChannels(ctx context.Context, category string) ([]platform.ChannelMeta, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.channels[category], nil
}

func (f *fakeSink) PostMessage(ctx context.Context, channelID, content string) error {
	f.posts = append(f.posts, struct {
		channelID string
		content   string
	}{channelID, content})
	return f.postErr
}

func testNotifyConfig() config.NotifyConfig {
	return config.NotifyConfig{
		NotifyThreshold:      5,
		ErrorNotifyThreshold: 2,
		AdminKeyword:         "admin",
	}
}

func sweepStats(deleted, errs int) retention.SweepStats {
	stats := retention.SweepStats{
		SweepID:    "sweep-1",
		Category:   "gameday",
		Processed:  deleted + 2,
		Deleted:    deleted,
		Preserved:  2,
		StartedAt:  time.Date(2026, 8, 15, 3, 0, 0, 0, time.UTC),
		FinishedAt: time.Date(2026, 8, 15, 3, 0, 42, 0, time.UTC),
	}
	for i := 0; i < errs; i++ {
		stats.RecordError("something failed")
	}
	return stats
}

func TestReporter_ThresholdGate(t *testing.T) {
	cases := []struct {
		name     string
		deleted  int
		errs     int
		wantPost bool
	}{
		{"below both", 4, 1, false},
		{"deletions at threshold", 5, 0, true},
		{"errors at threshold", 0, 2, true},
		{"both over", 10, 5, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sink := &fakeSink{channels: map[string][]platform.ChannelMeta{
				"gameday": {{ID: "ch-admin", Name: "gameday-admin"}},
			}}
			r := NewReporter(sink, testNotifyConfig(), []string{"gameday"})
			r.Report(context.Background(), sweepStats(tc.deleted, tc.errs))
			if got := len(sink.posts) > 0; got != tc.wantPost {
				t.Errorf("posted = %v, want %v", got, tc.wantPost)
			}
		})
	}
}

func TestReporter_SinkDiscoveryOrder(t *testing.T) {
	t.Run("admin keyword wins", func(t *testing.T) {
		sink := &fakeSink{channels: map[string][]platform.ChannelMeta{
			"gameday": {
				{ID: "ch-1", Name: "gameday-first"},
				{ID: "ch-2", Name: "gameday-ADMIN-desk"},
			},
		}}
		cfg := testNotifyConfig()
		cfg.DefaultSinkID = "ch-default"
		r := NewReporter(sink, cfg, []string{"gameday"})
		r.Report(context.Background(), sweepStats(10, 0))
		if len(sink.posts) != 1 || sink.posts[0].channelID != "ch-2" {
			t.Errorf("posts = %+v, want one to ch-2", sink.posts)
		}
	})

	t.Run("falls back to configured sink", func(t *testing.T) {
		sink := &fakeSink{channels: map[string][]platform.ChannelMeta{
			"gameday": {{ID: "ch-1", Name: "gameday-first"}},
		}}
		cfg := testNotifyConfig()
		cfg.DefaultSinkID = "ch-default"
		r := NewReporter(sink, cfg, []string{"gameday"})
		r.Report(context.Background(), sweepStats(10, 0))
		if len(sink.posts) != 1 || sink.posts[0].channelID != "ch-default" {
			t.Errorf("posts = %+v, want one to ch-default", sink.posts)
		}
	})

	t.Run("falls back to first channel", func(t *testing.T) {
		sink := &fakeSink{channels: map[string][]platform.ChannelMeta{
			"gameday": {
				{ID: "ch-1", Name: "gameday-first"},
				{ID: "ch-2", Name: "gameday-second"},
			},
		}}
		r := NewReporter(sink, testNotifyConfig(), []string{"gameday"})
		r.Report(context.Background(), sweepStats(10, 0))
		if len(sink.posts) != 1 || sink.posts[0].channelID != "ch-1" {
			t.Errorf("posts = %+v, want one to ch-1", sink.posts)
		}
	})

	t.Run("no sink available", func(t *testing.T) {
		sink := &fakeSink{listErr: errors.New("listing down")}
		r := NewReporter(sink, testNotifyConfig(), []string{"gameday"})
		// Must not panic or post; failure is logged only.
		r.Report(context.Background(), sweepStats(10, 0))
		if len(sink.posts) != 0 {
			t.Errorf("posts = %+v, want none", sink.posts)
		}
	})
}

func TestReporter_ExtraNotifiers(t *testing.T) {
	sink := &fakeSink{channels: map[string][]platform.ChannelMeta{
		"gameday": {{ID: "ch-admin", Name: "gameday-admin"}},
	}}
	var texts []string
	extra := notifierFunc(func(text string) error {
		texts = append(texts, text)
		return nil
	})
	broken := notifierFunc(func(text string) error { return errors.New("telegram down") })

	r := NewReporter(sink, testNotifyConfig(), []string{"gameday"}, extra, broken)
	r.Report(context.Background(), sweepStats(10, 0))
	if len(texts) != 1 {
		t.Fatalf("extra notifications = %d, want 1", len(texts))
	}
	if texts[0] != sink.posts[0].content {
		t.Error("extra sink received a different summary than the platform sink")
	}
}

type notifierFunc func(text string) error

func (f notifierFunc) Notify(text string) error { return f(text) }

func TestFormatSummary(t *testing.T) {
	stats := sweepStats(10, 5)
	stats.DryRun = true
	stats.CeilingExceeded = true

	out := FormatSummary(stats)
	for _, want := range []string{
		"sweep-1", `"gameday"`, "(dry run)",
		"processed 12, deleted 10, preserved 2, errors 5",
		"duration 42.0s",
		"ceiling exceeded",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
	if got := strings.Count(out, "something failed"); got != 3 {
		t.Errorf("error samples rendered = %d, want 3", got)
	}
}
