// Package notify emits sweep summaries. The primary sink is a channel on
// the platform itself; an optional Telegram notifier reaches operators
// off-platform.
package notify

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/dugoutlabs/clubkeeper/internal/config"
	"github.com/dugoutlabs/clubkeeper/internal/platform"
	"github.com/dugoutlabs/clubkeeper/internal/retention"
)

const summaryErrorSamples = 3

// SinkAPI is the slice of the platform client the reporter needs.
type SinkAPI interface {
	ListChannels(ctx context.Context, category string) ([]platform.ChannelMeta, error)
	PostMessage(ctx context.Context, channelID, content string) error
}

// Notifier is an additional out-of-band sink (Telegram).
type Notifier interface {
	Notify(text string) error
}

// Reporter posts a summary when a sweep crosses the configured
// thresholds. Implements retention.Reporter. Reporting failures are
// logged and never escalate into the sweep.
type Reporter struct {
	api        SinkAPI
	cfg        config.NotifyConfig
	categories []string
	extra      []Notifier
}

func NewReporter(api SinkAPI, cfg config.NotifyConfig, categories []string, extra ...Notifier) *Reporter {
	return &Reporter{api: api, cfg: cfg, categories: categories, extra: extra}
}

func (r *Reporter) Report(ctx context.Context, stats retention.SweepStats) {
	if stats.Deleted < r.cfg.NotifyThreshold && stats.Errors < r.cfg.ErrorNotifyThreshold {
		return
	}

	summary := FormatSummary(stats)

	sinkID, err := r.discoverSink(ctx)
	if err != nil {
		log.Printf("[notify] no reporting sink: %v", err)
	} else if err := r.api.PostMessage(ctx, sinkID, summary); err != nil {
		log.Printf("[notify] post summary to %s failed: %v", sinkID, err)
	}

	for _, n := range r.extra {
		if err := n.Notify(summary); err != nil {
			log.Printf("[notify] extra sink failed: %v", err)
		}
	}
}

// discoverSink walks the discovery order: a channel whose name carries the
// administrative keyword, then the configured default sink, then the first
// channel found anywhere.
func (r *Reporter) discoverSink(ctx context.Context) (string, error) {
	var first string
	for _, category := range r.categories {
		channels, err := r.api.ListChannels(ctx, category)
		if err != nil {
			log.Printf("[notify] listing %q for sink discovery failed: %v", category, err)
			continue
		}
		for _, ch := range channels {
			if first == "" {
				first = ch.ID
			}
			if r.cfg.AdminKeyword != "" && strings.Contains(strings.ToLower(ch.Name), strings.ToLower(r.cfg.AdminKeyword)) {
				return ch.ID, nil
			}
		}
	}
	if r.cfg.DefaultSinkID != "" {
		return r.cfg.DefaultSinkID, nil
	}
	if first != "" {
		return first, nil
	}
	return "", fmt.Errorf("no channel available as reporting sink")
}

// FormatSummary renders the operator-facing sweep summary.
func FormatSummary(stats retention.SweepStats) string {
	var b strings.Builder
	fmt.Fprintf(&b, "retention sweep %s on %q", stats.SweepID, stats.Category)
	if stats.DryRun {
		b.WriteString(" (dry run)")
	}
	fmt.Fprintf(&b, "\nprocessed %d, deleted %d, preserved %d, errors %d",
		stats.Processed, stats.Deleted, stats.Preserved, stats.Errors)
	fmt.Fprintf(&b, "\nduration %.1fs", stats.Duration().Seconds())
	if stats.CeilingExceeded {
		b.WriteString("\ncapacity ceiling exceeded: remaining channels are pinned or preserve-scored")
	}
	if len(stats.ErrorSamples) > 0 {
		b.WriteString("\nerrors:")
		samples := stats.ErrorSamples
		if len(samples) > summaryErrorSamples {
			samples = samples[:summaryErrorSamples]
		}
		for _, sample := range samples {
			fmt.Fprintf(&b, "\n - %s", sample)
		}
	}
	return b.String()
}
