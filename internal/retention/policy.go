package retention

import (
	"time"
)

// Preservation score weights. These are a compatibility constant: sweeps
// must score identically across versions, so do not tune them casually.
const (
	weightFresh       = 10
	weightFutureEvent = 20
	weightRecentEvent = 15
	weightHotActivity = 15
	weightWarmWindow  = 5
	weightEngagement  = 5
	weightPinned      = 10

	activityWindow      = 24 * time.Hour
	engagementThreshold = 5
)

// Evaluate scores one channel against the policy at the given instant.
// Pure: no I/O, deterministic for identical inputs. A channel preserves
// when any positive signal lands (score > 0); a missing LastActivityAt
// contributes nothing, so adding signals can only move a channel toward
// Preserve.
//
// The age window is exclusive: a channel created exactly RetentionDays ago
// is no longer fresh.
func Evaluate(ch Channel, policy Policy, now time.Time) Decision {
	d := Decision{ChannelID: ch.ID}
	window := time.Duration(policy.RetentionDays) * 24 * time.Hour

	if now.Sub(ch.CreatedAt) < window {
		d.Score += weightFresh
		d.Reasons = append(d.Reasons, "created recently")
	}

	if ch.EventTime != nil {
		if ch.EventTime.After(now) {
			d.Score += weightFutureEvent
			d.Reasons = append(d.Reasons, "upcoming event")
		} else if now.Sub(*ch.EventTime) < activityWindow {
			d.Score += weightRecentEvent
			d.Reasons = append(d.Reasons, "event within 24h")
		}
	}

	if policy.PreserveActive && ch.LastActivityAt != nil {
		since := now.Sub(*ch.LastActivityAt)
		if since < activityWindow {
			d.Score += weightHotActivity
			d.Reasons = append(d.Reasons, "active within 24h")
		} else if since < window {
			d.Score += weightWarmWindow
			d.Reasons = append(d.Reasons, "active within retention window")
		}
	}

	if ch.MessageCount >= engagementThreshold {
		d.Score += weightEngagement
		d.Reasons = append(d.Reasons, "engaged")
	}

	if policy.PreservePinned && ch.HasPinned {
		d.Score += weightPinned
		d.Reasons = append(d.Reasons, "pinned content")
	}

	if d.Score > 0 {
		d.Action = Preserve
	} else {
		d.Action = Evict
	}
	return d
}

// EvaluateAll scores a slice of channels, returning decisions in input
// order.
func EvaluateAll(channels []Channel, policy Policy, now time.Time) []Decision {
	decisions := make([]Decision, len(channels))
	for i, ch := range channels {
		decisions[i] = Evaluate(ch, policy, now)
	}
	return decisions
}
