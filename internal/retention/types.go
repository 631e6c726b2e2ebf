// Package retention implements the channel lifecycle engine: policy
// scoring, inventory enrichment, batched eviction and capacity
// enforcement.
package retention

import (
	"time"
)

// Channel is one fully enriched channel under retention management.
type Channel struct {
	ID             string
	Category       string
	Name           string
	CreatedAt      time.Time
	EventTime      *time.Time // scheduled moment the channel represents
	LastActivityAt *time.Time
	HasPinned      bool
	MessageCount   int
}

type Action int

const (
	Preserve Action = iota
	Evict
)

func (a Action) String() string {
	if a == Preserve {
		return "preserve"
	}
	return "evict"
}

// Decision is the scored outcome for one channel. Recomputed every sweep,
// never persisted.
type Decision struct {
	ChannelID string
	Score     int
	Action    Action
	Reasons   []string
}

// Policy holds the knobs a sweep is evaluated under.
type Policy struct {
	RetentionDays  int
	PreserveActive bool
	PreservePinned bool
}

func DefaultPolicy(retentionDays int) Policy {
	return Policy{
		RetentionDays:  retentionDays,
		PreserveActive: true,
		PreservePinned: true,
	}
}

// Stage tracks where a sweep currently is. Per-channel failures never move
// a sweep to a terminal failure; only a fatal inventory error does.
type Stage int

const (
	StageIdle Stage = iota
	StageScanning
	StageScoring
	StageEvicting
	StageCapacityCheck
	StageReporting
)

func (s Stage) String() string {
	switch s {
	case StageIdle:
		return "idle"
	case StageScanning:
		return "scanning"
	case StageScoring:
		return "scoring"
	case StageEvicting:
		return "evicting"
	case StageCapacityCheck:
		return "capacity_check"
	case StageReporting:
		return "reporting"
	default:
		return "unknown"
	}
}

const maxErrorSamples = 10

// SweepStats aggregates one sweep. Immutable once Finish is called.
type SweepStats struct {
	SweepID         string    `json:"sweepId"`
	Category        string    `json:"category"`
	Processed       int       `json:"processed"`
	Deleted         int       `json:"deleted"`
	Preserved       int       `json:"preserved"`
	Errors          int       `json:"errors"`
	StartedAt       time.Time `json:"startedAt"`
	FinishedAt      time.Time `json:"finishedAt"`
	DryRun          bool      `json:"dryRun"`
	CeilingExceeded bool      `json:"ceilingExceeded,omitempty"`
	ErrorSamples    []string  `json:"errorSamples,omitempty"`
}

func (s *SweepStats) Duration() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}

// RecordError bumps the error count and keeps a bounded sample of reasons.
func (s *SweepStats) RecordError(reason string) {
	s.Errors++
	if len(s.ErrorSamples) < maxErrorSamples {
		s.ErrorSamples = append(s.ErrorSamples, reason)
	}
}
