// Package policy holds the pure credit-policy decisions: the admission gate,
// the blacklist test, delta lookup by event type and quality level, and the
// clamped credit arithmetic. Nothing in this package performs I/O.
package policy

import (
	"errors"
	"strings"
)

// QualityLevel is the classifier's verdict on a piece of content.
type QualityLevel string

const (
	QualitySpam       QualityLevel = "spam"
	QualityLow        QualityLevel = "low"
	QualityAcceptable QualityLevel = "acceptable"
	QualityHigh       QualityLevel = "high"
)

// EventType identifies the kind of contribution being scored.
type EventType string

const (
	EventPROpened        EventType = "pr_opened"
	EventComment         EventType = "comment"
	EventPRMerged        EventType = "pr_merged"
	EventReviewSubmitted EventType = "review_submitted"
)

// ErrUnknownQuality indicates a classification string outside the four levels.
var ErrUnknownQuality = errors.New("policy: unknown quality level")

// ParseQuality parses a quality-level string. Matching is case-insensitive and
// tolerates the "_quality" suffix some providers append.
func ParseQuality(value string) (QualityLevel, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	normalized = strings.TrimSuffix(normalized, "_quality")
	switch normalized {
	case "spam":
		return QualitySpam, nil
	case "low":
		return QualityLow, nil
	case "acceptable":
		return QualityAcceptable, nil
	case "high":
		return QualityHigh, nil
	default:
		return "", ErrUnknownQuality
	}
}

// DeltaTable maps the four quality levels to signed credit adjustments for a
// single event type.
type DeltaTable struct {
	Spam       int `mapstructure:"spam" json:"spam"`
	Low        int `mapstructure:"low" json:"low"`
	Acceptable int `mapstructure:"acceptable" json:"acceptable"`
	High       int `mapstructure:"high" json:"high"`
}

// Get returns the delta for the given quality level.
func (t DeltaTable) Get(quality QualityLevel) int {
	switch quality {
	case QualitySpam:
		return t.Spam
	case QualityLow:
		return t.Low
	case QualityAcceptable:
		return t.Acceptable
	default:
		return t.High
	}
}

// RepoPolicy is the per-repository credit policy, loaded from
// .meritgate.toml in the repository root or taken from defaults.
type RepoPolicy struct {
	StartingCredit     int `mapstructure:"starting_credit" json:"starting_credit"`
	PRThreshold        int `mapstructure:"pr_threshold" json:"pr_threshold"`
	BlacklistThreshold int `mapstructure:"blacklist_threshold" json:"blacklist_threshold"`

	PROpened        DeltaTable `mapstructure:"pr_opened" json:"pr_opened"`
	Comment         DeltaTable `mapstructure:"comment" json:"comment"`
	PRMerged        DeltaTable `mapstructure:"pr_merged" json:"pr_merged"`
	ReviewSubmitted DeltaTable `mapstructure:"review_submitted" json:"review_submitted"`
}

// Default returns the built-in policy used when a repository carries no
// .meritgate.toml or the file cannot be parsed.
func Default() RepoPolicy {
	return RepoPolicy{
		StartingCredit:     100,
		PRThreshold:        50,
		BlacklistThreshold: 0,
		PROpened:           DeltaTable{Spam: -25, Low: -5, Acceptable: 5, High: 15},
		Comment:            DeltaTable{Spam: -10, Low: -2, Acceptable: 1, High: 3},
		PRMerged:           DeltaTable{Spam: 0, Low: 0, Acceptable: 20, High: 20},
		ReviewSubmitted:    DeltaTable{Spam: 0, Low: 0, Acceptable: 5, High: 5},
	}
}

// Table returns the delta table for the given event type.
func (p RepoPolicy) Table(event EventType) DeltaTable {
	switch event {
	case EventPROpened:
		return p.PROpened
	case EventComment:
		return p.Comment
	case EventPRMerged:
		return p.PRMerged
	default:
		return p.ReviewSubmitted
	}
}

// DeltaFor returns the signed credit adjustment for an event of the given
// type classified at the given quality level.
func DeltaFor(p RepoPolicy, event EventType, quality QualityLevel) int {
	return p.Table(event).Get(quality)
}

// GateResult is the outcome of the PR admission gate.
type GateResult string

const (
	GateAllow GateResult = "allow"
	GateDeny  GateResult = "deny"
)

// CheckPRGate admits PRs from contributors at or above the threshold.
func CheckPRGate(creditScore, threshold int) GateResult {
	if creditScore >= threshold {
		return GateAllow
	}
	return GateDeny
}

// CheckBlacklist reports whether a credit score is at or below the blacklist
// threshold.
func CheckBlacklist(creditScore, blacklistThreshold int) bool {
	return creditScore <= blacklistThreshold
}

// ApplyCredit applies a delta to a score, clamping the result at zero.
func ApplyCredit(current, delta int) int {
	next := current + delta
	if next < 0 {
		return 0
	}
	return next
}
