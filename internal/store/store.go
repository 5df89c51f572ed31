// Package store persists contributors, the append-only credit event log, and
// pending evaluations. Two backends implement the same interfaces: a gorm
// SQLite backend for server mode and a JSON file backend for actions mode.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/meritgate/meritgate/internal/policy"
)

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("store: record not found")
	// ErrEvaluationNotPending indicates an approve or override attempt on an
	// evaluation that already left the pending state.
	ErrEvaluationNotPending = errors.New("store: evaluation is not pending")
	// ErrAuditArithmetic indicates an Append whose credit_after does not equal
	// max(0, credit_before + delta). A write like that signals a bug in the
	// caller, never valid data.
	ErrAuditArithmetic = errors.New("store: credit event arithmetic violation")
)

// Contributor is the per-(user, repo) credit record. The same GitHub user has
// an independent row, score, and blacklist flag in every repository.
type Contributor struct {
	ID            int64     `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	GithubUserID  int64     `gorm:"column:github_user_id;not null;uniqueIndex:idx_contributors_user_repo,priority:1" json:"github_user_id"`
	Username      string    `gorm:"column:username;size:190;not null" json:"username"`
	RepoOwner     string    `gorm:"column:repo_owner;size:190;not null;uniqueIndex:idx_contributors_user_repo,priority:2" json:"repo_owner"`
	RepoName      string    `gorm:"column:repo_name;size:190;not null;uniqueIndex:idx_contributors_user_repo,priority:3" json:"repo_name"`
	CreditScore   int       `gorm:"column:credit_score;not null" json:"credit_score"`
	Role          string    `gorm:"column:role;size:32;not null;default:'untrusted'" json:"role"`
	IsBlacklisted bool      `gorm:"column:is_blacklisted;not null;default:false" json:"is_blacklisted"`
	CreatedAt     time.Time `gorm:"column:created_at;not null" json:"created_at"`
	UpdatedAt     time.Time `gorm:"column:updated_at;not null" json:"updated_at"`
}

// TableName provides the explicit table binding for GORM.
func (Contributor) TableName() string {
	return "contributors"
}

// CreditEvent is one immutable entry in the audit log. EvaluationJSON holds
// the serialized classifier verdict when an evaluation produced the event.
type CreditEvent struct {
	ID             int64     `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	ContributorID  int64     `gorm:"column:contributor_id;not null;index:idx_events_contributor" json:"contributor_id"`
	RepoOwner      string    `gorm:"column:repo_owner;size:190;not null;index:idx_events_repo,priority:1" json:"repo_owner"`
	RepoName       string    `gorm:"column:repo_name;size:190;not null;index:idx_events_repo,priority:2" json:"repo_name"`
	EventType      string    `gorm:"column:event_type;size:64;not null" json:"event_type"`
	CreditDelta    int       `gorm:"column:credit_delta;not null" json:"credit_delta"`
	CreditBefore   int       `gorm:"column:credit_before;not null" json:"credit_before"`
	CreditAfter    int       `gorm:"column:credit_after;not null" json:"credit_after"`
	EvaluationJSON *string   `gorm:"column:evaluation_json;type:text" json:"evaluation_json,omitempty"`
	Note           string    `gorm:"column:note;type:text;not null;default:''" json:"note,omitempty"`
	CreatedAt      time.Time `gorm:"column:created_at;not null" json:"created_at"`
}

// TableName provides the explicit table binding for GORM.
func (CreditEvent) TableName() string {
	return "credit_events"
}

// Audit event types beyond the four contribution kinds in the policy package.
const (
	EventEvaluationApproved   = "evaluation_approved"
	EventEvaluationOverridden = "evaluation_overridden"
	EventManualAdjustment     = "manual_adjustment"
	EventBlacklistAdded       = "blacklist_added"
	EventBlacklistRemoved     = "blacklist_removed"
	EventAutoBlacklist        = "auto_blacklist"
)

// Evaluation status lifecycle: pending until a maintainer acts on it.
const (
	EvaluationStatusPending    = "pending"
	EvaluationStatusApproved   = "approved"
	EvaluationStatusOverridden = "overridden"
)

// PendingEvaluation is a low-confidence classifier verdict parked for
// maintainer review. No credit moves until it is approved or overridden.
type PendingEvaluation struct {
	ID             string    `gorm:"column:id;primaryKey;size:190" json:"id"`
	ContributorID  int64     `gorm:"column:contributor_id;not null" json:"contributor_id"`
	RepoOwner      string    `gorm:"column:repo_owner;size:190;not null;index:idx_evaluations_repo,priority:1" json:"repo_owner"`
	RepoName       string    `gorm:"column:repo_name;size:190;not null;index:idx_evaluations_repo,priority:2" json:"repo_name"`
	EventType      string    `gorm:"column:event_type;size:64;not null" json:"event_type"`
	ContentType    string    `gorm:"column:content_type;size:32;not null" json:"content_type"`
	ContentExcerpt string    `gorm:"column:content_excerpt;type:text;not null;default:''" json:"content_excerpt"`
	Classification string    `gorm:"column:classification;size:32;not null" json:"classification"`
	Confidence     float64   `gorm:"column:confidence;not null" json:"confidence"`
	Reasoning      string    `gorm:"column:reasoning;type:text;not null;default:''" json:"reasoning"`
	ProposedDelta  int       `gorm:"column:proposed_delta;not null" json:"proposed_delta"`
	Status         string    `gorm:"column:status;size:32;not null;default:'pending'" json:"status"`
	FinalDelta     *int      `gorm:"column:final_delta" json:"final_delta,omitempty"`
	MaintainerNote string    `gorm:"column:maintainer_note;type:text;not null;default:''" json:"maintainer_note,omitempty"`
	CreatedAt      time.Time `gorm:"column:created_at;not null" json:"created_at"`
	UpdatedAt      time.Time `gorm:"column:updated_at;not null" json:"updated_at"`
}

// TableName provides the explicit table binding for GORM.
func (PendingEvaluation) TableName() string {
	return "pending_evaluations"
}

// EventFilter narrows ListEvents. Zero values mean no filtering.
type EventFilter struct {
	ContributorID int64
	EventType     string
}

// Page describes offset pagination. PerPage of zero means no limit.
type Page struct {
	Number  int
	PerPage int
}

// Offset converts the page to a row offset. Pages are one-based.
func (p Page) Offset() int {
	if p.Number <= 1 || p.PerPage <= 0 {
		return 0
	}
	return (p.Number - 1) * p.PerPage
}

// ContributorStore manages per-(user, repo) credit records.
type ContributorStore interface {
	Lookup(ctx context.Context, githubUserID int64, owner, repo string) (*Contributor, error)
	GetByID(ctx context.Context, id int64) (*Contributor, error)
	// LookupOrCreate returns the existing record or creates one with the
	// given starting credit. Concurrent creation of the same record must
	// resolve to a single row.
	LookupOrCreate(ctx context.Context, githubUserID int64, username, owner, repo string, startingCredit int) (*Contributor, error)
	UpdateCredit(ctx context.Context, id int64, creditScore int) error
	SetRole(ctx context.Context, id int64, role string) error
	SetBlacklisted(ctx context.Context, id int64, blacklisted bool) error
	ListByRepo(ctx context.Context, owner, repo string, page Page) ([]Contributor, error)
	CountByRepo(ctx context.Context, owner, repo string) (int64, error)
}

// EventLog is the append-only audit trail. Entries are never updated or
// deleted once written.
type EventLog interface {
	Append(ctx context.Context, event *CreditEvent) error
	ListByRepo(ctx context.Context, owner, repo string, filter EventFilter, page Page) ([]CreditEvent, error)
	CountByRepo(ctx context.Context, owner, repo string, filter EventFilter) (int64, error)
}

// EvaluationStore manages pending evaluations through their lifecycle.
type EvaluationStore interface {
	Insert(ctx context.Context, evaluation *PendingEvaluation) error
	Get(ctx context.Context, id string) (*PendingEvaluation, error)
	ListByRepo(ctx context.Context, owner, repo, status string, page Page) ([]PendingEvaluation, error)
	CountByRepo(ctx context.Context, owner, repo, status string) (int64, error)
	// Approve marks a pending evaluation approved with its proposed delta as
	// the final delta. Fails with ErrEvaluationNotPending otherwise.
	Approve(ctx context.Context, id, maintainerNote string) (*PendingEvaluation, error)
	// Override marks a pending evaluation overridden with a custom delta.
	Override(ctx context.Context, id string, finalDelta int, maintainerNote string) (*PendingEvaluation, error)
}

// Store bundles the three persistence interfaces a backend provides.
type Store interface {
	Contributors() ContributorStore
	Events() EventLog
	Evaluations() EvaluationStore
}

// checkAuditArithmetic enforces the audit invariant shared by both backends.
func checkAuditArithmetic(event *CreditEvent) error {
	if event.CreditAfter != policy.ApplyCredit(event.CreditBefore, event.CreditDelta) {
		return ErrAuditArithmetic
	}
	return nil
}
