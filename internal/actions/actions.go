// Package actions runs the credit pipeline in CI mode, where state lives in
// JSON files on a git data branch instead of a server-side database.
package actions

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/meritgate/meritgate/internal/llm"
	"github.com/meritgate/meritgate/internal/policy"
	"github.com/meritgate/meritgate/internal/store"
)

// Runner executes single-shot credit operations against a file store.
type Runner struct {
	store  *store.FileStore
	policy policy.RepoPolicy
	logger *zap.Logger
}

// NewRunner constructs a Runner over the state directory. The policy comes
// from LoadLocalPolicy or defaults.
func NewRunner(stateDir string, pol policy.RepoPolicy, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		store:  store.NewFileStore(stateDir, nil),
		policy: pol,
		logger: logger,
	}
}

// LoadLocalPolicy reads .meritgate.toml from the checked-out repository root.
// A missing or invalid file yields the default policy.
func LoadLocalPolicy(repoDir string, logger *zap.Logger) policy.RepoPolicy {
	data, err := os.ReadFile(repoDir + "/" + policy.PolicyFileName)
	if err != nil {
		return policy.Default()
	}
	parsed, err := policy.ParsePolicy(data)
	if err != nil {
		if logger != nil {
			logger.Warn("policy file invalid, using defaults", zap.Error(err))
		}
		return policy.Default()
	}
	return parsed
}

// InitState creates the state directory and empty data files.
func (r *Runner) InitState() error {
	return r.store.Init()
}

// Decision is the output of CheckCredit, written as JSON for the workflow to
// branch on.
type Decision struct {
	Allowed     bool   `json:"allowed"`
	Blacklisted bool   `json:"blacklisted"`
	Credit      int    `json:"credit"`
	Threshold   int    `json:"threshold"`
	Reason      string `json:"reason,omitempty"`
}

// CheckCredit evaluates the PR gate and blacklist for a contributor.
func (r *Runner) CheckCredit(ctx context.Context, githubUserID int64, username, owner, repo string) (Decision, error) {
	contributor, err := r.store.Contributors().LookupOrCreate(ctx, githubUserID, username, owner, repo, r.policy.StartingCredit)
	if err != nil {
		return Decision{}, err
	}

	decision := Decision{
		Credit:    contributor.CreditScore,
		Threshold: r.policy.PRThreshold,
	}
	switch {
	case contributor.IsBlacklisted || policy.CheckBlacklist(contributor.CreditScore, r.policy.BlacklistThreshold):
		decision.Blacklisted = true
		decision.Reason = "contributor is blacklisted"
	case policy.CheckPRGate(contributor.CreditScore, r.policy.PRThreshold) == policy.GateDeny:
		decision.Reason = fmt.Sprintf("credit %d below threshold %d", contributor.CreditScore, r.policy.PRThreshold)
	default:
		decision.Allowed = true
	}
	return decision, nil
}

// UpdateResult reports the credit movement from UpdateCredit.
type UpdateResult struct {
	Delta           int  `json:"delta"`
	CreditBefore    int  `json:"credit_before"`
	CreditAfter     int  `json:"credit_after"`
	AutoBlacklisted bool `json:"auto_blacklisted"`
}

// UpdateCredit applies a scored event to a contributor: clamped delta, audit
// entry, and the auto-blacklist trip-wire.
func (r *Runner) UpdateCredit(ctx context.Context, githubUserID int64, username, owner, repo string, event policy.EventType, quality policy.QualityLevel) (UpdateResult, error) {
	contributor, err := r.store.Contributors().LookupOrCreate(ctx, githubUserID, username, owner, repo, r.policy.StartingCredit)
	if err != nil {
		return UpdateResult{}, err
	}

	delta := policy.DeltaFor(r.policy, event, quality)
	before := contributor.CreditScore
	after := policy.ApplyCredit(before, delta)

	if err := r.store.Contributors().UpdateCredit(ctx, contributor.ID, after); err != nil {
		return UpdateResult{}, err
	}
	if err := r.store.Events().Append(ctx, &store.CreditEvent{
		ContributorID: contributor.ID,
		RepoOwner:     owner,
		RepoName:      repo,
		EventType:     string(event),
		CreditDelta:   delta,
		CreditBefore:  before,
		CreditAfter:   after,
	}); err != nil {
		return UpdateResult{}, err
	}

	result := UpdateResult{Delta: delta, CreditBefore: before, CreditAfter: after}
	if after <= r.policy.BlacklistThreshold && before > r.policy.BlacklistThreshold {
		if err := r.store.Contributors().SetBlacklisted(ctx, contributor.ID, true); err != nil {
			return UpdateResult{}, err
		}
		if err := r.store.Events().Append(ctx, &store.CreditEvent{
			ContributorID: contributor.ID,
			RepoOwner:     owner,
			RepoName:      repo,
			EventType:     store.EventAutoBlacklist,
			CreditDelta:   0,
			CreditBefore:  after,
			CreditAfter:   after,
			Note:          fmt.Sprintf("Auto-blacklisted due to credit dropping to %d", after),
		}); err != nil {
			return UpdateResult{}, err
		}
		result.AutoBlacklisted = true
	}
	return result, nil
}

// Artifact is the JSON input for Evaluate, produced by the workflow from the
// triggering event.
type Artifact struct {
	ContentType string `json:"content_type"`
	Title       string `json:"title,omitempty"`
	Body        string `json:"body"`
}

// Evaluate classifies an artifact's content and returns the verdict.
func Evaluate(ctx context.Context, evaluator llm.Evaluator, artifactPath string) (llm.Evaluation, error) {
	raw, err := os.ReadFile(artifactPath)
	if err != nil {
		return llm.Evaluation{}, fmt.Errorf("actions: reading artifact: %w", err)
	}
	var artifact Artifact
	if err := json.Unmarshal(raw, &artifact); err != nil {
		return llm.Evaluation{}, fmt.Errorf("actions: decoding artifact: %w", err)
	}

	content := artifact.Body
	if artifact.Title != "" {
		content = artifact.Title + "\n\n" + artifact.Body
	}
	return evaluator.Evaluate(ctx, content, llm.EvalContext{
		ContentType: llm.ContentType(artifact.ContentType),
		Title:       artifact.Title,
		Body:        artifact.Body,
	})
}
