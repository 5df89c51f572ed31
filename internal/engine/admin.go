package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/meritgate/meritgate/internal/store"
)

// ApproveEvaluation resolves a pending evaluation and applies its proposed
// delta to the contributor's credit.
func (e *Engine) ApproveEvaluation(ctx context.Context, id, maintainerNote string) (*store.PendingEvaluation, error) {
	evaluation, err := e.store.Evaluations().Approve(ctx, id, maintainerNote)
	if err != nil {
		return nil, err
	}
	return e.applyResolved(ctx, evaluation, store.EventEvaluationApproved, evaluation.ProposedDelta, maintainerNote)
}

// OverrideEvaluation resolves a pending evaluation with a maintainer-chosen
// delta instead of the classifier's proposal.
func (e *Engine) OverrideEvaluation(ctx context.Context, id string, finalDelta int, maintainerNote string) (*store.PendingEvaluation, error) {
	evaluation, err := e.store.Evaluations().Override(ctx, id, finalDelta, maintainerNote)
	if err != nil {
		return nil, err
	}
	return e.applyResolved(ctx, evaluation, store.EventEvaluationOverridden, finalDelta, maintainerNote)
}

func (e *Engine) applyResolved(ctx context.Context, evaluation *store.PendingEvaluation, eventType string, delta int, note string) (*store.PendingEvaluation, error) {
	pol := e.policies.Get(ctx, evaluation.RepoOwner, evaluation.RepoName)
	contributor, err := e.applyCreditEvent(ctx, evaluation.ContributorID, eventType, delta, nil, note, pol, true)
	if err != nil {
		return nil, err
	}

	e.logger.Info("evaluation resolved",
		zap.String("evaluation_id", evaluation.ID),
		zap.String("resolution", eventType),
		zap.Int("delta", delta),
		zap.String("username", contributor.Username),
		zap.Int("credit", contributor.CreditScore))
	return evaluation, nil
}

// AdjustCredit applies a manual credit adjustment. Manual adjustments never
// trip the auto-blacklist: a maintainer lowering a score on purpose can
// blacklist explicitly.
func (e *Engine) AdjustCredit(ctx context.Context, contributorID int64, delta int, reason string) (*store.Contributor, error) {
	existing, err := e.store.Contributors().GetByID(ctx, contributorID)
	if err != nil {
		return nil, err
	}
	pol := e.policies.Get(ctx, existing.RepoOwner, existing.RepoName)
	contributor, err := e.applyCreditEvent(ctx, contributorID, store.EventManualAdjustment, delta, nil, reason, pol, false)
	if err != nil {
		return nil, err
	}

	e.logger.Info("manual credit adjustment",
		zap.Int64("contributor_id", contributorID),
		zap.Int("delta", delta),
		zap.Int("credit", contributor.CreditScore))
	return contributor, nil
}

// SetBlacklist toggles a contributor's blacklist flag and records the change
// in the audit log.
func (e *Engine) SetBlacklist(ctx context.Context, contributorID int64, blacklisted bool, reason string) (*store.Contributor, error) {
	contributor, err := e.store.Contributors().GetByID(ctx, contributorID)
	if err != nil {
		return nil, err
	}
	if contributor.IsBlacklisted == blacklisted {
		return contributor, nil
	}

	if err := e.store.Contributors().SetBlacklisted(ctx, contributorID, blacklisted); err != nil {
		return nil, fmt.Errorf("engine: setting blacklist flag: %w", err)
	}
	contributor.IsBlacklisted = blacklisted

	eventType := store.EventBlacklistAdded
	if !blacklisted {
		eventType = store.EventBlacklistRemoved
	}
	event := store.CreditEvent{
		ContributorID: contributor.ID,
		RepoOwner:     contributor.RepoOwner,
		RepoName:      contributor.RepoName,
		EventType:     eventType,
		CreditDelta:   0,
		CreditBefore:  contributor.CreditScore,
		CreditAfter:   contributor.CreditScore,
		Note:          reason,
	}
	if err := e.store.Events().Append(ctx, &event); err != nil {
		return nil, fmt.Errorf("engine: appending blacklist event: %w", err)
	}

	e.logger.Info("blacklist flag changed",
		zap.Int64("contributor_id", contributorID),
		zap.Bool("blacklisted", blacklisted))
	return contributor, nil
}
