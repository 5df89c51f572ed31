package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/meritgate/meritgate/internal/llm"
	"github.com/meritgate/meritgate/internal/policy"
	"github.com/meritgate/meritgate/internal/store"
)

const evalTimeout = 2 * time.Minute

// dispatch runs classification on a goroutine, bounded by the permit channel.
// Provider failures are logged and dropped: no credit moves, no pending row.
func (e *Engine) dispatch(contributorID int64, owner, repo string, event policy.EventType, pol policy.RepoPolicy, content string, evalCtx llm.EvalContext) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()

		select {
		case e.permits <- struct{}{}:
		case <-e.baseCtx.Done():
			return
		}
		defer func() { <-e.permits }()

		ctx, cancel := context.WithTimeout(e.baseCtx, evalTimeout)
		defer cancel()

		evaluation, err := e.evaluator.Evaluate(ctx, content, evalCtx)
		e.evaluatorUp.Store(err == nil)
		if err != nil {
			e.logger.Error("classification failed",
				zap.String("repo", owner+"/"+repo),
				zap.Int64("contributor_id", contributorID),
				zap.String("event_type", string(event)),
				zap.Error(err))
			return
		}

		if err := e.applyEvaluation(ctx, contributorID, owner, repo, event, pol, evaluation, content); err != nil {
			e.logger.Error("applying evaluation failed",
				zap.String("repo", owner+"/"+repo),
				zap.Int64("contributor_id", contributorID),
				zap.Error(err))
		}
	}()
}

// applyEvaluation branches on classifier confidence: at or above the
// threshold the delta applies immediately; below it the verdict parks as a
// pending evaluation for a maintainer.
func (e *Engine) applyEvaluation(ctx context.Context, contributorID int64, owner, repo string, event policy.EventType, pol policy.RepoPolicy, evaluation llm.Evaluation, content string) error {
	delta := policy.DeltaFor(pol, event, evaluation.Classification)

	if evaluation.Confidence >= ConfidenceThreshold {
		encoded, err := json.Marshal(evaluation)
		if err != nil {
			return fmt.Errorf("engine: encoding evaluation: %w", err)
		}
		evaluationJSON := string(encoded)

		contributor, err := e.applyCreditEvent(ctx, contributorID, string(event), delta, &evaluationJSON, "", pol, true)
		if err != nil {
			return err
		}
		e.logger.Info("evaluation applied",
			zap.String("repo", owner+"/"+repo),
			zap.String("username", contributor.Username),
			zap.String("classification", string(evaluation.Classification)),
			zap.Float64("confidence", evaluation.Confidence),
			zap.Int("delta", delta),
			zap.Int("credit", contributor.CreditScore))
		return nil
	}

	contributor, err := e.store.Contributors().GetByID(ctx, contributorID)
	if err != nil {
		return fmt.Errorf("engine: reading contributor: %w", err)
	}

	pending := store.PendingEvaluation{
		ID:             EvaluationID(contributor.Username, repo, time.Now()),
		ContributorID:  contributor.ID,
		RepoOwner:      owner,
		RepoName:       repo,
		EventType:      string(event),
		ContentType:    string(contentTypeFor(event)),
		ContentExcerpt: excerpt(content, 500),
		Classification: string(evaluation.Classification),
		Confidence:     evaluation.Confidence,
		Reasoning:      evaluation.Reasoning,
		ProposedDelta:  delta,
	}
	if err := e.store.Evaluations().Insert(ctx, &pending); err != nil {
		return fmt.Errorf("engine: inserting pending evaluation: %w", err)
	}

	e.logger.Info("evaluation pending maintainer review",
		zap.String("repo", owner+"/"+repo),
		zap.String("username", contributor.Username),
		zap.String("evaluation_id", pending.ID),
		zap.String("classification", string(evaluation.Classification)),
		zap.Float64("confidence", evaluation.Confidence))
	return nil
}

// EvaluationID builds the stable identifier for a pending evaluation.
func EvaluationID(username, repo string, at time.Time) string {
	return fmt.Sprintf("eval-%s-%s-%d", username, repo, at.Unix())
}

func contentTypeFor(event policy.EventType) llm.ContentType {
	switch event {
	case policy.EventComment:
		return llm.ContentComment
	case policy.EventReviewSubmitted:
		return llm.ContentReview
	default:
		return llm.ContentPullRequest
	}
}

func excerpt(content string, limit int) string {
	if len(content) <= limit {
		return content
	}
	return content[:limit]
}
