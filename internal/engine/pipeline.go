package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/meritgate/meritgate/internal/github"
	"github.com/meritgate/meritgate/internal/llm"
	"github.com/meritgate/meritgate/internal/policy"
)

// HandlePROpened runs the pull-request pipeline: maintainer bypass, upsert,
// blacklist check, admission gate, then asynchronous classification.
func (e *Engine) HandlePROpened(ctx context.Context, event *github.PullRequestEvent) error {
	owner := event.Repository.Owner.Login
	repo := event.Repository.Name
	author := event.PullRequest.User

	role := e.lookupRole(ctx, owner, repo, author.Login)
	if role.IsMaintainer() {
		e.logger.Debug("maintainer pull request, skipping pipeline",
			zap.String("repo", owner+"/"+repo),
			zap.String("username", author.Login))
		return nil
	}

	pol := e.policies.Get(ctx, owner, repo)
	contributor, err := e.store.Contributors().LookupOrCreate(ctx, author.ID, author.Login, owner, repo, pol.StartingCredit)
	if err != nil {
		return fmt.Errorf("engine: upserting contributor: %w", err)
	}

	if contributor.IsBlacklisted || policy.CheckBlacklist(contributor.CreditScore, pol.BlacklistThreshold) {
		e.logger.Info("blacklisted contributor opened pull request, scheduling shadow close",
			zap.String("repo", owner+"/"+repo),
			zap.String("username", author.Login),
			zap.Int64("pr_number", event.PullRequest.Number))
		e.ScheduleShadowClose(owner, repo, event.PullRequest.Number)
		return nil
	}

	if policy.CheckPRGate(contributor.CreditScore, pol.PRThreshold) == policy.GateDeny {
		message := fmt.Sprintf(
			"Your current contribution credit (%d) is below this repository's threshold for opening pull requests (%d). This pull request will be closed. Quality contributions such as reviews and helpful comments raise your credit.",
			contributor.CreditScore, pol.PRThreshold)
		if err := e.forge.AddComment(ctx, owner, repo, event.PullRequest.Number, message); err != nil {
			e.logger.Error("deny comment failed",
				zap.String("repo", owner+"/"+repo),
				zap.Int64("pr_number", event.PullRequest.Number),
				zap.Error(err))
		}
		if err := e.forge.ClosePullRequest(ctx, owner, repo, event.PullRequest.Number); err != nil {
			e.logger.Error("deny close failed",
				zap.String("repo", owner+"/"+repo),
				zap.Int64("pr_number", event.PullRequest.Number),
				zap.Error(err))
		}
		return nil
	}

	content := event.PullRequest.Title + "\n\n" + event.PullRequest.Body
	e.dispatch(contributor.ID, owner, repo, policy.EventPROpened, pol, content, llm.EvalContext{
		ContentType: llm.ContentPullRequest,
		Title:       event.PullRequest.Title,
		Body:        event.PullRequest.Body,
	})
	return nil
}

// HandleReviewSubmitted awards the fixed review delta without classification.
// Reviews carry the policy's acceptable-quality review delta.
func (e *Engine) HandleReviewSubmitted(ctx context.Context, event *github.PullRequestReviewEvent) error {
	owner := event.Repository.Owner.Login
	repo := event.Repository.Name
	reviewer := event.Review.User

	role := e.lookupRole(ctx, owner, repo, reviewer.Login)
	if role.HasWriteAccess() {
		return nil
	}

	pol := e.policies.Get(ctx, owner, repo)
	contributor, err := e.store.Contributors().LookupOrCreate(ctx, reviewer.ID, reviewer.Login, owner, repo, pol.StartingCredit)
	if err != nil {
		return fmt.Errorf("engine: upserting contributor: %w", err)
	}
	if contributor.IsBlacklisted || policy.CheckBlacklist(contributor.CreditScore, pol.BlacklistThreshold) {
		return nil
	}

	delta := policy.DeltaFor(pol, policy.EventReviewSubmitted, policy.QualityAcceptable)
	if _, err := e.applyCreditEvent(ctx, contributor.ID, string(policy.EventReviewSubmitted), delta, nil, "", pol, true); err != nil {
		return err
	}

	e.logger.Info("review credited",
		zap.String("repo", owner+"/"+repo),
		zap.String("username", reviewer.Login),
		zap.Int("delta", delta))
	return nil
}

// HandleCommentCreated classifies a PR comment asynchronously.
func (e *Engine) HandleCommentCreated(ctx context.Context, event *github.IssueCommentEvent) error {
	owner := event.Repository.Owner.Login
	repo := event.Repository.Name
	author := event.Comment.User

	role := e.lookupRole(ctx, owner, repo, author.Login)
	if role.HasWriteAccess() {
		return nil
	}

	pol := e.policies.Get(ctx, owner, repo)
	contributor, err := e.store.Contributors().LookupOrCreate(ctx, author.ID, author.Login, owner, repo, pol.StartingCredit)
	if err != nil {
		return fmt.Errorf("engine: upserting contributor: %w", err)
	}
	if contributor.IsBlacklisted || policy.CheckBlacklist(contributor.CreditScore, pol.BlacklistThreshold) {
		return nil
	}

	e.dispatch(contributor.ID, owner, repo, policy.EventComment, pol, event.Comment.Body, llm.EvalContext{
		ContentType:   llm.ContentComment,
		Body:          event.Comment.Body,
		ThreadContext: event.Issue.Title,
	})
	return nil
}
