// Package engine drives the contribution pipeline: role checks, the PR
// admission gate, blacklist enforcement, asynchronous quality classification,
// and the credit arithmetic with its audit trail.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/meritgate/meritgate/internal/github"
	"github.com/meritgate/meritgate/internal/llm"
	"github.com/meritgate/meritgate/internal/policy"
	"github.com/meritgate/meritgate/internal/store"
)

// ConfidenceThreshold is the minimum classifier confidence for an evaluation
// to apply credit automatically. Anything below parks as a pending evaluation.
const ConfidenceThreshold = 0.85

const (
	// shadowCloseMessage deliberately reveals nothing about credit scores.
	shadowCloseMessage = "Thank you for your contribution. Unfortunately, we are unable to accept this pull request at this time."

	shadowDelayMinSeconds = 30
	shadowDelayMaxSeconds = 120
)

// ForgeClient is the narrow forge surface the engine depends on.
type ForgeClient interface {
	ClosePullRequest(ctx context.Context, owner, repo string, number int64) error
	AddComment(ctx context.Context, owner, repo string, number int64, text string) error
	CollaboratorRole(ctx context.Context, owner, repo, username string) (github.CollaboratorRole, error)
}

// PolicySource yields the effective policy for a repository.
type PolicySource interface {
	Get(ctx context.Context, owner, repo string) policy.RepoPolicy
}

var errMissingDependency = errors.New("engine: missing dependency")

// Config wires an Engine. Store, Forge, Evaluator, and Policies are required.
type Config struct {
	Store     store.Store
	Forge     ForgeClient
	Evaluator llm.Evaluator
	Policies  PolicySource
	Logger    *zap.Logger

	// MaxConcurrentEvals bounds in-flight classifier calls. Zero means 10.
	MaxConcurrentEvals int

	// Sleep and RandIntn are injectable for tests. Defaults: context-aware
	// timer sleep and math/rand.
	Sleep    func(ctx context.Context, d time.Duration) error
	RandIntn func(n int) int
}

// Engine executes the contribution pipeline.
type Engine struct {
	store     store.Store
	forge     ForgeClient
	evaluator llm.Evaluator
	policies  PolicySource
	logger    *zap.Logger

	permits  chan struct{}
	sleep    func(ctx context.Context, d time.Duration) error
	randIntn func(n int) int

	// evaluatorUp tracks the outcome of the most recent classification call
	// so the health endpoint can report provider availability.
	evaluatorUp atomic.Bool

	// baseCtx outlives the webhook request that spawned the work; Close
	// cancels it to stop shadow-close timers on shutdown.
	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New constructs an Engine.
func New(cfg Config) (*Engine, error) {
	if cfg.Store == nil || cfg.Forge == nil || cfg.Evaluator == nil || cfg.Policies == nil {
		return nil, errMissingDependency
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	maxEvals := cfg.MaxConcurrentEvals
	if maxEvals <= 0 {
		maxEvals = 10
	}
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = timerSleep
	}
	randIntn := cfg.RandIntn
	if randIntn == nil {
		randIntn = rand.Intn
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		store:     cfg.Store,
		forge:     cfg.Forge,
		evaluator: cfg.Evaluator,
		policies:  cfg.Policies,
		logger:    logger,
		permits:   make(chan struct{}, maxEvals),
		sleep:     sleep,
		randIntn:  randIntn,
		baseCtx:   ctx,
		cancel:    cancel,
	}
	e.evaluatorUp.Store(true)
	return e, nil
}

// EvaluatorAvailable reports whether the most recent classification call
// succeeded. It starts optimistic and flips on provider failures.
func (e *Engine) EvaluatorAvailable() bool {
	return e.evaluatorUp.Load()
}

// Close cancels background work and waits for in-flight goroutines.
func (e *Engine) Close() {
	e.cancel()
	e.wg.Wait()
}

// Wait blocks until all background work spawned so far has finished.
func (e *Engine) Wait() {
	e.wg.Wait()
}

func timerSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// lookupRole resolves a user's repository role. A forge failure downgrades to
// no role rather than blocking the pipeline.
func (e *Engine) lookupRole(ctx context.Context, owner, repo, username string) github.CollaboratorRole {
	role, err := e.forge.CollaboratorRole(ctx, owner, repo, username)
	if err != nil {
		e.logger.Warn("role lookup failed, treating as untrusted",
			zap.String("repo", owner+"/"+repo),
			zap.String("username", username),
			zap.Error(err))
		return github.RoleNone
	}
	return role
}

// applyCreditEvent performs the clamped credit update plus its audit entry,
// then runs the auto-blacklist trip-wire when asked to. The contributor is
// re-read so the arithmetic starts from current state.
func (e *Engine) applyCreditEvent(ctx context.Context, contributorID int64, eventType string, delta int, evaluationJSON *string, note string, pol policy.RepoPolicy, tripWire bool) (*store.Contributor, error) {
	contributor, err := e.store.Contributors().GetByID(ctx, contributorID)
	if err != nil {
		return nil, fmt.Errorf("engine: reading contributor: %w", err)
	}

	before := contributor.CreditScore
	after := policy.ApplyCredit(before, delta)
	if err := e.store.Contributors().UpdateCredit(ctx, contributor.ID, after); err != nil {
		return nil, fmt.Errorf("engine: updating credit: %w", err)
	}
	contributor.CreditScore = after

	event := store.CreditEvent{
		ContributorID:  contributor.ID,
		RepoOwner:      contributor.RepoOwner,
		RepoName:       contributor.RepoName,
		EventType:      eventType,
		CreditDelta:    delta,
		CreditBefore:   before,
		CreditAfter:    after,
		EvaluationJSON: evaluationJSON,
		Note:           note,
	}
	if err := e.store.Events().Append(ctx, &event); err != nil {
		return nil, fmt.Errorf("engine: appending credit event: %w", err)
	}

	if tripWire && after <= pol.BlacklistThreshold && before > pol.BlacklistThreshold {
		if err := e.autoBlacklist(ctx, contributor); err != nil {
			return nil, err
		}
	}
	return contributor, nil
}

func (e *Engine) autoBlacklist(ctx context.Context, contributor *store.Contributor) error {
	if err := e.store.Contributors().SetBlacklisted(ctx, contributor.ID, true); err != nil {
		return fmt.Errorf("engine: setting blacklist flag: %w", err)
	}
	contributor.IsBlacklisted = true

	event := store.CreditEvent{
		ContributorID: contributor.ID,
		RepoOwner:     contributor.RepoOwner,
		RepoName:      contributor.RepoName,
		EventType:     store.EventAutoBlacklist,
		CreditDelta:   0,
		CreditBefore:  contributor.CreditScore,
		CreditAfter:   contributor.CreditScore,
		Note:          fmt.Sprintf("Auto-blacklisted due to credit dropping to %d", contributor.CreditScore),
	}
	if err := e.store.Events().Append(ctx, &event); err != nil {
		return fmt.Errorf("engine: appending auto-blacklist event: %w", err)
	}

	e.logger.Info("contributor auto-blacklisted",
		zap.Int64("contributor_id", contributor.ID),
		zap.String("repo", contributor.RepoOwner+"/"+contributor.RepoName),
		zap.Int("credit", contributor.CreditScore))
	return nil
}
