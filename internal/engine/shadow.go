package engine

import (
	"time"

	"go.uber.org/zap"
)

// ScheduleShadowClose quietly closes a blacklisted contributor's pull request
// after a randomized delay, with a generic comment that reveals nothing about
// credit or blacklisting. The delay is drawn uniformly from 30 to 120 seconds
// on every invocation so the timing carries no signal either.
func (e *Engine) ScheduleShadowClose(owner, repo string, number int64) {
	delaySeconds := shadowDelayMinSeconds + e.randIntn(shadowDelayMaxSeconds-shadowDelayMinSeconds+1)
	delay := time.Duration(delaySeconds) * time.Second

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()

		if err := e.sleep(e.baseCtx, delay); err != nil {
			// Shutdown before the timer fired; the close is best-effort.
			return
		}

		if err := e.forge.AddComment(e.baseCtx, owner, repo, number, shadowCloseMessage); err != nil {
			e.logger.Error("shadow close comment failed",
				zap.String("repo", owner+"/"+repo),
				zap.Int64("pr_number", number),
				zap.Error(err))
		}
		if err := e.forge.ClosePullRequest(e.baseCtx, owner, repo, number); err != nil {
			e.logger.Error("shadow close failed",
				zap.String("repo", owner+"/"+repo),
				zap.Int64("pr_number", number),
				zap.Error(err))
			return
		}

		e.logger.Info("pull request shadow closed",
			zap.String("repo", owner+"/"+repo),
			zap.Int64("pr_number", number),
			zap.Duration("delay", delay))
	}()
}
