// Package llm evaluates contribution content through a language-model
// provider. Every provider reduces to one capability: classify a piece of
// content into a quality level with a confidence score and a reasoning blurb.
package llm

import (
	"context"
	"errors"

	"github.com/meritgate/meritgate/internal/policy"
)

// ContentType identifies what kind of contribution is being evaluated.
type ContentType string

const (
	ContentPullRequest ContentType = "pull_request"
	ContentComment     ContentType = "comment"
	ContentReview      ContentType = "review"
)

// EvalContext carries the surrounding context of the content under review.
type EvalContext struct {
	ContentType   ContentType `json:"content_type"`
	Title         string      `json:"title,omitempty"`
	Body          string      `json:"body"`
	DiffSummary   string      `json:"diff_summary,omitempty"`
	ThreadContext string      `json:"thread_context,omitempty"`
}

// Evaluation is a provider's verdict on a piece of content.
type Evaluation struct {
	Classification policy.QualityLevel `json:"classification"`
	Confidence     float64             `json:"confidence"`
	Reasoning      string              `json:"reasoning"`
}

// Evaluator is the single capability every provider implements.
type Evaluator interface {
	Evaluate(ctx context.Context, content string, evalCtx EvalContext) (Evaluation, error)
	ProviderName() string
}

// Error kinds distinguished by callers: auth and rate-limit failures come
// from provider HTTP status codes, the rest from transport or payload shape.
var (
	ErrAuth                  = errors.New("llm: authentication failed")
	ErrRateLimited           = errors.New("llm: rate limit exceeded")
	ErrInvalidClassification = errors.New("llm: invalid classification in response")
)
