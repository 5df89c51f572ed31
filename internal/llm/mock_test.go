package llm

import (
	"context"
	"strings"
	"testing"

	"github.com/meritgate/meritgate/internal/policy"
)

func TestMockEvaluatorFlagsSpamMarkers(t *testing.T) {
	mock := NewMockEvaluator()
	evaluation, err := mock.Evaluate(context.Background(), "CLICK HERE for free money!!!", EvalContext{ContentType: ContentComment})
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	if evaluation.Classification != policy.QualitySpam {
		t.Fatalf("classification = %q, want spam", evaluation.Classification)
	}
	if evaluation.Confidence < 0.85 {
		t.Fatalf("confidence = %v, want high confidence", evaluation.Confidence)
	}
}

func TestMockEvaluatorTreatsShortContentAsLow(t *testing.T) {
	mock := NewMockEvaluator()
	evaluation, err := mock.Evaluate(context.Background(), "+1", EvalContext{ContentType: ContentComment})
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	if evaluation.Classification != policy.QualityLow {
		t.Fatalf("classification = %q, want low", evaluation.Classification)
	}
}

func TestMockEvaluatorRewardsSubstantialContent(t *testing.T) {
	mock := NewMockEvaluator()
	content := strings.Repeat("This change refactors the parser for clarity. ", 12)
	evaluation, err := mock.Evaluate(context.Background(), content, EvalContext{ContentType: ContentPullRequest})
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	if evaluation.Classification != policy.QualityHigh {
		t.Fatalf("classification = %q, want high", evaluation.Classification)
	}
}

func TestMockEvaluatorDefaultsToAcceptable(t *testing.T) {
	mock := NewMockEvaluator()
	evaluation, err := mock.Evaluate(context.Background(), "Fixes the off-by-one in the pager.", EvalContext{ContentType: ContentPullRequest})
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	if evaluation.Classification != policy.QualityAcceptable {
		t.Fatalf("classification = %q, want acceptable", evaluation.Classification)
	}
}

func TestMockEvaluatorFixedDefaultOverridesHeuristics(t *testing.T) {
	mock := NewMockEvaluatorWithDefault(policy.QualitySpam)
	evaluation, err := mock.Evaluate(context.Background(), "A perfectly reasonable writeup of the change.", EvalContext{})
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	if evaluation.Classification != policy.QualitySpam {
		t.Fatalf("classification = %q, want fixed spam", evaluation.Classification)
	}
	if evaluation.Confidence != 1.0 {
		t.Fatalf("confidence = %v, want 1.0", evaluation.Confidence)
	}
}
