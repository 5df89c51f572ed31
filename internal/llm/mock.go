package llm

import (
	"context"
	"strings"

	"github.com/meritgate/meritgate/internal/policy"
)

// MockEvaluator classifies content with cheap keyword heuristics. It exists
// for local development and tests; no network access, deterministic output.
type MockEvaluator struct {
	// defaultQuality overrides the heuristics when set.
	defaultQuality policy.QualityLevel
	hasDefault     bool
}

// NewMockEvaluator returns a heuristic mock evaluator.
func NewMockEvaluator() *MockEvaluator {
	return &MockEvaluator{}
}

// NewMockEvaluatorWithDefault returns a mock that always answers with the
// given classification at full confidence.
func NewMockEvaluatorWithDefault(quality policy.QualityLevel) *MockEvaluator {
	return &MockEvaluator{defaultQuality: quality, hasDefault: true}
}

// Evaluate classifies the content. The heuristics flag obvious spam markers,
// treat very short content as low effort, and reward substantial writeups.
func (m *MockEvaluator) Evaluate(_ context.Context, content string, _ EvalContext) (Evaluation, error) {
	if m.hasDefault {
		return Evaluation{
			Classification: m.defaultQuality,
			Confidence:     1.0,
			Reasoning:      "mock evaluator fixed classification",
		}, nil
	}

	lowered := strings.ToLower(content)
	switch {
	case containsAny(lowered, "buy now", "click here", "free money", "casino", "http://spam"):
		return Evaluation{
			Classification: policy.QualitySpam,
			Confidence:     0.95,
			Reasoning:      "content matches spam markers",
		}, nil
	case len(strings.TrimSpace(content)) < 20:
		return Evaluation{
			Classification: policy.QualityLow,
			Confidence:     0.9,
			Reasoning:      "content too short to carry meaningful information",
		}, nil
	case len(content) > 400:
		return Evaluation{
			Classification: policy.QualityHigh,
			Confidence:     0.9,
			Reasoning:      "substantial, detailed content",
		}, nil
	default:
		return Evaluation{
			Classification: policy.QualityAcceptable,
			Confidence:     0.9,
			Reasoning:      "content meets basic standards",
		}, nil
	}
}

// ProviderName identifies the mock provider.
func (m *MockEvaluator) ProviderName() string { return "mock" }

func containsAny(s string, needles ...string) bool {
	for _, needle := range needles {
		if strings.Contains(s, needle) {
			return true
		}
	}
	return false
}
