package llm

import (
	"fmt"
	"strings"
)

const systemPrompt = `You are an expert code reviewer evaluating open source contributions for quality and spam detection.

Your task is to classify contributions into one of four quality levels:
- spam: Obvious spam, promotional content, or malicious contributions
- low: Low-effort contributions with minimal value (trivial changes, poor quality, unclear intent)
- acceptable: Valid contributions that meet basic standards
- high: High-quality contributions (well-structured, clear intent, meaningful improvements)

Return your evaluation as JSON in this exact format:
{
  "classification": "spam" | "low" | "acceptable" | "high",
  "confidence": 0.0-1.0,
  "reasoning": "Brief explanation of your classification"
}

Be objective and focus on:
1. Intent and quality of the contribution
2. Clarity of communication
3. Technical merit
4. Effort and thoughtfulness
5. Potential value to the project`

// SystemPrompt returns the shared classification instructions.
func SystemPrompt() string { return systemPrompt }

// BuildUserPrompt renders the content and its context into the evaluation
// request sent to the provider.
func BuildUserPrompt(content string, evalCtx EvalContext) string {
	switch evalCtx.ContentType {
	case ContentComment:
		return buildCommentPrompt(content, evalCtx)
	case ContentReview:
		return buildReviewPrompt(content, evalCtx)
	default:
		return buildPRPrompt(content, evalCtx)
	}
}

func buildPRPrompt(content string, evalCtx EvalContext) string {
	var b strings.Builder
	b.WriteString("Evaluate this pull request:\n\n")
	if evalCtx.Title != "" {
		fmt.Fprintf(&b, "Title: %s\n\n", evalCtx.Title)
	}
	fmt.Fprintf(&b, "Description:\n%s\n\n", evalCtx.Body)
	if evalCtx.DiffSummary != "" {
		fmt.Fprintf(&b, "Diff Summary: %s\n\n", evalCtx.DiffSummary)
	}
	fmt.Fprintf(&b, "Full Content:\n%s\n\n", content)
	b.WriteString("Provide your evaluation as JSON.")
	return b.String()
}

func buildCommentPrompt(content string, evalCtx EvalContext) string {
	var b strings.Builder
	b.WriteString("Evaluate this comment:\n\n")
	if evalCtx.ThreadContext != "" {
		fmt.Fprintf(&b, "Thread Context:\n%s\n\n", evalCtx.ThreadContext)
	}
	fmt.Fprintf(&b, "Comment:\n%s\n\n", content)
	b.WriteString("Provide your evaluation as JSON.")
	return b.String()
}

func buildReviewPrompt(content string, evalCtx EvalContext) string {
	var b strings.Builder
	b.WriteString("Evaluate this pull request review:\n\n")
	if evalCtx.ThreadContext != "" {
		fmt.Fprintf(&b, "PR Context:\n%s\n\n", evalCtx.ThreadContext)
	}
	fmt.Fprintf(&b, "Review:\n%s\n\n", content)
	b.WriteString("Provide your evaluation as JSON.")
	return b.String()
}
