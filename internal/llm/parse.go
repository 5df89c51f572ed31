package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/meritgate/meritgate/internal/policy"
)

// completionPayload is the JSON object every provider is instructed to emit.
type completionPayload struct {
	Classification string  `json:"classification"`
	Confidence     float64 `json:"confidence"`
	Reasoning      string  `json:"reasoning"`
}

// ParseCompletion extracts an Evaluation from raw completion text. Providers
// sometimes wrap the JSON in prose or markdown fences, so the parse takes the
// substring between the first '{' and the last '}'. Confidence values outside
// [0,1] are clamped.
func ParseCompletion(text string) (Evaluation, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return Evaluation{}, fmt.Errorf("llm: no JSON object in completion %q", truncate(text, 120))
	}

	var payload completionPayload
	if err := json.Unmarshal([]byte(text[start:end+1]), &payload); err != nil {
		return Evaluation{}, fmt.Errorf("llm: decoding completion JSON: %w", err)
	}

	quality, err := policy.ParseQuality(payload.Classification)
	if err != nil {
		return Evaluation{}, fmt.Errorf("%w: %q", ErrInvalidClassification, payload.Classification)
	}

	confidence := payload.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	return Evaluation{
		Classification: quality,
		Confidence:     confidence,
		Reasoning:      payload.Reasoning,
	}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
