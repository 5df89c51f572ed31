package llm

import (
	"fmt"

	"github.com/meritgate/meritgate/internal/policy"
)

// ProviderConfig selects and parameterizes an evaluator.
type ProviderConfig struct {
	Provider    string
	APIKey      string
	Model       string
	BaseURL     string
	MockDefault string
}

// NewEvaluator builds an evaluator from configuration. An empty provider
// selects the mock so local setups work without credentials.
func NewEvaluator(cfg ProviderConfig) (Evaluator, error) {
	switch cfg.Provider {
	case "", "mock":
		if cfg.MockDefault != "" {
			quality, err := policy.ParseQuality(cfg.MockDefault)
			if err != nil {
				return nil, fmt.Errorf("llm: mock default: %w", err)
			}
			return NewMockEvaluatorWithDefault(quality), nil
		}
		return NewMockEvaluator(), nil
	case "openai":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("llm: openai provider requires an API key")
		}
		return NewOpenAIEvaluator(cfg.APIKey, cfg.Model, cfg.BaseURL), nil
	case "anthropic":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("llm: anthropic provider requires an API key")
		}
		return NewAnthropicEvaluator(cfg.APIKey, cfg.Model, cfg.BaseURL), nil
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", cfg.Provider)
	}
}
