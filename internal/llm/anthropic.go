package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const (
	defaultAnthropicURL   = "https://api.anthropic.com/v1/messages"
	defaultAnthropicModel = "claude-3-5-sonnet-20241022"
	anthropicVersion      = "2023-06-01"
)

// AnthropicEvaluator calls the Anthropic messages API.
type AnthropicEvaluator struct {
	httpClient *http.Client
	apiKey     string
	model      string
	baseURL    string
}

// NewAnthropicEvaluator constructs an Anthropic-backed evaluator. Empty model
// or baseURL fall back to defaults.
func NewAnthropicEvaluator(apiKey, model, baseURL string) *AnthropicEvaluator {
	if model == "" {
		model = defaultAnthropicModel
	}
	if baseURL == "" {
		baseURL = defaultAnthropicURL
	}
	return &AnthropicEvaluator{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		apiKey:     apiKey,
		model:      model,
		baseURL:    baseURL,
	}
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// Evaluate sends the classification prompt and parses the completion.
func (e *AnthropicEvaluator) Evaluate(ctx context.Context, content string, evalCtx EvalContext) (Evaluation, error) {
	request := anthropicRequest{
		Model:     e.model,
		MaxTokens: 1024,
		System:    SystemPrompt(),
		Messages: []anthropicMessage{
			{Role: "user", Content: BuildUserPrompt(content, evalCtx)},
		},
	}

	encoded, err := json.Marshal(request)
	if err != nil {
		return Evaluation{}, fmt.Errorf("llm: encoding anthropic request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL, bytes.NewReader(encoded))
	if err != nil {
		return Evaluation{}, fmt.Errorf("llm: building anthropic request: %w", err)
	}
	req.Header.Set("x-api-key", e.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return Evaluation{}, fmt.Errorf("llm: anthropic request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := checkProviderStatus(resp); err != nil {
		return Evaluation{}, err
	}

	var payload anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Evaluation{}, fmt.Errorf("llm: decoding anthropic response: %w", err)
	}

	for _, block := range payload.Content {
		if block.Type == "text" {
			return ParseCompletion(block.Text)
		}
	}
	return Evaluation{}, fmt.Errorf("llm: anthropic returned no text content")
}

// ProviderName identifies the Anthropic provider.
func (e *AnthropicEvaluator) ProviderName() string { return "anthropic" }
