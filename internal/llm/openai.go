package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultOpenAIURL   = "https://api.openai.com/v1/chat/completions"
	defaultOpenAIModel = "gpt-4o"
)

// OpenAIEvaluator calls the OpenAI chat-completions API.
type OpenAIEvaluator struct {
	httpClient *http.Client
	apiKey     string
	model      string
	baseURL    string
}

// NewOpenAIEvaluator constructs an OpenAI-backed evaluator. Empty model or
// baseURL fall back to defaults.
func NewOpenAIEvaluator(apiKey, model, baseURL string) *OpenAIEvaluator {
	if model == "" {
		model = defaultOpenAIModel
	}
	if baseURL == "" {
		baseURL = defaultOpenAIURL
	}
	return &OpenAIEvaluator{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		apiKey:     apiKey,
		model:      model,
		baseURL:    baseURL,
	}
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Temperature float64         `json:"temperature"`
	MaxTokens   int             `json:"max_tokens"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Evaluate sends the classification prompt and parses the completion.
func (e *OpenAIEvaluator) Evaluate(ctx context.Context, content string, evalCtx EvalContext) (Evaluation, error) {
	request := openAIRequest{
		Model: e.model,
		Messages: []openAIMessage{
			{Role: "system", Content: SystemPrompt()},
			{Role: "user", Content: BuildUserPrompt(content, evalCtx)},
		},
		Temperature: 0.3,
		MaxTokens:   1024,
	}

	encoded, err := json.Marshal(request)
	if err != nil {
		return Evaluation{}, fmt.Errorf("llm: encoding openai request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL, bytes.NewReader(encoded))
	if err != nil {
		return Evaluation{}, fmt.Errorf("llm: building openai request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+e.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return Evaluation{}, fmt.Errorf("llm: openai request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := checkProviderStatus(resp); err != nil {
		return Evaluation{}, err
	}

	var payload openAIResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Evaluation{}, fmt.Errorf("llm: decoding openai response: %w", err)
	}
	if len(payload.Choices) == 0 {
		return Evaluation{}, fmt.Errorf("llm: openai returned no choices")
	}

	return ParseCompletion(payload.Choices[0].Message.Content)
}

// ProviderName identifies the OpenAI provider.
func (e *OpenAIEvaluator) ProviderName() string { return "openai" }

// checkProviderStatus maps provider HTTP errors onto the shared error kinds.
func checkProviderStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode <= 299:
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return ErrAuth
	case resp.StatusCode == http.StatusTooManyRequests:
		return ErrRateLimited
	default:
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("llm: provider returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
}
