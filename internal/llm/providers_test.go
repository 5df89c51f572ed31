package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/meritgate/meritgate/internal/policy"
)

func TestOpenAIEvaluatorParsesChoice(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("authorization = %q", got)
		}
		var request openAIRequest
		if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		if len(request.Messages) != 2 || request.Messages[0].Role != "system" {
			t.Errorf("unexpected messages %+v", request.Messages)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{
					"content": `{"classification": "acceptable", "confidence": 0.9, "reasoning": "fine"}`,
				}},
			},
		})
	}))
	defer ts.Close()

	evaluator := NewOpenAIEvaluator("sk-test", "", ts.URL)
	evaluation, err := evaluator.Evaluate(context.Background(), "some content", EvalContext{ContentType: ContentPullRequest})
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	if evaluation.Classification != policy.QualityAcceptable {
		t.Fatalf("classification = %q, want acceptable", evaluation.Classification)
	}
}

func TestOpenAIEvaluatorMapsAuthError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer ts.Close()

	evaluator := NewOpenAIEvaluator("sk-bad", "", ts.URL)
	_, err := evaluator.Evaluate(context.Background(), "content", EvalContext{})
	if !errors.Is(err, ErrAuth) {
		t.Fatalf("error = %v, want ErrAuth", err)
	}
}

func TestOpenAIEvaluatorMapsRateLimit(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer ts.Close()

	evaluator := NewOpenAIEvaluator("sk-test", "", ts.URL)
	_, err := evaluator.Evaluate(context.Background(), "content", EvalContext{})
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("error = %v, want ErrRateLimited", err)
	}
}

func TestAnthropicEvaluatorParsesTextBlock(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("x-api-key"); got != "ak-test" {
			t.Errorf("x-api-key = %q", got)
		}
		if got := r.Header.Get("anthropic-version"); got == "" {
			t.Errorf("missing anthropic-version header")
		}
		var request anthropicRequest
		if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		if request.System == "" {
			t.Errorf("system prompt missing")
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"content": []map[string]string{
				{"type": "text", "text": `{"classification": "spam", "confidence": 0.97, "reasoning": "ads"}`},
			},
		})
	}))
	defer ts.Close()

	evaluator := NewAnthropicEvaluator("ak-test", "", ts.URL)
	evaluation, err := evaluator.Evaluate(context.Background(), "BUY NOW", EvalContext{ContentType: ContentComment})
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	if evaluation.Classification != policy.QualitySpam {
		t.Fatalf("classification = %q, want spam", evaluation.Classification)
	}
}

func TestAnthropicEvaluatorMapsAuthError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad key", http.StatusForbidden)
	}))
	defer ts.Close()

	evaluator := NewAnthropicEvaluator("ak-bad", "", ts.URL)
	_, err := evaluator.Evaluate(context.Background(), "content", EvalContext{})
	if !errors.Is(err, ErrAuth) {
		t.Fatalf("error = %v, want ErrAuth", err)
	}
}

func TestNewEvaluatorSelectsProviders(t *testing.T) {
	mock, err := NewEvaluator(ProviderConfig{Provider: "mock"})
	if err != nil || mock.ProviderName() != "mock" {
		t.Fatalf("mock provider: %v, %v", mock, err)
	}

	openai, err := NewEvaluator(ProviderConfig{Provider: "openai", APIKey: "sk"})
	if err != nil || openai.ProviderName() != "openai" {
		t.Fatalf("openai provider: %v, %v", openai, err)
	}

	anthropic, err := NewEvaluator(ProviderConfig{Provider: "anthropic", APIKey: "ak"})
	if err != nil || anthropic.ProviderName() != "anthropic" {
		t.Fatalf("anthropic provider: %v, %v", anthropic, err)
	}

	if _, err := NewEvaluator(ProviderConfig{Provider: "openai"}); err == nil {
		t.Fatalf("openai without key must fail")
	}
	if _, err := NewEvaluator(ProviderConfig{Provider: "oracle"}); err == nil {
		t.Fatalf("unknown provider must fail")
	}
}

func TestNewEvaluatorMockDefault(t *testing.T) {
	evaluator, err := NewEvaluator(ProviderConfig{Provider: "mock", MockDefault: "high"})
	if err != nil {
		t.Fatalf("factory failed: %v", err)
	}
	evaluation, err := evaluator.Evaluate(context.Background(), "anything", EvalContext{})
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	if evaluation.Classification != policy.QualityHigh {
		t.Fatalf("classification = %q, want high", evaluation.Classification)
	}
}
