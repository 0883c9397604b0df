package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/novaos/backend/internal/provider"
)

const openAIBaseURL = "https://api.openai.com/v1"

// OpenAIAdapter speaks the OpenAI-compatible chat completions protocol;
// it also covers self-hosted gateways exposing the same surface.
type OpenAIAdapter struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

// NewOpenAIAdapter creates the adapter. Model defaults to gpt-4o-mini.
func NewOpenAIAdapter(apiKey, model string, client *http.Client) *OpenAIAdapter {
	if model == "" {
		model = "gpt-4o-mini"
	}
	if client == nil {
		client = &http.Client{Timeout: 90 * time.Second}
	}
	return &OpenAIAdapter{apiKey: apiKey, model: model, baseURL: openAIBaseURL, client: client}
}

// WithBaseURL points the adapter at a different endpoint, used in tests
// and for compatible gateways.
func (a *OpenAIAdapter) WithBaseURL(base string) *OpenAIAdapter {
	a.baseURL = strings.TrimRight(base, "/")
	return a
}

func (a *OpenAIAdapter) Name() string { return "openai" }

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float64         `json:"temperature,omitempty"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponse struct {
	Choices []struct {
		Message      openAIMessage `json:"message"`
		FinishReason string        `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// Complete sends one chat completion call.
func (a *OpenAIAdapter) Complete(ctx context.Context, req AdapterRequest) (AdapterResponse, error) {
	msgs := make([]openAIMessage, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = openAIMessage{Role: m.Role, Content: m.Content}
	}

	body, err := json.Marshal(openAIRequest{
		Model:       a.model,
		Messages:    msgs,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return AdapterResponse{}, fmt.Errorf("llm: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return AdapterResponse{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return AdapterResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		f := provider.ClassifyHTTPStatus(resp.StatusCode, resp.Header.Get("Retry-After"))
		return AdapterResponse{}, fmt.Errorf("llm: upstream %s: %s", resp.Status, f.Code)
	}

	var parsed openAIResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return AdapterResponse{}, fmt.Errorf("llm: decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return AdapterResponse{}, fmt.Errorf("llm: empty choices in response")
	}

	return AdapterResponse{
		Content:      parsed.Choices[0].Message.Content,
		TokensUsed:   parsed.Usage.TotalTokens,
		FinishReason: parsed.Choices[0].FinishReason,
	}, nil
}
