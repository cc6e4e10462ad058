package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const openRouterAPI = "https://openrouter.ai/api/v1/chat/completions"

// OpenRouter calls the OpenRouter chat completions API.
type OpenRouter struct {
	apiKey  string
	model   string
	timeout time.Duration
}

// NewOpenRouter creates a new OpenRouter client.
func NewOpenRouter(apiKey, model string, timeout time.Duration) *OpenRouter {
	return &OpenRouter{apiKey: apiKey, model: model, timeout: timeout}
}

// Complete sends a prompt to OpenRouter. The HTTP client is scoped to this
// call — a long-lived shared client across concurrent turns was a flakiness
// source in an earlier incarnation of this service.
func (o *OpenRouter) Complete(ctx context.Context, prompt string) (*Response, error) {
	reqBody := map[string]any{
		"model":       o.model,
		"max_tokens":  2000,
		"temperature": 0.7,
		"messages": []map[string]string{
			{"role": "system", "content": prompt},
		},
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", openRouterAPI, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	client := &http.Client{Timeout: o.timeout}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openrouter api: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("openrouter api status %d: %s", resp.StatusCode, respBody)
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			TotalTokens int `json:"total_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	text := ""
	if len(result.Choices) > 0 {
		text = result.Choices[0].Message.Content
	}

	return &Response{
		Content:    text,
		Provider:   "openrouter",
		TokensUsed: result.Usage.TotalTokens,
	}, nil
}
