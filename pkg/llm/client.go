package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"film-forge-server/config"
	"film-forge-server/pkg/logger"
)

// Generator is the text-generation adapter. The model returns unstructured
// text; callers extract what they need with ExtractObject or ExtractArray.
type Generator interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Client talks to a chat-completions style API.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func NewClient(cfg *config.Config) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(cfg.LLM.BaseURL, "/"),
		apiKey:     cfg.LLM.APIKey,
		model:      cfg.LLM.Model,
		httpClient: &http.Client{Timeout: cfg.LLM.Timeout},
	}
}

func (c *Client) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	reqBody := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Temperature: 0.8,
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &CallError{Op: "chat_completions", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		logger.Errorf("LLM request failed with status %d: %s", resp.StatusCode, string(body))
		return "", &CallError{Op: "chat_completions", Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	var result chatResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("failed to decode chat response: %w", err)
	}
	if result.Error != nil {
		return "", &CallError{Op: "chat_completions", Err: fmt.Errorf("%s", result.Error.Message)}
	}
	if len(result.Choices) == 0 {
		return "", &CallError{Op: "chat_completions", Err: fmt.Errorf("empty choices")}
	}

	return result.Choices[0].Message.Content, nil
}
