// Package openai talks to the OpenAI HTTP API for embeddings and headline
// translation. Calls retry transient failures with exponential backoff and
// surface everything else as a permanent APIError.
package openai

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

// translateSystemPrompt pins the completion model to bare translations.
// Changing the wording changes the cache contents, so treat it as frozen.
const translateSystemPrompt = "You are a highly skilled and concise professional translator. " +
	"When you receive a sentence in Swedish, your task is to translate it into English. " +
	"VERY IMPORTANT: Do not output any notes, explanations, alternatives or comments " +
	"after or before the translation."

const maxErrorBodyBytes = 4 << 10

type Options struct {
	BaseURL         string
	Token           string
	EmbeddingModel  string
	CompletionModel string
	MaxAttempts     int
	BaseDelay       time.Duration
	HTTPClient      *http.Client
}

type Client struct {
	httpClient      *http.Client
	baseURL         string
	token           string
	embeddingModel  string
	completionModel string
	maxAttempts     int
	baseDelay       time.Duration
}

func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	baseDelay := opts.BaseDelay
	if baseDelay <= 0 {
		baseDelay = 500 * time.Millisecond
	}
	return &Client{
		httpClient:      httpClient,
		baseURL:         strings.TrimRight(opts.BaseURL, "/"),
		token:           opts.Token,
		embeddingModel:  opts.EmbeddingModel,
		completionModel: opts.CompletionModel,
		maxAttempts:     maxAttempts,
		baseDelay:       baseDelay,
	}
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed returns the embedding vector for a single text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	payload := embeddingRequest{
		Model: c.embeddingModel,
		Input: []string{text},
	}

	var response embeddingResponse
	err := c.withRetry(ctx, func(ctx context.Context) error {
		response = embeddingResponse{}
		return c.post(ctx, "/v1/embeddings", payload, &response)
	})
	if err != nil {
		return nil, err
	}

	if len(response.Data) != 1 {
		return nil, fmt.Errorf("embeddings response carried %d vectors, want 1", len(response.Data))
	}
	if len(response.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("embeddings response carried an empty vector")
	}
	return response.Data[0].Embedding, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Temperature float64       `json:"temperature"`
	Messages    []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Translate renders a Swedish sentence into English via the completion
// model at temperature zero.
func (c *Client) Translate(ctx context.Context, text string) (string, error) {
	payload := chatRequest{
		Model:       c.completionModel,
		Temperature: 0,
		Messages: []chatMessage{
			{Role: "system", Content: translateSystemPrompt},
			{Role: "user", Content: text},
		},
	}

	var response chatResponse
	err := c.withRetry(ctx, func(ctx context.Context) error {
		response = chatResponse{}
		return c.post(ctx, "/v1/chat/completions", payload, &response)
	})
	if err != nil {
		return "", err
	}

	if len(response.Choices) == 0 {
		return "", fmt.Errorf("chat response carried no choices")
	}
	translated := strings.TrimSpace(response.Choices[0].Message.Content)
	if translated == "" {
		return "", fmt.Errorf("chat response carried an empty translation")
	}
	return translated, nil
}

func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("call %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newAPIError(path, resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func newAPIError(path string, resp *http.Response) *APIError {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))

	message := strings.TrimSpace(string(raw))
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Error.Message != "" {
		message = envelope.Error.Message
	}

	return &APIError{
		Path:       path,
		StatusCode: resp.StatusCode,
		Message:    message,
	}
}
