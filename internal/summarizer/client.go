package summarizer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultBaseURL         = "https://api.openai.com"
	chatCompletionsPath    = "/v1/chat/completions"
	defaultTimeout         = 60 * time.Second
	defaultMaxOutputTokens = 700
	systemPrompt           = "You summarise student reviews of university units. Be balanced, concrete and concise. Never invent facts that are not in the provided data."
)

var (
	ErrMissingAPIKey = errors.New("summarizer: api key required")
	ErrMissingModel  = errors.New("summarizer: model required")
	ErrEmptyResponse = errors.New("summarizer: empty completion")
)

// HTTPError is a non-2xx answer from the completion endpoint.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e == nil {
		return "upstream http error"
	}
	if e.Body == "" {
		return fmt.Sprintf("upstream http error: status=%d", e.StatusCode)
	}
	return fmt.Sprintf("upstream http error: status=%d body=%s", e.StatusCode, e.Body)
}

// Config describes an OpenAI-compatible chat completion endpoint.
type Config struct {
	BaseURL         string
	APIKey          string
	Model           string
	Timeout         time.Duration
	MaxOutputTokens int
	HTTPClient      *http.Client
}

// Client turns prompts into summaries through a chat completion endpoint.
type Client struct {
	baseURL         string
	apiKey          string
	model           string
	timeout         time.Duration
	maxOutputTokens int
	httpClient      *http.Client
}

// New validates cfg and constructs a Client.
func New(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		return nil, ErrMissingModel
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	maxTokens := cfg.MaxOutputTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxOutputTokens
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		baseURL:         baseURL,
		apiKey:          apiKey,
		model:           model,
		timeout:         timeout,
		maxOutputTokens: maxTokens,
		httpClient:      httpClient,
	}, nil
}

// Model reports the model name sent with every request.
func (c *Client) Model() string {
	return c.model
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
		Text    string      `json:"text"`
	} `json:"choices"`
}

// Summarize sends prompt as the user message and returns the completion text.
func (c *Client) Summarize(ctx context.Context, prompt string) (string, error) {
	request := chatCompletionRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		MaxTokens:   c.maxOutputTokens,
		Temperature: 0.3,
	}
	var response chatCompletionResponse
	if err := c.doJSON(ctx, request, &response); err != nil {
		return "", err
	}
	for _, choice := range response.Choices {
		if text := strings.TrimSpace(choice.Message.Content); text != "" {
			return text, nil
		}
		if text := strings.TrimSpace(choice.Text); text != "" {
			return text, nil
		}
	}
	return "", ErrEmptyResponse
}

func (c *Client) doJSON(ctx context.Context, body any, out any) error {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return err
	}

	requestCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(requestCtx, http.MethodPost, c.baseURL+chatCompletionsPath, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		return &HTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
