package aiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/technosupport/ts-comply/internal/metrics"
)

const defaultChatTimeout = 120 * time.Second

// Client talks to an OpenAI-compatible chat completions endpoint. All calls
// go through the shared rate limiter and retry envelope, and every response
// is accounted in the usage tracker.
type Client struct {
	httpc   *http.Client
	baseURL string
	apiKey  string
	Model   string

	limiter *RateLimiter
	usage   *UsageTracker
}

// Config for one provider endpoint.
type Config struct {
	BaseURL   string
	APIKey    string
	Model     string
	Timeout   time.Duration
	PerMinute int
	PerHour   int
}

func New(cfg Config, usage *UsageTracker) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultChatTimeout
	}
	if usage == nil {
		usage = NewUsageTracker()
	}
	return &Client{
		httpc:   &http.Client{Timeout: timeout},
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		Model:   cfg.Model,
		limiter: NewRateLimiter(cfg.PerMinute, cfg.PerHour),
		usage:   usage,
	}
}

// Usage exposes the tracker for the usage endpoint.
func (c *Client) Usage() *UsageTracker { return c.usage }

// ChatOptions tune one completion call.
type ChatOptions struct {
	MaxTokens   int
	Temperature *float64
	JSONMode    bool // ask the provider to emit a JSON object
}

type chatRequest struct {
	Model          string      `json:"model"`
	Messages       []Message   `json:"messages"`
	MaxTokens      int         `json:"max_tokens,omitempty"`
	Temperature    *float64    `json:"temperature,omitempty"`
	ResponseFormat interface{} `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Chat sends one completion request and returns the assistant text. Retries
// transient failures per the backoff envelope.
func (c *Client) Chat(ctx context.Context, messages []Message, opts ChatOptions) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	req := chatRequest{
		Model:       c.Model,
		Messages:    messages,
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
	}
	if opts.JSONMode {
		req.ResponseFormat = map[string]string{"type": "json_object"}
	}
	body, err := json.Marshal(req)
	if err != nil {
		return "", err
	}

	var content string
	err = Retry(ctx, c.Model, func() error {
		var callErr error
		content, callErr = c.doChat(ctx, body)
		return callErr
	})
	return content, err
}

func (c *Client) doChat(ctx context.Context, body []byte) (string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpc.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil && resp.StatusCode == http.StatusOK {
		return "", fmt.Errorf("chat response decode: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		msg := string(raw)
		if parsed.Error != nil {
			msg = parsed.Error.Message
		}
		return "", &APIError{
			Status:     resp.StatusCode,
			Message:    msg,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}
	if parsed.Error != nil {
		return "", &APIError{Status: resp.StatusCode, Message: parsed.Error.Message}
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("chat response has no choices")
	}

	c.usage.RecordChat(c.Model, parsed.Usage.PromptTokens, parsed.Usage.CompletionTokens)
	metrics.RecordAICall("chat")
	return parsed.Choices[0].Message.Content, nil
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil && secs > 0 {
		return time.Duration(secs * float64(time.Second))
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
