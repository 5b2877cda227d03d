package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ardian231/notify-wa/pkg/llm"
)

const maxErrorBody = 512

// Client implements the llm.Provider interface for OpenAI-compatible APIs
// such as Groq. The model is chosen per request.
type Client struct {
	config     *llm.Config
	httpClient *http.Client
}

// New creates a new OpenAI-compatible client with the given configuration.
// A zero timeout falls back to 60 seconds.
func New(config *llm.Config, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// chatRequest is the OpenAI chat completions request body.
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []llm.Message `json:"messages"`
	Temperature *float32      `json:"temperature,omitempty"`
}

// chatResponse is the OpenAI chat completions response body.
type chatResponse struct {
	Model   string        `json:"model"`
	Choices []choice      `json:"choices"`
	Usage   responseUsage `json:"usage"`
}

// choice represents a single completion choice.
type choice struct {
	Message llm.Message `json:"message"`
}

// responseUsage is the OpenAI token usage format.
type responseUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Complete sends a chat completion request and returns the full response.
// A 429 is returned as *llm.RateLimitError, any other non-200 as *llm.APIError.
func (c *Client) Complete(ctx context.Context, r llm.Request) (*llm.Response, error) {
	reqBody := chatRequest{
		Model:    r.Model,
		Messages: r.Messages,
	}
	temp := r.Temperature
	reqBody.Temperature = &temp

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	url := strings.TrimRight(c.config.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	limits := parseRateLimit(resp.Header)

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &llm.RateLimitError{
			Model:      r.Model,
			RetryAfter: limits.RetryAfter,
			RateLimit:  limits,
			Body:       snippet(respBody),
		}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &llm.APIError{
			StatusCode: resp.StatusCode,
			Model:      r.Model,
			Body:       snippet(respBody),
		}
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}

	if len(chatResp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response")
	}

	model := chatResp.Model
	if model == "" {
		model = r.Model
	}
	return &llm.Response{
		Model:   model,
		Content: chatResp.Choices[0].Message.Content,
		Usage: llm.Usage{
			InputTokens:  chatResp.Usage.PromptTokens,
			OutputTokens: chatResp.Usage.CompletionTokens,
			TotalTokens:  chatResp.Usage.TotalTokens,
		},
		RateLimit: limits,
	}, nil
}

// parseRateLimit reads the quota headers. Both the x-ratelimit- prefixed
// names and the bare names are accepted.
func parseRateLimit(h http.Header) llm.RateLimit {
	rl := llm.NoRateLimit()
	if n, ok := intHeader(h, "x-ratelimit-remaining-requests", "remaining-requests"); ok {
		rl.RemainingRequests = n
	}
	if n, ok := intHeader(h, "x-ratelimit-remaining-tokens", "remaining-tokens"); ok {
		rl.RemainingTokens = n
	}
	if v := firstHeader(h, "x-ratelimit-reset-requests", "reset-requests"); v != "" {
		rl.ResetRequests = parseDuration(v)
	}
	if v := firstHeader(h, "retry-after"); v != "" {
		rl.RetryAfter = parseRetryAfter(v, time.Now())
	}
	return rl
}

func firstHeader(h http.Header, names ...string) string {
	for _, name := range names {
		if v := strings.TrimSpace(h.Get(name)); v != "" {
			return v
		}
	}
	return ""
}

func intHeader(h http.Header, names ...string) (int, bool) {
	v := firstHeader(h, names...)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// parseRetryAfter accepts delta-seconds (integer or fractional), a Go
// duration string, or an HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs * float64(time.Second))
	}
	if d := parseDuration(v); d > 0 {
		return d
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

func parseDuration(v string) time.Duration {
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return 0
	}
	return d
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > maxErrorBody {
		return s[:maxErrorBody]
	}
	return s
}
