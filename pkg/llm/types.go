package llm

import "time"

// Unlimited marks a quota counter the provider did not report.
const Unlimited = -1

// Message represents a chat message in a conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a single chat completion call against one model.
type Request struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float32   `json:"temperature"`
}

// Response represents a complete response from an LLM provider.
type Response struct {
	Model     string    `json:"model"`
	Content   string    `json:"content"`
	Usage     Usage     `json:"usage"`
	RateLimit RateLimit `json:"rate_limit"`
}

// Usage tracks token consumption for a request/response pair.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// RateLimit is the quota metadata a provider attaches to its responses.
// Counters are Unlimited when the header was absent.
type RateLimit struct {
	RemainingRequests int           `json:"remaining_requests"`
	RemainingTokens   int           `json:"remaining_tokens"`
	ResetRequests     time.Duration `json:"reset_requests,omitempty"`
	RetryAfter        time.Duration `json:"retry_after,omitempty"`
}

// NoRateLimit returns metadata with both counters unknown.
func NoRateLimit() RateLimit {
	return RateLimit{RemainingRequests: Unlimited, RemainingTokens: Unlimited}
}
