// Package router classifies text against an ordered pool of interchangeable
// models, skipping models that are cooling down after a rate limit.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ardian231/notify-wa/pkg/llm"
)

// ErrAllProvidersExhausted is returned when every model was cooling down or
// rejected the request for quota reasons.
var ErrAllProvidersExhausted = errors.New("all providers exhausted")

// UnexpectedProviderError wraps a non-quota provider failure. The router
// stops on it without trying further models.
type UnexpectedProviderError struct {
	Model string
	Err   error
}

func (e *UnexpectedProviderError) Error() string {
	return fmt.Sprintf("unexpected provider error on %s: %v", e.Model, e.Err)
}

func (e *UnexpectedProviderError) Unwrap() error { return e.Err }

// QuotaState is the last known quota of one model. Counters are
// llm.Unlimited when unknown.
type QuotaState struct {
	Model             string    `json:"model"`
	RemainingRequests int       `json:"remaining_requests"`
	RemainingTokens   int       `json:"remaining_tokens"`
	CooldownUntil     time.Time `json:"cooldown_until,omitempty"`
}

type modelState struct {
	model string

	mu    sync.Mutex
	quota QuotaState
}

func (s *modelState) eligible(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.quota.CooldownUntil.After(now)
}

// Options configures a Router.
type Options struct {
	Temperature     float32       // sent as is; zero is greedy decoding
	DefaultCooldown time.Duration // default 60s
	Now             func() time.Time
}

// Router tries models in a fixed order.
type Router struct {
	provider llm.Provider
	models   []*modelState
	opts     Options
}

// New creates a Router over models, tried in the given order.
func New(provider llm.Provider, models []string, opts Options) *Router {
	if opts.DefaultCooldown <= 0 {
		opts.DefaultCooldown = 60 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	states := make([]*modelState, 0, len(models))
	for _, m := range models {
		states = append(states, &modelState{model: m, quota: QuotaState{
			Model:             m,
			RemainingRequests: llm.Unlimited,
			RemainingTokens:   llm.Unlimited,
		}})
	}
	return &Router{provider: provider, models: states, opts: opts}
}

// Classify sends messages to the first eligible model. A rate-limited model
// is put into cooldown and the next one is tried.
func (r *Router) Classify(ctx context.Context, messages []llm.Message) (*llm.Response, error) {
	for _, st := range r.models {
		model := st.model
		if !st.eligible(r.opts.Now()) {
			slog.Debug("skipping model in cooldown", "model", model)
			continue
		}

		resp, err := r.provider.Complete(ctx, llm.Request{
			Model:       model,
			Messages:    messages,
			Temperature: r.opts.Temperature,
		})
		if err == nil {
			r.recordSuccess(st, resp.RateLimit)
			return resp, nil
		}

		var rl *llm.RateLimitError
		if errors.As(err, &rl) {
			cooldown := rl.RetryAfter
			if cooldown <= 0 {
				cooldown = r.opts.DefaultCooldown
			}
			r.startCooldown(st, cooldown)
			slog.Warn("model rate limited, trying next", "model", model, "cooldown", cooldown)
			continue
		}

		return nil, &UnexpectedProviderError{Model: model, Err: err}
	}
	return nil, ErrAllProvidersExhausted
}

// Snapshot returns the quota state of every model in order.
func (r *Router) Snapshot() []QuotaState {
	out := make([]QuotaState, 0, len(r.models))
	for _, st := range r.models {
		st.mu.Lock()
		out = append(out, st.quota)
		st.mu.Unlock()
	}
	return out
}

// Models returns the configured model ids in order.
func (r *Router) Models() []string {
	out := make([]string, len(r.models))
	for i, st := range r.models {
		out[i] = st.model
	}
	return out
}

func (r *Router) startCooldown(st *modelState, d time.Duration) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.quota.CooldownUntil = r.opts.Now().Add(d)
	st.quota.RemainingRequests = 0
	st.quota.RemainingTokens = 0
}

func (r *Router) recordSuccess(st *modelState, rl llm.RateLimit) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.quota.RemainingRequests = rl.RemainingRequests
	st.quota.RemainingTokens = rl.RemainingTokens

	// Forward-looking hint: the provider says the next call would be rejected.
	var cooldown time.Duration
	switch {
	case rl.RetryAfter > 0:
		cooldown = rl.RetryAfter
	case rl.RemainingRequests == 0 && rl.ResetRequests > 0:
		cooldown = rl.ResetRequests
	}
	if cooldown > 0 {
		st.quota.CooldownUntil = r.opts.Now().Add(cooldown)
		slog.Info("model quota low, cooling down", "model", st.model, "cooldown", cooldown)
	}
}
