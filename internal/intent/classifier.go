// Package intent maps free chat text to a closed set of intent labels through
// the model router, and labels to canned replies.
package intent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ardian231/notify-wa/pkg/llm"
)

// ErrEmptyMessage is returned for blank inbound text.
var ErrEmptyMessage = errors.New("empty message")

// DefaultFallback is the label used for anything outside the label set.
const DefaultFallback = "default"

// DefaultLabels is the label set used when none is configured.
var DefaultLabels = []string{"greeting", "harga", "produk", "bantuan", "status", DefaultFallback}

// Router sends a conversation to the first available model.
type Router interface {
	Classify(ctx context.Context, messages []llm.Message) (*llm.Response, error)
}

// Classifier turns text into one label of its closed set.
type Classifier struct {
	router   Router
	labels   []string
	allowed  map[string]struct{}
	fallback string
	budget   *Budget
}

// ClassifierOptions configures a Classifier.
type ClassifierOptions struct {
	Labels   []string
	Fallback string
	Budget   *Budget // nil disables truncation
}

// NewClassifier creates a Classifier over router. The fallback label is
// always part of the set.
func NewClassifier(router Router, opts ClassifierOptions) *Classifier {
	labels := opts.Labels
	if len(labels) == 0 {
		labels = DefaultLabels
	}
	fallback := strings.ToLower(strings.TrimSpace(opts.Fallback))
	if fallback == "" {
		fallback = DefaultFallback
	}

	c := &Classifier{
		router:   router,
		allowed:  make(map[string]struct{}, len(labels)+1),
		fallback: fallback,
		budget:   opts.Budget,
	}
	for _, l := range labels {
		l = strings.ToLower(strings.TrimSpace(l))
		if l == "" {
			continue
		}
		if _, dup := c.allowed[l]; dup {
			continue
		}
		c.allowed[l] = struct{}{}
		c.labels = append(c.labels, l)
	}
	if _, ok := c.allowed[fallback]; !ok {
		c.allowed[fallback] = struct{}{}
		c.labels = append(c.labels, fallback)
	}
	return c
}

// Labels returns the label set in configured order.
func (c *Classifier) Labels() []string {
	out := make([]string, len(c.labels))
	copy(out, c.labels)
	return out
}

// Fallback returns the fallback label.
func (c *Classifier) Fallback() string {
	return c.fallback
}

// Preamble is the system message sent ahead of the user text.
func (c *Classifier) Preamble() string {
	return fmt.Sprintf("Kamu hanya mengembalikan nama intent seperti: %s. Tanpa penjelasan.", strings.Join(c.labels, ", "))
}

// Classify returns the label for text. Router errors are returned unchanged
// so callers can tell exhaustion from unexpected failures.
func (c *Classifier) Classify(ctx context.Context, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyMessage
	}
	resp, err := c.router.Classify(ctx, []llm.Message{
		{Role: "system", Content: c.Preamble()},
		{Role: "user", Content: c.budget.Truncate(text)},
	})
	if err != nil {
		return "", err
	}
	return c.Parse(resp.Content), nil
}

// Parse coerces a raw model reply into the label set: first line, case
// folded, an optional "intent:" prefix removed. No fuzzy matching.
func (c *Classifier) Parse(reply string) string {
	line, _, _ := strings.Cut(reply, "\n")
	label := strings.TrimSpace(strings.ToLower(line))
	label = strings.TrimSpace(strings.TrimPrefix(label, "intent:"))
	if _, ok := c.allowed[label]; ok {
		return label
	}
	return c.fallback
}
