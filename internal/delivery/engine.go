// Package delivery sends notifications over an unreliable chat transport at
// most once per delivery key, buffering while the transport is not ready.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ardian231/notify-wa/internal/ledger"
	"github.com/ardian231/notify-wa/internal/retry"
	"github.com/ardian231/notify-wa/internal/types"
)

// ErrDeliveryFailed is wrapped into the error returned when every attempt
// of a send failed.
var ErrDeliveryFailed = errors.New("delivery failed")

// ErrTransportNotReady is returned by a Transport that has no open session.
// The engine buffers the send instead of retrying it.
var ErrTransportNotReady = errors.New("transport not ready")

// Transport delivers one text message to a normalized recipient.
type Transport interface {
	SendText(ctx context.Context, recipient, body string) error
}

// Readiness reports whether the transport session can accept sends.
type Readiness interface {
	Ready() bool
}

// Outcome is the result of a Send.
type Outcome int

const (
	Dropped Outcome = iota
	Skipped
	Buffered
	Delivered
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Dropped:
		return "dropped"
	case Skipped:
		return "skipped"
	case Buffered:
		return "buffered"
	case Delivered:
		return "delivered"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// PendingSend is a send buffered while the transport was not ready.
type PendingSend struct {
	Recipient string
	Message   string
	Tag       string
}

// Options configures an Engine. Zero values take the defaults.
type Options struct {
	MaxAttempts int           // default 3
	RetryDelay  time.Duration // default 1.5s
	Failures    types.FailureLog

	// Sleep overrides the wait between attempts (tests).
	Sleep func(ctx context.Context, d time.Duration) error
	Now   func() time.Time
}

// Engine serializes every send through one mutex so buffered sends keep
// their order and the ledger view is never mutated concurrently.
type Engine struct {
	transport Transport
	ready     Readiness
	ledger    *ledger.Ledger
	failures  types.FailureLog
	policy    *retry.Policy
	now       func() time.Time

	mu      sync.Mutex
	pending []PendingSend
}

// NewEngine creates an Engine over transport, gated by ready.
func NewEngine(transport Transport, ready Readiness, l *ledger.Ledger, opts Options) *Engine {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 1500 * time.Millisecond
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	policy := retry.Fixed(opts.MaxAttempts, opts.RetryDelay)
	policy.Sleep = opts.Sleep
	policy.Retryable = func(err error) bool {
		return !errors.Is(err, ErrTransportNotReady)
	}

	return &Engine{
		transport: transport,
		ready:     ready,
		ledger:    l,
		failures:  opts.Failures,
		policy:    policy,
		now:       opts.Now,
	}
}

// NormalizeRecipient trims the recipient and rewrites a leading 0 into the
// 62 country prefix.
func NormalizeRecipient(recipient string) string {
	r := strings.TrimSpace(recipient)
	if strings.HasPrefix(r, "0") {
		r = "62" + r[1:]
	}
	return r
}

// Key returns the delivery key for a normalized recipient.
func Key(tag, recipient, message string) string {
	return tag + "_" + recipient + "_" + message
}

// Send delivers message to recipient at most once per (tag, recipient,
// message). It blocks through the retry delays.
func (e *Engine) Send(ctx context.Context, recipient, message, tag string) (Outcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ready.Ready() && len(e.pending) > 0 {
		e.drainLocked(ctx)
	}
	return e.sendLocked(ctx, PendingSend{Recipient: recipient, Message: message, Tag: tag})
}

// Drain re-submits buffered sends oldest first. Sends that find the
// transport not ready again are re-buffered in order.
func (e *Engine) Drain(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.drainLocked(ctx)
}

// Pending returns the number of buffered sends.
func (e *Engine) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

func (e *Engine) drainLocked(ctx context.Context) {
	batch := e.pending
	e.pending = nil
	if len(batch) == 0 {
		return
	}
	slog.Info("draining buffered sends", "count", len(batch))
	for _, p := range batch {
		if outcome, err := e.sendLocked(ctx, p); err != nil {
			slog.Warn("buffered send did not complete", "tag", p.Tag, "outcome", outcome.String(), "error", err)
		}
	}
}

func (e *Engine) sendLocked(ctx context.Context, p PendingSend) (Outcome, error) {
	recipient := NormalizeRecipient(p.Recipient)
	if recipient == "" || p.Message == "" {
		return Dropped, nil
	}
	key := Key(p.Tag, recipient, p.Message)

	if e.ledger.Has(key) {
		slog.Debug("skipping already delivered message", "key", key)
		return Skipped, nil
	}

	if !e.ready.Ready() {
		e.pending = append(e.pending, p)
		slog.Info("transport not ready, buffered send", "tag", p.Tag, "recipient", recipient, "pending", len(e.pending))
		return Buffered, nil
	}

	attempts, err := e.policy.Execute(ctx, func(attempt int) error {
		// Readiness can drop during the retry delay.
		if attempt > 1 && !e.ready.Ready() {
			return ErrTransportNotReady
		}
		sendErr := e.transport.SendText(ctx, recipient, p.Message)
		if sendErr != nil {
			slog.Warn("send attempt failed", "key", key, "attempt", attempt, "error", sendErr)
			if !errors.Is(sendErr, ErrTransportNotReady) && !e.ready.Ready() {
				return fmt.Errorf("%w: %w", ErrTransportNotReady, sendErr)
			}
		}
		return sendErr
	})
	if errors.Is(err, ErrTransportNotReady) {
		e.pending = append(e.pending, p)
		slog.Info("transport went away, buffered send", "tag", p.Tag, "recipient", recipient, "pending", len(e.pending))
		return Buffered, nil
	}
	if err != nil {
		e.recordFailure(ctx, key, recipient, p, attempts, err)
		return Failed, fmt.Errorf("%w after %d attempts: %w", ErrDeliveryFailed, attempts, err)
	}

	entry := types.LedgerEntry{Key: key, Recipient: recipient, Tag: p.Tag, SentAt: e.now()}
	if err := e.ledger.Record(ctx, entry); err != nil {
		slog.Error("message sent but ledger not persisted", "key", key, "error", err)
		return Delivered, err
	}
	slog.Info("message delivered", "tag", p.Tag, "recipient", recipient)
	return Delivered, nil
}

func (e *Engine) recordFailure(ctx context.Context, key, recipient string, p PendingSend, attempts int, cause error) {
	slog.Error("delivery failed", "key", key, "attempts", attempts, "error", cause)
	if e.failures == nil {
		return
	}
	rec := &types.FailureRecord{
		ID:        types.NewFailureID(),
		Key:       key,
		Recipient: recipient,
		Message:   p.Message,
		Tag:       p.Tag,
		Reason:    cause.Error(),
		Attempts:  attempts,
		At:        e.now(),
	}
	if err := e.failures.Append(ctx, rec); err != nil {
		slog.Error("failed to record delivery failure", "key", key, "error", err)
	}
}
