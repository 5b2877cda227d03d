// Package connection owns the lifecycle of the chat transport session and
// turns its state changes into readiness for outbound delivery.
package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ardian231/notify-wa/internal/retry"
)

// ErrLoggedOut is returned by Run when the session was permanently logged
// out and must not be reconnected.
var ErrLoggedOut = errors.New("session logged out")

// State is the connection state of the transport session.
type State int

const (
	Disconnected State = iota
	Connecting
	Ready
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "DISCONNECTED"
	case Connecting:
		return "CONNECTING"
	case Ready:
		return "READY"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Update is a state change reported by a session. Reason is set on
// Disconnected.
type Update struct {
	State  State
	Reason error
}

// Session opens one transport session. The returned channel carries state
// updates and is closed when the session ends.
type Session interface {
	Open(ctx context.Context) (<-chan Update, error)
}

// Drainer is notified each time the session becomes ready.
type Drainer interface {
	Drain(ctx context.Context)
}

// Tracker runs the session and reconnects it with bounded backoff.
type Tracker struct {
	session   Session
	drainer   Drainer
	loggedOut func(error) bool
	policy    *retry.Policy

	mu        sync.RWMutex
	state     State
	loggedOff bool
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithLogoutClassifier sets the function that recognizes permanent logout
// reasons. By default only errors matching ErrLoggedOut qualify.
func WithLogoutClassifier(fn func(error) bool) Option {
	return func(t *Tracker) { t.loggedOut = fn }
}

// WithBackoff replaces the reconnect backoff policy.
func WithBackoff(p *retry.Policy) Option {
	return func(t *Tracker) { t.policy = p }
}

// NewTracker creates a Tracker. drainer may be nil.
func NewTracker(session Session, drainer Drainer, opts ...Option) *Tracker {
	t := &Tracker{
		session: session,
		drainer: drainer,
		loggedOut: func(err error) bool {
			return errors.Is(err, ErrLoggedOut)
		},
		policy: retry.Backoff(),
		state:  Disconnected,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Ready reports whether the session can accept sends.
func (t *Tracker) Ready() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state == Ready
}

// LoggedOut reports whether Run stopped because the session was logged out.
func (t *Tracker) LoggedOut() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.loggedOff
}

// State returns the current connection state.
func (t *Tracker) State() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

func (t *Tracker) setState(s State) {
	t.mu.Lock()
	prev := t.state
	t.state = s
	t.mu.Unlock()
	if prev != s {
		slog.Info("connection state changed", "from", prev.String(), "to", s.String())
	}
}

// Run opens the session and reconnects after every disconnect until ctx is
// done or the session is logged out. It returns ErrLoggedOut or ctx.Err().
func (t *Tracker) Run(ctx context.Context) error {
	failures := 0
	for {
		reachedReady, reason := t.runOnce(ctx)
		t.setState(Disconnected)

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if reason != nil && t.loggedOut(reason) {
			slog.Error("session logged out, not reconnecting", "error", reason)
			t.mu.Lock()
			t.loggedOff = true
			t.mu.Unlock()
			return fmt.Errorf("%w: %w", ErrLoggedOut, reason)
		}

		if reachedReady {
			failures = 0
		}
		failures++
		delay := t.policy.NextDelay(failures)
		slog.Warn("session disconnected, reconnecting", "reason", reason, "delay", delay)
		if err := t.policy.Wait(ctx, delay); err != nil {
			return err
		}
	}
}

// Supervise runs Run for a daemon. A logout is logged and reported through
// LoggedOut instead of being returned, so the rest of the process keeps
// serving with sends buffered. Cancellation returns nil.
func (t *Tracker) Supervise(ctx context.Context) error {
	err := t.Run(ctx)
	switch {
	case errors.Is(err, ErrLoggedOut):
		slog.Error("transport logged out, re-authentication required", "error", err)
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return nil
	}
	return err
}

// runOnce drives a single session until it ends, returning whether the
// session reached Ready and the last disconnect reason. Drains run in their
// own goroutine so a disconnect during a drain still clears readiness.
func (t *Tracker) runOnce(ctx context.Context) (bool, error) {
	t.setState(Connecting)
	updates, err := t.session.Open(ctx)
	if err != nil {
		return false, err
	}

	var drains sync.WaitGroup
	defer func() {
		t.setState(Disconnected)
		drains.Wait()
	}()

	var (
		reason       error
		reachedReady bool
	)
	for {
		select {
		case <-ctx.Done():
			return reachedReady, ctx.Err()
		case u, ok := <-updates:
			if !ok {
				return reachedReady, reason
			}
			switch u.State {
			case Ready:
				reachedReady = true
				t.setState(Ready)
				if t.drainer != nil {
					drains.Add(1)
					go func() {
						defer drains.Done()
						t.drainer.Drain(ctx)
					}()
				}
			case Disconnected:
				reason = u.Reason
				t.setState(Disconnected)
			default:
				t.setState(u.State)
			}
		}
	}
}
