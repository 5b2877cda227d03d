package connection

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ardian231/notify-wa/internal/retry"
)

// scriptedSession replays one script of updates per Open call.
type scriptedSession struct {
	scripts [][]Update
	openErr []error
	opens   int
}

func (s *scriptedSession) Open(_ context.Context) (<-chan Update, error) {
	i := s.opens
	s.opens++
	if i < len(s.openErr) && s.openErr[i] != nil {
		return nil, s.openErr[i]
	}
	ch := make(chan Update, 8)
	if i < len(s.scripts) {
		for _, u := range s.scripts[i] {
			ch <- u
		}
	}
	close(ch)
	return ch, nil
}

type countingDrainer struct {
	mu    sync.Mutex
	calls int
}

func (d *countingDrainer) Drain(context.Context) {
	d.mu.Lock()
	d.calls++
	d.mu.Unlock()
}

func recordingBackoff(delays *[]time.Duration, stopAfter int, cancel context.CancelFunc) *retry.Policy {
	p := retry.Backoff()
	p.Sleep = func(ctx context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		if stopAfter > 0 && len(*delays) >= stopAfter {
			cancel()
			return ctx.Err()
		}
		return nil
	}
	return p
}

func TestTrackerReconnectsUntilLogout(t *testing.T) {
	session := &scriptedSession{scripts: [][]Update{
		{{State: Connecting}, {State: Ready}, {State: Disconnected, Reason: errors.New("connection lost")}},
		{{State: Ready}, {State: Disconnected, Reason: ErrLoggedOut}},
	}}
	drainer := &countingDrainer{}
	var delays []time.Duration
	tracker := NewTracker(session, drainer, WithBackoff(recordingBackoff(&delays, 0, nil)))

	err := tracker.Run(context.Background())
	if !errors.Is(err, ErrLoggedOut) {
		t.Fatalf("expected ErrLoggedOut, got %v", err)
	}
	if session.opens != 2 {
		t.Errorf("expected 2 sessions, got %d", session.opens)
	}
	if drainer.calls != 2 {
		t.Errorf("expected drain on every ready, got %d", drainer.calls)
	}
	if len(delays) != 1 || delays[0] != time.Second {
		t.Errorf("expected a single 1s reconnect delay, got %v", delays)
	}
	if tracker.State() != Disconnected || tracker.Ready() {
		t.Error("expected disconnected after logout")
	}
	if !tracker.LoggedOut() {
		t.Error("expected LoggedOut after logout")
	}
}

func TestTrackerSuperviseSwallowsLogout(t *testing.T) {
	session := &scriptedSession{scripts: [][]Update{
		{{State: Ready}, {State: Disconnected, Reason: ErrLoggedOut}},
	}}
	tracker := NewTracker(session, nil)

	if err := tracker.Supervise(context.Background()); err != nil {
		t.Fatalf("expected nil after logout, got %v", err)
	}
	if !tracker.LoggedOut() || tracker.Ready() {
		t.Errorf("expected logged out and not ready, state %s", tracker.State())
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := NewTracker(&scriptedSession{}, nil).Supervise(ctx); err != nil {
		t.Errorf("expected nil on cancel, got %v", err)
	}
}

// blockingDrainer holds the drain open until released.
type blockingDrainer struct {
	started chan struct{}
	release chan struct{}
}

func (d *blockingDrainer) Drain(context.Context) {
	close(d.started)
	<-d.release
}

func TestTrackerDisconnectDuringDrain(t *testing.T) {
	updates := make(chan Update, 4)
	session := &chanSession{updates: updates}
	drainer := &blockingDrainer{started: make(chan struct{}), release: make(chan struct{})}
	tracker := NewTracker(session, drainer)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- tracker.Run(ctx) }()

	updates <- Update{State: Ready}
	<-drainer.started
	updates <- Update{State: Disconnected, Reason: errors.New("socket closed")}

	deadline := time.Now().Add(2 * time.Second)
	for tracker.Ready() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if tracker.Ready() {
		t.Fatal("readiness still set while drain is running")
	}
	close(drainer.release)
	cancel()
	<-done
	if tracker.LoggedOut() {
		t.Error("a plain disconnect is not a logout")
	}
}

// chanSession hands out the same update channel on every Open.
type chanSession struct {
	updates chan Update
}

func (s *chanSession) Open(context.Context) (<-chan Update, error) {
	return s.updates, nil
}

func TestTrackerBackoffGrows(t *testing.T) {
	boom := errors.New("dial failed")
	session := &scriptedSession{openErr: []error{boom, boom, boom, boom}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var delays []time.Duration
	tracker := NewTracker(session, nil, WithBackoff(recordingBackoff(&delays, 4, cancel)))

	err := tracker.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	want := []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}
	if len(delays) != len(want) {
		t.Fatalf("expected %d delays, got %v", len(want), delays)
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Errorf("delay %d: expected %v, got %v", i, want[i], delays[i])
		}
	}
}

func TestTrackerCustomLogoutClassifier(t *testing.T) {
	revoked := errors.New("token revoked")
	session := &scriptedSession{scripts: [][]Update{
		{{State: Ready}, {State: Disconnected, Reason: revoked}},
	}}
	tracker := NewTracker(session, nil, WithLogoutClassifier(func(err error) bool {
		return errors.Is(err, revoked)
	}))

	err := tracker.Run(context.Background())
	if !errors.Is(err, ErrLoggedOut) || !errors.Is(err, revoked) {
		t.Fatalf("expected logout wrapping reason, got %v", err)
	}
}

func TestStateString(t *testing.T) {
	if Ready.String() != "READY" || Connecting.String() != "CONNECTING" || Disconnected.String() != "DISCONNECTED" {
		t.Error("unexpected state names")
	}
}
