package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/ardian231/notify-wa/internal/connection"
	"github.com/ardian231/notify-wa/internal/delivery"
	"github.com/ardian231/notify-wa/internal/types"
)

type fakeBot struct {
	mu       sync.Mutex
	sent     []tgbotapi.MessageConfig
	updates  chan tgbotapi.Update
	getMeErr error
	stopped  bool
}

func newFakeBot() *fakeBot {
	return &fakeBot{updates: make(chan tgbotapi.Update, 10)}
}

func (f *fakeBot) GetMe() (tgbotapi.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return tgbotapi.User{UserName: "notifywa_bot"}, f.getMeErr
}

func (f *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := c.(tgbotapi.MessageConfig); ok {
		f.sent = append(f.sent, m)
	}
	return tgbotapi.Message{}, nil
}

func (f *fakeBot) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return f.updates
}

func (f *fakeBot) StopReceivingUpdates() {
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
}

func (f *fakeBot) sentMessages() []tgbotapi.MessageConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]tgbotapi.MessageConfig, len(f.sent))
	copy(out, f.sent)
	return out
}

func newTestClient(bot *fakeBot, cfg Config) *Client {
	c := New(cfg)
	c.dial = func(string) (botAPI, error) { return bot, nil }
	return c
}

func textUpdate(chatID int64, id int, text string) tgbotapi.Update {
	msg := &tgbotapi.Message{
		MessageID: id,
		Chat:      &tgbotapi.Chat{ID: chatID},
		Text:      text,
	}
	if strings.HasPrefix(text, "/") {
		cmd := strings.Fields(text)[0]
		msg.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(cmd)}}
	}
	return tgbotapi.Update{Message: msg}
}

func next(t *testing.T, ch <-chan connection.Update) connection.Update {
	t.Helper()
	select {
	case u := <-ch:
		return u
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for session update")
		return connection.Update{}
	}
}

func TestSplitMessage(t *testing.T) {
	short := "Hello world"
	parts := splitMessage(short)
	if len(parts) != 1 || parts[0] != short {
		t.Fatalf("expected single part, got %v", parts)
	}

	long := strings.Repeat("a", 5000)
	parts = splitMessage(long)
	if len(parts) != 2 {
		t.Fatalf("expected 2 parts, got %d", len(parts))
	}
	if len(parts[0]) != maxTelegramMessage {
		t.Errorf("expected first part length %d, got %d", maxTelegramMessage, len(parts[0]))
	}
}

func TestSplitMessageKeepsRunes(t *testing.T) {
	long := strings.Repeat("é", 3000) // 2 bytes each
	for _, p := range splitMessage(long) {
		if !strings.HasPrefix(p, "é") || !strings.HasSuffix(p, "é") {
			t.Fatal("split broke a multibyte rune")
		}
	}
}

func TestSessionLifecycle(t *testing.T) {
	bot := newFakeBot()
	c := newTestClient(bot, Config{Token: "t"})
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := c.Open(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if u := next(t, ch); u.State != connection.Ready {
		t.Fatalf("expected READY, got %v", u.State)
	}

	cancel()
	u := next(t, ch)
	if u.State != connection.Disconnected || !errors.Is(u.Reason, context.Canceled) {
		t.Errorf("expected disconnect on cancel, got %+v", u)
	}
	if _, ok := <-ch; ok {
		t.Error("expected channel closed")
	}
	if err := c.SendText(context.Background(), "1", "hi"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected after session end, got %v", err)
	} else if !errors.Is(err, delivery.ErrTransportNotReady) {
		t.Errorf("ErrNotConnected should mark the transport not ready, got %v", err)
	}
}

func TestSessionHeartbeatFailure(t *testing.T) {
	bot := newFakeBot()
	c := newTestClient(bot, Config{Token: "t", Heartbeat: 10 * time.Millisecond})

	ch, _ := c.Open(context.Background())
	next(t, ch)

	unauthorized := &tgbotapi.Error{Code: 401, Message: "Unauthorized"}
	bot.mu.Lock()
	bot.getMeErr = unauthorized
	bot.mu.Unlock()

	u := next(t, ch)
	if u.State != connection.Disconnected || !IsLoggedOut(u.Reason) {
		t.Errorf("expected logout disconnect, got %+v", u)
	}
}

func TestOpenHandshakeError(t *testing.T) {
	c := New(Config{Token: "bad"})
	c.dial = func(string) (botAPI, error) { return nil, &tgbotapi.Error{Code: 401, Message: "Unauthorized"} }

	_, err := c.Open(context.Background())
	if err == nil || !IsLoggedOut(err) {
		t.Errorf("expected logout error from handshake, got %v", err)
	}
	if IsLoggedOut(errors.New("dial tcp: timeout")) {
		t.Error("network errors are not logouts")
	}
}

func TestSendTextDirectory(t *testing.T) {
	bot := newFakeBot()
	c := newTestClient(bot, Config{Token: "t", ChatIDs: map[string]int64{"08123": 777}})
	ch, _ := c.Open(context.Background())
	next(t, ch)

	if err := c.SendText(context.Background(), "628123", "Pengajuan Budi telah diterima!"); err != nil {
		t.Fatal(err)
	}
	if err := c.SendText(context.Background(), "-100200", "grup"); err != nil {
		t.Fatal(err)
	}
	if err := c.SendText(context.Background(), "62999", "x"); err != nil {
		t.Fatal(err) // numeric recipient falls back to chat id
	}
	if err := c.SendText(context.Background(), "not-a-number", "x"); err == nil {
		t.Error("expected error for unresolvable recipient")
	}

	sent := bot.sentMessages()
	if len(sent) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(sent))
	}
	if sent[0].ChatID != 777 || sent[0].Text != "Pengajuan Budi telah diterima!" {
		t.Errorf("unexpected first message %+v", sent[0])
	}
	if sent[1].ChatID != -100200 {
		t.Errorf("expected group chat id, got %d", sent[1].ChatID)
	}
}

func TestInboundAndCommands(t *testing.T) {
	bot := newFakeBot()
	c := newTestClient(bot, Config{Token: "t"})

	got := make(chan *types.InboundMessage, 1)
	c.OnInbound(func(msg *types.InboundMessage) { got <- msg })
	c.OnStatus(func() string { return "READY" })

	ch, _ := c.Open(context.Background())
	next(t, ch)

	bot.updates <- textUpdate(555, 42, "Halo")
	select {
	case msg := <-got:
		if msg.Sender != "555" || msg.MessageID != "42" || msg.Text != "Halo" || msg.ChatKey != "telegram:555" {
			t.Errorf("unexpected inbound %+v", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("inbound message not delivered")
	}

	bot.updates <- textUpdate(555, 43, "/status")
	deadline := time.Now().Add(2 * time.Second)
	for len(bot.sentMessages()) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	sent := bot.sentMessages()
	if len(sent) != 1 || sent[0].Text != "READY" {
		t.Errorf("expected status reply, got %v", sent)
	}
}

func TestStreamClosed(t *testing.T) {
	bot := newFakeBot()
	c := newTestClient(bot, Config{Token: "t"})
	ch, _ := c.Open(context.Background())
	next(t, ch)

	close(bot.updates)
	u := next(t, ch)
	if u.State != connection.Disconnected || u.Reason == nil {
		t.Errorf("expected disconnect with reason, got %+v", u)
	}
	if IsLoggedOut(u.Reason) {
		t.Error("closed stream should reconnect")
	}
}
