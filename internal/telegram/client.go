// Package telegram runs the chat transport over the Telegram Bot API: the
// session lifecycle, outbound text, and inbound messages.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/ardian231/notify-wa/internal/connection"
	"github.com/ardian231/notify-wa/internal/delivery"
	"github.com/ardian231/notify-wa/internal/types"
)

const maxTelegramMessage = 4096

// ErrNotConnected is returned by SendText while no session is open. The
// delivery engine buffers sends that fail with it.
var ErrNotConnected = fmt.Errorf("telegram: not connected: %w", delivery.ErrTransportNotReady)

// errStreamClosed marks an update stream that ended without an error.
var errStreamClosed = errors.New("telegram: update stream closed")

// botAPI is the subset of *tgbotapi.BotAPI the client uses.
type botAPI interface {
	GetMe() (tgbotapi.User, error)
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Dialer opens an authenticated bot. tgbotapi.NewBotAPI performs the getMe
// handshake.
type Dialer func(token string) (botAPI, error)

func defaultDial(token string) (botAPI, error) {
	return tgbotapi.NewBotAPI(token)
}

// InboundFunc receives every non-command text message.
type InboundFunc func(msg *types.InboundMessage)

// StatusFunc renders the /status reply.
type StatusFunc func() string

// Config configures a Client.
type Config struct {
	Token     string
	ChatIDs   map[string]int64 // phone number to chat id
	Heartbeat time.Duration    // 0 disables
}

// Client is both the connection.Session and the delivery.Transport.
type Client struct {
	token     string
	heartbeat time.Duration
	directory map[string]int64
	dial      Dialer

	mu      sync.RWMutex
	bot     botAPI
	inbound InboundFunc
	status  StatusFunc
}

// New creates a Client. Nothing is dialed until Open.
func New(cfg Config) *Client {
	dir := make(map[string]int64, len(cfg.ChatIDs))
	for phone, id := range cfg.ChatIDs {
		dir[delivery.NormalizeRecipient(phone)] = id
	}
	return &Client{
		token:     cfg.Token,
		heartbeat: cfg.Heartbeat,
		directory: dir,
		dial:      defaultDial,
	}
}

// OnInbound sets the inbound message callback.
func (c *Client) OnInbound(fn InboundFunc) {
	c.mu.Lock()
	c.inbound = fn
	c.mu.Unlock()
}

// OnStatus sets the /status renderer.
func (c *Client) OnStatus(fn StatusFunc) {
	c.mu.Lock()
	c.status = fn
	c.mu.Unlock()
}

// IsLoggedOut reports whether err means the bot token was revoked.
func IsLoggedOut(err error) bool {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == 401
	}
	var valErr tgbotapi.Error
	if errors.As(err, &valErr) {
		return valErr.Code == 401
	}
	return false
}

// Open dials the bot and streams its state until the session ends.
func (c *Client) Open(ctx context.Context) (<-chan connection.Update, error) {
	bot, err := c.dial(c.token)
	if err != nil {
		return nil, fmt.Errorf("telegram handshake: %w", err)
	}
	c.setBot(bot)

	out := make(chan connection.Update, 4)
	go c.run(ctx, bot, out)
	return out, nil
}

func (c *Client) setBot(bot botAPI) {
	c.mu.Lock()
	c.bot = bot
	c.mu.Unlock()
}

func (c *Client) currentBot() botAPI {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.bot
}

func (c *Client) run(ctx context.Context, bot botAPI, out chan<- connection.Update) {
	defer close(out)
	defer c.setBot(nil)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := bot.GetUpdatesChan(u)
	out <- connection.Update{State: connection.Ready}

	var tick <-chan time.Time
	if c.heartbeat > 0 {
		ticker := time.NewTicker(c.heartbeat)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			bot.StopReceivingUpdates()
			out <- connection.Update{State: connection.Disconnected, Reason: ctx.Err()}
			return
		case <-tick:
			if _, err := bot.GetMe(); err != nil {
				slog.Warn("telegram heartbeat failed", "error", err)
				bot.StopReceivingUpdates()
				out <- connection.Update{State: connection.Disconnected, Reason: err}
				return
			}
		case update, ok := <-updates:
			if !ok {
				out <- connection.Update{State: connection.Disconnected, Reason: errStreamClosed}
				return
			}
			if update.Message == nil || update.Message.Text == "" {
				continue
			}
			c.handleMessage(bot, update.Message)
		}
	}
}

func (c *Client) handleMessage(bot botAPI, msg *tgbotapi.Message) {
	if msg.IsCommand() {
		c.handleCommand(bot, msg)
		return
	}

	c.mu.RLock()
	inbound := c.inbound
	c.mu.RUnlock()
	if inbound == nil {
		return
	}

	chatID := strconv.FormatInt(msg.Chat.ID, 10)
	inbound(&types.InboundMessage{
		Source:    "telegram",
		ChatKey:   types.NewChatKey("telegram", chatID),
		Sender:    chatID,
		MessageID: strconv.Itoa(msg.MessageID),
		Text:      msg.Text,
	})
}

func (c *Client) handleCommand(bot botAPI, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID

	switch msg.Command() {
	case "start":
		c.reply(bot, chatID, fmt.Sprintf("Halo! Chat ID kamu: %d. Kirim pesan untuk bertanya.", chatID))
	case "status":
		c.mu.RLock()
		status := c.status
		c.mu.RUnlock()
		if status == nil {
			c.reply(bot, chatID, "Status tidak tersedia.")
			return
		}
		c.reply(bot, chatID, status())
	default:
		c.reply(bot, chatID, "Perintah tidak dikenal. Tersedia: /start, /status")
	}
}

func (c *Client) reply(bot botAPI, chatID int64, text string) {
	if err := sendParts(bot, chatID, text); err != nil {
		slog.Error("telegram command reply failed", "chat_id", chatID, "error", err)
	}
}

// SendText delivers body to recipient, which is a phone number from the
// chat id directory or a numeric chat id.
func (c *Client) SendText(_ context.Context, recipient, body string) error {
	bot := c.currentBot()
	if bot == nil {
		return ErrNotConnected
	}
	chatID, err := c.resolve(recipient)
	if err != nil {
		return err
	}
	return sendParts(bot, chatID, body)
}

func (c *Client) resolve(recipient string) (int64, error) {
	if id, ok := c.directory[recipient]; ok {
		return id, nil
	}
	id, err := strconv.ParseInt(recipient, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("telegram: no chat id for recipient %s", recipient)
	}
	return id, nil
}

func sendParts(bot botAPI, chatID int64, text string) error {
	for _, part := range splitMessage(text) {
		msg := tgbotapi.NewMessage(chatID, part)
		if _, err := bot.Send(msg); err != nil {
			return fmt.Errorf("telegram send: %w", err)
		}
	}
	return nil
}

// splitMessage cuts text into chunks Telegram accepts, never splitting a
// UTF-8 sequence.
func splitMessage(text string) []string {
	if len(text) <= maxTelegramMessage {
		return []string{text}
	}
	var parts []string
	for len(text) > 0 {
		end := maxTelegramMessage
		if end >= len(text) {
			parts = append(parts, text)
			break
		}
		for end > 0 && !utf8Start(text[end]) {
			end--
		}
		if end == 0 {
			end = maxTelegramMessage
		}
		parts = append(parts, text[:end])
		text = text[end:]
	}
	return parts
}

func utf8Start(b byte) bool {
	return b&0xC0 != 0x80
}
