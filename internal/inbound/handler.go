package inbound

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ardian231/notify-wa/internal/delivery"
	"github.com/ardian231/notify-wa/internal/intent"
	"github.com/ardian231/notify-wa/internal/types"
)

// Responder produces the reply for inbound text.
type Responder interface {
	Reply(ctx context.Context, text string) (intent.Answer, error)
	Apology() string
}

// Sender is the delivery engine.
type Sender interface {
	Send(ctx context.Context, recipient, message, tag string) (delivery.Outcome, error)
}

// Handler answers inbound messages through the delivery engine so replies
// share its readiness, retries and dedup.
type Handler struct {
	responder Responder
	sender    Sender
}

// NewHandler creates a Handler.
func NewHandler(responder Responder, sender Sender) *Handler {
	return &Handler{responder: responder, sender: sender}
}

// ReplyTag is the delivery tag of the reply to one inbound message.
func ReplyTag(msg *types.InboundMessage) string {
	return fmt.Sprintf("reply_%s_%s", msg.Sender, msg.MessageID)
}

// Process classifies the job's message and sends the reply. When
// classification fails the apology is sent instead and the error returned.
func (h *Handler) Process(job *Job) error {
	ctx := job.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	msg := job.Message
	if strings.TrimSpace(msg.Text) == "" {
		return nil
	}

	answer, err := h.responder.Reply(ctx, msg.Text)
	reply := answer.Reply
	if err != nil {
		if errors.Is(err, intent.ErrEmptyMessage) {
			return nil
		}
		reply = h.responder.Apology()
	}

	if _, sendErr := h.sender.Send(ctx, msg.Sender, reply, ReplyTag(msg)); sendErr != nil {
		return errors.Join(err, fmt.Errorf("send reply: %w", sendErr))
	}
	return err
}
