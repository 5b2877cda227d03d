package intent

import (
	"context"
	"errors"
	"log/slog"

	"github.com/ardian231/notify-wa/internal/router"
)

// DefaultApology is sent when no model could classify the message.
const DefaultApology = "Maaf, terjadi kesalahan saat memproses pesan kamu."

// Answer is a classified reply.
type Answer struct {
	Label string `json:"label"`
	Reply string `json:"reply"`
}

// Responder classifies text and looks up the reply for its label.
type Responder struct {
	classifier *Classifier
	replies    Replies
	apology    string
}

// NewResponder creates a Responder. An empty apology uses DefaultApology.
func NewResponder(c *Classifier, replies Replies, apology string) *Responder {
	if replies == nil {
		replies = DefaultReplies()
	}
	if apology == "" {
		apology = DefaultApology
	}
	return &Responder{classifier: c, replies: replies, apology: apology}
}

// Apology returns the text sent when classification fails.
func (r *Responder) Apology() string {
	return r.apology
}

// Reply returns the reply text for text. When every model is exhausted the
// apology is returned with a nil error and an empty label.
func (r *Responder) Reply(ctx context.Context, text string) (Answer, error) {
	label, err := r.classifier.Classify(ctx, text)
	if err != nil {
		if errors.Is(err, router.ErrAllProvidersExhausted) {
			slog.Warn("all models exhausted, sending apology")
			return Answer{Reply: r.apology}, nil
		}
		return Answer{}, err
	}
	return Answer{Label: label, Reply: r.replies.For(label, r.classifier.Fallback())}, nil
}
