// internal/types/models.go
package types

import (
	"time"
)

// LedgerEntry is one confirmed delivery.
type LedgerEntry struct {
	Key       string    `json:"key"`
	Recipient string    `json:"recipient"`
	Tag       string    `json:"tag"`
	SentAt    time.Time `json:"sent_at"`
}

// FailureRecord is written after a send exhausted its attempts. It is kept
// for operators only and never consulted when deciding whether to send.
type FailureRecord struct {
	ID        FailureID `json:"id"`
	Key       string    `json:"key"`
	Recipient string    `json:"recipient"`
	Message   string    `json:"message"`
	Tag       string    `json:"tag"`
	Reason    string    `json:"reason"`
	Attempts  int       `json:"attempts"`
	At        time.Time `json:"at"`
}

// InboundMessage is a chat message received from the transport.
type InboundMessage struct {
	Source    string  `json:"source"`
	ChatKey   ChatKey `json:"chat_key"`
	Sender    string  `json:"sender"`
	MessageID string  `json:"message_id"`
	Text      string  `json:"text"`
}
