package intent

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// NoAnswer is sent when neither the label nor the fallback has a reply.
const NoAnswer = "Maaf, saya belum punya jawaban untuk itu."

// Replies maps labels to reply text.
type Replies map[string]string

// DefaultReplies returns the built-in reply table.
func DefaultReplies() Replies {
	return Replies{
		"greeting": "Halo! Ada yang bisa kami bantu?",
		"harga":    "Untuk informasi harga, silakan sebutkan produk yang kamu minati.",
		"produk":   "Kami menyediakan berbagai produk. Produk apa yang ingin kamu ketahui?",
		"bantuan":  "Tim kami siap membantu. Silakan jelaskan kendala kamu.",
		"status":   "Untuk cek status pengajuan, mohon kirimkan nomor pengajuan kamu.",
		"default":  NoAnswer,
	}
}

// LoadReplies reads a YAML mapping of label to reply text. A missing file
// yields the built-in table.
func LoadReplies(path string) (Replies, error) {
	if path == "" {
		return DefaultReplies(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultReplies(), nil
		}
		return nil, fmt.Errorf("read replies: %w", err)
	}
	var raw map[string]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse replies %s: %w", path, err)
	}
	out := make(Replies, len(raw))
	for label, text := range raw {
		out[strings.ToLower(strings.TrimSpace(label))] = text
	}
	return out, nil
}

// For returns the reply for label, then the fallback label's reply, then
// NoAnswer.
func (r Replies) For(label, fallback string) string {
	if text, ok := r[label]; ok && text != "" {
		return text
	}
	if text, ok := r[fallback]; ok && text != "" {
		return text
	}
	return NoAnswer
}
