// internal/types/ids.go
package types

import (
	"strings"

	"github.com/google/uuid"
)

type FailureID string
type JobID string
type ChatKey string

func NewFailureID() FailureID {
	return FailureID(uuid.New().String())
}

func NewJobID() JobID {
	return JobID(uuid.New().String())
}

func NewChatKey(parts ...string) ChatKey {
	return ChatKey(strings.Join(parts, ":"))
}
