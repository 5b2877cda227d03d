package intent

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// Budget bounds how many tokens of user text reach the classifier.
type Budget struct {
	tokenizer *tiktoken.Tiktoken
	maxTokens int
}

// NewBudget creates a Budget of maxTokens using the encoding for model,
// falling back to cl100k_base for models tiktoken does not know.
func NewBudget(model string, maxTokens int) (*Budget, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("get tokenizer: %w", err)
		}
	}
	return &Budget{tokenizer: enc, maxTokens: maxTokens}, nil
}

// Count returns the token count of text.
func (b *Budget) Count(text string) int {
	return len(b.tokenizer.Encode(text, nil, nil))
}

// Truncate cuts text down to the budget. Text within budget, or a
// non-positive budget, is returned unchanged.
func (b *Budget) Truncate(text string) string {
	if b == nil || b.maxTokens <= 0 {
		return text
	}
	tokens := b.tokenizer.Encode(text, nil, nil)
	if len(tokens) <= b.maxTokens {
		return text
	}
	return b.tokenizer.Decode(tokens[:b.maxTokens])
}
