package tiktoken

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
	"github.com/sweetpotato0/bookqa/rag/tokenizer"
)

var _ tokenizer.Tokenizer = (*Tokenizer)(nil)

// Tokenizer counts tokens with a BPE encoding matching the target model.
type Tokenizer struct {
	enc *tiktoken.Tiktoken
}

// New resolves name as a model first and as an encoding name second
// (for example "gpt-4o-mini" or "cl100k_base").
func New(name string) (*Tokenizer, error) {
	enc, err := tiktoken.EncodingForModel(name)
	if err != nil {
		enc, err = tiktoken.GetEncoding(name)
		if err != nil {
			return nil, fmt.Errorf("tiktoken: unknown model or encoding %q: %w", name, err)
		}
	}
	return &Tokenizer{enc: enc}, nil
}

// CountTokens implements tokenizer.Tokenizer.
func (t *Tokenizer) CountTokens(text string) int {
	return len(t.enc.Encode(text, nil, nil))
}

// Truncate implements tokenizer.Tokenizer.
func (t *Tokenizer) Truncate(text string, max int) string {
	if max <= 0 {
		return ""
	}
	ids := t.enc.Encode(text, nil, nil)
	if len(ids) <= max {
		return text
	}
	return t.enc.Decode(ids[:max])
}
