package token

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/sweetpotato0/bookqa/rag/chunking"
	"github.com/sweetpotato0/bookqa/rag/document"
	"github.com/sweetpotato0/bookqa/rag/tokenizer"
)

var _ chunking.Chunker = (*Chunker)(nil)

var sentenceRegex = regexp.MustCompile(`[^.!?\n]+(?:[.!?]+["')\]]*|\n+|$)`)

// Chunker packs whole sentences into windows measured in model tokens, so
// passages line up with the budget the answering model sees. Consecutive
// windows share trailing sentences worth up to the overlap budget.
type Chunker struct {
	tok           tokenizer.Tokenizer
	maxTokens     int
	overlapTokens int
}

// Option customises the token chunker.
type Option func(*Chunker)

// WithMaxTokens sets the maximum allowed tokens per chunk (default 256).
func WithMaxTokens(tokens int) Option {
	return func(c *Chunker) {
		if tokens > 0 {
			c.maxTokens = tokens
		}
	}
}

// WithOverlapTokens sets how many tokens are shared between consecutive chunks.
func WithOverlapTokens(tokens int) Option {
	return func(c *Chunker) {
		if tokens >= 0 {
			c.overlapTokens = tokens
		}
	}
}

// WithTokenizer sets the token counter (default tokenizer.WordTokenizer).
func WithTokenizer(tok tokenizer.Tokenizer) Option {
	return func(c *Chunker) {
		if tok != nil {
			c.tok = tok
		}
	}
}

// New creates a new token-aware chunker.
func New(opts ...Option) *Chunker {
	ch := &Chunker{
		tok:           tokenizer.NewWordTokenizer(),
		maxTokens:     256,
		overlapTokens: 32,
	}
	for _, opt := range opts {
		opt(ch)
	}
	if ch.overlapTokens >= ch.maxTokens {
		ch.overlapTokens = ch.maxTokens / 4
	}
	return ch
}

type sentence struct {
	text   string
	tokens int
}

// Chunk implements chunking.Chunker.
func (c *Chunker) Chunk(ctx context.Context, doc document.Document) ([]document.Chunk, error) {
	document.EnsureDocumentID(&doc)
	sentences := c.sentences(doc.Content)
	if len(sentences) == 0 {
		return nil, nil
	}

	var (
		chunks []document.Chunk
		window []sentence
		used   int
	)
	emit := func() {
		var b strings.Builder
		for _, s := range window {
			b.WriteString(s.text)
		}
		chunks = append(chunks, document.Chunk{
			ID:         fmt.Sprintf("%s_chunk_%d", doc.ID, len(chunks)),
			DocumentID: doc.ID,
			Content:    strings.TrimSpace(b.String()),
			Ordinal:    len(chunks),
			Metadata:   map[string]any{"tokens": used},
		})
	}

	for i, s := range sentences {
		if i%64 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if used+s.tokens > c.maxTokens && len(window) > 0 {
			emit()
			window, used = c.tail(window)
		}
		window = append(window, s)
		used += s.tokens
	}
	if len(window) > 0 {
		emit()
	}
	return chunks, nil
}

// tail keeps the trailing sentences of window that fit the overlap budget.
func (c *Chunker) tail(window []sentence) ([]sentence, int) {
	used := 0
	start := len(window)
	for start > 0 && used+window[start-1].tokens <= c.overlapTokens {
		start--
		used += window[start].tokens
	}
	if start == 0 {
		// the whole window would repeat; keep nothing so progress is made
		return nil, 0
	}
	return append([]sentence(nil), window[start:]...), used
}

// sentences splits text and cuts any sentence longer than the window.
func (c *Chunker) sentences(text string) []sentence {
	var out []sentence
	for _, raw := range sentenceRegex.FindAllString(text, -1) {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		for raw != "" {
			n := c.tok.CountTokens(raw)
			if n <= c.maxTokens {
				out = append(out, sentence{text: raw, tokens: n})
				break
			}
			head := c.tok.Truncate(raw, c.maxTokens)
			if head == "" || len(head) >= len(raw) {
				out = append(out, sentence{text: raw, tokens: n})
				break
			}
			out = append(out, sentence{text: head, tokens: c.tok.CountTokens(head)})
			raw = raw[len(head):]
		}
	}
	return out
}
