package tokenizer

import (
	"unicode"
	"unicode/utf8"
)

// Tokenizer counts and truncates text in model-token units.
type Tokenizer interface {
	CountTokens(text string) int
	// Truncate returns the longest prefix of text holding at most max tokens.
	Truncate(text string, max int) string
}

var _ Tokenizer = (*WordTokenizer)(nil)

// WordTokenizer approximates model tokens without a vocabulary:
//   - letters and digits form one token per run
//   - each Han character is one token
//   - each punctuation or symbol rune is one token
type WordTokenizer struct{}

// NewWordTokenizer returns the dependency-free tokenizer.
func NewWordTokenizer() *WordTokenizer {
	return &WordTokenizer{}
}

// CountTokens implements Tokenizer.
func (WordTokenizer) CountTokens(text string) int {
	return len(spans(text))
}

// Truncate implements Tokenizer.
func (WordTokenizer) Truncate(text string, max int) string {
	if max <= 0 {
		return ""
	}
	sp := spans(text)
	if len(sp) <= max {
		return text
	}
	return text[:sp[max-1][1]]
}

// spans returns [start, end) byte offsets of every token in s.
func spans(s string) [][2]int {
	var out [][2]int
	start := -1
	flush := func(end int) {
		if start >= 0 {
			out = append(out, [2]int{start, end})
			start = -1
		}
	}

	for i, r := range s {
		size := utf8.RuneLen(r)
		switch {
		case unicode.IsSpace(r):
			flush(i)
		case unicode.Is(unicode.Han, r):
			flush(i)
			out = append(out, [2]int{i, i + size})
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if start < 0 {
				start = i
			}
		default:
			flush(i)
			out = append(out, [2]int{i, i + size})
		}
	}
	flush(len(s))
	return out
}
