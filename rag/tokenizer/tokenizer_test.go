package tokenizer

import "testing"

func TestWordTokenizerCount(t *testing.T) {
	tok := NewWordTokenizer()
	cases := map[string]int{
		"":                            0,
		"The story is set in Prague.": 7,
		"room 101, floor 3":           5,
		"布拉格":                         3,
	}
	for in, want := range cases {
		if got := tok.CountTokens(in); got != want {
			t.Fatalf("CountTokens(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestWordTokenizerTruncate(t *testing.T) {
	tok := NewWordTokenizer()
	text := "The story is set in Prague."
	if got := tok.Truncate(text, 3); got != "The story is" {
		t.Fatalf("unexpected truncation %q", got)
	}
	if got := tok.Truncate(text, 100); got != text {
		t.Fatalf("short text should be unchanged, got %q", got)
	}
	if got := tok.Truncate(text, 0); got != "" {
		t.Fatalf("zero budget should be empty, got %q", got)
	}
}
