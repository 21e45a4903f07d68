package preprocess

import (
	"strings"
	"testing"
)

func TestCleanBasicNormalisesQuotesAndSpace(t *testing.T) {
	in := "“Go home,”  she said.\t\r\n\n\n\n Next—line"
	got := CleanBasic(in)
	want := "\"Go home,\" she said.\n\nNext-line"
	if got != want {
		t.Fatalf("CleanBasic = %q, want %q", got, want)
	}
}

func TestHTMLToTextKeepsStructure(t *testing.T) {
	html := `<html><head><style>p{}</style></head><body>
<nav>menu</nav>
<h1>Chapter One</h1>
<p>The story is set in Prague.</p>
<script>var x = 1;</script>
<ul><li>river</li></ul>
<table><tr><th>a</th><td>b</td></tr></table>
</body></html>`
	got, err := HTMLToText(html)
	if err != nil {
		t.Fatalf("HTMLToText error: %v", err)
	}
	want := "# Chapter One\n\nThe story is set in Prague.\n\n- river\n\n| a | b |"
	if got != want {
		t.Fatalf("HTMLToText = %q, want %q", got, want)
	}
}

func TestPreprocessDropsNoiseAndDuplicates(t *testing.T) {
	raw := "BOOK TITLE page 1\nFirst.\n\nFirst.\n\nSecond."
	got := Preprocess(raw, "BOOK TITLE")
	if got != "First.\n\nSecond." {
		t.Fatalf("Preprocess = %q", got)
	}
}

func TestSplitChapters(t *testing.T) {
	text := "Front matter\nCHAPTER ONE\nThe boy lived.\nCHAPTER TWO The Glass\nThe glass vanished.\n"
	chapters := SplitChapters(text)
	if len(chapters) != 2 {
		t.Fatalf("expected 2 chapters, got %#v", chapters)
	}
	if chapters[0].Title != "CHAPTER ONE" || chapters[0].Content != "The boy lived." {
		t.Fatalf("unexpected first chapter %#v", chapters[0])
	}
	if chapters[1].Number != 2 || chapters[1].Title != "CHAPTER TWO The Glass" {
		t.Fatalf("unexpected second chapter %#v", chapters[1])
	}

	single := SplitChapters("No headings here.")
	if len(single) != 1 || single[0].Content != "No headings here." {
		t.Fatalf("expected whole text as one chapter, got %#v", single)
	}
	if SplitChapters("   ") != nil {
		t.Fatalf("expected no chapters for blank text")
	}
}

func TestExtractQuotations(t *testing.T) {
	long := strings.Repeat("word ", 12)
	text := `"Short," he said. "` + long + `" and then "` + " padded " + strings.Repeat("x", 60) + ` "`
	quotes := ExtractQuotations(text, 50)
	if len(quotes) != 2 {
		t.Fatalf("expected 2 quotations, got %#v", quotes)
	}
	if quotes[0] != strings.TrimSpace(long) {
		t.Fatalf("unexpected first quotation %q", quotes[0])
	}
	if strings.HasPrefix(quotes[1], " ") || strings.HasSuffix(quotes[1], " ") {
		t.Fatalf("quotation not trimmed %q", quotes[1])
	}
}

func TestLeadSentences(t *testing.T) {
	text := "The story is set in Prague.  It rains!\nThe narrator walks. More."
	if got := LeadSentences(text, 2); got != "The story is set in Prague. It rains!" {
		t.Fatalf("unexpected lead %q", got)
	}
	if got := LeadSentences(text, 10); got != "The story is set in Prague. It rains! The narrator walks. More." {
		t.Fatalf("expected every sentence, got %q", got)
	}
	if got := LeadSentences("no punctuation\nhere", 3); got != "no punctuation here" {
		t.Fatalf("expected whole text, got %q", got)
	}
	if got := LeadSentences(text, 0); got != "" {
		t.Fatalf("expected empty lead for n=0, got %q", got)
	}
}
