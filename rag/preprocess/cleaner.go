package preprocess

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
)

var (
	reSpaces   = regexp.MustCompile(`[ \t]+`)
	reNewlines = regexp.MustCompile(`\n{3,}`)
	reQuote    = regexp.MustCompile(`"([^"]*)"`)
	reChapter  = regexp.MustCompile(`(?m)^\s*CHAPTER\s+([A-Z0-9]+)\b[^\n]*$`)
	reSentence = regexp.MustCompile(`[^.!?]+[.!?]+["')\]]*`)
)

// CleanBasic removes control characters, normalises typographic quotes and
// ligatures, and collapses runs of blanks and empty lines.
func CleanBasic(text string) string {
	if text == "" {
		return ""
	}

	// remove control chars except newline
	b := strings.Map(func(r rune) rune {
		if r == '\n' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, strings.ReplaceAll(text, "\r\n", "\n"))

	b = strings.NewReplacer(
		"ﬁ", "fi", "ﬂ", "fl",
		"“", `"`, "”", `"`, "„", `"`,
		"‘", "'", "’", "'",
		"—", "-", "–", "-",
		"\u00a0", " ",
	).Replace(b)

	b = reSpaces.ReplaceAllString(b, " ")
	b = reNewlines.ReplaceAllString(b, "\n\n")

	lines := strings.Split(b, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// HTMLToText: lightweight extraction of content, keep headings and paragraphs
func HTMLToText(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", err
	}
	doc.Find("script,style,nav,header,footer").Remove()

	var out []string
	doc.Find("h1,h2,h3,h4,p,li,blockquote,pre,table").Each(func(i int, s *goquery.Selection) {
		text := strings.TrimSpace(s.Text())
		if text == "" {
			return
		}
		switch goquery.NodeName(s) {
		case "h1":
			out = append(out, "# "+text)
		case "h2":
			out = append(out, "## "+text)
		case "h3", "h4":
			out = append(out, "### "+text)
		case "li":
			out = append(out, "- "+text)
		case "table":
			out = append(out, parseTable(s))
		default:
			out = append(out, text)
		}
	})
	return strings.Join(out, "\n\n"), nil
}

func parseTable(sel *goquery.Selection) string {
	var rows []string
	sel.Find("tr").Each(func(i int, tr *goquery.Selection) {
		var cols []string
		tr.Find("th,td").Each(func(j int, td *goquery.Selection) {
			cols = append(cols, strings.TrimSpace(td.Text()))
		})
		if len(cols) > 0 {
			rows = append(rows, "| "+strings.Join(cols, " | ")+" |")
		}
	})
	return strings.Join(rows, "\n")
}

// RemoveDuplicateParagraphs dedupe by exact paragraph text
func RemoveDuplicateParagraphs(text string) string {
	parts := strings.Split(text, "\n\n")
	seen := map[string]struct{}{}
	var out []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return strings.Join(out, "\n\n")
}

// Preprocess: pipeline
func Preprocess(raw string, noise ...string) string {
	t := CleanBasic(raw)
	t = RemoveNoiseLines(t, noise...)
	t = RemoveDuplicateParagraphs(t)
	return t
}

// RemoveNoiseLines drops every line containing one of patterns, typically
// running headers repeated on each page of a scanned book.
func RemoveNoiseLines(s string, patterns ...string) string {
	if len(patterns) == 0 {
		return s
	}
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, l := range lines {
		skip := false
		for _, p := range patterns {
			if p != "" && strings.Contains(l, p) {
				skip = true
				break
			}
		}
		if !skip {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}

// Chapter is one chapter of a book.
type Chapter struct {
	Number  int
	Title   string
	Content string
}

// SplitChapters splits text on lines starting with "CHAPTER <word>". Text
// before the first heading is dropped when at least one heading exists;
// without headings the whole text is a single chapter.
func SplitChapters(text string) []Chapter {
	locs := reChapter.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		if strings.TrimSpace(text) == "" {
			return nil
		}
		return []Chapter{{Number: 1, Title: "Chapter 1", Content: strings.TrimSpace(text)}}
	}

	var out []Chapter
	for i, loc := range locs {
		end := len(text)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		title := strings.TrimSpace(text[loc[0]:loc[1]])
		body := strings.TrimSpace(text[loc[1]:end])
		if body == "" {
			continue
		}
		out = append(out, Chapter{Number: len(out) + 1, Title: title, Content: body})
	}
	return out
}

// ExtractQuotations returns the double-quoted spans of text that are at least
// minLen characters long, trimmed, in order of appearance.
func ExtractQuotations(text string, minLen int) []string {
	var out []string
	for _, m := range reQuote.FindAllStringSubmatch(text, -1) {
		if len([]rune(m[1])) < minLen {
			continue
		}
		if q := strings.TrimSpace(m[1]); q != "" {
			out = append(out, q)
		}
	}
	return out
}

// LeadSentences returns the first n sentences of text joined by single
// spaces. Text without sentence punctuation is returned whole.
func LeadSentences(text string, n int) string {
	if n <= 0 {
		return ""
	}
	var parts []string
	for _, m := range reSentence.FindAllString(text, -1) {
		sentence := strings.Join(strings.Fields(m), " ")
		if sentence == "" {
			continue
		}
		parts = append(parts, sentence)
		if len(parts) == n {
			break
		}
	}
	if len(parts) == 0 {
		return strings.Join(strings.Fields(text), " ")
	}
	return strings.Join(parts, " ")
}
