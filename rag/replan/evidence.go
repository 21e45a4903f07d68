package replan

import (
	"fmt"
	"strings"

	"github.com/sweetpotato0/bookqa/rag/tokenizer"
)

// Fragment is one unit of evidence: a retrieved passage or quotation.
type Fragment struct {
	Capability Capability     `json:"capability"`
	Text       string         `json:"text"`
	Score      float32        `json:"score"`
	StepID     int            `json:"step_id"`
	Query      string         `json:"query"`
	Provenance map[string]any `json:"provenance,omitempty"`
}

// Evidence is the append-only, order-preserving evidence pool of one request.
// It is owned by a single controller run and is not safe for concurrent use.
type Evidence struct {
	fragments []Fragment
}

// Append adds fragments at the end and returns the new length.
func (e *Evidence) Append(frags ...Fragment) int {
	e.fragments = append(e.fragments, frags...)
	return len(e.fragments)
}

// Len returns the number of fragments.
func (e *Evidence) Len() int { return len(e.fragments) }

// Empty reports whether no fragment has been gathered.
func (e *Evidence) Empty() bool { return len(e.fragments) == 0 }

// Fragments returns a copy of the pool in insertion order.
func (e *Evidence) Fragments() []Fragment {
	out := make([]Fragment, len(e.fragments))
	copy(out, e.fragments)
	return out
}

// evidenceFormatter renders evidence into prompt text, optionally truncating
// each fragment to a token budget. The pool itself is never truncated.
type evidenceFormatter struct {
	tok       tokenizer.Tokenizer
	maxTokens int
}

func (f evidenceFormatter) format(frags []Fragment) string {
	if len(frags) == 0 {
		return "No context has been retrieved."
	}
	var b strings.Builder
	for i, fr := range frags {
		text := strings.TrimSpace(fr.Text)
		if f.tok != nil && f.maxTokens > 0 {
			if cut := f.tok.Truncate(text, f.maxTokens); len(cut) < len(text) {
				text = cut + " ..."
			}
		}
		fmt.Fprintf(&b, "[%d %s step=%d score=%.2f]\n%s\n---\n", i+1, fr.Capability, fr.StepID, fr.Score, text)
	}
	return b.String()
}

func formatPastSteps(past []PastStep, limit int) string {
	if len(past) == 0 {
		return "None yet."
	}
	var b strings.Builder
	for i, ps := range past {
		out := ps.Output
		if ps.Capability.IsRetrieval() && ps.Fragments == 0 {
			out = "(no results)"
		}
		fmt.Fprintf(&b, "%d. %s\n   capability: %s\n   query: %s\n   result: %s\n",
			i+1, ps.Step, ps.Capability, ps.Query, trimForLog(out, limit))
	}
	return b.String()
}

func formatSteps(steps []string) string {
	if len(steps) == 0 {
		return "(empty)"
	}
	var b strings.Builder
	for i, s := range steps {
		fmt.Fprintf(&b, "%d. %s\n", i+1, s)
	}
	return b.String()
}

func trimForLog(text string, limit int) string {
	text = strings.TrimSpace(text)
	if limit <= 0 || len([]rune(text)) <= limit {
		return text
	}
	runes := []rune(text)
	return string(runes[:limit]) + "..."
}
