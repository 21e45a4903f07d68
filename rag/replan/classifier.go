package replan

import (
	"context"
	"fmt"
	"strings"

	"github.com/sweetpotato0/bookqa/llm"
)

// ClassifyInput is what a Classifier sees for one step.
type ClassifyInput struct {
	Question       string
	Step           string
	Evidence       []Fragment
	PastSteps      []PastStep
	LastCapability Capability
}

// Classifier maps a step to exactly one capability. Implementations return a
// ClassificationAmbiguous error instead of guessing.
type Classifier interface {
	Classify(ctx context.Context, in ClassifyInput) (Classification, error)
}

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc func(ctx context.Context, in ClassifyInput) (Classification, error)

// Classify implements Classifier.
func (f ClassifierFunc) Classify(ctx context.Context, in ClassifyInput) (Classification, error) {
	return f(ctx, in)
}

var ruleTable = []struct {
	capability Capability
	stems      []string
}{
	{CapabilityQuotation, []string{"quot", "verbatim", " said", " says", "exact words", "dialogue"}},
	{CapabilitySynthesis, []string{"synthes", "summar", "combine", "conclude", "answer", "from the context", "from context", "retrieved context", "gathered context"}},
	{CapabilityStructured, []string{"retriev", "find", "search", "locate", "look up", "passage", "chapter", "identify", "collect", "describ"}},
}

// RuleClassifier matches word stems in the step text. A verdict is returned
// only when the stems point at a single capability; quotation stems refine
// structured retrieval. Anything else is ambiguous so a chained classifier
// can decide.
type RuleClassifier struct{}

// Classify implements Classifier.
func (RuleClassifier) Classify(_ context.Context, in ClassifyInput) (Classification, error) {
	text := " " + strings.ToLower(in.Step)
	var matched []Capability
	for _, rule := range ruleTable {
		for _, stem := range rule.stems {
			if strings.Contains(text, stem) {
				matched = append(matched, rule.capability)
				break
			}
		}
	}
	if len(matched) == 2 && matched[0] == CapabilityQuotation && matched[1] == CapabilityStructured {
		matched = matched[:1]
	}
	switch len(matched) {
	case 0:
		return Classification{}, errorf(KindClassificationAmbiguous, "no rule matches step %q", trimForLog(in.Step, 80))
	case 1:
		return Classification{Capability: matched[0], Query: strings.TrimSpace(in.Step)}, nil
	default:
		return Classification{}, errorf(KindClassificationAmbiguous, "rules disagree on step %q: %v", trimForLog(in.Step, 80), matched)
	}
}

type classifyReply struct {
	Capability string `json:"capability"`
	Query      string `json:"query"`
}

// LLMClassifier asks the generation service to route a step.
type LLMClassifier struct {
	gen    *generator
	prompt string
}

// Classify implements Classifier.
func (c *LLMClassifier) Classify(ctx context.Context, in ClassifyInput) (Classification, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\nStep: %s\n", in.Question, in.Step)
	if in.LastCapability != CapabilityUnknown {
		fmt.Fprintf(&b, "Last capability used: %s\n", in.LastCapability)
	}
	if n := len(in.PastSteps); n > 0 {
		last := in.PastSteps[n-1]
		if last.Capability.IsRetrieval() && last.Fragments == 0 {
			fmt.Fprintf(&b, "The last retrieval (%s, query %q) returned nothing.\n", last.Capability, last.Query)
		}
	}
	fmt.Fprintf(&b, "Context gathered so far: %d fragments\nReturn JSON only.", len(in.Evidence))

	raw, err := c.gen.generate(ctx, llm.PurposeClassify, c.prompt, b.String())
	if err != nil {
		return Classification{}, err
	}
	reply, err := decodeJSON[classifyReply](raw)
	if err != nil {
		return Classification{}, newError(KindClassificationAmbiguous, fmt.Errorf("classifier output invalid: %w", err))
	}
	capability, err := ParseCapability(reply.Capability)
	if err != nil {
		return Classification{}, newError(KindClassificationAmbiguous, err)
	}
	query := strings.TrimSpace(reply.Query)
	if query == "" {
		query = strings.TrimSpace(in.Step)
	}
	return Classification{Capability: capability, Query: query}, nil
}

// ChainClassifier tries classifiers in order and returns the first verdict
// that is not ambiguous. Other errors stop the chain.
type ChainClassifier []Classifier

// Classify implements Classifier.
func (c ChainClassifier) Classify(ctx context.Context, in ClassifyInput) (Classification, error) {
	var last error = errorf(KindClassificationAmbiguous, "no classifier configured")
	for _, cl := range c {
		if cl == nil {
			continue
		}
		out, err := cl.Classify(ctx, in)
		if err == nil {
			return out, nil
		}
		if KindOf(err) != KindClassificationAmbiguous {
			return Classification{}, err
		}
		last = err
	}
	return Classification{}, last
}
