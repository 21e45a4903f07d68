package replan

import (
	"fmt"
	"strings"
)

// Capability is one of the executable actions a step can be dispatched to.
// The set is closed; ParseCapability rejects anything else.
type Capability int

const (
	CapabilityUnknown Capability = iota
	// CapabilityStructured retrieves passages from the structured collection.
	CapabilityStructured
	// CapabilityQuotation retrieves verbatim quotations.
	CapabilityQuotation
	// CapabilitySynthesis answers from the accumulated evidence without retrieval.
	CapabilitySynthesis
)

var capabilityNames = map[Capability]string{
	CapabilityStructured: "retrieve_structured",
	CapabilityQuotation:  "retrieve_quotation",
	CapabilitySynthesis:  "synthesize_from_context",
}

// String returns the wire tag of the capability.
func (c Capability) String() string {
	if name, ok := capabilityNames[c]; ok {
		return name
	}
	return "unknown"
}

// IsRetrieval reports whether the capability reads from the knowledge store.
func (c Capability) IsRetrieval() bool {
	return c == CapabilityStructured || c == CapabilityQuotation
}

// MarshalText implements encoding.TextMarshaler.
func (c Capability) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Capability) UnmarshalText(text []byte) error {
	if string(text) == "unknown" {
		*c = CapabilityUnknown
		return nil
	}
	parsed, err := ParseCapability(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// ParseCapability maps a tag to a Capability. Besides the canonical tags it
// accepts the short forms the generation service tends to produce.
func ParseCapability(tag string) (Capability, error) {
	norm := strings.ToLower(strings.TrimSpace(tag))
	norm = strings.Trim(norm, "\"'`.")
	switch norm {
	case "retrieve_structured", "structured", "retrieve_chunks", "chunks", "passages":
		return CapabilityStructured, nil
	case "retrieve_quotation", "quotation", "quotations", "retrieve_quotes", "quotes":
		return CapabilityQuotation, nil
	case "synthesize_from_context", "synthesize", "synthesis", "answer_from_context", "context":
		return CapabilitySynthesis, nil
	}
	return CapabilityUnknown, fmt.Errorf("unknown capability %q", tag)
}

// Groundedness is the tri-state grounding verdict of an answer.
type Groundedness int

const (
	GroundednessUnknown Groundedness = iota
	Grounded
	Ungrounded
)

// String implements fmt.Stringer.
func (g Groundedness) String() string {
	switch g {
	case Grounded:
		return "grounded"
	case Ungrounded:
		return "ungrounded"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (g Groundedness) MarshalText() ([]byte, error) {
	return []byte(g.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (g *Groundedness) UnmarshalText(text []byte) error {
	switch string(text) {
	case "grounded":
		*g = Grounded
	case "ungrounded":
		*g = Ungrounded
	case "unknown", "":
		*g = GroundednessUnknown
	default:
		return fmt.Errorf("unknown groundedness %q", text)
	}
	return nil
}

// Answer is a synthesized response and its grounding verdict.
type Answer struct {
	Text     string       `json:"text"`
	Grounded Groundedness `json:"grounded"`
}

// PastStep records one executed step. The log is append-only.
type PastStep struct {
	StepID     int        `json:"step_id"`
	Step       string     `json:"step"`
	Capability Capability `json:"capability"`
	Query      string     `json:"query"`
	Fragments  int        `json:"fragments"`
	Output     string     `json:"output"`
}

// Classification is the Task Classifier's verdict for one step.
type Classification struct {
	Capability Capability
	// Query is the text sent to retrieval or synthesis; defaults to the step text.
	Query string
}

// Action is the Replanner's choice after a step.
type Action string

const (
	ActionFinalize Action = "finalize"
	ActionContinue Action = "continue"
	ActionRevise   Action = "revise"
)

// Decision is the Replanner's output. Steps is only meaningful for
// ActionRevise and fully replaces the remaining plan.
type Decision struct {
	Action      Action
	Steps       []string
	Explanation string
}

// Review is everything the Replanner sees when deciding.
type Review struct {
	Question        string
	Remaining       []string
	PastSteps       []PastStep
	Evidence        []Fragment
	BudgetRemaining int
	// Forced is set after a failed grounding check; the Replanner must
	// propose steps that gather more evidence.
	Forced bool
	// RejectedAnswer is the answer that failed the grounding check.
	RejectedAnswer string
}

// Result is the caller-facing outcome of one question.
type Result struct {
	RequestID       string     `json:"request_id"`
	Question        string     `json:"question"`
	Response        string     `json:"response"`
	Grounded        bool       `json:"grounded"`
	Answer          Answer     `json:"answer"`
	Plan            []Step     `json:"plan"`
	PastSteps       []PastStep `json:"past_steps"`
	Evidence        []Fragment `json:"evidence"`
	Phases          []Phase    `json:"phases"`
	Evaluations     int        `json:"evaluations"`
	Attempts        int        `json:"synthesis_attempts"`
	BudgetRemaining int        `json:"budget_remaining"`
	BudgetExhausted bool       `json:"budget_exhausted"`
}
