package replan

import (
	"fmt"
	"strings"
)

// StepStatus is the lifecycle position of a Step.
type StepStatus int

const (
	StepPending StepStatus = iota
	StepDispatched
	StepDone
	// StepDiscarded marks a pending step dropped by a revision.
	StepDiscarded
)

// String implements fmt.Stringer.
func (s StepStatus) String() string {
	switch s {
	case StepPending:
		return "pending"
	case StepDispatched:
		return "dispatched"
	case StepDone:
		return "done"
	case StepDiscarded:
		return "discarded"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s StepStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *StepStatus) UnmarshalText(text []byte) error {
	for _, candidate := range []StepStatus{StepPending, StepDispatched, StepDone, StepDiscarded} {
		if candidate.String() == string(text) {
			*s = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown step status %q", text)
}

// Step is one planned unit of work.
type Step struct {
	ID       int        `json:"id"`
	Text     string     `json:"text"`
	Status   StepStatus `json:"status"`
	Revision int        `json:"revision"`
}

// Plan is an ordered queue of pending steps plus the history of every step
// ever created for the request. Steps leave the queue strictly from the head;
// a revision swaps the whole queue at once.
type Plan struct {
	history  []*Step
	queue    []*Step
	revision int
}

// NewPlan builds a plan from step texts, skipping blank entries.
func NewPlan(texts []string) *Plan {
	p := &Plan{}
	p.queue = p.newSteps(texts)
	return p
}

func (p *Plan) newSteps(texts []string) []*Step {
	steps := make([]*Step, 0, len(texts))
	for _, text := range texts {
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		s := &Step{ID: len(p.history) + 1, Text: text, Status: StepPending, Revision: p.revision}
		p.history = append(p.history, s)
		steps = append(steps, s)
	}
	return steps
}

// Len is the number of pending steps.
func (p *Plan) Len() int { return len(p.queue) }

// Empty reports whether no steps are pending.
func (p *Plan) Empty() bool { return len(p.queue) == 0 }

// Revisions counts how many times the remaining plan was replaced.
func (p *Plan) Revisions() int { return p.revision }

// Pop removes the head step and marks it dispatched.
func (p *Plan) Pop() (*Step, bool) {
	if len(p.queue) == 0 {
		return nil, false
	}
	s := p.queue[0]
	p.queue = p.queue[1:]
	s.Status = StepDispatched
	return s, true
}

// Complete marks a dispatched step done. Steps in any other state are left
// untouched, so a done step can never become dispatchable again.
func (p *Plan) Complete(s *Step) {
	if s != nil && s.Status == StepDispatched {
		s.Status = StepDone
	}
}

// Replace discards every pending step and installs texts as the new
// remaining plan.
func (p *Plan) Replace(texts []string) {
	for _, s := range p.queue {
		s.Status = StepDiscarded
	}
	p.revision++
	p.queue = p.newSteps(texts)
}

// Remaining returns the texts of pending steps in execution order.
func (p *Plan) Remaining() []string {
	out := make([]string, len(p.queue))
	for i, s := range p.queue {
		out[i] = s.Text
	}
	return out
}

// History returns a snapshot of every step created so far, in creation order.
func (p *Plan) History() []Step {
	out := make([]Step, len(p.history))
	for i, s := range p.history {
		out[i] = *s
	}
	return out
}
