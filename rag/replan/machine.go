package replan

import (
	"fmt"
	"log/slog"
)

// Phase is one state of the controller state machine.
type Phase string

const (
	PhasePlanning   Phase = "PLANNING"
	PhaseDispatch   Phase = "DISPATCH"
	PhaseExecuting  Phase = "EXECUTING"
	PhaseEvaluating Phase = "EVALUATING"
	PhaseFinalizing Phase = "FINALIZING"
	PhaseValidating Phase = "VALIDATING"
	PhaseDone       Phase = "DONE"
	PhaseFailed     Phase = "FAILED"
)

// Terminal reports whether no transition leaves the phase.
func (p Phase) Terminal() bool {
	return p == PhaseDone || p == PhaseFailed
}

// allowedTransitions lists every legal edge. FAILED is reachable from any
// non-terminal phase and is handled separately.
var allowedTransitions = map[Phase][]Phase{
	"":              {PhasePlanning},
	PhasePlanning:   {PhaseDispatch},
	PhaseDispatch:   {PhaseExecuting},
	PhaseExecuting:  {PhaseEvaluating},
	PhaseEvaluating: {PhaseDispatch, PhaseFinalizing},
	PhaseFinalizing: {PhaseValidating},
	PhaseValidating: {PhaseDone, PhaseEvaluating},
}

func canTransition(from, to Phase) bool {
	if to == PhaseFailed {
		return !from.Terminal()
	}
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// runState is everything one request owns. It never outlives Answer.
type runState struct {
	requestID string
	question  string
	logger    *slog.Logger

	phase  Phase
	phases []Phase

	plan     *Plan
	evidence *Evidence
	past     []PastStep
	budget   *Budget

	current        *Step
	classification Classification
	lastCapability Capability

	answer      string
	grounded    bool
	attempts    int
	evaluations int

	forceRevision bool
	rejected      string
	exhausted     bool
	route         string
}

func newRunState(requestID, question string, budget int) *runState {
	return &runState{
		requestID: requestID,
		question:  question,
		evidence:  &Evidence{},
		budget:    NewBudget(budget),
		logger:    slog.Default(),
	}
}

// enter moves the machine to next, rejecting edges outside the table.
func (s *runState) enter(next Phase) error {
	if !canTransition(s.phase, next) {
		return errorf(KindInternal, "illegal transition %s -> %s", s.phaseName(), next)
	}
	s.phase = next
	s.phases = append(s.phases, next)
	return nil
}

func (s *runState) phaseName() string {
	if s.phase == "" {
		return "START"
	}
	return string(s.phase)
}

func (s *runState) String() string {
	return fmt.Sprintf("request=%s phase=%s evidence=%d budget=%d", s.requestID, s.phaseName(), s.evidence.Len(), s.budget.Remaining())
}

// result snapshots the run for the caller. Response and Grounded are only
// set once the machine reached DONE.
func (s *runState) result() *Result {
	r := &Result{
		RequestID:       s.requestID,
		Question:        s.question,
		PastSteps:       append([]PastStep(nil), s.past...),
		Evidence:        s.evidence.Fragments(),
		Phases:          append([]Phase(nil), s.phases...),
		Evaluations:     s.evaluations,
		Attempts:        s.attempts,
		BudgetRemaining: s.budget.Remaining(),
		BudgetExhausted: s.exhausted,
	}
	if s.plan != nil {
		r.Plan = s.plan.History()
	}
	if s.answer == "" {
		return r
	}
	r.Answer = Answer{Text: s.answer}
	if s.phase == PhaseDone {
		r.Response = s.answer
		r.Grounded = s.grounded
		r.Answer.Grounded = Ungrounded
		if s.grounded {
			r.Answer.Grounded = Grounded
		}
	}
	return r
}
