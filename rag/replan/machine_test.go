package replan

import "testing"

func TestPhaseTransitions(t *testing.T) {
	legal := [][2]Phase{
		{"", PhasePlanning},
		{PhasePlanning, PhaseDispatch},
		{PhaseDispatch, PhaseExecuting},
		{PhaseExecuting, PhaseEvaluating},
		{PhaseEvaluating, PhaseDispatch},
		{PhaseEvaluating, PhaseFinalizing},
		{PhaseFinalizing, PhaseValidating},
		{PhaseValidating, PhaseDone},
		{PhaseValidating, PhaseEvaluating},
		{PhaseExecuting, PhaseFailed},
	}
	for _, tr := range legal {
		if !canTransition(tr[0], tr[1]) {
			t.Fatalf("expected %s -> %s to be legal", tr[0], tr[1])
		}
	}

	illegal := [][2]Phase{
		{"", PhaseDispatch},
		{PhasePlanning, PhaseFinalizing},
		{PhaseExecuting, PhaseDispatch},
		{PhaseDispatch, PhaseEvaluating},
		{PhaseFinalizing, PhaseDone},
		{PhaseDone, PhaseEvaluating},
		{PhaseDone, PhaseFailed},
		{PhaseFailed, PhaseFailed},
	}
	for _, tr := range illegal {
		if canTransition(tr[0], tr[1]) {
			t.Fatalf("expected %s -> %s to be illegal", tr[0], tr[1])
		}
	}
}

func TestRunStateRejectsIllegalTransition(t *testing.T) {
	st := newRunState("req", "q", 1)
	if err := st.enter(PhasePlanning); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	err := st.enter(PhaseValidating)
	if KindOf(err) != KindInternal {
		t.Fatalf("expected internal error, got %v", err)
	}
	if st.phase != PhasePlanning || len(st.phases) != 1 {
		t.Fatalf("illegal transition must not change state, got %s %v", st.phase, st.phases)
	}
}

func TestResultHidesAnswerUntilDone(t *testing.T) {
	st := newRunState("req", "q", 1)
	st.answer = "draft"
	st.phase = PhaseValidating
	if r := st.result(); r.Response != "" || r.Answer.Text != "draft" || r.Answer.Grounded != GroundednessUnknown {
		t.Fatalf("unexpected partial result %#v", r)
	}
	st.phase = PhaseDone
	st.grounded = true
	if r := st.result(); r.Response != "draft" || !r.Grounded || r.Answer.Grounded != Grounded {
		t.Fatalf("unexpected final result %#v", r)
	}
}
