package replan

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/sweetpotato0/bookqa/llm"
	"github.com/sweetpotato0/bookqa/pkg/logging"
	"github.com/sweetpotato0/bookqa/rag/tokenizer"
)

func newTestSynthesizer(model llm.Client, opts ...Option) *Synthesizer {
	cfg := applyOptions(nil, opts)
	gen := &generator{clients: Clients{Default: model}, logger: logging.Discard()}
	return newSynthesizer(gen, cfg, evidenceFormatter{})
}

func TestProposePlanParsesFlexibleSteps(t *testing.T) {
	model := newScriptedLLM().on(llm.PurposePlan,
		"Here is the plan:\n```json\n{\"steps\":[\"find the setting\",{\"step\":\"find quotes\"},{\"description\":\"answer\"},\"\"]}\n```",
	)
	s := newTestSynthesizer(model, WithMaxPlanSteps(2))

	steps, err := s.ProposePlan(context.Background(), "Where?")
	if err != nil {
		t.Fatalf("ProposePlan error: %v", err)
	}
	if !reflect.DeepEqual(steps, []string{"find the setting", "find quotes"}) {
		t.Fatalf("expected capped plan, got %v", steps)
	}
}

func TestProposePlanErrors(t *testing.T) {
	model := newScriptedLLM().on(llm.PurposePlan, "", "{not json", `{"steps":[]}`)
	s := newTestSynthesizer(model)
	for i := 0; i < 3; i++ {
		if _, err := s.ProposePlan(context.Background(), "Where?"); KindOf(err) != KindPlanGeneration {
			t.Fatalf("reply %d: expected PlanGenerationError, got %v", i, err)
		}
	}

	down := llm.ClientFunc(func(context.Context, *llm.GenerateRequest) (*llm.GenerateResponse, error) {
		return nil, errors.New("503")
	})
	if _, err := newTestSynthesizer(down).ProposePlan(context.Background(), "Where?"); KindOf(err) != KindSynthesisUnavailable {
		t.Fatalf("expected SynthesisUnavailable for upstream failure, got %v", err)
	}
}

func TestProposeRevisionShapes(t *testing.T) {
	model := newScriptedLLM().on(llm.PurposeRevise,
		`{"action":"revise","steps":["find the river"],"explanation":"need more"}`,
		`{"plan":{"steps":["find the bridge"]}}`,
		`{"action":"FINALIZE"}`,
		"I think we should keep going",
	)
	s := newTestSynthesizer(model)
	review := Review{Question: "q", Remaining: []string{"a"}}

	want := []*Decision{
		{Action: ActionRevise, Steps: []string{"find the river"}, Explanation: "need more"},
		{Action: ActionRevise, Steps: []string{"find the bridge"}},
		{Action: ActionFinalize, Steps: []string{}},
	}
	for i, w := range want {
		got, err := s.ProposeRevision(context.Background(), review)
		if err != nil {
			t.Fatalf("reply %d: unexpected error %v", i, err)
		}
		if !reflect.DeepEqual(got, w) {
			t.Fatalf("reply %d: expected %#v, got %#v", i, w, got)
		}
	}
	got, err := s.ProposeRevision(context.Background(), review)
	if err != nil || got.Action != ActionContinue {
		t.Fatalf("expected unparseable reply to continue, got %#v err=%v", got, err)
	}
}

func TestValidateGroundedEmptyEvidenceSkipsService(t *testing.T) {
	model := newScriptedLLM()
	s := newTestSynthesizer(model)

	ok, err := s.ValidateGrounded(context.Background(), "q", "Prague.", nil)
	if ok || err != nil {
		t.Fatalf("expected false without error, got %v %v", ok, err)
	}
	if model.count(llm.PurposeGrounding) != 0 {
		t.Fatalf("expected no generation call on empty evidence")
	}
}

func TestValidateGroundedVerdicts(t *testing.T) {
	model := newScriptedLLM().on(llm.PurposeGrounding,
		`{"grounded_on_facts": true}`,
		`{"grounded_on_facts": "no"}`,
		`{"verdict": "yes"}`,
		"absolutely",
	)
	s := newTestSynthesizer(model)
	evidence := fragments("The story is set in Prague.")

	for i, want := range []bool{true, false, false, false} {
		got, err := s.ValidateGrounded(context.Background(), "q", "Prague.", evidence)
		if err != nil {
			t.Fatalf("reply %d: unexpected error %v", i, err)
		}
		if got != want {
			t.Fatalf("reply %d: expected %v, got %v", i, want, got)
		}
	}
}

func TestSynthesizeAnswerFallsBackToRawText(t *testing.T) {
	model := newScriptedLLM().on(llm.PurposeAnswer, `{"final_answer":"  Prague. "}`, "It is Prague.", "   ")
	s := newTestSynthesizer(model)
	evidence := fragments("The story is set in Prague.")

	for _, want := range []string{"Prague.", "It is Prague."} {
		got, err := s.SynthesizeAnswer(context.Background(), "q", evidence, nil)
		if err != nil || got != want {
			t.Fatalf("expected %q, got %q err=%v", want, got, err)
		}
	}
	if _, err := s.SynthesizeAnswer(context.Background(), "q", evidence, nil); KindOf(err) != KindSynthesisUnavailable {
		t.Fatalf("expected empty output to be SynthesisUnavailable, got %v", err)
	}
}

func TestJudgeSufficiency(t *testing.T) {
	model := newScriptedLLM().on(llm.PurposeSufficiency, `{"can_be_answered": true}`, "maybe")
	s := newTestSynthesizer(model)

	if ok, _ := s.JudgeSufficiency(context.Background(), "q", nil); ok {
		t.Fatalf("empty evidence can never be sufficient")
	}
	evidence := fragments("The story is set in Prague.")
	if ok, err := s.JudgeSufficiency(context.Background(), "q", evidence); !ok || err != nil {
		t.Fatalf("expected sufficient, got %v %v", ok, err)
	}
	if ok, err := s.JudgeSufficiency(context.Background(), "q", evidence); ok || err != nil {
		t.Fatalf("expected unparseable verdict to be insufficient, got %v %v", ok, err)
	}
}

func TestClientsPickFallsBackToDefault(t *testing.T) {
	def, judge := newScriptedLLM(), newScriptedLLM()
	c := Clients{Default: def, Judge: judge}
	if c.pick(llm.PurposeGrounding) != judge || c.pick(llm.PurposeSufficiency) != judge {
		t.Fatalf("expected judge for grounding and sufficiency")
	}
	if c.pick(llm.PurposePlan) != def || c.pick(llm.PurposeAnswer) != def {
		t.Fatalf("expected default for unset roles")
	}
}

func TestEvidenceFormatterTruncatesFragments(t *testing.T) {
	f := evidenceFormatter{tok: tokenizer.NewWordTokenizer(), maxTokens: 3}
	out := f.format(fragments("one two three four five"))
	if !strings.Contains(out, "one two three ...") || strings.Contains(out, "four") {
		t.Fatalf("expected truncated fragment, got %q", out)
	}
	if got := f.format(nil); got != "No context has been retrieved." {
		t.Fatalf("unexpected empty rendering %q", got)
	}
}
