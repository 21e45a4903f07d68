package replan

import (
	"context"
	"reflect"
	"testing"

	"github.com/sweetpotato0/bookqa/llm"
)

func TestForcedReviewNeverFinalizes(t *testing.T) {
	model := newScriptedLLM().on(llm.PurposeRevise, `{"action":"continue"}`, `{"action":"finalize"}`)
	r := NewLLMReplanner(newTestSynthesizer(model), MinEvidence(1))
	review := Review{
		Question:       "q",
		Remaining:      []string{"find the river"},
		Evidence:       fragments("some passage"),
		Forced:         true,
		RejectedAnswer: "Vienna.",
	}

	d, err := r.Replan(context.Background(), review)
	if err != nil {
		t.Fatalf("Replan error: %v", err)
	}
	if d.Action != ActionRevise || !reflect.DeepEqual(d.Steps, []string{"find the river"}) {
		t.Fatalf("expected continue to become a revision keeping remaining steps, got %#v", d)
	}

	d, err = r.Replan(context.Background(), review)
	if err != nil {
		t.Fatalf("Replan error: %v", err)
	}
	if d.Action != ActionRevise || len(d.Steps) != 0 {
		t.Fatalf("expected finalize to become an empty revision, got %#v", d)
	}
}

func TestMinEvidence(t *testing.T) {
	policy := MinEvidence(2)
	if ok, _ := policy.Sufficient(context.Background(), "q", fragments("a")); ok {
		t.Fatalf("one fragment must not be enough")
	}
	if ok, _ := policy.Sufficient(context.Background(), "q", fragments("a", "b")); !ok {
		t.Fatalf("two fragments must be enough")
	}
	if ok, _ := MinEvidence(0).Sufficient(context.Background(), "q", fragments("a")); ok {
		t.Fatalf("a zero threshold disables the policy")
	}
}
