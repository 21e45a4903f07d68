package replan

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorMatchesByKind(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := fmt.Errorf("wrapped: %w", &Error{Kind: KindRetrievalUnavailable, Phase: PhaseExecuting, Err: cause})

	if !errors.Is(err, ErrRetrievalUnavailable) {
		t.Fatalf("expected kind match")
	}
	if errors.Is(err, ErrSynthesisUnavailable) {
		t.Fatalf("unexpected match on different kind")
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause to be reachable")
	}
	if KindOf(err) != KindRetrievalUnavailable || KindOf(cause) != "" {
		t.Fatalf("unexpected KindOf results")
	}
	if got := err.Error(); got != "wrapped: RetrievalUnavailable in EXECUTING: dial tcp: refused" {
		t.Fatalf("unexpected message %q", got)
	}
}

func TestTransientKinds(t *testing.T) {
	for _, k := range []ErrorKind{KindRetrievalUnavailable, KindEmbeddingUnavailable, KindSynthesisUnavailable} {
		if !Transient(k) {
			t.Fatalf("%s should be transient", k)
		}
	}
	for _, k := range []ErrorKind{KindPlanGeneration, KindClassificationAmbiguous, KindCancelled, KindInternal} {
		if Transient(k) {
			t.Fatalf("%s should not be transient", k)
		}
	}
}
