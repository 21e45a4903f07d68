package transcript

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sweetpotato0/bookqa/rag/replan"
)

type answererFunc func(ctx context.Context, q string) (*replan.Result, error)

func (f answererFunc) Answer(ctx context.Context, q string) (*replan.Result, error) { return f(ctx, q) }

type failingStore struct{ *MemoryStore }

func (*failingStore) Save(context.Context, *Record) error { return errors.New("disk full") }

func TestRecorderSavesTerminalOutcomes(t *testing.T) {
	store := NewMemoryStore()
	ok := answererFunc(func(ctx context.Context, q string) (*replan.Result, error) {
		return &replan.Result{RequestID: "r1", Question: q, Response: "Prague.", Grounded: true, Evaluations: 1}, nil
	})
	failed := answererFunc(func(ctx context.Context, q string) (*replan.Result, error) {
		return &replan.Result{RequestID: "r2", Question: q}, &replan.Error{Kind: replan.KindPlanGeneration, Phase: replan.PhasePlanning}
	})

	if _, err := NewRecorder(ok, store).Answer(context.Background(), "Where?"); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if _, err := NewRecorder(failed, store).Answer(context.Background(), "Why?"); err == nil {
		t.Fatalf("expected error to pass through")
	}

	rec, err := store.Get(context.Background(), "r1")
	if err != nil || rec.Response != "Prague." || rec.Status != StatusDone || rec.Question != "Where?" {
		t.Fatalf("unexpected record %#v err=%v", rec, err)
	}
	rec, err = store.Get(context.Background(), "r2")
	if err != nil || rec.Status != StatusFailed || rec.ErrorKind != string(replan.KindPlanGeneration) {
		t.Fatalf("unexpected failure record %#v err=%v", rec, err)
	}
}

func TestRecorderSkipsCancelledRequests(t *testing.T) {
	store := NewMemoryStore()
	cancelled := answererFunc(func(ctx context.Context, q string) (*replan.Result, error) {
		return nil, &replan.Error{Kind: replan.KindCancelled}
	})
	if _, err := NewRecorder(cancelled, store).Answer(context.Background(), "Where?"); !errors.Is(err, replan.ErrCancelled) {
		t.Fatalf("expected cancellation to pass through, got %v", err)
	}
	if list, _ := store.List(context.Background(), 0); len(list) != 0 {
		t.Fatalf("expected no records, got %d", len(list))
	}
}

func TestRecorderIgnoresStoreFailures(t *testing.T) {
	ok := answererFunc(func(ctx context.Context, q string) (*replan.Result, error) {
		return &replan.Result{RequestID: "r1", Response: "Prague."}, nil
	})
	res, err := NewRecorder(ok, &failingStore{NewMemoryStore()}).Answer(context.Background(), "Where?")
	if err != nil || res.Response != "Prague." {
		t.Fatalf("store failure must not change the outcome: %v", err)
	}
}

func TestMemoryStoreListsNewestFirst(t *testing.T) {
	store := NewMemoryStore()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"old", "mid", "new"} {
		if err := store.Save(context.Background(), &Record{ID: id, CreatedAt: base.Add(time.Duration(i) * time.Hour)}); err != nil {
			t.Fatalf("Save error: %v", err)
		}
	}
	list, _ := store.List(context.Background(), 2)
	if len(list) != 2 || list[0].ID != "new" || list[1].ID != "mid" {
		t.Fatalf("unexpected order %v", list)
	}
	if err := store.Save(context.Background(), nil); err == nil {
		t.Fatalf("expected error for nil record")
	}
	generated := &Record{Question: "q"}
	_ = store.Save(context.Background(), generated)
	if generated.ID == "" || generated.CreatedAt.IsZero() {
		t.Fatalf("expected id and timestamp to be filled in")
	}
}
