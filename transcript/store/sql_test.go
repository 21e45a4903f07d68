package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sweetpotato0/bookqa/rag/replan"
	"github.com/sweetpotato0/bookqa/transcript"
)

func sampleRecord(id string, at time.Time) *transcript.Record {
	return &transcript.Record{
		ID:       id,
		Question: "What city is the story set in?",
		Response: "Prague.",
		Grounded: true,
		Status:   transcript.StatusDone,
		Steps: []replan.Step{
			{ID: 1, Text: "retrieve passages about setting", Status: replan.StepDone},
		},
		PastSteps: []replan.PastStep{
			{StepID: 1, Step: "retrieve passages about setting", Capability: replan.CapabilityStructured, Query: "setting", Fragments: 1},
		},
		Evidence: []replan.Fragment{
			{Capability: replan.CapabilityStructured, Text: "The story is set in Prague.", Score: 0.9, StepID: 1},
		},
		Phases:      []replan.Phase{replan.PhasePlanning, replan.PhaseDone},
		Evaluations: 1,
		CreatedAt:   at,
		Duration:    1500 * time.Millisecond,
	}
}

func exerciseStore(t *testing.T, store transcript.Store) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	for i, id := range []string{"a", "b", "c"} {
		if err := store.Save(ctx, sampleRecord(id, base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("Save %s error: %v", id, err)
		}
	}

	got, err := store.Get(ctx, "b")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if got.Response != "Prague." || !got.Grounded || got.PastSteps[0].Capability != replan.CapabilityStructured {
		t.Fatalf("record did not survive the round trip: %#v", got)
	}
	if got.Steps[0].Status != replan.StepDone || !got.CreatedAt.Equal(base.Add(time.Minute)) {
		t.Fatalf("unexpected step or timestamp: %#v", got)
	}

	list, err := store.List(ctx, 2)
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(list) != 2 || list[0].ID != "c" || list[1].ID != "b" {
		t.Fatalf("expected newest two records, got %v", ids(list))
	}

	updated := sampleRecord("a", base)
	updated.Status = transcript.StatusFailed
	updated.ErrorKind = string(replan.KindPlanGeneration)
	if err := store.Save(ctx, updated); err != nil {
		t.Fatalf("Save update error: %v", err)
	}
	got, _ = store.Get(ctx, "a")
	if got.Status != transcript.StatusFailed {
		t.Fatalf("expected upsert, got %#v", got)
	}

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, transcript.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func ids(recs []*transcript.Record) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.ID
	}
	return out
}

func TestSQLiteStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transcripts.db")
	store, err := NewSQLiteStore(context.Background(), path, "")
	if err != nil {
		t.Fatalf("NewSQLiteStore error: %v", err)
	}
	defer store.Close()

	exerciseStore(t, store)

	count, err := store.Count(context.Background())
	if err != nil || count != 3 {
		t.Fatalf("expected 3 transcripts, got %d (%v)", count, err)
	}
}

func TestSQLStoreRejectsBadTableName(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.db")
	if _, err := NewSQLiteStore(context.Background(), path, "drop table;"); err == nil {
		t.Fatalf("expected invalid table name error")
	}
}

// TestPostgresStore requires a running PostgreSQL server.
// Set BOOKQA_POSTGRES_DSN to run it.
func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("BOOKQA_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("BOOKQA_POSTGRES_DSN not set, skipping PostgreSQL store tests")
	}
	ctx := context.Background()
	store, err := NewPostgresStore(ctx, &PostgresConfig{DSN: dsn, Table: "transcripts_test"})
	if err != nil {
		t.Skipf("Failed to connect to PostgreSQL: %v", err)
	}
	defer store.Close()
	if _, err := store.db.ExecContext(ctx, "DELETE FROM transcripts_test"); err != nil {
		t.Fatalf("cleanup failed: %v", err)
	}
	exerciseStore(t, store)
}

// TestMongoStore requires a running MongoDB server.
// Set BOOKQA_MONGO_URI to run it.
func TestMongoStore(t *testing.T) {
	uri := os.Getenv("BOOKQA_MONGO_URI")
	if uri == "" {
		t.Skip("BOOKQA_MONGO_URI not set, skipping MongoDB store tests")
	}
	ctx := context.Background()
	store, err := NewMongoStore(ctx, &MongoConfig{URI: uri, Database: "bookqa_test", Collection: "transcripts_test"})
	if err != nil {
		t.Skipf("Failed to connect to MongoDB: %v", err)
	}
	defer store.Close(ctx)
	if err := store.Clear(ctx); err != nil {
		t.Fatalf("Clear error: %v", err)
	}
	exerciseStore(t, store)
}

// TestRedisStore requires a running Redis server.
// Set BOOKQA_REDIS_ADDR to run it.
func TestRedisStore(t *testing.T) {
	addr := os.Getenv("BOOKQA_REDIS_ADDR")
	if addr == "" {
		t.Skip("BOOKQA_REDIS_ADDR not set, skipping Redis store tests")
	}
	store := NewRedisStore(&RedisConfig{Addr: addr, Prefix: "bookqa:test:" + time.Now().Format("150405.000") + ":"})
	defer store.Close()
	if err := store.Ping(context.Background()); err != nil {
		t.Skipf("Failed to connect to Redis: %v", err)
	}
	exerciseStore(t, store)
}
