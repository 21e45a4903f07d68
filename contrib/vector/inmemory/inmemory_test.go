package inmemory

import (
	"context"
	"errors"
	"testing"

	"github.com/sweetpotato0/bookqa/vector"
)

func TestStore(t *testing.T) {
	ctx := context.Background()
	store := New()

	t.Run("add and get embedding", func(t *testing.T) {
		emb := &vector.Embedding{ID: "emb1", Text: "hello", Vector: []float32{1, 0, 0}}
		if err := store.AddEmbedding(ctx, emb); err != nil {
			t.Fatalf("AddEmbedding failed: %v", err)
		}

		retrieved, err := store.GetEmbedding(ctx, "emb1")
		if err != nil {
			t.Fatalf("GetEmbedding failed: %v", err)
		}
		if retrieved.Text != emb.Text {
			t.Fatalf("Expected text %q, got %q", emb.Text, retrieved.Text)
		}
	})

	t.Run("rejects invalid embeddings", func(t *testing.T) {
		if err := store.AddEmbedding(ctx, nil); err == nil {
			t.Fatal("expected error for nil embedding")
		}
		if err := store.AddEmbedding(ctx, &vector.Embedding{Vector: []float32{1}}); err == nil {
			t.Fatal("expected error for empty id")
		}
		if err := store.AddEmbedding(ctx, &vector.Embedding{ID: "x"}); err == nil {
			t.Fatal("expected error for empty vector")
		}
	})

	t.Run("search embeddings", func(t *testing.T) {
		_ = store.Clear(ctx)
		for _, emb := range []*vector.Embedding{
			{ID: "emb1", Text: "apple", Vector: []float32{1, 0, 0}},
			{ID: "emb2", Text: "banana", Vector: []float32{0, 1, 0}},
			{ID: "emb3", Text: "orange", Vector: []float32{0.9, 0.1, 0}},
		} {
			if err := store.AddEmbedding(ctx, emb); err != nil {
				t.Fatalf("AddEmbedding failed: %v", err)
			}
		}

		results, err := store.Search(ctx, []float32{1, 0, 0}, 2)
		if err != nil {
			t.Fatalf("Search failed: %v", err)
		}
		if len(results) != 2 {
			t.Fatalf("Expected 2 results, got %d", len(results))
		}
		if results[0].ID != "emb1" || results[1].ID != "emb3" {
			t.Fatalf("unexpected order: %s, %s", results[0].ID, results[1].ID)
		}
		if results[0].Score < results[1].Score {
			t.Fatal("results must be ordered by descending score")
		}
	})

	t.Run("search results are copies", func(t *testing.T) {
		results, err := store.Search(ctx, []float32{1, 0, 0}, 1)
		if err != nil {
			t.Fatalf("Search failed: %v", err)
		}
		results[0].Text = "mutated"
		again, _ := store.GetEmbedding(ctx, results[0].ID)
		if again.Text == "mutated" {
			t.Fatal("search result aliases stored embedding")
		}
	})

	t.Run("empty store yields empty result", func(t *testing.T) {
		empty := New()
		results, err := empty.Search(ctx, []float32{1, 0, 0}, 5)
		if err != nil {
			t.Fatalf("Search failed: %v", err)
		}
		if len(results) != 0 {
			t.Fatalf("expected no results, got %d", len(results))
		}
	})

	t.Run("delete and not found", func(t *testing.T) {
		if err := store.DeleteEmbedding(ctx, "emb2"); err != nil {
			t.Fatalf("DeleteEmbedding failed: %v", err)
		}
		if _, err := store.GetEmbedding(ctx, "emb2"); !errors.Is(err, vector.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		if err := store.DeleteEmbedding(ctx, "emb2"); !errors.Is(err, vector.ErrNotFound) {
			t.Fatalf("expected ErrNotFound on second delete, got %v", err)
		}
		count, _ := store.Count(ctx)
		if count != 2 {
			t.Fatalf("expected 2 embeddings, got %d", count)
		}
	})
}
