package knowledge

import (
	"context"
	"errors"
	"testing"

	"github.com/sweetpotato0/bookqa/contrib/vector/inmemory"
	"github.com/sweetpotato0/bookqa/vector"
)

type failingStore struct {
	vector.VectorStore
}

func (failingStore) Search(ctx context.Context, q []float32, topK int) ([]*vector.Embedding, error) {
	return nil, errors.New("connection refused")
}

func TestCatalogSearchKeepsCollectionsIndependent(t *testing.T) {
	ctx := context.Background()
	chunks := inmemory.New()
	quotes := inmemory.New()
	_ = chunks.AddEmbedding(ctx, &vector.Embedding{
		ID: "c1", Text: "The story is set in Prague.", Vector: []float32{1, 0},
		Metadata: map[string]any{"content_hash": "abc"},
	})
	_ = quotes.AddEmbedding(ctx, &vector.Embedding{ID: "q1", Text: "\"Go home.\"", Vector: []float32{1, 0}})

	cat := NewCatalog()
	cat.Register(Structured, chunks)
	cat.Register(Quotation, quotes)

	hits, err := cat.Search(ctx, Structured, []float32{1, 0}, 5)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 1 || hits[0].ID != "c1" {
		t.Fatalf("unexpected hits %#v", hits)
	}
	if hits[0].Provenance["collection"] != "structured" || hits[0].Provenance["content_hash"] != "abc" {
		t.Fatalf("provenance not populated: %#v", hits[0].Provenance)
	}

	got := cat.Collections()
	if len(got) != 2 || got[0] != Quotation || got[1] != Structured {
		t.Fatalf("unexpected collections %v", got)
	}
}

func TestCatalogSearchNoMatchIsEmpty(t *testing.T) {
	cat := NewCatalog()
	cat.Register(Quotation, inmemory.New())
	hits, err := cat.Search(context.Background(), Quotation, []float32{1}, 3)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if hits == nil || len(hits) != 0 {
		t.Fatalf("expected empty non-nil result, got %#v", hits)
	}
}

func TestCatalogSearchErrors(t *testing.T) {
	cat := NewCatalog()
	if _, err := cat.Search(context.Background(), Structured, []float32{1}, 3); err == nil {
		t.Fatal("expected unknown collection error")
	}
	cat.Register(Structured, failingStore{})
	if _, err := cat.Search(context.Background(), Structured, []float32{1}, 3); err == nil {
		t.Fatal("expected backend error")
	}
}
