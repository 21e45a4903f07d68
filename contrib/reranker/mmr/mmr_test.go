package mmr

import (
	"context"
	"testing"

	"github.com/sweetpotato0/bookqa/knowledge"
)

func TestMMRRanksWithoutDuplicates(t *testing.T) {
	r := New()
	query := []float32{1, 0}
	hits := []knowledge.Hit{
		{ID: "c1", Vector: []float32{1, 0}, Score: 0.9},
		{ID: "c2", Vector: []float32{0.9, 0.1}, Score: 0.85},
		{ID: "c3", Vector: []float32{0, 1}, Score: 0.4},
	}
	results, err := r.Rank(context.Background(), query, hits)
	if err != nil {
		t.Fatalf("rank error: %v", err)
	}
	if len(results) != len(hits) {
		t.Fatalf("expected %d results, got %d", len(hits), len(results))
	}
	if results[0].ID != "c1" {
		t.Fatalf("expected most relevant hit first, got %s", results[0].ID)
	}
	if results[2].ID != "c3" {
		t.Fatalf("expected diverse hit last, got %s", results[2].ID)
	}
}

func TestMMRPrefersDiversityWithLowLambda(t *testing.T) {
	r := &Reranker{Lambda: 0.3}
	hits := []knowledge.Hit{
		{ID: "a", Vector: []float32{1, 0}},
		{ID: "a-dup", Vector: []float32{1, 0}},
		{ID: "b", Vector: []float32{0.6, 0.8}},
	}
	results, err := r.Rank(context.Background(), []float32{1, 0}, hits)
	if err != nil {
		t.Fatalf("rank error: %v", err)
	}
	if results[1].ID != "b" {
		t.Fatalf("expected diverse hit second, got %s", results[1].ID)
	}
}

func TestMMRLimit(t *testing.T) {
	r := &Reranker{Lambda: 0.7, Limit: 1}
	results, _ := r.Rank(context.Background(), []float32{1, 0}, []knowledge.Hit{
		{ID: "a", Vector: []float32{1, 0}},
		{ID: "b", Vector: []float32{0, 1}},
	})
	if len(results) != 1 || results[0].ID != "a" {
		t.Fatalf("unexpected results %#v", results)
	}
}
