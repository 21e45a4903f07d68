// Package knowledge exposes the document corpus as independent, named
// collections that can be searched by query vector.
package knowledge

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/sweetpotato0/bookqa/vector"
)

// Collection names one independently indexed slice of the corpus.
type Collection string

const (
	// Structured holds overlapping passages of the source text.
	Structured Collection = "structured"
	// Quotation holds verbatim quoted spans extracted from the source text.
	Quotation Collection = "quotation"
)

// Hit is one search result.
type Hit struct {
	ID         string
	Text       string
	Score      float32
	Vector     []float32
	Provenance map[string]any
}

// Store is the read side of the knowledge store.
type Store interface {
	Search(ctx context.Context, collection Collection, queryVector []float32, topK int) ([]Hit, error)
}

// Catalog maps collections to vector stores.
type Catalog struct {
	mu     sync.RWMutex
	stores map[Collection]vector.VectorStore
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{stores: make(map[Collection]vector.VectorStore)}
}

// Register binds a collection to a store, replacing any previous binding.
func (c *Catalog) Register(collection Collection, store vector.VectorStore) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stores[collection] = store
}

// Collection returns the store bound to collection.
func (c *Catalog) Collection(collection Collection) (vector.VectorStore, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.stores[collection]
	return s, ok
}

// Collections lists registered collection names in sorted order.
func (c *Catalog) Collections() []Collection {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Collection, 0, len(c.stores))
	for name := range c.stores {
		out = append(out, name)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Search implements Store. An unknown collection is an error; no match is an
// empty, non-nil slice.
func (c *Catalog) Search(ctx context.Context, collection Collection, queryVector []float32, topK int) ([]Hit, error) {
	store, ok := c.Collection(collection)
	if !ok {
		return nil, fmt.Errorf("knowledge: unknown collection %q", collection)
	}
	embeddings, err := store.Search(ctx, queryVector, topK)
	if err != nil {
		return nil, fmt.Errorf("knowledge: search %s: %w", collection, err)
	}

	hits := make([]Hit, 0, len(embeddings))
	for _, emb := range embeddings {
		if emb == nil {
			continue
		}
		prov := make(map[string]any, len(emb.Metadata)+2)
		for k, v := range emb.Metadata {
			prov[k] = v
		}
		prov["id"] = emb.ID
		prov["collection"] = string(collection)
		hits = append(hits, Hit{
			ID:         emb.ID,
			Text:       emb.Text,
			Score:      emb.Score,
			Vector:     emb.Vector,
			Provenance: prov,
		})
	}
	return hits, nil
}
