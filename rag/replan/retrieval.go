package replan

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sweetpotato0/bookqa/knowledge"
	"github.com/sweetpotato0/bookqa/pkg/logging"
	"github.com/sweetpotato0/bookqa/rag/reranker"
	"github.com/sweetpotato0/bookqa/vector"
)

// Retrieval fetches evidence for one retrieval capability.
type Retrieval interface {
	Retrieve(ctx context.Context, capability Capability, query string) ([]Fragment, error)
}

// RetrievalFunc adapts a function to Retrieval.
type RetrievalFunc func(ctx context.Context, capability Capability, query string) ([]Fragment, error)

// Retrieve implements Retrieval.
func (f RetrievalFunc) Retrieve(ctx context.Context, capability Capability, query string) ([]Fragment, error) {
	return f(ctx, capability, query)
}

// CollectionFor maps a retrieval capability to its knowledge collection.
func CollectionFor(c Capability) (knowledge.Collection, bool) {
	switch c {
	case CapabilityStructured:
		return knowledge.Structured, true
	case CapabilityQuotation:
		return knowledge.Quotation, true
	}
	return "", false
}

// StoreRetrieval embeds the query and searches the collection bound to the
// capability. With a reranker configured it over-fetches candidates and
// keeps the best TopK after reranking.
type StoreRetrieval struct {
	embedder  vector.Embedder
	store     knowledge.Store
	reranker  reranker.Reranker
	topK      int
	overfetch int
	minScore  float32
	logger    *slog.Logger
}

// RetrievalOption customises a StoreRetrieval.
type RetrievalOption func(*StoreRetrieval)

// WithRetrievalReranker reorders candidates before they are cut to TopK.
func WithRetrievalReranker(r reranker.Reranker) RetrievalOption {
	return func(s *StoreRetrieval) { s.reranker = r }
}

// WithRetrievalLogger sets the logger.
func WithRetrievalLogger(l *slog.Logger) RetrievalOption {
	return func(s *StoreRetrieval) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewStoreRetrieval builds a retrieval adapter over store.
func NewStoreRetrieval(embedder vector.Embedder, store knowledge.Store, topK, overfetch int, minScore float32, opts ...RetrievalOption) *StoreRetrieval {
	if topK <= 0 {
		topK = 5
	}
	if overfetch <= 0 {
		overfetch = 1
	}
	s := &StoreRetrieval{
		embedder:  embedder,
		store:     store,
		topK:      topK,
		overfetch: overfetch,
		minScore:  minScore,
		logger:    logging.WithComponent("replan.retrieval"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Retrieve implements Retrieval. An empty result is not an error.
func (s *StoreRetrieval) Retrieve(ctx context.Context, capability Capability, query string) ([]Fragment, error) {
	collection, ok := CollectionFor(capability)
	if !ok {
		return nil, errorf(KindInternal, "capability %s has no collection", capability)
	}
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, newError(KindEmbeddingUnavailable, fmt.Errorf("embed query: %w", err))
	}
	if len(vec) == 0 {
		return nil, errorf(KindEmbeddingUnavailable, "embedder returned an empty vector")
	}

	fetch := s.topK
	if s.reranker != nil {
		fetch = s.topK * s.overfetch
	}
	hits, err := s.store.Search(ctx, collection, vec, fetch)
	if err != nil {
		return nil, newError(KindRetrievalUnavailable, err)
	}

	if s.reranker != nil && len(hits) > 1 {
		ranked, err := s.reranker.Rank(reranker.ContextWithQuery(ctx, query), vec, hits)
		if err != nil {
			s.logger.Warn("rerank failed, keeping store order", "collection", collection, "error", err)
		} else {
			hits = ranked
		}
	}

	out := make([]Fragment, 0, min(len(hits), s.topK))
	for _, h := range hits {
		if h.Score < s.minScore {
			continue
		}
		out = append(out, Fragment{
			Capability: capability,
			Text:       h.Text,
			Score:      h.Score,
			Query:      query,
			Provenance: h.Provenance,
		})
		if len(out) == s.topK {
			break
		}
	}
	s.logger.Debug("retrieval completed", "collection", collection, "candidates", len(hits), "kept", len(out))
	return out, nil
}
