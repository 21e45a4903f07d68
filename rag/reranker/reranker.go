package reranker

import (
	"context"
	"sort"

	"github.com/sweetpotato0/bookqa/knowledge"
	"github.com/sweetpotato0/bookqa/vector"
)

// Reranker reorders retrieved hits, optionally refining their scores.
type Reranker interface {
	Rank(ctx context.Context, queryVector []float32, hits []knowledge.Hit) ([]knowledge.Hit, error)
}

// CosineReranker sorts hits by cosine similarity with the query vector.
type CosineReranker struct{}

// NewCosineReranker creates a reranker based on cosine similarity.
func NewCosineReranker() *CosineReranker {
	return &CosineReranker{}
}

// Rank implements the Reranker interface. Hits without a comparable vector
// keep their store score.
func (c *CosineReranker) Rank(ctx context.Context, queryVector []float32, hits []knowledge.Hit) ([]knowledge.Hit, error) {
	out := make([]knowledge.Hit, len(hits))
	copy(out, hits)
	for i := range out {
		if len(out[i].Vector) > 0 && len(queryVector) == len(out[i].Vector) {
			out[i].Score = vector.CosineSimilarity(queryVector, out[i].Vector)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	return out, nil
}

type queryKey struct{}

// ContextWithQuery attaches the query text for rerankers that score text
// rather than vectors.
func ContextWithQuery(ctx context.Context, query string) context.Context {
	return context.WithValue(ctx, queryKey{}, query)
}

// QueryFromContext returns the query text attached by ContextWithQuery.
func QueryFromContext(ctx context.Context) (string, bool) {
	q, ok := ctx.Value(queryKey{}).(string)
	return q, ok
}
