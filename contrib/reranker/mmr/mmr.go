package mmr

import (
	"context"
	"math"

	"github.com/sweetpotato0/bookqa/knowledge"
	"github.com/sweetpotato0/bookqa/rag/reranker"
	"github.com/sweetpotato0/bookqa/vector"
)

var _ reranker.Reranker = (*Reranker)(nil)

// Reranker implements Max Marginal Relevance to reduce redundancy among hits.
type Reranker struct {
	Lambda float32
	Limit  int
}

// New returns an MMR reranker with sensible defaults.
func New() *Reranker {
	return &Reranker{
		Lambda: 0.7,
		Limit:  0,
	}
}

// Rank implements reranker.Reranker. Returned hits carry their relevance
// score, not the penalised MMR score.
func (m *Reranker) Rank(ctx context.Context, queryVec []float32, hits []knowledge.Hit) ([]knowledge.Hit, error) {
	if len(hits) == 0 {
		return []knowledge.Hit{}, nil
	}
	remaining := make([]knowledge.Hit, len(hits))
	copy(remaining, hits)
	for i := range remaining {
		if len(queryVec) > 0 && len(remaining[i].Vector) == len(queryVec) {
			remaining[i].Score = vector.CosineSimilarity(queryVec, remaining[i].Vector)
		}
	}

	selected := make([]knowledge.Hit, 0, len(hits))
	for len(remaining) > 0 && (m.Limit <= 0 || len(selected) < m.Limit) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		bestIdx := -1
		bestScore := float32(math.Inf(-1))
		for idx, cand := range remaining {
			penalty := float32(0)
			for _, picked := range selected {
				if len(cand.Vector) == 0 || len(picked.Vector) != len(cand.Vector) {
					continue
				}
				penalty = max(penalty, vector.CosineSimilarity(cand.Vector, picked.Vector))
			}
			score := m.Lambda*cand.Score - (1-m.Lambda)*penalty
			if score > bestScore {
				bestScore = score
				bestIdx = idx
			}
		}
		if bestIdx == -1 {
			break
		}
		selected = append(selected, remaining[bestIdx])
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}

	return selected, nil
}
