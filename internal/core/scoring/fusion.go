package scoring

import (
	"github.com/oryntel/docindex/internal/core/domain"
)

// FuseRRF merges independently ranked retriever outputs by reciprocal rank:
// fused(doc) = sum over retrievers of 1/(rankConstant + rank). Only the top
// windowSize positions of each list participate. Raw scores are discarded;
// this is the accepted approximation for backends that cannot fuse by score.
func FuseRRF(lists [][]domain.RankedResult, rankConstant, windowSize int) []domain.RankedResult {
	if rankConstant <= 0 {
		rankConstant = domain.DefaultSemanticRankConstant
	}
	if windowSize <= 0 {
		windowSize = domain.DefaultRankWindowSize
	}

	type fused struct {
		chunk domain.Chunk
		score float64
	}
	acc := make(map[domain.ChunkRef]fused)

	for _, list := range lists {
		for rank, result := range list {
			if rank >= windowSize {
				break
			}
			ref := result.Chunk.Ref()
			candidate := acc[ref]
			candidate.chunk = preferRicher(candidate.chunk, result.Chunk)
			candidate.score += 1.0 / float64(rankConstant+rank+1)
			acc[ref] = candidate
		}
	}

	out := make([]domain.RankedResult, 0, len(acc))
	for _, c := range acc {
		out = append(out, domain.RankedResult{Chunk: c.chunk, Score: c.score})
	}
	return SortAndRank(out, 0)
}

// preferRicher keeps the more complete chunk payload when the same chunk
// arrives from multiple retrievers with different hydration levels.
func preferRicher(current, candidate domain.Chunk) domain.Chunk {
	if current.DocumentID == "" {
		return candidate
	}
	if current.Content == "" && candidate.Content != "" {
		current.Content = candidate.Content
	}
	if current.Title == "" && candidate.Title != "" {
		current.Title = candidate.Title
	}
	if len(current.Embedding) == 0 && len(candidate.Embedding) != 0 {
		current.Embedding = candidate.Embedding
	}
	return current
}
