// Package scoring is the canonical hybrid ranking law every backend adapter
// reproduces or approximates. Pure functions, no I/O.
package scoring

import (
	"math"
	"sort"
	"time"

	"github.com/oryntel/docindex/internal/core/domain"
)

// Signals are the raw per-candidate relevance signals before normalization.
type Signals struct {
	TitleVector    float64
	ContentVector  float64
	TitleKeyword   float64
	ContentKeyword float64
}

// HybridScores combines the four signal columns into one hybrid score per
// candidate. Each column is min-max normalized across this candidate set only;
// scores from unrelated queries are never comparable.
func HybridScores(signals []Signals, alpha, titleContentRatio float64) []float64 {
	if len(signals) == 0 {
		return nil
	}

	titleVec := normalizeColumn(signals, func(s Signals) float64 { return s.TitleVector })
	contentVec := normalizeColumn(signals, func(s Signals) float64 { return s.ContentVector })
	titleKw := normalizeColumn(signals, func(s Signals) float64 { return s.TitleKeyword })
	contentKw := normalizeColumn(signals, func(s Signals) float64 { return s.ContentKeyword })

	out := make([]float64, len(signals))
	for i := range signals {
		vector := titleContentRatio*titleVec[i] + (1-titleContentRatio)*contentVec[i]
		keyword := titleContentRatio*titleKw[i] + (1-titleContentRatio)*contentKw[i]
		out[i] = alpha*vector + (1-alpha)*keyword
	}
	return out
}

func normalizeColumn(signals []Signals, pick func(Signals) float64) []float64 {
	minV := pick(signals[0])
	maxV := minV
	for _, s := range signals[1:] {
		v := pick(s)
		if v < minV {
			minV = v
		}
		if v > maxV {
			maxV = v
		}
	}

	out := make([]float64, len(signals))
	span := maxV - minV
	for i, s := range signals {
		v := pick(s)
		if span <= 0 {
			if v > 0 {
				out[i] = 1
			}
			continue
		}
		out[i] = (v - minV) / span
	}
	return out
}

// RecencyBias decays a score by document age: exp(-decay * age_in_days),
// with age clamped at zero for future-dated documents.
func RecencyBias(decayFactor, ageInDays float64) float64 {
	if ageInDays < 0 {
		ageInDays = 0
	}
	return math.Exp(-decayFactor * ageInDays)
}

// Documents without an update timestamp are treated as three months old so
// they neither dominate nor vanish from recency-weighted results.
const defaultAgeDays = 90

// AgeInDays reports the document age used for recency decay.
func AgeInDays(docUpdatedAt time.Time, now time.Time) float64 {
	if docUpdatedAt.IsZero() {
		return defaultAgeDays
	}
	age := now.Sub(docUpdatedAt).Hours() / 24
	if age < 0 {
		return 0
	}
	return age
}

// BoostFactor maps the manual relevance boost onto a bounded multiplier with
// a sigmoid, so runaway feedback values cannot dominate relevance.
func BoostFactor(boost float64) float64 {
	if boost < 0 {
		return 0.5 + 1.0/(1.0+math.Exp(-boost/3.0))
	}
	return 2.0 / (1.0 + math.Exp(-boost/3.0))
}

// FinalScore applies the boost and recency multipliers to a hybrid score.
func FinalScore(hybrid, boost, decayFactor, ageInDays float64) float64 {
	return hybrid * BoostFactor(boost) * RecencyBias(decayFactor, ageInDays)
}

// SortAndRank orders results by descending score with deterministic
// tie-breaking on (chunk_id, document_id), assigns 1-based ranks and trims to
// limit. All adapters return results through this path.
func SortAndRank(results []domain.RankedResult, limit int) []domain.RankedResult {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if results[i].Chunk.ChunkID != results[j].Chunk.ChunkID {
			return results[i].Chunk.ChunkID < results[j].Chunk.ChunkID
		}
		return results[i].Chunk.DocumentID < results[j].Chunk.DocumentID
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	for i := range results {
		results[i].Rank = i + 1
	}
	return results
}

// Page slices an already ranked result list for pagination, keeping the
// global 1-based ranks assigned by SortAndRank.
func Page(results []domain.RankedResult, offset, limit int) []domain.RankedResult {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(results) {
		return nil
	}
	results = results[offset:]
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}
