package domain

import "fmt"

// QueryIntent is the coarse classification used to pick default tunables.
type QueryIntent string

const (
	IntentKeyword  QueryIntent = "keyword"
	IntentSemantic QueryIntent = "semantic"
)

// RankingTunables are constructed per query and never persisted. Alpha weighs
// vector similarity against keyword relevance; TitleContentRatio splits both
// signals between title and body fields. RankConstant and RankWindowSize only
// apply to the rank-fusion backend family.
type RankingTunables struct {
	Alpha              float64 `json:"alpha"`
	TitleContentRatio  float64 `json:"title_content_ratio"`
	RecencyDecayFactor float64 `json:"recency_decay_factor"`
	RerankDepth        int     `json:"rerank_depth"`
	RankConstant       int     `json:"rank_constant,omitempty"`
	RankWindowSize     int     `json:"rank_window_size,omitempty"`
}

const (
	DefaultSemanticAlpha     = 0.5
	DefaultKeywordAlpha      = 0.2
	DefaultTitleContentRatio = 0.3
	DefaultRecencyDecay      = 0.005
	DefaultRerankDepth       = 50

	// RRF constants: lower for keyword intent to keep rank separation,
	// higher for semantic intent for smoother fusion.
	DefaultKeywordRankConstant  = 20
	DefaultSemanticRankConstant = 60
	DefaultRankWindowSize       = 100
)

// DefaultTunables returns the per-intent defaults the orchestrator starts from.
func DefaultTunables(intent QueryIntent) RankingTunables {
	t := RankingTunables{
		Alpha:              DefaultSemanticAlpha,
		TitleContentRatio:  DefaultTitleContentRatio,
		RecencyDecayFactor: DefaultRecencyDecay,
		RerankDepth:        DefaultRerankDepth,
		RankConstant:       DefaultSemanticRankConstant,
		RankWindowSize:     DefaultRankWindowSize,
	}
	if intent == IntentKeyword {
		t.Alpha = DefaultKeywordAlpha
		t.RankConstant = DefaultKeywordRankConstant
	}
	return t
}

// Validate bounds-checks the tunables before they reach an adapter.
func (t RankingTunables) Validate() error {
	if t.Alpha < 0 || t.Alpha > 1 {
		return WrapError(ErrValidation, "validate tunables", fmt.Errorf("alpha %v outside [0,1]", t.Alpha))
	}
	if t.TitleContentRatio < 0 || t.TitleContentRatio > 1 {
		return WrapError(ErrValidation, "validate tunables",
			fmt.Errorf("title content ratio %v outside [0,1]", t.TitleContentRatio))
	}
	if t.RecencyDecayFactor < 0 {
		return WrapError(ErrValidation, "validate tunables",
			fmt.Errorf("negative recency decay %v", t.RecencyDecayFactor))
	}
	if t.RerankDepth <= 0 {
		return WrapError(ErrValidation, "validate tunables", fmt.Errorf("rerank depth %d", t.RerankDepth))
	}
	return nil
}
