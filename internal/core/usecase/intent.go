package usecase

import (
	"strings"
	"unicode"

	"github.com/oryntel/docindex/internal/core/domain"
)

// Quoted phrases and very short queries behave like lookups: the user knows
// the words they want matched, so keyword relevance should dominate.
const keywordTokenThreshold = 3

// ClassifyIntent applies the keyword-vs-semantic heuristic used to pick
// default ranking tunables. Callers can always override the result.
func ClassifyIntent(query string) domain.QueryIntent {
	trimmed := strings.TrimSpace(query)
	if strings.Count(trimmed, `"`) >= 2 {
		return domain.IntentKeyword
	}
	if countTokens(trimmed) <= keywordTokenThreshold {
		return domain.IntentKeyword
	}
	return domain.IntentSemantic
}

func countTokens(s string) int {
	return len(strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	}))
}
