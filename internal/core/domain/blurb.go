package domain

import (
	"strings"
	"unicode"
)

const (
	blurbMaxRunes   = 160
	summaryMaxRunes = 512
)

// WithDerivedText fills Blurb and ContentSummary from the chunk content when
// the ingestion pipeline did not provide them. Explicit values are kept.
func (c Chunk) WithDerivedText() Chunk {
	if strings.TrimSpace(c.Blurb) == "" {
		c.Blurb = truncateOnWord(c.Content, blurbMaxRunes)
	}
	if strings.TrimSpace(c.ContentSummary) == "" {
		c.ContentSummary = truncateOnWord(c.Content, summaryMaxRunes)
	}
	return c
}

// truncateOnWord cuts at a rune boundary and backs up to the last word break
// when one exists in the second half of the window. Positions are counted in
// runes throughout; byte offsets would misplace the midpoint for multi-byte
// text.
func truncateOnWord(text string, maxRunes int) string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) <= maxRunes {
		return string(runes)
	}
	cutAt := maxRunes
	for i := maxRunes - 1; i > maxRunes/2; i-- {
		if unicode.IsSpace(runes[i]) {
			cutAt = i
			break
		}
	}
	return strings.TrimSpace(string(runes[:cutAt]))
}
