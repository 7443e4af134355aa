package domain

import (
	"strings"
	"testing"
)

func TestWithDerivedTextFillsBlurbAndSummary(t *testing.T) {
	content := strings.Repeat("alpha beta gamma delta ", 40)
	chunk := Chunk{DocumentID: "doc-1", Content: content}

	enriched := chunk.WithDerivedText()
	if enriched.Blurb == "" || enriched.ContentSummary == "" {
		t.Fatalf("expected derived blurb and summary, got %+v", enriched)
	}
	if len([]rune(enriched.Blurb)) > blurbMaxRunes {
		t.Errorf("blurb exceeds %d runes", blurbMaxRunes)
	}
	if strings.HasSuffix(enriched.Blurb, " ") {
		t.Errorf("blurb has trailing space: %q", enriched.Blurb)
	}
	// A cut inside a word backs up to the previous boundary.
	last := enriched.Blurb[strings.LastIndex(enriched.Blurb, " ")+1:]
	if last != "alpha" && last != "beta" && last != "gamma" && last != "delta" {
		t.Errorf("blurb ends mid-word: %q", last)
	}
}

func TestWithDerivedTextKeepsExplicitValues(t *testing.T) {
	chunk := Chunk{Content: "long content here", Blurb: "given blurb", ContentSummary: "given summary"}

	enriched := chunk.WithDerivedText()
	if enriched.Blurb != "given blurb" || enriched.ContentSummary != "given summary" {
		t.Fatalf("explicit values must be preserved, got %+v", enriched)
	}
}

func TestTruncateOnWordCountsRunesNotBytes(t *testing.T) {
	// One space early in the window, then multi-byte runes with no further
	// breaks. In rune terms the space sits in the first half, so the cut
	// must stay at the full window instead of backing up to it.
	content := strings.Repeat("ー", 40) + " " + strings.Repeat("ー", 200)
	chunk := Chunk{Content: content}

	enriched := chunk.WithDerivedText()
	if got := len([]rune(enriched.Blurb)); got != blurbMaxRunes {
		t.Fatalf("blurb rune length = %d, want %d", got, blurbMaxRunes)
	}
}

func TestWithDerivedTextShortContentUnchanged(t *testing.T) {
	chunk := Chunk{Content: "short"}

	enriched := chunk.WithDerivedText()
	if enriched.Blurb != "short" || enriched.ContentSummary != "short" {
		t.Fatalf("short content should pass through, got %+v", enriched)
	}
}
