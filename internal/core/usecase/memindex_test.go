package usecase

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/oryntel/docindex/internal/core/domain"
	"github.com/oryntel/docindex/internal/core/ports"
	"github.com/oryntel/docindex/internal/core/scoring"
)

// memIndex is a scoring-faithful in-memory DocumentIndex used to exercise the
// coordinator and orchestrator against the canonical ranking formula.
type memIndex struct {
	mu     sync.Mutex
	params ports.SchemaParams
	ready  bool
	chunks map[string]domain.Chunk
}

func newMemIndex() *memIndex {
	return &memIndex{chunks: make(map[string]domain.Chunk)}
}

func (m *memIndex) EnsureSchema(_ context.Context, params ports.SchemaParams) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ready && m.params.Dimensions != params.Dimensions {
		return domain.WrapError(domain.ErrSchema, "ensure schema",
			fmt.Errorf("existing dimensions %d, requested %d", m.params.Dimensions, params.Dimensions))
	}
	m.params = params
	m.ready = true
	return nil
}

func (m *memIndex) IndexBatch(_ context.Context, chunks []domain.Chunk) (domain.IndexReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var report domain.IndexReport
	for _, chunk := range chunks {
		if err := chunk.Validate(m.params.Dimensions, m.params.MultiTenant); err != nil {
			report.AddFailure(chunk.Ref(), err)
			continue
		}
		m.chunks[chunk.UUID()] = chunk
		report.AddSuccess(chunk.Ref())
	}
	return report, nil
}

func (m *memIndex) HybridRetrieve(_ context.Context, query ports.HybridQuery) ([]domain.RankedResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !query.Filters.KG.Empty() && !m.params.KnowledgeGraph {
		return nil, domain.WrapError(domain.ErrCapabilityUnsupported, "hybrid retrieve",
			fmt.Errorf("knowledge graph predicates on a schema without kg support"))
	}

	var candidates []domain.Chunk
	for _, chunk := range m.chunks {
		if matchesFilters(chunk, query.Filters) {
			candidates = append(candidates, chunk)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	queryTokens := tokenSet(query.Query)
	signals := make([]scoring.Signals, len(candidates))
	for i, chunk := range candidates {
		signals[i] = scoring.Signals{
			TitleVector:    cosine(query.Embedding, chunk.TitleEmbedding),
			ContentVector:  cosine(query.Embedding, chunk.Embedding),
			TitleKeyword:   overlap(queryTokens, tokenSet(chunk.Title)),
			ContentKeyword: overlap(queryTokens, tokenSet(chunk.Content)),
		}
	}

	hybrid := scoring.HybridScores(signals, query.Tunables.Alpha, query.Tunables.TitleContentRatio)
	now := time.Now()
	results := make([]domain.RankedResult, len(candidates))
	for i, chunk := range candidates {
		age := scoring.AgeInDays(chunk.DocUpdatedAt, now)
		results[i] = domain.RankedResult{
			Chunk: chunk,
			Score: scoring.FinalScore(hybrid[i], chunk.Boost, query.Tunables.RecencyDecayFactor, age),
		}
	}
	return scoring.SortAndRank(results, query.Limit), nil
}

func (m *memIndex) RetrieveByID(_ context.Context, documentID string, filters domain.IndexFilters) ([]domain.Chunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.Chunk
	for _, chunk := range m.chunks {
		if chunk.DocumentID == documentID && matchesFilters(chunk, filters) {
			out = append(out, chunk)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChunkID < out[j].ChunkID })
	return out, nil
}

func matchesFilters(chunk domain.Chunk, filters domain.IndexFilters) bool {
	if filters.TenantID != "" && chunk.TenantID != filters.TenantID {
		return false
	}
	if chunk.Hidden && !filters.IncludeHidden {
		return false
	}
	if len(filters.SourceTypes) > 0 && !containsSource(filters.SourceTypes, chunk.SourceType) {
		return false
	}
	if filters.UpdatedAtCutoff != nil && chunk.DocUpdatedAt.Before(*filters.UpdatedAtCutoff) {
		return false
	}
	if len(filters.DocumentSets) > 0 && !intersects(filters.DocumentSets, chunk.DocumentSets) {
		return false
	}
	if len(filters.ACLPrincipals) > 0 {
		values := make([]string, 0, len(chunk.ACL))
		for _, e := range chunk.ACL {
			values = append(values, e.Value)
		}
		if !intersects(filters.ACLPrincipals, values) {
			return false
		}
	}
	if len(filters.KG.Entities) > 0 && !intersects(filters.KG.Entities, chunk.KGEntities) {
		return false
	}
	if len(filters.KG.Terms) > 0 && !intersects(filters.KG.Terms, chunk.KGTerms) {
		return false
	}
	if len(filters.KG.Relationships) > 0 {
		flattened := make([]string, 0, len(chunk.KGRelationships))
		for _, rel := range chunk.KGRelationships {
			flattened = append(flattened, rel.Flatten())
		}
		wanted := make([]string, 0, len(filters.KG.Relationships))
		for _, rel := range filters.KG.Relationships {
			wanted = append(wanted, rel.Flatten())
		}
		if !intersects(wanted, flattened) {
			return false
		}
	}
	return true
}

func containsSource(haystack []domain.SourceType, needle domain.SourceType) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

func intersects(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}

func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func tokenSet(s string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, token := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	}) {
		out[token] = struct{}{}
	}
	return out
}

func overlap(query, doc map[string]struct{}) float64 {
	if len(query) == 0 || len(doc) == 0 {
		return 0
	}
	matches := 0
	for token := range query {
		if _, ok := doc[token]; ok {
			matches++
		}
	}
	return float64(matches) / float64(len(query))
}
