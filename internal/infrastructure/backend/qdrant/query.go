package qdrant

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/oryntel/docindex/internal/core/domain"
	"github.com/oryntel/docindex/internal/core/ports"
	"github.com/oryntel/docindex/internal/core/scoring"
)

type queryHit struct {
	ID      string         `json:"id"`
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload"`
	Vector  map[string]any `json:"vector"`
}

// HybridRetrieve issues one batched request carrying the dense content, dense
// title and sparse text sub-queries, then runs the normalization pipeline:
// min-max scale each sub-query's scores over the merged candidate set and
// combine with alpha before boost and recency multipliers.
func (x *Index) HybridRetrieve(ctx context.Context, query ports.HybridQuery) ([]domain.RankedResult, error) {
	params, err := x.schemaParams()
	if err != nil {
		return nil, err
	}
	if !query.Filters.KG.Empty() && !params.KnowledgeGraph {
		return nil, domain.WrapError(domain.ErrCapabilityUnsupported, "hybrid retrieve",
			fmt.Errorf("knowledge graph predicates require a kg-enabled collection"))
	}

	filter := buildFilter(query.Filters)
	poolSize := query.Tunables.RerankDepth
	if poolSize < query.Limit+query.Offset {
		poolSize = query.Limit + query.Offset
	}

	sub := func(using string, nearest any) map[string]any {
		q := map[string]any{
			"query":        map[string]any{"nearest": nearest},
			"using":        using,
			"limit":        poolSize,
			"with_payload": true,
		}
		if filter != nil {
			q["filter"] = filter
		}
		return q
	}

	body := map[string]any{
		"searches": []map[string]any{
			sub(contentVectorName, query.Embedding),
			sub(titleVectorName, query.Embedding),
			sub(sparseVectorName, encodeSparseQuery(query.Query)),
		},
	}

	var resp struct {
		Result []struct {
			Points []queryHit `json:"points"`
		} `json:"result"`
	}
	status, err := x.do(ctx, http.MethodPost,
		fmt.Sprintf("/collections/%s/points/query/batch", x.cfg.Collection), body, &resp)
	if err != nil {
		return nil, err
	}
	if status >= 300 {
		return nil, domain.WrapError(domain.ErrBackendUnavailable, "qdrant query",
			fmt.Errorf("status %d", status))
	}
	if len(resp.Result) != 3 {
		return nil, fmt.Errorf("qdrant query: expected 3 sub-query results, got %d", len(resp.Result))
	}

	return combinePipeline(resp.Result[0].Points, resp.Result[1].Points, resp.Result[2].Points, query), nil
}

// combinePipeline merges the three sub-query hit lists into final results via
// the canonical formula. The sparse signal stands in for both keyword columns,
// title weighting having been applied at encode time.
func combinePipeline(content, title, sparse []queryHit, query ports.HybridQuery) []domain.RankedResult {
	type candidate struct {
		chunk        domain.Chunk
		contentScore float64
		titleScore   float64
		sparseScore  float64
	}
	acc := make(map[string]*candidate)

	absorb := func(hits []queryHit, assign func(*candidate, float64)) {
		for _, hit := range hits {
			c, ok := acc[hit.ID]
			if !ok {
				c = &candidate{chunk: chunkFromPayload(hit.Payload, hit.Vector)}
				acc[hit.ID] = c
			}
			assign(c, hit.Score)
		}
	}
	absorb(content, func(c *candidate, s float64) { c.contentScore = s })
	absorb(title, func(c *candidate, s float64) { c.titleScore = s })
	absorb(sparse, func(c *candidate, s float64) { c.sparseScore = s })

	if len(acc) == 0 {
		return nil
	}

	candidates := make([]*candidate, 0, len(acc))
	signals := make([]scoring.Signals, 0, len(acc))
	for _, c := range acc {
		candidates = append(candidates, c)
		signals = append(signals, scoring.Signals{
			TitleVector:    c.titleScore,
			ContentVector:  c.contentScore,
			TitleKeyword:   c.sparseScore,
			ContentKeyword: c.sparseScore,
		})
	}

	hybrid := scoring.HybridScores(signals, query.Tunables.Alpha, query.Tunables.TitleContentRatio)
	now := time.Now()
	results := make([]domain.RankedResult, len(candidates))
	for i, c := range candidates {
		age := scoring.AgeInDays(c.chunk.DocUpdatedAt, now)
		results[i] = domain.RankedResult{
			Chunk: c.chunk,
			Score: scoring.FinalScore(hybrid[i], c.chunk.Boost, query.Tunables.RecencyDecayFactor, age),
		}
	}
	return scoring.Page(scoring.SortAndRank(results, 0), query.Offset, query.Limit)
}

func (x *Index) RetrieveByID(ctx context.Context, documentID string, filters domain.IndexFilters) ([]domain.Chunk, error) {
	params, err := x.schemaParams()
	if err != nil {
		return nil, err
	}
	if !filters.KG.Empty() && !params.KnowledgeGraph {
		return nil, domain.WrapError(domain.ErrCapabilityUnsupported, "retrieve by id",
			fmt.Errorf("knowledge graph predicates require a kg-enabled collection"))
	}

	filter := buildFilter(filters)
	if filter == nil {
		filter = map[string]any{}
	}
	must, _ := filter["must"].([]any)
	filter["must"] = append(must, matchClause(fieldDocumentID, documentID))

	body := map[string]any{
		"filter":       filter,
		"limit":        scrollPageSize,
		"with_payload": true,
		"with_vector":  true,
	}
	var resp struct {
		Result struct {
			Points []queryHit `json:"points"`
		} `json:"result"`
	}
	status, err := x.do(ctx, http.MethodPost,
		fmt.Sprintf("/collections/%s/points/scroll", x.cfg.Collection), body, &resp)
	if err != nil {
		return nil, err
	}
	if status >= 300 {
		return nil, domain.WrapError(domain.ErrBackendUnavailable, "qdrant scroll",
			fmt.Errorf("status %d", status))
	}

	chunks := make([]domain.Chunk, 0, len(resp.Result.Points))
	for _, hit := range resp.Result.Points {
		chunks = append(chunks, chunkFromPayload(hit.Payload, hit.Vector))
	}
	sortChunks(chunks)
	return chunks, nil
}

func sortChunks(chunks []domain.Chunk) {
	for i := 1; i < len(chunks); i++ {
		for j := i; j > 0 && chunks[j].ChunkID < chunks[j-1].ChunkID; j-- {
			chunks[j], chunks[j-1] = chunks[j-1], chunks[j]
		}
	}
}

// buildFilter translates every populated IndexFilters group into engine
// clauses. Groups are conjunctive (must); values within a group disjunctive
// (match any).
func buildFilter(filters domain.IndexFilters) map[string]any {
	var must []any

	if !filters.IncludeHidden {
		must = append(must, matchClause(fieldHidden, false))
	}
	if filters.TenantID != "" {
		must = append(must, matchClause(fieldTenantID, filters.TenantID))
	}
	if len(filters.SourceTypes) > 0 {
		values := make([]string, 0, len(filters.SourceTypes))
		for _, s := range filters.SourceTypes {
			values = append(values, string(s))
		}
		must = append(must, matchAnyClause(fieldSourceType, values))
	}
	if len(filters.ACLPrincipals) > 0 {
		must = append(must, matchAnyClause(fieldACL, filters.ACLPrincipals))
	}
	if len(filters.DocumentSets) > 0 {
		must = append(must, matchAnyClause(fieldDocumentSets, filters.DocumentSets))
	}
	if filters.UpdatedAtCutoff != nil {
		must = append(must, map[string]any{
			"key":   fieldUpdatedAt,
			"range": map[string]any{"gte": filters.UpdatedAtCutoff.UTC().Unix()},
		})
	}
	if len(filters.KG.Entities) > 0 {
		must = append(must, matchAnyClause(fieldKGEntities, filters.KG.Entities))
	}
	if len(filters.KG.Terms) > 0 {
		must = append(must, matchAnyClause(fieldKGTerms, filters.KG.Terms))
	}
	if len(filters.KG.Relationships) > 0 {
		tags := make([]string, 0, len(filters.KG.Relationships))
		for _, rel := range filters.KG.Relationships {
			tags = append(tags, rel.Flatten())
		}
		must = append(must, matchAnyClause(fieldKGTags, tags))
	}

	if len(must) == 0 {
		return nil
	}
	return map[string]any{"must": must}
}

func matchClause(key string, value any) map[string]any {
	return map[string]any{"key": key, "match": map[string]any{"value": value}}
}

func matchAnyClause(key string, values []string) map[string]any {
	return map[string]any{"key": key, "match": map[string]any{"any": values}}
}
