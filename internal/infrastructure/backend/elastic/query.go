package elastic

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/oryntel/docindex/internal/core/domain"
	"github.com/oryntel/docindex/internal/core/ports"
	"github.com/oryntel/docindex/internal/core/scoring"
)

type searchHit struct {
	ID     string         `json:"_id"`
	Score  float64        `json:"_score"`
	Source map[string]any `json:"_source"`
}

type searchResponse struct {
	Hits struct {
		Hits []searchHit `json:"hits"`
	} `json:"hits"`
}

// HybridRetrieve runs a keyword retrieval and a vector retrieval as two
// independent requests and merges their ranked lists by reciprocal rank
// fusion. The engine cannot evaluate the alpha-weighted formula natively, so
// alpha is approximated: the title/content ratio shapes the keyword field
// boosts, and alpha shapes the vector candidate pool size. Boost and recency
// still apply as client-side multipliers on the fused score.
func (x *Index) HybridRetrieve(ctx context.Context, query ports.HybridQuery) ([]domain.RankedResult, error) {
	params, err := x.schemaParams()
	if err != nil {
		return nil, err
	}
	if !query.Filters.KG.Empty() && !params.KnowledgeGraph {
		return nil, domain.WrapError(domain.ErrCapabilityUnsupported, "hybrid retrieve",
			fmt.Errorf("index schema was provisioned without knowledge graph support"))
	}

	window := query.Tunables.RankWindowSize
	if need := query.Limit + query.Offset; window < need {
		window = need
	}
	clauses := buildFilterClauses(query.Filters, params.MultiTenant)

	keywordList, err := x.keywordSearch(ctx, query, clauses, window)
	if err != nil {
		return nil, err
	}
	vectorList, err := x.vectorSearch(ctx, query, clauses, window)
	if err != nil {
		return nil, err
	}

	fused := scoring.FuseRRF([][]domain.RankedResult{keywordList, vectorList},
		query.Tunables.RankConstant, window)

	now := time.Now().UTC()
	for i := range fused {
		chunk := fused[i].Chunk
		fused[i].Score *= scoring.BoostFactor(chunk.Boost) *
			scoring.RecencyBias(query.Tunables.RecencyDecayFactor, scoring.AgeInDays(chunk.DocUpdatedAt, now))
	}
	return scoring.Page(scoring.SortAndRank(fused, 0), query.Offset, query.Limit), nil
}

func (x *Index) keywordSearch(ctx context.Context, query ports.HybridQuery, clauses []any, window int) ([]domain.RankedResult, error) {
	ratio := query.Tunables.TitleContentRatio
	body := map[string]any{
		"size": window,
		"query": map[string]any{
			"bool": map[string]any{
				"must": map[string]any{
					// Blurb stays out of the field list: it is a
					// derived prefix of content and an unboosted
					// entry would double-count content terms past
					// the title/content ratio.
					"multi_match": map[string]any{
						"query": query.Query,
						"type":  "most_fields",
						"fields": []string{
							fmt.Sprintf("%s^%.2f", fieldTitle, ratio),
							fmt.Sprintf("%s^%.2f", fieldContent, 1.0-ratio),
						},
					},
				},
				"filter": clauses,
			},
		},
	}
	return x.search(ctx, body)
}

// vectorSearch sizes its candidate pool by alpha: a keyword-leaning query
// contributes fewer vector candidates to the fusion, which is the closest
// rank-space analogue of down-weighting the vector component.
func (x *Index) vectorSearch(ctx context.Context, query ports.HybridQuery, clauses []any, window int) ([]domain.RankedResult, error) {
	k := int(query.Tunables.Alpha * 2 * float64(window))
	if k > window {
		k = window
	}
	if need := query.Limit + query.Offset; k < need {
		k = need
	}
	if k < 1 {
		k = 1
	}

	numCandidates := k * 10
	if numCandidates > 10000 {
		numCandidates = 10000
	}
	knn := map[string]any{
		"field":          fieldEmbeddings,
		"query_vector":   query.Embedding,
		"k":              k,
		"num_candidates": numCandidates,
	}
	if len(clauses) > 0 {
		knn["filter"] = map[string]any{"bool": map[string]any{"filter": clauses}}
	}
	body := map[string]any{"size": k, "knn": knn}
	return x.search(ctx, body)
}

func (x *Index) search(ctx context.Context, body map[string]any) ([]domain.RankedResult, error) {
	var resp searchResponse
	path := "/" + url.PathEscape(x.cfg.IndexName) + "/_search"
	status, err := x.do(ctx, http.MethodPost, path, body, &resp)
	if err != nil {
		return nil, err
	}
	if status >= 300 {
		return nil, domain.WrapError(domain.ErrBackendUnavailable, "elastic search",
			fmt.Errorf("status %d", status))
	}

	results := make([]domain.RankedResult, 0, len(resp.Hits.Hits))
	for i, hit := range resp.Hits.Hits {
		results = append(results, domain.RankedResult{
			Chunk: chunkFromSource(hit.Source),
			Score: hit.Score,
			Rank:  i + 1,
		})
	}
	return results, nil
}

// RetrieveByID fetches every chunk of a document ordered by chunk id,
// bypassing scoring entirely.
func (x *Index) RetrieveByID(ctx context.Context, documentID string, filters domain.IndexFilters) ([]domain.Chunk, error) {
	params, err := x.schemaParams()
	if err != nil {
		return nil, err
	}
	if !filters.KG.Empty() && !params.KnowledgeGraph {
		return nil, domain.WrapError(domain.ErrCapabilityUnsupported, "retrieve by id",
			fmt.Errorf("index schema was provisioned without knowledge graph support"))
	}

	clauses := buildFilterClauses(filters, params.MultiTenant)
	clauses = append(clauses, map[string]any{"term": map[string]any{fieldDocumentID: documentID}})
	body := map[string]any{
		"size":  retrievePageSize,
		"query": map[string]any{"bool": map[string]any{"filter": clauses}},
		"sort":  []any{map[string]any{fieldChunkID: map[string]any{"order": "asc"}}},
	}

	var resp searchResponse
	path := "/" + url.PathEscape(x.cfg.IndexName) + "/_search"
	status, err := x.do(ctx, http.MethodPost, path, body, &resp)
	if err != nil {
		return nil, err
	}
	if status >= 300 {
		return nil, domain.WrapError(domain.ErrBackendUnavailable, "elastic search",
			fmt.Errorf("status %d", status))
	}

	chunks := make([]domain.Chunk, 0, len(resp.Hits.Hits))
	for _, hit := range resp.Hits.Hits {
		chunks = append(chunks, chunkFromSource(hit.Source))
	}
	return chunks, nil
}

// buildFilterClauses translates IndexFilters into bool filter clauses. Groups
// combine conjunctively; values inside one group combine disjunctively via
// terms clauses.
func buildFilterClauses(filters domain.IndexFilters, multiTenant bool) []any {
	clauses := make([]any, 0, 8)

	if !filters.IncludeHidden {
		clauses = append(clauses, map[string]any{"term": map[string]any{fieldHidden: false}})
	}
	if multiTenant && filters.TenantID != "" {
		clauses = append(clauses, map[string]any{"term": map[string]any{fieldTenantID: filters.TenantID}})
	}
	if len(filters.SourceTypes) > 0 {
		values := make([]string, 0, len(filters.SourceTypes))
		for _, s := range filters.SourceTypes {
			values = append(values, string(s))
		}
		clauses = append(clauses, map[string]any{"terms": map[string]any{fieldSourceType: values}})
	}
	if len(filters.ACLPrincipals) > 0 {
		clauses = append(clauses, nestedTermsClause(fieldACL, filters.ACLPrincipals))
	}
	if len(filters.DocumentSets) > 0 {
		clauses = append(clauses, nestedTermsClause(fieldDocumentSets, filters.DocumentSets))
	}
	if filters.UpdatedAtCutoff != nil {
		clauses = append(clauses, map[string]any{
			"range": map[string]any{
				fieldUpdatedAt: map[string]any{"gte": filters.UpdatedAtCutoff.UTC().Unix()},
			},
		})
	}
	if len(filters.KG.Entities) > 0 {
		clauses = append(clauses, map[string]any{"terms": map[string]any{fieldKGEntities: filters.KG.Entities}})
	}
	if len(filters.KG.Terms) > 0 {
		clauses = append(clauses, map[string]any{"terms": map[string]any{fieldKGTerms: filters.KG.Terms}})
	}
	if len(filters.KG.Relationships) > 0 {
		tags := make([]string, 0, len(filters.KG.Relationships))
		for _, rel := range filters.KG.Relationships {
			tags = append(tags, rel.Flatten())
		}
		clauses = append(clauses, map[string]any{"terms": map[string]any{fieldKGTags: tags}})
	}
	return clauses
}

func nestedTermsClause(path string, values []string) map[string]any {
	return map[string]any{
		"nested": map[string]any{
			"path": path,
			"query": map[string]any{
				"terms": map[string]any{path + ".value": values},
			},
		},
	}
}
