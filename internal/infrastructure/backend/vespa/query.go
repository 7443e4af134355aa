package vespa

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/oryntel/docindex/internal/core/domain"
	"github.com/oryntel/docindex/internal/core/ports"
	"github.com/oryntel/docindex/internal/core/scoring"
)

type searchHit struct {
	Relevance float64        `json:"relevance"`
	Fields    map[string]any `json:"fields"`
}

type searchResponse struct {
	Root struct {
		Children []searchHit `json:"children"`
	} `json:"root"`
}

// HybridRetrieve runs the two-phase ranked query. Candidate generation unions
// nearest-neighbor and keyword matches; the ranking profile scores them with
// the hybrid expression and the tunables travel as query-time inputs.
func (x *Index) HybridRetrieve(ctx context.Context, query ports.HybridQuery) ([]domain.RankedResult, error) {
	params, err := x.schemaParams()
	if err != nil {
		return nil, err
	}
	if !query.Filters.KG.Empty() && !params.KnowledgeGraph {
		return nil, domain.WrapError(domain.ErrCapabilityUnsupported, "hybrid retrieve",
			fmt.Errorf("schema was deployed without knowledge graph support"))
	}

	targetHits := query.Tunables.RerankDepth
	if need := query.Limit + query.Offset; targetHits < need {
		targetHits = need
	}

	where := fmt.Sprintf("(({targetHits:%d}nearestNeighbor(embedding, query_embedding)) or userQuery())", targetHits)
	if clause := buildYQLFilter(query.Filters, params.MultiTenant); clause != "" {
		where += " and " + clause
	}

	body := map[string]any{
		"yql":    fmt.Sprintf("select * from %s where %s", x.cfg.DocType, where),
		"query":  query.Query,
		"hits":   query.Limit,
		"offset": query.Offset,
		// rerankCount overrides the profile's deploy-time rerank-count so a
		// per-query RerankDepth reaches the second phase, not just the
		// nearest-neighbor targetHits.
		"ranking": map[string]any{
			"profile":     "hybrid_search",
			"rerankCount": targetHits,
		},
		"input": map[string]any{
			"query(query_embedding)":     query.Embedding,
			"query(alpha)":               query.Tunables.Alpha,
			"query(title_content_ratio)": query.Tunables.TitleContentRatio,
			"query(decay_factor)":        query.Tunables.RecencyDecayFactor,
			"query(now_epoch)":           float64(time.Now().UTC().Unix()),
		},
	}

	var resp searchResponse
	status, err := x.do(ctx, http.MethodPost, "/search/", body, &resp)
	if err != nil {
		return nil, err
	}
	if status >= 300 {
		return nil, domain.WrapError(domain.ErrBackendUnavailable, "vespa search",
			fmt.Errorf("status %d", status))
	}

	results := make([]domain.RankedResult, 0, len(resp.Root.Children))
	for _, hit := range resp.Root.Children {
		results = append(results, domain.RankedResult{
			Chunk: chunkFromFields(hit.Fields),
			Score: hit.Relevance,
		})
	}
	// The engine already paged; re-sorting pins the deterministic tie-break
	// within the returned page and global ranks follow from the offset.
	results = scoring.SortAndRank(results, 0)
	for i := range results {
		results[i].Rank += query.Offset
	}
	return results, nil
}

// RetrieveByID fetches every chunk of one document, unranked, ordered by
// chunk id.
func (x *Index) RetrieveByID(ctx context.Context, documentID string, filters domain.IndexFilters) ([]domain.Chunk, error) {
	params, err := x.schemaParams()
	if err != nil {
		return nil, err
	}
	if !filters.KG.Empty() && !params.KnowledgeGraph {
		return nil, domain.WrapError(domain.ErrCapabilityUnsupported, "retrieve by id",
			fmt.Errorf("schema was deployed without knowledge graph support"))
	}

	where := fmt.Sprintf("document_id contains %s", yqlString(documentID))
	if clause := buildYQLFilter(filters, params.MultiTenant); clause != "" {
		where += " and " + clause
	}
	body := map[string]any{
		"yql":     fmt.Sprintf("select * from %s where %s", x.cfg.DocType, where),
		"hits":    documentPageSize,
		"ranking": map[string]any{"profile": "unranked"},
	}

	var resp searchResponse
	status, err := x.do(ctx, http.MethodPost, "/search/", body, &resp)
	if err != nil {
		return nil, err
	}
	if status >= 300 {
		return nil, domain.WrapError(domain.ErrBackendUnavailable, "vespa search",
			fmt.Errorf("status %d", status))
	}

	chunks := make([]domain.Chunk, 0, len(resp.Root.Children))
	for _, hit := range resp.Root.Children {
		chunks = append(chunks, chunkFromFields(hit.Fields))
	}
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].ChunkID < chunks[j].ChunkID })
	return chunks, nil
}

// buildYQLFilter renders IndexFilters as a YQL conjunction. Groups combine
// with and; values inside one group combine with or.
func buildYQLFilter(filters domain.IndexFilters, multiTenant bool) string {
	clauses := make([]string, 0, 8)

	if !filters.IncludeHidden {
		clauses = append(clauses, "!(hidden = true)")
	}
	if multiTenant && filters.TenantID != "" {
		clauses = append(clauses, fmt.Sprintf("tenant_id contains %s", yqlString(filters.TenantID)))
	}
	if len(filters.SourceTypes) > 0 {
		values := make([]string, 0, len(filters.SourceTypes))
		for _, s := range filters.SourceTypes {
			values = append(values, string(s))
		}
		clauses = append(clauses, containsAny("source_type", values))
	}
	if len(filters.ACLPrincipals) > 0 {
		clauses = append(clauses, containsAny("access_control_list", filters.ACLPrincipals))
	}
	if len(filters.DocumentSets) > 0 {
		clauses = append(clauses, containsAny("document_sets", filters.DocumentSets))
	}
	if filters.UpdatedAtCutoff != nil {
		clauses = append(clauses, fmt.Sprintf("doc_updated_at >= %d", filters.UpdatedAtCutoff.UTC().Unix()))
	}
	if len(filters.KG.Entities) > 0 {
		clauses = append(clauses, containsAny("kg_entities", filters.KG.Entities))
	}
	if len(filters.KG.Terms) > 0 {
		clauses = append(clauses, containsAny("kg_terms", filters.KG.Terms))
	}
	if len(filters.KG.Relationships) > 0 {
		tags := make([]string, 0, len(filters.KG.Relationships))
		for _, rel := range filters.KG.Relationships {
			tags = append(tags, rel.Flatten())
		}
		clauses = append(clauses, containsAny("kg_tags", tags))
	}
	return strings.Join(clauses, " and ")
}

func containsAny(field string, values []string) string {
	parts := make([]string, 0, len(values))
	for _, value := range values {
		parts = append(parts, fmt.Sprintf("%s contains %s", field, yqlString(value)))
	}
	if len(parts) == 1 {
		return parts[0]
	}
	return "(" + strings.Join(parts, " or ") + ")"
}

// yqlString quotes a value for use in a YQL expression.
func yqlString(value string) string {
	escaped := strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(value)
	return `"` + escaped + `"`
}
