package elastic

import (
	"time"

	"github.com/oryntel/docindex/internal/core/domain"
)

// Document field names in the engine index.
const (
	fieldTenantID           = "tenant_id"
	fieldDocumentID         = "document_id"
	fieldChunkID            = "chunk_id"
	fieldBlurb              = "blurb"
	fieldContent            = "content"
	fieldSourceType         = "source_type"
	fieldSemanticIdentifier = "semantic_identifier"
	fieldTitle              = "title"
	fieldEmbeddings         = "embeddings"
	fieldTitleEmbedding     = "title_embedding"
	fieldACL                = "access_control_list"
	fieldDocumentSets       = "document_sets"
	fieldMetadata           = "metadata"
	fieldBoost              = "boost"
	fieldUpdatedAt          = "doc_updated_at"
	fieldHidden             = "hidden"
	fieldContentSummary     = "content_summary"
	fieldKGEntities         = "kg_entities"
	fieldKGTags             = "kg_tags"
	fieldKGTerms            = "kg_terms"
)

func chunkSource(chunk domain.Chunk, params schemaShape) map[string]any {
	source := map[string]any{
		fieldDocumentID:         chunk.DocumentID,
		fieldChunkID:            chunk.ChunkID,
		fieldBlurb:              chunk.Blurb,
		fieldContent:            chunk.Content,
		fieldSourceType:         string(chunk.SourceType),
		fieldSemanticIdentifier: chunk.SemanticIdentifier,
		fieldTitle:              chunk.Title,
		fieldEmbeddings:         chunk.Embedding,
		fieldBoost:              chunk.Boost,
		fieldUpdatedAt:          updatedAtEpoch(chunk.DocUpdatedAt),
		fieldHidden:             chunk.Hidden,
		fieldContentSummary:     chunk.ContentSummary,
	}
	if len(chunk.TitleEmbedding) > 0 {
		source[fieldTitleEmbedding] = chunk.TitleEmbedding
	} else {
		// The field is mapped with fixed dims, so an absent title reuses the
		// content embedding rather than writing an empty vector.
		source[fieldTitleEmbedding] = chunk.Embedding
	}
	if len(chunk.ACL) > 0 {
		source[fieldACL] = nestedEntries(chunk.ACL)
	}
	if len(chunk.DocumentSets) > 0 {
		entries := make([]map[string]any, 0, len(chunk.DocumentSets))
		for _, set := range chunk.DocumentSets {
			entries = append(entries, map[string]any{"value": set, "weight": 1})
		}
		source[fieldDocumentSets] = entries
	}
	if len(chunk.Metadata) > 0 {
		source[fieldMetadata] = chunk.Metadata
	}
	if params.multiTenant {
		source[fieldTenantID] = chunk.TenantID
	}
	if params.knowledgeGraph {
		source[fieldKGEntities] = chunk.KGEntities
		source[fieldKGTerms] = chunk.KGTerms
		tags := make([]string, 0, len(chunk.KGRelationships))
		for _, rel := range chunk.KGRelationships {
			tags = append(tags, rel.Flatten())
		}
		source[fieldKGTags] = tags
	}
	return source
}

// schemaShape is the subset of schema parameters the converters depend on.
type schemaShape struct {
	multiTenant    bool
	knowledgeGraph bool
}

func nestedEntries(acl []domain.ACLEntry) []map[string]any {
	entries := make([]map[string]any, 0, len(acl))
	for _, entry := range acl {
		entries = append(entries, map[string]any{"value": entry.Value, "weight": entry.Weight})
	}
	return entries
}

func updatedAtEpoch(t time.Time) int64 {
	if t.IsZero() {
		return time.Now().UTC().Unix()
	}
	return t.UTC().Unix()
}

func chunkFromSource(source map[string]any) domain.Chunk {
	chunk := domain.Chunk{
		DocumentID:         asString(source[fieldDocumentID]),
		ChunkID:            asInt(source[fieldChunkID]),
		Blurb:              asString(source[fieldBlurb]),
		Content:            asString(source[fieldContent]),
		SourceType:         domain.SourceType(asString(source[fieldSourceType])),
		SemanticIdentifier: asString(source[fieldSemanticIdentifier]),
		Title:              asString(source[fieldTitle]),
		Embedding:          asVector(source[fieldEmbeddings]),
		TitleEmbedding:     asVector(source[fieldTitleEmbedding]),
		TenantID:           asString(source[fieldTenantID]),
		Boost:              asFloat(source[fieldBoost]),
		Hidden:             asBool(source[fieldHidden]),
		ContentSummary:     asString(source[fieldContentSummary]),
		DocumentSets:       nestedValues(source[fieldDocumentSets]),
		KGEntities:         asStrings(source[fieldKGEntities]),
		KGTerms:            asStrings(source[fieldKGTerms]),
	}
	if epoch := asInt64(source[fieldUpdatedAt]); epoch > 0 {
		chunk.DocUpdatedAt = time.Unix(epoch, 0).UTC()
	}
	if entries, ok := source[fieldACL].([]any); ok {
		for _, raw := range entries {
			entry, _ := raw.(map[string]any)
			if entry == nil {
				continue
			}
			chunk.ACL = append(chunk.ACL, domain.ACLEntry{
				Value:  asString(entry["value"]),
				Weight: asInt(entry["weight"]),
			})
		}
	}
	if metadata, ok := source[fieldMetadata].(map[string]any); ok && len(metadata) > 0 {
		chunk.Metadata = make(map[string]string, len(metadata))
		for k, v := range metadata {
			chunk.Metadata[k] = asString(v)
		}
	}
	for _, tag := range asStrings(source[fieldKGTags]) {
		if rel, ok := domain.ParseKGTag(tag); ok {
			chunk.KGRelationships = append(chunk.KGRelationships, rel)
		}
	}
	return chunk
}

func nestedValues(raw any) []string {
	entries, ok := raw.([]any)
	if !ok {
		return nil
	}
	values := make([]string, 0, len(entries))
	for _, rawEntry := range entries {
		entry, _ := rawEntry.(map[string]any)
		if entry == nil {
			continue
		}
		if value := asString(entry["value"]); value != "" {
			values = append(values, value)
		}
	}
	return values
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asBool(v any) bool {
	b, _ := v.(bool)
	return b
}

func asFloat(v any) float64 {
	f, _ := v.(float64)
	return f
}

func asInt(v any) int {
	return int(asFloat(v))
}

func asInt64(v any) int64 {
	return int64(asFloat(v))
}

func asStrings(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func asVector(v any) []float32 {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]float32, 0, len(items))
	for _, item := range items {
		if f, ok := item.(float64); ok {
			out = append(out, float32(f))
		}
	}
	return out
}
