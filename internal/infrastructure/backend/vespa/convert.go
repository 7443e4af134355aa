package vespa

import (
	"time"

	"github.com/oryntel/docindex/internal/core/domain"
	"github.com/oryntel/docindex/internal/core/ports"
)

func documentFields(chunk domain.Chunk, params ports.SchemaParams) map[string]any {
	titleEmbedding := chunk.TitleEmbedding
	if len(titleEmbedding) == 0 {
		// The tensor field has fixed dims; an untitled chunk reuses the
		// content embedding so closeness stays well-defined.
		titleEmbedding = chunk.Embedding
	}
	fields := map[string]any{
		"document_id":         chunk.DocumentID,
		"chunk_id":            chunk.ChunkID,
		"title":               chunk.Title,
		"content":             chunk.Content,
		"blurb":               chunk.Blurb,
		"semantic_identifier": chunk.SemanticIdentifier,
		"content_summary":     chunk.ContentSummary,
		"source_type":         string(chunk.SourceType),
		"doc_updated_at":      updatedAtEpoch(chunk.DocUpdatedAt),
		"hidden":              chunk.Hidden,
		"boost":               chunk.Boost,
		"embedding":           map[string]any{"values": chunk.Embedding},
		"title_embedding":     map[string]any{"values": titleEmbedding},
	}
	if len(chunk.ACL) > 0 {
		values := make([]string, 0, len(chunk.ACL))
		for _, entry := range chunk.ACL {
			values = append(values, entry.Value)
		}
		fields["access_control_list"] = values
	}
	if len(chunk.DocumentSets) > 0 {
		fields["document_sets"] = chunk.DocumentSets
	}
	if len(chunk.Metadata) > 0 {
		fields["metadata"] = chunk.Metadata
	}
	if params.MultiTenant {
		fields["tenant_id"] = chunk.TenantID
	}
	if params.KnowledgeGraph {
		fields["kg_entities"] = chunk.KGEntities
		fields["kg_terms"] = chunk.KGTerms
		tags := make([]string, 0, len(chunk.KGRelationships))
		for _, rel := range chunk.KGRelationships {
			tags = append(tags, rel.Flatten())
		}
		fields["kg_tags"] = tags
	}
	return fields
}

func updatedAtEpoch(t time.Time) int64 {
	if t.IsZero() {
		return time.Now().UTC().Unix()
	}
	return t.UTC().Unix()
}

func chunkFromFields(fields map[string]any) domain.Chunk {
	chunk := domain.Chunk{
		DocumentID:         asString(fields["document_id"]),
		ChunkID:            asInt(fields["chunk_id"]),
		Title:              asString(fields["title"]),
		Content:            asString(fields["content"]),
		Blurb:              asString(fields["blurb"]),
		SemanticIdentifier: asString(fields["semantic_identifier"]),
		ContentSummary:     asString(fields["content_summary"]),
		SourceType:         domain.SourceType(asString(fields["source_type"])),
		TenantID:           asString(fields["tenant_id"]),
		Hidden:             asBool(fields["hidden"]),
		Boost:              asFloat(fields["boost"]),
		Embedding:          asTensor(fields["embedding"]),
		TitleEmbedding:     asTensor(fields["title_embedding"]),
		DocumentSets:       asStrings(fields["document_sets"]),
		KGEntities:         asStrings(fields["kg_entities"]),
		KGTerms:            asStrings(fields["kg_terms"]),
	}
	for _, value := range asStrings(fields["access_control_list"]) {
		chunk.ACL = append(chunk.ACL, domain.ACLEntry{Value: value, Weight: 1})
	}
	for _, tag := range asStrings(fields["kg_tags"]) {
		if rel, ok := domain.ParseKGTag(tag); ok {
			chunk.KGRelationships = append(chunk.KGRelationships, rel)
		}
	}
	if metadata, ok := fields["metadata"].(map[string]any); ok && len(metadata) > 0 {
		chunk.Metadata = make(map[string]string, len(metadata))
		for k, v := range metadata {
			chunk.Metadata[k] = asString(v)
		}
	}
	if epoch := int64(asFloat(fields["doc_updated_at"])); epoch > 0 {
		chunk.DocUpdatedAt = time.Unix(epoch, 0).UTC()
	}
	return chunk
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

// asTensor reads the document api tensor rendering {"values": [...]}. Query
// results render indexed tensors the same way.
func asTensor(v any) []float32 {
	wrapper, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	items, ok := wrapper["values"].([]any)
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
