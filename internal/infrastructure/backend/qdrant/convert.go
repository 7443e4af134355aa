package qdrant

import (
	"fmt"
	"time"

	"github.com/oryntel/docindex/internal/core/domain"
)

// Payload field names. KG relationships are flattened into kg_tags because
// the engine has no structured relationship fields; the same IndexFilters
// predicate works against them transparently.
const (
	fieldDocumentID     = "document_id"
	fieldChunkID        = "chunk_id"
	fieldContent        = "content"
	fieldTitle          = "title"
	fieldSemanticID     = "semantic_identifier"
	fieldBlurb          = "blurb"
	fieldContentSummary = "content_summary"
	fieldSourceType     = "source_type"
	fieldTenantID       = "tenant_id"
	fieldACL            = "access_control_list"
	fieldDocumentSets   = "document_sets"
	fieldUpdatedAt      = "doc_updated_at"
	fieldHidden         = "hidden"
	fieldBoost          = "boost"
	fieldMetadata       = "metadata"
	fieldKGEntities     = "kg_entities"
	fieldKGTags         = "kg_tags"
	fieldKGTerms        = "kg_terms"
)

func chunkVectors(chunk domain.Chunk) map[string]any {
	vectors := map[string]any{
		contentVectorName: chunk.Embedding,
		sparseVectorName:  encodeSparseDocument(chunk.Content, chunk.Title),
	}
	if len(chunk.TitleEmbedding) > 0 {
		vectors[titleVectorName] = chunk.TitleEmbedding
	}
	return vectors
}

func chunkPayload(chunk domain.Chunk) map[string]any {
	acl := make([]string, 0, len(chunk.ACL))
	for _, e := range chunk.ACL {
		acl = append(acl, e.Value)
	}
	kgTags := make([]string, 0, len(chunk.KGRelationships))
	for _, rel := range chunk.KGRelationships {
		kgTags = append(kgTags, rel.Flatten())
	}

	payload := map[string]any{
		fieldDocumentID:     chunk.DocumentID,
		fieldChunkID:        chunk.ChunkID,
		fieldContent:        chunk.Content,
		fieldTitle:          chunk.Title,
		fieldSemanticID:     chunk.SemanticIdentifier,
		fieldBlurb:          chunk.Blurb,
		fieldContentSummary: chunk.ContentSummary,
		fieldSourceType:     string(chunk.SourceType),
		fieldACL:            acl,
		fieldDocumentSets:   chunk.DocumentSets,
		fieldUpdatedAt:      updatedAtEpoch(chunk.DocUpdatedAt),
		fieldHidden:         chunk.Hidden,
		fieldBoost:          chunk.Boost,
	}
	if chunk.TenantID != "" {
		payload[fieldTenantID] = chunk.TenantID
	}
	if len(chunk.Metadata) > 0 {
		payload[fieldMetadata] = chunk.Metadata
	}
	if len(chunk.KGEntities) > 0 {
		payload[fieldKGEntities] = chunk.KGEntities
	}
	if len(kgTags) > 0 {
		payload[fieldKGTags] = kgTags
	}
	if len(chunk.KGTerms) > 0 {
		payload[fieldKGTerms] = chunk.KGTerms
	}
	return payload
}

// updatedAtEpoch always stores a timestamp because range filters fail on
// missing fields; undated documents get "now" at write time.
func updatedAtEpoch(t time.Time) int64 {
	if t.IsZero() {
		return time.Now().UTC().Unix()
	}
	return t.UTC().Unix()
}

func chunkFromPayload(payload map[string]any, vectors map[string]any) domain.Chunk {
	chunk := domain.Chunk{
		DocumentID:         asString(payload[fieldDocumentID]),
		ChunkID:            asInt(payload[fieldChunkID]),
		Content:            asString(payload[fieldContent]),
		Title:              asString(payload[fieldTitle]),
		SemanticIdentifier: asString(payload[fieldSemanticID]),
		Blurb:              asString(payload[fieldBlurb]),
		ContentSummary:     asString(payload[fieldContentSummary]),
		SourceType:         domain.SourceType(asString(payload[fieldSourceType])),
		TenantID:           asString(payload[fieldTenantID]),
		Hidden:             asBool(payload[fieldHidden]),
		Boost:              asFloat(payload[fieldBoost]),
		DocumentSets:       asStrings(payload[fieldDocumentSets]),
		KGEntities:         asStrings(payload[fieldKGEntities]),
		KGTerms:            asStrings(payload[fieldKGTerms]),
	}
	for _, value := range asStrings(payload[fieldACL]) {
		chunk.ACL = append(chunk.ACL, domain.ACLEntry{Value: value, Weight: 1})
	}
	for _, tag := range asStrings(payload[fieldKGTags]) {
		if rel, ok := domain.ParseKGTag(tag); ok {
			chunk.KGRelationships = append(chunk.KGRelationships, rel)
		}
	}
	if epoch := int64(asFloat(payload[fieldUpdatedAt])); epoch > 0 {
		chunk.DocUpdatedAt = time.Unix(epoch, 0).UTC()
	}
	if metadata, ok := payload[fieldMetadata].(map[string]any); ok {
		chunk.Metadata = make(map[string]string, len(metadata))
		for k, v := range metadata {
			chunk.Metadata[k] = asString(v)
		}
	}
	chunk.Embedding = asVector(vectors[contentVectorName])
	chunk.TitleEmbedding = asVector(vectors[titleVectorName])
	return chunk
}

func asString(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func asInt(v any) int {
	if f, ok := v.(float64); ok {
		return int(f)
	}
	if i, ok := v.(int); ok {
		return i
	}
	return 0
}

func asFloat(v any) float64 {
	if f, ok := v.(float64); ok {
		return f
	}
	return 0
}

func asBool(v any) bool {
	b, _ := v.(bool)
	return b
}

func asStrings(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, asString(item))
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
