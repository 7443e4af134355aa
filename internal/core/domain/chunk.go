package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type SourceType string

const (
	SourceWeb        SourceType = "web"
	SourceFile       SourceType = "file"
	SourceConfluence SourceType = "confluence"
	SourceSlack      SourceType = "slack"
	SourceDrive      SourceType = "google_drive"
)

// ACLEntry is a principal allowed to see a chunk. Weight is kept for engines
// that store access entries as weighted sets.
type ACLEntry struct {
	Value  string `json:"value"`
	Weight int    `json:"weight"`
}

// KGRelationship is a structured knowledge-graph triple attached to a chunk.
type KGRelationship struct {
	Source   string `json:"source"`
	RelType  string `json:"rel_type"`
	Target   string `json:"target"`
}

// Flatten renders the triple as a single searchable tag for engines without
// structured relationship fields.
func (r KGRelationship) Flatten() string {
	return r.Source + "__" + r.RelType + "__" + r.Target
}

// ParseKGTag is the inverse of Flatten. It reports false for tags that do not
// carry all three triple positions.
func ParseKGTag(tag string) (KGRelationship, bool) {
	parts := strings.SplitN(tag, "__", 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return KGRelationship{}, false
	}
	return KGRelationship{Source: parts[0], RelType: parts[1], Target: parts[2]}, true
}

// Chunk is the smallest retrievable unit of indexed content. Embeddings are
// computed upstream; this package never touches the embedding model.
type Chunk struct {
	DocumentID         string           `json:"document_id"`
	ChunkID            int              `json:"chunk_id"`
	Content            string           `json:"content"`
	Title              string           `json:"title"`
	SemanticIdentifier string           `json:"semantic_identifier"`
	Blurb              string           `json:"blurb,omitempty"`
	ContentSummary     string           `json:"content_summary,omitempty"`
	Embedding          []float32        `json:"embedding"`
	TitleEmbedding     []float32        `json:"title_embedding,omitempty"`
	SourceType         SourceType       `json:"source_type"`
	ACL                []ACLEntry       `json:"access_control_list,omitempty"`
	DocumentSets       []string         `json:"document_sets,omitempty"`
	TenantID           string           `json:"tenant_id,omitempty"`
	DocUpdatedAt       time.Time        `json:"doc_updated_at"`
	Hidden             bool             `json:"hidden"`
	Boost              float64          `json:"boost"`
	Metadata           map[string]string `json:"metadata,omitempty"`
	KGEntities         []string         `json:"kg_entities,omitempty"`
	KGRelationships    []KGRelationship `json:"kg_relationships,omitempty"`
	KGTerms            []string         `json:"kg_terms,omitempty"`
}

// ChunkRef identifies one chunk within an index.
type ChunkRef struct {
	DocumentID string `json:"document_id"`
	ChunkID    int    `json:"chunk_id"`
}

func (c Chunk) Ref() ChunkRef {
	return ChunkRef{DocumentID: c.DocumentID, ChunkID: c.ChunkID}
}

var chunkIDNamespace = uuid.MustParse("2b1f93a7-6c51-4f84-9d55-0e2c8e6f1a40")

// UUID derives a stable engine document id from the chunk identity, so
// re-indexing the same chunk overwrites rather than duplicates.
func (c Chunk) UUID() string {
	name := fmt.Sprintf("%s__%d", c.DocumentID, c.ChunkID)
	if c.TenantID != "" {
		name = c.TenantID + "__" + name
	}
	return uuid.NewSHA1(chunkIDNamespace, []byte(name)).String()
}

// Validate checks the chunk against deployment-level invariants before any
// network write is attempted.
func (c Chunk) Validate(dimensions int, multiTenant bool) error {
	if strings.TrimSpace(c.DocumentID) == "" {
		return WrapError(ErrValidation, "validate chunk", fmt.Errorf("empty document id"))
	}
	if c.ChunkID < 0 {
		return WrapError(ErrValidation, "validate chunk", fmt.Errorf("negative chunk id %d", c.ChunkID))
	}
	if len(c.Embedding) != dimensions {
		return WrapError(ErrValidation, "validate chunk",
			fmt.Errorf("embedding dimension %d, index expects %d", len(c.Embedding), dimensions))
	}
	if len(c.TitleEmbedding) != 0 && len(c.TitleEmbedding) != dimensions {
		return WrapError(ErrValidation, "validate chunk",
			fmt.Errorf("title embedding dimension %d, index expects %d", len(c.TitleEmbedding), dimensions))
	}
	if multiTenant && strings.TrimSpace(c.TenantID) == "" {
		return WrapError(ErrValidation, "validate chunk", fmt.Errorf("missing tenant id"))
	}
	return nil
}

// RankedResult is one retrieval hit. Scores are normalized per backend to a
// comparable range; Rank is the 1-based position after ordering.
type RankedResult struct {
	Chunk Chunk   `json:"chunk"`
	Score float64 `json:"score"`
	Rank  int     `json:"rank"`
}
