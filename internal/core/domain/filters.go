package domain

import (
	"fmt"
	"strings"
	"time"
)

// KGFilters restricts results by knowledge-graph annotations. Each list is
// disjunctive internally; the lists combine conjunctively with one another and
// with the rest of the filter set.
type KGFilters struct {
	Entities      []string         `json:"entities,omitempty"`
	Relationships []KGRelationship `json:"relationships,omitempty"`
	Terms         []string         `json:"terms,omitempty"`
}

func (k KGFilters) Empty() bool {
	return len(k.Entities) == 0 && len(k.Relationships) == 0 && len(k.Terms) == 0
}

// IndexFilters is the immutable query-time restriction set. Groups combine
// conjunctively; values inside one group combine disjunctively.
type IndexFilters struct {
	TenantID       string       `json:"tenant_id,omitempty"`
	ACLPrincipals  []string     `json:"acl_principals,omitempty"`
	SourceTypes    []SourceType `json:"source_types,omitempty"`
	UpdatedAtCutoff *time.Time  `json:"updated_at_cutoff,omitempty"`
	IncludeHidden  bool         `json:"include_hidden,omitempty"`
	DocumentSets   []string     `json:"document_sets,omitempty"`
	KG             KGFilters    `json:"kg,omitempty"`
}

// FilterCriteria is the raw caller-facing input before validation.
type FilterCriteria struct {
	TenantID        string
	ACLPrincipals   []string
	SourceTypes     []string
	UpdatedAtCutoff *time.Time
	IncludeHidden   bool
	DocumentSets    []string
	KGEntities      []string
	KGRelationships []KGRelationship
	KGTerms         []string
}

// BuildFilters validates raw criteria into an IndexFilters value. It rejects
// blank identifiers and timestamps in the future rather than letting a
// malformed filter reach an engine.
func BuildFilters(c FilterCriteria) (IndexFilters, error) {
	if err := rejectBlank("acl principal", c.ACLPrincipals); err != nil {
		return IndexFilters{}, err
	}
	if err := rejectBlank("source type", c.SourceTypes); err != nil {
		return IndexFilters{}, err
	}
	if err := rejectBlank("document set", c.DocumentSets); err != nil {
		return IndexFilters{}, err
	}
	if err := rejectBlank("kg entity", c.KGEntities); err != nil {
		return IndexFilters{}, err
	}
	if err := rejectBlank("kg term", c.KGTerms); err != nil {
		return IndexFilters{}, err
	}
	for _, rel := range c.KGRelationships {
		if strings.TrimSpace(rel.Source) == "" || strings.TrimSpace(rel.RelType) == "" || strings.TrimSpace(rel.Target) == "" {
			return IndexFilters{}, WrapError(ErrValidation, "build filters",
				fmt.Errorf("incomplete kg relationship %q", rel.Flatten()))
		}
	}
	if c.UpdatedAtCutoff != nil {
		if c.UpdatedAtCutoff.IsZero() {
			return IndexFilters{}, WrapError(ErrValidation, "build filters", fmt.Errorf("zero updated-at cutoff"))
		}
		if c.UpdatedAtCutoff.After(time.Now().Add(time.Minute)) {
			return IndexFilters{}, WrapError(ErrValidation, "build filters",
				fmt.Errorf("updated-at cutoff %s is in the future", c.UpdatedAtCutoff.UTC().Format(time.RFC3339)))
		}
	}

	sources := make([]SourceType, 0, len(c.SourceTypes))
	for _, s := range c.SourceTypes {
		sources = append(sources, SourceType(s))
	}

	return IndexFilters{
		TenantID:        strings.TrimSpace(c.TenantID),
		ACLPrincipals:   c.ACLPrincipals,
		SourceTypes:     sources,
		UpdatedAtCutoff: c.UpdatedAtCutoff,
		IncludeHidden:   c.IncludeHidden,
		DocumentSets:    c.DocumentSets,
		KG: KGFilters{
			Entities:      c.KGEntities,
			Relationships: c.KGRelationships,
			Terms:         c.KGTerms,
		},
	}, nil
}

func rejectBlank(what string, values []string) error {
	for _, v := range values {
		if strings.TrimSpace(v) == "" {
			return WrapError(ErrValidation, "build filters", fmt.Errorf("empty %s", what))
		}
	}
	return nil
}

// WithTenant returns a copy of the filters scoped to the given tenant.
func (f IndexFilters) WithTenant(tenantID string) IndexFilters {
	f.TenantID = tenantID
	return f
}
