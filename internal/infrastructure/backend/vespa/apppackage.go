package vespa

import (
	"archive/zip"
	"bytes"
	"fmt"
	"strings"

	"github.com/oryntel/docindex/internal/core/ports"
)

// The engine is configured by deploying an application package: a zip holding
// the document schema and a services definition. Redeploying the same package
// is a no-op, which is what makes EnsureSchema idempotent.

const servicesXML = `<?xml version="1.0" encoding="utf-8"?>
<services version="1.0">
  <container id="default" version="1.0">
    <document-api/>
    <search/>
    <nodes>
      <node hostalias="node1"/>
    </nodes>
  </container>
  <content id="chunks" version="1.0">
    <redundancy>1</redundancy>
    <documents>
      <document type="%s" mode="index"/>
    </documents>
    <nodes>
      <node hostalias="node1" distribution-key="0"/>
    </nodes>
  </content>
</services>
`

// renderSchema emits the document schema plus the two-phase ranking profile.
// The first phase is pure embedding closeness over every matching candidate;
// the second phase evaluates the full hybrid expression for the top
// rerank-count only, so the expensive work is bounded regardless of corpus
// size. Alpha, the title/content split, the decay factor and the clock all
// arrive as query-time inputs rather than being baked into the deployment.
func renderSchema(docType string, params ports.SchemaParams, rerankCount int) string {
	var b strings.Builder
	w := func(format string, args ...any) {
		fmt.Fprintf(&b, format+"\n", args...)
	}

	w("schema %s {", docType)
	w("    document %s {", docType)
	w("        field document_id type string {")
	w("            indexing: summary | attribute")
	w("            attribute: fast-search")
	w("        }")
	w("        field chunk_id type int {")
	w("            indexing: summary | attribute")
	w("        }")
	w("        field title type string {")
	w("            indexing: summary | index")
	w("            index: enable-bm25")
	w("        }")
	w("        field content type string {")
	w("            indexing: summary | index")
	w("            index: enable-bm25")
	w("        }")
	w("        field blurb type string {")
	w("            indexing: summary | index")
	w("        }")
	w("        field semantic_identifier type string {")
	w("            indexing: summary | attribute")
	w("        }")
	w("        field content_summary type string {")
	w("            indexing: summary")
	w("        }")
	w("        field source_type type string {")
	w("            indexing: summary | attribute")
	w("            attribute: fast-search")
	w("        }")
	if params.MultiTenant {
		w("        field tenant_id type string {")
		w("            indexing: summary | attribute")
		w("            attribute: fast-search")
		w("        }")
	}
	w("        field access_control_list type array<string> {")
	w("            indexing: summary | attribute")
	w("            attribute: fast-search")
	w("        }")
	w("        field document_sets type array<string> {")
	w("            indexing: summary | attribute")
	w("            attribute: fast-search")
	w("        }")
	w("        field doc_updated_at type long {")
	w("            indexing: summary | attribute")
	w("        }")
	w("        field hidden type bool {")
	w("            indexing: summary | attribute")
	w("        }")
	w("        field boost type double {")
	w("            indexing: summary | attribute")
	w("        }")
	w("        field metadata type map<string, string> {")
	w("            indexing: summary")
	w("            struct-field key { indexing: attribute }")
	w("            struct-field value { indexing: attribute }")
	w("        }")
	if params.KnowledgeGraph {
		for _, field := range []string{"kg_entities", "kg_tags", "kg_terms"} {
			w("        field %s type array<string> {", field)
			w("            indexing: summary | attribute")
			w("            attribute: fast-search")
			w("        }")
		}
	}
	w("        field embedding type tensor<float>(x[%d]) {", params.Dimensions)
	w("            indexing: summary | attribute | index")
	w("            attribute {")
	w("                distance-metric: angular")
	w("            }")
	w("        }")
	w("        field title_embedding type tensor<float>(x[%d]) {", params.Dimensions)
	w("            indexing: summary | attribute | index")
	w("            attribute {")
	w("                distance-metric: angular")
	w("            }")
	w("        }")
	w("    }")
	w("")
	w("    fieldset default {")
	w("        fields: title, content, blurb")
	w("    }")
	w("")
	w("    rank-profile hybrid_search {")
	w("        inputs {")
	w("            query(query_embedding) tensor<float>(x[%d])", params.Dimensions)
	w("            query(alpha) double: 0.5")
	w("            query(title_content_ratio) double: 0.3")
	w("            query(decay_factor) double: 0.005")
	w("            query(now_epoch) double: 0.0")
	w("        }")
	w("")
	w("        function content_similarity() {")
	w("            expression: closeness(field, embedding)")
	w("        }")
	w("        function title_similarity() {")
	w("            expression: closeness(field, title_embedding)")
	w("        }")
	// bm25 is unbounded, so it is squashed into [0,1) before mixing with
	// the bounded closeness signals. This replaces candidate-set min-max
	// normalization, which the engine cannot express per query.
	w("        function title_keyword() {")
	w("            expression: bm25(title) / (1 + bm25(title))")
	w("        }")
	w("        function content_keyword() {")
	w("            expression: bm25(content) / (1 + bm25(content))")
	w("        }")
	w("        function age_days() {")
	w("            expression: max(0, query(now_epoch) - attribute(doc_updated_at)) / 86400")
	w("        }")
	w("        function recency_bias() {")
	w("            expression: exp(0 - query(decay_factor) * age_days)")
	w("        }")
	w("        function boost_factor() {")
	w("            expression: if (attribute(boost) >= 0, 2 / (1 + exp(0 - attribute(boost) / 3)), 0.5 + 1 / (1 + exp(0 - attribute(boost) / 3)))")
	w("        }")
	w("        function vector_component() {")
	w("            expression: query(title_content_ratio) * title_similarity + (1 - query(title_content_ratio)) * content_similarity")
	w("        }")
	w("        function keyword_component() {")
	w("            expression: query(title_content_ratio) * title_keyword + (1 - query(title_content_ratio)) * content_keyword")
	w("        }")
	w("")
	w("        first-phase {")
	w("            expression: closeness(field, embedding)")
	w("        }")
	w("        second-phase {")
	w("            rerank-count: %d", rerankCount)
	w("            expression: (query(alpha) * vector_component + (1 - query(alpha)) * keyword_component) * boost_factor * recency_bias")
	w("        }")
	w("    }")
	w("}")
	return b.String()
}

// buildAppPackage zips the schema and services files into a deployable
// application package.
func buildAppPackage(docType string, params ports.SchemaParams, rerankCount int) ([]byte, error) {
	var buf bytes.Buffer
	archive := zip.NewWriter(&buf)

	files := map[string]string{
		"services.xml": fmt.Sprintf(servicesXML, docType),
		fmt.Sprintf("schemas/%s.sd", docType): renderSchema(docType, params, rerankCount),
	}
	for name, content := range files {
		entry, err := archive.Create(name)
		if err != nil {
			return nil, fmt.Errorf("create zip entry %s: %w", name, err)
		}
		if _, err := entry.Write([]byte(content)); err != nil {
			return nil, fmt.Errorf("write zip entry %s: %w", name, err)
		}
	}
	if err := archive.Close(); err != nil {
		return nil, fmt.Errorf("close app package: %w", err)
	}
	return buf.Bytes(), nil
}
