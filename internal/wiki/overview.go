package wiki

import (
	"context"
	"fmt"
	"strings"

	"github.com/jepras/ConstructionRAG-sub001/internal/llm"
	"github.com/jepras/ConstructionRAG-sub001/internal/pipeline"
	"github.com/jepras/ConstructionRAG-sub001/internal/search"
)

// overviewContextTokens budgets the retrieved excerpts packed into the
// overview prompt.
const overviewContextTokens = 6000

// danishOverviewQueries cover the angles a project overview should
// touch. The configured count takes a prefix of this list.
var danishOverviewQueries = []string{
	"projektbeskrivelse og formål med byggeriet",
	"byggeriets omfang og arbejdsopgaver",
	"tidsplan og milepæle",
	"entreprenører og ansvarsfordeling",
	"konstruktioner og bærende systemer",
	"installationer el vvs og ventilation",
	"materialer og produktkrav",
	"kvalitetssikring og kontrol",
	"sikkerhed og arbejdsmiljø",
	"myndighedskrav og godkendelser",
	"økonomi og betalingsbetingelser",
	"aflevering og mangeludbedring",
}

var englishOverviewQueries = []string{
	"project description and purpose",
	"scope of work and deliverables",
	"schedule and milestones",
	"contractors and division of responsibility",
	"structural systems and load-bearing elements",
	"electrical plumbing and ventilation systems",
	"materials and product requirements",
	"quality assurance and inspections",
	"site safety and working environment",
	"permits and regulatory approvals",
	"budget and payment terms",
	"handover and defect remediation",
}

// OverviewData records what retrieval contributed to the overview.
type OverviewData struct {
	RetrievedChunks int            `json:"retrieved_chunks"`
	QueryResults    map[string]int `json:"query_results"`
}

// OverviewOutput is the generated project summary.
type OverviewOutput struct {
	ProjectOverview string       `json:"project_overview"`
	OverviewQueries []string     `json:"overview_queries"`
	OverviewData    OverviewData `json:"overview_data"`
}

// overviewQueries returns the query set for a language, capped at the
// configured count.
func overviewQueries(language string, count int) []string {
	queries := englishOverviewQueries
	if language == search.LanguageDanish {
		queries = danishOverviewQueries
	}
	if count > 0 && count < len(queries) {
		return queries[:count]
	}
	return queries
}

// generateOverview retrieves the corpus through the fixed query set and
// asks the chat model for a 2-4 paragraph project summary. When nothing
// clears the retrieval threshold the overview is a fixed localized
// notice instead of a chat call, so the stage output is never empty.
func (r *Runner) generateOverview(ctx context.Context, indexingRunID, language string, coll CollectionOutput) (OverviewOutput, pipeline.Outcome, error) {
	var out OverviewOutput
	out.OverviewQueries = overviewQueries(language, r.cfg.Wiki.OverviewQueryCount)

	batch, err := r.retriever.BatchSearch(ctx, out.OverviewQueries, search.Options{
		IndexingRunID: indexingRunID,
		Language:      language,
	})
	if err != nil {
		return out, pipeline.Outcome{}, err
	}

	out.OverviewData.QueryResults = make(map[string]int, len(out.OverviewQueries))
	for _, q := range out.OverviewQueries {
		out.OverviewData.QueryResults[q] = len(batch.PerQuery[q])
	}
	out.OverviewData.RetrievedChunks = len(batch.Union)

	if len(batch.Union) == 0 {
		out.ProjectOverview = noContentOverview(language)
		return out, pipeline.Outcome{
			Summary: map[string]any{
				"queries":          len(out.OverviewQueries),
				"retrieved_chunks": 0,
				"overview_words":   len(strings.Fields(out.ProjectOverview)),
			},
		}, nil
	}

	var docNames []string
	for _, d := range coll.Documents {
		docNames = append(docNames, d.Filename)
	}

	snippets := make([]string, 0, len(batch.Union))
	for _, res := range batch.Union {
		meta := res.Chunk.Metadata
		snippets = append(snippets, fmt.Sprintf("[%s, %d]\n%s",
			meta.SourceFilename, meta.PageNumber, res.Chunk.Content))
	}
	excerpts := llm.PackContext(snippets, overviewContextTokens, "\n\n")

	prompt := fmt.Sprintf(overviewPrompt(language), strings.Join(docNames, ", "), excerpts)
	text, err := r.chat.Chat(ctx, prompt, llm.ChatOptions{Model: r.chatModel()})
	if err != nil {
		return out, pipeline.Outcome{}, err
	}
	out.ProjectOverview = strings.TrimSpace(text)
	if out.ProjectOverview == "" {
		out.ProjectOverview = noContentOverview(language)
	}

	return out, pipeline.Outcome{
		Summary: map[string]any{
			"queries":          len(out.OverviewQueries),
			"retrieved_chunks": out.OverviewData.RetrievedChunks,
			"overview_words":   len(strings.Fields(out.ProjectOverview)),
		},
		Samples: map[string]any{
			"overview_opening": truncateRunes(out.ProjectOverview, 200),
		},
	}, nil
}
