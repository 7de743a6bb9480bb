package wiki

import (
	"context"
	"fmt"
	"strings"

	"github.com/jepras/ConstructionRAG-sub001/internal/config"
	"github.com/jepras/ConstructionRAG-sub001/internal/llm"
	"github.com/jepras/ConstructionRAG-sub001/internal/pipeline"
	"github.com/jepras/ConstructionRAG-sub001/internal/search"
)

// sectionHeadersInPrompt caps how many section headers the structure
// prompt lists.
const sectionHeadersInPrompt = 30

// PagePlan is one planned wiki page.
type PagePlan struct {
	ID             string   `json:"id"`
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	Queries        []string `json:"queries"`
	RelevanceScore float64  `json:"relevance_score"`
}

// StructureOutput is the planned wiki: a title, a description and the
// ordered page list.
type StructureOutput struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Pages       []PagePlan `json:"pages"`
}

// generateStructure asks the chat model to plan the wiki from the
// overview, the cluster summaries and the section header distribution.
// The response must be JSON; extraction runs through the fallback
// tiers before giving up. The plan is then normalized: page ids and
// queries filled in, budgets applied and an overview page guaranteed.
func (r *Runner) generateStructure(ctx context.Context, language string, coll CollectionOutput, overview OverviewOutput, clusters ClusteringOutput) (StructureOutput, pipeline.Outcome, error) {
	var out StructureOutput

	var clusterLines []string
	for _, cs := range clusters.ClusterSummaries {
		clusterLines = append(clusterLines, fmt.Sprintf("- %s (%d chunks)", cs.ClusterName, cs.ChunkCount))
	}
	clusterBlock := strings.Join(clusterLines, "\n")
	if clusterBlock == "" {
		clusterBlock = "-"
	}

	headerBlock := strings.Join(topSections(coll.SectionHeaders, sectionHeadersInPrompt), "\n")
	if headerBlock == "" {
		headerBlock = "-"
	}

	gen := r.cfg.Wiki.Generation
	prompt := fmt.Sprintf(structurePrompt(language),
		overview.ProjectOverview, clusterBlock, headerBlock, gen.MaxPages, gen.QueriesPerPage)

	raw, err := r.chat.Chat(ctx, prompt, llm.ChatOptions{
		Model:          r.chatModel(),
		ResponseFormat: "json_object",
	})
	if err != nil {
		return out, pipeline.Outcome{}, err
	}
	if err := llm.ExtractJSONInto(raw, &out); err != nil {
		return out, pipeline.Outcome{}, err
	}

	out.Pages = normalizePages(out.Pages, gen.MaxPages, gen.QueriesPerPage)
	out.Pages = ensureOverviewPage(out.Pages, language, overview.OverviewQueries, gen)
	if out.Title == "" {
		out.Title = wikiTitle(language)
	}

	titles := make([]string, len(out.Pages))
	for i, p := range out.Pages {
		titles[i] = p.Title
	}
	return out, pipeline.Outcome{
		Summary: map[string]any{
			"pages": len(out.Pages),
			"title": out.Title,
		},
		Samples: map[string]any{"page_titles": titles},
	}, nil
}

// normalizePages drops unusable entries and applies the generation
// budgets. Pages without a title are dropped; missing ids and queries
// are synthesized from the position and title.
func normalizePages(pages []PagePlan, maxPages, queriesPerPage int) []PagePlan {
	seen := make(map[string]bool)
	out := make([]PagePlan, 0, len(pages))
	for _, p := range pages {
		p.Title = strings.TrimSpace(p.Title)
		if p.Title == "" {
			continue
		}
		if p.ID = strings.TrimSpace(p.ID); p.ID == "" {
			p.ID = fmt.Sprintf("page-%d", len(out)+1)
		}
		for seen[p.ID] {
			p.ID += "-2"
		}
		seen[p.ID] = true

		var queries []string
		for _, q := range p.Queries {
			if q = strings.TrimSpace(q); q != "" {
				queries = append(queries, q)
			}
		}
		if len(queries) == 0 {
			queries = []string{p.Title}
		}
		if queriesPerPage > 0 && len(queries) > queriesPerPage {
			queries = queries[:queriesPerPage]
		}
		p.Queries = queries

		out = append(out, p)
		if maxPages > 0 && len(out) == maxPages {
			break
		}
	}
	return out
}

// ensureOverviewPage guarantees the wiki opens with an overview page.
// When no planned title contains "overview" or "oversigt" one is
// synthesized and prepended, evicting the last page if the budget is
// already full.
func ensureOverviewPage(pages []PagePlan, language string, overviewQueries []string, gen config.WikiGenerationConfig) []PagePlan {
	for _, p := range pages {
		title := strings.ToLower(p.Title)
		if strings.Contains(title, "overview") || strings.Contains(title, "oversigt") {
			return pages
		}
	}

	queries := overviewQueries
	if gen.QueriesPerPage > 0 && len(queries) > gen.QueriesPerPage {
		queries = queries[:gen.QueriesPerPage]
	}
	page := PagePlan{
		ID:             "overview",
		Title:          overviewPageTitle(language),
		Description:    overviewPageDescription(language),
		Queries:        append([]string(nil), queries...),
		RelevanceScore: 1.0,
	}

	pages = append([]PagePlan{page}, pages...)
	if gen.MaxPages > 0 && len(pages) > gen.MaxPages {
		pages = pages[:gen.MaxPages]
	}
	return pages
}

func wikiTitle(language string) string {
	if language == search.LanguageDanish {
		return "Projektwiki"
	}
	return "Project Wiki"
}

func overviewPageTitle(language string) string {
	if language == search.LanguageDanish {
		return "Projektoversigt"
	}
	return "Project Overview"
}

func overviewPageDescription(language string) string {
	if language == search.LanguageDanish {
		return "Overordnet beskrivelse af projektet, dets omfang og parter."
	}
	return "High-level description of the project, its scope and parties."
}
