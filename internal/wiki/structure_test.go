package wiki

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jepras/ConstructionRAG-sub001/internal/config"
)

func TestNormalizePagesFillsIDsAndQueries(t *testing.T) {
	pages := normalizePages([]PagePlan{
		{Title: "Kloakarbejde"},
		{Title: "Tagarbejde", ID: "tag", Queries: []string{" tagspær ", ""}},
	}, 10, 4)

	require.Len(t, pages, 2)
	assert.Equal(t, "page-1", pages[0].ID)
	assert.Equal(t, []string{"Kloakarbejde"}, pages[0].Queries)
	assert.Equal(t, "tag", pages[1].ID)
	assert.Equal(t, []string{"tagspær"}, pages[1].Queries)
}

func TestNormalizePagesDropsUntitled(t *testing.T) {
	pages := normalizePages([]PagePlan{
		{Title: "  "},
		{Title: "Kloakarbejde"},
	}, 10, 4)
	require.Len(t, pages, 1)
	assert.Equal(t, "Kloakarbejde", pages[0].Title)
}

func TestNormalizePagesAppliesBudgets(t *testing.T) {
	in := []PagePlan{
		{Title: "A", Queries: []string{"q1", "q2", "q3"}},
		{Title: "B"},
		{Title: "C"},
	}
	pages := normalizePages(in, 2, 2)
	require.Len(t, pages, 2)
	assert.Equal(t, []string{"q1", "q2"}, pages[0].Queries)
}

func TestNormalizePagesDeduplicatesIDs(t *testing.T) {
	pages := normalizePages([]PagePlan{
		{Title: "A", ID: "side"},
		{Title: "B", ID: "side"},
	}, 10, 4)
	require.Len(t, pages, 2)
	assert.Equal(t, "side", pages[0].ID)
	assert.Equal(t, "side-2", pages[1].ID)
}

func TestEnsureOverviewPagePrepends(t *testing.T) {
	gen := config.WikiGenerationConfig{MaxPages: 10, QueriesPerPage: 2}
	queries := []string{"q1", "q2", "q3"}
	pages := ensureOverviewPage([]PagePlan{{ID: "kloak", Title: "Kloakarbejde"}}, "danish", queries, gen)

	require.Len(t, pages, 2)
	assert.Equal(t, "overview", pages[0].ID)
	assert.Equal(t, "Projektoversigt", pages[0].Title)
	assert.Equal(t, []string{"q1", "q2"}, pages[0].Queries)
	assert.Equal(t, 1.0, pages[0].RelevanceScore)
	assert.Equal(t, "Kloakarbejde", pages[1].Title)
}

func TestEnsureOverviewPageEvictsAtBudget(t *testing.T) {
	gen := config.WikiGenerationConfig{MaxPages: 2, QueriesPerPage: 4}
	pages := ensureOverviewPage([]PagePlan{
		{ID: "a", Title: "Kloakarbejde"},
		{ID: "b", Title: "Tagarbejde"},
	}, "english", []string{"q1"}, gen)

	require.Len(t, pages, 2)
	assert.Equal(t, "Project Overview", pages[0].Title)
	assert.Equal(t, "Kloakarbejde", pages[1].Title)
}

func TestEnsureOverviewPageRespectsExisting(t *testing.T) {
	gen := config.WikiGenerationConfig{MaxPages: 10, QueriesPerPage: 4}

	danish := []PagePlan{{ID: "o", Title: "Samlet projektoversigt"}}
	assert.Equal(t, danish, ensureOverviewPage(danish, "danish", nil, gen))

	english := []PagePlan{{ID: "o", Title: "Overview of the Works"}}
	assert.Equal(t, english, ensureOverviewPage(english, "english", nil, gen))
}
