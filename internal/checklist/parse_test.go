package checklist

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeParseSynthesizesNumbersAndNames(t *testing.T) {
	out := ParseOutput{
		Items: []ChecklistItem{
			{Name: " Kloak ", Description: " Fald "},
			{Description: "Kun en beskrivelse"},
			{Name: "", Description: ""},
		},
		Queries: []string{" kloak fald ", "", "kloak fald", "brandklasse"},
	}

	normalizeParse(&out)

	require.Len(t, out.Items, 2)
	assert.Equal(t, "1", out.Items[0].Number)
	assert.Equal(t, "Kloak", out.Items[0].Name)
	assert.Equal(t, "Fald", out.Items[0].Description)
	assert.Equal(t, "2", out.Items[1].Number)
	assert.Equal(t, "Kun en beskrivelse", out.Items[1].Name)

	assert.Equal(t, []string{"kloak fald", "brandklasse"}, out.Queries)
}

func TestNormalizeParseKeepsGivenNumbers(t *testing.T) {
	out := ParseOutput{
		Items:   []ChecklistItem{{Number: " 3.2 ", Name: "Tag"}},
		Queries: []string{"tagspær"},
	}

	normalizeParse(&out)

	require.Len(t, out.Items, 1)
	assert.Equal(t, "3.2", out.Items[0].Number)
}

func TestNormalizeParseFallsBackToNameQueries(t *testing.T) {
	out := ParseOutput{
		Items: []ChecklistItem{
			{Number: "1", Name: "Kloak"},
			{Number: "2", Name: "Brand"},
		},
	}

	normalizeParse(&out)

	assert.Equal(t, []string{"Kloak", "Brand"}, out.Queries)
}

func TestNormalizeParseCapsQueriesPerItem(t *testing.T) {
	out := ParseOutput{
		Items:   []ChecklistItem{{Number: "1", Name: "Kloak"}},
		Queries: []string{"a", "b", "c", "d", "e"},
	}

	normalizeParse(&out)

	assert.Equal(t, []string{"a", "b", "c"}, out.Queries)
}
