package llm

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenCounterBasics(t *testing.T) {
	c := NewTokenCounter()

	assert.Equal(t, 0, c.Count(""))
	assert.Greater(t, c.Count("fundament"), 0)

	short := c.Count("kort tekst")
	long := c.Count(strings.Repeat("en længere tekst om betonkonstruktioner ", 20))
	assert.Greater(t, long, short)
}

func TestTruncateRespectsBudget(t *testing.T) {
	c := NewTokenCounter()
	text := strings.Repeat("armeringsjern og betondæk ", 50)

	assert.Equal(t, "", c.Truncate(text, 0))
	assert.Equal(t, text, c.Truncate(text, 1<<20))

	cut := c.Truncate(text, 10)
	assert.Less(t, len(cut), len(text))
	assert.LessOrEqual(t, c.Count(cut), 10)
}

func TestPackContextKeepsWholeSnippets(t *testing.T) {
	snippets := []string{
		"Fundamentet udføres i beton C30/37.",
		"Armering Y12 pr. 150 mm i begge retninger.",
		"Miljøklasse aggressiv jf. DS/EN 206.",
	}

	all := PackContext(snippets, 1<<20, "\n\n")
	assert.Equal(t, strings.Join(snippets, "\n\n"), all)

	one := PackContext(snippets, CountTokens(snippets[0]), "\n\n")
	assert.Equal(t, snippets[0], one)

	none := PackContext(snippets, 1, "\n\n")
	if none != "" {
		// A one-token budget can only ever hold a one-token snippet.
		assert.LessOrEqual(t, CountTokens(none), 1)
	}
}
